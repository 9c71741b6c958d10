package domain

import "fmt"

// Weight is measured in whole grams so capacity arithmetic never drifts.
type Weight int64

const (
	Gram     Weight = 1
	Kilogram Weight = 1000
)

func (w Weight) String() string {
	if w%Kilogram == 0 {
		return fmt.Sprintf("%dkg", int64(w/Kilogram))
	}
	return fmt.Sprintf("%dg", int64(w))
}

// Times returns the weight of n units.
func (w Weight) Times(n int) Weight {
	return w * Weight(n)
}
