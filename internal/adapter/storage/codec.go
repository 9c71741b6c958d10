package storage

import (
	"fmt"

	"github.com/goccy/go-json"

	"github.com/volundmush/mudsnake/internal/core/domain"
)

// encodeEntity returns the kind column and JSON body of e. The version is
// kept beside the body by every store, never inside it.
func encodeEntity(e domain.Entity) (string, []byte, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return "", nil, fmt.Errorf("encode %s %s: %w", e.EntityKind(), e.EntityID(), err)
	}
	return string(e.EntityKind()), data, nil
}

func decodeEntity(kind string, data []byte, version uint64) (domain.Entity, error) {
	var (
		e   domain.Entity
		err error
	)
	switch domain.EntityKind(kind) {
	case domain.KindActor:
		var v domain.Actor
		err = json.Unmarshal(data, &v)
		e = v
	case domain.KindContainer:
		var v domain.Container
		err = json.Unmarshal(data, &v)
		e = v
	case domain.KindSlot:
		var v domain.Slot
		err = json.Unmarshal(data, &v)
		e = v
	case domain.KindItem:
		var v domain.Item
		err = json.Unmarshal(data, &v)
		e = v
	default:
		return nil, fmt.Errorf("decode: unknown entity kind %q", kind)
	}
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", kind, err)
	}
	return e.WithVersion(version), nil
}
