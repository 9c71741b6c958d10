package service

import (
	"context"

	"github.com/volundmush/mudsnake/internal/core/domain"
	"github.com/volundmush/mudsnake/internal/core/schema"
)

const maxNesting = 64

// Load is the occupancy of one container: its direct entries and their
// carried weight, including whatever is packed inside bags.
type Load struct {
	Count  int           `json:"count"`
	Weight domain.Weight `json:"weight"`
}

func (s *InventoryService) template(it domain.Item) (schema.ItemTemplate, error) {
	t, ok := s.registry.Template(it.Template)
	if !ok {
		return schema.ItemTemplate{}, domain.NewError(domain.KindNotFound, "template", it.ID, "unknown template %q", it.Template)
	}
	return t, nil
}

// carried is the weight an item adds to whatever holds it.
func (s *InventoryService) carried(ctx context.Context, r reader, it domain.Item, depth int) (domain.Weight, error) {
	if depth > maxNesting {
		return 0, domain.NewError(domain.KindCycleDetected, "weigh", it.ID, "nesting deeper than %d", maxNesting)
	}
	t, err := s.template(it)
	if err != nil {
		return 0, err
	}
	w := t.Weight.Times(it.Count)
	if it.Inner != "" {
		inner, err := s.load(ctx, r, it.Inner, depth+1)
		if err != nil {
			return 0, err
		}
		w += inner.Weight
	}
	return w, nil
}

func (s *InventoryService) load(ctx context.Context, r reader, containerID domain.ID, depth int) (Load, error) {
	c, err := get[domain.Container](ctx, r, containerID)
	if err != nil {
		return Load{}, err
	}
	l := Load{Count: len(c.Contents)}
	for _, id := range c.Contents {
		it, err := get[domain.Item](ctx, r, id)
		if err != nil {
			return Load{}, err
		}
		w, err := s.carried(ctx, r, it, depth+1)
		if err != nil {
			return Load{}, err
		}
		l.Weight += w
	}
	return l, nil
}

// chain walks from a container up through the bags holding it. It returns
// every container on the way, the start first, and the bag items between
// them. The walk stops at an actor, an equip slot or an unowned container.
func chain(ctx context.Context, r reader, containerID domain.ID) ([]domain.Container, []domain.ID, error) {
	var containers []domain.Container
	var bags []domain.ID
	cur := containerID
	for depth := 0; depth < maxNesting; depth++ {
		c, err := get[domain.Container](ctx, r, cur)
		if err != nil {
			return nil, nil, err
		}
		containers = append(containers, c)
		if c.Owner.Kind != domain.KindItem {
			return containers, bags, nil
		}
		bag, err := get[domain.Item](ctx, r, c.Owner.ID)
		if err != nil {
			return nil, nil, err
		}
		for _, seen := range bags {
			if seen == bag.ID {
				return nil, nil, domain.NewError(domain.KindCycleDetected, "chain", containerID, "bag %s holds itself", bag.ID)
			}
		}
		bags = append(bags, bag.ID)
		if bag.Container == "" {
			return containers, bags, nil
		}
		cur = bag.Container
	}
	return nil, nil, domain.NewError(domain.KindCycleDetected, "chain", containerID, "nesting deeper than %d", maxNesting)
}

// checkCycle fails when putting item into dest would place it inside itself.
func checkCycle(ctx context.Context, r reader, item domain.ID, dest domain.ID) error {
	_, bags, err := chain(ctx, r, dest)
	if err != nil {
		return err
	}
	for _, bag := range bags {
		if bag == item {
			return domain.NewError(domain.KindCycleDetected, "move", item, "container %s is inside the item", dest)
		}
	}
	return nil
}

// checkCapacity verifies dest and every container above it.
func (s *InventoryService) checkCapacity(ctx context.Context, r reader, dest domain.ID) error {
	containers, _, err := chain(ctx, r, dest)
	if err != nil {
		return err
	}
	for _, c := range containers {
		l, err := s.load(ctx, r, c.ID, 0)
		if err != nil {
			return err
		}
		if !c.Capacity.Allows(l.Count, l.Weight) {
			return domain.NewError(domain.KindCapacityExceeded, "capacity", c.ID,
				"would hold %d entries weighing %s (limit %d, %s)", l.Count, l.Weight, c.Capacity.MaxCount, c.Capacity.MaxWeight)
		}
	}
	return nil
}

// checkRoom fails early when adding entries entries weighing weight to dest
// would overflow dest or a container above it.
func (s *InventoryService) checkRoom(ctx context.Context, r reader, dest domain.ID, entries int, weight domain.Weight) error {
	containers, _, err := chain(ctx, r, dest)
	if err != nil {
		return err
	}
	for i, c := range containers {
		l, err := s.load(ctx, r, c.ID, 0)
		if err != nil {
			return err
		}
		if i == 0 {
			l.Count += entries
		}
		l.Weight += weight
		if !c.Capacity.Allows(l.Count, l.Weight) {
			return domain.NewError(domain.KindCapacityExceeded, "capacity", c.ID,
				"would hold %d entries weighing %s (limit %d, %s)", l.Count, l.Weight, c.Capacity.MaxCount, c.Capacity.MaxWeight)
		}
	}
	return nil
}
