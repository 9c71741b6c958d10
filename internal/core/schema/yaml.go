package schema

import (
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/volundmush/mudsnake/internal/core/domain"
)

const acceptAnyToken = "*"

type fileSchema struct {
	SlotTypes []struct {
		Tag     domain.SlotTag    `yaml:"tag"`
		Accepts []domain.ItemType `yaml:"accepts"`
	} `yaml:"slot_types"`
	ActorSchemas []struct {
		Template     string             `yaml:"template"`
		Slots        []domain.SlotTag   `yaml:"slots"`
		Groups       []ExclusivityGroup `yaml:"groups"`
		RootCapacity domain.Capacity    `yaml:"root_capacity"`
	} `yaml:"actor_schemas"`
	ItemTemplates []struct {
		ID            string           `yaml:"id"`
		Type          domain.ItemType  `yaml:"type"`
		Weight        domain.Weight    `yaml:"weight"`
		MaxStack      int              `yaml:"max_stack"`
		SpanGroup     string           `yaml:"span_group"`
		InnerCapacity *domain.Capacity `yaml:"inner_capacity"`
	} `yaml:"item_templates"`
}

// LoadFile reads a YAML schema source from path.
func LoadFile(path string) (*Registry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open schema: %w", err)
	}
	defer f.Close()
	return LoadYAML(f)
}

// LoadYAML builds a Registry from a declarative YAML definition. An accepts
// list containing "*" accepts every item type.
func LoadYAML(r io.Reader) (*Registry, error) {
	var doc fileSchema
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil && err != io.EOF {
		return nil, fmt.Errorf("decode schema: %w", err)
	}

	b := NewBuilder()
	for _, st := range doc.SlotTypes {
		pred := AcceptTypes(st.Accepts...)
		for _, t := range st.Accepts {
			if t == acceptAnyToken {
				pred = AcceptAny()
				break
			}
		}
		if err := b.DefineSlotType(st.Tag, pred); err != nil {
			return nil, err
		}
	}
	for _, a := range doc.ActorSchemas {
		if err := b.DefineActorSchema(a.Template, a.Slots, a.Groups); err != nil {
			return nil, err
		}
		if err := b.SetRootCapacity(a.Template, a.RootCapacity); err != nil {
			return nil, err
		}
	}
	for _, it := range doc.ItemTemplates {
		if err := b.DefineItemTemplate(ItemTemplate{
			ID:        it.ID,
			Type:      it.Type,
			Weight:    it.Weight,
			MaxStack:  it.MaxStack,
			SpanGroup: it.SpanGroup,
			Inner:     it.InnerCapacity,
		}); err != nil {
			return nil, err
		}
	}
	return b.Build()
}
