package handler

import (
	"errors"
	"fmt"
	"time"

	"github.com/volundmush/mudsnake/internal/core/domain"
	"github.com/volundmush/mudsnake/internal/core/service"
)

// StepRequest is the wire form of one transaction step. Type selects which
// of the other fields apply.
type StepRequest struct {
	Type        string        `json:"type"`
	Item        domain.ID     `json:"item,omitempty"`
	From        domain.Parent `json:"from,omitempty"`
	To          domain.ID     `json:"to,omitempty"`
	Index       *int          `json:"index,omitempty"`
	Count       int           `json:"count,omitempty"`
	Slot        domain.ID     `json:"slot,omitempty"`
	Template    string        `json:"template,omitempty"`
	ToContainer domain.ID     `json:"to_container,omitempty"`
	ToSlot      domain.ID     `json:"to_slot,omitempty"`
}

type PolicyRequest struct {
	AutoUnequip   bool      `json:"auto_unequip,omitempty"`
	UnequipTo     domain.ID `json:"unequip_to,omitempty"`
	LockTimeoutMS int       `json:"lock_timeout_ms,omitempty"`
}

type TransactionRequest struct {
	RequestID string        `json:"request_id,omitempty"`
	Name      string        `json:"name"`
	Actor     domain.ID     `json:"actor,omitempty"`
	Touches   []domain.ID   `json:"touches,omitempty"`
	Steps     []StepRequest `json:"steps"`
	Policy    PolicyRequest `json:"policy"`
}

type TransactionResponse struct {
	Success bool           `json:"success"`
	Message string         `json:"message,omitempty"`
	Kind    domain.Kind    `json:"kind,omitempty"`
	TxID    domain.ID      `json:"tx_id,omitempty"`
	Created []domain.ID    `json:"created,omitempty"`
	Events  []domain.Event `json:"events,omitempty"`
}

type SpawnActorRequest struct {
	Template string           `json:"template"`
	Capacity *domain.Capacity `json:"capacity,omitempty"`
}

type CreateContainerRequest struct {
	Owner    domain.Parent   `json:"owner"`
	Capacity domain.Capacity `json:"capacity"`
}

type InventoryRequest struct {
	Actor domain.ID `json:"actor"`
}

var errBadRequest = errors.New("bad request")

// Transaction converts the request into an engine transaction.
func (r TransactionRequest) Transaction() (service.Transaction, error) {
	if len(r.Steps) == 0 {
		return service.Transaction{}, fmt.Errorf("%w: no steps", errBadRequest)
	}
	tx := service.Transaction{
		RequestID: r.RequestID,
		Name:      r.Name,
		Actor:     r.Actor,
		Touches:   r.Touches,
		Steps:     make([]service.Step, 0, len(r.Steps)),
		Policy: service.Policy{
			AutoUnequipConflicts: r.Policy.AutoUnequip,
			UnequipTo:            r.Policy.UnequipTo,
			LockTimeout:          time.Duration(r.Policy.LockTimeoutMS) * time.Millisecond,
		},
	}
	for i, s := range r.Steps {
		step, err := s.step()
		if err != nil {
			return service.Transaction{}, fmt.Errorf("step %d: %w", i, err)
		}
		tx.Steps = append(tx.Steps, step)
	}
	return tx, nil
}

func (s StepRequest) step() (service.Step, error) {
	switch s.Type {
	case "move_to_container":
		if s.Item == "" || s.To == "" {
			return nil, fmt.Errorf("%w: item and to are required", errBadRequest)
		}
		return service.MoveItemToContainer{Item: s.Item, From: s.From, To: s.To, Index: s.Index, Count: s.Count}, nil
	case "move_to_slot":
		if s.Item == "" || s.Slot == "" {
			return nil, fmt.Errorf("%w: item and slot are required", errBadRequest)
		}
		return service.MoveItemToSlot{Item: s.Item, From: s.From, Slot: s.Slot}, nil
	case "unequip":
		if s.Slot == "" {
			return nil, fmt.Errorf("%w: slot is required", errBadRequest)
		}
		return service.UnequipToContainer{Slot: s.Slot, To: s.To}, nil
	case "create":
		if s.Template == "" {
			return nil, fmt.Errorf("%w: template is required", errBadRequest)
		}
		if s.Count < 0 || s.Count > service.MaxCreateCount {
			return nil, fmt.Errorf("%w: count must be between 0 and %d", errBadRequest, service.MaxCreateCount)
		}
		return service.CreateItem{Template: s.Template, Count: s.Count, ToContainer: s.ToContainer, ToSlot: s.ToSlot}, nil
	case "destroy":
		if s.Item == "" {
			return nil, fmt.Errorf("%w: item is required", errBadRequest)
		}
		return service.DestroyItem{Item: s.Item, From: s.From}, nil
	default:
		return nil, fmt.Errorf("%w: unknown step type %q", errBadRequest, s.Type)
	}
}

func resultResponse(res service.Result) TransactionResponse {
	return TransactionResponse{Success: true, TxID: res.TxID, Created: res.Created, Events: res.Events}
}

func errorResponse(txID domain.ID, err error) TransactionResponse {
	return TransactionResponse{Success: false, Message: err.Error(), Kind: domain.KindOf(err), TxID: txID}
}
