package handler

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/goccy/go-json"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/volundmush/mudsnake/internal/adapter/storage"
	"github.com/volundmush/mudsnake/internal/core/domain"
	"github.com/volundmush/mudsnake/internal/core/schema"
	"github.com/volundmush/mudsnake/internal/core/service"
)

func newTestService(t *testing.T) *service.InventoryService {
	t.Helper()
	b := schema.NewBuilder()
	require.NoError(t, b.DefineSlotType("head", schema.AcceptTypes("Helmet")))
	require.NoError(t, b.DefineSlotType("hand", schema.AcceptTypes("Weapon")))
	require.NoError(t, b.DefineActorSchema("humanoid", []domain.SlotTag{"head", "hand"}, nil))
	require.NoError(t, b.SetRootCapacity("humanoid", domain.Capacity{MaxCount: 2}))
	require.NoError(t, b.DefineItemTemplate(schema.ItemTemplate{ID: "helm", Type: "Helmet", Weight: 2000}))
	require.NoError(t, b.DefineItemTemplate(schema.ItemTemplate{ID: "sword", Type: "Weapon", Weight: 1500}))
	reg, err := b.Build()
	require.NoError(t, err)

	log, _ := test.NewNullLogger()
	svc := service.NewInventoryService(service.Deps{
		Registry: reg,
		Store:    storage.NewMemoryStore(),
		Logger:   log,
	})
	t.Cleanup(svc.Close)
	return svc
}

func newTestRouter(t *testing.T) (*gin.Engine, *service.InventoryService) {
	gin.SetMode(gin.TestMode)
	svc := newTestService(t)
	log, _ := test.NewNullLogger()
	return NewRouter(NewHTTPHandler(svc, log), nil), svc
}

func doJSON(t *testing.T, r http.Handler, method, path string, body any, out any) int {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if out != nil {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), out), w.Body.String())
	}
	return w.Code
}

func TestHTTP_EquipFlow(t *testing.T) {
	r, _ := newTestRouter(t)

	var actor domain.Actor
	code := doJSON(t, r, http.MethodPost, "/api/actors", SpawnActorRequest{Template: "humanoid"}, &actor)
	require.Equal(t, http.StatusCreated, code)
	require.NotEmpty(t, actor.RootContainer)

	var created TransactionResponse
	code = doJSON(t, r, http.MethodPost, "/api/transactions", TransactionRequest{
		Name:  "create",
		Actor: actor.ID,
		Steps: []StepRequest{{Type: "create", Template: "helm", ToContainer: actor.RootContainer}},
	}, &created)
	require.Equal(t, http.StatusOK, code)
	require.True(t, created.Success)
	require.Len(t, created.Created, 1)
	helm := created.Created[0]

	var equipped TransactionResponse
	code = doJSON(t, r, http.MethodPost, "/api/transactions", TransactionRequest{
		Name:  "equip",
		Actor: actor.ID,
		Steps: []StepRequest{{Type: "move_to_slot", Item: helm, Slot: actor.Slots["head"]}},
	}, &equipped)
	require.Equal(t, http.StatusOK, code)
	require.Len(t, equipped.Events, 1)
	assert.Equal(t, domain.EventItemEquipped, equipped.Events[0].Type)
	assert.False(t, equipped.Events[0].ID.IsZero())

	var rejected TransactionResponse
	code = doJSON(t, r, http.MethodPost, "/api/transactions", TransactionRequest{
		Name:  "equip",
		Actor: actor.ID,
		Steps: []StepRequest{{Type: "move_to_slot", Item: helm, Slot: actor.Slots["hand"]}},
	}, &rejected)
	assert.Equal(t, http.StatusConflict, code)
	assert.False(t, rejected.Success)
	assert.Equal(t, domain.KindSlotConflict, rejected.Kind)

	var inv service.InventoryView
	code = doJSON(t, r, http.MethodGet, "/api/actors/"+string(actor.ID)+"/inventory", nil, &inv)
	require.Equal(t, http.StatusOK, code)
	for _, sv := range inv.Equipment {
		if sv.Slot.Tag == "head" {
			require.NotNil(t, sv.Item)
			assert.Equal(t, helm, sv.Item.ID)
		}
	}
	assert.Empty(t, inv.Root.Items)
}

func TestHTTP_ErrorStatuses(t *testing.T) {
	r, _ := newTestRouter(t)

	var pile domain.Container
	code := doJSON(t, r, http.MethodPost, "/api/containers", CreateContainerRequest{Capacity: domain.Capacity{MaxCount: 1}}, &pile)
	require.Equal(t, http.StatusCreated, code)

	create := TransactionRequest{Name: "create", Steps: []StepRequest{{Type: "create", Template: "sword", ToContainer: pile.ID}}}
	code = doJSON(t, r, http.MethodPost, "/api/transactions", create, nil)
	require.Equal(t, http.StatusOK, code)

	var resp TransactionResponse
	code = doJSON(t, r, http.MethodPost, "/api/transactions", create, &resp)
	assert.Equal(t, http.StatusUnprocessableEntity, code)
	assert.Equal(t, domain.KindCapacityExceeded, resp.Kind)
	assert.NotEmpty(t, resp.TxID)

	code = doJSON(t, r, http.MethodPost, "/api/transactions", TransactionRequest{Name: "empty"}, nil)
	assert.Equal(t, http.StatusBadRequest, code)

	code = doJSON(t, r, http.MethodPost, "/api/transactions", TransactionRequest{Name: "bad", Steps: []StepRequest{{Type: "teleport"}}}, nil)
	assert.Equal(t, http.StatusBadRequest, code)

	code = doJSON(t, r, http.MethodGet, "/api/containers/nope", nil, nil)
	assert.Equal(t, http.StatusNotFound, code)

	code = doJSON(t, r, http.MethodPost, "/api/actors", SpawnActorRequest{Template: "dragon"}, nil)
	assert.Equal(t, http.StatusNotFound, code)

	var view service.ContainerView
	code = doJSON(t, r, http.MethodGet, "/api/containers/"+string(pile.ID), nil, &view)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, 1, view.Load.Count)
	assert.Equal(t, domain.Weight(1500), view.Load.Weight)
}

func TestHTTP_HealthCheck(t *testing.T) {
	r, _ := newTestRouter(t)
	var body map[string]string
	code := doJSON(t, r, http.MethodGet, "/health", nil, &body)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "ok", body["status"])
}

func TestTransactionRequest_Steps(t *testing.T) {
	idx := 0
	req := TransactionRequest{
		RequestID: "r-1",
		Steps: []StepRequest{
			{Type: "move_to_container", Item: "i", To: "c", Index: &idx, Count: 2},
			{Type: "move_to_slot", Item: "i", Slot: "s"},
			{Type: "unequip", Slot: "s"},
			{Type: "create", Template: "sword", ToSlot: "s"},
			{Type: "destroy", Item: "i"},
		},
		Policy: PolicyRequest{AutoUnequip: true, LockTimeoutMS: 250},
	}
	tx, err := req.Transaction()
	require.NoError(t, err)
	require.Len(t, tx.Steps, 5)
	assert.Equal(t, service.MoveItemToContainer{Item: "i", To: "c", Index: &idx, Count: 2}, tx.Steps[0])
	assert.IsType(t, service.DestroyItem{}, tx.Steps[4])
	assert.True(t, tx.Policy.AutoUnequipConflicts)
	assert.EqualValues(t, 250_000_000, tx.Policy.LockTimeout)

	_, err = TransactionRequest{Steps: []StepRequest{{Type: "move_to_slot", Item: "i"}}}.Transaction()
	assert.ErrorIs(t, err, errBadRequest)

	for _, count := range []int{-1, service.MaxCreateCount + 1, 50_000} {
		_, err = TransactionRequest{Steps: []StepRequest{{Type: "create", Template: "arrow", Count: count, ToContainer: "c"}}}.Transaction()
		assert.ErrorIs(t, err, errBadRequest, "count %d", count)
	}
	_, err = TransactionRequest{Steps: []StepRequest{{Type: "create", Template: "arrow", Count: service.MaxCreateCount, ToContainer: "c"}}}.Transaction()
	assert.NoError(t, err)
}

func TestStatusFor(t *testing.T) {
	assert.Equal(t, http.StatusServiceUnavailable, statusFor(domain.NewError(domain.KindLockTimeout, "x", "", "slow")))
	assert.Equal(t, http.StatusInternalServerError, statusFor(context.DeadlineExceeded))
	assert.Equal(t, http.StatusBadRequest, statusFor(errBadRequest))
}
