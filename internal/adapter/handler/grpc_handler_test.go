package handler

import (
	"context"
	"net"
	"testing"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"

	"github.com/volundmush/mudsnake/internal/core/domain"
	"github.com/volundmush/mudsnake/internal/core/service"
)

func newGRPCClient(t *testing.T) (*GRPCClient, *grpc.ClientConn, *service.InventoryService) {
	t.Helper()
	svc := newTestService(t)
	log, _ := test.NewNullLogger()

	lis := bufconn.Listen(1 << 20)
	s := grpc.NewServer()
	NewGRPCHandler(svc, log).Register(s)
	go func() { _ = s.Serve(lis) }()
	t.Cleanup(s.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return NewGRPCClient(conn), conn, svc
}

func TestGRPC_Execute(t *testing.T) {
	client, _, svc := newGRPCClient(t)
	ctx := context.Background()

	a, err := svc.SpawnActor(ctx, "humanoid", nil)
	require.NoError(t, err)

	resp, err := client.Execute(ctx, &TransactionRequest{
		Name:  "create",
		Actor: a.ID,
		Steps: []StepRequest{{Type: "create", Template: "sword", ToSlot: a.Slots["hand"]}},
	})
	require.NoError(t, err)
	require.True(t, resp.Success, resp.Message)
	require.Len(t, resp.Created, 1)

	resp, err = client.Execute(ctx, &TransactionRequest{
		Name:  "create",
		Actor: a.ID,
		Steps: []StepRequest{{Type: "create", Template: "sword", ToSlot: a.Slots["hand"]}},
	})
	require.NoError(t, err)
	assert.False(t, resp.Success)
	assert.Equal(t, domain.KindSlotConflict, resp.Kind)

	view, err := client.Inventory(ctx, &InventoryRequest{Actor: a.ID})
	require.NoError(t, err)
	assert.Equal(t, a.ID, view.Actor.ID)
	require.Len(t, view.Equipment, 2)
}

func TestGRPC_Errors(t *testing.T) {
	client, _, _ := newGRPCClient(t)
	ctx := context.Background()

	_, err := client.Execute(ctx, &TransactionRequest{Name: "nothing"})
	assert.Equal(t, codes.InvalidArgument, status.Code(err))

	_, err = client.Inventory(ctx, &InventoryRequest{Actor: "ghost"})
	assert.Equal(t, codes.NotFound, status.Code(err))
}

func TestGRPC_Health(t *testing.T) {
	_, conn, _ := newGRPCClient(t)
	resp, err := healthpb.NewHealthClient(conn).Check(context.Background(), &healthpb.HealthCheckRequest{Service: ServiceName})
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, resp.GetStatus())
}
