package handler

import (
	"context"
	"errors"

	"github.com/goccy/go-json"
	"github.com/sirupsen/logrus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/encoding"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"

	"github.com/volundmush/mudsnake/internal/core/domain"
	"github.com/volundmush/mudsnake/internal/core/service"
)

const (
	ServiceName = "mudsnake.inventory.v1.InventoryService"

	// CodecName is the content subtype clients select with
	// grpc.CallContentSubtype.
	CodecName = "json"
)

func init() {
	encoding.RegisterCodec(jsonCodec{})
}

// jsonCodec carries the handler DTOs as JSON over gRPC.
type jsonCodec struct{}

func (jsonCodec) Marshal(v any) ([]byte, error)      { return json.Marshal(v) }
func (jsonCodec) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }
func (jsonCodec) Name() string                       { return CodecName }

// InventoryServer is the gRPC surface of the engine.
type InventoryServer interface {
	Execute(ctx context.Context, req *TransactionRequest) (*TransactionResponse, error)
	Inventory(ctx context.Context, req *InventoryRequest) (*service.InventoryView, error)
}

var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*InventoryServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Execute", Handler: executeHandler},
		{MethodName: "Inventory", Handler: inventoryHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "mudsnake/inventory/v1/inventory.proto",
}

func executeHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(TransactionRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(InventoryServer).Execute(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + ServiceName + "/Execute"}
	return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
		return srv.(InventoryServer).Execute(ctx, req.(*TransactionRequest))
	})
}

func inventoryHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(InventoryRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(InventoryServer).Inventory(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + ServiceName + "/Inventory"}
	return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
		return srv.(InventoryServer).Inventory(ctx, req.(*InventoryRequest))
	})
}

type GRPCHandler struct {
	svc *service.InventoryService
	log logrus.FieldLogger
}

func NewGRPCHandler(svc *service.InventoryService, log logrus.FieldLogger) *GRPCHandler {
	return &GRPCHandler{svc: svc, log: log}
}

// Register adds the inventory and health services to s.
func (h *GRPCHandler) Register(s *grpc.Server) *health.Server {
	s.RegisterService(&ServiceDesc, h)
	hs := health.NewServer()
	hs.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(s, hs)
	return hs
}

// Execute answers rejected transactions with a normal response carrying the
// kind; only malformed requests become gRPC errors.
func (h *GRPCHandler) Execute(ctx context.Context, req *TransactionRequest) (*TransactionResponse, error) {
	tx, err := req.Transaction()
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	res, err := h.svc.Submit(ctx, tx)
	if err != nil {
		resp := errorResponse(res.TxID, err)
		return &resp, nil
	}
	resp := resultResponse(res)
	return &resp, nil
}

func (h *GRPCHandler) Inventory(ctx context.Context, req *InventoryRequest) (*service.InventoryView, error) {
	view, err := h.svc.Inventory(ctx, req.Actor)
	if err != nil {
		return nil, grpcError(err)
	}
	return &view, nil
}

func grpcError(err error) error {
	if errors.Is(err, errBadRequest) {
		return status.Error(codes.InvalidArgument, err.Error())
	}
	return status.Error(domain.KindOf(err).GRPCCode(), err.Error())
}

// GRPCClient calls a remote InventoryServer.
type GRPCClient struct {
	conn grpc.ClientConnInterface
}

func NewGRPCClient(conn grpc.ClientConnInterface) *GRPCClient {
	return &GRPCClient{conn: conn}
}

func (c *GRPCClient) Execute(ctx context.Context, req *TransactionRequest) (*TransactionResponse, error) {
	out := new(TransactionResponse)
	if err := c.conn.Invoke(ctx, "/"+ServiceName+"/Execute", req, out, grpc.CallContentSubtype(CodecName)); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *GRPCClient) Inventory(ctx context.Context, req *InventoryRequest) (*service.InventoryView, error) {
	out := new(service.InventoryView)
	if err := c.conn.Invoke(ctx, "/"+ServiceName+"/Inventory", req, out, grpc.CallContentSubtype(CodecName)); err != nil {
		return nil, err
	}
	return out, nil
}
