package rpc

import (
	"context"

	"google.golang.org/grpc"

	"github.com/dreamware/flashsync/internal/cluster"
)

// ServiceName is the fully qualified name of the Sync service.
const ServiceName = "flashsync.Sync"

const (
	barrierMethod   = "/" + ServiceName + "/Barrier"
	broadcastMethod = "/" + ServiceName + "/Broadcast"
	exchangeMethod  = "/" + ServiceName + "/Exchange"
)

// SyncServer is the server side of the Sync service.
type SyncServer interface {
	Barrier(context.Context, *cluster.BarrierRequest) (*cluster.BarrierResponse, error)
	Broadcast(context.Context, *cluster.BroadcastRequest) (*cluster.BroadcastResponse, error)
	Exchange(context.Context, *cluster.ExchangeRequest) (*cluster.ExchangeResponse, error)
}

// RegisterSyncServer registers srv on s.
func RegisterSyncServer(s grpc.ServiceRegistrar, srv SyncServer) {
	s.RegisterService(&syncServiceDesc, srv)
}

var syncServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*SyncServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Barrier", Handler: barrierHandler},
		{MethodName: "Broadcast", Handler: broadcastHandler},
		{MethodName: "Exchange", Handler: exchangeHandler},
	},
	Metadata: "flashsync/sync",
}

func barrierHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(cluster.BarrierRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(SyncServer).Barrier(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: barrierMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(SyncServer).Barrier(ctx, req.(*cluster.BarrierRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func broadcastHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(cluster.BroadcastRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(SyncServer).Broadcast(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: broadcastMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(SyncServer).Broadcast(ctx, req.(*cluster.BroadcastRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func exchangeHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(cluster.ExchangeRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(SyncServer).Exchange(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: exchangeMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(SyncServer).Exchange(ctx, req.(*cluster.ExchangeRequest))
	}
	return interceptor(ctx, in, info, handler)
}
