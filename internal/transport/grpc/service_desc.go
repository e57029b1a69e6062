package grpc

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

const ServiceName = "familyhub.sync.v1.CalendarSyncService"

// CalendarSyncServiceServer is the server API for CalendarSyncService.
// Messages are google.protobuf.Struct values; field names are snake_case.
type CalendarSyncServiceServer interface {
	SyncConnection(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	RunDueSyncs(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	GetAuthorizationUrl(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	CompleteOAuth(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	ValidateIcsFeed(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	CreateIcsConnection(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	CreateOAuthConnection(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	PauseConnection(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	ResumeConnection(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	DisconnectConnection(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	ListConnections(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	ListConnectionsInError(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
}

type unaryMethod func(srv CalendarSyncServiceServer, ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)

func methodHandler(name string, call unaryMethod) grpc.MethodDesc {
	fullMethod := "/" + ServiceName + "/" + name
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(structpb.Struct)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(CalendarSyncServiceServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
			handler := func(ctx context.Context, req any) (any, error) {
				return call(srv.(CalendarSyncServiceServer), ctx, req.(*structpb.Struct))
			}
			return interceptor(ctx, in, info, handler)
		},
	}
}

var CalendarSyncServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*CalendarSyncServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		methodHandler("SyncConnection", CalendarSyncServiceServer.SyncConnection),
		methodHandler("RunDueSyncs", CalendarSyncServiceServer.RunDueSyncs),
		methodHandler("GetAuthorizationUrl", CalendarSyncServiceServer.GetAuthorizationUrl),
		methodHandler("CompleteOAuth", CalendarSyncServiceServer.CompleteOAuth),
		methodHandler("ValidateIcsFeed", CalendarSyncServiceServer.ValidateIcsFeed),
		methodHandler("CreateIcsConnection", CalendarSyncServiceServer.CreateIcsConnection),
		methodHandler("CreateOAuthConnection", CalendarSyncServiceServer.CreateOAuthConnection),
		methodHandler("PauseConnection", CalendarSyncServiceServer.PauseConnection),
		methodHandler("ResumeConnection", CalendarSyncServiceServer.ResumeConnection),
		methodHandler("DisconnectConnection", CalendarSyncServiceServer.DisconnectConnection),
		methodHandler("ListConnections", CalendarSyncServiceServer.ListConnections),
		methodHandler("ListConnectionsInError", CalendarSyncServiceServer.ListConnectionsInError),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "familyhub/sync/v1/calendar_sync.proto",
}

func RegisterCalendarSyncServiceServer(s grpc.ServiceRegistrar, srv CalendarSyncServiceServer) {
	s.RegisterService(&CalendarSyncServiceDesc, srv)
}
