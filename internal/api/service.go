// Package api exposes the terminal daemon to UI clients over gRPC on the
// terminal's Unix socket. Messages are plain Go structs carried by a JSON
// codec; the service descriptor below plays the part of generated code.
package api

import (
	"context"

	"github.com/wtfpos/posd/internal/outbox"
	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "pos.v1.Terminal"

// TerminalServer is the server API for the terminal service.
type TerminalServer interface {
	Status(context.Context, *Empty) (*StatusResponse, error)
	CheckConnectivity(context.Context, *Empty) (*CheckResponse, error)

	ListProducts(context.Context, *ProductsRequest) (*ProductsResponse, error)
	ListCustomers(context.Context, *CustomersRequest) (*CustomersResponse, error)
	GetAddOns(context.Context, *AddOnsRequest) (*AddOnsResponse, error)
	RefreshCatalog(context.Context, *Empty) (*RefreshResponse, error)
	StalePrices(context.Context, *Empty) (*StalePricesResponse, error)

	ListPending(context.Context, *Empty) (*PendingListResponse, error)
	GetPending(context.Context, *LocalIDRequest) (*PendingOrder, error)
	QueueOrder(context.Context, *OrderRequest) (*QueueResponse, error)
	UpdatePending(context.Context, *UpdateRequest) (*Empty, error)
	RemovePending(context.Context, *LocalIDRequest) (*Empty, error)
	SyncNow(context.Context, *Empty) (*outbox.SyncResult, error)
	LockSync(context.Context, *LocalIDRequest) (*Empty, error)
	UnlockSync(context.Context, *LocalIDRequest) (*Empty, error)
	Checkout(context.Context, *OrderRequest) (*outbox.CheckoutResult, error)

	Login(context.Context, *LoginRequest) (*Empty, error)
	Logout(context.Context, *Empty) (*Empty, error)

	SaveDraft(context.Context, *Draft) (*Empty, error)
	LoadDraft(context.Context, *Empty) (*DraftResponse, error)
	ClearDraft(context.Context, *Empty) (*Empty, error)

	WatchEvents(*WatchRequest, EventStream) error
}

// EventStream is the server side of WatchEvents.
type EventStream interface {
	Send(*Event) error
	SendHeader(metadata.MD) error
	Context() context.Context
}

type eventStream struct {
	grpc.ServerStream
}

func (s *eventStream) Send(evt *Event) error {
	return s.ServerStream.SendMsg(evt)
}

func fullMethod(name string) string {
	return "/" + ServiceName + "/" + name
}

// unary builds the descriptor of a request/response method from a method
// expression on TerminalServer.
func unary[Req, Resp any](name string, call func(TerminalServer, context.Context, *Req) (*Resp, error)) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(Req)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(TerminalServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod(name)}
			handler := func(ctx context.Context, req any) (any, error) {
				return call(srv.(TerminalServer), ctx, req.(*Req))
			}
			return interceptor(ctx, in, info, handler)
		},
	}
}

func watchEventsHandler(srv any, stream grpc.ServerStream) error {
	in := new(WatchRequest)
	if err := stream.RecvMsg(in); err != nil {
		return err
	}
	return srv.(TerminalServer).WatchEvents(in, &eventStream{stream})
}

// ServiceDesc describes the terminal service to grpc.Server.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*TerminalServer)(nil),
	Methods: []grpc.MethodDesc{
		unary("Status", TerminalServer.Status),
		unary("CheckConnectivity", TerminalServer.CheckConnectivity),
		unary("ListProducts", TerminalServer.ListProducts),
		unary("ListCustomers", TerminalServer.ListCustomers),
		unary("GetAddOns", TerminalServer.GetAddOns),
		unary("RefreshCatalog", TerminalServer.RefreshCatalog),
		unary("StalePrices", TerminalServer.StalePrices),
		unary("ListPending", TerminalServer.ListPending),
		unary("GetPending", TerminalServer.GetPending),
		unary("QueueOrder", TerminalServer.QueueOrder),
		unary("UpdatePending", TerminalServer.UpdatePending),
		unary("RemovePending", TerminalServer.RemovePending),
		unary("SyncNow", TerminalServer.SyncNow),
		unary("LockSync", TerminalServer.LockSync),
		unary("UnlockSync", TerminalServer.UnlockSync),
		unary("Checkout", TerminalServer.Checkout),
		unary("Login", TerminalServer.Login),
		unary("Logout", TerminalServer.Logout),
		unary("SaveDraft", TerminalServer.SaveDraft),
		unary("LoadDraft", TerminalServer.LoadDraft),
		unary("ClearDraft", TerminalServer.ClearDraft),
	},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "WatchEvents",
			Handler:       watchEventsHandler,
			ServerStreams: true,
		},
	},
	Metadata: "pos/v1/terminal",
}

// RegisterTerminalServer registers srv on s.
func RegisterTerminalServer(s grpc.ServiceRegistrar, srv TerminalServer) {
	s.RegisterService(&ServiceDesc, srv)
}
