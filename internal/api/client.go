package api

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/wtfpos/posd/internal/outbox"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// Client talks to a terminal daemon over its Unix socket.
type Client struct {
	conn   *grpc.ClientConn
	health healthpb.HealthClient
}

// Dial connects to the daemon socket. The connection is lazy; the first call
// reports an unreachable daemon.
func Dial(socketPath string) (*Client, error) {
	conn, err := grpc.NewClient(
		"unix://"+socketPath,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		return nil, fmt.Errorf("dial daemon: %w", err)
	}
	return &Client{conn: conn, health: healthpb.NewHealthClient(conn)}, nil
}

// Close closes the connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

func invoke[Resp any](ctx context.Context, c *Client, method string, in any) (*Resp, error) {
	out := new(Resp)
	if err := c.conn.Invoke(ctx, fullMethod(method), in, out, jsonCall); err != nil {
		return nil, err
	}
	return out, nil
}

// Ping asks the daemon's health service whether the terminal service is up.
func (c *Client) Ping(ctx context.Context) error {
	resp, err := c.health.Check(ctx, &healthpb.HealthCheckRequest{Service: ServiceName})
	if err != nil {
		return err
	}
	if resp.GetStatus() != healthpb.HealthCheckResponse_SERVING {
		return fmt.Errorf("terminal service is %s", resp.GetStatus())
	}
	return nil
}

func (c *Client) Status(ctx context.Context) (*StatusResponse, error) {
	return invoke[StatusResponse](ctx, c, "Status", &Empty{})
}

func (c *Client) CheckConnectivity(ctx context.Context) (*CheckResponse, error) {
	return invoke[CheckResponse](ctx, c, "CheckConnectivity", &Empty{})
}

func (c *Client) ListProducts(ctx context.Context, req *ProductsRequest) (*ProductsResponse, error) {
	return invoke[ProductsResponse](ctx, c, "ListProducts", req)
}

func (c *Client) ListCustomers(ctx context.Context, query string) (*CustomersResponse, error) {
	return invoke[CustomersResponse](ctx, c, "ListCustomers", &CustomersRequest{Query: query})
}

func (c *Client) GetAddOns(ctx context.Context, productID uuid.UUID) (*AddOnsResponse, error) {
	return invoke[AddOnsResponse](ctx, c, "GetAddOns", &AddOnsRequest{ProductID: productID})
}

func (c *Client) RefreshCatalog(ctx context.Context) (*RefreshResponse, error) {
	return invoke[RefreshResponse](ctx, c, "RefreshCatalog", &Empty{})
}

func (c *Client) StalePrices(ctx context.Context) (*StalePricesResponse, error) {
	return invoke[StalePricesResponse](ctx, c, "StalePrices", &Empty{})
}

func (c *Client) ListPending(ctx context.Context) (*PendingListResponse, error) {
	return invoke[PendingListResponse](ctx, c, "ListPending", &Empty{})
}

func (c *Client) GetPending(ctx context.Context, localID string) (*PendingOrder, error) {
	return invoke[PendingOrder](ctx, c, "GetPending", &LocalIDRequest{LocalID: localID})
}

func (c *Client) QueueOrder(ctx context.Context, req *OrderRequest) (*QueueResponse, error) {
	return invoke[QueueResponse](ctx, c, "QueueOrder", req)
}

func (c *Client) UpdatePending(ctx context.Context, req *UpdateRequest) error {
	_, err := invoke[Empty](ctx, c, "UpdatePending", req)
	return err
}

func (c *Client) RemovePending(ctx context.Context, localID string) error {
	_, err := invoke[Empty](ctx, c, "RemovePending", &LocalIDRequest{LocalID: localID})
	return err
}

func (c *Client) SyncNow(ctx context.Context) (*outbox.SyncResult, error) {
	return invoke[outbox.SyncResult](ctx, c, "SyncNow", &Empty{})
}

func (c *Client) LockSync(ctx context.Context, localID string) error {
	_, err := invoke[Empty](ctx, c, "LockSync", &LocalIDRequest{LocalID: localID})
	return err
}

func (c *Client) UnlockSync(ctx context.Context, localID string) error {
	_, err := invoke[Empty](ctx, c, "UnlockSync", &LocalIDRequest{LocalID: localID})
	return err
}

func (c *Client) Checkout(ctx context.Context, req *OrderRequest) (*outbox.CheckoutResult, error) {
	return invoke[outbox.CheckoutResult](ctx, c, "Checkout", req)
}

func (c *Client) Login(ctx context.Context, token string) error {
	_, err := invoke[Empty](ctx, c, "Login", &LoginRequest{Token: token})
	return err
}

func (c *Client) Logout(ctx context.Context) error {
	_, err := invoke[Empty](ctx, c, "Logout", &Empty{})
	return err
}

func (c *Client) SaveDraft(ctx context.Context, d *Draft) error {
	_, err := invoke[Empty](ctx, c, "SaveDraft", d)
	return err
}

func (c *Client) LoadDraft(ctx context.Context) (*DraftResponse, error) {
	return invoke[DraftResponse](ctx, c, "LoadDraft", &Empty{})
}

func (c *Client) ClearDraft(ctx context.Context) error {
	_, err := invoke[Empty](ctx, c, "ClearDraft", &Empty{})
	return err
}

// EventWatcher receives events from WatchEvents.
type EventWatcher struct {
	stream grpc.ClientStream
}

// Recv blocks for the next event.
func (w *EventWatcher) Recv() (*Event, error) {
	evt := new(Event)
	if err := w.stream.RecvMsg(evt); err != nil {
		return nil, err
	}
	return evt, nil
}

// WatchEvents streams daemon events whose kind starts with prefix until ctx
// ends. Events published after it returns are delivered.
func (c *Client) WatchEvents(ctx context.Context, prefix string) (*EventWatcher, error) {
	stream, err := c.conn.NewStream(ctx, &ServiceDesc.Streams[0], fullMethod("WatchEvents"), jsonCall)
	if err != nil {
		return nil, err
	}
	if err := stream.SendMsg(&WatchRequest{Prefix: prefix}); err != nil {
		return nil, err
	}
	if err := stream.CloseSend(); err != nil {
		return nil, err
	}
	// Returns once the daemon has subscribed.
	if _, err := stream.Header(); err != nil {
		return nil, err
	}
	return &EventWatcher{stream: stream}, nil
}
