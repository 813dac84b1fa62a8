package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/wtfpos/posd/internal/auth"
	"github.com/wtfpos/posd/internal/bus"
	"github.com/wtfpos/posd/internal/catalog"
	"github.com/wtfpos/posd/internal/connectivity"
	"github.com/wtfpos/posd/internal/outbox"
	"github.com/wtfpos/posd/internal/pos"
	"github.com/wtfpos/posd/internal/posapi"
	"github.com/wtfpos/posd/internal/status"
	"github.com/wtfpos/posd/internal/store"
	"go.uber.org/zap"
	"golang.org/x/text/cases"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	grpcstatus "google.golang.org/grpc/status"
)

// Components are the daemon parts the service fronts.
type Components struct {
	Terminal string
	Server   string // POS server base URL
	Machine  *status.Machine
	Monitor  *connectivity.Monitor
	Catalog  *catalog.Cache
	Queue    *outbox.Queue
	Checkout *outbox.Checkout
	Auth     *auth.Session
	DB       *store.DB
	Bus      *bus.Bus
	Logger   *zap.Logger
}

// Service implements TerminalServer.
type Service struct {
	c         Components
	startedAt time.Time
}

var _ TerminalServer = (*Service)(nil)

// NewService creates the terminal service.
func NewService(c Components) *Service {
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}
	return &Service{c: c, startedAt: time.Now()}
}

func (s *Service) Status(_ context.Context, _ *Empty) (*StatusResponse, error) {
	resp := &StatusResponse{
		Terminal:        s.c.Terminal,
		Server:          s.c.Server,
		State:           string(s.c.Machine.Current()),
		Connectivity:    string(s.c.Monitor.State()),
		Online:          s.c.Monitor.IsOnline(),
		ShowReconnected: s.c.Monitor.ShowReconnected(),
		Authenticated:   s.c.Auth.IsAuthenticated(),
		PendingCount:    s.c.Queue.Count(),
		Syncing:         s.c.Queue.IsSyncing(),
		Locks:           s.c.Queue.Locks(),
		CatalogLoaded:   s.c.Catalog.IsLoaded(),
		CatalogLoading:  s.c.Catalog.IsLoading(),
		CatalogSyncing:  s.c.Catalog.IsSyncing(),
		Products:        len(s.c.Catalog.Products()),
		UptimeMs:        time.Since(s.startedAt).Milliseconds(),
	}
	if t := s.c.Monitor.LastSuccessfulCheck(); !t.IsZero() {
		resp.LastCheckUnixMs = t.UnixMilli()
	}
	if t := s.c.Catalog.SyncedAt(); !t.IsZero() {
		resp.CatalogSyncedAtUnixMs = t.UnixMilli()
	}
	return resp, nil
}

func (s *Service) CheckConnectivity(ctx context.Context, _ *Empty) (*CheckResponse, error) {
	online := s.c.Monitor.CheckNow(ctx)
	return &CheckResponse{Online: online, Connectivity: string(s.c.Monitor.State())}, nil
}

func (s *Service) ListProducts(_ context.Context, req *ProductsRequest) (*ProductsResponse, error) {
	q := fold(req.Query)
	products := []pos.Product{}
	for _, p := range s.c.Catalog.Products() {
		if !req.All && (p.IsAddOn || !p.IsActive) {
			continue
		}
		if q != "" && !strings.Contains(fold(p.Name), q) && !strings.Contains(fold(p.Code), q) {
			continue
		}
		products = append(products, p)
	}
	return &ProductsResponse{Products: products, SyncedAt: s.c.Catalog.SyncedAt()}, nil
}

func (s *Service) ListCustomers(_ context.Context, req *CustomersRequest) (*CustomersResponse, error) {
	q := fold(req.Query)
	customers := []pos.Customer{}
	for _, c := range s.c.Catalog.Customers() {
		if q != "" && !strings.Contains(fold(c.DisplayName()), q) {
			continue
		}
		customers = append(customers, c)
	}
	return &CustomersResponse{Customers: customers}, nil
}

func (s *Service) GetAddOns(_ context.Context, req *AddOnsRequest) (*AddOnsResponse, error) {
	if req.ProductID == uuid.Nil {
		return nil, grpcstatus.Error(codes.InvalidArgument, "product id is required")
	}
	if _, ok := s.c.Catalog.Product(req.ProductID); !ok {
		return nil, grpcstatus.Errorf(codes.NotFound, "product %s not in catalog", req.ProductID)
	}
	groups := s.c.Catalog.AddOnsForProduct(req.ProductID)
	if groups == nil {
		groups = []pos.AddOnGroup{}
	}
	return &AddOnsResponse{Groups: groups}, nil
}

func (s *Service) RefreshCatalog(ctx context.Context, _ *Empty) (*RefreshResponse, error) {
	refreshed, err := s.c.Catalog.Refresh(ctx)
	if err != nil {
		return nil, toStatus(err)
	}
	return &RefreshResponse{Refreshed: refreshed, StalePrices: s.c.Catalog.StalePrices()}, nil
}

func (s *Service) StalePrices(_ context.Context, _ *Empty) (*StalePricesResponse, error) {
	stale := s.c.Catalog.StalePrices()
	if stale == nil {
		stale = []catalog.StalePrice{}
	}
	return &StalePricesResponse{StalePrices: stale}, nil
}

func (s *Service) ListPending(_ context.Context, _ *Empty) (*PendingListResponse, error) {
	locked := make(map[string]bool)
	for _, id := range s.c.Queue.Locks() {
		locked[id] = true
	}
	pending := s.c.Queue.Pending()
	orders := make([]PendingOrder, 0, len(pending))
	for _, p := range pending {
		orders = append(orders, pendingView(p, locked[p.LocalID]))
	}
	return &PendingListResponse{Orders: orders, Syncing: s.c.Queue.IsSyncing()}, nil
}

func (s *Service) GetPending(ctx context.Context, req *LocalIDRequest) (*PendingOrder, error) {
	p, err := s.c.Queue.Get(ctx, req.LocalID)
	if err != nil {
		return nil, toStatus(err)
	}
	locked := false
	for _, id := range s.c.Queue.Locks() {
		if id == p.LocalID {
			locked = true
		}
	}
	view := pendingView(*p, locked)
	return &view, nil
}

func (s *Service) QueueOrder(ctx context.Context, req *OrderRequest) (*QueueResponse, error) {
	if err := validateOrder(req); err != nil {
		return nil, err
	}
	localID, err := s.c.Queue.Queue(ctx, req.Command, req.Cart, req.CustomerName)
	if err != nil {
		return nil, toStatus(err)
	}
	return &QueueResponse{LocalID: localID}, nil
}

func (s *Service) UpdatePending(ctx context.Context, req *UpdateRequest) (*Empty, error) {
	if err := validateOrder(&req.OrderRequest); err != nil {
		return nil, err
	}
	if err := s.c.Queue.Update(ctx, req.LocalID, req.Command, req.Cart, req.CustomerName); err != nil {
		return nil, toStatus(err)
	}
	return &Empty{}, nil
}

func (s *Service) RemovePending(ctx context.Context, req *LocalIDRequest) (*Empty, error) {
	if err := s.c.Queue.Remove(ctx, req.LocalID); err != nil {
		return nil, toStatus(err)
	}
	return &Empty{}, nil
}

func (s *Service) SyncNow(ctx context.Context, _ *Empty) (*outbox.SyncResult, error) {
	if !s.c.Auth.IsAuthenticated() {
		return nil, grpcstatus.Error(codes.Unauthenticated, "terminal is not logged in")
	}
	if !s.c.Monitor.IsOnline() {
		return nil, grpcstatus.Error(codes.Unavailable, "server is not reachable")
	}
	result, err := s.c.Queue.SyncAll(ctx)
	if err != nil {
		return nil, toStatus(err)
	}
	return &result, nil
}

func (s *Service) LockSync(_ context.Context, req *LocalIDRequest) (*Empty, error) {
	if req.LocalID == "" {
		return nil, grpcstatus.Error(codes.InvalidArgument, "local id is required")
	}
	s.c.Queue.LockSyncForOfflineEdit(req.LocalID)
	return &Empty{}, nil
}

func (s *Service) UnlockSync(_ context.Context, req *LocalIDRequest) (*Empty, error) {
	s.c.Queue.UnlockSyncForOfflineEdit(req.LocalID)
	return &Empty{}, nil
}

func (s *Service) Checkout(ctx context.Context, req *OrderRequest) (*outbox.CheckoutResult, error) {
	if err := validateOrder(req); err != nil {
		return nil, err
	}
	result, err := s.c.Checkout.Submit(ctx, req.Command, req.Cart, req.CustomerName)
	if err != nil {
		return nil, toStatus(err)
	}
	return &result, nil
}

func (s *Service) Login(_ context.Context, req *LoginRequest) (*Empty, error) {
	if strings.TrimSpace(req.Token) == "" {
		return nil, grpcstatus.Error(codes.InvalidArgument, "token is required")
	}
	if err := s.c.Auth.Login(req.Token); err != nil {
		return nil, toStatus(err)
	}
	return &Empty{}, nil
}

func (s *Service) Logout(_ context.Context, _ *Empty) (*Empty, error) {
	if err := s.c.Auth.Logout(); err != nil {
		return nil, toStatus(err)
	}
	return &Empty{}, nil
}

func (s *Service) SaveDraft(_ context.Context, req *Draft) (*Empty, error) {
	err := s.c.DB.SaveDraft(&store.Draft{
		Items:        req.Items,
		CustomerID:   req.CustomerID,
		CustomerName: pos.NormalizeName(req.CustomerName),
	})
	if err != nil {
		return nil, toStatus(err)
	}
	return &Empty{}, nil
}

func (s *Service) LoadDraft(_ context.Context, _ *Empty) (*DraftResponse, error) {
	d, err := s.c.DB.LoadDraft()
	if err != nil {
		return nil, toStatus(err)
	}
	if d == nil {
		return &DraftResponse{}, nil
	}
	return &DraftResponse{Found: true, Draft: &Draft{
		Items:        d.Items,
		CustomerID:   d.CustomerID,
		CustomerName: d.CustomerName,
		Total:        pos.CartTotal(d.Items),
		UpdatedAt:    d.UpdatedAt,
	}}, nil
}

func (s *Service) ClearDraft(_ context.Context, _ *Empty) (*Empty, error) {
	if err := s.c.DB.ClearDraft(); err != nil {
		return nil, toStatus(err)
	}
	return &Empty{}, nil
}

func (s *Service) WatchEvents(req *WatchRequest, stream EventStream) error {
	ch, unsub := s.c.Bus.Subscribe(req.Prefix, 256)
	defer unsub()
	// Headers tell the client the subscription is live.
	if err := stream.SendHeader(metadata.MD{}); err != nil {
		return err
	}

	for {
		select {
		case evt := <-ch:
			payload, err := json.Marshal(evt.Payload)
			if err != nil {
				s.c.Logger.Warn("unencodable event payload", zap.String("kind", evt.Kind), zap.Error(err))
				payload = nil
			}
			if err := stream.Send(&Event{
				ID:               uuid.New().String(),
				Kind:             evt.Kind,
				OccurredAtUnixMs: evt.Timestamp.UnixMilli(),
				Payload:          payload,
			}); err != nil {
				return err
			}
		case <-stream.Context().Done():
			return nil
		}
	}
}

func validateOrder(req *OrderRequest) error {
	if len(req.Command.Items) == 0 {
		return grpcstatus.Error(codes.InvalidArgument, "order has no items")
	}
	for _, it := range req.Command.Items {
		if it.ProductID == uuid.Nil || it.Quantity <= 0 {
			return grpcstatus.Error(codes.InvalidArgument, "every item needs a product id and a positive quantity")
		}
	}
	return nil
}

// toStatus maps daemon errors onto gRPC codes.
func toStatus(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, outbox.ErrNotFound):
		return grpcstatus.Error(codes.NotFound, err.Error())
	case errors.Is(err, outbox.ErrSyncing):
		return grpcstatus.Error(codes.FailedPrecondition, err.Error())
	case errors.Is(err, context.Canceled):
		return grpcstatus.Error(codes.Canceled, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return grpcstatus.Error(codes.DeadlineExceeded, err.Error())
	case posapi.IsTransport(err):
		return grpcstatus.Error(codes.Unavailable, err.Error())
	}
	switch code := posapi.StatusCode(err); {
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return grpcstatus.Error(codes.Unauthenticated, err.Error())
	case code >= 400 && code < 500:
		return grpcstatus.Error(codes.InvalidArgument, err.Error())
	case code >= 500:
		return grpcstatus.Error(codes.Unavailable, err.Error())
	}
	return grpcstatus.Error(codes.Internal, err.Error())
}

var folder = cases.Fold()

func fold(s string) string {
	return folder.String(strings.TrimSpace(s))
}
