package api

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/wtfpos/posd/internal/outbox"
	"github.com/wtfpos/posd/internal/pos"
	"github.com/wtfpos/posd/internal/posapi"
	"google.golang.org/grpc/codes"
	grpcstatus "google.golang.org/grpc/status"
)

func TestToStatus(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want codes.Code
	}{
		{"not found", fmt.Errorf("get: %w", outbox.ErrNotFound), codes.NotFound},
		{"syncing", outbox.ErrSyncing, codes.FailedPrecondition},
		{"transport", &posapi.TransportError{Op: "POST /api/orders", Err: errors.New("refused")}, codes.Unavailable},
		{"unauthorized", &posapi.Error{StatusCode: 401}, codes.Unauthenticated},
		{"rejected", fmt.Errorf("submit order: %w", &posapi.Error{StatusCode: 422}), codes.InvalidArgument},
		{"server error", &posapi.Error{StatusCode: 502}, codes.Unavailable},
		{"deadline", context.DeadlineExceeded, codes.DeadlineExceeded},
		{"other", errors.New("disk full"), codes.Internal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := grpcstatus.Code(toStatus(tt.err)); got != tt.want {
				t.Errorf("code = %v, want %v", got, tt.want)
			}
		})
	}
	if toStatus(nil) != nil {
		t.Error("toStatus(nil) should be nil")
	}
}

func TestValidateOrder(t *testing.T) {
	ok := &OrderRequest{Command: pos.CreateOrderCommand{
		Items: []pos.OrderItemRequest{{ProductID: uuid.New(), Quantity: 2}},
	}}
	if err := validateOrder(ok); err != nil {
		t.Errorf("valid order rejected: %v", err)
	}

	bad := []*OrderRequest{
		{},
		{Command: pos.CreateOrderCommand{Items: []pos.OrderItemRequest{{Quantity: 1}}}},
		{Command: pos.CreateOrderCommand{Items: []pos.OrderItemRequest{{ProductID: uuid.New()}}}},
	}
	for i, req := range bad {
		if grpcstatus.Code(validateOrder(req)) != codes.InvalidArgument {
			t.Errorf("order %d should be rejected", i)
		}
	}
}

func TestFoldMatchesCaseInsensitively(t *testing.T) {
	if fold("  LATTE ") != fold("latte") {
		t.Errorf("fold(LATTE) = %q", fold("  LATTE "))
	}
	if fold("\u00c9CLAIR") != fold("\u00e9clair") {
		t.Errorf("fold should handle accented capitals: %q", fold("\u00c9CLAIR"))
	}
}

func TestServiceDescriptorCoversServer(t *testing.T) {
	seen := make(map[string]bool)
	for _, m := range ServiceDesc.Methods {
		if seen[m.MethodName] {
			t.Errorf("duplicate method %s", m.MethodName)
		}
		seen[m.MethodName] = true
	}
	if len(ServiceDesc.Methods) != 21 {
		t.Errorf("methods = %d, want 21", len(ServiceDesc.Methods))
	}
	if ServiceDesc.Streams[0].StreamName != "WatchEvents" || !ServiceDesc.Streams[0].ServerStreams {
		t.Error("WatchEvents must be a server stream")
	}
}
