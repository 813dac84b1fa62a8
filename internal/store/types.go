package store

import (
	"time"

	"github.com/google/uuid"
	"github.com/wtfpos/posd/internal/pos"
)

// Pending order statuses.
const (
	StatusPending = "pending"
	StatusSyncing = "syncing"
	StatusFailed  = "failed"
)

// PendingOrder is an order accepted at the terminal that the server has not
// acknowledged yet.
type PendingOrder struct {
	ID           int64
	LocalID      string
	Command      pos.CreateOrderCommand
	CartSnapshot []pos.CartItem
	CustomerName string // empty when the order has no customer
	Status       string // pending, syncing, failed
	ErrorMessage string
	RetryCount   int
	CreatedAt    time.Time
}

// ImageEntry is the metadata row of a cached image. The bytes live in the
// blob directory under Hash.
type ImageEntry struct {
	URL         string
	Hash        string
	ContentType string
	Size        int64
	CachedAt    time.Time
}

// Draft is the in-progress cart persisted between restarts.
type Draft struct {
	Items        []pos.CartItem
	CustomerID   *uuid.UUID
	CustomerName string
	UpdatedAt    time.Time
}
