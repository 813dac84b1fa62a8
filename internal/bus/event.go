package bus

import "time"

// Event represents a domain event published on the bus.
type Event struct {
	Kind      string
	Timestamp time.Time
	Payload   any
}

// Event kinds published by the terminal. Subscribers filter by prefix, so
// "connectivity." receives every connectivity event.
const (
	ConnectivityChanged          = "connectivity.changed"
	ConnectivityReconnected      = "connectivity.reconnected"
	ConnectivityReconnectedClear = "connectivity.reconnected_cleared"
	AuthChanged                  = "auth.changed"
	CatalogUpdated               = "catalog.updated"
	CatalogStalePrices           = "catalog.stale_prices"
	QueueChanged                 = "queue.changed"
	QueueSyncStarted             = "queue.sync_started"
	QueueSyncFinished            = "queue.sync_finished"
	NotifySuccess                = "notify.success"
	NotifyInfo                   = "notify.info"
	NotifyWarning                = "notify.warning"
	TerminalStatusChanged        = "terminal.status_changed"
)

// Notification is the payload of notify.* events.
type Notification struct {
	Message string
}
