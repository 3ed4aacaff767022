package constraints

// Operation kinds stored in the queue.
const (
	KindSale    = "sale"
	KindRequest = "request"
)

// Queue entry status.
const (
	StatusPending = "pending"
	StatusFailed  = "failed"
)

// Broadcast message types (coordinator -> foreground).
const (
	MsgSyncComplete = "SYNC_COMPLETE"
	MsgSaleSynced   = "SALE_SYNCED"
	MsgPing         = "ping"
)

// Control message types (foreground -> coordinator).
const (
	CtlForceSync   = "FORCE_SYNC"
	CtlSkipWaiting = "SKIP_WAITING"
)

// Payment types accepted by the sales endpoint.
const (
	PaymentCash        = "cash"
	PaymentCredit      = "credit"
	PaymentMobileMoney = "mobileMoney"
)

// MaxRetries is the number of failed replays after which an operation is dead-lettered.
const MaxRetries = 3

// ErrDeviceOffline is the error text reported by a sync attempted while offline.
const ErrDeviceOffline = "Device is offline"

// IsPaymentType reports whether p is one of the accepted payment types.
func IsPaymentType(p string) bool {
	switch p {
	case PaymentCash, PaymentCredit, PaymentMobileMoney:
		return true
	}
	return false
}

// IsMutating reports whether an HTTP method writes on the server.
func IsMutating(method string) bool {
	switch method {
	case "POST", "PUT", "PATCH", "DELETE":
		return true
	}
	return false
}
