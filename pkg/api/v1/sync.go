package v1

import (
	"encoding/json"
	"errors"
	"fmt"

	"tillsync/pkg/constraints"
)

// SaleItem is one line of a sale.
type SaleItem struct {
	ProductID int64  `json:"productId"`
	Quantity  int    `json:"quantity"`
	Price     string `json:"price"`
}

// SalePayload is the body POSTed to the sales endpoint when a queued sale is replayed.
type SalePayload struct {
	Items         []SaleItem `json:"items"`
	PaymentType   string     `json:"paymentType"`
	Reference     string     `json:"reference,omitempty"`
	CustomerName  string     `json:"customerName,omitempty"`
	CustomerPhone string     `json:"customerPhone,omitempty"`
}

func (p SalePayload) Validate() error {
	if len(p.Items) == 0 {
		return errors.New("sale has no items")
	}
	for i, it := range p.Items {
		if it.Quantity <= 0 {
			return fmt.Errorf("item %d: quantity must be positive", i)
		}
		if it.Price == "" {
			return fmt.Errorf("item %d: price is required", i)
		}
	}
	if !constraints.IsPaymentType(p.PaymentType) {
		return fmt.Errorf("unknown payment type %q", p.PaymentType)
	}
	return nil
}

// RequestPayload is a captured mutating HTTP request.
type RequestPayload struct {
	Method  string            `json:"method"`
	URL     string            `json:"url"`
	Headers map[string]string `json:"headers,omitempty"`
	Body    string            `json:"body,omitempty"`
}

// RestockRequest is the body of a product restock call.
type RestockRequest struct {
	Quantity  int     `json:"quantity"`
	CostPrice *string `json:"costPrice,omitempty"`
}

// OperationOutcome records what happened to one operation during a drain.
type OperationOutcome struct {
	ID      string `json:"id"`
	Kind    string `json:"kind"`
	Success bool   `json:"success"`
}

// SyncResult is the outcome of one drain run.
type SyncResult struct {
	Success      bool               `json:"success"`
	SyncedItems  int                `json:"syncedItems"`
	Errors       []string           `json:"errors"`
	Skipped      bool               `json:"skipped,omitempty"`
	Offline      bool               `json:"offline,omitempty"`
	DeadLettered int                `json:"deadLettered,omitempty"`
	Operations   []OperationOutcome `json:"operations,omitempty"`
}

// OfflineResult is what the offline-aware facade returns to feature code.
// Offline=true is a provisional success: the write is queued and will sync later.
type OfflineResult struct {
	Offline     bool            `json:"offline"`
	Data        json.RawMessage `json:"data,omitempty"`
	OperationID string          `json:"operationId,omitempty"`
}

// QueuedResponse is returned with HTTP 202 when a write was queued instead of sent.
type QueuedResponse struct {
	Success     bool   `json:"success"`
	Queued      bool   `json:"queued"`
	Message     string `json:"message"`
	OperationID string `json:"operationId,omitempty"`
}

// Message is broadcast from the coordinator to every connected foreground context.
type Message struct {
	Seq         int64  `json:"seq"`
	Type        string `json:"type"`
	SyncedCount int    `json:"syncedCount,omitempty"`
	SaleID      string `json:"saleId,omitempty"`
	Success     *bool  `json:"success,omitempty"`
}

// ControlMessage is sent by the foreground to the coordinator.
type ControlMessage struct {
	Type string `json:"type" binding:"required"`
}

func (m *Message) ToJSON() string {
	b, err := json.Marshal(m)
	if err != nil {
		panic("tillsync serialization failed" + err.Error())
	}
	return string(b)
}

// QueueStats counts queued operations. Failed entries are dead-lettered.
type QueueStats struct {
	Total   int64 `json:"total"`
	Pending int64 `json:"pending"`
	Failed  int64 `json:"failed"`
}
