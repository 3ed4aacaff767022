package model

import (
	"encoding/json"
	"fmt"
	"time"

	v1 "tillsync/pkg/api/v1"
	"tillsync/pkg/constraints"
)

// QueuedOperation is a write captured while the server could not be reached.
type QueuedOperation struct {
	ID         string    `json:"id" gorm:"primaryKey;size:64"`
	Kind       string    `json:"kind" gorm:"size:16;not null"`
	Payload    string    `json:"payload" gorm:"type:text"`
	Timestamp  int64     `json:"timestamp" gorm:"index;not null"`
	RetryCount int       `json:"retryCount" gorm:"default:0"`
	Status     string    `json:"status" gorm:"size:16;index;default:pending"`
	LastError  string    `json:"lastError,omitempty" gorm:"type:text"`
	CreatedAt  time.Time `json:"createdAt"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

// Draft is an operation before the queue assigns its id and timestamp.
type Draft struct {
	Kind    string
	Payload string
}

func NewSaleDraft(sale v1.SalePayload) (Draft, error) {
	if err := sale.Validate(); err != nil {
		return Draft{}, err
	}
	b, err := json.Marshal(sale)
	if err != nil {
		return Draft{}, fmt.Errorf("encode sale: %w", err)
	}
	return Draft{Kind: constraints.KindSale, Payload: string(b)}, nil
}

func NewRequestDraft(req v1.RequestPayload) (Draft, error) {
	if req.Method == "" || req.URL == "" {
		return Draft{}, fmt.Errorf("request needs method and url")
	}
	b, err := json.Marshal(req)
	if err != nil {
		return Draft{}, fmt.Errorf("encode request: %w", err)
	}
	return Draft{Kind: constraints.KindRequest, Payload: string(b)}, nil
}

// Sale decodes the payload of a sale operation.
func (o *QueuedOperation) Sale() (*v1.SalePayload, error) {
	if o.Kind != constraints.KindSale {
		return nil, fmt.Errorf("operation %s is %q, not a sale", o.ID, o.Kind)
	}
	var p v1.SalePayload
	if err := json.Unmarshal([]byte(o.Payload), &p); err != nil {
		return nil, fmt.Errorf("decode sale %s: %w", o.ID, err)
	}
	return &p, nil
}

// Request decodes the payload of a generic request operation.
func (o *QueuedOperation) Request() (*v1.RequestPayload, error) {
	if o.Kind != constraints.KindRequest {
		return nil, fmt.Errorf("operation %s is %q, not a request", o.ID, o.Kind)
	}
	var p v1.RequestPayload
	if err := json.Unmarshal([]byte(o.Payload), &p); err != nil {
		return nil, fmt.Errorf("decode request %s: %w", o.ID, err)
	}
	return &p, nil
}

func (o *QueuedOperation) DeadLettered() bool {
	return o.Status == constraints.StatusFailed
}
