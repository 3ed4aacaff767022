package model

import (
	"encoding/json"
	"net/http"
	"time"
)

// CachedResponse is a stored upstream GET response.
type CachedResponse struct {
	CacheKey string    `json:"key" gorm:"primaryKey;size:512"`
	Status   int       `json:"status"`
	Header   string    `json:"header" gorm:"type:text"` // JSON encoded http.Header
	Body     []byte    `json:"body"`
	CachedAt time.Time `json:"cachedAt" gorm:"index"`
}

// Stale reports whether the entry is older than maxAge at now.
func (c *CachedResponse) Stale(now time.Time, maxAge time.Duration) bool {
	return now.Sub(c.CachedAt) > maxAge
}

func (c *CachedResponse) SetHeader(h http.Header) error {
	b, err := json.Marshal(h)
	if err != nil {
		return err
	}
	c.Header = string(b)
	return nil
}

func (c *CachedResponse) HTTPHeader() http.Header {
	h := http.Header{}
	if c.Header == "" {
		return h
	}
	_ = json.Unmarshal([]byte(c.Header), &h)
	return h
}
