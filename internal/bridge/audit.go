package bridge

import (
	"sync"
	"time"
)

// Record is one forwarded marker in the audit trail.
type Record struct {
	Timestamp int64  `json:"timestamp"`
	Time      string `json:"time"`
	Code      int    `json:"code"`
	Name      string `json:"name"`
}

// AuditLog is the append-only list of markers the bridge forwarded
// successfully. It lives for the life of the process.
type AuditLog struct {
	mu      sync.Mutex
	records []Record
}

// Append adds a record stamped with at.
func (a *AuditLog) Append(code int, name string, at time.Time) Record {
	r := Record{
		Timestamp: at.UnixMilli(),
		Time:      at.UTC().Format("2006-01-02T15:04:05.000Z07:00"),
		Code:      code,
		Name:      name,
	}
	a.mu.Lock()
	a.records = append(a.records, r)
	a.mu.Unlock()
	return r
}

// Records returns a copy of the trail in append order.
func (a *AuditLog) Records() []Record {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]Record, len(a.records))
	copy(out, a.records)
	return out
}

// Len returns the number of records.
func (a *AuditLog) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.records)
}
