// Package logstore keeps the validation audit log and the blocking
// statistics in memory. Both are best-effort collaborators: the pipeline
// never waits on them and never fails because of them.
package logstore

import (
	"sync"
	"time"

	"github.com/dobrevit/geoblock-core/config"
	"github.com/dobrevit/geoblock-core/pkg/validate"
)

// Record is one audited validation.
type Record struct {
	Time    int64  `json:"time"`
	Hook    string `json:"hook"`
	IP      string `json:"ip"`
	ASN     string `json:"asn"`
	Code    string `json:"code"`
	Host    string `json:"host"`
	Auth    int    `json:"auth"`
	Result  string `json:"result"`
	Blocked bool   `json:"blocked"`
}

// MemoryLog is a bounded in-memory audit log. When full, the oldest
// records fall off.
type MemoryLog struct {
	mu      sync.RWMutex
	records []Record
	max     int

	// OnlyBlocked restricts the log to denied requests.
	OnlyBlocked bool
}

// NewMemoryLog creates a log holding at most max records (500 when <= 0).
func NewMemoryLog(max int) *MemoryLog {
	if max <= 0 {
		max = 500
	}
	return &MemoryLog{max: max}
}

// Append implements validate.LogStore.
func (l *MemoryLog) Append(hook string, res *validate.Result, s *config.Settings, blocked bool) {
	if l.OnlyBlocked && !blocked {
		return
	}
	rec := Record{
		Time:    time.Now().Unix(),
		Hook:    hook,
		IP:      res.IP,
		ASN:     res.ASN,
		Code:    res.Code,
		Host:    res.Host,
		Auth:    res.Auth,
		Result:  string(res.Outcome()),
		Blocked: blocked,
	}

	l.mu.Lock()
	l.records = append(l.records, rec)
	if len(l.records) > l.max {
		l.records = l.records[len(l.records)-l.max:]
	}
	l.mu.Unlock()
}

// Recent returns up to n records, newest first.
func (l *MemoryLog) Recent(n int) []Record {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if n <= 0 || n > len(l.records) {
		n = len(l.records)
	}
	out := make([]Record, 0, n)
	for i := len(l.records) - 1; i >= len(l.records)-n; i-- {
		out = append(out, l.records[i])
	}
	return out
}

// Search returns all records for one IP, newest first.
func (l *MemoryLog) Search(ip string) []Record {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var out []Record
	for i := len(l.records) - 1; i >= 0; i-- {
		if l.records[i].IP == ip {
			out = append(out, l.records[i])
		}
	}
	return out
}

// GC drops records older than the retention period and returns how many.
func (l *MemoryLog) GC(olderThan time.Duration) int {
	cutoff := time.Now().Add(-olderThan).Unix()

	l.mu.Lock()
	defer l.mu.Unlock()

	keep := l.records[:0]
	dropped := 0
	for _, rec := range l.records {
		if rec.Time < cutoff {
			dropped++
			continue
		}
		keep = append(keep, rec)
	}
	l.records = keep
	return dropped
}

// Count returns the number of retained records.
func (l *MemoryLog) Count() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.records)
}
