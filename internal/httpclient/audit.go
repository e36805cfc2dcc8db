package httpclient

import (
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/sakif/streakwatch/internal/apperror"
)

const auditCapacity = 100

type Violation struct {
	At     time.Time `json:"at"`
	Host   string    `json:"host"`
	Reason string    `json:"reason"`
}

// AuditLog is a fixed-size ring; once full the oldest violation is dropped.
type AuditLog struct {
	mu      sync.Mutex
	entries []Violation
	next    int
	full    bool
}

func NewAuditLog(capacity int) *AuditLog {
	if capacity < 1 {
		capacity = auditCapacity
	}
	return &AuditLog{entries: make([]Violation, capacity)}
}

func (a *AuditLog) Record(v Violation) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.entries[a.next] = v
	a.next = (a.next + 1) % len(a.entries)
	if a.next == 0 {
		a.full = true
	}
}

// Entries returns violations oldest first.
func (a *AuditLog) Entries() []Violation {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.full {
		return append([]Violation(nil), a.entries[:a.next]...)
	}
	out := make([]Violation, 0, len(a.entries))
	out = append(out, a.entries[a.next:]...)
	return append(out, a.entries[:a.next]...)
}

func (c *Client) validateTransport(resp *http.Response) error {
	host := ""
	scheme := ""
	if resp.Request != nil && resp.Request.URL != nil {
		host = resp.Request.URL.Host
		scheme = resp.Request.URL.Scheme
	}

	var reason string
	switch {
	case scheme != "https":
		reason = fmt.Sprintf("response served over %q", scheme)
	default:
		for _, header := range c.cfg.RequiredHeaders {
			if resp.Header.Get(header) == "" {
				reason = fmt.Sprintf("missing %s header", header)
				break
			}
		}
	}
	if reason == "" {
		return nil
	}

	c.audit.Record(Violation{At: c.now(), Host: host, Reason: reason})
	c.logger.Warn("transport security violation", "host", host, "reason", reason)
	return apperror.ValidationFailed("transport", reason)
}
