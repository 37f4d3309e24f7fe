package formrelay

import (
	"sync"
	"time"
)

const (
	DefaultSubmissionLimit  = 3
	DefaultSubmissionWindow = 24 * time.Hour
)

// SubmissionRecord tracks accepted submissions for one identity inside its current window.
type SubmissionRecord struct {
	Count       int
	WindowStart time.Time
}

// Decision is the outcome of Ledger.CheckAndRecord.
type Decision struct {
	Allowed         bool
	Remaining       int
	HoursUntilReset int // only set when Allowed is false
}

// Status is the read-only quota view returned by Ledger.Query.
type Status struct {
	Identity        string `json:"email"`
	Submitted       int    `json:"submitted"`
	Remaining       int    `json:"remaining"`
	Limit           int    `json:"limit"`
	CanSubmit       bool   `json:"canSubmit"`
	HoursUntilReset *int   `json:"hoursUntilReset"`
}

// Ledger counts submissions per identity over a rolling window anchored at the
// first accepted submission. State lives in memory only.
type Ledger struct {
	mu      sync.Mutex
	records map[string]*SubmissionRecord
	limit   int
	window  time.Duration
}

type LedgerOption func(*Ledger)

func WithSubmissionLimit(n int) LedgerOption {
	return func(l *Ledger) {
		if n > 0 {
			l.limit = n
		}
	}
}

func WithSubmissionWindow(d time.Duration) LedgerOption {
	return func(l *Ledger) {
		if d > 0 {
			l.window = d
		}
	}
}

func NewLedger(opts ...LedgerOption) *Ledger {
	l := &Ledger{
		records: make(map[string]*SubmissionRecord),
		limit:   DefaultSubmissionLimit,
		window:  DefaultSubmissionWindow,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func (l *Ledger) Limit() int            { return l.limit }
func (l *Ledger) Window() time.Duration { return l.window }

// CheckAndRecord decides whether identity may submit at now and, if so, counts
// the submission. Check and increment happen under a single lock hold.
func (l *Ledger) CheckAndRecord(identity string, now time.Time) Decision {
	l.mu.Lock()
	defer l.mu.Unlock()

	rec, ok := l.records[identity]
	if !ok || now.Sub(rec.WindowStart) > l.window {
		l.records[identity] = &SubmissionRecord{Count: 1, WindowStart: now}
		return Decision{Allowed: true, Remaining: l.limit - 1}
	}

	if rec.Count >= l.limit {
		hours := l.hoursLeft(rec, now)
		if hours < 1 {
			// window closes exactly now; the next request starts a fresh one
			hours = 1
		}
		return Decision{Allowed: false, Remaining: 0, HoursUntilReset: hours}
	}

	rec.Count++
	return Decision{Allowed: true, Remaining: l.limit - rec.Count}
}

// Query reports the remaining quota for identity. A record whose window has
// run out is evicted and reported as fresh.
func (l *Ledger) Query(identity string, now time.Time) Status {
	l.mu.Lock()
	defer l.mu.Unlock()

	fresh := Status{Identity: identity, Remaining: l.limit, Limit: l.limit, CanSubmit: true}

	rec, ok := l.records[identity]
	if !ok {
		return fresh
	}
	hours := l.hoursLeft(rec, now)
	// Query treats the boundary instant as expired while CheckAndRecord still
	// rejects at it, so a Query at WindowStart+window opens the next window early.
	if hours <= 0 {
		delete(l.records, identity)
		return fresh
	}

	remaining := max(0, l.limit-rec.Count)
	return Status{
		Identity:        identity,
		Submitted:       rec.Count,
		Remaining:       remaining,
		Limit:           l.limit,
		CanSubmit:       remaining > 0,
		HoursUntilReset: &hours,
	}
}

func (l *Ledger) ResetAll() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.records = make(map[string]*SubmissionRecord)
}

// Snapshot copies the current counts. Expired records are included until they
// are replaced or evicted.
func (l *Ledger) Snapshot() map[string]int {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make(map[string]int, len(l.records))
	for identity, rec := range l.records {
		out[identity] = rec.Count
	}
	return out
}

// hoursLeft rounds the time until the window closes up to whole hours.
func (l *Ledger) hoursLeft(rec *SubmissionRecord, now time.Time) int {
	left := rec.WindowStart.Add(l.window).Sub(now)
	if left <= 0 {
		return 0
	}
	hours := int(left / time.Hour)
	if left%time.Hour != 0 {
		hours++
	}
	return hours
}
