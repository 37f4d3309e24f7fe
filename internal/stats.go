package formrelay

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	FormCareer  = "career"
	FormContact = "contact"
)

// StatsEvent records one Ledger decision taken by a form handler.
type StatsEvent struct {
	Identity string
	Form     string
	Allowed  bool
	At       time.Time
}

// StatsStore persists submission statistics. Handlers treat errors as
// best-effort and never fail a request because of them.
type StatsStore interface {
	Record(ctx context.Context, ev StatsEvent) error
}

type Counters struct {
	Accepted int64 `json:"accepted"`
	Rejected int64 `json:"rejected"`
}

// StatsSummary is what the in-memory store reports. Submitters counts distinct
// identities seen, accepted or not.
type StatsSummary struct {
	Total      Counters            `json:"total"`
	ByForm     map[string]Counters `json:"byForm"`
	Submitters int                 `json:"submitters"`
}

// MemoryStatsStore keeps counters in process memory. It does not expire anything.
type MemoryStatsStore struct {
	mu         sync.Mutex
	total      Counters
	byForm     map[string]Counters
	submitters map[string]struct{}
}

func NewMemoryStatsStore() *MemoryStatsStore {
	return &MemoryStatsStore{
		byForm:     make(map[string]Counters),
		submitters: make(map[string]struct{}),
	}
}

func (s *MemoryStatsStore) Record(_ context.Context, ev StatsEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c := s.byForm[ev.Form]
	if ev.Allowed {
		s.total.Accepted++
		c.Accepted++
	} else {
		s.total.Rejected++
		c.Rejected++
	}
	s.byForm[ev.Form] = c
	s.submitters[ev.Identity] = struct{}{}
	return nil
}

func (s *MemoryStatsStore) Summary() StatsSummary {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := StatsSummary{
		Total:      s.total,
		ByForm:     make(map[string]Counters, len(s.byForm)),
		Submitters: len(s.submitters),
	}
	for k, v := range s.byForm {
		out.ByForm[k] = v
	}
	return out
}

// RedisStatsStore increments hash counters in Redis:
//
//	<prefix>:total          accepted|rejected
//	<prefix>:form           <form>:accepted|<form>:rejected
//	<prefix>:hour:<yyyymmddhh>  accepted|rejected, expires after ttl
//	<prefix>:submitters     HyperLogLog of identities
type RedisStatsStore struct {
	rdb    redis.Cmdable
	prefix string
	ttl    time.Duration
}

type RedisStatsOption func(*RedisStatsStore)

func WithStatsPrefix(prefix string) RedisStatsOption {
	return func(s *RedisStatsStore) {
		if p := strings.Trim(prefix, ":"); p != "" {
			s.prefix = p
		}
	}
}

func WithStatsTTL(d time.Duration) RedisStatsOption {
	return func(s *RedisStatsStore) { s.ttl = d }
}

func NewRedisStatsStore(rdb redis.Cmdable, opts ...RedisStatsOption) *RedisStatsStore {
	s := &RedisStatsStore{
		rdb:    rdb,
		prefix: "formrelay:stats",
		ttl:    7 * 24 * time.Hour,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *RedisStatsStore) Record(ctx context.Context, ev StatsEvent) error {
	if s == nil || s.rdb == nil {
		return nil
	}

	at := ev.At
	if at.IsZero() {
		at = time.Now()
	}
	field := "rejected"
	if ev.Allowed {
		field = "accepted"
	}

	pipe := s.rdb.Pipeline()
	pipe.HIncrBy(ctx, s.prefix+":total", field, 1)
	if ev.Form != "" {
		pipe.HIncrBy(ctx, s.prefix+":form", ev.Form+":"+field, 1)
	}
	hourKey := fmt.Sprintf("%s:hour:%s", s.prefix, at.UTC().Format("2006010215"))
	pipe.HIncrBy(ctx, hourKey, field, 1)
	if s.ttl > 0 {
		pipe.Expire(ctx, hourKey, s.ttl)
	}
	pipe.PFAdd(ctx, s.prefix+":submitters", ev.Identity)

	_, err := pipe.Exec(ctx)
	return err
}
