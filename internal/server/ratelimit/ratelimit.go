// Package ratelimit throttles API clients by IP with golang.org/x/time/rate.
//
// Ingestion triggers and reads draw from separate limiters. A trigger that is
// turned away because a run is already active can be refunded, so polling the
// single-flight gate does not burn a client's run budget.
package ratelimit

import (
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Class groups requests that share a limiter.
type Class int

const (
	// Exempt requests are never limited.
	Exempt Class = iota
	// Read covers progress, summary, product and run listings.
	Read
	// Trigger covers both forms of /ingest.
	Trigger
)

func (c Class) String() string {
	switch c {
	case Trigger:
		return "trigger"
	case Read:
		return "read"
	default:
		return "exempt"
	}
}

// Classify returns the class of a request.
func Classify(method, path string) Class {
	switch {
	case method == http.MethodOptions || path == "/health":
		return Exempt
	case path == "/ingest":
		return Trigger
	default:
		return Read
	}
}

// Rule is one token every Every, up to Burst held at once.
type Rule struct {
	Every time.Duration
	Burst int
}

func (r Rule) limit() rate.Limit {
	if r.Every <= 0 {
		return rate.Inf
	}
	return rate.Every(r.Every)
}

// Config holds rate limiting configuration.
type Config struct {
	Enabled bool
	Trigger Rule
	Read    Rule
	// ExemptClients are client IPs that are never limited.
	ExemptClients []string
	// IdleTTL is how long a silent client's limiters are kept.
	IdleTTL time.Duration
}

// DefaultConfig allows five runs up front and one every two minutes after
// that, plus 100 reads up front refilling at 16 a second.
func DefaultConfig() Config {
	return Config{
		Enabled: true,
		Trigger: Rule{Every: 2 * time.Minute, Burst: 5},
		Read:    Rule{Every: time.Second / 16, Burst: 100},
		IdleTTL: time.Hour,
	}
}

type visitor struct {
	trigger  *rate.Limiter
	read     *rate.Limiter
	lastSeen time.Time
}

// Limiter keeps one visitor per client.
type Limiter struct {
	cfg    Config
	exempt map[string]bool
	now    func() time.Time

	mu        sync.Mutex
	visitors  map[string]*visitor
	nextSweep time.Time
}

// NewLimiter builds a Limiter. Bursts below one are raised to one.
func NewLimiter(cfg Config) *Limiter {
	if cfg.IdleTTL <= 0 {
		cfg.IdleTTL = DefaultConfig().IdleTTL
	}
	cfg.Trigger.Burst = max(cfg.Trigger.Burst, 1)
	cfg.Read.Burst = max(cfg.Read.Burst, 1)

	exempt := make(map[string]bool, len(cfg.ExemptClients))
	for _, ip := range cfg.ExemptClients {
		exempt[ip] = true
	}
	return &Limiter{
		cfg:      cfg,
		exempt:   exempt,
		now:      time.Now,
		visitors: make(map[string]*visitor),
	}
}

// Decision is the outcome of Take.
type Decision struct {
	Allowed bool
	// Limit is the burst of the class; zero when the request was not limited.
	Limit      int
	Remaining  int
	RetryAfter time.Duration

	res *rate.Reservation
	at  time.Time
}

// Refund hands back the token an allowed request consumed.
func (d Decision) Refund() {
	if d.res != nil {
		// rate ignores cancellations dated after the reservation.
		d.res.CancelAt(d.at)
	}
}

// Take spends one token of class for clientID.
func (l *Limiter) Take(clientID string, class Class) Decision {
	if !l.cfg.Enabled || class == Exempt || l.exempt[clientID] {
		return Decision{Allowed: true}
	}

	now := l.now()
	lim, rule := l.limiterFor(clientID, class, now)

	d := Decision{Limit: rule.Burst}
	res := lim.ReserveN(now, 1)
	if delay := res.DelayFrom(now); delay > 0 {
		res.CancelAt(now)
		d.RetryAfter = delay
		return d
	}
	d.Allowed = true
	d.Remaining = rule.Burst
	if lim.Limit() != rate.Inf {
		d.Remaining = max(int(lim.TokensAt(now)), 0)
	}
	d.res, d.at = res, now
	return d
}

// Len reports how many clients are tracked.
func (l *Limiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.visitors)
}

func (l *Limiter) limiterFor(clientID string, class Class, now time.Time) (*rate.Limiter, Rule) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.sweep(now)
	v, ok := l.visitors[clientID]
	if !ok {
		v = &visitor{
			trigger: rate.NewLimiter(l.cfg.Trigger.limit(), l.cfg.Trigger.Burst),
			read:    rate.NewLimiter(l.cfg.Read.limit(), l.cfg.Read.Burst),
		}
		l.visitors[clientID] = v
	}
	v.lastSeen = now

	if class == Trigger {
		return v.trigger, l.cfg.Trigger
	}
	return v.read, l.cfg.Read
}

// sweep drops clients idle for longer than IdleTTL, at most once per IdleTTL.
// Callers hold l.mu.
func (l *Limiter) sweep(now time.Time) {
	if now.Before(l.nextSweep) {
		return
	}
	for id, v := range l.visitors {
		if now.Sub(v.lastSeen) > l.cfg.IdleTTL {
			delete(l.visitors, id)
		}
	}
	l.nextSweep = now.Add(l.cfg.IdleTTL)
}
