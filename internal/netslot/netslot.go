// Package netslot allocates network connection slots to plugins.
//
// A slot is permission to open one connection to a host. Each host has a
// concurrency cap and a token-bucket pace. Requests never block: a refused
// request carries the delay after which retrying can succeed, and the caller
// (a plugin worker, never the consumer loop) does the waiting.
package netslot

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

// ErrUnknownSlot is returned when releasing a token that is not held.
var ErrUnknownSlot = errors.New("netslot: unknown slot")

// DefaultRetryAfter is suggested when a host is at its concurrency cap.
const DefaultRetryAfter = 50 * time.Millisecond

// Config bounds slot allocation. Zero values mean unlimited.
type Config struct {
	MaxPerHost     int
	SlotsPerSecond float64
	Burst          int
}

// Grant is the answer to a slot request.
type Grant struct {
	Granted    bool          `json:"granted"`
	Token      string        `json:"token,omitempty"`
	RetryAfter time.Duration `json:"retry_after,omitempty"`
}

type slot struct {
	audit string
	host  string
}

type hostState struct {
	active  int
	limiter *rate.Limiter
}

// Manager tracks slots held by every audit.
type Manager struct {
	cfg Config
	now func() time.Time

	mu    sync.Mutex
	hosts map[string]*hostState
	slots map[string]slot
}

// New creates a slot manager.
func New(cfg Config) *Manager {
	return &Manager{
		cfg:   cfg,
		now:   time.Now,
		hosts: make(map[string]*hostState),
		slots: make(map[string]slot),
	}
}

// SetNow replaces the time source. Used by tests.
func (m *Manager) SetNow(now func() time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = now
}

// RequestSlot tries to take a slot on host for audit.
func (m *Manager) RequestSlot(audit, host string) (Grant, error) {
	host = normalizeHost(host)
	if host == "" {
		return Grant{}, fmt.Errorf("request slot: empty host")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	hs := m.host(host)
	if m.cfg.MaxPerHost > 0 && hs.active >= m.cfg.MaxPerHost {
		return Grant{RetryAfter: DefaultRetryAfter}, nil
	}

	now := m.now()
	r := hs.limiter.ReserveN(now, 1)
	if !r.OK() {
		return Grant{}, fmt.Errorf("request slot: burst too small for %s", host)
	}
	if delay := r.DelayFrom(now); delay > 0 {
		r.CancelAt(now)
		return Grant{RetryAfter: delay}, nil
	}

	token := uuid.NewString()
	hs.active++
	m.slots[token] = slot{audit: audit, host: host}
	return Grant{Granted: true, Token: token}, nil
}

// ReleaseSlot returns a slot. The token must belong to audit.
func (m *Manager) ReleaseSlot(audit, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.slots[token]
	if !ok || s.audit != audit {
		return fmt.Errorf("%w: %s", ErrUnknownSlot, token)
	}
	m.release(token, s)
	return nil
}

// ReleaseAll returns every slot held by audit and reports how many there were.
func (m *Manager) ReleaseAll(audit string) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := 0
	for token, s := range m.slots {
		if s.audit == audit {
			m.release(token, s)
			n++
		}
	}
	return n
}

// Active returns the number of slots currently held on host.
func (m *Manager) Active(host string) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	if hs, ok := m.hosts[normalizeHost(host)]; ok {
		return hs.active
	}
	return 0
}

// Held returns the number of slots audit holds.
func (m *Manager) Held(audit string) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := 0
	for _, s := range m.slots {
		if s.audit == audit {
			n++
		}
	}
	return n
}

// host must be called with mu held.
func (m *Manager) host(name string) *hostState {
	hs, ok := m.hosts[name]
	if !ok {
		hs = &hostState{limiter: m.newLimiter()}
		m.hosts[name] = hs
	}
	return hs
}

// release must be called with mu held.
func (m *Manager) release(token string, s slot) {
	delete(m.slots, token)
	if hs, ok := m.hosts[s.host]; ok && hs.active > 0 {
		hs.active--
	}
}

func (m *Manager) newLimiter() *rate.Limiter {
	if m.cfg.SlotsPerSecond <= 0 {
		return rate.NewLimiter(rate.Inf, 1)
	}
	burst := m.cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(m.cfg.SlotsPerSecond), burst)
}

func normalizeHost(host string) string {
	return strings.ToLower(strings.TrimSpace(host))
}
