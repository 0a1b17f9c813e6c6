package session

import (
	"context"
	"sync"
	"time"

	"restaurant-pos/internal/debounce"
	"restaurant-pos/internal/logger"
)

// ManagerConfig configures the sessions a Manager creates
type ManagerConfig struct {
	Store    OrderStore
	Events   EventPublisher
	Logger   *logger.Logger
	Notifier Notifier
	Clock    debounce.Clock
	Debounce time.Duration
	IdleTTL  time.Duration
	Now      func() time.Time
}

// Manager keeps one Session per open order
type Manager struct {
	cfg ManagerConfig
	log *logger.Logger
	now func() time.Time

	mu       sync.Mutex
	sessions map[string]*Session
}

func NewManager(cfg ManagerConfig) *Manager {
	if cfg.Logger == nil {
		cfg.Logger = logger.Nop()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Manager{
		cfg:      cfg,
		log:      cfg.Logger,
		now:      cfg.Now,
		sessions: make(map[string]*Session),
	}
}

// Open returns the session of orderID, loading the order on first use.
func (m *Manager) Open(ctx context.Context, orderID string) (*Session, error) {
	if s, ok := m.Get(orderID); ok {
		return s, nil
	}

	s := New(orderID, Options{
		Store:    m.cfg.Store,
		Events:   m.cfg.Events,
		Logger:   m.cfg.Logger,
		Notifier: m.cfg.Notifier,
		Clock:    m.cfg.Clock,
		Debounce: m.cfg.Debounce,
		Now:      m.now,
	})
	if err := s.Refresh(ctx); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.sessions[orderID]; ok {
		existing.touch()
		return existing, nil
	}
	m.sessions[orderID] = s
	openSessions.Inc()

	m.log.Info("session_opened", "Order session opened", logger.RequestID(ctx), map[string]interface{}{
		"order_id": orderID,
		"status":   s.current().Status,
	})
	return s, nil
}

// Get returns an already open session and marks it as used.
func (m *Manager) Get(orderID string) (*Session, bool) {
	m.mu.Lock()
	s, ok := m.sessions[orderID]
	m.mu.Unlock()
	if ok {
		s.touch()
	}
	return s, ok
}

// Close flushes and drops the session of orderID.
func (m *Manager) Close(orderID string) bool {
	m.mu.Lock()
	s, ok := m.sessions[orderID]
	if ok {
		delete(m.sessions, orderID)
		openSessions.Dec()
	}
	m.mu.Unlock()

	if ok {
		s.Close()
		m.log.Info("session_closed", "Order session closed", "", map[string]interface{}{"order_id": orderID})
	}
	return ok
}

// CloseAll flushes and drops every session.
func (m *Manager) CloseAll() {
	m.mu.Lock()
	sessions := make([]*Session, 0, len(m.sessions))
	for id, s := range m.sessions {
		sessions = append(sessions, s)
		delete(m.sessions, id)
	}
	openSessions.Sub(float64(len(sessions)))
	m.mu.Unlock()

	var wg sync.WaitGroup
	for _, s := range sessions {
		wg.Add(1)
		go func(s *Session) {
			defer wg.Done()
			s.Close()
		}(s)
	}
	wg.Wait()
}

// Len returns the number of open sessions.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// EvictIdle closes sessions unused for longer than the idle TTL.
func (m *Manager) EvictIdle() int {
	if m.cfg.IdleTTL <= 0 {
		return 0
	}
	cutoff := m.now().Add(-m.cfg.IdleTTL)

	var idle []string
	m.mu.Lock()
	for id, s := range m.sessions {
		if s.idleSince().Before(cutoff) {
			idle = append(idle, id)
		}
	}
	m.mu.Unlock()

	evicted := 0
	for _, id := range idle {
		if m.Close(id) {
			evicted++
		}
	}
	if evicted > 0 {
		m.log.Info("sessions_evicted", "Idle order sessions closed", "", map[string]interface{}{"count": evicted})
	}
	return evicted
}

// Run evicts idle sessions until ctx is cancelled.
func (m *Manager) Run(ctx context.Context) {
	if m.cfg.IdleTTL <= 0 {
		return
	}
	interval := m.cfg.IdleTTL / 4
	if interval > time.Minute {
		interval = time.Minute
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.EvictIdle()
		}
	}
}
