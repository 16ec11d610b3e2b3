// session/session.go
package session

import (
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/wfunc/racebot/logger"
	"github.com/wfunc/racebot/timer"
)

// 错误定义
var (
	ErrSessionOpen     = errors.New("a finish control is already open for this round")
	ErrSessionNotFound = errors.New("session not found")
	ErrSessionClosed   = errors.New("session closed")
	ErrNotOwner        = errors.New("this control belongs to someone else")
)

// Kind is the type of control surface a session backs.
type Kind string

const (
	KindCarPicker   Kind = "car"
	KindTimePicker  Kind = "time"
	KindStatsPager  Kind = "stats"
	KindGameControl Kind = "game"
)

// Session is one interactive control surface. All clicks on a surface run
// under its mutex, one at a time.
type Session struct {
	ID         string
	Kind       Kind
	Owner      string
	RoundID    string
	Data       map[string]interface{} // 自定义数据
	CreatedAt  time.Time
	LastActive time.Time

	idle    bool
	ttl     time.Duration
	timerID int64
	closed  bool
	mutex   sync.Mutex
}

// NewID returns a short surface id that fits in a button payload.
func NewID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
}

func (s *Session) Set(key string, value interface{}) {
	s.Data[key] = value
}

func (s *Session) Get(key string) interface{} {
	return s.Data[key]
}

// Do runs fn while holding the surface lock. Set and Get are only safe inside Do.
func (s *Session) Do(fn func() error) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if s.closed {
		return ErrSessionClosed
	}
	return fn()
}

// Closed reports whether the session was closed or timed out.
func (s *Session) Closed() bool {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.closed
}

func (s *Session) GetID() string {
	return s.ID
}

// Session管理器
type Manager struct {
	sessions map[string]*Session
	byRound  map[string]string // roundID -> game control session id
	mutex    sync.RWMutex

	timers     *timer.TimerManager
	idleTTL    time.Duration
	controlTTL time.Duration
	onExpire   func(*Session)
	now        func() time.Time
}

// NewManager creates a manager. Pickers expire after idleTTL without an
// accepted step; game controls expire controlTTL after opening.
func NewManager(timers *timer.TimerManager, idleTTL, controlTTL time.Duration) *Manager {
	return &Manager{
		sessions:   make(map[string]*Session),
		byRound:    make(map[string]string),
		timers:     timers,
		idleTTL:    idleTTL,
		controlTTL: controlTTL,
		now:        time.Now,
	}
}

// OnExpire sets the callback run after a session times out.
func (m *Manager) OnExpire(fn func(*Session)) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.onExpire = fn
}

// Open creates a session. Only one game control may be open per round.
func (m *Manager) Open(kind Kind, owner, roundID string) (*Session, error) {
	now := m.now()
	s := &Session{
		ID:         NewID(),
		Kind:       kind,
		Owner:      owner,
		RoundID:    roundID,
		Data:       make(map[string]interface{}),
		CreatedAt:  now,
		LastActive: now,
		idle:       kind != KindGameControl,
		ttl:        m.idleTTL,
	}
	if kind == KindGameControl {
		s.ttl = m.controlTTL
	}

	m.mutex.Lock()
	defer m.mutex.Unlock()

	if kind == KindGameControl {
		if id, ok := m.byRound[roundID]; ok {
			if _, live := m.sessions[id]; live {
				return nil, ErrSessionOpen
			}
		}
		m.byRound[roundID] = s.ID
	}
	m.sessions[s.ID] = s
	id := s.ID
	s.timerID = m.timers.Schedule(s.ttl, func() { m.expire(id) })

	logger.Log.Debugf("session %s opened: kind=%s owner=%s round=%s ttl=%s", s.ID, kind, owner, roundID, s.ttl)
	return s, nil
}

func (m *Manager) Get(id string) (*Session, bool) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	s, exists := m.sessions[id]
	return s, exists
}

// Accept looks up a session for a click by actor, checking ownership.
func (m *Manager) Accept(id, actor string) (*Session, error) {
	s, ok := m.Get(id)
	if !ok {
		return nil, ErrSessionNotFound
	}
	if s.Owner != actor {
		return s, ErrNotOwner
	}
	return s, nil
}

// GameControl returns the open game control for a round.
func (m *Manager) GameControl(roundID string) (*Session, bool) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	id, ok := m.byRound[roundID]
	if !ok {
		return nil, false
	}
	s, ok := m.sessions[id]
	return s, ok
}

// Touch records an accepted step; idle sessions get a fresh timeout.
func (m *Manager) Touch(s *Session) {
	s.LastActive = m.now()
	if s.idle {
		m.timers.Reset(s.timerID, s.ttl)
	}
}

// Close ends a session without the expiry callback. Callers inside Do
// must use CloseLocked.
func (m *Manager) Close(id string) {
	s, ok := m.Get(id)
	if !ok {
		return
	}
	s.mutex.Lock()
	defer s.mutex.Unlock()
	m.CloseLocked(s)
}

// CloseLocked closes s; the caller holds its lock (inside Do).
func (m *Manager) CloseLocked(s *Session) {
	if s.closed {
		return
	}
	s.closed = true
	m.timers.RemoveTimer(s.timerID)
	m.remove(s)
}

func (m *Manager) remove(s *Session) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	delete(m.sessions, s.ID)
	if m.byRound[s.RoundID] == s.ID {
		delete(m.byRound, s.RoundID)
	}
}

func (m *Manager) expire(id string) {
	s, ok := m.Get(id)
	if !ok {
		return
	}
	s.mutex.Lock()
	if s.closed {
		s.mutex.Unlock()
		return
	}
	s.closed = true
	m.remove(s)
	s.mutex.Unlock()

	logger.Log.Infof("session %s (%s, owner %s) timed out", s.ID, s.Kind, s.Owner)

	m.mutex.RLock()
	hook := m.onExpire
	m.mutex.RUnlock()
	if hook != nil {
		hook(s)
	}
}

// Count returns the number of open sessions.
func (m *Manager) Count() int {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	return len(m.sessions)
}
