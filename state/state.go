package state

import (
	"errors"
	"fmt"
	"sync"
)

// ErrTransitionNotAllowed is returned when a state transition is not allowed.
var ErrTransitionNotAllowed = errors.New("state transition not allowed")

// Table lists the allowed transitions between states of type S. A transition
// may carry a condition; a nil condition always passes.
type Table[S comparable] struct {
	transitions map[S]map[S]func() bool // fromState -> toState -> condition
}

func NewTable[S comparable]() *Table[S] {
	return &Table[S]{transitions: make(map[S]map[S]func() bool)}
}

// Allow registers unconditional transitions from -> each of to.
func (t *Table[S]) Allow(from S, to ...S) *Table[S] {
	for _, s := range to {
		t.AddTransition(from, s, nil)
	}
	return t
}

func (t *Table[S]) AddTransition(from, to S, condition func() bool) {
	if _, exists := t.transitions[from]; !exists {
		t.transitions[from] = make(map[S]func() bool)
	}
	t.transitions[from][to] = condition
}

// Check returns nil when from -> to is registered and its condition holds.
func (t *Table[S]) Check(from, to S) error {
	conditions, exists := t.transitions[from]
	if !exists {
		return fmt.Errorf("%w: %v -> %v", ErrTransitionNotAllowed, from, to)
	}
	condition, exists := conditions[to]
	if !exists || (condition != nil && !condition()) {
		return fmt.Errorf("%w: %v -> %v", ErrTransitionNotAllowed, from, to)
	}
	return nil
}

// Terminal reports whether s has no outgoing transitions.
func (t *Table[S]) Terminal(s S) bool {
	return len(t.transitions[s]) == 0
}

// Machine 状态机
type Machine[S comparable] struct {
	table   *Table[S]
	current S
	onEnter map[S]func(from S)
	mutex   sync.RWMutex
}

func NewMachine[S comparable](table *Table[S], initial S) *Machine[S] {
	return &Machine[S]{
		table:   table,
		current: initial,
		onEnter: make(map[S]func(from S)),
	}
}

// OnEnter sets a hook run after the machine enters s. Hooks run outside the lock.
func (m *Machine[S]) OnEnter(s S, fn func(from S)) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.onEnter[s] = fn
}

func (m *Machine[S]) ChangeState(to S) error {
	m.mutex.Lock()
	from := m.current
	if err := m.table.Check(from, to); err != nil {
		m.mutex.Unlock()
		return err
	}
	m.current = to
	hook := m.onEnter[to]
	m.mutex.Unlock()

	if hook != nil {
		hook(from)
	}
	return nil
}

// Can reports whether ChangeState(to) would currently succeed.
func (m *Machine[S]) Can(to S) bool {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	return m.table.Check(m.current, to) == nil
}

func (m *Machine[S]) Current() S {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	return m.current
}

// Terminal reports whether the machine can never leave its current state.
func (m *Machine[S]) Terminal() bool {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	return m.table.Terminal(m.current)
}
