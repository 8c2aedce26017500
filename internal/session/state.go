// Package session implements the Debug Loop Controller (C9): the
// top-level ten-state machine that runs tests, triages failures,
// escalates through learned/pattern/oracle patch sources, applies and
// revalidates, and rolls back or commits.
//
// The state machine core is grounded on the reference module's
// pkg/agent.BaseStateMachine: a TransitionTable is the single source of
// truth for legal transitions, every TransitionTo call is validated
// against it, and every transition is recorded and persisted through a
// StateStore interface.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"shde/internal/logx"
)

// State is one of the ten states (plus the Aborted terminal) the
// controller can occupy.
type State string

const (
	StateIdle         State = "IDLE"
	StateRunning      State = "RUNNING"
	StateTriaging     State = "TRIAGING"
	StateEscalating   State = "ESCALATING"
	StateApplying     State = "APPLYING"
	StateRevalidating State = "REVALIDATING"
	StateReverting    State = "REVERTING"
	StateAbandoning   State = "ABANDONING"
	StateSuccess      State = "SUCCESS"
	StatePartial      State = "PARTIAL"
	StateAborted      State = "ABORTED"
)

// ErrInvalidTransition is returned when TransitionTo is asked to move
// to a state the TransitionTable does not permit from the current one.
var ErrInvalidTransition = errors.New("session: invalid state transition")

// ErrStateNotFound is returned by a StateStore.Load when no prior state
// exists for the given id; this is not an error condition for a fresh session.
var ErrStateNotFound = errors.New("session: no persisted state found")

// TransitionTable maps a state to the states it may legally transition to.
type TransitionTable map[State][]State

// DefaultTransitions encodes the table from the Debug Loop Controller
// design: Idle only ever moves to Running; Triaging fans out to
// Escalating or a terminal state; Escalating/Applying/Revalidating/
// Reverting/Abandoning form the per-failure inner loop.
var DefaultTransitions = TransitionTable{
	StateIdle:         {StateRunning},
	StateRunning:      {StateTriaging, StateSuccess, StateAborted},
	StateTriaging:     {StateEscalating, StateSuccess, StatePartial, StateAbandoning},
	StateEscalating:   {StateApplying, StateAbandoning},
	StateApplying:     {StateRevalidating, StateReverting},
	StateRevalidating: {StateTriaging, StateReverting},
	StateReverting:    {StateEscalating, StateAbandoning, StateAborted},
	StateAbandoning:   {StateTriaging},
	StateSuccess:      {},
	StatePartial:      {},
	StateAborted:      {},
}

// StateTransition records one move, for the in-memory history and
// persisted snapshot.
type StateTransition struct {
	FromState State          `json:"from_state"`
	ToState   State          `json:"to_state"`
	Timestamp time.Time      `json:"timestamp"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// StateStore persists a session's FSM snapshot, keyed by session ID.
type StateStore interface {
	Save(id string, value any) error
	Load(id string, dest any) error
}

// persistedState is the JSON document a StateStore round-trips.
type persistedState struct {
	CurrentState State             `json:"current_state"`
	StateData    map[string]any    `json:"state_data"`
	Transitions  []StateTransition `json:"transitions"`
}

// BaseStateMachine holds the current state, transition history, and a
// typed scratch space (StateData) any component can stash values into,
// following the reference module's SetTyped/GetTyped generic accessor
// pattern.
type BaseStateMachine struct {
	sessionID    string
	currentState State
	stateData    map[string]any
	transitions  []StateTransition
	store        StateStore
	table        TransitionTable

	mu     sync.Mutex
	logger *logx.Logger
}

// NewBaseStateMachine returns a state machine starting at initialState,
// validated against table (DefaultTransitions if table is nil).
func NewBaseStateMachine(sessionID string, initialState State, store StateStore, table TransitionTable) *BaseStateMachine {
	if table == nil {
		table = DefaultTransitions
	}
	return &BaseStateMachine{
		sessionID:    sessionID,
		currentState: initialState,
		stateData:    make(map[string]any),
		store:        store,
		table:        table,
		logger:       logx.NewLogger("session." + sessionID),
	}
}

// CurrentState returns the machine's current state.
func (sm *BaseStateMachine) CurrentState() State {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	return sm.currentState
}

// IsValidTransition reports whether the table permits from -> to.
func (sm *BaseStateMachine) IsValidTransition(from, to State) bool {
	for _, allowed := range sm.table[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// TransitionTo validates and performs a state change, recording history
// and persisting the new snapshot.
func (sm *BaseStateMachine) TransitionTo(ctx context.Context, newState State, metadata map[string]any) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("session: transition cancelled: %w", ctx.Err())
	default:
	}

	sm.mu.Lock()
	defer sm.mu.Unlock()

	old := sm.currentState
	if !sm.IsValidTransition(old, newState) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, old, newState)
	}

	sm.transitions = append(sm.transitions, StateTransition{
		FromState: old,
		ToState:   newState,
		Timestamp: time.Now().UTC(),
		Metadata:  metadata,
	})
	sm.currentState = newState
	for k, v := range metadata {
		sm.stateData[k] = v
	}

	sm.logger.Info("transition %s -> %s", old, newState)
	return sm.persistLocked()
}

// SetTyped stashes a typed value into the state machine's scratch space.
func SetTyped[T any](sm *BaseStateMachine, key string, value T) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	sm.stateData[key] = value
}

// GetTyped retrieves a typed value, returning ok=false if absent or of
// the wrong type.
func GetTyped[T any](sm *BaseStateMachine, key string) (T, bool) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	var zero T
	v, ok := sm.stateData[key]
	if !ok {
		return zero, false
	}
	typed, ok := v.(T)
	if !ok {
		return zero, false
	}
	return typed, true
}

// Transitions returns a copy of the recorded transition history.
func (sm *BaseStateMachine) Transitions() []StateTransition {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	return append([]StateTransition(nil), sm.transitions...)
}

func (sm *BaseStateMachine) persistLocked() error {
	if sm.store == nil {
		return nil
	}
	snapshot := persistedState{
		CurrentState: sm.currentState,
		StateData:    sm.stateData,
		Transitions:  sm.transitions,
	}
	if err := sm.store.Save(sm.sessionID, snapshot); err != nil {
		return fmt.Errorf("session: persist state: %w", err)
	}
	return nil
}

// Initialize restores a prior snapshot from the store, if any. A fresh
// session (ErrStateNotFound) is not an error.
func (sm *BaseStateMachine) Initialize(_ context.Context) error {
	if sm.store == nil {
		return nil
	}
	var snapshot persistedState
	if err := sm.store.Load(sm.sessionID, &snapshot); err != nil {
		if errors.Is(err, ErrStateNotFound) {
			return nil
		}
		return fmt.Errorf("session: load state: %w", err)
	}

	sm.mu.Lock()
	defer sm.mu.Unlock()
	sm.currentState = snapshot.CurrentState
	if snapshot.StateData != nil {
		sm.stateData = snapshot.StateData
	}
	sm.transitions = snapshot.Transitions
	return nil
}
