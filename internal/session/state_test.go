package session

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestIsValidTransitionMatchesTable(t *testing.T) {
	sm := NewBaseStateMachine("s1", StateIdle, nil, nil)
	require.True(t, sm.IsValidTransition(StateIdle, StateRunning))
	require.False(t, sm.IsValidTransition(StateIdle, StateSuccess))
	require.True(t, sm.IsValidTransition(StateEscalating, StateAbandoning))
	require.False(t, sm.IsValidTransition(StateSuccess, StateRunning))
}

func TestTransitionToRejectsIllegalMove(t *testing.T) {
	sm := NewBaseStateMachine("s1", StateIdle, nil, nil)
	err := sm.TransitionTo(context.Background(), StateSuccess, nil)
	require.ErrorIs(t, err, ErrInvalidTransition)
	require.Equal(t, StateIdle, sm.CurrentState())
}

func TestTransitionToRecordsHistoryAndPersists(t *testing.T) {
	store := newMemStore()
	sm := NewBaseStateMachine("s1", StateIdle, store, nil)

	require.NoError(t, sm.TransitionTo(context.Background(), StateRunning, map[string]any{"why": "start"}))
	require.Equal(t, StateRunning, sm.CurrentState())
	require.Len(t, sm.Transitions(), 1)
	require.Equal(t, StateIdle, sm.Transitions()[0].FromState)
	require.Equal(t, StateRunning, sm.Transitions()[0].ToState)

	var snap persistedState
	require.NoError(t, store.Load("s1", &snap))
	require.Equal(t, StateRunning, snap.CurrentState)
}

func TestSetTypedGetTypedRoundTrip(t *testing.T) {
	sm := NewBaseStateMachine("s1", StateIdle, nil, nil)
	SetTyped(sm, "count", 7)
	v, ok := GetTyped[int](sm, "count")
	require.True(t, ok)
	require.Equal(t, 7, v)

	_, ok = GetTyped[string](sm, "count")
	require.False(t, ok)
}

func TestInitializeRestoresPriorSnapshot(t *testing.T) {
	store := newMemStore()
	first := NewBaseStateMachine("s1", StateIdle, store, nil)
	require.NoError(t, first.TransitionTo(context.Background(), StateRunning, nil))

	second := NewBaseStateMachine("s1", StateIdle, store, nil)
	require.NoError(t, second.Initialize(context.Background()))
	require.Equal(t, StateRunning, second.CurrentState())
}

func TestInitializeFreshSessionIsNotAnError(t *testing.T) {
	store := newMemStore()
	sm := NewBaseStateMachine("unseen", StateIdle, store, nil)
	require.NoError(t, sm.Initialize(context.Background()))
	require.Equal(t, StateIdle, sm.CurrentState())
}

// memStore is a minimal in-memory StateStore double for tests that
// don't need real filesystem persistence.
type memStore struct {
	docs map[string][]byte
}

func newMemStore() *memStore {
	return &memStore{docs: make(map[string][]byte)}
}

func (m *memStore) Save(id string, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	m.docs[id] = data
	return nil
}

func (m *memStore) Load(id string, dest any) error {
	data, ok := m.docs[id]
	if !ok {
		return ErrStateNotFound
	}
	return json.Unmarshal(data, dest)
}
