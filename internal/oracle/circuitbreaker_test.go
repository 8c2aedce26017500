package oracle

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestCircuitOpensAfterFailureThreshold(t *testing.T) {
	base := &fakeClient{name: "p", diffs: []string{"", "", ""}, errs: []error{errors.New("e"), errors.New("e"), errors.New("e")}}
	wrapped := WithCircuitBreaker(CircuitBreakerConfig{FailureThreshold: 2, SuccessThreshold: 1, Timeout: time.Minute})(base)

	_, err := wrapped.SuggestPatch(context.Background(), Request{})
	require.Error(t, err)
	_, err = wrapped.SuggestPatch(context.Background(), Request{})
	require.Error(t, err)

	_, err = wrapped.SuggestPatch(context.Background(), Request{})
	var cbErr *CircuitBreakerError
	require.ErrorAs(t, err, &cbErr)
	require.Equal(t, CircuitOpen, cbErr.State)
}

func TestCircuitHalfOpensAfterTimeout(t *testing.T) {
	base := &fakeClient{name: "p", diffs: []string{"", "+ok"}, errs: []error{errors.New("e")}}
	wrapped := WithCircuitBreaker(CircuitBreakerConfig{FailureThreshold: 1, SuccessThreshold: 1, Timeout: time.Millisecond})(base)

	_, err := wrapped.SuggestPatch(context.Background(), Request{})
	require.Error(t, err)

	time.Sleep(5 * time.Millisecond)

	resp, err := wrapped.SuggestPatch(context.Background(), Request{})
	require.NoError(t, err)
	require.Equal(t, "+ok", resp.Diff)
}
