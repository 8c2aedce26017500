package oracle

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

type fakeClient struct {
	name    string
	diffs   []string
	errs    []error
	calls   int
}

func (f *fakeClient) Name() string { return f.name }

func (f *fakeClient) SuggestPatch(_ context.Context, _ Request) (Response, error) {
	idx := f.calls
	if idx >= len(f.diffs) {
		idx = len(f.diffs) - 1
	}
	f.calls++
	var err error
	if idx < len(f.errs) {
		err = f.errs[idx]
	}
	return Response{Diff: f.diffs[idx]}, err
}

func TestAdapterFallsThroughToSecondProvider(t *testing.T) {
	primary := &fakeClient{name: "primary", diffs: []string{""}, errs: []error{errors.New("down")}}
	secondary := &fakeClient{name: "secondary", diffs: []string{"+fix"}}

	a := NewAdapter([]Client{primary, secondary}, 0, nil)
	resp, ok := a.SuggestPatch(context.Background(), "boom", "code", "f.py")
	require.True(t, ok)
	require.Equal(t, "+fix", resp.Diff)
}

func TestAdapterEscalatesOnRepeatedEmptyReplies(t *testing.T) {
	primary := &fakeClient{name: "primary", diffs: []string{"", "", "+fixed"}}

	a := NewAdapter([]Client{primary}, 2, nil)
	resp, ok := a.SuggestPatch(context.Background(), "boom", "code", "f.py")
	require.True(t, ok)
	require.Equal(t, "+fixed", resp.Diff)
}

func TestAdapterGivesUpAfterCeiling(t *testing.T) {
	primary := &fakeClient{name: "primary", diffs: []string{"", "", ""}}

	a := NewAdapter([]Client{primary}, 2, nil)
	_, ok := a.SuggestPatch(context.Background(), "boom", "code", "f.py")
	require.False(t, ok)
}

func TestAdapterNoProvidersConfigured(t *testing.T) {
	a := NewAdapter(nil, 3, nil)
	_, ok := a.SuggestPatch(context.Background(), "boom", "code", "f.py")
	require.False(t, ok)
}

func TestAdapterProbeAllQueriesEveryProviderConcurrently(t *testing.T) {
	primary := &fakeClient{name: "primary", diffs: []string{"+fix-a"}}
	secondary := &fakeClient{name: "secondary", diffs: []string{""}}
	tertiary := &fakeClient{name: "tertiary", diffs: []string{"+fix-c"}}

	a := NewAdapter([]Client{primary, secondary, tertiary}, 0, nil)
	require.Equal(t, []string{"primary", "secondary", "tertiary"}, a.ProviderNames())

	responses := a.ProbeAll(context.Background(), "boom", "code", "f.py")
	require.Len(t, responses, 3)
	require.Equal(t, "+fix-a", responses[0].Diff)
	require.Equal(t, "", responses[1].Diff)
	require.Equal(t, "+fix-c", responses[2].Diff)

	require.Equal(t, 1, primary.calls)
	require.Equal(t, 1, secondary.calls)
	require.Equal(t, 1, tertiary.calls)
}

func TestAdapterProbeAllSkipsErroringProviders(t *testing.T) {
	failing := &fakeClient{name: "failing", diffs: []string{""}, errs: []error{errors.New("down")}}

	a := NewAdapter([]Client{failing}, 0, nil)
	responses := a.ProbeAll(context.Background(), "boom", "code", "f.py")
	require.Len(t, responses, 1)
	require.Equal(t, Response{}, responses[0])
}

func TestAdapterCallsFeedbackHook(t *testing.T) {
	primary := &fakeClient{name: "primary", diffs: []string{"+fix"}}
	var recorded []Feedback

	a := NewAdapter([]Client{primary}, 0, func(fb Feedback) {
		recorded = append(recorded, fb)
	})
	_, ok := a.SuggestPatch(context.Background(), "boom", "code", "f.py")
	require.True(t, ok)
	require.Len(t, recorded, 1)
	require.Equal(t, "primary", recorded[0].Provider)
	require.True(t, recorded[0].Succeeded)
}
