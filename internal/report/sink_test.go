package report

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"shde/internal/patch"
)

func TestNullSinkNeverFails(t *testing.T) {
	require.NoError(t, NullSink{}.Send(context.Background(), &patch.SessionReport{}))
}

func TestFileSinkWritesSessionFile(t *testing.T) {
	dir := t.TempDir()
	sink := NewFileSink(dir)

	sr := &patch.SessionReport{SessionID: "abc123", FinalState: "SUCCESS", StartedAt: time.Now().UTC()}
	require.NoError(t, sink.Send(context.Background(), sr))

	data, err := os.ReadFile(filepath.Join(dir, "session_abc123.json"))
	require.NoError(t, err)

	var got patch.SessionReport
	require.NoError(t, json.Unmarshal(data, &got))
	require.Equal(t, "abc123", got.SessionID)
}
