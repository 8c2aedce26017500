package patch

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestApplyUnifiedDiffSimpleReplace(t *testing.T) {
	original := "line1\nline2\nline3\n"
	diff := "@@ -2,1 +2,1 @@\n-line2\n+line2-fixed\n"

	result, err := ApplyUnifiedDiff(original, diff)
	require.NoError(t, err)
	require.Equal(t, "line1\nline2-fixed\nline3\n", result)
}

func TestApplyUnifiedDiffInsertion(t *testing.T) {
	original := "a\nb\n"
	diff := "@@ -1,1 +1,2 @@\n a\n+inserted\n"

	result, err := ApplyUnifiedDiff(original, diff)
	require.NoError(t, err)
	require.Equal(t, "a\ninserted\nb\n", result)
}

func TestApplyUnifiedDiffContextMismatchErrors(t *testing.T) {
	original := "a\nb\n"
	diff := "@@ -1,1 +1,1 @@\n-zzz\n+a\n"

	_, err := ApplyUnifiedDiff(original, diff)
	require.Error(t, err)
}

func TestApplyUnifiedDiffNoHunksErrors(t *testing.T) {
	_, err := ApplyUnifiedDiff("a\n", "not a diff")
	require.Error(t, err)
}
