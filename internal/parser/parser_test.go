package parser

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseEmptyInputYieldsNoFailures(t *testing.T) {
	require.Empty(t, Parse(""))
	require.Empty(t, Parse("   \n\t "))
}

func TestParsePrimaryPattern(t *testing.T) {
	output := "test_x.py::test_thing - AttributeError: 'X' object has no attribute 'y'\n"
	failures := Parse(output)
	require.Len(t, failures, 1)
	require.Equal(t, "test_x.py", failures[0].File)
	require.Equal(t, "test_thing", failures[0].TestName)
	require.Equal(t, "AttributeError", failures[0].ErrorType)
	require.Contains(t, failures[0].Message, "no attribute 'y'")
}

func TestParseFailedLineFallback(t *testing.T) {
	output := "FAILED test_x.py::test_thing - AssertionError: 1 != 2\n"
	failures := Parse(output)
	require.Len(t, failures, 1)
	require.Equal(t, "AssertionError", failures[0].ErrorType)
	require.Equal(t, "1 != 2", failures[0].Message)
}

func TestParseDeduplicatesRepeatedFailures(t *testing.T) {
	output := "test_x.py::test_thing - AttributeError: boom\ntest_x.py::test_thing - AttributeError: boom\n"
	failures := Parse(output)
	require.Len(t, failures, 1)
}

func TestParsePreservesFirstAppearanceOrder(t *testing.T) {
	output := "" +
		"test_b.py::test_2 - ValueError: second\n" +
		"test_a.py::test_1 - ValueError: first\n"
	failures := Parse(output)
	require.Len(t, failures, 2)
	require.Equal(t, "test_2", failures[0].TestName)
	require.Equal(t, "test_1", failures[1].TestName)
	require.Equal(t, 0, failures[0].OrderInRun)
	require.Equal(t, 1, failures[1].OrderInRun)
}

func TestParseIsDeterministic(t *testing.T) {
	output := "test_x.py::test_thing - AttributeError: boom\nFAILED test_y.py::test_other - KeyError: 'k'\n"
	first := Parse(output)
	second := Parse(output)
	require.Equal(t, first, second)
}
