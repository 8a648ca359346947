package validator

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSanitizeData_StripsControlCharacters(t *testing.T) {
	got := SanitizeData("a\x00b\x01c\x7fd")

	assert.Equal(t, "abcd", got)
}

func TestSanitizeData_PreservesNewlineAndTab(t *testing.T) {
	got := SanitizeData("line1\nline2\tend")

	assert.Equal(t, "line1\nline2\tend", got)
}

func TestSanitizeData_StripsCarriageReturn(t *testing.T) {
	got := SanitizeData("line1\r\nline2")

	assert.Equal(t, "line1\nline2", got)
}

func TestSanitizeData_TrimsWhitespace(t *testing.T) {
	got := SanitizeData("  hello  ")

	assert.Equal(t, "hello", got)
}

func TestSanitizeData_TruncatesLongStrings(t *testing.T) {
	long := strings.Repeat("x", 12000)
	got := SanitizeData(long).(string)

	assert.Len(t, got, 10000)
}

func TestSanitizeData_NonStringLeavesPassThrough(t *testing.T) {
	assert.Equal(t, float64(85.5), SanitizeData(float64(85.5)))
	assert.Equal(t, true, SanitizeData(true))
	assert.Nil(t, SanitizeData(nil))
}

func TestSanitizeData_PreservesStructure(t *testing.T) {
	input := map[string]any{
		"name": "  CPU Usage\x00  ",
		"tags": []any{" a ", " b ", float64(3)},
		"nested": map[string]any{
			"description": "ok\x1f",
		},
	}

	got := SanitizeData(input).(map[string]any)

	assert.Equal(t, "CPU Usage", got["name"])
	assert.Equal(t, []any{"a", "b", float64(3)}, got["tags"])
	assert.Equal(t, "ok", got["nested"].(map[string]any)["description"])
}

func TestSanitizeData_Idempotent(t *testing.T) {
	inputs := []any{
		"  hello\x00 world  ",
		strings.Repeat("y ", 8000), // truncation can land on whitespace
		map[string]any{"k": []any{" v\x01 ", map[string]any{"d": "\x7fx "}}},
	}

	for _, input := range inputs {
		once := SanitizeData(input)
		twice := SanitizeData(once)
		assert.Equal(t, once, twice)
	}
}
