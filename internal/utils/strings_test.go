package utils

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMaskKey(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"empty string", "", "(empty)"},
		{"short key", "dapi-123", "****"},
		{"normal key", "dapi0123456789abcdef", "dapi0123...cdef"},
		{"long key", "dapi0123456789abcdefghijklmnop", "dapi0123...mnop"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, MaskKey(tt.input))
		})
	}
}

func TestMaskKeyShort(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"empty string", "", "****"},
		{"very short key", "abc", "****"},
		{"8 char key", "12345678", "****"},
		{"normal key", "dapi-abc123", "dapi...c123"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, MaskKeyShort(tt.input))
		})
	}
}

func TestPreview(t *testing.T) {
	assert.Equal(t, "short", Preview("short", 10))
	assert.Equal(t, "abcde...(truncated)", Preview("abcdefghij", 5))
	assert.Equal(t, "unbounded", Preview("unbounded", 0))

	// "é" is two bytes; cutting at 2 would land inside it.
	got := Preview("aéz"+strings.Repeat("x", 10), 2)
	assert.True(t, utf8.ValidString(got))
	assert.Equal(t, "a...(truncated)", got)
}

func TestMarshalNoEscape(t *testing.T) {
	out, err := MarshalNoEscape(map[string]string{"html": "<b>&</b>"})
	require.NoError(t, err)
	assert.Equal(t, `{"html":"<b>&</b>"}`, string(out))
}
