package tui

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseCommand(t *testing.T) {
	tests := []struct {
		in   string
		want Command
	}{
		{"login abc.def", Command{Name: "login", Args: "abc.def"}},
		{"  FIND  flat white ", Command{Name: "find", Args: "flat white"}},
		{"find", Command{Name: "find"}},
		{"rm OFF-240101-001", Command{Name: "remove", Args: "OFF-240101-001"}},
		{"q", Command{Name: "quit"}},
	}
	for _, tt := range tests {
		got, err := ParseCommand(tt.in)
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}
}

func TestParseCommandErrors(t *testing.T) {
	_, err := ParseCommand("dance")
	assert.EqualError(t, err, `unknown command "dance"`)

	_, err = ParseCommand("login")
	assert.EqualError(t, err, ":login needs an argument")
}
