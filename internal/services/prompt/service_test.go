package prompt

import (
	"bytes"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAsk_ReturnsTrimmedAnswer(t *testing.T) {
	var out bytes.Buffer
	p := New(strings.NewReader("  pve2  \n"), &out)

	answer, err := p.Ask("Node", "")

	require.NoError(t, err)
	assert.Equal(t, "pve2", answer)
	assert.Equal(t, "Node: ", out.String())
}

func TestAsk_EmptyUsesDefault(t *testing.T) {
	var out bytes.Buffer
	p := New(strings.NewReader("\n"), &out)

	answer, err := p.Ask("Base IP", "192.168.1.100/24")

	require.NoError(t, err)
	assert.Equal(t, "192.168.1.100/24", answer)
	assert.Contains(t, out.String(), "[192.168.1.100/24]")
}

func TestAsk_LastLineWithoutNewline(t *testing.T) {
	p := New(strings.NewReader("3"), io.Discard)

	answer, err := p.Ask("Choice", "")

	require.NoError(t, err)
	assert.Equal(t, "3", answer)
}

func TestAsk_EOF(t *testing.T) {
	p := New(strings.NewReader(""), io.Discard)

	_, err := p.Ask("Choice", "")

	assert.True(t, errors.Is(err, io.EOF))
}

func TestConfirm(t *testing.T) {
	tests := []struct {
		name  string
		input string
		def   bool
		want  bool
	}{
		{"yes", "y\n", false, true},
		{"YES uppercase", "YES\n", false, true},
		{"no", "n\n", true, false},
		{"empty default true", "\n", true, true},
		{"empty default false", "\n", false, false},
		{"garbage is no", "maybe\n", true, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := New(strings.NewReader(tt.input), io.Discard)
			got, err := p.Confirm("Continue", tt.def)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestSecret_NonTerminalReadsLine(t *testing.T) {
	p := New(strings.NewReader("hunter2\n"), io.Discard)

	got, err := p.Secret("Password", "")

	require.NoError(t, err)
	assert.Equal(t, "hunter2", got)
}
