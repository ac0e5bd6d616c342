package confirm

import (
	"bytes"
	"strings"
	"testing"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const question = "Do you want to continue [y/N]?"

func TestAsk(t *testing.T) {
	color.NoColor = true

	tests := []struct {
		name     string
		input    string
		expected bool
	}{
		{name: "yes", input: "y\n", expected: true},
		{name: "full yes", input: "YES\n", expected: true},
		{name: "padded", input: "  y  \n", expected: true},
		{name: "no", input: "n\n", expected: false},
		{name: "empty line defaults to no", input: "\n", expected: false},
		{name: "eof defaults to no", input: "", expected: false},
		{name: "yes without newline", input: "y", expected: true},
		{name: "anything else", input: "sure\n", expected: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var out bytes.Buffer
			p := NewWithIO(strings.NewReader(tt.input), &out, true)

			ok, err := p.Ask(question)

			require.NoError(t, err)
			assert.Equal(t, tt.expected, ok)
			assert.Equal(t, question+" ", out.String())
		})
	}
}

func TestAsk_NonInteractive(t *testing.T) {
	var out bytes.Buffer
	p := NewWithIO(strings.NewReader("n\n"), &out, false)

	ok, err := p.Ask(question)

	require.NoError(t, err)
	assert.True(t, ok)
	assert.Empty(t, out.String())
	assert.False(t, p.Interactive())
}

func TestYes(t *testing.T) {
	ok, err := Yes{}.Ask(question)

	require.NoError(t, err)
	assert.True(t, ok)
}
