package console

import (
	"bytes"
	"context"
	"errors"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPrompt_Normalize(t *testing.T) {
	tests := []struct {
		name     string
		given    string
		expected string
	}{
		{"empty picks default", "", "y"},
		{"exact match", "n", "n"},
		{"case folded", "N", "n"},
		{"unmatched picks default", "maybe", "y"},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			assert.Equal(t, test.expected, normalize(test.given, yesNoConstraints))
		})
	}
}

func TestPrompt_String(t *testing.T) {
	assert.Equal(t, "address?", promptString("address?", nil))
	assert.Equal(t, "reset the bus? [Y/n]:", promptString("reset the bus?", yesNoConstraints))
}

func TestOutput(t *testing.T) {
	var out, errOut bytes.Buffer
	SetOutput(&out, &errOut)
	defer SetOutput(os.Stdout, os.Stderr)

	Infof("probing %#02x", 0x48)
	assert.Contains(t, out.String(), "probing 0x48")

	Warnf("address %#02x is reserved", 0x03)
	assert.Contains(t, errOut.String(), "WARN")

	assert.Contains(t, Format(errors.New("boom")), "ERROR")
	assert.Contains(t, Format(errors.New("boom")), "boom")
}

func TestDebugGatedByTrace(t *testing.T) {
	var out, errOut bytes.Buffer
	SetOutput(&out, &errOut)
	defer SetOutput(os.Stdout, os.Stderr)

	Trace = false
	Debug("hidden")
	Debugf("hidden %d", 1)
	assert.Empty(t, out.String())

	Trace = true
	defer func() { Trace = false }()
	Debug("shown")
	Debugf("shown %d", 2)
	assert.Contains(t, out.String(), "shown")
	assert.Contains(t, out.String(), "shown 2")
}

func TestSetVerbose(t *testing.T) {
	ctx := context.Background()
	assert.False(t, IsVerbose(ctx))
	assert.True(t, IsVerbose(SetVerbose(ctx, true)))
	assert.False(t, IsVerbose(SetVerbose(ctx, false)))
}
