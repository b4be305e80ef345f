package logger

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestMaskEmail(t *testing.T) {
	testCases := []struct {
		name     string
		input    string
		expected string
	}{
		{name: "普通邮箱", input: "alice@example.com", expected: "a***e@e*****e.c*m"},
		{name: "短用户名", input: "al@ex.io", expected: "**@**.**"},
		{name: "非邮箱原样返回", input: "not-an-email", expected: "not-an-email"},
		{name: "缺少域名原样返回", input: "bob@", expected: "bob@"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.expected, MaskEmail(tc.input))
		})
	}
}

func TestRedactLine(t *testing.T) {
	assert.Equal(t, "A0001 LOGIN [redacted]", RedactLine("A0001 LOGIN \"user\" \"secret\"\r\n"))
	assert.Equal(t, "AUTH PLAIN [redacted]", RedactLine("AUTH PLAIN AHVzZXIAc2VjcmV0"))
	assert.Equal(t, "A0002 SELECT INBOX", RedactLine("A0002 SELECT INBOX"))
}

func TestRedactingWriter(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	w := NewRedactingWriter(zap.New(core), "client")

	trace := []byte("T1 LOGIN user pass\r\nT2 SELECT INBOX\r\n")
	n, err := w.Write(trace)

	require.NoError(t, err)
	assert.Equal(t, len(trace), n)
	entries := logs.All()
	require.Len(t, entries, 2)
	assert.Equal(t, "T1 LOGIN [redacted]", entries[0].ContextMap()["line"])
	assert.Equal(t, "T2 SELECT INBOX", entries[1].ContextMap()["line"])
	assert.Equal(t, "client", entries[1].ContextMap()["direction"])
}
