package logger

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestSanitizeKVsRedactsSecrets(t *testing.T) {
	out := sanitizeKVs([]interface{}{"api_key", "sk-123", "collection", "dtk_ai_documents", "Authorization", "Bearer x"})
	assert.Equal(t, []interface{}{"api_key", "[REDACTED]", "collection", "dtk_ai_documents", "Authorization", "[REDACTED]"}, out)
}

func TestSanitizeKVsOddLength(t *testing.T) {
	out := sanitizeKVs([]interface{}{"chunks", 4, "dangling"})
	assert.Equal(t, []interface{}{"chunks", 4, "dangling"}, out)
}

func TestWithCarriesFields(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	l := &Logger{SugaredLogger: zap.New(core).Sugar()}

	l.With("service", "Orchestrator").Info("stored chunks", "count", 3, "token", "abc")

	entries := logs.All()
	if assert.Len(t, entries, 1) {
		ctx := entries[0].ContextMap()
		assert.Equal(t, "Orchestrator", ctx["service"])
		assert.Equal(t, int64(3), ctx["count"])
		assert.Equal(t, "[REDACTED]", ctx["token"])
	}
}

func TestNopDiscards(t *testing.T) {
	l := Nop()
	l.Info("ignored", "k", "v")
	l.Sync()
}
