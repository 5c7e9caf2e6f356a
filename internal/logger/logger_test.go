package logger

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestWithCarriesFields(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	l := Wrap(zap.New(core))

	l.With("product_id", int64(7)).Info("price_committed", "new_price", 102.0)

	require.Equal(t, 1, logs.Len())
	entry := logs.All()[0]
	assert.Equal(t, "price_committed", entry.Message)
	fields := entry.ContextMap()
	assert.Equal(t, int64(7), fields["product_id"])
	assert.Equal(t, 102.0, fields["new_price"])
}

func TestLevelsReachCore(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	l := Wrap(zap.New(core))

	l.Debug("d")
	l.Info("i")
	l.Warn("w")
	l.Error("e")

	var levels []string
	for _, e := range logs.All() {
		levels = append(levels, e.Level.String())
	}
	assert.Equal(t, []string{"debug", "info", "warn", "error"}, levels)
}

func TestNewModes(t *testing.T) {
	for _, mode := range []string{"dev", "prod", "Production", ""} {
		l, err := New(mode)
		require.NoError(t, err, mode)
		assert.NotNil(t, l)
	}

	_, err := New("verbose")
	assert.ErrorContains(t, err, `unknown log mode "verbose"`)
}

func TestOrNop(t *testing.T) {
	assert.NotNil(t, OrNop(nil))
	l := Nop()
	assert.Same(t, l, OrNop(l))
}
