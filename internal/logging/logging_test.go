package logging

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestNew(t *testing.T) {
	tests := []struct {
		level    string
		encoding string
		want     zap.AtomicLevel
	}{
		{"debug", "console", zap.NewAtomicLevelAt(zap.DebugLevel)},
		{"info", "json", zap.NewAtomicLevelAt(zap.InfoLevel)},
		{"warn", "json", zap.NewAtomicLevelAt(zap.WarnLevel)},
		{"error", "console", zap.NewAtomicLevelAt(zap.ErrorLevel)},
		{"unknown", "json", zap.NewAtomicLevelAt(zap.InfoLevel)},
	}
	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			l, err := New(tt.level, tt.encoding)
			require.NoError(t, err)
			assert.True(t, l.Core().Enabled(tt.want.Level()))
			assert.False(t, l.Core().Enabled(tt.want.Level()-1))
		})
	}

	_, err := New("info", "xml")
	assert.Error(t, err)
}
