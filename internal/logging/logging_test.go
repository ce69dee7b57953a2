package logging

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestBuild_LevelsMapCorrectly(t *testing.T) {
	cases := map[string]zapcore.Level{
		"debug":       zapcore.DebugLevel,
		"info":        zapcore.InfoLevel,
		"warn":        zapcore.WarnLevel,
		"error":       zapcore.ErrorLevel,
		"unknown-foo": zapcore.InfoLevel,
	}
	for level, want := range cases {
		log, err := Build(level)
		require.NoError(t, err)
		assert.True(t, log.Core().Enabled(want))
		if want != zapcore.DebugLevel {
			assert.False(t, log.Core().Enabled(want-1))
		}
	}
}
