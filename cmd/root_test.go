package cmd

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/m1k1o/go-ustream/pkg/ustream"
)

func TestCommands(t *testing.T) {
	for _, name := range []string{"serve", "streams", "play"} {
		cmd, _, err := rootCmd.Find([]string{name})
		require.NoError(t, err, name)
		assert.Equal(t, name, cmd.Name())
	}
}

func TestFlags(t *testing.T) {
	for _, name := range []string{"config", "log.level", "ustream.password", "ustream.mux-format"} {
		assert.NotNil(t, rootCmd.PersistentFlags().Lookup(name), name)
	}

	serve, _, err := rootCmd.Find([]string{"serve"})
	require.NoError(t, err)
	assert.NotNil(t, serve.PersistentFlags().Lookup("bind"))
	assert.NotNil(t, serve.PersistentFlags().Lookup("metrics"))

	play, _, err := rootCmd.Find([]string{"play"})
	require.NoError(t, err)
	assert.NotNil(t, play.Flags().Lookup("output"))
}

func TestPlayInvalidURL(t *testing.T) {
	err := play(t.Context(), nil, "https://example.com/nope", "720p")
	assert.ErrorIs(t, err, ustream.ErrInvalidURL)
}

func TestParseLevel(t *testing.T) {
	level, ok := parseLevel("")
	assert.True(t, ok)
	assert.Equal(t, zerolog.InfoLevel, level)

	level, ok = parseLevel("debug")
	assert.True(t, ok)
	assert.Equal(t, zerolog.DebugLevel, level)

	level, ok = parseLevel("loud")
	assert.False(t, ok)
	assert.Equal(t, zerolog.InfoLevel, level)
}

func TestLogWriters(t *testing.T) {
	assert.Empty(t, logWriters(logConfig{}))
	assert.Len(t, logWriters(logConfig{Console: true}), 1)
}
