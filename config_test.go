package symex_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/benbjohnson/symex"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestParseConfig(t *testing.T) {
	t.Run("Defaults", func(t *testing.T) {
		config, err := symex.ParseConfig(nil)
		require.NoError(t, err)
		require.Equal(t, symex.NewDefaultConfig(), config)
		require.Equal(t, 16000, config.MaxSteps)
		require.Equal(t, 2, config.MaxVisitsPerNode)
	})

	t.Run("Override", func(t *testing.T) {
		config, err := symex.ParseConfig([]byte("max-steps: 50\nsearcher: bfs\nlog-level: debug\n"))
		require.NoError(t, err)
		require.Equal(t, 50, config.MaxSteps)
		require.Equal(t, "bfs", config.Searcher)
		require.Equal(t, symex.DefaultMaxStates, config.MaxStates)

		level, err := config.Level()
		require.NoError(t, err)
		require.Equal(t, zapcore.DebugLevel, level)
	})

	t.Run("Invalid", func(t *testing.T) {
		for _, s := range []string{
			"max-yields: 0\n",
			"parallelism: -1\n",
			"searcher: astar\n",
			"log-level: loud\n",
		} {
			_, err := symex.ParseConfig([]byte(s))
			require.ErrorIs(t, err, symex.ErrInvalidConfig, s)
		}
	})

	t.Run("Malformed", func(t *testing.T) {
		_, err := symex.ParseConfig([]byte("max-steps: [1"))
		require.Error(t, err)
		require.NotErrorIs(t, err, symex.ErrInvalidConfig)
	})
}

func TestLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "symex.yaml")
	require.NoError(t, os.WriteFile(path, []byte("max-flows: 3\n"), 0o666))

	config, err := symex.LoadConfig(path)
	require.NoError(t, err)
	require.Equal(t, 3, config.MaxFlows)

	_, err = symex.LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	require.ErrorIs(t, err, os.ErrNotExist)
}
