package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/require"

	"github.com/autosender/autosender/internal/model"
)

// runMainEnv makes the test binary act as autosender, so it can be started
// as its own dry-run worker.
const runMainEnv = "AUTOSENDER_TEST_RUN_MAIN"

func TestMain(m *testing.M) {
	if os.Getenv(runMainEnv) == "1" {
		main()
		os.Exit(0)
	}
	os.Exit(m.Run())
}

func TestStoreConfig(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "nested", "autosender.yaml")
	require.NoError(t, storeConfig(path, model.DefaultConfig()))
	require.True(t, exists(path))
	require.False(t, exists(filepath.Dir(path)))

	f, err := os.Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = f.Close() })
	cfg, err := model.LoadConfig(f)
	require.NoError(t, err)
	require.Equal(t, model.DefaultConfig(), *cfg)
}

func TestJobSettings(t *testing.T) {
	t.Setenv("AUTOSENDER_JOB_REPEAT_COUNT", "7")

	v := viper.New()
	flags := pflag.NewFlagSet("run", pflag.ContinueOnError)
	addRunFlags(flags, v)
	require.NoError(t, flags.Parse([]string{"--message", "hi there", "--interval", "0.25"}))

	base := model.DefaultConfig().Job
	got := jobSettings(v, base)
	require.Equal(t, "hi there", got.Message)
	require.Equal(t, 0.25, got.Interval)
	require.Equal(t, 7, got.RepeatCount)
	require.Equal(t, base.StartTime, got.StartTime)
	require.Equal(t, base.UseClipboard, got.UseClipboard)

	job, err := got.Build()
	require.NoError(t, err)
	require.Equal(t, 7, job.RepeatCount)
}
