// Package main tests for the ThreadPoint CLI application
package main

import (
	"bytes"
	"io"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// captureOutput captures stdout output during test execution
func captureOutput(f func()) string {
	old := os.Stdout
	r, w, _ := os.Pipe()
	os.Stdout = w

	f()

	w.Close()
	os.Stdout = old

	var buf bytes.Buffer
	io.Copy(&buf, r)
	return buf.String()
}

func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	rootCmd.SetArgs(args)
	var err error
	output := captureOutput(func() {
		err = rootCmd.Execute()
	})
	return output, err
}

func TestVersionCommand(t *testing.T) {
	tests := []struct {
		name      string
		version   string
		commit    string
		buildTime string
		want      string
	}{
		{
			name:      "version with dev defaults",
			version:   "dev",
			commit:    "unknown",
			buildTime: "unknown",
			want:      "ThreadPoint dev (commit: unknown, built: unknown)\n",
		},
		{
			name:      "version with custom values",
			version:   "v1.0.0",
			commit:    "abc123",
			buildTime: "2024-01-01",
			want:      "ThreadPoint v1.0.0 (commit: abc123, built: 2024-01-01)\n",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			oldVersion, oldCommit, oldBuildTime := Version, Commit, BuildTime
			Version, Commit, BuildTime = tt.version, tt.commit, tt.buildTime
			defer func() {
				Version, Commit, BuildTime = oldVersion, oldCommit, oldBuildTime
			}()

			output, err := runCLI(t, "version")
			require.NoError(t, err)
			assert.Equal(t, tt.want, output)
		})
	}
}

func TestListCommand(t *testing.T) {
	// The required-flag case must run before any valid list invocation:
	// a cobra flag stays marked as set for the life of the process.
	t.Run("requires thread flag", func(t *testing.T) {
		_, err := runCLI(t, "list")
		assert.Error(t, err)
	})

	t.Run("empty store", func(t *testing.T) {
		output, err := runCLI(t, "list", "--thread", "thread-none")
		require.NoError(t, err)
		assert.Contains(t, output, "No checkpoints found.")
	})
}

func TestStatsCommand(t *testing.T) {
	output, err := runCLI(t, "stats", "--thread", "")
	require.NoError(t, err)
	assert.Contains(t, output, "Checkpoint statistics (all threads)")
	assert.Contains(t, output, "Total")
}

func TestCleanupCommand(t *testing.T) {
	t.Run("forced sweep on empty store", func(t *testing.T) {
		output, err := runCLI(t, "cleanup", "--thread", "", "--force")
		require.NoError(t, err)
		assert.Contains(t, output, "Removed 0 expired checkpoint(s).")
	})

	t.Run("archive window requires thread", func(t *testing.T) {
		_, err := runCLI(t, "cleanup", "--archive-older-than", "24h", "--force")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "requires --thread")
	})
}

func TestVersionOutputFormat(t *testing.T) {
	output, err := runCLI(t, "version")
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(output, "ThreadPoint "))
	assert.Contains(t, output, "commit:")
	assert.Contains(t, output, "built:")
}
