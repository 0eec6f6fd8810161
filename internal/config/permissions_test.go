// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Tidvec Contributors

//go:build !windows

package config_test

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tidvec-dev/tidvec/internal/config"
)

// captureLogs routes slog output to a buffer for the duration of fn.
func captureLogs(t *testing.T, fn func()) string {
	t.Helper()
	var sb strings.Builder
	prev := slog.Default()
	slog.SetDefault(slog.New(slog.NewTextHandler(&sb, &slog.HandlerOptions{Level: slog.LevelDebug})))
	defer slog.SetDefault(prev)
	fn()
	return sb.String()
}

func TestWarnInsecurePermissions_WorldReadable(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tidvec.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server:\n"), 0o644))

	out := captureLogs(t, func() { config.WarnInsecurePermissions(path) })
	assert.Contains(t, out, "insecure permissions")
}

func TestWarnInsecurePermissions_OwnerOnly(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tidvec.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server:\n"), 0o600))

	out := captureLogs(t, func() { config.WarnInsecurePermissions(path) })
	assert.NotContains(t, out, "insecure permissions")
}

func TestWarnInsecurePermissions_EmptyPathIsNoop(t *testing.T) {
	out := captureLogs(t, func() { config.WarnInsecurePermissions("") })
	assert.Empty(t, out)
}

func TestWarnInsecurePermissions_MissingFile(t *testing.T) {
	out := captureLogs(t, func() {
		config.WarnInsecurePermissions(filepath.Join(t.TempDir(), "absent.yaml"))
	})
	assert.NotContains(t, out, "insecure permissions")
}
