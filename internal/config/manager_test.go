// SPDX-License-Identifier: MIT

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestManagerSaveRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "ballast.yaml")

	cfg := Defaults()
	cfg.Service = "saved"
	cfg.Server.ListenAddr = ":9091"
	cfg.Database.PoolSize = 12

	mgr := NewManager(path)
	require.NoError(t, mgr.Save(cfg))

	loader := NewLoader(path)
	got, err := loader.Load()
	require.NoError(t, err)

	assert.Equal(t, "saved", got.Service)
	assert.Equal(t, ":9091", got.Server.ListenAddr)
	assert.Equal(t, 12, got.Database.PoolSize)
}

func TestManagerSaveOmitsSecrets(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "ballast.yaml")

	cfg := Defaults()
	cfg.Database.DSN = "postgres://app:s3cret@db:5432/app"
	cfg.API.Token = "super-secret"
	cfg.Cache.RedisPassword = "hunter2"

	mgr := NewManager(path)
	require.NoError(t, mgr.Save(cfg))

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	raw := string(data)
	assert.False(t, strings.Contains(raw, "s3cret"), "DSN must not be serialized")
	assert.False(t, strings.Contains(raw, "super-secret"), "token must not be serialized")
	assert.False(t, strings.Contains(raw, "hunter2"), "redis password must not be serialized")
}

func TestManagerSaveRequiresPath(t *testing.T) {
	mgr := NewManager("")
	assert.Error(t, mgr.Save(Defaults()))
}
