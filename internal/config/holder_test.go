// SPDX-License-Identifier: MIT

package config

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHolderGetReturnsInitial(t *testing.T) {
	initial := Defaults()
	initial.Service = "initial"

	holder := NewHolder(initial, NewLoader(""), "")
	assert.Equal(t, "initial", holder.Get().Service)
}

func TestHolderReloadSwapsOnSuccess(t *testing.T) {
	path := writeConfigFile(t, t.TempDir(), "service: reloaded\n")
	loader := NewLoader(path)

	initial, err := loader.Load()
	require.NoError(t, err)

	holder := NewHolder(initial, loader, path)

	require.NoError(t, os.WriteFile(path, []byte("service: reloaded-twice\n"), 0o600))
	require.NoError(t, holder.Reload(context.Background()))
	assert.Equal(t, "reloaded-twice", holder.Get().Service)
}

func TestHolderReloadKeepsOldConfigOnFailure(t *testing.T) {
	path := writeConfigFile(t, t.TempDir(), "service: good\n")
	loader := NewLoader(path)

	initial, err := loader.Load()
	require.NoError(t, err)

	holder := NewHolder(initial, loader, path)

	// Break the file: unknown key fails the strict parse
	require.NoError(t, os.WriteFile(path, []byte("sevrice: typo\n"), 0o600))
	err = holder.Reload(context.Background())
	require.Error(t, err)
	assert.Equal(t, "good", holder.Get().Service, "failed reload must keep the previous config")
}

func TestHolderNotifiesListeners(t *testing.T) {
	path := writeConfigFile(t, t.TempDir(), "service: v1\n")
	loader := NewLoader(path)

	initial, err := loader.Load()
	require.NoError(t, err)

	holder := NewHolder(initial, loader, path)
	ch := make(chan Config, 1)
	holder.RegisterListener(ch)

	require.NoError(t, os.WriteFile(path, []byte("service: v2\n"), 0o600))
	require.NoError(t, holder.Reload(context.Background()))

	select {
	case got := <-ch:
		assert.Equal(t, "v2", got.Service)
	default:
		t.Fatal("expected listener notification")
	}
}

func TestHolderSkipsFullListener(t *testing.T) {
	path := writeConfigFile(t, t.TempDir(), "service: v1\n")
	loader := NewLoader(path)

	initial, err := loader.Load()
	require.NoError(t, err)

	holder := NewHolder(initial, loader, path)
	full := make(chan Config) // unbuffered and never drained
	holder.RegisterListener(full)

	// Must not block even though the listener cannot receive
	require.NoError(t, holder.Reload(context.Background()))
}

func TestHolderWatcherDisabledWithoutPath(t *testing.T) {
	holder := NewHolder(Defaults(), NewLoader(""), "")
	assert.NoError(t, holder.StartWatcher(context.Background()))
	holder.Stop()
}
