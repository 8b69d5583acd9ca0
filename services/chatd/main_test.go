package main

import (
	"context"
	"testing"

	"github.com/chatroom/internal/config"
	"github.com/chatroom/internal/storage/badger"
	"github.com/chatroom/internal/storage/memory"
	"github.com/stretchr/testify/require"
)

func TestOpenStoreMemory(t *testing.T) {
	store, err := openStore(&config.Config{Store: config.StoreConfig{Backend: config.StoreMemory}}, false)
	require.NoError(t, err)
	defer store.Close()
	require.IsType(t, &memory.Client{}, store)
}

func TestOpenStoreBadger(t *testing.T) {
	cfg := &config.Config{Store: config.StoreConfig{Backend: config.StoreBadger, BadgerDir: t.TempDir()}}
	store, err := openStore(cfg, false)
	require.NoError(t, err)
	defer store.Close()
	require.IsType(t, &badger.Client{}, store)

	ctx := context.Background()
	require.NoError(t, store.Put(ctx, "mcf", "room1", map[string]int{"f": 1}))
	keys, err := store.Keys(ctx, "mcf")
	require.NoError(t, err)
	require.Equal(t, []string{"room1"}, keys)
}
