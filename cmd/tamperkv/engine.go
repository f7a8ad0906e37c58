package main

import (
	"fmt"
	"os"
	"path/filepath"

	"tamperkv/internal/config"
	"tamperkv/internal/hasher"
	"tamperkv/internal/integrity"
	"tamperkv/internal/persist"
	"tamperkv/internal/store"
	boltstore "tamperkv/internal/store/bolt"
	pebblestore "tamperkv/internal/store/pebble"
)

// openEngine opens both stores described by cfg and loads (or seeds) the
// database. The returned engine owns the stores.
func openEngine(cfg *config.Config) (*integrity.Engine, error) {
	h, err := hasher.New(cfg.Store.HashAlgorithm)
	if err != nil {
		return nil, err
	}

	primaryStore, err := openBolt(cfg.PrimaryPath())
	if err != nil {
		return nil, fmt.Errorf("primary store: %w", err)
	}
	backupStore, err := openBackup(cfg)
	if err != nil {
		_ = primaryStore.Close()
		return nil, fmt.Errorf("backup store: %w", err)
	}

	primary := persist.New(primaryStore, persist.RolePrimary)
	backup := persist.New(backupStore, persist.RoleBackup)
	eng, err := integrity.Open(primary, backup, h, integrity.Options{
		SeedKey:   cfg.Store.SeedKey,
		SeedValue: cfg.Store.SeedValue,
	})
	if err != nil {
		_ = primary.Close()
		_ = backup.Close()
		return nil, err
	}
	return eng, nil
}

func openBackup(cfg *config.Config) (store.Store, error) {
	path := cfg.BackupPath()
	switch cfg.Store.BackupBackend {
	case config.BackendPebble:
		if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
			return nil, err
		}
		return pebblestore.Open(path)
	default:
		return openBolt(path)
	}
}

func openBolt(path string) (*boltstore.Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, err
	}
	return boltstore.Open(path)
}
