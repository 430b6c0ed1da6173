// Relay - Real-time Messaging Gateway for StudyPath
// Copyright 2026 StudyPath
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/studypath/relay

// Package storage opens the embedded BadgerDB shared by the notification
// and chat stores.
package storage

import (
	"fmt"

	"github.com/dgraph-io/badger/v4"

	"github.com/studypath/relay/internal/config"
	"github.com/studypath/relay/internal/logging"
)

// Open opens the BadgerDB described by the configuration. In-memory mode
// is for tests and ephemeral deployments; everything else persists at
// the configured path.
func Open(cfg config.StoreConfig) (*badger.DB, error) {
	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		opts = badger.DefaultOptions(cfg.Path)
	}
	opts.Logger = nil // Suppress BadgerDB logs

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger db: %w", err)
	}

	logging.Info().
		Str("path", cfg.Path).
		Bool("in_memory", cfg.InMemory).
		Msg("store opened")
	return db, nil
}
