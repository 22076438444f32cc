// Copyright (C) 2023 MineSkin.org
// See LICENSE for copying information.

// Package mineskin ties the generation subsystems into a runnable peer.
package mineskin

import (
	"context"

	"mineskin.org/mineskin/accounts"
	"mineskin.org/mineskin/skins"
)

// DB is the master database for the skin generation service.
//
// architecture: Master Database
type DB interface {
	// Skins returns the catalog of generated skins.
	Skins() skins.DB
	// Accounts returns the upstream credential pool.
	Accounts() accounts.DB
	// EnsureSchema creates identity indexes.
	EnsureSchema(ctx context.Context) error
	// Close closes the database.
	Close() error
}
