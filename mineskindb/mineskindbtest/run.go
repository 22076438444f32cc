// Copyright (C) 2023 MineSkin.org
// See LICENSE for copying information.

// Package mineskindbtest provides an in-memory catalog for tests.
package mineskindbtest

import (
	"context"
	"sort"
	"sync"
	"testing"

	"storj.io/common/testcontext"

	"mineskin.org/mineskin/accounts"
	"mineskin.org/mineskin/skins"
)

// Run executes a test against a fresh in-memory database.
func Run(t *testing.T, test func(ctx *testcontext.Context, t *testing.T, db *DB)) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()
	test(ctx, t, New())
}

// DB is an in-memory implementation of mineskin.DB. It applies the same
// eligibility predicate and selection order as the Mongo implementation.
type DB struct {
	mu       sync.Mutex
	skins    map[int64]skins.Skin
	accounts map[int64]accounts.Account
}

// New creates an empty in-memory database.
func New() *DB {
	return &DB{
		skins:    make(map[int64]skins.Skin),
		accounts: make(map[int64]accounts.Account),
	}
}

// Skins returns the skins collection interface.
func (db *DB) Skins() skins.DB { return (*skinsDB)(db) }

// Accounts returns the accounts collection interface.
func (db *DB) Accounts() accounts.DB { return (*accountsDB)(db) }

// EnsureSchema implements mineskin.DB.
func (db *DB) EnsureSchema(ctx context.Context) error { return nil }

// Close implements mineskin.DB.
func (db *DB) Close() error { return nil }

// AddAccount seeds an account.
func (db *DB) AddAccount(account accounts.Account) {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.accounts[account.ID] = account
}

// AddSkin seeds a skin.
func (db *DB) AddSkin(skin skins.Skin) {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.skins[skin.ID] = skin
}

// Account returns a copy of a seeded account.
func (db *DB) Account(id int64) accounts.Account {
	db.mu.Lock()
	defer db.mu.Unlock()
	return db.accounts[id]
}

// SkinCount returns the number of stored skins.
func (db *DB) SkinCount() int {
	db.mu.Lock()
	defer db.mu.Unlock()
	return len(db.skins)
}

type skinsDB DB

func matches(skin skins.Skin, filter skins.Filter) bool {
	return skin.Name == filter.Name &&
		skin.Variant == filter.Variant &&
		skin.Visibility == filter.Visibility
}

func (db *skinsDB) find(pred func(skins.Skin) bool) (*skins.Skin, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	for _, skin := range db.skins {
		if pred(skin) {
			found := skin
			return &found, nil
		}
	}
	return nil, skins.ErrNotFound.New("")
}

func (db *skinsDB) ByID(ctx context.Context, id int64, filter skins.Filter) (*skins.Skin, error) {
	return db.find(func(s skins.Skin) bool { return s.ID == id && matches(s, filter) })
}

func (db *skinsDB) ByTexture(ctx context.Context, urlOrHash string, filter skins.Filter) (*skins.Skin, error) {
	return db.find(func(s skins.Skin) bool {
		return (s.TextureURL == urlOrHash || s.TextureHash == urlOrHash) && matches(s, filter)
	})
}

func (db *skinsDB) ByUUID(ctx context.Context, uuid string, filter skins.Filter) (*skins.Skin, error) {
	return db.find(func(s skins.Skin) bool { return s.UUID == uuid && matches(s, filter) })
}

func (db *skinsDB) ByHash(ctx context.Context, hash string, filter skins.Filter) (*skins.Skin, error) {
	return db.find(func(s skins.Skin) bool { return s.Hash == hash && matches(s, filter) })
}

func (db *skinsDB) ExistsID(ctx context.Context, id int64) (bool, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	_, exists := db.skins[id]
	return exists, nil
}

func (db *skinsDB) Insert(ctx context.Context, skin *skins.Skin) (*skins.Skin, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	if _, exists := db.skins[skin.ID]; exists {
		return nil, skins.ErrDuplicateID.New("%d", skin.ID)
	}
	db.skins[skin.ID] = *skin
	inserted := *skin
	return &inserted, nil
}

func (db *skinsDB) IncrementDuplicate(ctx context.Context, skin *skins.Skin) (*skins.Skin, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	stored, exists := db.skins[skin.ID]
	if !exists {
		return nil, skins.ErrNotFound.New("%d", skin.ID)
	}
	stored.DuplicateCount++
	db.skins[skin.ID] = stored
	updated := stored
	return &updated, nil
}

type accountsDB DB

func (db *accountsDB) Get(ctx context.Context, id int64) (*accounts.Account, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	account, exists := db.accounts[id]
	if !exists {
		return nil, accounts.ErrNotFound.New("%d", id)
	}
	found := account
	return &found, nil
}

func (db *accountsDB) FindEligible(ctx context.Context, e accounts.Eligibility) (*accounts.Account, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	var eligible []accounts.Account
	for _, account := range db.accounts {
		candidate := account
		if accounts.Eligible(&candidate, e) {
			eligible = append(eligible, candidate)
		}
	}
	if len(eligible) == 0 {
		return nil, accounts.ErrNotFound.New("no eligible account")
	}

	sort.Slice(eligible, func(i, j int) bool {
		if eligible[i].LastUsedSec != eligible[j].LastUsedSec {
			return eligible[i].LastUsedSec < eligible[j].LastUsedSec
		}
		if eligible[i].LastSelectedSec != eligible[j].LastSelectedSec {
			return eligible[i].LastSelectedSec < eligible[j].LastSelectedSec
		}
		return eligible[i].SameTextureCounter < eligible[j].SameTextureCounter
	})

	found := eligible[0]
	return &found, nil
}

func (db *accountsDB) CountUsable(ctx context.Context, errorThreshold int) (int, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	count := 0
	for _, account := range db.accounts {
		if account.Enabled && account.ErrorCounter < errorThreshold {
			count++
		}
	}
	return count, nil
}

func (db *accountsDB) Update(ctx context.Context, account *accounts.Account) (*accounts.Account, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.accounts[account.ID] = *account
	updated := *account
	return &updated, nil
}
