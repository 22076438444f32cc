// Copyright (C) 2023 MineSkin.org
// See LICENSE for copying information.

// Package accounts defines the upstream credential pool entity and the
// database interface the scheduler selects from.
package accounts

import (
	"context"

	"github.com/zeebo/errs"
)

// ErrNotFound is returned when no account matches a lookup.
var ErrNotFound = errs.Class("account not found")

// DefaultServer is the request server value that matches every serving node.
const DefaultServer = "default"

// Account is a pool member. Credentials are created externally; the
// generator only mutates tokens, counters, timestamps and the forced
// timeout.
type Account struct {
	ID       int64  `bson:"id"`
	Username string `bson:"username"`
	UUID     string `bson:"uuid"`

	EncryptedPassword       string `bson:"encryptedPassword"`
	EncryptedSecurityAnswer string `bson:"encryptedSecurityAnswer,omitempty"`

	ClientToken string `bson:"clientToken"`
	AccessToken string `bson:"accessToken"`

	RequestIP     string `bson:"requestIp"`
	RequestServer string `bson:"requestServer"`

	LastUsedSec        int64 `bson:"lastUsed"`
	LastSelectedSec    int64 `bson:"lastSelected"`
	ForcedTimeoutAtSec int64 `bson:"forcedTimeoutAt"`
	TimeAddedSec       int64 `bson:"timeAdded"`

	ErrorCounter        int   `bson:"errorCounter"`
	SuccessCounter      int   `bson:"successCounter"`
	TotalErrorCounter   int64 `bson:"totalErrorCounter"`
	TotalSuccessCounter int64 `bson:"totalSuccessCounter"`

	SameTextureCounter int64  `bson:"sameTextureCounter"`
	LastTextureURL     string `bson:"lastTextureUrl"`

	Enabled bool `bson:"enabled"`
}

// Eligibility is the predicate an account must satisfy to be selected.
// All cooldown windows are expressed in epoch seconds.
type Eligibility struct {
	NowSec         int64
	Server         string
	ErrorThreshold int
	Locked         []int64
}

// Cooldown windows, in seconds, between account reuses. Cross-node
// exclusivity relies on these windows being persisted on the record.
const (
	AddedCooldownSec    = 60
	UsedCooldownSec     = 100
	SelectedCooldownSec = 50
	ForcedTimeoutSec    = 500
)

// Eligible reports whether the account satisfies the predicate. The
// database query mirrors this exactly; the in-memory implementation calls
// it directly.
func Eligible(a *Account, e Eligibility) bool {
	if !a.Enabled || a.ErrorCounter >= e.ErrorThreshold {
		return false
	}
	if a.TimeAddedSec >= e.NowSec-AddedCooldownSec {
		return false
	}
	if a.LastUsedSec >= e.NowSec-UsedCooldownSec {
		return false
	}
	if a.LastSelectedSec >= e.NowSec-SelectedCooldownSec {
		return false
	}
	if a.ForcedTimeoutAtSec >= e.NowSec-ForcedTimeoutSec {
		return false
	}
	if a.RequestServer != "" && a.RequestServer != DefaultServer && a.RequestServer != e.Server {
		return false
	}
	for _, id := range e.Locked {
		if id == a.ID {
			return false
		}
	}
	return true
}

// DB exposes methods to manage the accounts collection.
//
// architecture: Database
type DB interface {
	// Get queries an account by id.
	Get(ctx context.Context, id int64) (*Account, error)
	// FindEligible returns the eligible account with the lowest
	// (lastUsed, lastSelected, sameTextureCounter), or ErrNotFound.
	FindEligible(ctx context.Context, e Eligibility) (*Account, error)
	// CountUsable counts enabled accounts under the error threshold,
	// ignoring cooldowns. Feeds the per-request delay hint.
	CountUsable(ctx context.Context, errorThreshold int) (int, error)
	// Update persists the mutable fields of an account.
	Update(ctx context.Context, account *Account) (*Account, error)
}
