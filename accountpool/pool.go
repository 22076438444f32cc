// Copyright (C) 2023 MineSkin.org
// See LICENSE for copying information.

// Package accountpool schedules upstream accounts across concurrent
// generation requests: per-account cooldowns, error budgets, forced
// timeouts, and exclusive selection.
package accountpool

import (
	"context"
	"time"

	"github.com/spacemonkeygo/monkit/v3"
	"github.com/zeebo/errs"
	"go.uber.org/zap"

	"mineskin.org/mineskin/accounts"
)

var mon = monkit.Package()

// Error is the default accountpool errs class.
var Error = errs.Class("accountpool")

// ErrNoAccount is returned when the eligibility query comes back empty.
var ErrNoAccount = errs.Class("no account available")

// FailureKind classifies a failed generation attempt for release
// bookkeeping.
type FailureKind int

const (
	// FailureGeneric covers upstream and internal failures.
	FailureGeneric FailureKind = iota
	// FailureAuth additionally parks the account behind a forced timeout.
	FailureAuth
)

// Config holds scheduler parameters.
type Config struct {
	Server          string        `help:"identifier of this serving node" default:"default"`
	ErrorThreshold  int           `help:"per-account error budget before it stops being selected" default:"10"`
	MinAccountDelay time.Duration `help:"minimum delay between requests against a single account" default:"10s"`
}

// Pool selects eligible accounts exclusively. At most one lease exists per
// account id within this process; across nodes the persisted cooldowns are
// the exclusion protocol.
type Pool struct {
	log    *zap.Logger
	db     accounts.DB
	config Config

	locked *lockedSet
	nowFn  func() time.Time
}

// NewPool creates an account scheduler.
func NewPool(log *zap.Logger, db accounts.DB, config Config) *Pool {
	if config.Server == "" {
		config.Server = accounts.DefaultServer
	}
	return &Pool{
		log:    log,
		db:     db,
		config: config,
		locked: newLockedSet(),
		nowFn:  time.Now,
	}
}

// Acquire leases the most idle eligible account. The caller must finish
// with exactly one ReleaseSuccess or ReleaseFailure.
func (pool *Pool) Acquire(ctx context.Context) (_ *Lease, err error) {
	defer mon.Task()(&ctx)(&err)

	for {
		if err := ctx.Err(); err != nil {
			return nil, Error.Wrap(err)
		}

		account, err := pool.db.FindEligible(ctx, accounts.Eligibility{
			NowSec:         pool.nowFn().Unix(),
			Server:         pool.config.Server,
			ErrorThreshold: pool.config.ErrorThreshold,
			Locked:         pool.locked.Snapshot(),
		})
		if err != nil {
			if accounts.ErrNotFound.Has(err) {
				mon.Counter("no_account_available").Inc(1)
				return nil, ErrNoAccount.New("pool exhausted")
			}
			return nil, Error.Wrap(err)
		}

		if !pool.locked.TryLock(account.ID) {
			// Lost a race inside this process; query again without it.
			continue
		}

		account.LastSelectedSec = pool.nowFn().Unix()
		updated, err := pool.db.Update(ctx, account)
		if err != nil {
			pool.locked.Unlock(account.ID)
			return nil, Error.Wrap(err)
		}

		pool.log.Debug("account leased", zap.Int64("account", updated.ID))
		return &Lease{pool: pool, Account: updated}, nil
	}
}

// NextRequest returns the earliest time a caller should issue its next
// request: the configured delay spread across all usable accounts.
func (pool *Pool) NextRequest(ctx context.Context) time.Time {
	usable, err := pool.db.CountUsable(ctx, pool.config.ErrorThreshold)
	if err != nil || usable < 1 {
		usable = 1
	}
	return pool.nowFn().Add(pool.config.MinAccountDelay / time.Duration(usable))
}

// Lease is an exclusively held account.
type Lease struct {
	pool     *Pool
	Account  *accounts.Account
	released bool
}

// ReleaseSuccess records a successful generation: the error budget resets
// and the use cooldown starts.
func (lease *Lease) ReleaseSuccess(ctx context.Context) (err error) {
	defer mon.Task()(&ctx)(&err)

	account := lease.Account
	account.LastUsedSec = lease.pool.nowFn().Unix()
	account.SuccessCounter++
	account.TotalSuccessCounter++
	account.ErrorCounter = 0

	mon.Counter("generate_success").Inc(1)
	return lease.finish(ctx)
}

// ReleaseFailure records a failed attempt. An auth failure additionally
// parks the account behind the forced timeout window and detaches it from
// this serving node.
func (lease *Lease) ReleaseFailure(ctx context.Context, kind FailureKind) (err error) {
	defer mon.Task()(&ctx)(&err)

	account := lease.Account
	account.SuccessCounter = 0
	account.ErrorCounter++
	account.TotalErrorCounter++
	if kind == FailureAuth {
		account.ForcedTimeoutAtSec = lease.pool.nowFn().Unix()
		account.RequestServer = ""
		lease.pool.log.Warn("account parked after auth failure",
			zap.Int64("account", account.ID))
	}

	mon.Counter("generate_failure").Inc(1)
	return lease.finish(ctx)
}

func (lease *Lease) finish(ctx context.Context) error {
	if lease.released {
		return Error.New("lease released twice")
	}
	lease.released = true
	defer lease.pool.locked.Unlock(lease.Account.ID)

	// Bookkeeping must land even when the request itself was canceled.
	updated, err := lease.pool.db.Update(context.WithoutCancel(ctx), lease.Account)
	if err != nil {
		return Error.Wrap(err)
	}
	lease.Account = updated
	return nil
}
