// Copyright (C) 2023 MineSkin.org
// See LICENSE for copying information.

package generator

import (
	"context"
	"time"

	"github.com/zeebo/errs"
	"go.uber.org/zap"

	"mineskin.org/mineskin/accountpool"
	"mineskin.org/mineskin/mojang"
	"mineskin.org/mineskin/optimus"
	"mineskin.org/mineskin/skinimage"
	"mineskin.org/mineskin/skins"
	"mineskin.org/mineskin/tempfiles"
)

// upstreamChange issues the actual skin-change call once the account is
// authenticated.
type upstreamChange func(ctx context.Context, accessToken string, addr mojang.RequestAddr) error

// generateUpstream runs stages D through F: acquire an account, ensure a
// valid bearer token, apply the change, fetch the resulting signed texture
// descriptor, and persist the new record. Every failure after acquisition
// releases the lease as a failure of the matching kind.
func (service *Service) generateUpstream(ctx context.Context, change upstreamChange,
	variant skins.Variant, hash string, opts Options, req RequestInfo,
	source string, start time.Time) (_ *skins.Skin, err error) {
	defer mon.Task()(&ctx)(&err)

	lease, err := service.pool.Acquire(ctx)
	if err != nil {
		return nil, err
	}

	skin, err := service.runLeased(ctx, lease, change, variant, hash, opts, req, source, start)
	if err != nil {
		if releaseErr := lease.ReleaseFailure(ctx, failureKind(err)); releaseErr != nil {
			service.log.Warn("failure release did not persist", zap.Error(releaseErr))
		}
		return nil, err
	}

	if err := lease.ReleaseSuccess(ctx); err != nil {
		service.log.Warn("success release did not persist", zap.Error(err))
	}
	return skin, nil
}

func (service *Service) runLeased(ctx context.Context, lease *accountpool.Lease, change upstreamChange,
	variant skins.Variant, hash string, opts Options, req RequestInfo,
	source string, start time.Time) (_ *skins.Skin, err error) {

	account, err := service.auth.EnsureAuthenticated(ctx, lease.Account, req.IP)
	if err != nil {
		return nil, err
	}
	lease.Account = account

	addr := mojang.RequestAddr{UserIP: req.IP, AccountIP: account.RequestIP}
	if err := change(ctx, account.AccessToken, addr); err != nil {
		return nil, err
	}

	_, shortUUID, err := mojang.NormalizeUUID(account.UUID)
	if err != nil {
		return nil, Error.New("account %d has no valid profile uuid", account.ID)
	}
	profile, err := service.client.Profile(ctx, shortUUID)
	if err != nil {
		return nil, err
	}
	descriptor, err := profile.TextureDescriptor()
	if err != nil {
		return nil, err
	}

	mojangHash, err := service.fetchTextureHash(ctx, descriptor.SkinURL)
	if err != nil {
		return nil, err
	}

	// An unchanged texture url means the upstream served a cached skin;
	// the counter demotes the account in the selection order.
	if descriptor.SkinURL == account.LastTextureURL {
		account.SameTextureCounter++
	} else {
		account.SameTextureCounter = 0
		account.LastTextureURL = descriptor.SkinURL
	}

	skin := &skins.Skin{
		Hash:       hash,
		UUID:       account.UUID,
		Name:       opts.Name,
		Variant:    variant,
		Visibility: opts.Visibility,

		Value:       descriptor.Value,
		Signature:   descriptor.Signature,
		TextureURL:  descriptor.SkinURL,
		TextureHash: skins.TextureHash(descriptor.SkinURL),
		MojangHash:  mojangHash,

		Timestamp:          service.nowFn(),
		GenerateDurationMs: service.nowFn().Sub(start).Milliseconds(),
		AccountID:          account.ID,
		Server:             service.server,

		Via:       req.Via,
		UserAgent: req.UserAgent,
		Source:    source,
	}
	return service.persist(ctx, skin)
}

// fetchTextureHash downloads what the upstream actually stored and hashes
// it as an independent integrity fingerprint.
func (service *Service) fetchTextureHash(ctx context.Context, textureURL string) (_ string, err error) {
	handle, err := service.temp.Acquire(tempfiles.KindMojang)
	if err != nil {
		return "", err
	}
	defer func() { err = errs.Combine(err, handle.Release()) }()

	if err := service.temp.DownloadTo(ctx, service.client.HTTP(), textureURL, handle, skinimage.MaxBytes); err != nil {
		return "", err
	}
	data, err := handle.Read()
	if err != nil {
		return "", err
	}
	return skinimage.Hash(data)
}

// persist allocates a public id and inserts the record. When two requests
// race onto the same fresh id the unique index arbitrates and the loser
// re-runs allocation.
func (service *Service) persist(ctx context.Context, skin *skins.Skin) (_ *skins.Skin, err error) {
	defer mon.Task()(&ctx)(&err)

	for try := 0; try < optimus.MaxTries; try++ {
		id, err := service.alloc.Next(ctx)
		if err != nil {
			return nil, err
		}
		skin.ID = id

		inserted, err := service.skins.Insert(ctx, skin)
		if err != nil {
			if skins.ErrDuplicateID.Has(err) {
				continue
			}
			return nil, Error.Wrap(err)
		}
		return inserted, nil
	}
	return nil, optimus.ErrExhausted.New("insert kept colliding")
}
