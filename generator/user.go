// Copyright (C) 2023 MineSkin.org
// See LICENSE for copying information.

package generator

import (
	"context"

	"github.com/zeebo/errs"

	"mineskin.org/mineskin/mojang"
	"mineskin.org/mineskin/skinimage"
	"mineskin.org/mineskin/skins"
	"mineskin.org/mineskin/tempfiles"
)

// FromUser catalogs the current skin of an existing profile. The profile's
// own signed texture descriptor is persisted as-is, so no pool account and
// no upstream change are involved.
func (service *Service) FromUser(ctx context.Context, inputUUID string, opts Options, req RequestInfo) (_ *skins.Skin, err error) {
	defer mon.Task()(&ctx)(&err)
	start := service.nowFn()
	defer observe("user", start)

	longUUID, shortUUID, err := mojang.NormalizeUUID(inputUUID)
	if err != nil {
		return nil, err
	}

	if duplicate, err := service.detector.ProbeUUID(ctx, longUUID, opts.filter()); err != nil || duplicate != nil {
		return duplicate, err
	}

	profile, err := service.client.Profile(ctx, shortUUID)
	if err != nil {
		return nil, err
	}
	descriptor, err := profile.TextureDescriptor()
	if err != nil {
		return nil, err
	}

	handle, err := service.temp.Acquire(tempfiles.KindMojang)
	if err != nil {
		return nil, err
	}
	defer func() { err = errs.Combine(err, handle.Release()) }()

	if err := service.temp.DownloadTo(ctx, service.client.HTTP(), descriptor.SkinURL, handle, skinimage.MaxBytes); err != nil {
		return nil, mojang.ErrInvalidSkinData.Wrap(err)
	}
	data, err := handle.Read()
	if err != nil {
		return nil, err
	}

	variant := opts.Variant
	if variant == skins.VariantUnknown || variant == "" {
		if descriptor.Model == "slim" {
			variant = skins.VariantSlim
		} else {
			variant = skins.VariantClassic
		}
	}

	validated, err := skinimage.Validate(data, variant)
	if err != nil {
		return nil, mojang.ErrInvalidSkinData.Wrap(err)
	}
	hash, duplicate, err := service.hashAndProbe(ctx, validated, opts)
	if err != nil || duplicate != nil {
		return duplicate, err
	}

	skin := &skins.Skin{
		Hash:       hash,
		UUID:       longUUID,
		Name:       opts.Name,
		Variant:    validated.Variant,
		Visibility: opts.Visibility,

		Value:       descriptor.Value,
		Signature:   descriptor.Signature,
		TextureURL:  descriptor.SkinURL,
		TextureHash: skins.TextureHash(descriptor.SkinURL),
		MojangHash:  hash,

		Timestamp:          service.nowFn(),
		GenerateDurationMs: service.nowFn().Sub(start).Milliseconds(),
		Server:             service.server,

		Via:       req.Via,
		UserAgent: req.UserAgent,
		Source:    longUUID,
	}
	return service.persist(ctx, skin)
}
