// Copyright (C) 2023 MineSkin.org
// See LICENSE for copying information.

// Package dedup implements the three-stage duplicate detection pipeline.
package dedup

import (
	"context"

	"github.com/spacemonkeygo/monkit/v3"
	"github.com/zeebo/errs"
	"go.uber.org/zap"

	"mineskin.org/mineskin/skins"
)

var mon = monkit.Package()

// Error is the default dedup errs class.
var Error = errs.Class("dedup")

// Source tags where a duplicate was detected, for observability.
type Source string

const (
	// SourceMineskinURL means the input url referenced the catalog itself.
	SourceMineskinURL Source = "mineskin_url"
	// SourceTextureURL means the input url referenced the upstream texture store.
	SourceTextureURL Source = "texture_url"
	// SourceUserUUID means the requested user already has a cataloged skin.
	SourceUserUUID Source = "user_uuid"
	// SourceImageHash means the pixel content matched a cataloged hash.
	SourceImageHash Source = "image_hash"
)

// Detector probes the catalog for prior results. Each probe runs at the
// earliest point its input becomes available; any hit bumps the duplicate
// counter and short-circuits generation.
type Detector struct {
	log *zap.Logger
	db  skins.DB
}

// NewDetector creates a detector over the given catalog.
func NewDetector(log *zap.Logger, db skins.DB) *Detector {
	return &Detector{log: log, db: db}
}

// ProbeURL matches the input url against the catalog and texture url
// patterns before anything is downloaded. Returns (nil, nil) on a miss.
func (detector *Detector) ProbeURL(ctx context.Context, url string, filter skins.Filter) (_ *skins.Skin, err error) {
	defer mon.Task()(&ctx)(&err)

	if id, ok := skins.MineskinID(url); ok {
		skin, err := detector.db.ByID(ctx, id, filter)
		if err != nil {
			if skins.ErrNotFound.Has(err) {
				return nil, nil
			}
			return nil, Error.Wrap(err)
		}
		return detector.hit(ctx, skin, SourceMineskinURL)
	}

	if skins.IsTextureURL(url) {
		skin, err := detector.db.ByTexture(ctx, url, filter)
		if err != nil {
			if skins.ErrNotFound.Has(err) {
				return nil, nil
			}
			return nil, Error.Wrap(err)
		}
		return detector.hit(ctx, skin, SourceTextureURL)
	}

	return nil, nil
}

// ProbeUUID matches the long form of a requested user uuid against stored
// owning uuids. Returns (nil, nil) on a miss.
func (detector *Detector) ProbeUUID(ctx context.Context, longUUID string, filter skins.Filter) (_ *skins.Skin, err error) {
	defer mon.Task()(&ctx)(&err)

	skin, err := detector.db.ByUUID(ctx, longUUID, filter)
	if err != nil {
		if skins.ErrNotFound.Has(err) {
			return nil, nil
		}
		return nil, Error.Wrap(err)
	}
	return detector.hit(ctx, skin, SourceUserUUID)
}

// ProbeHash matches a computed perceptual hash against the catalog.
// Returns (nil, nil) on a miss.
func (detector *Detector) ProbeHash(ctx context.Context, hash string, filter skins.Filter) (_ *skins.Skin, err error) {
	defer mon.Task()(&ctx)(&err)

	skin, err := detector.db.ByHash(ctx, hash, filter)
	if err != nil {
		if skins.ErrNotFound.Has(err) {
			return nil, nil
		}
		return nil, Error.Wrap(err)
	}
	return detector.hit(ctx, skin, SourceImageHash)
}

func (detector *Detector) hit(ctx context.Context, skin *skins.Skin, source Source) (*skins.Skin, error) {
	mon.Counter("duplicate_hit", monkit.NewSeriesTag("source", string(source))).Inc(1)

	updated, err := detector.db.IncrementDuplicate(ctx, skin)
	if err != nil {
		// The record itself is the answer; a lost counter update is
		// acceptable.
		detector.log.Warn("duplicate counter update failed",
			zap.Int64("skin", skin.ID), zap.Error(err))
		return skin, nil
	}

	detector.log.Debug("duplicate detected",
		zap.Int64("skin", updated.ID),
		zap.String("source", string(source)))
	return updated, nil
}
