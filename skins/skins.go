// Copyright (C) 2023 MineSkin.org
// See LICENSE for copying information.

// Package skins defines the catalog entry produced by the generator and
// the database interface used to query it.
package skins

import (
	"context"
	"time"

	"github.com/zeebo/errs"
)

// ErrNotFound is returned when no catalog entry matches a lookup.
var ErrNotFound = errs.Class("skin not found")

// ErrDuplicateID is returned by Insert when the catalog already holds an
// entry with the same public id. The caller re-runs id allocation.
var ErrDuplicateID = errs.Class("duplicate skin id")

// Variant is the model geometry of a skin.
type Variant string

const (
	// VariantClassic is the 4-pixel arm model.
	VariantClassic Variant = "classic"
	// VariantSlim is the 3-pixel arm model.
	VariantSlim Variant = "slim"
	// VariantUnknown lets the image validator decide.
	VariantUnknown Variant = "unknown"
)

// Visibility controls whether a skin shows up in public listings.
type Visibility string

const (
	// VisibilityPublic marks a skin as publicly listed.
	VisibilityPublic Visibility = "public"
	// VisibilityPrivate marks a skin as unlisted.
	VisibilityPrivate Visibility = "private"
)

// Skin is a persisted generation result. Value, Signature and TextureURL
// are immutable once inserted; only the counters mutate afterwards.
type Skin struct {
	ID   int64  `bson:"id" json:"id"`
	Hash string `bson:"hash" json:"hash"`
	UUID string `bson:"uuid" json:"uuid"`

	Name       string     `bson:"name" json:"name"`
	Variant    Variant    `bson:"variant" json:"variant"`
	Visibility Visibility `bson:"visibility" json:"visibility"`

	Value       string `bson:"value" json:"value"`
	Signature   string `bson:"signature" json:"signature"`
	TextureURL  string `bson:"textureUrl" json:"url"`
	TextureHash string `bson:"textureHash" json:"textureHash"`
	MojangHash  string `bson:"mojangHash" json:"mojangHash,omitempty"`

	Timestamp          time.Time `bson:"timestamp" json:"timestamp"`
	GenerateDurationMs int64     `bson:"generateDurationMs" json:"generateDurationMs"`
	AccountID          int64     `bson:"accountId" json:"accountId"`
	Server             string    `bson:"server" json:"server,omitempty"`

	DuplicateCount int64 `bson:"duplicate" json:"duplicate"`
	ViewCount      int64 `bson:"views" json:"views"`

	Via       string `bson:"via" json:"via,omitempty"`
	UserAgent string `bson:"userAgent" json:"-"`
	Source    string `bson:"source" json:"-"`
}

// Filter is the identity tuple applied to every duplicate lookup. Two
// uploads of identical pixels under different names are not duplicates.
type Filter struct {
	Name       string
	Variant    Variant
	Visibility Visibility
}

// DB exposes methods to manage the skins collection.
//
// architecture: Database
type DB interface {
	// ByID queries a skin by public id, constrained by the filter tuple.
	ByID(ctx context.Context, id int64, filter Filter) (*Skin, error)
	// ByTexture queries a skin whose texture url or texture hash matches,
	// constrained by the filter tuple.
	ByTexture(ctx context.Context, urlOrHash string, filter Filter) (*Skin, error)
	// ByUUID queries a skin by owning uuid, constrained by the filter tuple.
	ByUUID(ctx context.Context, uuid string, filter Filter) (*Skin, error)
	// ByHash queries a skin by perceptual hash, constrained by the filter tuple.
	ByHash(ctx context.Context, hash string, filter Filter) (*Skin, error)
	// ExistsID reports whether a skin with the given public id exists.
	ExistsID(ctx context.Context, id int64) (bool, error)
	// Insert persists a new skin. Returns ErrDuplicateID when the public id
	// is already taken.
	Insert(ctx context.Context, skin *Skin) (*Skin, error)
	// IncrementDuplicate bumps the duplicate counter and returns the
	// updated record. Lost updates under races are acceptable.
	IncrementDuplicate(ctx context.Context, skin *Skin) (*Skin, error)
}
