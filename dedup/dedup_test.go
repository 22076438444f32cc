// Copyright (C) 2023 MineSkin.org
// See LICENSE for copying information.

package dedup_test

import (
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"storj.io/common/testcontext"

	"mineskin.org/mineskin/dedup"
	"mineskin.org/mineskin/mineskindb/mineskindbtest"
	"mineskin.org/mineskin/skins"
)

func seedSkin(db *mineskindbtest.DB) skins.Skin {
	skin := skins.Skin{
		ID:          700856086,
		Hash:        "9b2f3d2b1a0c4e5f6a7b8c9d0e1f2a3b9b2f3d2b1a0c4e5f6a7b8c9d0e1f2a3b",
		UUID:        "c5b9d74a-2b18-4e6a-9c2e-7f3a1d7b9c01",
		Variant:     skins.VariantClassic,
		Visibility:  skins.VisibilityPublic,
		TextureURL:  "http://textures.minecraft.net/texture/0123456789abcdef",
		TextureHash: "0123456789abcdef",
	}
	db.AddSkin(skin)
	return skin
}

func TestProbeURL(t *testing.T) {
	mineskindbtest.Run(t, func(ctx *testcontext.Context, t *testing.T, db *mineskindbtest.DB) {
		seeded := seedSkin(db)
		detector := dedup.NewDetector(zaptest.NewLogger(t), db.Skins())
		filter := skins.Filter{Variant: seeded.Variant, Visibility: seeded.Visibility}

		t.Run("catalog url", func(t *testing.T) {
			skin, err := detector.ProbeURL(ctx, "https://mineskin.org/700856086", filter)
			require.NoError(t, err)
			require.NotNil(t, skin)
			require.Equal(t, seeded.ID, skin.ID)
			require.EqualValues(t, 1, skin.DuplicateCount)
		})

		t.Run("texture url", func(t *testing.T) {
			skin, err := detector.ProbeURL(ctx, seeded.TextureURL, filter)
			require.NoError(t, err)
			require.NotNil(t, skin)
			require.Equal(t, seeded.ID, skin.ID)
		})

		t.Run("ordinary url misses", func(t *testing.T) {
			skin, err := detector.ProbeURL(ctx, "https://i.imgur.com/abcd.png", filter)
			require.NoError(t, err)
			require.Nil(t, skin)
		})

		t.Run("unknown id misses", func(t *testing.T) {
			skin, err := detector.ProbeURL(ctx, "https://mineskin.org/999999", filter)
			require.NoError(t, err)
			require.Nil(t, skin)
		})

		t.Run("filter mismatch misses", func(t *testing.T) {
			skin, err := detector.ProbeURL(ctx, "https://mineskin.org/700856086",
				skins.Filter{Variant: skins.VariantSlim, Visibility: seeded.Visibility})
			require.NoError(t, err)
			require.Nil(t, skin)
		})
	})
}

func TestProbeUUID(t *testing.T) {
	mineskindbtest.Run(t, func(ctx *testcontext.Context, t *testing.T, db *mineskindbtest.DB) {
		seeded := seedSkin(db)
		detector := dedup.NewDetector(zaptest.NewLogger(t), db.Skins())
		filter := skins.Filter{Variant: seeded.Variant, Visibility: seeded.Visibility}

		skin, err := detector.ProbeUUID(ctx, seeded.UUID, filter)
		require.NoError(t, err)
		require.NotNil(t, skin)
		require.Equal(t, seeded.ID, skin.ID)

		missing, err := detector.ProbeUUID(ctx, "00000000-0000-0000-0000-000000000000", filter)
		require.NoError(t, err)
		require.Nil(t, missing)
	})
}

func TestProbeHash(t *testing.T) {
	mineskindbtest.Run(t, func(ctx *testcontext.Context, t *testing.T, db *mineskindbtest.DB) {
		seeded := seedSkin(db)
		detector := dedup.NewDetector(zaptest.NewLogger(t), db.Skins())
		filter := skins.Filter{Variant: seeded.Variant, Visibility: seeded.Visibility}

		skin, err := detector.ProbeHash(ctx, seeded.Hash, filter)
		require.NoError(t, err)
		require.NotNil(t, skin)
		require.Equal(t, seeded.ID, skin.ID)
		require.EqualValues(t, 1, skin.DuplicateCount)

		// every hit bumps the counter again
		skin, err = detector.ProbeHash(ctx, seeded.Hash, filter)
		require.NoError(t, err)
		require.EqualValues(t, 2, skin.DuplicateCount)
	})
}
