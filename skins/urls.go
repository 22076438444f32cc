// Copyright (C) 2023 MineSkin.org
// See LICENSE for copying information.

package skins

import (
	"regexp"
	"strconv"
	"strings"
)

var (
	mineskinURLRx = regexp.MustCompile(`^https?://(?:api\.|www\.)?minesk(?:\.in|in\.org)/(?:skin/)?([0-9]+)$`)
	textureURLRx  = regexp.MustCompile(`^https?://textures\.minecraft\.net/texture/([0-9a-z]+)$`)
)

// MineskinID extracts the catalog id from a mineskin skin url.
// Returns false when the url does not reference the catalog.
func MineskinID(url string) (int64, bool) {
	m := mineskinURLRx.FindStringSubmatch(url)
	if m == nil {
		return 0, false
	}
	id, err := strconv.ParseInt(m[1], 10, 64)
	if err != nil {
		return 0, false
	}
	return id, true
}

// IsTextureURL reports whether the url points at the canonical upstream
// texture store.
func IsTextureURL(url string) bool {
	return textureURLRx.MatchString(url)
}

// TextureHash returns the last path segment of a canonical texture url,
// or "" when the url does not match the canonical pattern.
func TextureHash(url string) string {
	m := textureURLRx.FindStringSubmatch(url)
	if m == nil {
		return ""
	}
	return m[1]
}

// ParseVariant normalizes a user supplied variant string.
func ParseVariant(s string) Variant {
	switch Variant(strings.ToLower(strings.TrimSpace(s))) {
	case VariantClassic, Variant("steve"):
		return VariantClassic
	case VariantSlim, Variant("alex"):
		return VariantSlim
	default:
		return VariantUnknown
	}
}

// ParseVisibility normalizes a user supplied visibility string, defaulting
// to public.
func ParseVisibility(s string) Visibility {
	if Visibility(strings.ToLower(strings.TrimSpace(s))) == VisibilityPrivate {
		return VisibilityPrivate
	}
	return VisibilityPublic
}
