// Copyright (C) 2023 MineSkin.org
// See LICENSE for copying information.

package mojang

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"regexp"
	"strings"

	"github.com/zeebo/errs"
)

// ErrInvalidSkinData is returned when a profile lacks a usable SKIN texture.
var ErrInvalidSkinData = errs.Class("invalid skin data")

// ErrInvalidUUID is returned for malformed profile uuids.
var ErrInvalidUUID = errs.Class("invalid uuid")

var uuidRx = regexp.MustCompile(`^[0-9a-f]{32}$`)

// NormalizeUUID accepts a profile uuid with or without dashes and returns
// the long (dashed) and short (dashless) forms.
func NormalizeUUID(input string) (long, short string, err error) {
	short = strings.ToLower(strings.ReplaceAll(strings.TrimSpace(input), "-", ""))
	if !uuidRx.MatchString(short) {
		return "", "", ErrInvalidUUID.New("%q", input)
	}
	long = short[0:8] + "-" + short[8:12] + "-" + short[12:16] + "-" + short[16:20] + "-" + short[20:32]
	return long, short, nil
}

// Profile is an upstream game profile with its signed properties.
type Profile struct {
	ID         string     `json:"id"`
	Name       string     `json:"name"`
	Properties []Property `json:"properties"`
}

// Property is a signed profile property blob.
type Property struct {
	Name      string `json:"name"`
	Value     string `json:"value"`
	Signature string `json:"signature"`
}

// TextureDescriptor is the signed texture property of a profile.
type TextureDescriptor struct {
	Value     string
	Signature string
	SkinURL   string
	Model     string
}

type texturePayload struct {
	Textures struct {
		Skin struct {
			URL      string `json:"url"`
			Metadata struct {
				Model string `json:"model"`
			} `json:"metadata"`
		} `json:"SKIN"`
	} `json:"textures"`
}

// Profile fetches the signed profile of the given short-form uuid.
func (client *Client) Profile(ctx context.Context, shortUUID string) (_ *Profile, err error) {
	defer mon.Task()(&ctx)(&err)

	body, status, err := client.getJSON(ctx, client.config.SessionBaseURL+"/session/minecraft/profile/"+shortUUID+"?unsigned=false", "", RequestAddr{})
	if err != nil {
		return nil, Error.Wrap(err)
	}
	if status/100 != 2 {
		return nil, Error.New("profile fetch failed (%d): %s", status, body)
	}

	var profile Profile
	if err := json.Unmarshal(body, &profile); err != nil {
		return nil, Error.Wrap(err)
	}
	return &profile, nil
}

// TextureDescriptor extracts and decodes the SKIN texture from the
// profile's signed properties.
func (profile *Profile) TextureDescriptor() (*TextureDescriptor, error) {
	for _, prop := range profile.Properties {
		if prop.Name != "textures" {
			continue
		}

		decoded, err := base64.StdEncoding.DecodeString(prop.Value)
		if err != nil {
			return nil, ErrInvalidSkinData.New("undecodable texture property: %v", err)
		}
		var payload texturePayload
		if err := json.Unmarshal(decoded, &payload); err != nil {
			return nil, ErrInvalidSkinData.New("malformed texture property: %v", err)
		}
		if payload.Textures.Skin.URL == "" {
			return nil, ErrInvalidSkinData.New("profile has no skin texture")
		}

		return &TextureDescriptor{
			Value:     prop.Value,
			Signature: prop.Signature,
			SkinURL:   payload.Textures.Skin.URL,
			Model:     payload.Textures.Skin.Metadata.Model,
		}, nil
	}
	return nil, ErrInvalidSkinData.New("profile has no textures property")
}
