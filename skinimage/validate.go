// Copyright (C) 2023 MineSkin.org
// See LICENSE for copying information.

// Package skinimage validates candidate skin images and computes the
// perceptual hash used for duplicate detection.
package skinimage

import (
	"bytes"
	"image"
	"image/png"
	"net/http"

	"github.com/zeebo/errs"

	"mineskin.org/mineskin/skins"
)

// ErrInvalidImage is returned for any size, format or dimension violation.
var ErrInvalidImage = errs.Class("invalid image")

// Byte-size bounds for a skin file.
const (
	MinBytes = 100
	MaxBytes = 20000
)

// The slim-detection rectangle: the right arm area whose alpha channel
// distinguishes 3-pixel from 4-pixel arms on 64x64 skins.
const (
	armX0, armX1 = 54, 56
	armY0, armY1 = 20, 32
)

// Image is a validated skin buffer.
type Image struct {
	Data    []byte
	MIME    string
	Width   int
	Height  int
	Variant skins.Variant

	decoded image.Image
}

// Validate checks the byte-exact constraints on a candidate skin. When the
// requested variant is unknown it is inferred from the geometry and the
// right-arm alpha rectangle.
func Validate(data []byte, variant skins.Variant) (*Image, error) {
	if len(data) < MinBytes || len(data) > MaxBytes {
		return nil, ErrInvalidImage.New("invalid file size (%d bytes)", len(data))
	}

	mime := http.DetectContentType(data)
	if mime != "image/png" {
		return nil, ErrInvalidImage.New("invalid content type %q", mime)
	}

	decoded, err := png.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, ErrInvalidImage.New("broken png: %v", err)
	}

	bounds := decoded.Bounds()
	width, height := bounds.Dx(), bounds.Dy()
	if width != 64 || (height != 32 && height != 64) {
		return nil, ErrInvalidImage.New("invalid dimensions %dx%d", width, height)
	}

	if variant == skins.VariantUnknown || variant == "" {
		variant = inferVariant(decoded, height)
	}

	return &Image{
		Data:    data,
		MIME:    mime,
		Width:   width,
		Height:  height,
		Variant: variant,
		decoded: decoded,
	}, nil
}

// inferVariant decides the model geometry. Legacy 32-row skins are always
// classic; on 64-row skins any transparency inside the arm rectangle means
// slim.
func inferVariant(img image.Image, height int) skins.Variant {
	if height == 32 {
		return skins.VariantClassic
	}
	min := img.Bounds().Min
	for y := armY0; y < armY1; y++ {
		for x := armX0; x < armX1; x++ {
			_, _, _, a := img.At(min.X+x, min.Y+y).RGBA()
			if a != 0xffff {
				return skins.VariantSlim
			}
		}
	}
	return skins.VariantClassic
}
