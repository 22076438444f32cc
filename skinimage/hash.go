// Copyright (C) 2023 MineSkin.org
// See LICENSE for copying information.

package skinimage

import (
	"bytes"
	"encoding/hex"
	"image"
	"image/png"

	"github.com/zeebo/errs"
)

// Error is the default skinimage errs class.
var Error = errs.Class("skinimage")

// Hash size parameters. The hash function is catalog schema: it must never
// change without a full recompute of every stored hash.
const (
	hashCols = 17
	hashRows = 16
)

// Hash computes the perceptual hash of an image buffer: a row-wise
// difference hash over a 17x16 grayscale rendering of the pixels. The
// result is 64 lowercase hex characters and depends only on pixel content,
// not on how the PNG was muxed.
func Hash(data []byte) (string, error) {
	decoded, err := png.Decode(bytes.NewReader(data))
	if err != nil {
		return "", Error.New("undecodable image: %v", err)
	}
	return HashImage(decoded), nil
}

// Hash returns the perceptual hash of the validated pixels.
func (img *Image) Hash() string { return HashImage(img.decoded) }

// HashImage is Hash over an already decoded image.
func HashImage(img image.Image) string {
	gray := scaleGray(img, hashCols, hashRows)

	digest := make([]byte, 0, hashRows*(hashCols-1)/8)
	var acc byte
	var bits uint
	for y := 0; y < hashRows; y++ {
		for x := 0; x < hashCols-1; x++ {
			acc <<= 1
			if gray[y][x] < gray[y][x+1] {
				acc |= 1
			}
			bits++
			if bits == 8 {
				digest = append(digest, acc)
				acc, bits = 0, 0
			}
		}
	}
	return hex.EncodeToString(digest)
}

// scaleGray renders the image onto a cols x rows grayscale grid using
// box-averaged samples, so the result is stable across color models.
func scaleGray(img image.Image, cols, rows int) [][]uint32 {
	bounds := img.Bounds()
	width, height := bounds.Dx(), bounds.Dy()

	out := make([][]uint32, rows)
	for y := range out {
		out[y] = make([]uint32, cols)
	}

	for y := 0; y < rows; y++ {
		y0 := bounds.Min.Y + y*height/rows
		y1 := bounds.Min.Y + (y+1)*height/rows
		if y1 <= y0 {
			y1 = y0 + 1
		}
		for x := 0; x < cols; x++ {
			x0 := bounds.Min.X + x*width/cols
			x1 := bounds.Min.X + (x+1)*width/cols
			if x1 <= x0 {
				x1 = x0 + 1
			}

			var sum, count uint64
			for py := y0; py < y1; py++ {
				for px := x0; px < x1; px++ {
					r, g, b, _ := img.At(px, py).RGBA()
					sum += uint64(299*r+587*g+114*b) / 1000
					count++
				}
			}
			out[y][x] = uint32(sum / count)
		}
	}
	return out
}
