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

// FromUpload generates a skin from directly uploaded image bytes.
func (service *Service) FromUpload(ctx context.Context, data []byte, opts Options, req RequestInfo) (_ *skins.Skin, err error) {
	defer mon.Task()(&ctx)(&err)
	start := service.nowFn()
	defer observe("upload", start)

	handle, err := service.temp.Acquire(tempfiles.KindUpload)
	if err != nil {
		return nil, err
	}
	defer func() { err = errs.Combine(err, handle.Release()) }()
	if err := handle.Write(data); err != nil {
		return nil, err
	}

	validated, err := skinimage.Validate(data, opts.Variant)
	if err != nil {
		return nil, err
	}
	hash, duplicate, err := service.hashAndProbe(ctx, validated, opts)
	if err != nil || duplicate != nil {
		return duplicate, err
	}

	change := func(ctx context.Context, accessToken string, addr mojang.RequestAddr) error {
		return service.client.ChangeSkinFromFile(ctx, accessToken, addr, validated.Variant, validated.Data)
	}
	return service.generateUpstream(ctx, change, validated.Variant, hash, opts, req, "upload", start)
}
