// Copyright (C) 2023 MineSkin.org
// See LICENSE for copying information.

package generator

import (
	"context"
	"net/http"
	"net/url"
	"strings"

	"github.com/zeebo/errs"

	"mineskin.org/mineskin/mojang"
	"mineskin.org/mineskin/skinimage"
	"mineskin.org/mineskin/skins"
	"mineskin.org/mineskin/tempfiles"
)

// FromURL generates a skin from a remote image url.
func (service *Service) FromURL(ctx context.Context, rawURL string, opts Options, req RequestInfo) (_ *skins.Skin, err error) {
	defer mon.Task()(&ctx)(&err)
	start := service.nowFn()
	defer observe("url", start)

	// Catalog and texture urls are probed before any network traffic.
	if duplicate, err := service.detector.ProbeURL(ctx, rawURL, opts.filter()); err != nil || duplicate != nil {
		return duplicate, err
	}

	resolved, err := service.resolveURL(ctx, rawURL)
	if err != nil {
		return nil, err
	}
	if resolved != rawURL {
		if duplicate, err := service.detector.ProbeURL(ctx, resolved, opts.filter()); err != nil || duplicate != nil {
			return duplicate, err
		}
	}

	handle, err := service.temp.Acquire(tempfiles.KindURL)
	if err != nil {
		return nil, err
	}
	defer func() { err = errs.Combine(err, handle.Release()) }()

	if err := service.temp.DownloadTo(ctx, service.client.HTTP(), resolved, handle, skinimage.MaxBytes); err != nil {
		return nil, ErrInvalidImageURL.Wrap(err)
	}
	data, err := handle.Read()
	if err != nil {
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
		return service.client.ChangeSkinFromURL(ctx, accessToken, addr, validated.Variant, resolved)
	}
	return service.generateUpstream(ctx, change, validated.Variant, hash, opts, req, rawURL, start)
}

// resolveURL follows the url with HEAD requests, every hop constrained to
// the host allowlist and at most maxRedirects redirects, and checks the
// advertised content type and length.
func (service *Service) resolveURL(ctx context.Context, rawURL string) (_ string, err error) {
	defer mon.Task()(&ctx)(&err)

	parsed, err := url.Parse(rawURL)
	if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") {
		return "", ErrInvalidImageURL.New("unparsable url")
	}
	if !service.hostAllowed(parsed.Hostname()) {
		return "", ErrInvalidImageURL.New("host %q not allowed", parsed.Hostname())
	}

	client := &http.Client{
		Timeout: service.client.HTTP().Timeout,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= maxRedirects {
				return ErrInvalidImageURL.New("too many redirects")
			}
			if !service.hostAllowed(req.URL.Hostname()) {
				return ErrInvalidImageURL.New("redirect to disallowed host %q", req.URL.Hostname())
			}
			return nil
		},
	}

	head, err := http.NewRequestWithContext(ctx, http.MethodHead, rawURL, nil)
	if err != nil {
		return "", ErrInvalidImageURL.Wrap(err)
	}
	resp, err := client.Do(head)
	if err != nil {
		return "", ErrInvalidImageURL.Wrap(err)
	}
	defer func() { err = errs.Combine(err, resp.Body.Close()) }()

	if resp.StatusCode != http.StatusOK {
		return "", ErrInvalidImageURL.New("unexpected status %d", resp.StatusCode)
	}
	if mime := resp.Header.Get("Content-Type"); mime != "image/png" {
		return "", skinimage.ErrInvalidImage.New("remote content type %q", mime)
	}
	if length := resp.ContentLength; length >= 0 &&
		(length < skinimage.MinBytes || length > skinimage.MaxBytes) {
		return "", skinimage.ErrInvalidImage.New("remote file size %d bytes", length)
	}

	return resp.Request.URL.String(), nil
}

func (service *Service) hostAllowed(host string) bool {
	host = strings.ToLower(host)
	for _, allowed := range service.config.AllowedHosts {
		if host == allowed || strings.HasSuffix(host, "."+allowed) {
			return true
		}
	}
	return false
}
