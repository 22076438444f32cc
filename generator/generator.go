// Copyright (C) 2023 MineSkin.org
// See LICENSE for copying information.

// Package generator implements the end-to-end skin generation pipeline:
// input acquisition, duplicate detection, upstream skin change, result
// fetch, and catalog persistence.
package generator

import (
	"context"
	"time"

	"github.com/spacemonkeygo/monkit/v3"
	"github.com/zeebo/errs"
	"go.uber.org/zap"

	"mineskin.org/mineskin/accountpool"
	"mineskin.org/mineskin/dedup"
	"mineskin.org/mineskin/mojang"
	"mineskin.org/mineskin/optimus"
	"mineskin.org/mineskin/secrets"
	"mineskin.org/mineskin/skinimage"
	"mineskin.org/mineskin/skins"
	"mineskin.org/mineskin/tempfiles"
)

var mon = monkit.Package()

// Error is the default generator errs class.
var Error = errs.Class("generator")

// ErrInvalidImageURL is returned when a url cannot be followed or its host
// is not allowlisted.
var ErrInvalidImageURL = errs.Class("invalid image url")

// maxRedirects bounds url following during input acquisition.
const maxRedirects = 5

// Config holds orchestrator parameters.
type Config struct {
	AllowedHosts []string `help:"hosts the url generator may follow" default:"novask.in,imgur.com,i.imgur.com,mineskin.org,api.mineskin.org,textures.minecraft.net"`
}

// Options is the user supplied metadata of a generation request. The
// tuple (name, variant, visibility) is part of duplicate identity.
type Options struct {
	Name       string
	Variant    skins.Variant
	Visibility skins.Visibility
}

func (opts Options) filter() skins.Filter {
	return skins.Filter{Name: opts.Name, Variant: opts.Variant, Visibility: opts.Visibility}
}

// RequestInfo carries request provenance into the pipeline.
type RequestInfo struct {
	IP        string
	UserAgent string
	Via       string
}

// Service is the generation orchestrator.
type Service struct {
	log      *zap.Logger
	skins    skins.DB
	detector *dedup.Detector
	pool     *accountpool.Pool
	auth     *mojang.Authenticator
	client   *mojang.Client
	temp     *tempfiles.Manager
	alloc    *optimus.Allocator
	config   Config

	server string
	nowFn  func() time.Time
}

// NewService wires the orchestrator.
func NewService(log *zap.Logger, db skins.DB, detector *dedup.Detector, pool *accountpool.Pool,
	auth *mojang.Authenticator, client *mojang.Client, temp *tempfiles.Manager,
	alloc *optimus.Allocator, server string, config Config) *Service {
	return &Service{
		log:      log,
		skins:    db,
		detector: detector,
		pool:     pool,
		auth:     auth,
		client:   client,
		temp:     temp,
		alloc:    alloc,
		config:   config,
		server:   server,
		nowFn:    time.Now,
	}
}

// failureKind classifies an error for scheduler bookkeeping.
func failureKind(err error) accountpool.FailureKind {
	if mojang.ErrAuth.Has(err) || secrets.ErrUnreadable.Has(err) {
		return accountpool.FailureAuth
	}
	return accountpool.FailureGeneric
}

// observe emits the per-request duration metric tagged with input type.
func observe(inputType string, start time.Time) {
	mon.DurationVal("generate_duration",
		monkit.NewSeriesTag("type", inputType)).Observe(time.Since(start))
}

// hashAndProbe computes the perceptual hash of a validated image and runs
// the hash probe. The filter carries the effective variant, so a request
// that left the variant unspecified still matches the stored record.
func (service *Service) hashAndProbe(ctx context.Context, validated *skinimage.Image, opts Options) (hash string, duplicate *skins.Skin, err error) {
	filter := opts.filter()
	filter.Variant = validated.Variant

	hash = validated.Hash()
	duplicate, err = service.detector.ProbeHash(ctx, hash, filter)
	if err != nil {
		return "", nil, err
	}
	return hash, duplicate, nil
}
