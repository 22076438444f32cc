// Copyright (C) 2023 MineSkin.org
// See LICENSE for copying information.

package mineskin

import (
	"context"
	"net"

	"github.com/zeebo/errs"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"storj.io/common/errs2"

	"mineskin.org/mineskin/accountpool"
	"mineskin.org/mineskin/dedup"
	"mineskin.org/mineskin/generator"
	"mineskin.org/mineskin/mojang"
	"mineskin.org/mineskin/optimus"
	"mineskin.org/mineskin/secrets"
	"mineskin.org/mineskin/tempfiles"
	"mineskin.org/mineskin/web"
)

// Config is the global configuration of the generation service.
type Config struct {
	EncryptionKey string `help:"hex encoded 32 byte key for credentials at rest" default:""`
	TempDir       string `help:"directory for scoped download buffers" default:"/tmp/mineskin"`

	Optimus   optimus.Config
	Pool      accountpool.Config
	Mojang    mojang.Config
	Generator generator.Config
	Web       web.Config
}

// Peer is the generation service process.
//
// architecture: Peer
type Peer struct {
	Log *zap.Logger
	DB  DB

	Secrets   *secrets.Codec
	Temp      *tempfiles.Manager
	Mojang    *mojang.Client
	Auth      *mojang.Authenticator
	Pool      *accountpool.Pool
	Detector  *dedup.Detector
	Allocator *optimus.Allocator
	Generator *generator.Service

	Servers struct {
		Web      *web.Server
		Listener net.Listener
	}
}

// New creates a new generation service peer.
func New(log *zap.Logger, db DB, config Config) (*Peer, error) {
	peer := &Peer{Log: log, DB: db}

	codec, err := secrets.NewCodec(config.EncryptionKey)
	if err != nil {
		return nil, errs.Combine(err, peer.Close())
	}
	peer.Secrets = codec

	peer.Temp, err = tempfiles.NewManager(config.TempDir)
	if err != nil {
		return nil, errs.Combine(err, peer.Close())
	}

	obfuscator, err := optimus.NewObfuscator(config.Optimus)
	if err != nil {
		return nil, errs.Combine(err, peer.Close())
	}
	peer.Allocator = optimus.NewAllocator(obfuscator, db.Skins())

	peer.Mojang = mojang.NewClient(log.Named("mojang"), config.Mojang)
	peer.Auth = mojang.NewAuthenticator(log.Named("auth"), peer.Mojang, codec, db.Accounts())
	peer.Pool = accountpool.NewPool(log.Named("accountpool"), db.Accounts(), config.Pool)
	peer.Detector = dedup.NewDetector(log.Named("dedup"), db.Skins())

	peer.Generator = generator.NewService(log.Named("generator"),
		db.Skins(), peer.Detector, peer.Pool, peer.Auth, peer.Mojang,
		peer.Temp, peer.Allocator, config.Pool.Server, config.Generator)

	listener, err := net.Listen("tcp", config.Web.Address)
	if err != nil {
		return nil, errs.Combine(err, peer.Close())
	}
	peer.Servers.Listener = listener
	peer.Servers.Web = web.NewServer(log.Named("web"), listener, peer.Generator, peer.Pool, config.Web)

	return peer, nil
}

// Run runs the peer until the context is canceled.
func (peer *Peer) Run(ctx context.Context) error {
	group, ctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		return errs2.IgnoreCanceled(peer.Servers.Web.Run(ctx))
	})
	return group.Wait()
}

// Close releases the peer's resources.
func (peer *Peer) Close() error {
	var group errs.Group
	if peer.Servers.Web != nil {
		group.Add(peer.Servers.Web.Close())
	} else if peer.Servers.Listener != nil {
		group.Add(peer.Servers.Listener.Close())
	}
	return group.Err()
}
