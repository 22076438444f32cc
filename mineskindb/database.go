// Copyright (C) 2023 MineSkin.org
// See LICENSE for copying information.

// Package mineskindb implements the catalog interfaces on MongoDB.
package mineskindb

import (
	"context"
	"net/url"
	"strings"
	"time"

	"github.com/zeebo/errs"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"

	"mineskin.org/mineskin/accounts"
	"mineskin.org/mineskin/skins"
)

// Error is the default mineskindb errs class.
var Error = errs.Class("mineskindb")

// DB gives access to the skins and accounts collections.
type DB struct {
	log    *zap.Logger
	client *mongo.Client
	db     *mongo.Database
}

// Open connects to the database named in the connection string, falling
// back to "mineskin".
func Open(ctx context.Context, log *zap.Logger, connURL string) (*DB, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(connURL))
	if err != nil {
		return nil, Error.Wrap(err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		return nil, Error.Wrap(errs.Combine(err, client.Disconnect(ctx)))
	}

	name := "mineskin"
	if parsed, err := url.Parse(connURL); err == nil {
		if trimmed := strings.Trim(parsed.Path, "/"); trimmed != "" {
			name = trimmed
		}
	}

	return &DB{
		log:    log,
		client: client,
		db:     client.Database(name),
	}, nil
}

// EnsureSchema creates the unique identity indexes. The unique skin id
// index is the arbiter for id allocation races.
func (db *DB) EnsureSchema(ctx context.Context) error {
	unique := options.Index().SetUnique(true)

	_, err := db.db.Collection("skins").Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "id", Value: 1}}, Options: unique},
		{Keys: bson.D{{Key: "hash", Value: 1}}},
		{Keys: bson.D{{Key: "uuid", Value: 1}}},
		{Keys: bson.D{{Key: "textureUrl", Value: 1}}},
	})
	if err != nil {
		return Error.Wrap(err)
	}

	_, err = db.db.Collection("accounts").Indexes().CreateOne(ctx,
		mongo.IndexModel{Keys: bson.D{{Key: "id", Value: 1}}, Options: unique})
	return Error.Wrap(err)
}

// Skins returns the skins collection interface.
func (db *DB) Skins() skins.DB {
	return &skinsDB{coll: db.db.Collection("skins")}
}

// Accounts returns the accounts collection interface.
func (db *DB) Accounts() accounts.DB {
	return &accountsDB{coll: db.db.Collection("accounts")}
}

// Close disconnects from the database.
func (db *DB) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return Error.Wrap(db.client.Disconnect(ctx))
}
