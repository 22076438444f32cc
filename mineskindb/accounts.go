// Copyright (C) 2023 MineSkin.org
// See LICENSE for copying information.

package mineskindb

import (
	"context"
	"errors"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"mineskin.org/mineskin/accounts"
)

type accountsDB struct {
	coll *mongo.Collection
}

func (db *accountsDB) Get(ctx context.Context, id int64) (*accounts.Account, error) {
	var account accounts.Account
	err := db.coll.FindOne(ctx, bson.M{"id": id}).Decode(&account)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, accounts.ErrNotFound.New("%d", id)
		}
		return nil, Error.Wrap(err)
	}
	return &account, nil
}

// FindEligible mirrors accounts.Eligible as a single query, ordered to
// spread load across the pool.
func (db *accountsDB) FindEligible(ctx context.Context, e accounts.Eligibility) (*accounts.Account, error) {
	locked := e.Locked
	if locked == nil {
		locked = []int64{}
	}

	query := bson.M{
		"enabled":         true,
		"errorCounter":    bson.M{"$lt": e.ErrorThreshold},
		"timeAdded":       bson.M{"$lt": e.NowSec - accounts.AddedCooldownSec},
		"lastUsed":        bson.M{"$lt": e.NowSec - accounts.UsedCooldownSec},
		"lastSelected":    bson.M{"$lt": e.NowSec - accounts.SelectedCooldownSec},
		"forcedTimeoutAt": bson.M{"$lt": e.NowSec - accounts.ForcedTimeoutSec},
		"requestServer":   bson.M{"$in": bson.A{nil, "", accounts.DefaultServer, e.Server}},
		"id":              bson.M{"$nin": locked},
	}

	var account accounts.Account
	err := db.coll.FindOne(ctx, query, options.FindOne().SetSort(bson.D{
		{Key: "lastUsed", Value: 1},
		{Key: "lastSelected", Value: 1},
		{Key: "sameTextureCounter", Value: 1},
	})).Decode(&account)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, accounts.ErrNotFound.New("no eligible account")
		}
		return nil, Error.Wrap(err)
	}
	return &account, nil
}

func (db *accountsDB) CountUsable(ctx context.Context, errorThreshold int) (int, error) {
	count, err := db.coll.CountDocuments(ctx, bson.M{
		"enabled":      true,
		"errorCounter": bson.M{"$lt": errorThreshold},
	})
	if err != nil {
		return 0, Error.Wrap(err)
	}
	return int(count), nil
}

func (db *accountsDB) Update(ctx context.Context, account *accounts.Account) (*accounts.Account, error) {
	_, err := db.coll.ReplaceOne(ctx, bson.M{"id": account.ID}, account)
	if err != nil {
		return nil, Error.Wrap(err)
	}
	return account, nil
}
