// Copyright (C) 2023 MineSkin.org
// See LICENSE for copying information.

package mineskindb

import (
	"context"
	"errors"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"mineskin.org/mineskin/skins"
)

type skinsDB struct {
	coll *mongo.Collection
}

func filterQuery(filter skins.Filter) bson.M {
	return bson.M{
		"name":       filter.Name,
		"variant":    filter.Variant,
		"visibility": filter.Visibility,
	}
}

func (db *skinsDB) findOne(ctx context.Context, query bson.M) (*skins.Skin, error) {
	var skin skins.Skin
	err := db.coll.FindOne(ctx, query).Decode(&skin)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, skins.ErrNotFound.New("")
		}
		return nil, Error.Wrap(err)
	}
	return &skin, nil
}

func (db *skinsDB) ByID(ctx context.Context, id int64, filter skins.Filter) (*skins.Skin, error) {
	query := filterQuery(filter)
	query["id"] = id
	return db.findOne(ctx, query)
}

func (db *skinsDB) ByTexture(ctx context.Context, urlOrHash string, filter skins.Filter) (*skins.Skin, error) {
	query := filterQuery(filter)
	query["$or"] = bson.A{
		bson.M{"textureUrl": urlOrHash},
		bson.M{"textureHash": urlOrHash},
	}
	return db.findOne(ctx, query)
}

func (db *skinsDB) ByUUID(ctx context.Context, uuid string, filter skins.Filter) (*skins.Skin, error) {
	query := filterQuery(filter)
	query["uuid"] = uuid
	return db.findOne(ctx, query)
}

func (db *skinsDB) ByHash(ctx context.Context, hash string, filter skins.Filter) (*skins.Skin, error) {
	query := filterQuery(filter)
	query["hash"] = hash
	return db.findOne(ctx, query)
}

func (db *skinsDB) ExistsID(ctx context.Context, id int64) (bool, error) {
	count, err := db.coll.CountDocuments(ctx, bson.M{"id": id}, options.Count().SetLimit(1))
	if err != nil {
		return false, Error.Wrap(err)
	}
	return count > 0, nil
}

func (db *skinsDB) Insert(ctx context.Context, skin *skins.Skin) (*skins.Skin, error) {
	_, err := db.coll.InsertOne(ctx, skin)
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return nil, skins.ErrDuplicateID.New("%d", skin.ID)
		}
		return nil, Error.Wrap(err)
	}
	return skin, nil
}

func (db *skinsDB) IncrementDuplicate(ctx context.Context, skin *skins.Skin) (*skins.Skin, error) {
	var updated skins.Skin
	err := db.coll.FindOneAndUpdate(ctx,
		bson.M{"id": skin.ID},
		bson.M{"$inc": bson.M{"duplicate": 1}},
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&updated)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, skins.ErrNotFound.New("%d", skin.ID)
		}
		return nil, Error.Wrap(err)
	}
	return &updated, nil
}
