// Copyright (C) 2023 MineSkin.org
// See LICENSE for copying information.

// Package optimus maps 32-bit randoms to public catalog ids through a
// fixed bijection. The parameters are catalog schema: changing them breaks
// the injection into the historical id space.
package optimus

import (
	"context"
	"crypto/rand"
	"encoding/binary"

	"github.com/spacemonkeygo/monkit/v3"
	"github.com/zeebo/errs"
)

var mon = monkit.Package()

// Error is the default optimus errs class.
var Error = errs.Class("optimus")

// ErrExhausted is returned when id allocation keeps colliding. Callers
// should treat it as a signal to alarm, not as a normal response.
var ErrExhausted = errs.Class("failed to create id")

// MaxTries bounds collision retries during allocation.
const MaxTries = 10

const maxInt31 = 1<<31 - 1

// Config holds the bijection parameters.
type Config struct {
	Prime   uint64 `help:"optimus prime, an odd prime below 2^31" default:"0"`
	Inverse uint64 `help:"modular inverse of the prime mod 2^31" default:"0"`
	Random  uint64 `help:"optimus salt below 2^31" default:"0"`
}

// Obfuscator is the fixed bijective encoder:
//
//	encode(n) = ((n * prime) mod 2^31) xor random
//
// bijective over [0, 2^31) and deterministic across all processes sharing
// the same parameters.
type Obfuscator struct {
	prime   uint64
	inverse uint64
	random  uint64
}

// NewObfuscator validates the parameters and returns the encoder.
func NewObfuscator(config Config) (*Obfuscator, error) {
	if config.Prime == 0 || config.Prime > maxInt31 {
		return nil, Error.New("prime out of range")
	}
	if config.Random > maxInt31 {
		return nil, Error.New("random out of range")
	}
	if (config.Prime*config.Inverse)&maxInt31 != 1 {
		return nil, Error.New("inverse does not invert prime mod 2^31")
	}
	return &Obfuscator{
		prime:   config.Prime,
		inverse: config.Inverse,
		random:  config.Random,
	}, nil
}

// Encode maps n to its public form.
func (o *Obfuscator) Encode(n uint32) int64 {
	return int64(((uint64(n) * o.prime) & maxInt31) ^ o.random)
}

// Decode reverses Encode.
func (o *Obfuscator) Decode(id int64) uint32 {
	return uint32(((uint64(id) ^ o.random) * o.inverse) & maxInt31)
}

// IDIndex is the catalog probe consulted for collisions.
type IDIndex interface {
	// ExistsID reports whether a skin with the given public id exists.
	ExistsID(ctx context.Context, id int64) (bool, error)
}

// Allocator draws fresh public ids, retrying on catalog collisions.
type Allocator struct {
	obfuscator *Obfuscator
	index      IDIndex
}

// NewAllocator returns an allocator probing the given index.
func NewAllocator(obfuscator *Obfuscator, index IDIndex) *Allocator {
	return &Allocator{obfuscator: obfuscator, index: index}
}

// Next returns an unused public id, or ErrExhausted after MaxTries
// collisions.
func (alloc *Allocator) Next(ctx context.Context) (_ int64, err error) {
	defer mon.Task()(&ctx)(&err)

	for try := 0; try < MaxTries; try++ {
		var buf [4]byte
		if _, err := rand.Read(buf[:]); err != nil {
			return 0, Error.Wrap(err)
		}
		id := alloc.obfuscator.Encode(binary.BigEndian.Uint32(buf[:]) & maxInt31)

		exists, err := alloc.index.ExistsID(ctx, id)
		if err != nil {
			return 0, Error.Wrap(err)
		}
		if !exists {
			return id, nil
		}
		mon.Counter("id_collision").Inc(1)
	}
	return 0, ErrExhausted.New("no free id after %d tries", MaxTries)
}
