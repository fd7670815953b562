/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package idgen generates opaque random identifiers for exchanges, challenges, tokens and codes.
package idgen

import (
	"crypto/rand"
	"fmt"
	"io"

	"github.com/multiformats/go-multibase"
)

// DefaultBitLength of generated identifiers.
const DefaultBitLength = 128

// Generator produces multibase (base58btc) encoded random identifiers.
type Generator struct {
	bitLength int
	random    io.Reader
}

// Opt configures a Generator.
type Opt func(g *Generator)

// WithBitLength sets the number of random bits; values below DefaultBitLength are raised to it.
func WithBitLength(n int) Opt {
	return func(g *Generator) {
		if n > DefaultBitLength {
			g.bitLength = n
		}
	}
}

// WithRandom sets the entropy source.
func WithRandom(r io.Reader) Opt {
	return func(g *Generator) {
		g.random = r
	}
}

// New returns a Generator.
func New(opts ...Opt) *Generator {
	g := &Generator{bitLength: DefaultBitLength, random: rand.Reader}

	for _, opt := range opts {
		opt(g)
	}

	return g
}

// Generate returns a new random identifier such as "z4NPyXvs7L1qfYF2uqxAt7".
func (g *Generator) Generate() (string, error) {
	buf := make([]byte, (g.bitLength+7)/8)

	if _, err := io.ReadFull(g.random, buf); err != nil {
		return "", fmt.Errorf("read random bytes: %w", err)
	}

	id, err := multibase.Encode(multibase.Base58BTC, buf)
	if err != nil {
		return "", fmt.Errorf("multibase encode: %w", err)
	}

	return id, nil
}

var defaultGenerator = New()

// Generate returns a new random 128-bit identifier using the default generator.
func Generate() (string, error) {
	return defaultGenerator.Generate()
}
