// Package shard maps string keys onto a fixed number of buckets.
package shard

import (
	"encoding/binary"
	"hash/fnv"

	"golang.org/x/crypto/blake2b"
)

// FNV maps key to [0, count) using 32-bit FNV-1a. count <= 0 yields 0.
func FNV(key string, count int) int {
	if count <= 0 {
		return 0
	}
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return int(h.Sum32() % uint32(count))
}

// Blake maps key to [0, count) using an 8 byte BLAKE2b digest. A non-empty
// seed separates key spaces that must not collide.
func Blake(key string, count int, seed string) int {
	if count <= 0 {
		return 0
	}
	return int(Sum64([]byte(key), seed) % uint64(count))
}

// Sum64 is the seeded 64-bit BLAKE2b digest of parts, with a zero byte
// between consecutive parts.
func Sum64(key []byte, seed string, parts ...string) uint64 {
	h, _ := blake2b.New(8, nil)
	if seed != "" {
		h.Write([]byte(seed))
		h.Write([]byte{0})
	}
	h.Write(key)
	for _, p := range parts {
		h.Write([]byte{0})
		h.Write([]byte(p))
	}
	return binary.BigEndian.Uint64(h.Sum(nil))
}
