// Package cachestore implements the durable-ish response cache: an
// in-memory map that is authoritative for the current session, mirrored
// in the background to SQLite so cached data survives restarts.
package cachestore

import (
	"encoding/json"
	"net/url"
	"strconv"
	"time"

	"github.com/zeebo/xxh3"
)

// Entry is one cached API response.
type Entry struct {
	Key       string
	Data      json.RawMessage
	WrittenAt time.Time
	TTL       time.Duration
}

// Expired reports whether the entry's age exceeds its TTL at now.
func (e Entry) Expired(now time.Time) bool {
	return now.Sub(e.WrittenAt) > e.TTL
}

// BuildKey encodes a logical query (endpoint plus filter parameters) into
// a stable cache key. Parameters are serialized in sorted order so the
// same query always maps to the same key.
func BuildKey(endpoint string, params url.Values) string {
	if len(params) == 0 {
		return endpoint
	}
	return endpoint + "?" + params.Encode()
}

// keyDigest hashes a cache key for use as the mirror's primary key,
// keeping arbitrarily long logical keys out of the index. The raw key is
// stored alongside for substring invalidation.
func keyDigest(key string) string {
	return strconv.FormatUint(xxh3.HashString(key), 16)
}
