// Shard selection for KeyDistributor.
//
// This is one of the few places in the module built directly on the
// standard library rather than a pack dependency: none of the example
// repos import a non-cryptographic string-hashing library (the closest
// candidates, huandu/go-clone and docker/go-units, solve unrelated
// problems), and hash/fnv is the conventional, allocation-free choice for
// sharding a string key in Go.

package threadly_internal

import "hash/fnv"

func shardFor(key string, numShards int) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return int(h.Sum32() % uint32(numShards))
}
