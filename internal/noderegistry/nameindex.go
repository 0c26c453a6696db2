// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

package noderegistry

import "github.com/slurmctld/core/internal/types"

// nameIndex is the name -> node hash table: names hash into a bucket
// keyed by the trailing decimal suffix, and on collision the lookup
// falls back to linear probing within the bucket list. It
// exists as its own optimization rather than a plain map, because the
// controller's node names are overwhelmingly prefix+decimal-suffix
// (cn001, lx042, gpu7), and bucketing on that suffix spreads a cluster's
// names far better than Go's generic string hash would for names that
// differ only in their numeric tail.
type nameIndex struct {
	buckets [][]*types.Node
}

// minBuckets is the smallest table size newNameIndex ever allocates, so a
// freshly created registry does not immediately rebuild on its second or
// third node.
const minBuckets = 16

// newNameIndex allocates a table sized for at least capacity live nodes
// at a reasonable load factor.
func newNameIndex(capacity int) *nameIndex {
	return &nameIndex{buckets: make([][]*types.Node, bucketCountFor(capacity))}
}

// bucketCountFor returns the smallest power-of-two bucket count, at least
// minBuckets, that keeps capacity nodes under a load factor of 1 per
// bucket.
func bucketCountFor(capacity int) int {
	n := minBuckets
	for n < capacity {
		n *= 2
	}
	return n
}

// suffixHash extracts name's trailing run of decimal digits and folds it
// into a bucket key. A name with no numeric suffix (a login node named
// "service", say) always hashes to bucket 0 and is found by the linear
// probe within that bucket alone; such names are rare enough that the
// degenerate bucket stays short.
func suffixHash(name string) uint64 {
	i := len(name)
	for i > 0 && name[i-1] >= '0' && name[i-1] <= '9' {
		i--
	}
	suffix := name[i:]
	if suffix == "" {
		return 0
	}
	var v uint64
	for j := 0; j < len(suffix); j++ {
		v = v*10 + uint64(suffix[j]-'0')
		if v > 1<<40 { // keep the accumulator from overflowing on pathological-length suffixes
			v %= 1 << 40
		}
	}
	return v
}

func (idx *nameIndex) bucketFor(name string) int {
	return int(suffixHash(name) % uint64(len(idx.buckets)))
}

// get performs the bucket lookup plus the linear-probe fallback within
// the bucket's collision chain.
func (idx *nameIndex) get(name string) (*types.Node, bool) {
	for _, n := range idx.buckets[idx.bucketFor(name)] {
		if n.Name == name {
			return n, true
		}
	}
	return nil, false
}

func (idx *nameIndex) put(n *types.Node) {
	b := idx.bucketFor(n.Name)
	idx.buckets[b] = append(idx.buckets[b], n)
}

func (idx *nameIndex) remove(name string) {
	b := idx.bucketFor(name)
	chain := idx.buckets[b]
	for i, n := range chain {
		if n.Name == name {
			idx.buckets[b] = append(chain[:i], chain[i+1:]...)
			return
		}
	}
}

// needsRebuild reports whether the table has grown past a load factor of
// 1 per bucket, the point at which the trailing-suffix bucketing starts
// degrading into long probe chains.
func (idx *nameIndex) needsRebuild(liveCount int) bool {
	return liveCount > len(idx.buckets)
}

// rebuildNameIndex reallocates a table sized for liveCount nodes and
// reinserts every one of them. Callers hold the registry's write lock for
// the whole rebuild, so no reader ever observes a partially rebuilt
// table or a stale one.
func rebuildNameIndex(live []*types.Node) *nameIndex {
	idx := newNameIndex(len(live))
	for _, n := range live {
		idx.put(n)
	}
	return idx
}
