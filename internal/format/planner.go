// Package format implements the narrowest packed-key format selection
// described in §4.2: given a node's live keys, find the tightest format
// they all fit under, falling back to the node's current format when
// repacking would overflow btree_bytes.
package format

import "github.com/kode54/bcachefs-tools/internal/base"

// fieldWidths returns, for a single key, the minimal per-field byte width
// needed to represent it. Interior-node keys here are flat byte strings
// rather than bcachefs's multi-field bkey, so the "fields" collapse to a
// single width: the key's own length.
func fieldWidths(k base.Key) [8]uint8 {
	var w [8]uint8
	n := len(k)
	if n > 255 {
		n = 255
	}
	w[0] = uint8(n)
	return w
}

// Plan computes a packed-key format F such that repacking liveKeys under F
// keeps the resulting node within maxBytes. Pure: it never mutates the
// node, only inspects its keys and current format.
func Plan(liveKeys []base.Key, minKey base.Key, currentFormat base.Format, maxBytes int) base.Format {
	if len(liveKeys) == 0 {
		return currentFormat
	}

	// Union every live key's field-width requirement, plus min_key's,
	// into the narrowest format that covers them all.
	var union [8]uint8
	for _, fw := range [][8]uint8{fieldWidths(minKey)} {
		for i, w := range fw {
			if w > union[i] {
				union[i] = w
			}
		}
	}
	for _, k := range liveKeys {
		fw := fieldWidths(k)
		for i, w := range fw {
			if w > union[i] {
				union[i] = w
			}
		}
	}

	candidate := base.Format{FieldBits: union}
	candidate.KeyU64s = packedU64s(union)

	if overflowsBudget(liveKeys, candidate, maxBytes) {
		return currentFormat
	}
	return candidate
}

// packedU64s rounds a format's total field bytes up to a u64-word count,
// per §4.2's "repacked u64-count" accounting.
func packedU64s(fieldBits [8]uint8) uint8 {
	total := 0
	for _, b := range fieldBits {
		total += int(b)
	}
	words := (total + 7) / 8
	if words == 0 {
		words = 1
	}
	if words > 255 {
		words = 255
	}
	return uint8(words)
}

// overflowsBudget compares old_live_u64s against
// old_live_u64s + (new_key_u64s - old_key_u64s) * packed_count against
// maxBytes, the §4.2 comparison.
func overflowsBudget(liveKeys []base.Key, candidate base.Format, maxBytes int) bool {
	oldU64s := 0
	for _, k := range liveKeys {
		oldU64s += (len(k) + 7) / 8
	}
	newU64s := int(candidate.KeyU64s) * len(liveKeys)
	delta := newU64s - oldU64s
	return (oldU64s+delta)*8 > maxBytes
}
