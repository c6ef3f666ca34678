package base

// Format is a packed-key format descriptor: the per-field byte widths a
// node's bset is packed under, plus the u64-accounting the format planner
// needs to decide whether repacking under a narrower format would fit.
//
// FieldBits mirrors bcachefs's bkey_format: one width per key field, in
// the order the node's key fields are laid out.
type Format struct {
	KeyU64s     uint8
	FieldBits   [maxFormatFields]uint8
	FieldOffset [maxFormatFields]uint64
}

const maxFormatFields = 8

// Overflow reports whether a key's fields exceed the widths this format
// was built for and it would need to fall back to an unpacked
// representation.
func (f Format) Overflow(fieldWidths [maxFormatFields]uint8) bool {
	for i, w := range fieldWidths {
		if w > f.FieldBits[i] {
			return true
		}
	}
	return false
}

// U64s returns the packed size, in u64 words, of a key under this format.
func (f Format) U64s() uint8 {
	return f.KeyU64s
}
