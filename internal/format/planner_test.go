package format

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/kode54/bcachefs-tools/internal/base"
)

func TestPlanEmptyReturnsCurrentFormat(t *testing.T) {
	current := base.Format{KeyU64s: 3}
	got := Plan(nil, base.POS_MIN, current, 4096)
	assert.Equal(t, current, got)
}

func TestPlanNarrowsForSmallKeys(t *testing.T) {
	keys := []base.Key{base.Key("a"), base.Key("bb"), base.Key("ccc")}
	current := base.Format{KeyU64s: 200}
	got := Plan(keys, base.POS_MIN, current, 4096)
	assert.Less(t, int(got.KeyU64s), int(current.KeyU64s), "a narrower format should be selected for short keys")
}

func TestPlanFallsBackToCurrentFormatOnOverflow(t *testing.T) {
	// Boundary scenario from §8.4: a node whose repacked size under the
	// planned format would exceed btree_bytes falls back to the source
	// format.
	keys := make([]base.Key, 64)
	for i := range keys {
		keys[i] = base.Key(make([]byte, 64))
	}
	current := base.Format{KeyU64s: 8}
	got := Plan(keys, base.POS_MIN, current, 16)
	assert.Equal(t, current, got, "overflow must fall back to the node's current format")
}

func TestPlanIsPure(t *testing.T) {
	keys := []base.Key{base.Key("x"), base.Key("y")}
	keysCopy := append([]base.Key(nil), keys...)
	current := base.Format{KeyU64s: 1}
	_ = Plan(keys, base.POS_MIN, current, 4096)
	assert.Equal(t, keysCopy, keys, "Plan must never mutate its inputs")
}
