package coupon

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDevCoupons_AreValid(t *testing.T) {
	seen := map[string]bool{}
	for _, c := range DevCoupons(now) {
		assert.NoError(t, c.Validate(), c.Code)
		assert.False(t, seen[c.Code], "duplicate %s", c.Code)
		seen[c.Code] = true
	}
	assert.True(t, seen["SAVE25"])
}
