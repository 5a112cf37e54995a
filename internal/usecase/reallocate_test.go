package usecase

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func sum(xs []int64) int64 {
	var s int64
	for _, x := range xs {
		s += x
	}
	return s
}

func TestAllocateByLargestRemainder(t *testing.T) {
	cases := []struct {
		name   string
		shares []int64
		total  int64
		want   []int64
	}{
		{"even split", []int64{100, 100}, 100, []int64{50, 50}},
		{"remainder to largest", []int64{100, 100, 100}, 100, []int64{34, 33, 33}},
		{"proportional", []int64{300, 100}, 100, []int64{75, 25}},
		{"tie breaks to lower index", []int64{100, 100}, 101, []int64{51, 50}},
		{"one cent", []int64{999, 1}, 1, []int64{1, 0}},
		{"zero total", []int64{100, 200}, 0, []int64{0, 0}},
		{"zero shares get equal split", []int64{0, 0, 0}, 10, []int64{4, 3, 3}},
		{"single item", []int64{12345}, 678, []int64{678}},
	}

	for _, tc := range cases {
		got := allocateByLargestRemainder(tc.shares, tc.total)
		assert.Equal(t, tc.want, got, tc.name)
		assert.Equal(t, sum(tc.want), sum(got), tc.name)
	}
}

// 合計が必ず一致することを総当たりで確かめる
func TestAllocateByLargestRemainder_SumInvariant(t *testing.T) {
	shareSets := [][]int64{
		{1990, 500, 2100},
		{1, 1, 1, 1, 1, 1, 1},
		{999999, 1},
		{33, 33, 34},
	}
	for _, shares := range shareSets {
		for total := int64(0); total <= 500; total += 7 {
			got := allocateByLargestRemainder(shares, total)
			assert.Equal(t, total, sum(got), "shares %v total %d", shares, total)
			for i, v := range got {
				assert.GreaterOrEqual(t, v, int64(0), "shares %v total %d idx %d", shares, total, i)
			}
		}
	}
}
