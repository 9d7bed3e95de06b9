package engine

import (
	"cmp"
	"slices"
)

// Rank returns class indices ordered by descending score. Equal scores keep
// ascending index order.
func Rank(scores []float32) []int {
	idx := make([]int, len(scores))
	for i := range idx {
		idx[i] = i
	}
	slices.SortStableFunc(idx, func(a, b int) int {
		return cmp.Compare(scores[b], scores[a])
	})
	return idx
}
