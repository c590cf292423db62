// Package merger combines ranked partitions produced by parallel scans into
// one ordering.
package merger

import (
	"container/heap"
	"sort"
)

// Ranked is a scored item together with its position in the partition scan.
type Ranked[T any] struct {
	Score    int
	Position int
	Item     T
}

// SortStable orders items by descending score. Equal scores keep scan order.
func SortStable[T any](items []Ranked[T]) {
	sort.SliceStable(items, func(i, j int) bool {
		return items[i].Score > items[j].Score
	})
}

// Merge k-way merges partitions that are each already sorted by SortStable.
// Ties are broken by partition index, then position, which reproduces the
// order of a single sequential scan over the concatenated partitions.
// limit <= 0 returns everything.
func Merge[T any](partitions [][]Ranked[T], limit int) []T {
	total := 0
	for _, p := range partitions {
		total += len(p)
	}
	if limit > 0 && limit < total {
		total = limit
	}

	h := &cursorHeap[T]{parts: partitions}
	for i, p := range partitions {
		if len(p) > 0 {
			h.cursors = append(h.cursors, cursor{part: i})
		}
	}
	heap.Init(h)

	out := make([]T, 0, total)
	for h.Len() > 0 && len(out) < total {
		c := h.cursors[0]
		out = append(out, partitions[c.part][c.offset].Item)
		if c.offset+1 < len(partitions[c.part]) {
			h.cursors[0].offset++
			heap.Fix(h, 0)
		} else {
			heap.Pop(h)
		}
	}
	return out
}

type cursor struct {
	part   int
	offset int
}

type cursorHeap[T any] struct {
	parts   [][]Ranked[T]
	cursors []cursor
}

func (h *cursorHeap[T]) Len() int { return len(h.cursors) }

func (h *cursorHeap[T]) Less(i, j int) bool {
	a := h.parts[h.cursors[i].part][h.cursors[i].offset]
	b := h.parts[h.cursors[j].part][h.cursors[j].offset]
	if a.Score != b.Score {
		return a.Score > b.Score
	}
	if h.cursors[i].part != h.cursors[j].part {
		return h.cursors[i].part < h.cursors[j].part
	}
	return a.Position < b.Position
}

func (h *cursorHeap[T]) Swap(i, j int) { h.cursors[i], h.cursors[j] = h.cursors[j], h.cursors[i] }

func (h *cursorHeap[T]) Push(x any) {
	h.cursors = append(h.cursors, x.(cursor))
}

func (h *cursorHeap[T]) Pop() any {
	old := h.cursors
	n := len(old)
	item := old[n-1]
	h.cursors = old[:n-1]
	return item
}
