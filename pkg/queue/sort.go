package queue

import (
	"sort"
	"time"

	"github.com/cuemby/relay/pkg/types"
)

// Strategy orders a snapshot of queue items before the loop's fill_slots
// pass (spec.md §4.5, §8 "Sorting with ADAPTIVE ordering").
type Strategy string

const (
	StrategyFIFO     Strategy = "fifo"
	StrategyLIFO     Strategy = "lifo"
	StrategyAdaptive Strategy = "adaptive"
)

// Sort reorders items in place according to strategy.
func Sort(items []*types.EventQueueItem, strategy Strategy) {
	switch strategy {
	case StrategyLIFO:
		sortLIFO(items)
	case StrategyAdaptive:
		sortAdaptive(items)
	default:
		sortFIFO(items)
	}
}

func isRPC(item *types.EventQueueItem) bool {
	return item.Event.Kind == types.EventKindRPC
}

// sortFIFO: RPC events first, then by timestamp ascending.
func sortFIFO(items []*types.EventQueueItem) {
	sort.SliceStable(items, func(i, j int) bool {
		a, b := items[i], items[j]
		if isRPC(a) != isRPC(b) {
			return isRPC(a)
		}
		return a.Event.Timestamp.Before(b.Event.Timestamp)
	})
}

// sortLIFO: RPC events first, then by timestamp descending.
func sortLIFO(items []*types.EventQueueItem) {
	sort.SliceStable(items, func(i, j int) bool {
		a, b := items[i], items[j]
		if isRPC(a) != isRPC(b) {
			return isRPC(a)
		}
		return a.Event.Timestamp.After(b.Event.Timestamp)
	})
}

// sortAdaptive: RPC first; then items whose resource reference-time lies
// in the future; then items with no reference-time; then the rest by
// timestamp ascending.
func sortAdaptive(items []*types.EventQueueItem) {
	now := time.Now()

	bucket := func(item *types.EventQueueItem) int {
		if isRPC(item) {
			return 0
		}
		ref := item.Event.Resource.ReferenceTime()
		if ref.IsZero() {
			return 2
		}
		if ref.After(now) {
			return 1
		}
		return 3
	}

	sort.SliceStable(items, func(i, j int) bool {
		a, b := items[i], items[j]
		ba, bb := bucket(a), bucket(b)
		if ba != bb {
			return ba < bb
		}
		return a.Event.Timestamp.Before(b.Event.Timestamp)
	})
}
