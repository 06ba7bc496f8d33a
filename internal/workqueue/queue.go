// Package workqueue provides the hinted random work queue used by the crawler.
//
// # Overview
//
// The queue answers one question per scheduling step: which pending unit of
// work goes to the next worker. By default the answer is a uniformly random
// element. Callers can override that with hints: Prioritize(key) asks for
// elements sharing a grouping key (usually a parent directory) to be handed
// out first, so a directory is finished before something unrelated starts.
//
// # Data Structures
//
//	┌──────────────┬─────────────────────────────────────────────────────┐
//	│ Structure    │ Purpose                                             │
//	├──────────────┼─────────────────────────────────────────────────────┤
//	│ elems        │ Backing sequence of wrappers, random access         │
//	│ index        │ hash → chain of buckets (authoritative membership)  │
//	│ bucket.elems │ Wrappers sharing one grouping key, insertion order  │
//	│ hints        │ FIFO of grouping keys submitted via Prioritize      │
//	│ next         │ Pre-drawn random cursor into elems                  │
//	└──────────────┴─────────────────────────────────────────────────────┘
//
// The bucket index is the source of truth for membership and count. The
// backing sequence may hold wrappers already removed through a hinted pop;
// they carry removed=true and are compacted when a random selection or
// ForEachRemove walks over them. LenFast therefore over-counts, Len does not.
//
// # Selection
//
//	Pop()/Peek()
//	    │
//	    ├──► count == 0 → not found
//	    │
//	    ├──► head hint present?
//	    │        ├──► bucket exists → take its newest element
//	    │        │        └──► bucket drained → drop head hint
//	    │        └──► no bucket → drop it and every stale hint behind it
//	    │                 until a live one heads the list, else fall through
//	    │
//	    └──► random: elems[next]; a removed wrapper there is compacted and
//	             a new position is drawn
//
// Stale hints are all dropped in one selection, not only the head one.
// After a Peek the hint list is headed by a live key or empty, so the
// following Pop returns the same item.
//
// Within a bucket, hinted selection is LIFO: the most recently added element
// still present is returned first. Removals elsewhere in a bucket preserve
// the relative order of the remaining elements.
//
// # Concurrency
//
// A Queue is not safe for concurrent use. Callers sharing one instance
// between goroutines must serialize every call, including Peek and Len.
package workqueue

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"slices"
)

// ErrCorrupt is the panic payload (wrapped) raised when the bucket index and
// the backing sequence disagree. It signals a bug, never a routine outcome.
var ErrCorrupt = errors.New("workqueue: index desynchronized")

// element wraps one Add call. The backing sequence stores wrappers so a
// hinted pop can mark them removed instead of compacting the sequence.
type element[T, K any] struct {
	item    T
	key     K
	removed bool
}

// bucket holds the live wrappers sharing one grouping key.
type bucket[T, K any] struct {
	key   K
	hash  uint64
	elems []*element[T, K]
}

// Stats counts queue activity since construction.
type Stats struct {
	HintedPops int64 // Pops served from a hinted bucket
	RandomPops int64 // Pops served by random selection
	StaleHints int64 // Hints discarded because no element carried the key
	Compacted  int64 // Removed wrappers dropped from the backing sequence
	Evicted    int64 // Elements removed by ForEachRemove
}

// Queue is a hinted random work queue.
// T is the item type, K the grouping key type.
type Queue[T comparable, K any] struct {
	keyer Keyer[T, K]
	rng   *rand.Rand

	elems   []*element[T, K]          // Backing sequence (may hold removed wrappers)
	index   map[uint64][]*bucket[T, K] // Bucket chains by key hash
	buckets int                        // Live buckets across all chains
	count   int                        // Live elements, sum of bucket sizes
	hints   []K                        // FIFO of prioritized keys
	next    int                        // Random cursor into elems

	stats Stats
}

// Option configures a Queue.
type Option func(*options)

type options struct {
	rng *rand.Rand
}

// WithRand makes the queue draw random positions from r.
func WithRand(r *rand.Rand) Option {
	return func(o *options) { o.rng = r }
}

// WithSeed makes random selection deterministic for a given seed.
func WithSeed(seed uint64) Option {
	return func(o *options) { o.rng = rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)) }
}

// New creates an empty Queue grouping items with keyer.
// Panics if keyer is a FuncKeyer with a nil function.
func New[T comparable, K any](keyer Keyer[T, K], opts ...Option) *Queue[T, K] {
	if v, ok := keyer.(interface{ validate() error }); ok {
		if err := v.validate(); err != nil {
			panic(err)
		}
	}
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.rng == nil {
		// Independent seed per queue: two queues fed the same items must
		// not produce the same pop order.
		o.rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	return &Queue[T, K]{
		keyer: keyer,
		rng:   o.rng,
		index: make(map[uint64][]*bucket[T, K]),
	}
}

// NewStrings creates a Queue of strings where each item is its own key.
func NewStrings(opts ...Option) *Queue[string, string] {
	return New(Identity(), opts...)
}

// Add inserts item. Adding the same item twice stores two independent
// elements, each popped separately.
func (q *Queue[T, K]) Add(item T) {
	key := q.keyer.KeyOf(item)
	e := &element[T, K]{item: item, key: key}
	q.elems = append(q.elems, e)

	b := q.lookup(key)
	if b == nil {
		b = q.insertBucket(key)
	}
	b.elems = append(b.elems, e)
	q.count++
	q.redraw()
}

// Pop removes and returns the next item. ok is false if the queue is empty.
func (q *Queue[T, K]) Pop() (item T, ok bool) {
	return q.get(true)
}

// Peek returns the item the next Pop would return, without removing it.
func (q *Queue[T, K]) Peek() (item T, ok bool) {
	return q.get(false)
}

// Prioritize appends key to the hint sequence. Keys matching no element are
// accepted and discarded once they reach the head of the sequence.
func (q *Queue[T, K]) Prioritize(key K) {
	q.hints = append(q.hints, key)
}

// Contains reports whether item is in the queue. The key routes the lookup
// to a bucket; inside the bucket items are compared with ==.
func (q *Queue[T, K]) Contains(item T) bool {
	b := q.lookup(q.keyer.KeyOf(item))
	if b == nil {
		return false
	}
	for _, e := range b.elems {
		if e.item == item {
			return true
		}
	}
	return false
}

// Len returns the exact number of live elements.
func (q *Queue[T, K]) Len() int { return q.count }

// LenFast returns the length of the backing sequence. It is an upper bound
// on Len: wrappers removed by hinted pops stay until compacted.
func (q *Queue[T, K]) LenFast() int { return len(q.elems) }

// IsEmpty reports whether no live element remains.
func (q *Queue[T, K]) IsEmpty() bool { return q.buckets == 0 }

// Hints returns the number of pending hints, stale ones included.
func (q *Queue[T, K]) Hints() int { return len(q.hints) }

// Stats returns activity counters.
func (q *Queue[T, K]) Stats() Stats { return q.stats }

// ForEach calls fn for every live item in backing-sequence order.
// fn may mutate the item it receives but must not call back into the queue.
func (q *Queue[T, K]) ForEach(fn func(T)) {
	for _, e := range q.elems {
		if !e.removed {
			fn(e.item)
		}
	}
}

// ForEachRemove removes every live item for which pred returns true and
// reports whether anything was removed. notify, if non-nil, is called for
// each removed item after the queue is consistent again.
func (q *Queue[T, K]) ForEachRemove(pred func(T) bool, notify func(T)) bool {
	var evicted []T
	kept := q.elems[:0]
	for _, e := range q.elems {
		if e.removed {
			q.stats.Compacted++
			continue
		}
		if !pred(e.item) {
			kept = append(kept, e)
			continue
		}
		q.unlink(e)
		e.removed = true
		evicted = append(evicted, e.item)
	}
	clear(q.elems[len(kept):])
	q.elems = kept
	q.redraw()

	q.stats.Evicted += int64(len(evicted))
	if notify != nil {
		for _, item := range evicted {
			notify(item)
		}
	}
	return len(evicted) > 0
}

// get implements Pop (remove=true) and Peek (remove=false).
func (q *Queue[T, K]) get(remove bool) (T, bool) {
	if q.count == 0 {
		var zero T
		return zero, false
	}
	if len(q.hints) > 0 {
		if item, ok := q.getHinted(remove); ok {
			return item, true
		}
	}
	return q.getRandom(remove)
}

// getHinted serves the head hint. A hint stays at the head until its bucket
// is drained. Hints without a bucket are dropped until a live one surfaces,
// so a Peek leaves the hint sequence headed by a live key (or empty) and the
// following Peek or Pop selects the same element.
func (q *Queue[T, K]) getHinted(remove bool) (T, bool) {
	var b *bucket[T, K]
	for len(q.hints) > 0 {
		if b = q.lookup(q.hints[0]); b != nil {
			break
		}
		q.dropHint()
		q.stats.StaleHints++
	}
	if b == nil {
		var zero T
		return zero, false
	}

	e := b.elems[len(b.elems)-1]
	if !remove {
		return e.item, true
	}

	// The wrapper stays in the backing sequence, flagged for compaction.
	if q.detach(b, len(b.elems)-1) {
		q.dropHint()
	}
	e.removed = true
	q.stats.HintedPops++
	return e.item, true
}

// getRandom serves elems[next], compacting removed wrappers found there.
func (q *Queue[T, K]) getRandom(remove bool) (T, bool) {
	for len(q.elems) > 0 {
		if q.next >= len(q.elems) {
			q.next = q.rng.IntN(len(q.elems))
		}
		if !q.elems[q.next].removed {
			break
		}
		q.swapRemove(q.next)
		q.stats.Compacted++
		q.redraw() // The tail wrapper now sits at next
	}
	if len(q.elems) == 0 {
		panic(fmt.Errorf("%w: %d live elements but backing sequence is empty", ErrCorrupt, q.count))
	}

	e := q.elems[q.next]
	if !remove {
		return e.item, true
	}

	q.swapRemove(q.next)
	q.unlink(e)
	q.redraw()
	q.stats.RandomPops++
	return e.item, true
}

// unlink removes wrapper e from its bucket, located through its key.
func (q *Queue[T, K]) unlink(e *element[T, K]) {
	b := q.lookup(e.key)
	if b == nil {
		panic(fmt.Errorf("%w: no bucket for key %v", ErrCorrupt, e.key))
	}
	i := slices.Index(b.elems, e)
	if i < 0 {
		panic(fmt.Errorf("%w: element missing from bucket %v", ErrCorrupt, e.key))
	}
	q.detach(b, i)
}

// detach removes b.elems[i], dropping the bucket once empty.
// Returns true if the bucket was dropped.
func (q *Queue[T, K]) detach(b *bucket[T, K], i int) bool {
	b.elems = slices.Delete(b.elems, i, i+1)
	q.count--
	if len(b.elems) > 0 {
		return false
	}
	q.removeBucket(b)
	return true
}

// swapRemove drops elems[i] in O(1) by moving the last wrapper into its place.
func (q *Queue[T, K]) swapRemove(i int) {
	last := len(q.elems) - 1
	q.elems[i] = q.elems[last]
	q.elems[last] = nil
	q.elems = q.elems[:last]
}

// redraw picks the position the next random selection will use.
func (q *Queue[T, K]) redraw() {
	if len(q.elems) <= 1 {
		q.next = 0
		return
	}
	q.next = q.rng.IntN(len(q.elems))
}

func (q *Queue[T, K]) dropHint() {
	var zero K
	q.hints[0] = zero
	q.hints = q.hints[1:]
	if len(q.hints) == 0 {
		q.hints = nil
	}
}

// lookup returns the bucket for key, or nil.
func (q *Queue[T, K]) lookup(key K) *bucket[T, K] {
	for _, b := range q.index[q.keyer.Hash(key)] {
		if q.keyer.Equal(b.key, key) {
			return b
		}
	}
	return nil
}

func (q *Queue[T, K]) insertBucket(key K) *bucket[T, K] {
	h := q.keyer.Hash(key)
	b := &bucket[T, K]{key: key, hash: h}
	q.index[h] = append(q.index[h], b)
	q.buckets++
	return b
}

func (q *Queue[T, K]) removeBucket(b *bucket[T, K]) {
	chain := q.index[b.hash]
	i := slices.Index(chain, b)
	if i < 0 {
		panic(fmt.Errorf("%w: bucket %v not indexed", ErrCorrupt, b.key))
	}
	chain = slices.Delete(chain, i, i+1)
	if len(chain) == 0 {
		delete(q.index, b.hash)
	} else {
		q.index[b.hash] = chain
	}
	q.buckets--
}
