package heap

import (
	"fmt"
	"sync/atomic"

	"github.com/kiln-io/kiln/internal/remset"
)

// WordBytes is the size of a heap word in bytes.
const WordBytes = 8

// RegionType classifies a region's current use.
type RegionType int

const (
	// RegionFree is an unallocated region on the free list.
	RegionFree RegionType = iota
	// RegionEden is a young region allocated into by mutators.
	RegionEden
	// RegionSurvivor is a young region holding objects that survived a pause.
	RegionSurvivor
	// RegionOld is an old-generation region.
	RegionOld
	// RegionHumongousStart is the first region of a humongous object.
	RegionHumongousStart
	// RegionHumongousCont is a continuation region of a humongous object.
	RegionHumongousCont
)

func (t RegionType) String() string {
	switch t {
	case RegionFree:
		return "free"
	case RegionEden:
		return "eden"
	case RegionSurvivor:
		return "survivor"
	case RegionOld:
		return "old"
	case RegionHumongousStart:
		return "humongous-start"
	case RegionHumongousCont:
		return "humongous-cont"
	default:
		return "unknown"
	}
}

// IsYoung reports whether the type is eden or survivor.
func (t RegionType) IsYoung() bool {
	return t == RegionEden || t == RegionSurvivor
}

// ObjectKind classifies a heap object for reclamation decisions.
type ObjectKind int

const (
	// ObjPlain is an ordinary object.
	ObjPlain ObjectKind = iota
	// ObjPrimitiveArray is an array with no reference fields.
	ObjPrimitiveArray
	// ObjObjectArray is an array of references.
	ObjObjectArray
)

// Object is the minimal per-object record the cleanup pipeline needs:
// location, size, kind, header word, and whether a failed evacuation left
// a self-forwarding pointer installed in the header.
type Object struct {
	Offset        uint64 // word offset from region bottom
	Size          uint64 // size in words
	Kind          ObjectKind
	Mark          uint64 // header word
	SelfForwarded bool
}

// Region is a fixed-size heap partition. During the cleanup pipeline a
// region is mutated by at most one worker at a time (claimed by index),
// except for liveBytes which failed-region chunk workers add to
// concurrently.
type Region struct {
	index     int
	typ       RegionType
	used      uint64 // bytes
	liveBytes atomic.Uint64
	inCSet    bool
	// youngIndexInCSet is 1-based; 0 means not a young collection-set region.
	youngIndexInCSet int
	evacFailed       bool
	// tamsWords is the top-at-mark-start pointer as a word offset from
	// bottom. Zero means TAMS is at bottom.
	tamsWords      uint64
	survWordsGroup uint64
	objects        []Object
	rs             *remset.RemSet
}

func newRegion(index int) *Region {
	return &Region{
		index: index,
		typ:   RegionFree,
		rs:    remset.New(),
	}
}

// Index returns the region's position in the heap directory.
func (r *Region) Index() int { return r.index }

// Type returns the region's classification.
func (r *Region) Type() RegionType { return r.typ }

// SetType reclassifies the region.
func (r *Region) SetType(t RegionType) { r.typ = t }

// IsYoung reports whether the region is eden or survivor.
func (r *Region) IsYoung() bool { return r.typ.IsYoung() }

// IsFree reports whether the region is on the free list.
func (r *Region) IsFree() bool { return r.typ == RegionFree }

// IsHumongousStart reports whether the region starts a humongous object.
func (r *Region) IsHumongousStart() bool { return r.typ == RegionHumongousStart }

// IsEmpty reports whether the region contains no allocated bytes.
func (r *Region) IsEmpty() bool { return r.used == 0 }

// Used returns the region's occupancy in bytes.
func (r *Region) Used() uint64 { return r.used }

// SetUsed sets the region's occupancy in bytes.
func (r *Region) SetUsed(n uint64) { r.used = n }

// LiveBytes returns the current live-byte estimate.
func (r *Region) LiveBytes() uint64 { return r.liveBytes.Load() }

// SetLiveBytes replaces the live-byte estimate.
func (r *Region) SetLiveBytes(n uint64) { r.liveBytes.Store(n) }

// AddLiveBytes atomically adds to the live-byte estimate. Chunk workers
// restoring a failed region call this concurrently.
func (r *Region) AddLiveBytes(n uint64) { r.liveBytes.Add(n) }

// InCollectionSet reports collection-set membership.
func (r *Region) InCollectionSet() bool { return r.inCSet }

// YoungIndexInCSet returns the region's 1-based young collection-set
// index, or 0 for non-young regions.
func (r *Region) YoungIndexInCSet() int { return r.youngIndexInCSet }

// EvacuationFailed reports whether the region carries the explicit
// evacuation-failed state.
func (r *Region) EvacuationFailed() bool { return r.evacFailed }

// TopAtMarkStart returns the TAMS pointer as a word offset from bottom.
func (r *Region) TopAtMarkStart() uint64 { return r.tamsWords }

// SetTopAtMarkStart sets the TAMS pointer (word offset from bottom).
func (r *Region) SetTopAtMarkStart(words uint64) { r.tamsWords = words }

// RemSet returns the region's remembered set.
func (r *Region) RemSet() *remset.RemSet { return r.rs }

// Objects returns the region's object records.
func (r *Region) Objects() []Object { return r.objects }

// AddObject appends an object record and grows occupancy accordingly.
func (r *Region) AddObject(o Object) {
	r.objects = append(r.objects, o)
	r.used += o.Size * WordBytes
}

// SetMark replaces the header word of the object at the given word
// offset. Panics if no object lives there: preserved marks must refer to
// objects still at their original location.
func (r *Region) SetMark(offset, mark uint64) {
	for i := range r.objects {
		if r.objects[i].Offset == offset {
			r.objects[i].Mark = mark
			r.objects[i].SelfForwarded = false
			return
		}
	}
	panic(fmt.Sprintf("heap: no object at offset %d in region %d", offset, r.index))
}

// RecordSurvWordsInGroup records the surviving word count measured for
// this region's age/size group during copying.
func (r *Region) RecordSurvWordsInGroup(words uint64) { r.survWordsGroup = words }

// SurvWordsInGroup returns the recorded surviving word count.
func (r *Region) SurvWordsInGroup() uint64 { return r.survWordsGroup }

// RemoveSelfForwardsInChunk undoes self-forwarding pointers for objects
// whose start offset falls inside the given chunk of the region, and
// returns the number of live words found there. Chunks partition the
// region's word range evenly; distinct chunks touch distinct objects, so
// concurrent calls for different chunks are safe.
func (r *Region) RemoveSelfForwardsInChunk(chunk, totalChunks int, wordsPerRegion uint64) uint64 {
	if totalChunks <= 0 {
		panic("heap: totalChunks must be positive")
	}
	span := wordsPerRegion / uint64(totalChunks)
	lo := uint64(chunk) * span
	hi := lo + span
	if chunk == totalChunks-1 {
		hi = wordsPerRegion
	}
	var live uint64
	for i := range r.objects {
		o := &r.objects[i]
		if o.Offset < lo || o.Offset >= hi {
			continue
		}
		if o.SelfForwarded {
			o.SelfForwarded = false
		}
		live += o.Size
	}
	return live
}

// HandleEvacuationFailure transitions a collection-set region that failed
// evacuation into retained old state. The region keeps its contents and
// becomes old unconditionally. TAMS is not touched here: it was already
// reset while the region's self-forwards were removed, and sub-tasks
// running alongside this transition read it.
func (r *Region) HandleEvacuationFailure() {
	r.typ = RegionOld
	r.evacFailed = true
	r.youngIndexInCSet = 0
}

// reset returns the region to free state. Collection-set membership is
// deliberately left alone: sub-tasks still running in the same pause
// consult it, and CollectionSet.Clear drops it after statistics are
// reported.
func (r *Region) reset() {
	r.typ = RegionFree
	r.used = 0
	r.liveBytes.Store(0)
	r.youngIndexInCSet = 0
	r.evacFailed = false
	r.tamsWords = 0
	r.survWordsGroup = 0
	r.objects = nil
	r.rs.Clear()
}
