package vm

import (
	"fortio.org/safecast"
)

// ---------------------------------------------------------------------------
// Object header
// ---------------------------------------------------------------------------

// Handle indexes the heap's object table. References hold handles, so they
// survive a moving collection unchanged. Handle 0 is never allocated.
type Handle uint32

// ObjectKind selects how an object's payload is interpreted and traced.
type ObjectKind uint8

const (
	KindGeneral ObjectKind = iota + 1
	KindArray
	KindByteArray
	KindSymbol
	KindContext
	KindClass
	KindMethod
)

var objectKindNames = [...]string{
	KindGeneral:   "General",
	KindArray:     "Array",
	KindByteArray: "ByteArray",
	KindSymbol:    "Symbol",
	KindContext:   "Context",
	KindClass:     "Class",
	KindMethod:    "Method",
}

func (k ObjectKind) String() string {
	if int(k) < len(objectKindNames) && objectKindNames[k] != "" {
		return objectKindNames[k]
	}
	return "Kind?"
}

// HasPointers reports whether the payload is tagged-value slots.
func (k ObjectKind) HasPointers() bool {
	return k != KindByteArray && k != KindSymbol
}

// Flags is the 5-bit header flag set.
type Flags uint8

const (
	FlagMarked Flags = 1 << iota
	FlagForwarded
	FlagPinned
	FlagContainsPointers
	FlagImmutable
)

// Header layout in word 0 of every object:
//
//	bits  0..23  size (slots, or bytes for byte objects)
//	bits 24..28  flags
//	bits 29..31  kind
//	bits 32..63  identity hash
//
// Word 1 holds the class as a Value. The payload starts at word 2.
const (
	headerWords = 2
	maxSize     = 1<<24 - 1

	flagsShift = 24
	kindShift  = 29
	hashShift  = 32
)

type header uint64

func makeHeader(size uint32, flags Flags, kind ObjectKind, hash uint32) header {
	return header(uint64(size) | uint64(flags&0x1f)<<flagsShift |
		uint64(kind&0x7)<<kindShift | uint64(hash)<<hashShift)
}

func (h header) size() int { return int(h & maxSize) }
func (h header) flags() Flags { return Flags(h>>flagsShift) & 0x1f }
func (h header) kind() ObjectKind { return ObjectKind(h>>kindShift) & 0x7 }
func (h header) hash() uint32 { return uint32(h >> hashShift) }
func (h header) has(f Flags) bool { return h.flags()&f != 0 }
func (h header) with(f Flags) header { return h | header(f)<<flagsShift }
func (h header) without(f Flags) header {
	return h &^ (header(f) << flagsShift)
}

// payloadWords is the number of words after the header. Every object has at
// least one so the forwarding address always has somewhere to live.
func payloadWords(kind ObjectKind, size int) int {
	n := size
	if !kind.HasPointers() {
		n = (size + 7) / 8
	}
	if n < 1 {
		n = 1
	}
	return n
}

// ---------------------------------------------------------------------------
// Heap
// ---------------------------------------------------------------------------

// RootScanner reports roots to the collector by calling visit on each one.
type RootScanner func(visit func(Value))

// HeapStats summarizes heap activity.
type HeapStats struct {
	Collections   int
	WordsInUse    int
	SpaceWords    int
	LiveHandles   int
	LastSurvivors int
	LastFreed     int
	WordsCopied   uint64
}

// Heap is a two-space copying heap. All objects live in the current
// from-space, addressed through the object table.
type Heap struct {
	spaces    [2][]uint64
	from      int
	top       int
	threshold float64
	trigger   int // words in use above which the next allocation collects

	table []int // handle -> word address in from-space, -1 when free
	free  []Handle

	nextHash uint32

	scanners []RootScanner
	roots    []Value
	hooks    []func()

	stats      HeapStats
	collecting bool
}

// NewHeap creates a heap with two semispaces of spaceWords words each.
// A collection is attempted when utilization would exceed threshold.
func NewHeap(spaceWords int, threshold float64) *Heap {
	if threshold <= 0 || threshold > 1 {
		threshold = DefaultGCThreshold
	}
	h := &Heap{
		threshold: threshold,
		table:     []int{-1},
		nextHash:  0x2545F491,
	}
	h.spaces[0] = make([]uint64, spaceWords)
	h.spaces[1] = make([]uint64, spaceWords)
	h.resetTrigger()
	return h
}

// resetTrigger places the next threshold collection. When survivors already
// exceed the threshold it sits halfway through the remaining free space.
func (h *Heap) resetTrigger() {
	capacity := len(h.space())
	h.trigger = int(h.threshold * float64(capacity))
	if h.top >= h.trigger {
		h.trigger = h.top + (capacity-h.top)/2
	}
}

// AddRootScanner registers a function that reports roots at each collection.
func (h *Heap) AddRootScanner(s RootScanner) {
	h.scanners = append(h.scanners, s)
}

// OnCollect registers fn to run after every collection, once handles of
// reclaimed objects have been released.
func (h *Heap) OnCollect(fn func()) {
	h.hooks = append(h.hooks, fn)
}

// PushRoots registers values as roots until PopRoots is called with the
// returned mark.
func (h *Heap) PushRoots(values ...Value) int {
	mark := len(h.roots)
	h.roots = append(h.roots, values...)
	return mark
}

// PopRoots drops every root pushed since mark.
func (h *Heap) PopRoots(mark int) {
	clear(h.roots[mark:])
	h.roots = h.roots[:mark]
}

// Stats returns a snapshot of heap counters.
func (h *Heap) Stats() HeapStats {
	s := h.stats
	s.WordsInUse = h.top
	s.SpaceWords = len(h.spaces[h.from])
	s.LiveHandles = len(h.table) - 1 - len(h.free)
	return s
}

func (h *Heap) space() []uint64 {
	return h.spaces[h.from]
}

func (h *Heap) seedHash() uint32 {
	// xorshift32; never yields zero from a non-zero state.
	x := h.nextHash
	x ^= x << 13
	x ^= x >> 17
	x ^= x << 5
	h.nextHash = x
	return x
}

// ---------------------------------------------------------------------------
// Allocation
// ---------------------------------------------------------------------------

// Allocate creates an object of the given kind and class. For byte kinds
// size is a byte count, otherwise a slot count. Slots start out nil and
// bytes start out zero. The class is kept alive across any collection the
// allocation triggers.
func (h *Heap) Allocate(kind ObjectKind, class Value, size int) (Value, error) {
	if size < 0 || size > maxSize {
		return Nil, newError(KindArgumentError, "object size %d out of range", size)
	}
	size32, err := safecast.Conv[uint32](size)
	if err != nil {
		return Nil, newError(KindArgumentError, "object size %d: %v", size, err)
	}
	words := headerWords + payloadWords(kind, size)
	capacity := len(h.space())

	if h.top+words > h.trigger && !h.collecting {
		mark := h.PushRoots(class)
		h.Collect()
		h.PopRoots(mark)
	}
	if h.top+words > capacity {
		gcLog.Errorf("out of memory: need %d words, %d of %d in use", words, h.top, capacity)
		return Nil, newError(KindOutOfMemory, "cannot allocate %d words (%d of %d in use)", words, h.top, capacity)
	}

	addr := h.top
	h.top += words
	sp := h.space()
	flags := Flags(0)
	if kind.HasPointers() {
		flags |= FlagContainsPointers
	}
	sp[addr] = uint64(makeHeader(size32, flags, kind, h.seedHash()))
	sp[addr+1] = uint64(class)
	clear(sp[addr+headerWords : addr+words])

	var id Handle
	if n := len(h.free); n > 0 {
		id = h.free[n-1]
		h.free = h.free[:n-1]
		h.table[id] = addr
	} else {
		next, err := safecast.Conv[uint32](len(h.table))
		if err != nil {
			return Nil, newError(KindOutOfMemory, "object table exhausted")
		}
		id = Handle(next)
		h.table = append(h.table, addr)
	}
	return FromRef(id), nil
}

// ---------------------------------------------------------------------------
// Object access
// ---------------------------------------------------------------------------

// addr resolves a reference to its from-space address.
func (h *Heap) addr(v Value) (int, error) {
	if !v.IsRef() {
		return 0, mismatch(v, "object reference")
	}
	id := v.handle()
	if int(id) >= len(h.table) || h.table[id] < 0 {
		return 0, newError(KindArgumentError, "dangling reference %v", v)
	}
	return h.table[id], nil
}

func (h *Heap) headerOf(v Value) (header, int, error) {
	a, err := h.addr(v)
	if err != nil {
		return 0, 0, err
	}
	return header(h.space()[a]), a, nil
}

// IsLive reports whether v refers to an object that has not been reclaimed.
func (h *Heap) IsLive(v Value) bool {
	_, err := h.addr(v)
	return err == nil
}

// Kind returns the object kind of a reference.
func (h *Heap) Kind(v Value) (ObjectKind, error) {
	hd, _, err := h.headerOf(v)
	return hd.kind(), err
}

// Size returns the slot count, or byte count for byte objects.
func (h *Heap) Size(v Value) (int, error) {
	hd, _, err := h.headerOf(v)
	return hd.size(), err
}

// Hash returns the identity hash seeded at allocation.
func (h *Heap) Hash(v Value) (uint32, error) {
	hd, _, err := h.headerOf(v)
	return hd.hash(), err
}

// Flags returns the header flags of a reference.
func (h *Heap) Flags(v Value) (Flags, error) {
	hd, _, err := h.headerOf(v)
	return hd.flags(), err
}

// SetFlags sets or clears the client-settable flags (Pinned, Immutable).
func (h *Heap) SetFlags(v Value, f Flags, on bool) error {
	f &= FlagPinned | FlagImmutable
	hd, a, err := h.headerOf(v)
	if err != nil {
		return err
	}
	if on {
		hd = hd.with(f)
	} else {
		hd = hd.without(f)
	}
	h.space()[a] = uint64(hd)
	return nil
}

// ClassOf returns the class word of a reference.
func (h *Heap) ClassOf(v Value) (Value, error) {
	a, err := h.addr(v)
	if err != nil {
		return Nil, err
	}
	return Value(h.space()[a+1]), nil
}

// SetClass replaces the class word. Used during bootstrap only.
func (h *Heap) SetClass(v, class Value) error {
	a, err := h.addr(v)
	if err != nil {
		return err
	}
	h.space()[a+1] = uint64(class)
	return nil
}

// Slot reads pointer slot i (0-based).
func (h *Heap) Slot(v Value, i int) (Value, error) {
	hd, a, err := h.headerOf(v)
	if err != nil {
		return Nil, err
	}
	if !hd.kind().HasPointers() {
		return Nil, newError(KindTypeMismatch, "%s object has no slots", hd.kind())
	}
	if i < 0 || i >= hd.size() {
		return Nil, newError(KindIndexError, "slot %d outside [0, %d)", i, hd.size())
	}
	return Value(h.space()[a+headerWords+i]), nil
}

// SetSlot writes pointer slot i (0-based).
func (h *Heap) SetSlot(v Value, i int, val Value) error {
	hd, a, err := h.headerOf(v)
	if err != nil {
		return err
	}
	if !hd.kind().HasPointers() {
		return newError(KindTypeMismatch, "%s object has no slots", hd.kind())
	}
	if hd.has(FlagImmutable) {
		return newError(KindArgumentError, "object is immutable")
	}
	if i < 0 || i >= hd.size() {
		return newError(KindIndexError, "slot %d outside [0, %d)", i, hd.size())
	}
	h.space()[a+headerWords+i] = uint64(val)
	return nil
}

// Byte reads byte i (0-based) of a byte object.
func (h *Heap) Byte(v Value, i int) (byte, error) {
	hd, a, err := h.headerOf(v)
	if err != nil {
		return 0, err
	}
	if hd.kind().HasPointers() {
		return 0, newError(KindTypeMismatch, "%s object has no bytes", hd.kind())
	}
	if i < 0 || i >= hd.size() {
		return 0, newError(KindIndexError, "byte %d outside [0, %d)", i, hd.size())
	}
	w := h.space()[a+headerWords+i/8]
	return byte(w >> (8 * uint(i%8))), nil
}

// SetByte writes byte i (0-based) of a byte object.
func (h *Heap) SetByte(v Value, i int, b byte) error {
	hd, a, err := h.headerOf(v)
	if err != nil {
		return err
	}
	if hd.kind().HasPointers() {
		return newError(KindTypeMismatch, "%s object has no bytes", hd.kind())
	}
	if hd.has(FlagImmutable) {
		return newError(KindArgumentError, "object is immutable")
	}
	if i < 0 || i >= hd.size() {
		return newError(KindIndexError, "byte %d outside [0, %d)", i, hd.size())
	}
	w := &h.space()[a+headerWords+i/8]
	shift := 8 * uint(i%8)
	*w = *w&^(0xff<<shift) | uint64(b)<<shift
	return nil
}

// Bytes copies out the payload of a byte object.
func (h *Heap) Bytes(v Value) ([]byte, error) {
	hd, a, err := h.headerOf(v)
	if err != nil {
		return nil, err
	}
	if hd.kind().HasPointers() {
		return nil, newError(KindTypeMismatch, "%s object has no bytes", hd.kind())
	}
	n := hd.size()
	out := make([]byte, n)
	sp := h.space()
	for i := range out {
		out[i] = byte(sp[a+headerWords+i/8] >> (8 * uint(i%8)))
	}
	return out, nil
}

// AllocateBytes creates a byte object holding a copy of b.
func (h *Heap) AllocateBytes(kind ObjectKind, class Value, b []byte) (Value, error) {
	v, err := h.Allocate(kind, class, len(b))
	if err != nil {
		return Nil, err
	}
	a, _ := h.addr(v)
	sp := h.space()
	for i, c := range b {
		sp[a+headerWords+i/8] |= uint64(c) << (8 * uint(i%8))
	}
	return v, nil
}

// AllocateSlots creates a pointer object initialized from vals.
func (h *Heap) AllocateSlots(kind ObjectKind, class Value, vals []Value) (Value, error) {
	mark := h.PushRoots(vals...)
	defer h.PopRoots(mark)
	v, err := h.Allocate(kind, class, len(vals))
	if err != nil {
		return Nil, err
	}
	a, _ := h.addr(v)
	sp := h.space()
	for i, val := range vals {
		sp[a+headerWords+i] = uint64(val)
	}
	return v, nil
}
