package vm

import (
	"time"
)

// ---------------------------------------------------------------------------
// Cheney collector
// ---------------------------------------------------------------------------

// Collect runs a full stop-and-copy collection. Every object reachable from
// a root scanner, the explicit root stack, or a pinned object is copied into
// to-space; every other handle is released for reuse.
func (h *Heap) Collect() {
	if h.collecting {
		return
	}
	h.collecting = true
	defer func() { h.collecting = false }()

	start := time.Now()
	from := h.spaces[h.from]
	to := h.spaces[1-h.from]
	toTop := 0

	forward := func(v Value) {
		if !v.IsRef() {
			return
		}
		id := v.handle()
		if int(id) >= len(h.table) {
			return
		}
		a := h.table[id]
		if a < 0 {
			return
		}
		hd := header(from[a])
		if hd.has(FlagForwarded) {
			return
		}
		n := headerWords + payloadWords(hd.kind(), hd.size())
		copy(to[toTop:toTop+n], from[a:a+n])
		to[toTop] = uint64(hd.without(FlagMarked | FlagForwarded))
		from[a] = uint64(hd.with(FlagForwarded))
		from[a+headerWords] = uint64(toTop)
		toTop += n
	}

	for _, scan := range h.scanners {
		scan(forward)
	}
	for _, r := range h.roots {
		forward(r)
	}
	for id := 1; id < len(h.table); id++ {
		if a := h.table[id]; a >= 0 && header(from[a]).has(FlagPinned) {
			forward(FromRef(Handle(id)))
		}
	}

	// Breadth-first scan of to-space. Forwarding appends to the region
	// being scanned, so the loop bound moves.
	for scan := 0; scan < toTop; {
		hd := header(to[scan])
		forward(Value(to[scan+1]))
		base := scan + headerWords
		for i, n := 0, tracedSlots(hd, to[base:]); i < n; i++ {
			forward(Value(to[base+i]))
		}
		scan += headerWords + payloadWords(hd.kind(), hd.size())
	}

	survivors, freed := 0, 0
	for id := 1; id < len(h.table); id++ {
		a := h.table[id]
		if a < 0 {
			continue
		}
		if header(from[a]).has(FlagForwarded) {
			h.table[id] = int(from[a+headerWords])
			survivors++
			continue
		}
		h.table[id] = -1
		h.free = append(h.free, Handle(id))
		freed++
	}

	copied := toTop
	h.from = 1 - h.from
	h.top = toTop
	clear(from)
	h.resetTrigger()

	h.stats.Collections++
	h.stats.LastSurvivors = survivors
	h.stats.LastFreed = freed
	h.stats.WordsCopied += uint64(copied)
	for _, fn := range h.hooks {
		fn()
	}
	gcLog.Debugf("collection %d: copied %d words, %d survivors, %d freed in %s",
		h.stats.Collections, copied, survivors, freed, time.Since(start))
}

// tracedSlots returns how many leading payload slots hold live pointers.
// Byte objects have none. Contexts trace their fixed fields, temps and the
// in-use part of the operand stack.
func tracedSlots(hd header, payload []uint64) int {
	kind := hd.kind()
	if !kind.HasPointers() {
		return 0
	}
	n := hd.size()
	if kind == KindContext && n > ctxSP {
		if sp := Value(payload[ctxSP]); sp.IsInt() {
			n = min(n, max(int(sp.intPayload()), ctxFixedSlots))
		}
	}
	return n
}
