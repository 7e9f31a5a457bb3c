package transport

// seenWindow remembers the most recent message IDs received from the server.
// The oldest ID is forgotten once the window is full, which keeps memory
// bounded across 16-bit ID wraparound.
type seenWindow struct {
	ids  map[uint16]struct{}
	ring []uint16
	next int
	full bool
}

const defaultSeenWindow = 1024

func newSeenWindow(size int) *seenWindow {
	if size <= 0 {
		size = defaultSeenWindow
	}
	return &seenWindow{
		ids:  make(map[uint16]struct{}, size),
		ring: make([]uint16, size),
	}
}

// observe records id and reports whether it had already been seen.
func (w *seenWindow) observe(id uint16) bool {
	if _, ok := w.ids[id]; ok {
		return true
	}
	if w.full {
		delete(w.ids, w.ring[w.next])
	}
	w.ring[w.next] = id
	w.ids[id] = struct{}{}
	w.next++
	if w.next == len(w.ring) {
		w.next = 0
		w.full = true
	}
	return false
}
