package slots

// PositionReader is the part of a Store the matcher needs.
type PositionReader interface {
	Total() int
	Position(i int) (int, bool)
}

// FindSlot returns the lowest slot whose recorded position is within
// tolerance of live, inclusive.
func FindSlot(live int, r PositionReader, tolerance int) (int, bool) {
	tol := magnitude(tolerance)
	total := r.Total()
	for i := 0; i < total; i++ {
		pos, ok := r.Position(i)
		if !ok {
			continue
		}
		if distance(live, pos) <= tol {
			return i, true
		}
	}
	return 0, false
}

// distance is |a-b| computed without overflow.
func distance(a, b int) uint {
	if a > b {
		return uint(a) - uint(b)
	}
	return uint(b) - uint(a)
}

func magnitude(x int) uint {
	if x < 0 {
		return -uint(x)
	}
	return uint(x)
}

// Match is FindSlot against a consistent view of the store.
func (s *Store) Match(live, tolerance int) (Slot, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	i, ok := FindSlot(live, lockedReader{s}, tolerance)
	if !ok {
		return Slot{}, false
	}
	return s.slot(i), true
}

// lockedReader reads a store whose lock is already held.
type lockedReader struct {
	s *Store
}

func (r lockedReader) Total() int {
	return r.s.total
}

func (r lockedReader) Position(i int) (int, bool) {
	pos, ok := r.s.positions[i]
	return pos, ok
}
