// Package slots holds the ordered set of remembered mount positions and
// the media bound to each of them.
package slots

import (
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
)

const (
	// DefaultTotal is the slot count after ResetAll and for fresh installs.
	DefaultTotal = 10
	// DefaultTolerance is the matching window in encoder counts.
	DefaultTolerance = 5
)

var (
	ErrOutOfRange = errors.New("slot index out of range")
	// ErrPersistence marks a failed write. The in-memory change is kept.
	ErrPersistence = errors.New("persisting slots")
)

// Slot is one entry of the store. Media is empty when no asset is bound.
type Slot struct {
	Index    int    `json:"slot"`
	Position *int   `json:"position,omitempty"`
	Media    string `json:"media,omitempty"`
}

func (s Slot) Empty() bool {
	return s.Position == nil && s.Media == ""
}

// Summary is the read-only view handed to remote control surfaces.
type Summary struct {
	Slot        int    `json:"slot"`
	HasPosition bool   `json:"hasPosition"`
	HasMedia    bool   `json:"hasMedia"`
	MediaName   string `json:"video,omitempty"`
}

// Snapshot is the persisted form of a Store. The JSON keys match the
// settings file written by earlier releases.
type Snapshot struct {
	Positions  map[int]int    `json:"positions"`
	Media      map[int]string `json:"videos"`
	TotalSlots int            `json:"totalSlots"`
	SavedAt    time.Time      `json:"lastSavedData,omitempty"`
}

// DefaultSnapshot is what a store starts from when nothing is persisted.
func DefaultSnapshot() Snapshot {
	return Snapshot{
		Positions:  map[int]int{},
		Media:      map[int]string{},
		TotalSlots: DefaultTotal,
	}
}

// Persister loads and saves snapshots.
type Persister interface {
	Load() (Snapshot, error)
	Save(Snapshot) error
}

// Store is safe for concurrent use; all writers are serialized behind one
// lock so renumbering is never observed half done.
type Store struct {
	persister Persister

	mu        sync.RWMutex
	positions map[int]int
	media     map[int]string
	total     int
	savedAt   time.Time
}

// New returns a store holding DefaultTotal empty slots. p may be nil for a
// memory-only store.
func New(p Persister) *Store {
	s := &Store{persister: p}
	s.restore(DefaultSnapshot())
	return s
}

// Open returns a store initialised from p.
func Open(p Persister) (*Store, error) {
	snap, err := p.Load()
	if err != nil {
		return nil, errors.Mark(errors.Wrap(err, "loading slots"), ErrPersistence)
	}
	s := &Store{persister: p}
	s.restore(snap)
	return s, nil
}

// restore replaces the contents with a normalised copy of snap.
func (s *Store) restore(snap Snapshot) {
	s.positions = make(map[int]int, len(snap.Positions))
	s.media = make(map[int]string, len(snap.Media))
	s.total = snap.TotalSlots
	if s.total < 0 {
		s.total = 0
	}
	for i, pos := range snap.Positions {
		if i < 0 {
			continue
		}
		s.positions[i] = pos
		if i >= s.total {
			s.total = i + 1
		}
	}
	for i, ref := range snap.Media {
		if i < 0 || ref == "" {
			continue
		}
		s.media[i] = ref
		if i >= s.total {
			s.total = i + 1
		}
	}
	s.savedAt = snap.SavedAt
}

// snapshot must be called with s.mu held.
func (s *Store) snapshot() Snapshot {
	snap := Snapshot{
		Positions:  make(map[int]int, len(s.positions)),
		Media:      make(map[int]string, len(s.media)),
		TotalSlots: s.total,
		SavedAt:    s.savedAt,
	}
	for k, v := range s.positions {
		snap.Positions[k] = v
	}
	for k, v := range s.media {
		snap.Media[k] = v
	}
	return snap
}

func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshot()
}

// persist must be called with s.mu held for writing.
func (s *Store) persist() error {
	if s.persister == nil {
		return nil
	}
	s.savedAt = time.Now().UTC()
	if err := s.persister.Save(s.snapshot()); err != nil {
		return errors.Mark(err, ErrPersistence)
	}
	return nil
}

// check must be called with s.mu held.
func (s *Store) check(i int) error {
	if i < 0 || i >= s.total {
		return errors.Wrapf(ErrOutOfRange, "slot %d of %d", i, s.total)
	}
	return nil
}

// InsertSlot appends an empty slot and returns its index. A non-nil error
// is always a persistence failure; the slot exists regardless.
func (s *Store) InsertSlot() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.total
	s.total++
	return i, s.persist()
}

// DeleteSlot removes slot i and moves every later slot down by one.
func (s *Store) DeleteSlot(i int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(i); err != nil {
		return err
	}
	s.positions = shift(s.positions, i)
	s.media = shift(s.media, i)
	s.total--
	return s.persist()
}

// shift returns m without key i and with every key above i decremented.
func shift[V any](m map[int]V, i int) map[int]V {
	out := make(map[int]V, len(m))
	for k, v := range m {
		switch {
		case k < i:
			out[k] = v
		case k > i:
			out[k-1] = v
		}
	}
	return out
}

func (s *Store) SetPosition(i, pos int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(i); err != nil {
		return err
	}
	s.positions[i] = pos
	return s.persist()
}

// SetMedia binds ref to slot i; an empty ref removes the binding.
func (s *Store) SetMedia(i int, ref string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(i); err != nil {
		return err
	}
	if ref == "" {
		delete(s.media, i)
	} else {
		s.media[i] = ref
	}
	return s.persist()
}

func (s *Store) ClearPosition(i int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(i); err != nil {
		return err
	}
	delete(s.positions, i)
	return s.persist()
}

// ClearSlot drops the position and media of slot i. The index stays allocated.
func (s *Store) ClearSlot(i int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(i); err != nil {
		return err
	}
	delete(s.positions, i)
	delete(s.media, i)
	return s.persist()
}

func (s *Store) ResetAll() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.positions = map[int]int{}
	s.media = map[int]string{}
	s.total = DefaultTotal
	return s.persist()
}

func (s *Store) Total() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.total
}

func (s *Store) Position(i int) (int, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	pos, ok := s.positions[i]
	return pos, ok
}

func (s *Store) Media(i int) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ref, ok := s.media[i]
	return ref, ok
}

func (s *Store) HasPosition(i int) bool {
	_, ok := s.Position(i)
	return ok
}

func (s *Store) HasMedia(i int) bool {
	_, ok := s.Media(i)
	return ok
}

// slot must be called with s.mu held.
func (s *Store) slot(i int) Slot {
	sl := Slot{Index: i, Media: s.media[i]}
	if pos, ok := s.positions[i]; ok {
		sl.Position = &pos
	}
	return sl
}

func (s *Store) Slot(i int) (Slot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.check(i); err != nil {
		return Slot{}, err
	}
	return s.slot(i), nil
}

// Slots returns every slot in index order.
func (s *Store) Slots() []Slot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Slot, s.total)
	for i := range out {
		out[i] = s.slot(i)
	}
	return out
}

// Summaries returns one entry per slot in index order.
func (s *Store) Summaries() []Summary {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Summary, s.total)
	for i := range out {
		_, hasPos := s.positions[i]
		ref, hasMedia := s.media[i]
		out[i] = Summary{Slot: i, HasPosition: hasPos, HasMedia: hasMedia}
		if hasMedia {
			out[i].MediaName = filepath.Base(ref)
		}
	}
	return out
}

// Indices returns the sorted keys of m. Used by persisters that need a
// stable write order.
func Indices[V any](m map[int]V) []int {
	keys := make([]int, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Ints(keys)
	return keys
}
