package engine

import (
	zlog "github.com/rs/zerolog/log"

	"github.com/w1xm/rotoscope/internal/metrics"
	"github.com/w1xm/rotoscope/mount"
	"github.com/w1xm/rotoscope/slots"
)

type Mode int

const (
	ModeIdle Mode = iota
	ModeMoving
)

func (m Mode) String() string {
	switch m {
	case ModeIdle:
		return "idle"
	case ModeMoving:
		return "moving"
	}
	return "unknown"
}

func (m Mode) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

// Presenter shows media. The reconciler decides what; the presenter
// decides how.
type Presenter interface {
	// Present starts or replaces playback with ref, bound to slot.
	Present(slot int, ref string)
	// Pause suspends playback and shows the placeholder. The loaded
	// media stays loaded.
	Pause()
	// Resume continues the paused media.
	Resume()
	// Stop ends playback and shows the no-media state.
	Stop()
}

// Matcher finds the slot at a live position.
type Matcher interface {
	Match(live, tolerance int) (slots.Slot, bool)
}

// PlaybackState is the reconciler's view of what is on screen.
type PlaybackState struct {
	Mode        Mode   `json:"mode"`
	Slot        *int   `json:"slot,omitempty"`
	Media       string `json:"media,omitempty"`
	Placeholder bool   `json:"placeholder"`
}

// Reconciler drives a Presenter from position and motion events. It is
// not safe for concurrent use; the Engine serializes access.
type Reconciler struct {
	store     Matcher
	presenter Presenter
	tolerance int

	mode        Mode
	active      string
	activeSlot  int
	placeholder bool

	havePosition bool
	position     int
}

func NewReconciler(store Matcher, presenter Presenter, tolerance int) *Reconciler {
	return &Reconciler{store: store, presenter: presenter, tolerance: tolerance}
}

func (r *Reconciler) OnEvent(ev mount.Event) {
	switch ev := ev.(type) {
	case mount.PositionReport:
		r.position = ev.Position
		r.havePosition = true
		if r.mode == ModeIdle {
			r.match()
		}
	case mount.MovingStarted:
		if r.mode == ModeMoving {
			return
		}
		r.mode = ModeMoving
		r.placeholder = true
		r.pause()
	case mount.MovingFinished:
		r.finish()
	}
}

func (r *Reconciler) finish() {
	r.mode = ModeIdle
	if r.active != "" && r.stillValid() {
		r.placeholder = false
		r.resume()
		return
	}
	r.match()
	if r.placeholder {
		r.stop()
	}
}

// stillValid reports whether the loaded media is what the latest position
// would select anyway. Without a position there is nothing to contradict it.
func (r *Reconciler) stillValid() bool {
	if !r.havePosition {
		return true
	}
	slot, ok := r.store.Match(r.position, r.tolerance)
	return ok && slot.Media == r.active
}

// match runs idle matching against the latest position.
func (r *Reconciler) match() {
	if !r.havePosition {
		return
	}
	slot, ok := r.store.Match(r.position, r.tolerance)
	if ok && slot.Media != "" {
		if slot.Media != r.active || r.placeholder {
			r.present(slot.Index, slot.Media)
		}
		r.activeSlot = slot.Index
		return
	}
	if r.active != "" {
		r.stop()
	}
}

// Refresh re-evaluates the idle match after the slots were edited. While
// moving the next MovingFinished does it.
func (r *Reconciler) Refresh() {
	if r.mode == ModeIdle {
		r.match()
	}
}

// Reset returns to idle with nothing presented.
func (r *Reconciler) Reset() {
	if r.active != "" || r.placeholder {
		r.stop()
	}
	r.mode = ModeIdle
	r.havePosition = false
	r.position = 0
}

func (r *Reconciler) State() PlaybackState {
	st := PlaybackState{Mode: r.mode, Media: r.active, Placeholder: r.placeholder}
	if r.active != "" {
		slot := r.activeSlot
		st.Slot = &slot
	}
	return st
}

func (r *Reconciler) present(slot int, ref string) {
	zlog.Info().Int("slot", slot).Str("media", ref).Msg("presenting media")
	r.active = ref
	r.activeSlot = slot
	r.placeholder = false
	metrics.PlaybackTransitions.WithLabelValues("present").Inc()
	r.presenter.Present(slot, ref)
}

func (r *Reconciler) pause() {
	metrics.PlaybackTransitions.WithLabelValues("pause").Inc()
	r.presenter.Pause()
}

func (r *Reconciler) resume() {
	zlog.Debug().Str("media", r.active).Msg("resuming media")
	metrics.PlaybackTransitions.WithLabelValues("resume").Inc()
	r.presenter.Resume()
}

func (r *Reconciler) stop() {
	zlog.Info().Str("media", r.active).Msg("stopping media")
	r.active = ""
	r.placeholder = false
	metrics.PlaybackTransitions.WithLabelValues("stop").Inc()
	r.presenter.Stop()
}
