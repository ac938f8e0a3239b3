// Package engine ties decoded device events to the slot store and the
// media presenter. All device lines and user operations go through one
// Engine, which processes them one at a time.
package engine

import (
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"

	"github.com/w1xm/rotoscope/internal/metrics"
	"github.com/w1xm/rotoscope/mount"
	"github.com/w1xm/rotoscope/slots"
)

var (
	ErrNotConnected = mount.ErrNotConnected
	// ErrEmptySlot is returned by Goto for a slot without a position.
	ErrEmptySlot        = errors.New("slot has no saved position")
	ErrPositionUnknown  = errors.New("mount position unknown")
	ErrAlreadyConnected = errors.New("already connected")
)

// Sender writes commands to the device.
type Sender interface {
	Send(cmd mount.Command) error
}

// Telemetry is the most recent device state reported on the line.
type Telemetry struct {
	Position   *int      `json:"position,omitempty"`
	Rotations  *float64  `json:"rotations,omitempty"`
	LimitStart string    `json:"limitStart,omitempty"`
	LimitEnd   string    `json:"limitEnd,omitempty"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

type Status struct {
	Connected  bool             `json:"connected"`
	Port       string           `json:"port,omitempty"`
	Telemetry  Telemetry        `json:"telemetry"`
	Playback   PlaybackState    `json:"playback"`
	TotalSlots int              `json:"totalSlots"`
	Slots      []slots.Slot     `json:"slots"`
	Pending    []PendingCommand `json:"pending"`
}

type StatusCallback func(status Status)

type Engine struct {
	store      *slots.Store
	correlator *Correlator
	reconciler *Reconciler

	mu        sync.Mutex
	sender    Sender
	port      string
	telemetry Telemetry
	callbacks []StatusCallback
}

func New(store *slots.Store, presenter Presenter, tolerance int) *Engine {
	return &Engine{
		store:      store,
		correlator: NewCorrelator(store),
		reconciler: NewReconciler(store, presenter, tolerance),
	}
}

func (e *Engine) Store() *slots.Store {
	return e.store
}

// OnStatus registers cb to receive the status after every change. Callbacks
// run with the engine locked and must not call back into it.
func (e *Engine) OnStatus(cb StatusCallback) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.callbacks = append(e.callbacks, cb)
}

func (e *Engine) notifyStatus() {
	if len(e.callbacks) == 0 {
		return
	}
	status := e.status()
	for _, cb := range e.callbacks {
		cb(status)
	}
}

func (e *Engine) Status() Status {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.status()
}

func (e *Engine) status() Status {
	return Status{
		Connected:  e.sender != nil,
		Port:       e.port,
		Telemetry:  e.telemetry,
		Playback:   e.reconciler.State(),
		TotalSlots: e.store.Total(),
		Slots:      e.store.Slots(),
		Pending:    e.correlator.Pending(),
	}
}

// Attach binds a device session. Lines for it must be passed to HandleLine.
func (e *Engine) Attach(port string, s Sender) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.sender != nil {
		return errors.Wrapf(ErrAlreadyConnected, "attached to %q", e.port)
	}
	e.sender = s
	e.port = port
	metrics.RecordConnected(true)
	zlog.Info().Str("port", port).Msg("device attached")
	e.notifyStatus()
	return nil
}

// Detach unbinds the session and forgets everything tied to it.
func (e *Engine) Detach() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.sender == nil {
		return
	}
	zlog.Info().Str("port", e.port).Msg("device detached")
	e.sender = nil
	e.port = ""
	e.telemetry = Telemetry{}
	e.correlator.Reset()
	e.reconciler.Reset()
	metrics.RecordConnected(false)
	e.notifyStatus()
}

// HandleLine processes one line received from the device. Unknown lines
// and unattributable confirmations are logged and dropped.
func (e *Engine) HandleLine(line string) {
	ev := mount.Decode(line)
	metrics.RecordEvent(ev.Kind())

	e.mu.Lock()
	defer e.mu.Unlock()
	e.updateTelemetry(ev)

	err := e.correlator.OnEvent(ev)
	switch {
	case err == nil:
		switch ev.(type) {
		case mount.SaveConfirmed, mount.ListEntry:
			e.reconciler.Refresh()
		}
	case errors.Is(err, ErrCorrelationMiss):
		zlog.Warn().Err(err).Msg("discarding confirmation")
	case errors.Is(err, slots.ErrOutOfRange):
		zlog.Warn().Err(err).Str("line", line).Msg("ignoring slot data")
	default:
		e.checkPersisted(err)
		// The store kept the change.
		e.reconciler.Refresh()
	}

	e.reconciler.OnEvent(ev)
	e.notifyStatus()
}

func (e *Engine) updateTelemetry(ev mount.Event) {
	switch ev := ev.(type) {
	case mount.PositionReport:
		pos := ev.Position
		e.telemetry.Position = &pos
		metrics.Position.Set(float64(pos))
	case mount.RotationCount:
		r := ev.Rotations
		e.telemetry.Rotations = &r
	case mount.LimitStatus:
		e.telemetry.LimitStart = ev.Start
		e.telemetry.LimitEnd = ev.End
	case mount.Unrecognized:
		zlog.Debug().Str("line", ev.Raw).Msg("unrecognized line")
		return
	}
	e.telemetry.UpdatedAt = time.Now()
}

// checkPersisted logs and counts a persistence failure. Other errors are
// returned by the caller untouched.
func (e *Engine) checkPersisted(err error) {
	if err != nil && errors.Is(err, slots.ErrPersistence) {
		metrics.PersistenceErrors.Inc()
		zlog.Error().Err(err).Msg("slot change not persisted")
	}
}

// Send writes cmd to the device and records it as pending.
func (e *Engine) Send(cmd mount.Command) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.send(cmd)
}

func (e *Engine) send(cmd mount.Command) error {
	if e.sender == nil {
		return errors.Wrapf(ErrNotConnected, "sending %s", cmd)
	}
	if err := e.sender.Send(cmd); err != nil {
		metrics.RecordCommand(string(cmd.Kind), false)
		return errors.Wrapf(err, "sending %s", cmd)
	}
	metrics.RecordCommand(string(cmd.Kind), true)
	e.correlator.OnCommandSent(cmd)
	e.notifyStatus()
	return nil
}

func (e *Engine) Move(target int) error {
	return e.Send(mount.Move(target))
}

// Step moves by delta counts from the last reported position.
func (e *Engine) Step(delta int) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.telemetry.Position == nil {
		return ErrPositionUnknown
	}
	return e.send(mount.Move(*e.telemetry.Position + delta))
}

// SavePosition asks the device to store its current position in slot.
// The store is only updated once the device confirms.
func (e *Engine) SavePosition(slot int) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, err := e.store.Slot(slot); err != nil {
		return err
	}
	return e.send(mount.Save(slot))
}

func (e *Engine) Goto(slot int) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	s, err := e.store.Slot(slot)
	if err != nil {
		return err
	}
	if s.Position == nil {
		return errors.Wrapf(ErrEmptySlot, "slot %d", slot)
	}
	return e.send(mount.Goto(slot))
}

func (e *Engine) Home() error          { return e.Send(mount.Home()) }
func (e *Engine) QueryPosition() error { return e.Send(mount.QueryPosition()) }
func (e *Engine) QueryLimits() error   { return e.Send(mount.QueryLimits()) }
func (e *Engine) List() error          { return e.Send(mount.List()) }
func (e *Engine) Test() error          { return e.Send(mount.Test()) }

// slotOp runs a store mutation and propagates its effects. A persistence
// failure still counts as a change.
func (e *Engine) slotOp(op func() error) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	err := op()
	if err != nil && !errors.Is(err, slots.ErrPersistence) {
		return err
	}
	e.checkPersisted(err)
	e.reconciler.Refresh()
	e.notifyStatus()
	return err
}

func (e *Engine) InsertSlot() (int, error) {
	var i int
	err := e.slotOp(func() (err error) {
		i, err = e.store.InsertSlot()
		return err
	})
	return i, err
}

// DeleteSlot removes slot i, renumbering later slots and any pending
// commands that refer to them.
func (e *Engine) DeleteSlot(i int) error {
	return e.slotOp(func() error {
		err := e.store.DeleteSlot(i)
		if err == nil || errors.Is(err, slots.ErrPersistence) {
			e.correlator.SlotDeleted(i)
		}
		return err
	})
}

func (e *Engine) SetMedia(i int, ref string) error {
	return e.slotOp(func() error { return e.store.SetMedia(i, ref) })
}

func (e *Engine) ClearSlot(i int) error {
	return e.slotOp(func() error { return e.store.ClearSlot(i) })
}

func (e *Engine) ClearPosition(i int) error {
	return e.slotOp(func() error { return e.store.ClearPosition(i) })
}

func (e *Engine) ResetAll() error {
	return e.slotOp(e.store.ResetAll)
}
