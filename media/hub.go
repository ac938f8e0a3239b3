// Package media fans playback decisions out to connected players.
package media

import (
	"context"
	"fmt"
	"path/filepath"

	zlog "github.com/rs/zerolog/log"

	"github.com/w1xm/rotoscope/internal/watch"
)

type Action string

const (
	ActionPresent Action = "present"
	ActionPause   Action = "pause"
	ActionResume  Action = "resume"
	ActionStop    Action = "stop"
)

// Directive tells a player what to show. Pause and resume keep the media
// of the preceding present so late joiners can load it.
type Directive struct {
	Action Action `json:"action"`
	Slot   *int   `json:"slot,omitempty"`
	Media  string `json:"media,omitempty"`
	// Name is the base name of Media.
	Name string `json:"video,omitempty"`
	// URL serves the media file.
	URL         string `json:"url,omitempty"`
	Placeholder bool   `json:"placeholder"`
}

// Hub keeps the current directive. It implements engine.Presenter.
type Hub struct {
	current *watch.Value[Directive]
}

func NewHub() *Hub {
	return &Hub{current: watch.New(Directive{Action: ActionStop})}
}

func (h *Hub) Present(slot int, ref string) {
	h.set(Directive{
		Action: ActionPresent,
		Slot:   &slot,
		Media:  ref,
		Name:   filepath.Base(ref),
		URL:    fmt.Sprintf("/media/%d", slot),
	})
}

func (h *Hub) Pause() {
	d := h.Current()
	d.Action = ActionPause
	d.Placeholder = true
	h.set(d)
}

func (h *Hub) Resume() {
	d := h.Current()
	d.Action = ActionResume
	d.Placeholder = false
	h.set(d)
}

func (h *Hub) Stop() {
	h.set(Directive{Action: ActionStop})
}

func (h *Hub) set(d Directive) {
	zlog.Debug().Str("action", string(d.Action)).Str("media", d.Media).Msg("player directive")
	h.current.Set(d)
}

func (h *Hub) Current() Directive {
	d, _ := h.current.Get()
	return d
}

// Watch calls fn with the current directive and then with every change
// until ctx is done or fn fails.
func (h *Hub) Watch(ctx context.Context, fn func(Directive) error) error {
	d, seq := h.current.Get()
	for {
		if err := fn(d); err != nil {
			return err
		}
		var err error
		d, seq, err = h.current.Next(ctx, seq)
		if err != nil {
			return err
		}
	}
}
