package main

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"path/filepath"
	"strconv"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	zlog "github.com/rs/zerolog/log"
	"github.com/skip2/go-qrcode"

	"github.com/w1xm/rotoscope/engine"
	"github.com/w1xm/rotoscope/internal/config"
	"github.com/w1xm/rotoscope/internal/watch"
	"github.com/w1xm/rotoscope/media"
	"github.com/w1xm/rotoscope/mount"
	"github.com/w1xm/rotoscope/slots"
)

type Server struct {
	e       *engine.Engine
	session *Session
	hub     *media.Hub
	cfg     config.ServerConfig
	baud    int
	media   mediaRoot

	listPorts func() ([]mount.PortInfo, error)

	status *watch.Value[engine.Status]
}

func NewServer(e *engine.Engine, session *Session, hub *media.Hub, cfg config.ServerConfig, baud int) *Server {
	s := &Server{
		e:         e,
		session:   session,
		hub:       hub,
		cfg:       cfg,
		baud:      baud,
		media:     newMediaRoot(cfg.MediaDir),
		listPorts: mount.ListPorts,
		status:    watch.New(e.Status()),
	}
	e.OnStatus(s.statusCallback)
	return s
}

func (s *Server) statusCallback(status engine.Status) {
	s.status.Set(status)
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Router builds the HTTP surface. Metrics are served unless disabled.
func (s *Server) Router(metricsEnabled bool) *mux.Router {
	staticDir := s.cfg.StaticDir
	r := mux.NewRouter()
	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/slots", s.RemoteSlotsHandler).Methods(http.MethodGet)
	api.HandleFunc("/slots", s.InsertSlotHandler).Methods(http.MethodPost)
	api.HandleFunc("/slots/reset", s.ResetSlotsHandler).Methods(http.MethodPost)
	api.HandleFunc("/slots/{slot:[0-9]+}", s.DeleteSlotHandler).Methods(http.MethodDelete)
	api.HandleFunc("/slots/{slot:[0-9]+}/media", s.SetMediaHandler).Methods(http.MethodPut)
	api.HandleFunc("/slots/{slot:[0-9]+}/media", s.ClearMediaHandler).Methods(http.MethodDelete)
	api.HandleFunc("/slots/{slot:[0-9]+}/clear", s.ClearSlotHandler).Methods(http.MethodPost)
	api.HandleFunc("/slots/{slot:[0-9]+}/save", s.SaveSlotHandler).Methods(http.MethodPost)
	api.HandleFunc("/goto/{slot:[0-9]+}", s.GotoHandler).Methods(http.MethodPost)
	api.HandleFunc("/ip", s.IPHandler).Methods(http.MethodGet)
	api.HandleFunc("/ports", s.PortsHandler).Methods(http.MethodGet)
	api.HandleFunc("/status", s.StatusHandler).Methods(http.MethodGet)
	api.HandleFunc("/connect", s.ConnectHandler).Methods(http.MethodPost)
	api.HandleFunc("/disconnect", s.DisconnectHandler).Methods(http.MethodPost)
	api.HandleFunc("/command", s.CommandHandler).Methods(http.MethodPost)

	r.HandleFunc("/media/{slot:[0-9]+}", s.MediaHandler).Methods(http.MethodGet)
	r.HandleFunc("/qrcode.png", s.QRCodeHandler).Methods(http.MethodGet)
	r.HandleFunc("/ws", s.StatusSocketHandler)
	r.HandleFunc("/ws/player", s.PlayerSocketHandler)
	if metricsEnabled {
		r.Handle("/metrics", promhttp.Handler())
	}
	r.HandleFunc("/Control", func(w http.ResponseWriter, r *http.Request) {
		http.ServeFile(w, r, filepath.Join(staticDir, "Control.html"))
	})
	r.PathPrefix("/").Handler(http.FileServer(http.Dir(staticDir)))
	return r
}

type result struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
	Warning string `json:"warning,omitempty"`
	Slot    *int   `json:"slot,omitempty"`
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zlog.Warn().Err(err).Msg("writing response")
	}
}

func statusCode(err error) int {
	switch {
	case errors.Is(err, slots.ErrOutOfRange):
		return http.StatusNotFound
	case errors.Is(err, engine.ErrEmptySlot),
		errors.Is(err, engine.ErrAlreadyConnected),
		errors.Is(err, engine.ErrPositionUnknown):
		return http.StatusConflict
	case errors.Is(err, mount.ErrNotConnected), errors.Is(err, mount.ErrTransport):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

// respond reports the outcome of an operation. A persistence failure is
// a warning: the change took effect for this session.
func respond(w http.ResponseWriter, err error, slot *int) {
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, result{Success: true, Slot: slot})
	case errors.Is(err, slots.ErrPersistence):
		writeJSON(w, http.StatusOK, result{Success: true, Slot: slot, Warning: err.Error()})
	default:
		writeJSON(w, statusCode(err), result{Error: err.Error()})
	}
}

func badRequest(w http.ResponseWriter, err error) {
	writeJSON(w, http.StatusBadRequest, result{Error: err.Error()})
}

func slotVar(r *http.Request) (int, error) {
	return strconv.Atoi(mux.Vars(r)["slot"])
}

// slotHandler adapts an operation on one slot to an HTTP handler.
func slotHandler(op func(slot int) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		slot, err := slotVar(r)
		if err != nil {
			badRequest(w, err)
			return
		}
		respond(w, op(slot), &slot)
	}
}

type remoteSlot struct {
	Slot  int    `json:"slot"`
	Video string `json:"video"`
}

// RemoteSlotsHandler lists the slots that have media, by base name.
func (s *Server) RemoteSlotsHandler(w http.ResponseWriter, r *http.Request) {
	out := []remoteSlot{}
	for _, sum := range s.e.Store().Summaries() {
		if sum.HasMedia {
			out = append(out, remoteSlot{Slot: sum.Slot, Video: sum.MediaName})
		}
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) GotoHandler(w http.ResponseWriter, r *http.Request) {
	slotHandler(s.e.Goto)(w, r)
}

func (s *Server) SaveSlotHandler(w http.ResponseWriter, r *http.Request) {
	slotHandler(s.e.SavePosition)(w, r)
}

func (s *Server) DeleteSlotHandler(w http.ResponseWriter, r *http.Request) {
	slotHandler(s.e.DeleteSlot)(w, r)
}

func (s *Server) ClearSlotHandler(w http.ResponseWriter, r *http.Request) {
	slotHandler(s.e.ClearSlot)(w, r)
}

func (s *Server) ClearMediaHandler(w http.ResponseWriter, r *http.Request) {
	slotHandler(func(slot int) error { return s.e.SetMedia(slot, "") })(w, r)
}

func (s *Server) SetMediaHandler(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Media string `json:"media"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, err)
		return
	}
	if req.Media == "" {
		badRequest(w, errors.New("media is required"))
		return
	}
	if _, err := s.media.rel(req.Media); err != nil {
		badRequest(w, err)
		return
	}
	slotHandler(func(slot int) error { return s.e.SetMedia(slot, req.Media) })(w, r)
}

func (s *Server) InsertSlotHandler(w http.ResponseWriter, r *http.Request) {
	slot, err := s.e.InsertSlot()
	respond(w, err, &slot)
}

func (s *Server) ResetSlotsHandler(w http.ResponseWriter, r *http.Request) {
	respond(w, s.e.ResetAll(), nil)
}

func (s *Server) StatusHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.e.Status())
}

func (s *Server) IPHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"ip": localIP()})
}

// localIP returns the first non-loopback IPv4 address.
func localIP() string {
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		zlog.Warn().Err(err).Msg("listing interface addresses")
		return "127.0.0.1"
	}
	for _, addr := range addrs {
		if ipnet, ok := addr.(*net.IPNet); ok && !ipnet.IP.IsLoopback() {
			if ip4 := ipnet.IP.To4(); ip4 != nil {
				return ip4.String()
			}
		}
	}
	return "127.0.0.1"
}

// controlURL is the address a phone should open to reach the control page.
func (s *Server) controlURL() string {
	_, port, err := net.SplitHostPort(s.cfg.Addr)
	if err != nil || port == "" {
		port = "3000"
	}
	return "http://" + net.JoinHostPort(localIP(), port) + "/Control"
}

// QRCodeHandler renders the control page URL as a PNG QR code.
func (s *Server) QRCodeHandler(w http.ResponseWriter, r *http.Request) {
	png, err := qrcode.Encode(s.controlURL(), qrcode.Medium, 256)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, result{Error: err.Error()})
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-cache")
	if _, err := w.Write(png); err != nil {
		zlog.Debug().Err(err).Msg("writing qrcode")
	}
}

// PortsHandler lists the serial devices that can be connected, followed by
// the built-in simulator.
func (s *Server) PortsHandler(w http.ResponseWriter, r *http.Request) {
	ports, err := s.listPorts()
	if err != nil {
		zlog.Warn().Err(err).Msg("listing serial ports")
		writeJSON(w, http.StatusInternalServerError, result{Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, append(ports, mount.PortInfo{Path: simulatorPort}))
}

type connectRequest struct {
	Port string `json:"port"`
	Baud int    `json:"baud"`
}

func (s *Server) ConnectHandler(w http.ResponseWriter, r *http.Request) {
	var req connectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, err)
		return
	}
	if req.Port == "" {
		badRequest(w, errors.New("port is required"))
		return
	}
	if req.Baud <= 0 {
		req.Baud = s.baud
	}
	respond(w, s.session.Connect(req.Port, req.Baud), nil)
}

func (s *Server) DisconnectHandler(w http.ResponseWriter, r *http.Request) {
	s.session.Disconnect()
	respond(w, nil, nil)
}

type commandRequest struct {
	Command string `json:"command"`
}

func (s *Server) CommandHandler(w http.ResponseWriter, r *http.Request) {
	var req commandRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, err)
		return
	}
	cmd, err := mount.ParseCommand(req.Command)
	if err != nil {
		badRequest(w, err)
		return
	}
	respond(w, runCommand(s.e, cmd), nil)
}

// runCommand sends cmd, routing slot commands through their checks.
func runCommand(e *engine.Engine, cmd mount.Command) error {
	switch cmd.Kind {
	case mount.CommandGoto:
		return e.Goto(cmd.Arg)
	case mount.CommandSave:
		return e.SavePosition(cmd.Arg)
	}
	return e.Send(cmd)
}

// MediaHandler serves the file bound to a slot. Only files inside the media
// directory are served.
func (s *Server) MediaHandler(w http.ResponseWriter, r *http.Request) {
	slot, err := slotVar(r)
	if err != nil {
		badRequest(w, err)
		return
	}
	ref, ok := s.e.Store().Media(slot)
	if !ok {
		http.NotFound(w, r)
		return
	}
	f, info, err := s.media.open(ref)
	if err != nil {
		zlog.Debug().Err(err).Int("slot", slot).Msg("media unavailable")
		http.NotFound(w, r)
		return
	}
	defer f.Close()
	http.ServeContent(w, r, info.Name(), info.ModTime(), f)
}

// socketCommand is a message received on the status socket. Wire commands
// such as "MOVE:100" are accepted as well as the named ones.
type socketCommand struct {
	Command  string `json:"command"`
	Slot     int    `json:"slot"`
	Position int    `json:"position"`
	Delta    int    `json:"delta"`
	Media    string `json:"media"`
}

func (s *Server) handleSocketCommand(msg socketCommand) error {
	switch msg.Command {
	case "goto":
		return s.e.Goto(msg.Slot)
	case "save":
		return s.e.SavePosition(msg.Slot)
	case "move":
		return s.e.Move(msg.Position)
	case "step":
		return s.e.Step(msg.Delta)
	case "insert_slot":
		_, err := s.e.InsertSlot()
		return err
	case "delete_slot":
		return s.e.DeleteSlot(msg.Slot)
	case "set_media":
		if msg.Media != "" {
			if _, err := s.media.rel(msg.Media); err != nil {
				return err
			}
		}
		return s.e.SetMedia(msg.Slot, msg.Media)
	case "clear_slot":
		return s.e.ClearSlot(msg.Slot)
	case "clear_position":
		return s.e.ClearPosition(msg.Slot)
	case "reset_slots":
		return s.e.ResetAll()
	}
	cmd, err := mount.ParseCommand(msg.Command)
	if err != nil {
		return err
	}
	return runCommand(s.e, cmd)
}

func (s *Server) StatusSocketHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		zlog.Warn().Err(err).Msg("upgrading status socket")
		return
	}
	defer conn.Close()
	log := zlog.With().Str("client", uuid.NewString()).Str("remote", r.RemoteAddr).Logger()
	log.Info().Msg("status client connected")

	// Read and process incoming messages
	go func() {
		defer cancel()
		for {
			var msg socketCommand
			if err := conn.ReadJSON(&msg); err != nil {
				log.Debug().Err(err).Msg("status client gone")
				return
			}
			if err := s.handleSocketCommand(msg); err != nil {
				log.Warn().Err(err).Str("command", msg.Command).Msg("socket command failed")
			}
		}
	}()

	status, seq := s.status.Get()
	for {
		if err := conn.WriteJSON(status); err != nil {
			log.Debug().Err(err).Msg("writing status")
			return
		}
		status, seq, err = s.status.Next(ctx, seq)
		if err != nil {
			return
		}
	}
}

// PlayerSocketHandler streams media directives to a player.
func (s *Server) PlayerSocketHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		zlog.Warn().Err(err).Msg("upgrading player socket")
		return
	}
	defer conn.Close()
	log := zlog.With().Str("player", uuid.NewString()).Str("remote", r.RemoteAddr).Logger()
	log.Info().Msg("player connected")

	// Players never send; reading detects the close.
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.NextReader(); err != nil {
				return
			}
		}
	}()

	err = s.hub.Watch(ctx, func(d media.Directive) error {
		return conn.WriteJSON(d)
	})
	log.Info().Err(err).Msg("player disconnected")
}
