package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"

	"github.com/w1xm/rotoscope/engine"
)

var errUsage = errors.New("invalid arguments")

// ListenControl serves the line-based control port on addr until ctx is
// done.
func (s *Server) ListenControl(ctx context.Context, addr string) (net.Addr, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, errors.Wrapf(err, "listening on %s", addr)
	}
	go func() {
		<-ctx.Done()
		zlog.Info().Msg("shutdown; closing control socket")
		ln.Close()
	}()
	go s.serveControl(ctx, ln)
	return ln.Addr(), nil
}

const (
	minAcceptDelay = 5 * time.Millisecond
	maxAcceptDelay = time.Second
)

// serveControl accepts connections until ln is closed or ctx is done.
// Other accept errors are retried with backoff.
func (s *Server) serveControl(ctx context.Context, ln net.Listener) {
	var delay time.Duration
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return
			}
			delay = min(max(2*delay, minAcceptDelay), maxAcceptDelay)
			zlog.Warn().Err(err).Dur("retry", delay).Msg("failed to accept")
			select {
			case <-ctx.Done():
				return
			case <-time.After(delay):
			}
			continue
		}
		delay = 0
		go s.handleControl(conn)
	}
}

func (s *Server) handleControl(conn net.Conn) {
	defer conn.Close()
	zlog.Info().Stringer("remote", conn.RemoteAddr()).Msg("accepted control connection")
	scanner := bufio.NewScanner(conn)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 {
			continue
		}
		cmd, args := strings.ToLower(fields[0]), fields[1:]
		zlog.Debug().Stringer("remote", conn.RemoteAddr()).Str("command", cmd).Strs("args", args).Msg("control command")
		if cmd == "quit" || cmd == "q" {
			return
		}
		if err := s.control(conn, cmd, args); err != nil {
			fmt.Fprintf(conn, "RPRT -1 %s\n", err)
			continue
		}
		fmt.Fprintf(conn, "RPRT 0\n")
	}
	if err := scanner.Err(); err != nil {
		zlog.Warn().Err(err).Stringer("remote", conn.RemoteAddr()).Msg("reading control connection")
	}
}

// control runs one command, writing any output to w before the report.
func (s *Server) control(w io.Writer, cmd string, args []string) error {
	// Commands taking one integer argument.
	intCmds := map[string]func(int) error{
		"goto": s.e.Goto,
		"save": s.e.SavePosition,
		"move": s.e.Move,
		"step": s.e.Step,
	}
	if op, ok := intCmds[cmd]; ok {
		if len(args) != 1 {
			return errUsage
		}
		v, err := strconv.Atoi(args[0])
		if err != nil {
			return errUsage
		}
		return op(v)
	}
	if len(args) != 0 {
		return errUsage
	}
	switch cmd {
	case "slots":
		for _, sl := range s.e.Store().Slots() {
			pos := "-"
			if sl.Position != nil {
				pos = strconv.Itoa(*sl.Position)
			}
			fmt.Fprintf(w, "%d %s %s\n", sl.Index, pos, sl.Media)
		}
		return nil
	case "status":
		return writeStatus(w, s.e.Status())
	case "home":
		return s.e.Home()
	case "list":
		return s.e.List()
	case "limits":
		return s.e.QueryLimits()
	case "pos":
		return s.e.QueryPosition()
	case "test":
		return s.e.Test()
	}
	return errors.Newf("unknown command %q", cmd)
}

func writeStatus(w io.Writer, st engine.Status) error {
	data, err := json.Marshal(st)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "%s\n", data)
	return err
}
