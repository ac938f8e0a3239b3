package mount

import (
	"bufio"
	"context"
	"io"
	"strings"
	"sync"

	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"
	"github.com/tarm/serial"
	"golang.org/x/sync/errgroup"
)

const DefaultBaud = 115200

var (
	// ErrTransport marks failures of the underlying link.
	ErrTransport = errors.New("transport error")
	// ErrNotConnected is returned when writing to a closed port.
	ErrNotConnected = errors.New("serial port not connected")
)

type Config struct {
	Name string
	Baud int
}

type LineCallback func(line string)

// Port is a line-oriented session with the mount. It never reconnects on
// its own.
type Port struct {
	name string

	mu     sync.Mutex
	conn   io.ReadWriteCloser
	closed bool
}

// Open opens the serial device named in cfg.
func Open(cfg Config) (*Port, error) {
	baud := cfg.Baud
	if baud == 0 {
		baud = DefaultBaud
	}
	s, err := serial.OpenPort(&serial.Config{Name: cfg.Name, Baud: baud})
	if err != nil {
		return nil, errors.Mark(errors.Wrapf(err, "opening %q", cfg.Name), ErrTransport)
	}
	zlog.Info().Str("port", cfg.Name).Int("baud", baud).Msg("opened serial port")
	return &Port{name: cfg.Name, conn: s}, nil
}

// NewPort wraps an already open stream, e.g. one end of a simulator pipe.
func NewPort(name string, conn io.ReadWriteCloser) *Port {
	return &Port{name: name, conn: conn}
}

func (p *Port) Name() string {
	return p.name
}

// Watch reads lines until the link closes or ctx is canceled, calling
// onLine for each non-blank line. The next line is not read until onLine
// returns. An orderly close returns nil.
func (p *Port) Watch(ctx context.Context, onLine LineCallback) error {
	p.mu.Lock()
	conn := p.conn
	closed := p.closed
	p.mu.Unlock()
	if closed || conn == nil {
		return ErrNotConnected
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		// Wait for context to be canceled, then close connection.
		<-ctx.Done()
		if err := p.Close(); err != nil {
			zlog.Warn().Err(err).Str("port", p.name).Msg("closing port")
		}
		return nil
	})
	g.Go(func() error {
		defer cancel()
		scanner := bufio.NewScanner(conn)
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if line == "" {
				continue
			}
			zlog.Debug().Str("port", p.name).Msgf("dev->host: %s", line)
			onLine(line)
		}
		if err := scanner.Err(); err != nil && !p.isClosed() {
			return errors.Mark(errors.Wrapf(err, "reading %q", p.name), ErrTransport)
		}
		return nil
	})
	return g.Wait()
}

// Send writes cmd followed by a newline.
func (p *Port) Send(cmd Command) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed || p.conn == nil {
		return ErrNotConnected
	}
	zlog.Debug().Str("port", p.name).Msgf("host->dev: %s", cmd)
	if _, err := io.WriteString(p.conn, cmd.String()+"\n"); err != nil {
		return errors.Mark(errors.Wrapf(err, "writing %q", p.name), ErrTransport)
	}
	return nil
}

// Close closes the link. It is safe to call more than once.
func (p *Port) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed || p.conn == nil {
		p.closed = true
		return nil
	}
	p.closed = true
	return p.conn.Close()
}

func (p *Port) isClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}
