package binance

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/alanyoungcy/bookbias/internal/domain"
)

const (
	// binanceHandshakeTimeout bounds the WebSocket dial.
	binanceHandshakeTimeout = 15 * time.Second

	// binanceWriteWait is the time allowed to write the close frame.
	binanceWriteWait = 5 * time.Second
)

// Config configures the depth source.
type Config struct {
	RESTURL     string        // e.g. "https://api.binance.com"
	WSURL       string        // e.g. "wss://stream.binance.com:9443"
	DepthLimit  int           // REST snapshot depth, max 5000
	UpdateSpeed string        // "100ms" or "1000ms"
	ReadTimeout time.Duration // longest silence tolerated on the stream
}

// Source opens synchronized depth sessions: a diff-depth WebSocket stream
// reconciled against a REST snapshot.
type Source struct {
	cfg    Config
	client *Client
	dialer websocket.Dialer
	logger *slog.Logger
}

// NewSource creates a Source.
func NewSource(cfg Config, logger *slog.Logger) *Source {
	if cfg.DepthLimit <= 0 {
		cfg.DepthLimit = 5000
	}
	if cfg.UpdateSpeed == "" {
		cfg.UpdateSpeed = "100ms"
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = 30 * time.Second
	}
	return &Source{
		cfg:    cfg,
		client: NewClient(cfg.RESTURL, cfg.ReadTimeout),
		dialer: websocket.Dialer{HandshakeTimeout: binanceHandshakeTimeout},
		logger: logger.With(slog.String("component", "binance_depth")),
	}
}

// StreamURL returns the raw stream URL for instrument.
func (s *Source) StreamURL(instrument string) string {
	return fmt.Sprintf("%s/ws/%s@depth@%s", strings.TrimRight(s.cfg.WSURL, "/"), strings.ToLower(instrument), s.cfg.UpdateSpeed)
}

// Open subscribes to the diff stream, then fetches the REST snapshot. Events
// that arrive while the snapshot is in flight stay queued on the socket and
// are reconciled by the session.
func (s *Source) Open(ctx context.Context, instrument string) (domain.LadderSession, error) {
	conn, _, err := s.dialer.DialContext(ctx, s.StreamURL(instrument), nil)
	if err != nil {
		return nil, fmt.Errorf("binance: dial stream: %w", err)
	}

	snap, err := s.client.Depth(ctx, instrument, s.cfg.DepthLimit)
	if err != nil {
		conn.Close()
		return nil, err
	}
	book, err := NewBook(snap, time.Now())
	if err != nil {
		conn.Close()
		return nil, err
	}

	s.logger.Info("depth session open",
		slog.String("instrument", instrument),
		slog.Int64("last_update_id", snap.LastUpdateID),
		slog.Int("asks", len(snap.Asks)),
		slog.Int("bids", len(snap.Bids)),
	)
	return &session{conn: conn, book: book, readTimeout: s.cfg.ReadTimeout}, nil
}

// session reads the diff stream synchronously from the caller's goroutine.
type session struct {
	conn        *websocket.Conn
	book        *Book
	readTimeout time.Duration

	closeOnce sync.Once
	closeErr  error
}

// Next blocks until an event moves the book forward and returns the updated
// ladder.
func (s *session) Next(ctx context.Context) (domain.LadderSnapshot, error) {
	for {
		msg, err := s.read(ctx)
		if err != nil {
			return domain.LadderSnapshot{}, err
		}

		var ev DepthEvent
		if err := json.Unmarshal(msg, &ev); err != nil {
			return domain.LadderSnapshot{}, fmt.Errorf("binance: decode depth event: %w", err)
		}
		applied, err := s.book.Apply(ev)
		if err != nil {
			return domain.LadderSnapshot{}, err
		}
		if applied {
			return s.book.Snapshot(), nil
		}
	}
}

func (s *session) read(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	stop := context.AfterFunc(ctx, func() {
		s.conn.SetReadDeadline(time.Now())
	})
	defer stop()

	s.conn.SetReadDeadline(time.Now().Add(s.readTimeout))
	_, msg, err := s.conn.ReadMessage()
	if err == nil {
		return msg, nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, ctxErr
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return nil, fmt.Errorf("binance: no depth event in %s: %w", s.readTimeout, domain.ErrTimeout)
	}
	var ce *websocket.CloseError
	if errors.As(err, &ce) {
		return nil, fmt.Errorf("binance: %w: code %d %s", domain.ErrStreamClosed, ce.Code, ce.Text)
	}
	return nil, fmt.Errorf("binance: read stream: %w", err)
}

// Close sends a close frame and releases the connection.
func (s *session) Close() error {
	s.closeOnce.Do(func() {
		_ = s.conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(binanceWriteWait),
		)
		s.closeErr = s.conn.Close()
	})
	return s.closeErr
}
