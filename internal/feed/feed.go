// Package feed maintains the private websocket session against the
// exchange: token mint, connect, subscribe, keepalive, watchdog, and
// reconnect with capped exponential backoff. Matching inbound events
// are forwarded to the alert sink in wire order.
package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/fillwatch/fillwatch/internal/metrics"
)

// writeWait bounds control-frame writes so a dead peer cannot block
// the pong reply or the close handshake.
const writeWait = 10 * time.Second

// TokenMinter is the exchange REST surface the session needs. Tokens
// are scoped to one connection attempt and never reused.
type TokenMinter interface {
	CreateWSToken(ctx context.Context) (string, error)
	ExtendWSToken(ctx context.Context, token string) error
	DeleteWSToken(ctx context.Context, token string) error
}

// AlertSink is the outbound paging contract the feed needs. The feed
// only ever opens incidents; it never resolves them.
type AlertSink interface {
	Trigger(ctx context.Context, dedupKey, summary string, details any) error
}

type Options struct {
	// WSBase is the websocket endpoint without the token segment.
	WSBase   string
	Channels []string

	BackoffBase time.Duration
	BackoffMax  time.Duration

	// Watchdog is the maximum silence tolerated on the connection. The
	// server pings roughly once a minute, so anything past a couple of
	// missed pings means the connection is dead even if the socket
	// never errored.
	Watchdog time.Duration

	// StabilityReset is how long a connection must stay subscribed for
	// the next reconnect to start from the base backoff again.
	StabilityReset time.Duration

	TokenExtendInterval time.Duration

	// SinkTimeout bounds each outbound sink call.
	SinkTimeout time.Duration

	// Dial overrides the transport. Defaults to a gorilla dialer.
	Dial DialFunc
}

// Session owns one logical connection at a time. A single goroutine
// runs the connect/read lifecycle; state is never touched off it.
type Session struct {
	minter  TokenMinter
	sink    AlertSink
	metrics *metrics.Metrics
	opts    Options

	channels map[string]bool

	state        State
	attemptID    string
	lastActivity time.Time
}

func New(minter TokenMinter, sink AlertSink, m *metrics.Metrics, opts Options) *Session {
	if opts.Dial == nil {
		opts.Dial = GorillaDial(writeWait)
	}
	channels := make(map[string]bool, len(opts.Channels))
	for _, ch := range opts.Channels {
		channels[ch] = true
	}
	return &Session{
		minter:   minter,
		sink:     sink,
		metrics:  m,
		opts:     opts,
		channels: channels,
	}
}

type subscribeCommand struct {
	Command string `json:"command"`
	Channel string `json:"channel"`
}

// Run connects and reconnects until ctx is done. Every failure is
// recoverable: mint errors, dial errors, read errors and watchdog
// expiries all land back in the backoff loop.
func (s *Session) Run(ctx context.Context) error {
	log.Printf("[feed] started: channels=%q watchdog=%s", s.opts.Channels, s.opts.Watchdog)

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = s.opts.BackoffBase
	bo.MaxInterval = s.opts.BackoffMax
	bo.Multiplier = 2
	bo.RandomizationFactor = 0
	bo.MaxElapsedTime = 0
	bo.Reset()

	for attempt := 0; ; attempt++ {
		if attempt > 0 {
			s.metrics.ReconnectsTotal.Inc()
		}

		stable, err := s.runOnce(ctx)
		s.setState(Disconnected)
		if ctx.Err() != nil {
			log.Println("[feed] stopped")
			return ctx.Err()
		}
		if err != nil {
			log.Printf("[feed] connection lost: %v", err)
		}

		if stable {
			bo.Reset()
		}
		wait := bo.NextBackOff()
		log.Printf("[feed] reconnecting in %s", wait)
		select {
		case <-ctx.Done():
			log.Println("[feed] stopped")
			return ctx.Err()
		case <-time.After(wait):
		}
	}
}

// runOnce drives one connection attempt from mint to teardown. The
// returned stable flag reports whether the connection stayed subscribed
// long enough to reset the backoff.
func (s *Session) runOnce(ctx context.Context) (stable bool, err error) {
	s.attemptID = uuid.NewString()
	s.setState(Authenticating)

	token, err := s.minter.CreateWSToken(ctx)
	if err != nil {
		s.metrics.TokenMintFailures.Inc()
		return false, fmt.Errorf("mint ws token: %w", err)
	}
	s.metrics.TokenMintsTotal.Inc()
	defer s.revokeToken(token)

	conn, err := s.opts.Dial(ctx, s.opts.WSBase+"/"+token)
	if err != nil {
		return false, fmt.Errorf("dial: %w", err)
	}
	s.setState(Connected)

	connCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	// Unblocks a pending read on shutdown or teardown. Control frames
	// are safe to write concurrently with the read loop's writes.
	go func() {
		<-connCtx.Done()
		if ctx.Err() != nil {
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(writeWait))
		}
		_ = conn.Close()
	}()

	go s.extendTokenLoop(connCtx, token)

	// The handler runs on the read goroutine, inside ReadMessage. A
	// ping counts as server activity, so it also pushes the watchdog
	// deadline back.
	conn.SetPingHandler(func(appData string) error {
		s.metrics.KeepalivesTotal.Inc()
		s.lastActivity = time.Now()
		if err := conn.WriteControl(websocket.PongMessage, []byte(appData), time.Now().Add(writeWait)); err != nil {
			return err
		}
		return conn.SetReadDeadline(time.Now().Add(s.opts.Watchdog))
	})

	for _, ch := range s.opts.Channels {
		msg, err := json.Marshal(subscribeCommand{Command: "subscribe", Channel: ch})
		if err != nil {
			return false, fmt.Errorf("marshal subscribe %s: %w", ch, err)
		}
		// The exchange sends no subscribe ack; subscribed means sent.
		if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			return false, fmt.Errorf("subscribe %s: %w", ch, err)
		}
		log.Printf("[feed] subscribed: %s", ch)
	}
	s.setState(Subscribed)
	subscribedAt := time.Now()

	if err := conn.SetReadDeadline(time.Now().Add(s.opts.Watchdog)); err != nil {
		return false, fmt.Errorf("arm watchdog: %w", err)
	}
	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			stable = time.Since(subscribedAt) >= s.opts.StabilityReset
			if ctx.Err() != nil {
				s.setState(Closing)
				return stable, nil
			}
			return stable, fmt.Errorf("read: %w", err)
		}
		s.lastActivity = time.Now()
		_ = conn.SetReadDeadline(time.Now().Add(s.opts.Watchdog))
		s.metrics.FramesTotal.Inc()
		s.handleFrame(ctx, payload, s.lastActivity)
	}
}

// handleFrame decodes one data frame and forwards it if it belongs to a
// subscribed channel. A frame that fails to decode is dropped without
// tearing the connection down.
func (s *Session) handleFrame(ctx context.Context, payload []byte, receivedAt time.Time) {
	var fields map[string]any
	if err := json.Unmarshal(payload, &fields); err != nil || fields == nil {
		s.metrics.MalformedFrames.Inc()
		log.Printf("[feed] dropping undecodable frame: %.120q", payload)
		return
	}
	if msg, ok := fields["error"].(string); ok && msg != "" {
		log.Printf("[feed] exchange error frame: %s", msg)
		return
	}

	channel, _ := fields["channel"].(string)
	if !s.channels[channel] {
		return
	}

	ev := Event{
		Channel:    channel,
		Raw:        append(json.RawMessage(nil), payload...),
		ReceivedAt: receivedAt,
	}
	s.forward(ctx, ev, fields)
}

func (s *Session) forward(ctx context.Context, ev Event, fields map[string]any) {
	summary := summaryFor(ev.Channel, fields)
	details := map[string]any{
		"event":              fields,
		"connection_attempt": s.attemptID,
	}

	s.metrics.EventsForwarded.Inc()
	cctx, cancel := context.WithTimeout(ctx, s.opts.SinkTimeout)
	err := s.sink.Trigger(cctx, dedupKey(ev.Channel), summary, details)
	cancel()
	if err != nil {
		log.Printf("[feed] trigger failed: %v", err)
		s.metrics.AlertFailures.Inc()
		return
	}
	log.Printf("[feed] triggered: %s", summary)
	s.metrics.AlertsTriggered.Inc()
}

// extendTokenLoop keeps the active token alive over REST for as long as
// the connection lives. It never writes to the socket.
func (s *Session) extendTokenLoop(ctx context.Context, token string) {
	ticker := time.NewTicker(s.opts.TokenExtendInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.minter.ExtendWSToken(ctx, token); err != nil {
				log.Printf("[feed] token extend failed (continuing): %v", err)
				continue
			}
			log.Println("[feed] ws token extended")
		}
	}
}

// revokeToken is best-effort: the token expires on its own shortly
// anyway, so failure only gets a log line.
func (s *Session) revokeToken(token string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.minter.DeleteWSToken(ctx, token); err != nil {
		log.Printf("[feed] token revoke failed: %v", err)
	}
}

func (s *Session) setState(next State) {
	if s.state == next {
		return
	}
	log.Printf("[feed] %s → %s", s.state, next)
	s.state = next
	s.metrics.ConnectionState.Set(float64(next))
}
