// Package speaker implements the speaker endpoint: a client that holds a
// websocket connection to the relay and speaks every text it receives.
package speaker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/vyrodovalexey/speechrelay/internal/observability"
	"github.com/vyrodovalexey/speechrelay/internal/relay"
	"github.com/vyrodovalexey/speechrelay/internal/transport/ws"
)

// Client errors.
var (
	ErrAuthenticationFailed = errors.New("authentication failed")
	ErrReconnectFailed      = errors.New("failed to reconnect after all attempts")
)

const (
	queueSize        = 16
	handshakeTimeout = 10 * time.Second
	closeWait        = time.Second
)

// Config configures a Client.
type Config struct {
	ServerURL string
	Key       string

	// ReconnectAttempts is the number of consecutive failed connection
	// attempts tolerated before Run gives up.
	ReconnectAttempts int
	ReconnectDelay    time.Duration
}

// Client connects to the relay as a speaker.
type Client struct {
	config  Config
	synth   Synthesizer
	dialer  *websocket.Dialer
	logger  observability.Logger
	pacer   *rate.Limiter
	url     string
	mu      sync.Mutex
	spoken  int
	dropped int
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithLogger sets the client logger.
func WithLogger(logger observability.Logger) ClientOption {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithDialer replaces the websocket dialer.
func WithDialer(dialer *websocket.Dialer) ClientOption {
	return func(c *Client) {
		c.dialer = dialer
	}
}

// NewClient creates a Client speaking through synth.
func NewClient(config Config, synth Synthesizer, opts ...ClientOption) (*Client, error) {
	u, err := ConnectURL(config.ServerURL, config.Key)
	if err != nil {
		return nil, err
	}
	if config.ReconnectDelay <= 0 {
		config.ReconnectDelay = time.Second
	}
	if config.ReconnectAttempts < 0 {
		config.ReconnectAttempts = 0
	}

	c := &Client{
		config: config,
		synth:  synth,
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: handshakeTimeout,
		},
		logger: observability.NopLogger(),
		pacer:  rate.NewLimiter(rate.Every(config.ReconnectDelay), 1),
		url:    u,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// ConnectURL builds the websocket URL of the relay at serverURL.
// http and https map to ws and wss.
func ConnectURL(serverURL, key string) (string, error) {
	u, err := url.Parse(serverURL)
	if err != nil {
		return "", fmt.Errorf("invalid server URL: %w", err)
	}

	switch u.Scheme {
	case "http", "ws":
		u.Scheme = "ws"
	case "https", "wss":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("invalid server URL: unsupported scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return "", errors.New("invalid server URL: missing host")
	}

	u.Path = strings.TrimSuffix(u.Path, "/") + "/ws"
	q := url.Values{}
	q.Set(ws.QueryKey, key)
	q.Set(ws.QueryType, relay.TokenSpeaker)
	u.RawQuery = q.Encode()
	u.Fragment = ""

	return u.String(), nil
}

// Run connects and serves speak events until ctx is done. It reconnects
// after a lost connection and returns ErrReconnectFailed once
// ReconnectAttempts consecutive attempts have failed, or
// ErrAuthenticationFailed when the relay rejects the key.
func (c *Client) Run(ctx context.Context) error {
	failures := 0
	for {
		if err := c.pacer.Wait(ctx); err != nil {
			return nil
		}

		conn, resp, err := c.dialer.DialContext(ctx, c.url, nil)
		if resp != nil && resp.Body != nil {
			_ = resp.Body.Close()
		}
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if resp != nil && resp.StatusCode == http.StatusUnauthorized {
				c.logger.Error("authentication failed, check SPEECH_KEY")
				return ErrAuthenticationFailed
			}

			failures++
			c.logger.Warn("connection error",
				observability.Int("attempt", failures),
				observability.Error(err),
			)
			if failures > c.config.ReconnectAttempts {
				c.logger.Error("failed to reconnect after all attempts",
					observability.Int("attempts", failures),
				)
				return fmt.Errorf("%w: %w", ErrReconnectFailed, err)
			}
			continue
		}

		if failures > 0 {
			c.logger.Info("reconnected", observability.Int("attempts", failures))
		} else {
			c.logger.Info("connected to relay")
		}
		failures = 0

		reason := c.serve(ctx, conn)
		if ctx.Err() != nil {
			return nil
		}
		c.logger.Warn("disconnected from relay", observability.Error(reason))
	}
}

// serve handles one connection until it ends or ctx is done.
func (c *Client) serve(ctx context.Context, conn *websocket.Conn) error {
	queue := make(chan string, queueSize)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		c.speakLoop(ctx, queue)
	}()

	stop := context.AfterFunc(ctx, func() {
		deadline := time.Now().Add(closeWait)
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		_ = conn.WriteControl(websocket.CloseMessage, msg, deadline)
		_ = conn.SetReadDeadline(deadline)
	})

	err := c.readLoop(conn, queue)

	stop()
	_ = conn.Close()
	close(queue)
	wg.Wait()

	return err
}

func (c *Client) readLoop(conn *websocket.Conn, queue chan<- string) error {
	for {
		_, frame, err := conn.ReadMessage()
		if err != nil {
			return err
		}

		env, err := ws.DecodeEnvelope(frame)
		if err != nil {
			c.logger.Warn("ignoring malformed frame", observability.Error(err))
			continue
		}

		switch env.Event {
		case ws.EventSpeak:
			var payload ws.SpeakPayload
			if err := json.Unmarshal(env.Data, &payload); err != nil || payload.Text == "" {
				continue
			}
			c.logger.Info("received text to speak", observability.Int("length", len(payload.Text)))
			select {
			case queue <- payload.Text:
			default:
				c.mu.Lock()
				c.dropped++
				c.mu.Unlock()
				c.logger.Warn("speech queue full, dropping text")
			}
		case ws.EventSuccess, ws.EventError:
			var reply ws.ReplyPayload
			_ = json.Unmarshal(env.Data, &reply)
			c.logger.Info("relay reply",
				observability.String("event", env.Event),
				observability.String("message", reply.Message),
			)
		default:
			c.logger.Debug("ignoring event", observability.String("event", env.Event))
		}
	}
}

// speakLoop speaks queued texts one at a time.
func (c *Client) speakLoop(ctx context.Context, queue <-chan string) {
	for text := range queue {
		if ctx.Err() != nil {
			continue
		}
		if err := c.synth.Speak(ctx, text); err != nil {
			c.logger.Error("speech failed", observability.Error(err))
			continue
		}
		c.mu.Lock()
		c.spoken++
		c.mu.Unlock()
		c.logger.Debug("speech completed")
	}
}

// Stats returns the number of texts spoken and dropped so far.
func (c *Client) Stats() (spoken, dropped int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.spoken, c.dropped
}
