package server

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/vyrodovalexey/speechrelay/internal/auth"
	"github.com/vyrodovalexey/speechrelay/internal/middleware"
	"github.com/vyrodovalexey/speechrelay/internal/observability"
	"github.com/vyrodovalexey/speechrelay/internal/ratelimit"
	"github.com/vyrodovalexey/speechrelay/internal/ratelimit/store"
	"github.com/vyrodovalexey/speechrelay/internal/relay"
	"github.com/vyrodovalexey/speechrelay/internal/transport/ws"
)

func init() {
	ginModeOnce.Do(func() {
		gin.SetMode(gin.TestMode)
	})
}

type speakerSpy struct {
	mu    sync.Mutex
	texts []string
}

func (s *speakerSpy) Push(_ context.Context, msg relay.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.texts = append(s.texts, msg.Text)
	return nil
}

func (s *speakerSpy) Texts() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.texts...)
}

type fixture struct {
	server   *Server
	registry *relay.Registry
	metrics  *observability.Metrics
	clock    *clockwork.FakeClock
	ws       *ws.Handler
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	clock := clockwork.NewFakeClock()
	limiter := ratelimit.NewFixedWindowLimiter(
		store.NewMemoryStore(store.WithClock(clock)), 1, 5*time.Second, nil)
	t.Cleanup(func() { _ = limiter.Close() })

	metrics := observability.NewMetrics("test")
	registry := relay.NewRegistry()
	service := relay.NewService(limiter, relay.NewDispatcher(registry))

	authn, err := auth.New("secret")
	require.NoError(t, err)
	wsHandler := ws.NewHandler(authn, registry, service,
		ws.WithKeyFunc(ratelimit.ForwardedIPKeyFunc))

	srv, err := New(nil, Dependencies{
		Service:   service,
		Registry:  registry,
		WebSocket: wsHandler,
		Metrics:   metrics,
		KeyFunc:   ratelimit.ForwardedIPKeyFunc,
	})
	require.NoError(t, err)

	return &fixture{server: srv, registry: registry, metrics: metrics, clock: clock, ws: wsHandler}
}

func (f *fixture) speak(body, source string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/speak", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Forwarded-For", source)

	w := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(w, req)
	return w
}

// =============================================================================
// New Tests
// =============================================================================

func TestNew_MissingDependencies(t *testing.T) {
	_, err := New(nil, Dependencies{})
	assert.ErrorIs(t, err, ErrMissingDependency)

	_, err = New(nil, Dependencies{Registry: relay.NewRegistry()})
	assert.ErrorIs(t, err, ErrMissingDependency)
}

func TestDefaultConfig(t *testing.T) {
	config := DefaultConfig()

	assert.Equal(t, 3000, config.Port)
	assert.Equal(t, int64(64<<10), config.MaxRequestBodySize)
	assert.NotSame(t, config, DefaultConfig())
}

// =============================================================================
// POST /speak Tests
// =============================================================================

func TestSpeak_Delivered(t *testing.T) {
	f := newFixture(t)
	speaker := &speakerSpy{}
	f.registry.Register("s1", relay.RoleSpeaker, speaker)

	w := f.speak(`{"text":"hello"}`, "10.0.0.1")

	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"success":true,"message":"Text sent for speech"}`, w.Body.String())
	assert.Equal(t, []string{"hello"}, speaker.Texts())
	assert.Equal(t, "1", w.Header().Get("X-RateLimit-Limit"))
	assert.Equal(t, "0", w.Header().Get("X-RateLimit-Remaining"))
	series, err := testutil.GatherAndCount(f.metrics.Registry(), "test_submits_total")
	require.NoError(t, err)
	assert.Equal(t, 1, series)
}

func TestSpeak_Truncates(t *testing.T) {
	f := newFixture(t)
	speaker := &speakerSpy{}
	f.registry.Register("s1", relay.RoleSpeaker, speaker)

	w := f.speak(`{"text":"`+strings.Repeat("a", 150)+`"}`, "10.0.0.1")

	require.Equal(t, http.StatusOK, w.Code)
	require.Len(t, speaker.Texts(), 1)
	assert.Len(t, speaker.Texts()[0], relay.MaxTextLength)
}

func TestSpeak_TextRequired(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{name: "missing text", body: `{}`},
		{name: "blank text", body: `{"text":"   "}`},
		{name: "non-string text", body: `{"text":42}`},
		{name: "malformed body", body: `{"text":`},
		{name: "empty body", body: ``},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.registry.Register("s1", relay.RoleSpeaker, &speakerSpy{})

			w := f.speak(tt.body, "10.0.0.1")

			assert.Equal(t, http.StatusBadRequest, w.Code)
			assert.JSONEq(t, `{"error":"Text required"}`, w.Body.String())
		})
	}
}

func TestSpeak_NoSpeaker(t *testing.T) {
	f := newFixture(t)
	f.registry.Register("b1", relay.RoleSender, &speakerSpy{})

	w := f.speak(`{"text":"hi"}`, "10.0.0.1")

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.JSONEq(t, `{"error":"No PC client connected"}`, w.Body.String())
}

func TestSpeak_Cooldown(t *testing.T) {
	f := newFixture(t)
	speaker := &speakerSpy{}
	f.registry.Register("s1", relay.RoleSpeaker, speaker)

	require.Equal(t, http.StatusOK, f.speak(`{"text":"one"}`, "10.0.0.1").Code)

	w := f.speak(`{"text":"two"}`, "10.0.0.1")
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.JSONEq(t, `{"error":"Cooldown active"}`, w.Body.String())
	assert.Equal(t, "5", w.Header().Get("Retry-After"))

	// other callers are unaffected
	assert.Equal(t, http.StatusOK, f.speak(`{"text":"three"}`, "10.0.0.2").Code)

	f.clock.Advance(5 * time.Second)
	assert.Equal(t, http.StatusOK, f.speak(`{"text":"four"}`, "10.0.0.1").Code)

	assert.Equal(t, []string{"one", "three", "four"}, speaker.Texts())
}

func TestSpeak_RejectedRequestStillCounts(t *testing.T) {
	f := newFixture(t)
	f.registry.Register("s1", relay.RoleSpeaker, &speakerSpy{})

	require.Equal(t, http.StatusBadRequest, f.speak(`{}`, "10.0.0.1").Code)
	assert.Equal(t, http.StatusTooManyRequests, f.speak(`{"text":"hi"}`, "10.0.0.1").Code)
}

// =============================================================================
// Ambient route Tests
// =============================================================================

func TestHealthRoute(t *testing.T) {
	f := newFixture(t)
	f.registry.Register("s1", relay.RoleSpeaker, &speakerSpy{})
	f.registry.Register("b1", relay.RoleSender, &speakerSpy{})

	w := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok","clients":2}`, w.Body.String())
}

func TestMetricsRoute(t *testing.T) {
	f := newFixture(t)
	f.registry.Register("s1", relay.RoleSpeaker, &speakerSpy{})
	require.Equal(t, http.StatusOK, f.speak(`{"text":"hi"}`, "10.0.0.1").Code)

	w := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `test_submits_total{channel="http",outcome="delivered"} 1`)
}

func TestSecurityHeadersApplied(t *testing.T) {
	f := newFixture(t)

	w := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"))
	assert.NotEmpty(t, w.Header().Get("Content-Security-Policy"))
}

func TestRequestBodyLimit(t *testing.T) {
	f := newFixture(t)
	f.registry.Register("s1", relay.RoleSpeaker, &speakerSpy{})

	body := `{"text":"` + strings.Repeat("a", 70<<10) + `"}`
	w := f.speak(body, "10.0.0.1")

	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
	assert.JSONEq(t, `{"error":"Request body too large"}`, w.Body.String())
}

func TestSpeak_LogsRequestID(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)

	registry := relay.NewRegistry()
	registry.Register("s1", relay.RoleSpeaker, &speakerSpy{})
	service := relay.NewService(ratelimit.NewNoopLimiter(), relay.NewDispatcher(registry))
	authn, err := auth.New("secret")
	require.NoError(t, err)

	srv, err := New(nil, Dependencies{
		Service:   service,
		Registry:  registry,
		WebSocket: ws.NewHandler(authn, registry, service),
		Logger:    observability.NewZapLogger(zap.New(core)),
	})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/speak", strings.NewReader(`{"text":"hi"}`))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(middleware.RequestIDHeader, "req-7")
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	relayed := logs.FilterMessage("text relayed").All()
	require.Len(t, relayed, 1)
	assert.Equal(t, "req-7", relayed[0].ContextMap()["request_id"])
}

// =============================================================================
// Lifecycle Tests
// =============================================================================

func TestServeAndStop(t *testing.T) {
	f := newFixture(t)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	errCh := make(chan error, 1)
	go func() { errCh <- f.server.Serve(ln) }()
	require.Eventually(t, f.server.IsRunning, time.Second, 5*time.Millisecond)

	base := "http://" + ln.Addr().String()
	resp, err := http.Get(base + "/health")
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	u := "ws://" + ln.Addr().String() + "/ws?key=secret&type=pc"
	conn, _, err := websocket.DefaultDialer.Dial(u, nil)
	require.NoError(t, err)
	defer conn.Close()
	require.Eventually(t, func() bool {
		return f.registry.CountByRole(relay.RoleSpeaker) == 1
	}, time.Second, 5*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, f.server.Stop(ctx))
	require.NoError(t, <-errCh)
	assert.False(t, f.server.IsRunning())

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err = conn.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure))
	assert.Eventually(t, func() bool { return f.registry.Count() == 0 }, time.Second, 5*time.Millisecond)

	// stopping twice is a no-op
	assert.NoError(t, f.server.Stop(ctx))
}

func TestServe_AlreadyRunning(t *testing.T) {
	f := newFixture(t)

	ln1, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go func() { _ = f.server.Serve(ln1) }()
	require.Eventually(t, f.server.IsRunning, time.Second, 5*time.Millisecond)
	t.Cleanup(func() { _ = f.server.Stop(context.Background()) })

	ln2, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	assert.Error(t, f.server.Serve(ln2))
}

func TestReadyWhileDraining(t *testing.T) {
	f := newFixture(t)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go func() { _ = f.server.Serve(ln) }()
	require.Eventually(t, f.server.IsRunning, time.Second, 5*time.Millisecond)
	require.NoError(t, f.server.Stop(context.Background()))

	w := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ready", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "draining", body["status"])
}
