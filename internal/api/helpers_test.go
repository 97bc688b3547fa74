package api

import (
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/npezzotti/meeting-relay/internal/chat"
	"github.com/npezzotti/meeting-relay/internal/config"
	"github.com/npezzotti/meeting-relay/internal/correlator"
	"github.com/npezzotti/meeting-relay/internal/database"
	"github.com/npezzotti/meeting-relay/internal/hub"
	"github.com/npezzotti/meeting-relay/internal/provider"
	"github.com/npezzotti/meeting-relay/internal/stats"
	"github.com/npezzotti/meeting-relay/internal/testutil"
	"github.com/stretchr/testify/require"
)

// captureConn records what the hub publishes.
type captureConn struct {
	mu   sync.Mutex
	msgs []string
}

func (c *captureConn) WriteMessage(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.msgs = append(c.msgs, string(data))
	return nil
}

func (c *captureConn) WritePing() error { return nil }
func (c *captureConn) Close() error     { return nil }

func (c *captureConn) messages() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.msgs...)
}

type testApp struct {
	app     *RelayApp
	handler http.Handler
	hub     *hub.Hub
	store   database.RecordStore
	viewer  *captureConn
}

type testAppOptions struct {
	store          database.RecordStore
	providerURL    string
	chatConfig     chat.Config
	allowedOrigins []string
	staticDir      string
}

func newTestApp(t *testing.T, opts testAppOptions) *testApp {
	// Streaming handlers may log after the test returns, which t.Log forbids.
	logger, _ := testutil.BufferLogger()

	store := opts.store
	if store == nil {
		fs, err := database.NewFileStore(t.TempDir(), logger)
		require.NoError(t, err)
		store = fs
	}

	providerURL := opts.providerURL
	if providerURL == "" {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(`{"id":"sess-1","state":"connecting"}`))
		}))
		t.Cleanup(srv.Close)
		providerURL = srv.URL
	}

	h := hub.NewHub(logger, stats.NoopStats{})
	t.Cleanup(h.Shutdown)
	viewer := &captureConn{}
	h.Subscribe(viewer)

	client := provider.NewClient(provider.Config{BaseURL: providerURL, APIKey: "k"}, logger, stats.NoopStats{})
	c, err := correlator.New(correlator.Config{WebhookSecret: "topsecret"}, h, store, client, logger, stats.NoopStats{})
	require.NoError(t, err)

	cfg := &config.Config{Server: config.ServerConfig{
		Host:        "localhost",
		Port:        5005,
		CORSOrigins: opts.allowedOrigins,
		StaticDir:   opts.staticDir,
	}}
	app := NewRelayApp(http.NewServeMux(), logger, h, c, store, chat.NewService(opts.chatConfig, logger), cfg)

	return &testApp{app: app, handler: app.Handler(), hub: h, store: store, viewer: viewer}
}

func (ta *testApp) do(req *http.Request) *httptest.ResponseRecorder {
	rr := httptest.NewRecorder()
	ta.handler.ServeHTTP(rr, req)
	return rr
}
