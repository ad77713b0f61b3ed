package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nextlevelbuilder/friendbot/internal/backend"
	"github.com/nextlevelbuilder/friendbot/internal/bus"
	"github.com/nextlevelbuilder/friendbot/internal/channels"
	"github.com/nextlevelbuilder/friendbot/internal/config"
	"github.com/nextlevelbuilder/friendbot/internal/store"
	"github.com/nextlevelbuilder/friendbot/internal/store/memstore"
)

type fakeBackend struct{ text string }

func (f *fakeBackend) Complete(ctx context.Context, params backend.CompletionParams) (backend.CompletionResult, error) {
	return backend.CompletionResult{Text: f.text}, nil
}

type recordingAdapter struct {
	name      string
	reactions bool
	delivered []bus.OutgoingAction
}

func (a *recordingAdapter) Name() string { return a.name }
func (a *recordingAdapter) Start(ctx context.Context, router bus.InboundRouter) error { return nil }
func (a *recordingAdapter) Stop(ctx context.Context) error                            { return nil }
func (a *recordingAdapter) IsRunning() bool                                           { return true }
func (a *recordingAdapter) SupportsReactions() bool                                   { return a.reactions }
func (a *recordingAdapter) Deliver(ctx context.Context, chatID string, action bus.OutgoingAction) error {
	a.delivered = append(a.delivered, action)
	return nil
}

func newTestStores() store.Stores {
	return store.Stores{
		Sessions:  memstore.NewSessionStore(),
		Memory:    memstore.NewMemoryStore(func() int64 { return time.Now().UnixMilli() }),
		Feedback:  memstore.NewFeedbackStore(),
		Proactive: memstore.NewProactiveStore(),
	}
}

func TestBuildFromConfig_HealthReportsOK(t *testing.T) {
	cfg := config.Default()
	srv := BuildFromConfig(cfg, &fakeBackend{text: "hi"}, newTestStores(), nil)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	srv.BuildMux().ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	var resp healthResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.False(t, resp.ShuttingDown)
}

func TestHandleHealth_ReportsShuttingDown(t *testing.T) {
	cfg := config.Default()
	srv := BuildFromConfig(cfg, &fakeBackend{text: "hi"}, newTestStores(), nil)
	srv.shuttingDown.Store(true)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	srv.BuildMux().ServeHTTP(w, req)

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	var resp healthResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "shutting_down", resp.Status)
}

func TestRouteOutgoing_DowngradesReactOnUnsupportedAdapter(t *testing.T) {
	cfg := config.Default()
	adapter := &recordingAdapter{name: "cli", reactions: false}
	adapters := map[string]channels.TransportAdapter{"cli": adapter}
	srv := BuildFromConfig(cfg, &fakeBackend{text: "hi"}, newTestStores(), adapters)

	err := srv.routeOutgoing(context.Background(), "cli", "cli:operator", bus.React("👍", "operator", 1))
	require.NoError(t, err)
	assert.Empty(t, adapter.delivered, "a downgraded react becomes silence and is never delivered")
}

func TestRouteOutgoing_DeliversSendText(t *testing.T) {
	cfg := config.Default()
	adapter := &recordingAdapter{name: "cli", reactions: false}
	adapters := map[string]channels.TransportAdapter{"cli": adapter}
	srv := BuildFromConfig(cfg, &fakeBackend{text: "hi"}, newTestStores(), adapters)

	err := srv.routeOutgoing(context.Background(), "cli", "cli:operator", bus.SendText("hello there"))
	require.NoError(t, err)
	require.Len(t, adapter.delivered, 1)
	assert.Equal(t, "hello there", adapter.delivered[0].Text)
}

func TestRouteOutgoing_UnknownChannelErrors(t *testing.T) {
	cfg := config.Default()
	srv := BuildFromConfig(cfg, &fakeBackend{text: "hi"}, newTestStores(), nil)

	err := srv.routeOutgoing(context.Background(), "discord", "discord:dm:1", bus.SendText("hi"))
	assert.Error(t, err)
}
