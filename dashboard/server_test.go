package dashboard

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/swaybot/sway/config"
	"github.com/swaybot/sway/internal/storage/snapshot"
)

type stubEngine struct {
	latest    snapshot.Snapshot
	patches   []config.SettingsPatch
	patchErr  error
	restarts  int
	callbacks []func(snapshot.Snapshot)
}

func (e *stubEngine) LatestSnapshot() snapshot.Snapshot { return e.latest }

func (e *stubEngine) OnCycleComplete(fn func(snapshot.Snapshot)) {
	e.callbacks = append(e.callbacks, fn)
}

func (e *stubEngine) UpdateSettings(patch config.SettingsPatch) error {
	if e.patchErr != nil {
		return e.patchErr
	}
	e.patches = append(e.patches, patch)
	return nil
}

func (e *stubEngine) Restart() { e.restarts++ }

func newTestServer(t *testing.T) (*Server, *stubEngine) {
	t.Helper()
	engine := &stubEngine{latest: snapshot.Snapshot{Settings: config.DefaultSettings(), FailedSaves: 1}}
	return NewServer(":0", engine, zap.NewNop()), engine
}

func TestServer_Status(t *testing.T) {
	srv, _ := newTestServer(t)

	rec := httptest.NewRecorder()
	srv.handleStatus(rec, httptest.NewRequest(http.MethodGet, "/status", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"failed_saves":1`)

	rec = httptest.NewRecorder()
	srv.handleStatus(rec, httptest.NewRequest(http.MethodPost, "/status", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestServer_Settings(t *testing.T) {
	srv, engine := newTestServer(t)

	rec := httptest.NewRecorder()
	body := strings.NewReader(`{"monitor_mode":true,"min_sentiment_change":5}`)
	srv.handleSettings(rec, httptest.NewRequest(http.MethodPatch, "/settings", body))

	require.Equal(t, http.StatusNoContent, rec.Code)
	require.Len(t, engine.patches, 1)
	require.NotNil(t, engine.patches[0].MonitorMode)
	assert.True(t, *engine.patches[0].MonitorMode)
	require.NotNil(t, engine.patches[0].MinSentimentChange)
	assert.Equal(t, 5.0, *engine.patches[0].MinSentimentChange)

	rec = httptest.NewRecorder()
	srv.handleSettings(rec, httptest.NewRequest(http.MethodPatch, "/settings", strings.NewReader("{not json")))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestServer_Restart(t *testing.T) {
	srv, engine := newTestServer(t)

	rec := httptest.NewRecorder()
	srv.handleRestart(rec, httptest.NewRequest(http.MethodPost, "/restart", nil))
	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, 1, engine.restarts)

	rec = httptest.NewRecorder()
	srv.handleRestart(rec, httptest.NewRequest(http.MethodGet, "/restart", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestServer_BroadcastDropsWhenSubscriberIsSlow(t *testing.T) {
	srv, engine := newTestServer(t)
	require.Len(t, engine.callbacks, 1, "the server subscribes to cycle completions")

	ch := srv.subscribe()
	defer srv.unsubscribe(ch)

	for i := 0; i < 10; i++ {
		engine.callbacks[0](snapshot.Snapshot{FailedSaves: i})
	}

	assert.Len(t, ch, cap(ch), "excess events are dropped, the scheduler is never blocked")
}
