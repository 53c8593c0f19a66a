package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/annel0/contraption-arena/internal/api/replay"
	"github.com/annel0/contraption-arena/internal/contraption"
	"github.com/annel0/contraption-arena/internal/eventbus"
	"github.com/annel0/contraption-arena/internal/match"
	"github.com/annel0/contraption-arena/internal/storage"
)

type fakeMatch struct {
	st  match.Status
	err error
}

func (f fakeMatch) Query(context.Context) (match.Status, error) { return f.st, f.err }

func newServer(t *testing.T, cfg Config) (*RestServer, storage.BlueprintRepo) {
	t.Helper()
	if cfg.Repo == nil {
		cfg.Repo = storage.NewMemoryRepo()
	}
	cfg.Registry = prometheus.NewRegistry()
	return NewRestServer(cfg), cfg.Repo
}

type response struct {
	Success bool            `json:"success"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func do(t *testing.T, rs *RestServer, method, path string, body any) (int, response) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	rs.Handler().ServeHTTP(w, req)

	var resp response
	if strings.HasPrefix(path, "/api") {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp), w.Body.String())
	}
	return w.Code, resp
}

func ramBlueprint(id string) contraption.Blueprint {
	return contraption.Blueprint{
		ID:     id,
		Name:   "Ram",
		Facing: 1,
		Blocks: []contraption.BlueprintBlock{{Type: "core"}, {Type: "spike", X: 1}},
	}
}

func TestHealthAndMetrics(t *testing.T) {
	rs, _ := newServer(t, Config{})

	code, _ := do(t, rs, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, code)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	w := httptest.NewRecorder()
	rs.Handler().ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "arena_rest_http_request_duration_seconds")
}

func TestServerInfo(t *testing.T) {
	rs, _ := newServer(t, Config{})
	code, resp := do(t, rs, http.MethodGet, "/api/server", nil)
	require.Equal(t, http.StatusOK, code)

	var info ServerInfo
	require.NoError(t, json.Unmarshal(resp.Data, &info))
	assert.Equal(t, serverName, info.Name)
	assert.Positive(t, info.Goroutines)
}

func TestMatchStatus(t *testing.T) {
	rs, _ := newServer(t, Config{})
	code, resp := do(t, rs, http.MethodGet, "/api/match", nil)
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.False(t, resp.Success)

	rs, _ = newServer(t, Config{Match: fakeMatch{st: match.Status{MatchID: "m1", State: "running", BaseHP: [2]int{3, 2}}}})
	code, resp = do(t, rs, http.MethodGet, "/api/match", nil)
	require.Equal(t, http.StatusOK, code)
	var st match.Status
	require.NoError(t, json.Unmarshal(resp.Data, &st))
	assert.Equal(t, "m1", st.MatchID)
	assert.Equal(t, [2]int{3, 2}, st.BaseHP)

	rs, _ = newServer(t, Config{Match: fakeMatch{err: errors.New("busy")}})
	code, _ = do(t, rs, http.MethodGet, "/api/match", nil)
	assert.Equal(t, http.StatusServiceUnavailable, code)
}

func TestBlueprintCRUD(t *testing.T) {
	rs, _ := newServer(t, Config{})

	code, resp := do(t, rs, http.MethodPost, "/api/blueprints", ramBlueprint("ram"))
	require.Equal(t, http.StatusCreated, code, resp.Message)
	var saved contraption.Blueprint
	require.NoError(t, json.Unmarshal(resp.Data, &saved))
	assert.Equal(t, contraption.BlueprintVersion, saved.Version)

	code, _ = do(t, rs, http.MethodPost, "/api/blueprints", ramBlueprint("ram"))
	assert.Equal(t, http.StatusConflict, code)

	bad := ramBlueprint("broken")
	bad.Blocks = append(bad.Blocks, contraption.BlueprintBlock{Type: "laser", X: 2})
	code, _ = do(t, rs, http.MethodPost, "/api/blueprints", bad)
	assert.Equal(t, http.StatusBadRequest, code)

	code, _ = do(t, rs, http.MethodPost, "/api/blueprints", ramBlueprint(""))
	assert.Equal(t, http.StatusBadRequest, code)

	renamed := ramBlueprint("")
	renamed.Name = "Ram II"
	code, _ = do(t, rs, http.MethodPut, "/api/blueprints/ram", renamed)
	assert.Equal(t, http.StatusOK, code)
	code, _ = do(t, rs, http.MethodPut, "/api/blueprints/ram", ramBlueprint("other"))
	assert.Equal(t, http.StatusBadRequest, code)

	code, resp = do(t, rs, http.MethodGet, "/api/blueprints/ram", nil)
	require.Equal(t, http.StatusOK, code)
	var got contraption.Blueprint
	require.NoError(t, json.Unmarshal(resp.Data, &got))
	assert.Equal(t, "Ram II", got.Name)

	code, resp = do(t, rs, http.MethodGet, "/api/blueprints", nil)
	require.Equal(t, http.StatusOK, code)
	var list []contraption.Blueprint
	require.NoError(t, json.Unmarshal(resp.Data, &list))
	assert.Len(t, list, 1)

	code, _ = do(t, rs, http.MethodDelete, "/api/blueprints/ram", nil)
	assert.Equal(t, http.StatusOK, code)
	code, _ = do(t, rs, http.MethodGet, "/api/blueprints/ram", nil)
	assert.Equal(t, http.StatusNotFound, code)
	code, _ = do(t, rs, http.MethodDelete, "/api/blueprints/ram", nil)
	assert.Equal(t, http.StatusNotFound, code)
}

func TestDecks(t *testing.T) {
	rs, repo := newServer(t, Config{})
	require.NoError(t, repo.SaveBlueprint(context.Background(), func() contraption.Blueprint {
		bp := ramBlueprint("ram")
		bp.Version = contraption.BlueprintVersion
		return bp
	}()))

	code, _ := do(t, rs, http.MethodGet, "/api/decks/default", nil)
	assert.Equal(t, http.StatusNotFound, code)

	code, _ = do(t, rs, http.MethodPut, "/api/decks/default", DeckRequest{Blueprints: []string{"ram", "ram"}})
	require.Equal(t, http.StatusOK, code)

	code, resp := do(t, rs, http.MethodGet, "/api/decks/default", nil)
	require.Equal(t, http.StatusOK, code)
	var deck DeckRequest
	require.NoError(t, json.Unmarshal(resp.Data, &deck))
	assert.Equal(t, []string{"ram", "ram"}, deck.Blueprints)

	code, _ = do(t, rs, http.MethodPut, "/api/decks/default", DeckRequest{Blueprints: []string{"ghost"}})
	assert.Equal(t, http.StatusBadRequest, code)

	tooMany := make([]string, storage.MaxDeckSize+1)
	for i := range tooMany {
		tooMany[i] = "ram"
	}
	code, _ = do(t, rs, http.MethodPut, "/api/decks/default", DeckRequest{Blueprints: tooMany})
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestWriteRateLimit(t *testing.T) {
	rs, _ := newServer(t, Config{WriteRate: 1})

	code, _ := do(t, rs, http.MethodPut, "/api/blueprints/a", ramBlueprint("a"))
	assert.Equal(t, http.StatusOK, code)
	code, resp := do(t, rs, http.MethodPut, "/api/blueprints/b", ramBlueprint("b"))
	assert.Equal(t, http.StatusTooManyRequests, code)
	assert.False(t, resp.Success)

	code, _ = do(t, rs, http.MethodGet, "/api/blueprints", nil)
	assert.Equal(t, http.StatusOK, code, "reads are not limited")
}

func TestEvents(t *testing.T) {
	rs, _ := newServer(t, Config{})
	code, _ := do(t, rs, http.MethodGet, "/api/events", nil)
	assert.Equal(t, http.StatusServiceUnavailable, code)

	store := replay.NewRingStore(16)
	ctx := context.Background()
	for _, typ := range []string{eventbus.EventMatchStarted, eventbus.EventBaseDamaged, eventbus.EventBaseDamaged} {
		ev, err := eventbus.NewEnvelope("host", typ, "m1", map[string]int{})
		require.NoError(t, err)
		require.NoError(t, store.WriteEvent(ctx, ev))
	}
	rs, _ = newServer(t, Config{Events: store})

	code, resp := do(t, rs, http.MethodGet, "/api/events?type="+eventbus.EventBaseDamaged, nil)
	require.Equal(t, http.StatusOK, code)
	var evs []replay.Event
	require.NoError(t, json.Unmarshal(resp.Data, &evs))
	assert.Len(t, evs, 2)

	code, resp = do(t, rs, http.MethodGet, "/api/events?limit=1", nil)
	require.Equal(t, http.StatusOK, code)
	require.NoError(t, json.Unmarshal(resp.Data, &evs))
	assert.Len(t, evs, 1)

	code, _ = do(t, rs, http.MethodGet, "/api/events?since=yesterday", nil)
	assert.Equal(t, http.StatusBadRequest, code)
	future := time.Now().Add(time.Hour).UTC().Format(time.RFC3339)
	code, resp = do(t, rs, http.MethodGet, "/api/events?since="+future, nil)
	require.Equal(t, http.StatusOK, code)
	require.NoError(t, json.Unmarshal(resp.Data, &evs))
	assert.Empty(t, evs)

	code, resp = do(t, rs, http.MethodGet, "/api/events/stats", nil)
	require.Equal(t, http.StatusOK, code)
	var stats replay.EventStats
	require.NoError(t, json.Unmarshal(resp.Data, &stats))
	assert.EqualValues(t, 3, stats.TotalEvents)

	code, resp = do(t, rs, http.MethodGet, "/api/events/types", nil)
	require.Equal(t, http.StatusOK, code)
	var types []string
	require.NoError(t, json.Unmarshal(resp.Data, &types))
	assert.Equal(t, []string{eventbus.EventBaseDamaged, eventbus.EventMatchStarted}, types)
}
