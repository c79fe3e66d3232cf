package api

import (
	"bytes"
	"context"
	"encoding/json"
	"math"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gilchrisn/budgeted-influence-service/pkg/imm"
	"github.com/gilchrisn/budgeted-influence-service/pkg/telemetry"
)

// 0 -> 1, 1 -> 2..6, 7 -> 8; every in-degree is 1 so p = 1 everywhere.
const starEdges = "0 1\n1 2\n1 3\n1 4\n1 5\n1 6\n7 8\n"

type envelope struct {
	Success bool            `json:"success"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
	Error   string          `json:"error"`
}

func testConfig() *imm.Config {
	config := imm.NewConfig()
	config.Set("algorithm.random_seed", int64(5))
	config.Set("logging.level", "disabled")
	config.Set("logging.enable_progress", false)
	config.Set("simulation.rounds", 5)
	return config
}

func newTestServer(t *testing.T) *Server {
	t.Helper()
	return newServerWith(testConfig())
}

func newServerWith(config *imm.Config) *Server {
	return NewServer(config, telemetry.NewCollector("bim"), zerolog.Nop(), ServerOptions{Address: ":0"})
}

// newDataServer serves graphs from a fresh data directory holding star.txt.
func newDataServer(t *testing.T) (*Server, string) {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "star.txt"), []byte(starEdges), 0o644))
	config := testConfig()
	config.Set("server.data_dir", dir)
	return newServerWith(config), dir
}

func do(t *testing.T, s *Server, method, path string, body []byte) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	var env envelope
	if strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	}
	return rec, env
}

func mustJSON(t *testing.T, v interface{}) []byte {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	return data
}

func upload(t *testing.T, s *Server) GraphInfo {
	t.Helper()
	rec, env := do(t, s, http.MethodPost, "/api/v1/graphs/upload?name=star&type=directed&model=ic", []byte(starEdges))
	require.Equal(t, http.StatusCreated, rec.Code, env.Error)

	var info GraphInfo
	require.NoError(t, json.Unmarshal(env.Data, &info))
	return info
}

func TestHealthCheck(t *testing.T) {
	s := newTestServer(t)
	rec, env := do(t, s, http.MethodGet, "/api/v1/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, env.Success)
}

func TestUploadAndDescribeGraph(t *testing.T) {
	s := newTestServer(t)
	info := upload(t, s)
	assert.Equal(t, "star", info.Name)
	assert.Equal(t, 9, info.Nodes)
	assert.Equal(t, 7, info.Edges)
	assert.Equal(t, "ic", info.Model)
	assert.Equal(t, "directed", info.Type)

	rec, env := do(t, s, http.MethodGet, "/api/v1/graphs/"+info.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var got GraphInfo
	require.NoError(t, json.Unmarshal(env.Data, &got))
	assert.Equal(t, info.ID, got.ID)

	rec, env = do(t, s, http.MethodGet, "/api/v1/graphs", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var list []GraphInfo
	require.NoError(t, json.Unmarshal(env.Data, &list))
	assert.Len(t, list, 1)

	rec, _ = do(t, s, http.MethodDelete, "/api/v1/graphs/"+info.ID, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	rec, env = do(t, s, http.MethodGet, "/api/v1/graphs/"+info.ID, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.False(t, env.Success)
}

func TestLoadGraphFromFile(t *testing.T) {
	s, dir := newDataServer(t)
	path := filepath.Join(dir, "star.txt")

	body := mustJSON(t, GraphSpec{Name: "file", Path: path, Type: "directed", Model: "icm", Deadline: 4})
	rec, env := do(t, s, http.MethodPost, "/api/v1/graphs", body)
	require.Equal(t, http.StatusCreated, rec.Code, env.Error)

	var info GraphInfo
	require.NoError(t, json.Unmarshal(env.Data, &info))
	assert.Equal(t, "icm", info.Model)
	assert.Equal(t, 4, info.Deadline)
	assert.Equal(t, path, info.Source)
	assert.Equal(t, 9, info.Nodes)

	// relative paths resolve inside the data directory
	rec, env = do(t, s, http.MethodPost, "/api/v1/graphs", mustJSON(t, GraphSpec{Path: "star.txt", Type: "directed"}))
	require.Equal(t, http.StatusCreated, rec.Code, env.Error)
}

func TestLoadGraphConfinedToDataDir(t *testing.T) {
	s, dir := newDataServer(t)

	secret := filepath.Join(t.TempDir(), "secret.txt")
	require.NoError(t, os.WriteFile(secret, []byte("0 1\napi_token=SUPERSECRET123\n"), 0o644))
	require.NoError(t, os.Symlink(secret, filepath.Join(dir, "link.txt")))

	for _, path := range []string{secret, "../" + filepath.Base(filepath.Dir(secret)) + "/secret.txt", "link.txt", "/etc/passwd"} {
		rec, env := do(t, s, http.MethodPost, "/api/v1/graphs", mustJSON(t, GraphSpec{Path: path}))
		assert.Equal(t, http.StatusBadRequest, rec.Code, path)
		assert.NotContains(t, env.Error, "SUPERSECRET123", path)
		assert.NotContains(t, env.Error, "root:", path)
	}
	assert.Empty(t, s.Registry.List())
}

func TestLoadGraphDisabledWithoutDataDir(t *testing.T) {
	path := filepath.Join(t.TempDir(), "star.txt")
	require.NoError(t, os.WriteFile(path, []byte(starEdges), 0o644))

	s := newTestServer(t)
	rec, env := do(t, s, http.MethodPost, "/api/v1/graphs", mustJSON(t, GraphSpec{Path: path}))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, string(env.Data), "validation_errors")

	// the operator's own startup graph is not confined
	info, err := s.Registry.Preload(GraphSpec{Name: "startup", Path: path, Type: "directed"})
	require.NoError(t, err)
	assert.Equal(t, 9, info.Nodes)
}

func TestUploadGraphNodeLimit(t *testing.T) {
	config := testConfig()
	config.Set("parser.max_nodes", 100)
	s := newServerWith(config)

	rec, env := do(t, s, http.MethodPost, "/api/v1/graphs/upload?type=directed", []byte("0,30000000\n"))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.False(t, env.Success)
	assert.Empty(t, s.Registry.List())
}

func TestLoadGraphRejectsBadSpec(t *testing.T) {
	s := newTestServer(t)

	rec, env := do(t, s, http.MethodPost, "/api/v1/graphs", mustJSON(t, GraphSpec{Path: "x", Type: "mixed"}))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, string(env.Data), "validation_errors")

	rec, _ = do(t, s, http.MethodPost, "/api/v1/graphs", []byte(`{"path": "x", "colour": "red"}`))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, _ = do(t, s, http.MethodPost, "/api/v1/graphs", mustJSON(t, GraphSpec{Path: filepath.Join(t.TempDir(), "missing.txt")}))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSelectSeeds(t *testing.T) {
	s := newTestServer(t)
	info := upload(t, s)

	for _, solver := range []string{"degree", "celf-budgeted", "imm-budgeted", "imm", "enumeration"} {
		t.Run(solver, func(t *testing.T) {
			body := mustJSON(t, SeedsRequest{Participants: []int{0, 7}, K: 1, Solver: solver, VerifyRounds: 20})
			rec, env := do(t, s, http.MethodPost, "/api/v1/graphs/"+info.ID+"/seeds", body)
			require.Equal(t, http.StatusOK, rec.Code, env.Error)

			var resp struct {
				Solver string `json:"solver"`
				Seeds  []int  `json:"seeds"`
				Spread struct {
					Mean float64 `json:"mean"`
				} `json:"spread"`
			}
			require.NoError(t, json.Unmarshal(env.Data, &resp))
			assert.Equal(t, solver, resp.Solver)
			assert.ElementsMatch(t, []int{1, 8}, resp.Seeds)
			// 1 reaches 2..6 and 8 is a sink
			assert.InDelta(t, 7.0, resp.Spread.Mean, 1e-9)
		})
	}
}

func TestSelectSeedsValidation(t *testing.T) {
	s := newTestServer(t)
	info := upload(t, s)
	path := "/api/v1/graphs/" + info.ID + "/seeds"

	rec, _ := do(t, s, http.MethodPost, path, mustJSON(t, SeedsRequest{K: 1}))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, _ = do(t, s, http.MethodPost, path, mustJSON(t, SeedsRequest{Participants: []int{0}, K: 1, Solver: "random"}))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, _ = do(t, s, http.MethodPost, path, mustJSON(t, SeedsRequest{Participants: []int{42}, K: 1}))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// k is bounded so participant budgets cannot overflow
	rec, env := do(t, s, http.MethodPost, path, mustJSON(t, SeedsRequest{Participants: []int{0, 7}, K: math.MaxInt}))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, string(env.Data), "validation_errors")

	rec, _ = do(t, s, http.MethodPost, "/api/v1/graphs/unknown/seeds", mustJSON(t, SeedsRequest{Participants: []int{0}, K: 1}))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSelectSeedsEnumerationLimit(t *testing.T) {
	config := testConfig()
	config.Set("enumeration.max_sets", 4)
	s := newServerWith(config)
	info := upload(t, s)

	// participant 1 alone has C(5, 2) = 10 choices
	body := mustJSON(t, SeedsRequest{Participants: []int{1}, K: 2, Solver: "enumeration"})
	rec, env := do(t, s, http.MethodPost, "/api/v1/graphs/"+info.ID+"/seeds", body)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, env.Error, "too large")
}

func TestListSolvers(t *testing.T) {
	s := newTestServer(t)
	rec, env := do(t, s, http.MethodGet, "/api/v1/solvers", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var names []string
	require.NoError(t, json.Unmarshal(env.Data, &names))
	assert.Contains(t, names, "enumeration")
}

func TestEstimateSpread(t *testing.T) {
	s := newTestServer(t)
	info := upload(t, s)

	body := mustJSON(t, SpreadRequest{Seeds: []int{0}, Trials: 10})
	rec, env := do(t, s, http.MethodPost, "/api/v1/graphs/"+info.ID+"/spread", body)
	require.Equal(t, http.StatusOK, rec.Code, env.Error)

	var resp SpreadResponse
	require.NoError(t, json.Unmarshal(env.Data, &resp))
	assert.InDelta(t, 7.0, resp.MonteCarlo.Mean, 1e-9)
	assert.Equal(t, 10, resp.MonteCarlo.Trials)
	assert.Nil(t, resp.ForwardSketch)
}

func TestMetricsEndpoint(t *testing.T) {
	s := newTestServer(t)
	info := upload(t, s)
	body := mustJSON(t, SeedsRequest{Participants: []int{0, 7}, K: 1, Solver: "celf"})
	rec, _ := do(t, s, http.MethodPost, "/api/v1/graphs/"+info.ID+"/seeds", body)
	require.Equal(t, http.StatusOK, rec.Code)

	rec, _ = do(t, s, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "bim_celf_seeds_accepted_total")
}

func TestCORSPreflight(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodOptions, "/api/v1/health", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	req.Header.Set("Access-Control-Request-Method", http.MethodGet)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestRecoveryMiddleware(t *testing.T) {
	h := RecoveryMiddleware(zerolog.Nop())(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestRunStopsOnCancel(t *testing.T) {
	s := newTestServer(t)
	s.http.Addr = "127.0.0.1:0"

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx, time.Second) }()
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}
