// Package api serves seed selection and spread estimation over HTTP for
// graphs held in memory.
package api

import (
	"errors"
	"math/rand"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"github.com/gilchrisn/budgeted-influence-service/pkg/budget"
	"github.com/gilchrisn/budgeted-influence-service/pkg/celf"
	"github.com/gilchrisn/budgeted-influence-service/pkg/experiment"
	"github.com/gilchrisn/budgeted-influence-service/pkg/imm"
	"github.com/gilchrisn/budgeted-influence-service/pkg/simulation"
	"github.com/gilchrisn/budgeted-influence-service/pkg/validation"
)

// maxUploadBytes bounds a streamed edge list.
const maxUploadBytes = 512 << 20

// SeedsRequest asks for a seed set. Zero-valued tuning fields fall back to
// the server configuration.
type SeedsRequest struct {
	Participants []int   `json:"participants" validate:"required,min=1,dive,gte=0"`
	K            int     `json:"k" validate:"gte=0,lte=1000000"`
	Solver       string  `json:"solver" validate:"omitempty,oneof=degree pagerank celf celf-budgeted imm imm-budgeted imm-pool enumeration"`
	Epsilon      float64 `json:"epsilon" validate:"gte=0,lt=1"`
	Ell          float64 `json:"ell" validate:"gte=0"`
	Trials       int     `json:"trials" validate:"gte=0"`
	VerifyRounds int     `json:"verify_rounds" validate:"gte=0"`
	Seed         int64   `json:"seed"`
}

// SeedsResponse is the reply to a SeedsRequest.
type SeedsResponse struct {
	*experiment.Selection
	Spread     *simulation.Estimate `json:"spread,omitempty"`
	DurationMS float64              `json:"duration_ms"`
}

// SpreadRequest asks for a Monte-Carlo spread estimate of Seeds.
type SpreadRequest struct {
	Seeds  []int `json:"seeds" validate:"required,dive,gte=0"`
	Trials int   `json:"trials" validate:"gte=0,lte=10000000"`
	Sketch bool  `json:"sketch"`
	Seed   int64 `json:"seed"`
}

// SpreadResponse is the reply to a SpreadRequest.
type SpreadResponse struct {
	MonteCarlo    simulation.Estimate `json:"monte_carlo"`
	ForwardSketch *float64            `json:"forward_sketch,omitempty"`
}

// Handlers contains HTTP request handlers
type Handlers struct {
	registry *Registry
	config   *imm.Config
	logger   zerolog.Logger
}

// NewHandlers creates handlers over registry. config supplies defaults for
// request fields left zero.
func NewHandlers(registry *Registry, config *imm.Config, logger zerolog.Logger) *Handlers {
	return &Handlers{registry: registry, config: config, logger: logger}
}

// HealthCheck reports liveness and the number of loaded graphs.
func (h *Handlers) HealthCheck(w http.ResponseWriter, r *http.Request) {
	writeSuccess(w, h.logger, http.StatusOK, "Service is healthy", map[string]interface{}{
		"graphs": len(h.registry.List()),
		"time":   time.Now().UTC(),
	})
}

// ListSolvers lists the accepted solver names.
func (h *Handlers) ListSolvers(w http.ResponseWriter, r *http.Request) {
	writeSuccess(w, h.logger, http.StatusOK, "Solvers", []string{
		experiment.SolverDegree, experiment.SolverPageRank,
		experiment.SolverCELF, experiment.SolverCELFBudgeted,
		experiment.SolverIMM, experiment.SolverIMMBudgeted, experiment.SolverIMMPool,
		experiment.SolverEnumeration,
	})
}

// ListGraphs lists the loaded graphs.
func (h *Handlers) ListGraphs(w http.ResponseWriter, r *http.Request) {
	writeSuccess(w, h.logger, http.StatusOK, "Graphs", h.registry.List())
}

// LoadGraph loads a server-side edge-list file described by a JSON
// GraphSpec.
func (h *Handlers) LoadGraph(w http.ResponseWriter, r *http.Request) {
	var spec GraphSpec
	if err := decodeJSON(r, &spec); err != nil {
		writeError(w, h.logger, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	info, err := h.registry.LoadFile(spec)
	if err != nil {
		h.loadFailed(w, err)
		return
	}
	writeSuccess(w, h.logger, http.StatusCreated, "Graph loaded", info)
}

// UploadGraph registers the edge list sent as the request body. name, type,
// model and deadline come from the query string.
func (h *Handlers) UploadGraph(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	spec := GraphSpec{Name: q.Get("name"), Type: q.Get("type"), Model: q.Get("model")}
	if d := q.Get("deadline"); d != "" {
		deadline, err := strconv.Atoi(d)
		if err != nil {
			writeError(w, h.logger, http.StatusBadRequest, "Invalid deadline", err)
			return
		}
		spec.Deadline = deadline
	}

	info, err := h.registry.LoadReader(spec, http.MaxBytesReader(w, r.Body, maxUploadBytes))
	if err != nil {
		h.loadFailed(w, err)
		return
	}
	writeSuccess(w, h.logger, http.StatusCreated, "Graph uploaded", info)
}

// GetGraph describes one graph.
func (h *Handlers) GetGraph(w http.ResponseWriter, r *http.Request) {
	info, err := h.registry.Info(mux.Vars(r)["graphId"])
	if err != nil {
		writeError(w, h.logger, http.StatusNotFound, "Graph not found", err)
		return
	}
	writeSuccess(w, h.logger, http.StatusOK, "Graph", info)
}

// DeleteGraph unloads one graph.
func (h *Handlers) DeleteGraph(w http.ResponseWriter, r *http.Request) {
	if err := h.registry.Delete(mux.Vars(r)["graphId"]); err != nil {
		writeError(w, h.logger, http.StatusNotFound, "Graph not found", err)
		return
	}
	writeSuccess(w, h.logger, http.StatusOK, "Graph deleted", nil)
}

// SelectSeeds runs one solver for the posted participants.
func (h *Handlers) SelectSeeds(w http.ResponseWriter, r *http.Request) {
	entry, err := h.registry.get(mux.Vars(r)["graphId"])
	if err != nil {
		writeError(w, h.logger, http.StatusNotFound, "Graph not found", err)
		return
	}

	var req SeedsRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, h.logger, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if err := validation.ValidateStruct(req); err != nil {
		writeError(w, h.logger, http.StatusBadRequest, "Invalid seeds request", err)
		return
	}
	if err := validation.ValidateParticipants(entry.graph, req.Participants); err != nil {
		writeError(w, h.logger, http.StatusBadRequest, "Invalid participants", err)
		return
	}

	config := h.requestConfig(req)
	solver := req.Solver
	if solver == "" {
		solver = experiment.SolverIMMBudgeted
	}
	rng := rand.New(rand.NewSource(config.RandomSeed()))

	start := time.Now()
	sel, err := entry.solvers.Solve(r.Context(), solver, budget.NewPool(entry.graph, req.Participants), req.K, config, rng)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, imm.ErrInvalidParameter) || errors.Is(err, celf.ErrSearchTooLarge) {
			status = http.StatusBadRequest
		}
		writeError(w, h.logger, status, "Seed selection failed", err)
		return
	}
	resp := SeedsResponse{Selection: sel, DurationMS: float64(time.Since(start).Microseconds()) / 1000}

	if req.VerifyRounds > 0 {
		sim, err := simulation.New(entry.graph, rng)
		if err != nil {
			writeError(w, h.logger, http.StatusInternalServerError, "Spread verification failed", err)
			return
		}
		est := sim.Estimate(sel.Seeds, req.VerifyRounds)
		resp.Spread = &est
	}
	writeSuccess(w, h.logger, http.StatusOK, "Seeds selected", resp)
}

// EstimateSpread simulates the posted seed set.
func (h *Handlers) EstimateSpread(w http.ResponseWriter, r *http.Request) {
	entry, err := h.registry.get(mux.Vars(r)["graphId"])
	if err != nil {
		writeError(w, h.logger, http.StatusNotFound, "Graph not found", err)
		return
	}

	var req SpreadRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, h.logger, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if err := validation.ValidateStruct(req); err != nil {
		writeError(w, h.logger, http.StatusBadRequest, "Invalid spread request", err)
		return
	}
	if err := validation.ValidateParticipants(entry.graph, req.Seeds); err != nil {
		writeError(w, h.logger, http.StatusBadRequest, "Invalid seeds", err)
		return
	}

	trials := req.Trials
	if trials == 0 {
		trials = h.config.VerifyRounds()
	}
	seed := req.Seed
	if seed == 0 {
		seed = h.config.RandomSeed()
	}
	sim, err := simulation.New(entry.graph, rand.New(rand.NewSource(seed)))
	if err != nil {
		writeError(w, h.logger, http.StatusInternalServerError, "Simulation failed", err)
		return
	}

	resp := SpreadResponse{MonteCarlo: sim.Estimate(req.Seeds, trials)}
	if req.Sketch {
		est, err := sim.ForwardSketch(req.Seeds, trials)
		if err != nil {
			writeError(w, h.logger, http.StatusBadRequest, "Forward sketch failed", err)
			return
		}
		resp.ForwardSketch = &est
	}
	writeSuccess(w, h.logger, http.StatusOK, "Spread estimated", resp)
}

// requestConfig overlays the non-zero tuning fields of req on a copy of the
// server configuration.
func (h *Handlers) requestConfig(req SeedsRequest) *imm.Config {
	config := h.config.Clone()
	if req.Epsilon > 0 {
		config.Set("algorithm.epsilon", req.Epsilon)
	}
	if req.Ell > 0 {
		config.Set("algorithm.ell", req.Ell)
	}
	if req.Trials > 0 {
		config.Set("simulation.rounds", req.Trials)
	}
	if req.Seed != 0 {
		config.Set("algorithm.random_seed", req.Seed)
	}
	return config
}

func (h *Handlers) loadFailed(w http.ResponseWriter, err error) {
	var verrs validation.ValidationErrors
	var maxErr *http.MaxBytesError
	switch {
	case errors.As(err, &verrs):
		writeError(w, h.logger, http.StatusBadRequest, "Invalid graph", err)
	case errors.As(err, &maxErr):
		writeError(w, h.logger, http.StatusRequestEntityTooLarge, "Edge list too large", err)
	default:
		h.logger.Error().Err(err).Msg("Graph load failed")
		writeError(w, h.logger, http.StatusBadRequest, "Graph load failed", err)
	}
}
