package api

import (
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/gilchrisn/budgeted-influence-service/pkg/celf"
	"github.com/gilchrisn/budgeted-influence-service/pkg/experiment"
	"github.com/gilchrisn/budgeted-influence-service/pkg/imm"
	"github.com/gilchrisn/budgeted-influence-service/pkg/models"
	"github.com/gilchrisn/budgeted-influence-service/pkg/parser"
	"github.com/gilchrisn/budgeted-influence-service/pkg/telemetry"
	"github.com/gilchrisn/budgeted-influence-service/pkg/validation"
)

// ErrGraphNotFound is returned for unknown graph ids.
var ErrGraphNotFound = errors.New("graph not found")

// GraphInfo describes a loaded graph.
type GraphInfo struct {
	ID              string    `json:"id"`
	Name            string    `json:"name"`
	Source          string    `json:"source,omitempty"`
	Type            string    `json:"type"`
	Model           string    `json:"model"`
	Deadline        int       `json:"deadline,omitempty"`
	Nodes           int       `json:"nodes"`
	Edges           int       `json:"edges"`
	MeanMeetingRate float64   `json:"mean_meeting_rate,omitempty"`
	LoadedAt        time.Time `json:"loaded_at"`
}

// GraphSpec says how to interpret an edge list and which diffusion model to
// assign.
type GraphSpec struct {
	Name     string `json:"name"`
	Path     string `json:"path"`
	Type     string `json:"type" validate:"omitempty,oneof=directed undirected"`
	Model    string `json:"model" validate:"omitempty,oneof=ic instant icm ic-m ic_m delayed"`
	Deadline int    `json:"deadline" validate:"gte=0"`
}

type graphEntry struct {
	info    GraphInfo
	graph   *models.Graph
	solvers *experiment.Solvers
}

// Registry keeps loaded graphs in memory. A graph is never mutated after it
// is registered, so solvers may run on it concurrently.
type Registry struct {
	mu        sync.RWMutex
	graphs    map[string]*graphEntry
	config    *imm.Config
	logger    zerolog.Logger
	collector *telemetry.Collector
}

// NewRegistry creates an empty registry. model.type and model.deadline of
// config are the defaults for graphs loaded without them, and every graph
// gets its own CELF singleton-spread cache bounded by celf.cache_size.
func NewRegistry(config *imm.Config, logger zerolog.Logger, collector *telemetry.Collector) *Registry {
	return &Registry{
		graphs:    make(map[string]*graphEntry),
		config:    config,
		logger:    logger,
		collector: collector,
	}
}

// LoadFile parses the edge list at spec.Path and registers it. The path is
// resolved against server.data_dir, relative paths included, and must stay
// inside it after symlinks are followed. With no data_dir every path is
// refused.
func (r *Registry) LoadFile(spec GraphSpec) (GraphInfo, error) {
	if spec.Path == "" {
		return GraphInfo{}, validation.ValidationErrors{{Field: "path", Message: "is required"}}
	}
	typ, err := r.graphType(spec)
	if err != nil {
		return GraphInfo{}, err
	}
	path, err := r.resolvePath(spec.Path)
	if err != nil {
		return GraphInfo{}, err
	}
	g, err := parser.LoadGraph(path, typ, r.config.MaxNodes())
	if err != nil {
		return GraphInfo{}, err
	}
	return r.register(spec, spec.Path, g)
}

// Preload registers an edge list named by the operator at startup. Unlike
// LoadFile it is not confined to server.data_dir.
func (r *Registry) Preload(spec GraphSpec) (GraphInfo, error) {
	typ, err := r.graphType(spec)
	if err != nil {
		return GraphInfo{}, err
	}
	g, err := parser.LoadGraph(spec.Path, typ, r.config.MaxNodes())
	if err != nil {
		return GraphInfo{}, err
	}
	return r.register(spec, spec.Path, g)
}

func (r *Registry) resolvePath(path string) (string, error) {
	refused := validation.ValidationErrors{{Field: "path", Message: "must name a file inside the data directory"}}

	root := r.config.DataDir()
	if root == "" {
		return "", refused
	}
	root, err := filepath.Abs(root)
	if err != nil {
		return "", fmt.Errorf("bad data directory: %w", err)
	}
	if !filepath.IsAbs(path) {
		path = filepath.Join(root, path)
	}
	path = filepath.Clean(path)
	if !within(root, path) {
		return "", refused
	}

	realRoot, err := filepath.EvalSymlinks(root)
	if err != nil {
		return "", fmt.Errorf("bad data directory: %w", err)
	}
	realPath, err := filepath.EvalSymlinks(path)
	if err != nil {
		return "", validation.ValidationErrors{{Field: "path", Message: "file not found"}}
	}
	if !within(realRoot, realPath) {
		return "", refused
	}
	return realPath, nil
}

func within(root, path string) bool {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

// LoadReader parses an edge list streamed in src and registers it.
func (r *Registry) LoadReader(spec GraphSpec, src io.Reader) (GraphInfo, error) {
	typ, err := r.graphType(spec)
	if err != nil {
		return GraphInfo{}, err
	}
	g, err := parser.ReadGraph(src, typ, r.config.MaxNodes())
	if err != nil {
		return GraphInfo{}, err
	}
	return r.register(spec, "", g)
}

func (r *Registry) graphType(spec GraphSpec) (parser.GraphType, error) {
	if err := validation.ValidateStruct(spec); err != nil {
		return parser.Directed, err
	}
	if spec.Type == "" {
		return parser.Undirected, nil
	}
	return parser.ParseGraphType(spec.Type)
}

func (r *Registry) register(spec GraphSpec, source string, g *models.Graph) (GraphInfo, error) {
	modelName, deadline := spec.Model, spec.Deadline
	if modelName == "" {
		modelName = r.config.ModelName()
	}
	if deadline == 0 {
		deadline = r.config.Deadline()
	}
	model, err := models.ParseDiffusionModel(modelName)
	if err != nil {
		return GraphInfo{}, err
	}
	meanM, err := g.SetDiffusionModel(model, deadline)
	if err != nil {
		return GraphInfo{}, err
	}
	if err := validation.ValidateGraph(g); err != nil {
		return GraphInfo{}, err
	}

	cache, err := celf.NewSpreadCache(min(r.config.CacheSize(), g.NumNodes))
	if err != nil {
		return GraphInfo{}, err
	}
	solvers, err := experiment.NewSolvers(g, cache, r.logger)
	if err != nil {
		return GraphInfo{}, err
	}
	if r.collector != nil {
		solvers.WithCollector(r.collector)
	}

	info := GraphInfo{
		ID:              uuid.NewString(),
		Name:            spec.Name,
		Source:          source,
		Type:            spec.Type,
		Model:           model.String(),
		Deadline:        g.Horizon,
		Nodes:           g.NumNodes,
		Edges:           g.NumEdges,
		MeanMeetingRate: meanM,
		LoadedAt:        time.Now(),
	}
	if info.Type == "" {
		info.Type = parser.Undirected.String()
	}

	r.mu.Lock()
	r.graphs[info.ID] = &graphEntry{info: info, graph: g, solvers: solvers}
	r.mu.Unlock()

	r.logger.Info().
		Str("graph_id", info.ID).
		Str("name", info.Name).
		Int("nodes", info.Nodes).
		Int("edges", info.Edges).
		Str("model", info.Model).
		Msg("Graph registered")
	return info, nil
}

func (r *Registry) get(id string) (*graphEntry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.graphs[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrGraphNotFound, id)
	}
	return entry, nil
}

// Info returns the description of graph id.
func (r *Registry) Info(id string) (GraphInfo, error) {
	entry, err := r.get(id)
	if err != nil {
		return GraphInfo{}, err
	}
	return entry.info, nil
}

// List returns every registered graph, oldest first.
func (r *Registry) List() []GraphInfo {
	r.mu.RLock()
	out := make([]GraphInfo, 0, len(r.graphs))
	for _, entry := range r.graphs {
		out = append(out, entry.info)
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].LoadedAt.Equal(out[j].LoadedAt) {
			return out[i].LoadedAt.Before(out[j].LoadedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Delete drops graph id.
func (r *Registry) Delete(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.graphs[id]; !ok {
		return fmt.Errorf("%w: %s", ErrGraphNotFound, id)
	}
	delete(r.graphs, id)
	return nil
}
