package imm

import (
	"context"
	"fmt"
	"sort"
	"time"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/gilchrisn/budgeted-influence-service/pkg/budget"
	"github.com/gilchrisn/budgeted-influence-service/pkg/models"
)

// ComputeSeedsPerParticipant runs one independent IMM computation per
// participant u, selecting k seeds among u's out-neighbours outside the
// participant set, and returns the sorted union of all picks.
//
// Computations run concurrently on up to performance.num_workers
// goroutines. Each owns its Engine (collection, scratch buffers, RNG seeded
// with algorithm.random_seed plus the participant's position); only the
// read-only graph, the logger and the observer are shared.
func ComputeSeedsPerParticipant(ctx context.Context, graph *models.Graph, config *Config, participants []int, k int, observer Observer) (*Result, error) {
	start := time.Now()
	if err := checkParams(k, config.Epsilon(), config.Ell()); err != nil {
		return nil, err
	}
	if err := graph.CheckModel(); err != nil {
		return nil, fmt.Errorf("cannot sample graph: %w", err)
	}

	logger := config.CreateLogger()
	pool := budget.NewPool(graph, participants)
	owners := pool.Participants()

	// configs are cloned up front; viper instances are not safe to read
	// while another goroutine clones them
	configs := make([]*Config, len(owners))
	baseSeed := config.RandomSeed()
	for i := range owners {
		configs[i] = config.Clone()
		configs[i].Set("algorithm.random_seed", baseSeed+int64(i)+1)
	}

	results := make([]*Result, len(owners))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(max(config.NumWorkers(), 1))

	for i, u := range owners {
		candidates := pool.CandidatesOf(u)
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			engine, err := NewEngine(graph, configs[i])
			if err != nil {
				return err
			}
			engine.WithLogger(logger.With().Int("participant", u).Logger()).WithObserver(observer)

			res, err := engine.SelectFromPool(candidates, k, configs[i].Epsilon(), configs[i].Ell())
			if err != nil {
				return fmt.Errorf("participant %d: %w", u, err)
			}
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	union := mapset.NewThreadUnsafeSet[int]()
	merged := &Result{RunID: uuid.NewString(), Trivial: true}
	for _, res := range results {
		union.Append(res.Seeds...)
		merged.Samples += res.Samples
		merged.Capped = merged.Capped || res.Capped
		merged.Trivial = merged.Trivial && res.Trivial
		merged.Statistics.Epochs = max(merged.Statistics.Epochs, res.Statistics.Epochs)
		merged.Statistics.SamplesGenerated += res.Statistics.SamplesGenerated
	}
	merged.Seeds = union.ToSlice()
	sort.Ints(merged.Seeds)
	merged.Statistics.RuntimeMS = time.Since(start).Milliseconds()
	merged.Statistics.MemoryPeakMB = getMemoryUsage()

	logger.Info().
		Str("run_id", merged.RunID).
		Int("participants", len(owners)).
		Int("seeds", len(merged.Seeds)).
		Int("samples", merged.Samples).
		Int64("runtime_ms", merged.Statistics.RuntimeMS).
		Msg("Per-participant selection completed")

	return merged, nil
}
