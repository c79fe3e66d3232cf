package main

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/gilchrisn/budgeted-influence-service/pkg/api"
	"github.com/gilchrisn/budgeted-influence-service/pkg/budget"
	"github.com/gilchrisn/budgeted-influence-service/pkg/celf"
	"github.com/gilchrisn/budgeted-influence-service/pkg/experiment"
	"github.com/gilchrisn/budgeted-influence-service/pkg/imm"
	"github.com/gilchrisn/budgeted-influence-service/pkg/models"
	"github.com/gilchrisn/budgeted-influence-service/pkg/parser"
	"github.com/gilchrisn/budgeted-influence-service/pkg/simulation"
	"github.com/gilchrisn/budgeted-influence-service/pkg/telemetry"
	"github.com/gilchrisn/budgeted-influence-service/pkg/validation"
)

type seedsOutput struct {
	*experiment.Selection
	Spread  *simulation.Estimate `json:"spread,omitempty"`
	Metrics map[string]float64   `json:"metrics,omitempty"`
}

func seedsCmd(config *imm.Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "seeds",
		Short: "Select seeds among the out-neighbours of the active participants",
		RunE: func(cmd *cobra.Command, _ []string) error {
			participants, _ := cmd.Flags().GetIntSlice("participants")
			k, _ := cmd.Flags().GetInt("k")
			solver, _ := cmd.Flags().GetString("solver")
			verify, _ := cmd.Flags().GetBool("verify")

			if !experiment.IsSolver(solver) {
				return fmt.Errorf("unknown solver %q", solver)
			}
			if err := checkParams(cmd, config, k); err != nil {
				return err
			}
			logger := config.CreateLogger()
			g, err := loadGraph(cmd, config, logger)
			if err != nil {
				return err
			}
			if err := validation.ValidateParticipants(g, participants); err != nil {
				return err
			}

			collector := telemetry.NewCollector("bim")
			out, err := selectSeeds(cmd.Context(), g, config, logger, collector, solver, participants, k)
			if err != nil {
				return err
			}

			if verify {
				sim, err := simulation.New(g, rand.New(rand.NewSource(config.RandomSeed())))
				if err != nil {
					return err
				}
				est := sim.Estimate(out.Seeds, config.VerifyRounds())
				out.Spread = &est
			}
			if out.Metrics, err = collector.Snapshot(); err != nil {
				return err
			}
			return printJSON(out)
		},
	}

	cmd.Flags().IntSlice("participants", nil, "Active participant node ids")
	cmd.Flags().Int("k", 1, "Seeds per participant (in total for imm-pool)")
	cmd.Flags().String("solver", experiment.SolverIMMBudgeted, "degree, pagerank, celf, celf-budgeted, imm, imm-budgeted, imm-pool or enumeration")
	cmd.Flags().Float64("epsilon", 0.5, "Approximation slack in (0, 1)")
	cmd.Flags().Float64("ell", 1, "Confidence exponent; failure probability is n^-ell")
	cmd.Flags().Int("trials", 100, "Monte-Carlo trials per CELF spread evaluation")
	cmd.Flags().Bool("verify", true, "Estimate the spread of the result by simulation")
	_ = cmd.MarkFlagRequired("participants")

	for name, key := range map[string]string{
		"epsilon": "algorithm.epsilon",
		"ell":     "algorithm.ell",
		"trials":  "simulation.rounds",
	} {
		_ = config.BindFlag(key, cmd.Flags().Lookup(name))
	}
	return cmd
}

func selectSeeds(ctx context.Context, g *models.Graph, config *imm.Config, logger zerolog.Logger, collector *telemetry.Collector, solver string, participants []int, k int) (*seedsOutput, error) {
	cache, err := celf.NewSpreadCache(config.CacheSize())
	if err != nil {
		return nil, err
	}
	if path := config.SpreadFile(); path != "" {
		spreads, err := parser.LoadSpreads(path)
		if err != nil {
			return nil, err
		}
		cache.Preload(spreads)
		logger.Info().Int("nodes", len(spreads)).Str("path", path).Msg("Singleton spreads preloaded")
	}

	solvers, err := experiment.NewSolvers(g, cache, logger)
	if err != nil {
		return nil, err
	}
	rng := rand.New(rand.NewSource(config.RandomSeed()))
	sel, err := solvers.WithCollector(collector).Solve(ctx, solver, budget.NewPool(g, participants), k, config, rng)
	if err != nil {
		return nil, err
	}
	return &seedsOutput{Selection: sel}, nil
}

func spreadCmd(config *imm.Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "spread",
		Short: "Estimate the expected cascade size of a seed set",
		RunE: func(cmd *cobra.Command, _ []string) error {
			seeds, _ := cmd.Flags().GetIntSlice("seeds")
			trials, _ := cmd.Flags().GetInt("trials")
			sketch, _ := cmd.Flags().GetBool("sketch")

			logger := config.CreateLogger()
			g, err := loadGraph(cmd, config, logger)
			if err != nil {
				return err
			}
			if err := validation.ValidateParticipants(g, seeds); err != nil {
				return err
			}

			sim, err := simulation.New(g, rand.New(rand.NewSource(config.RandomSeed())))
			if err != nil {
				return err
			}
			result := map[string]interface{}{
				"seeds":       seeds,
				"monte_carlo": sim.Estimate(seeds, trials),
			}
			if sketch {
				estimate, err := sim.ForwardSketch(seeds, trials)
				if err != nil {
					return err
				}
				result["forward_sketch"] = estimate
			}
			return printJSON(result)
		},
	}
	cmd.Flags().IntSlice("seeds", nil, "Seed node ids")
	cmd.Flags().Int("trials", 10000, "Number of simulations")
	cmd.Flags().Bool("sketch", false, "Also report the forward-sketch estimate")
	_ = cmd.MarkFlagRequired("seeds")
	return cmd
}

func singleSpreadCmd(config *imm.Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "single-spread",
		Short: "Precompute the spread of every node as a single seed",
		RunE: func(cmd *cobra.Command, _ []string) error {
			output, _ := cmd.Flags().GetString("output")
			trials, _ := cmd.Flags().GetInt("trials")

			logger := config.CreateLogger()
			g, err := loadGraph(cmd, config, logger)
			if err != nil {
				return err
			}

			start := time.Now()
			spreads, err := singleSpreads(cmd.Context(), g, trials, config.RandomSeed(), max(config.NumWorkers(), 1))
			if err != nil {
				return err
			}
			if err := parser.SaveSpreads(output, spreads); err != nil {
				return err
			}
			logger.Info().
				Int("nodes", len(spreads)).
				Int("trials", trials).
				Dur("elapsed", time.Since(start)).
				Str("output", output).
				Msg("Singleton spreads written")
			return nil
		},
	}
	cmd.Flags().StringP("output", "o", "single_spread.txt", "Output file; a .gz suffix compresses it")
	cmd.Flags().Int("trials", 20000, "Simulations per node")
	return cmd
}

// singleSpreads estimates every node's singleton spread, splitting the node
// range into one contiguous chunk per worker.
func singleSpreads(ctx context.Context, g *models.Graph, trials int, seed int64, workers int) ([]float64, error) {
	spreads := make([]float64, g.NumNodes)
	chunk := (g.NumNodes + workers - 1) / workers

	eg, ctx := errgroup.WithContext(ctx)
	for w := 0; w < workers; w++ {
		lo, hi := w*chunk, min((w+1)*chunk, g.NumNodes)
		if lo >= hi {
			break
		}
		rng := rand.New(rand.NewSource(seed + int64(w)))
		eg.Go(func() error {
			sim, err := simulation.New(g, rng)
			if err != nil {
				return err
			}
			seeds := make([]int, 1)
			for u := lo; u < hi; u++ {
				if err := ctx.Err(); err != nil {
					return err
				}
				seeds[0] = u
				spreads[u] = sim.Spread(seeds, trials)
			}
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}
	return spreads, nil
}

func experimentCmd(config *imm.Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "experiment",
		Short: "Compare solvers over random participant sets",
		RunE: func(cmd *cobra.Command, _ []string) error {
			logger := config.CreateLogger()
			g, err := loadGraph(cmd, config, logger)
			if err != nil {
				return err
			}

			runner, err := experiment.NewRunner(g, config)
			if err != nil {
				return err
			}
			collector := telemetry.NewCollector("bim")
			records, err := runner.WithLogger(logger).WithCollector(collector).Run(cmd.Context())
			if err != nil {
				return err
			}

			for _, s := range experiment.Summarize(records) {
				logger.Info().
					Int("participants", s.ParticipantSize).
					Int("k", s.K).
					Str("solver", s.Solver).
					Float64("mean_spread", s.MeanSpread).
					Float64("mean_duration_ms", s.MeanDurationMS).
					Float64("mean_overlap", s.MeanOverlap).
					Msg("Summary")
			}

			snapshot, err := collector.Snapshot()
			if err != nil {
				return err
			}
			logger.Debug().Interface("metrics", snapshot).Msg("Telemetry")
			return nil
		},
	}

	cmd.Flags().IntSlice("participant-sizes", []int{5, 10}, "Active participant set sizes")
	cmd.Flags().IntSlice("k-values", []int{1, 2, 5}, "Per-participant budgets")
	cmd.Flags().StringSlice("solvers", nil, "Solvers to compare")
	cmd.Flags().Int("rounds", 3, "Participant sets drawn per size")
	cmd.Flags().StringP("output", "o", "", "JSON results file")

	for name, key := range map[string]string{
		"participant-sizes": "experiment.participant_sizes",
		"k-values":          "experiment.k_values",
		"solvers":           "experiment.solvers",
		"rounds":            "experiment.rounds",
		"output":            "experiment.output_file",
	} {
		_ = config.BindFlag(key, cmd.Flags().Lookup(name))
	}
	return cmd
}

func formatCmd(config *imm.Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "format <input> <output>",
		Short: "Renumber a directed edge list, dropping isolated nodes",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			nodes, err := parser.CompactFile(args[0], args[1], config.MaxNodes())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%d nodes written to %s\n", nodes, args[1])
			return nil
		},
	}
	return cmd
}

func loadGraph(cmd *cobra.Command, config *imm.Config, logger zerolog.Logger) (*models.Graph, error) {
	path, _ := cmd.Flags().GetString("graph")
	if path == "" {
		return nil, fmt.Errorf("--graph is required")
	}
	typeName, _ := cmd.Flags().GetString("graph-type")
	typ, err := parser.ParseGraphType(typeName)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	g, err := parser.LoadGraph(path, typ, config.MaxNodes())
	if err != nil {
		return nil, err
	}
	model, err := config.Model()
	if err != nil {
		return nil, err
	}
	meanM, err := g.SetDiffusionModel(model, config.Deadline())
	if err != nil {
		return nil, err
	}
	if err := validation.ValidateGraph(g); err != nil {
		return nil, err
	}

	logger.Info().
		Str("path", path).
		Str("type", typ.String()).
		Int("nodes", g.NumNodes).
		Int("edges", g.NumEdges).
		Str("model", model.String()).
		Float64("mean_meeting_rate", meanM).
		Dur("elapsed", time.Since(start)).
		Msg("Graph loaded")
	return g, nil
}

// checkParams validates the run parameters that do not depend on the graph.
func checkParams(cmd *cobra.Command, config *imm.Config, k int) error {
	graphFile, _ := cmd.Flags().GetString("graph")
	graphType, _ := cmd.Flags().GetString("graph-type")
	participants, _ := cmd.Flags().GetIntSlice("participants")
	return validation.ValidateParams(validation.Params{
		GraphFile:    graphFile,
		GraphType:    graphType,
		Model:        config.ModelName(),
		Deadline:     config.Deadline(),
		Epsilon:      config.Epsilon(),
		Ell:          config.Ell(),
		K:            k,
		Trials:       config.SimulationRounds(),
		MaxSamples:   config.MaxSamples(),
		Participants: participants,
	})
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func serveCmd(config *imm.Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve seed selection over HTTP",
		RunE: func(cmd *cobra.Command, _ []string) error {
			addr, _ := cmd.Flags().GetString("address")
			origins, _ := cmd.Flags().GetStringSlice("cors-origins")
			readTimeout, _ := cmd.Flags().GetDuration("read-timeout")
			writeTimeout, _ := cmd.Flags().GetDuration("write-timeout")

			logger := config.CreateLogger()
			server := api.NewServer(config, telemetry.NewCollector("bim"), logger, api.ServerOptions{
				Address:      addr,
				ReadTimeout:  readTimeout,
				WriteTimeout: writeTimeout,
				Origins:      origins,
			})

			// a graph given on the command line is registered at startup
			if path, _ := cmd.Flags().GetString("graph"); path != "" {
				typ, _ := cmd.Flags().GetString("graph-type")
				if _, err := server.Registry.Preload(api.GraphSpec{Name: path, Path: path, Type: typ}); err != nil {
					return err
				}
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return server.Run(ctx, 30*time.Second)
		},
	}
	cmd.Flags().String("address", ":8080", "Listen address")
	cmd.Flags().StringSlice("cors-origins", nil, "Allowed CORS origins (any when empty)")
	cmd.Flags().Duration("read-timeout", 30*time.Second, "HTTP read timeout")
	cmd.Flags().Duration("write-timeout", 10*time.Minute, "HTTP write timeout")
	cmd.Flags().String("data-dir", "", "Directory clients may load graph files from (disabled when empty)")
	_ = config.BindFlag("server.data_dir", cmd.Flags().Lookup("data-dir"))
	return cmd
}
