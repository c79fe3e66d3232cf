package imm

import (
	"os"
	"runtime"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/gilchrisn/budgeted-influence-service/pkg/models"
)

// Config manages engine, simulation and experiment configuration using Viper
type Config struct {
	v *viper.Viper
}

// NewConfig creates a new configuration with defaults
func NewConfig() *Config {
	v := viper.New()

	// Sampling parameters
	v.SetDefault("algorithm.epsilon", 0.5)
	v.SetDefault("algorithm.ell", 1.0)
	v.SetDefault("algorithm.max_samples", 100_000_000)
	v.SetDefault("algorithm.random_seed", time.Now().UnixNano())

	// Diffusion model
	v.SetDefault("model.type", "icm")
	v.SetDefault("model.deadline", 15)

	// Monte-Carlo evaluation
	v.SetDefault("simulation.rounds", 100)
	v.SetDefault("simulation.verify_rounds", 10000)

	v.SetDefault("celf.cache_size", 1<<20)
	v.SetDefault("celf.spread_file", "")

	// Exhaustive search
	v.SetDefault("enumeration.max_sets", 100_000)

	// Input limits
	v.SetDefault("parser.max_nodes", 2_000_000)

	// HTTP service; path loading is off until data_dir is set
	v.SetDefault("server.data_dir", "")

	// Performance parameters
	v.SetDefault("performance.num_workers", runtime.NumCPU())

	// Logging parameters
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.enable_progress", true)

	// Experiment sweep
	v.SetDefault("experiment.rounds", 3)
	v.SetDefault("experiment.participant_sizes", []int{5, 10})
	v.SetDefault("experiment.k_values", []int{1, 2, 5})
	v.SetDefault("experiment.solvers", []string{"degree", "pagerank", "celf", "imm", "imm-budgeted", "celf-budgeted"})
	v.SetDefault("experiment.max_attempts", 1000)
	v.SetDefault("experiment.max_pool_ratio", 30)
	v.SetDefault("experiment.min_overlap", 0.2)
	v.SetDefault("experiment.output_file", "")

	return &Config{v: v}
}

// LoadFromFile loads configuration from file
func (c *Config) LoadFromFile(path string) error {
	c.v.SetConfigFile(path)
	return c.v.ReadInConfig()
}

// Getters for sampling parameters
func (c *Config) Epsilon() float64  { return c.v.GetFloat64("algorithm.epsilon") }
func (c *Config) Ell() float64      { return c.v.GetFloat64("algorithm.ell") }
func (c *Config) MaxSamples() int   { return c.v.GetInt("algorithm.max_samples") }
func (c *Config) RandomSeed() int64 { return c.v.GetInt64("algorithm.random_seed") }

func (c *Config) ModelName() string { return c.v.GetString("model.type") }
func (c *Config) Deadline() int     { return c.v.GetInt("model.deadline") }

// Model parses model.type.
func (c *Config) Model() (models.DiffusionModel, error) {
	return models.ParseDiffusionModel(c.ModelName())
}

func (c *Config) SimulationRounds() int { return c.v.GetInt("simulation.rounds") }
func (c *Config) VerifyRounds() int     { return c.v.GetInt("simulation.verify_rounds") }

func (c *Config) CacheSize() int     { return c.v.GetInt("celf.cache_size") }
func (c *Config) SpreadFile() string { return c.v.GetString("celf.spread_file") }

func (c *Config) EnumerationLimit() int { return c.v.GetInt("enumeration.max_sets") }

func (c *Config) MaxNodes() int   { return c.v.GetInt("parser.max_nodes") }
func (c *Config) DataDir() string { return c.v.GetString("server.data_dir") }

func (c *Config) NumWorkers() int { return c.v.GetInt("performance.num_workers") }

func (c *Config) LogLevel() string     { return c.v.GetString("logging.level") }
func (c *Config) EnableProgress() bool { return c.v.GetBool("logging.enable_progress") }

func (c *Config) ExperimentRounds() int        { return c.v.GetInt("experiment.rounds") }
func (c *Config) ParticipantSizes() []int      { return c.v.GetIntSlice("experiment.participant_sizes") }
func (c *Config) KValues() []int               { return c.v.GetIntSlice("experiment.k_values") }
func (c *Config) Solvers() []string            { return c.v.GetStringSlice("experiment.solvers") }
func (c *Config) MaxAttempts() int             { return c.v.GetInt("experiment.max_attempts") }
func (c *Config) MaxPoolRatio() int            { return c.v.GetInt("experiment.max_pool_ratio") }
func (c *Config) MinOverlap() float64          { return c.v.GetFloat64("experiment.min_overlap") }
func (c *Config) ExperimentOutputFile() string { return c.v.GetString("experiment.output_file") }

// Set allows dynamic configuration changes
func (c *Config) Set(key string, value interface{}) {
	c.v.Set(key, value)
}

// BindFlag makes a command-line flag override key when it is set.
func (c *Config) BindFlag(key string, flag *pflag.Flag) error {
	return c.v.BindPFlag(key, flag)
}

// Clone copies every setting into an independent Config.
func (c *Config) Clone() *Config {
	clone := NewConfig()
	for _, key := range c.v.AllKeys() {
		clone.v.Set(key, c.v.Get(key))
	}
	return clone
}

// CreateLogger creates a zerolog logger based on config
func (c *Config) CreateLogger() zerolog.Logger {
	level, err := zerolog.ParseLevel(c.LogLevel())
	if err != nil {
		level = zerolog.InfoLevel
	}

	return zerolog.New(zerolog.ConsoleWriter{
		Out:        os.Stderr,
		TimeFormat: "15:04:05",
	}).Level(level).With().Timestamp().Str("service", "bim").Logger()
}
