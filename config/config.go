package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/rustyeddy/pricer/policy"
)

// Config is the complete service configuration.
type Config struct {
	Store     StoreConfig     `json:"store" yaml:"store"`
	Models    ModelsConfig    `json:"models" yaml:"models"`
	Training  TrainingConfig  `json:"training" yaml:"training"`
	Pricing   PricingConfig   `json:"pricing" yaml:"pricing"`
	Scheduler SchedulerConfig `json:"scheduler" yaml:"scheduler"`
	Log       LogConfig       `json:"log" yaml:"log"`
}

type StoreConfig struct {
	DBPath string `json:"db_path" yaml:"db_path"`
}

type ModelsConfig struct {
	Dir       string `json:"dir" yaml:"dir"`
	Algorithm string `json:"algorithm" yaml:"algorithm"` // "DQN" or "PPO"
	CacheSize int    `json:"cache_size" yaml:"cache_size"`
	Seed      uint64 `json:"seed" yaml:"seed"`
}

type TrainingConfig struct {
	// Timesteps is used when a single update retrains its model.
	Timesteps int `json:"timesteps" yaml:"timesteps"`
	// RetrainTimesteps is used by retrain-all runs and background retrain jobs.
	RetrainTimesteps int  `json:"retrain_timesteps" yaml:"retrain_timesteps"`
	MaxSteps         int  `json:"max_steps" yaml:"max_steps"`
	Live             bool `json:"live" yaml:"live"`
	// StepInterval is the sandbox clock advance per step, e.g. "24h".
	StepInterval string       `json:"step_interval" yaml:"step_interval"`
	Demand       DemandConfig `json:"demand" yaml:"demand"`
	Restock      int64        `json:"restock" yaml:"restock"`
	Parallelism  int          `json:"parallelism" yaml:"parallelism"`
}

type DemandConfig struct {
	BaseUnits  float64 `json:"base_units" yaml:"base_units"`
	Elasticity float64 `json:"elasticity" yaml:"elasticity"`
}

type PricingConfig struct {
	StaticIncrement float64 `json:"static_increment" yaml:"static_increment"`
	MinChange       float64 `json:"min_change" yaml:"min_change"`
}

type SchedulerConfig struct {
	Workers       int    `json:"workers" yaml:"workers"`
	WorkerMin     int    `json:"worker_min" yaml:"worker_min"`
	WorkerMax     int    `json:"worker_max" yaml:"worker_max"`
	JobsPerWorker int    `json:"jobs_per_worker" yaml:"jobs_per_worker"`
	DrainTimeout  string `json:"drain_timeout" yaml:"drain_timeout"`
	ScaleInterval string `json:"scale_interval" yaml:"scale_interval"`
}

type LogConfig struct {
	Mode string `json:"mode" yaml:"mode"` // "dev" or "prod"
}

// ParseStepInterval converts the step interval string to a time.Duration.
func (t TrainingConfig) ParseStepInterval() (time.Duration, error) {
	if t.StepInterval == "" {
		return 24 * time.Hour, nil
	}
	return time.ParseDuration(t.StepInterval)
}

func (s SchedulerConfig) ParseDrainTimeout() (time.Duration, error) {
	if s.DrainTimeout == "" {
		return 10 * time.Minute, nil
	}
	return time.ParseDuration(s.DrainTimeout)
}

func (s SchedulerConfig) ParseScaleInterval() (time.Duration, error) {
	if s.ScaleInterval == "" {
		return 500 * time.Millisecond, nil
	}
	return time.ParseDuration(s.ScaleInterval)
}

// ParseAlgorithm returns the configured policy family.
func (m ModelsConfig) ParseAlgorithm() (policy.Algorithm, error) {
	return policy.ParseAlgorithm(m.Algorithm)
}

// LoadFromFile loads configuration from a file (YAML, falling back to JSON),
// applies environment overrides and validates the result.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg := Default()

	// Try YAML first, fall back to JSON
	err = yaml.Unmarshal(data, cfg)
	if err != nil {
		cfg = Default()
		err = json.Unmarshal(data, cfg)
		if err != nil {
			return nil, fmt.Errorf("parse config (tried YAML and JSON): %w", err)
		}
	}

	if err := cfg.ApplyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// SaveToFile saves configuration to a file (JSON or YAML based on extension)
func (c *Config) SaveToFile(path string) error {
	var data []byte
	var err error

	if strings.HasSuffix(path, ".yaml") || strings.HasSuffix(path, ".yml") {
		data, err = yaml.Marshal(c)
	} else {
		data, err = json.MarshalIndent(c, "", "  ")
	}
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("write config file: %w", err)
	}
	return nil
}

// ApplyEnv overrides selected settings from PRICER_* environment variables.
func (c *Config) ApplyEnv() error {
	if v := os.Getenv("PRICER_DB_PATH"); v != "" {
		c.Store.DBPath = v
	}
	if v := os.Getenv("PRICER_MODEL_DIR"); v != "" {
		c.Models.Dir = v
	}
	if v := os.Getenv("PRICER_LOG_MODE"); v != "" {
		c.Log.Mode = v
	}
	if v := os.Getenv("PRICER_WORKERS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("PRICER_WORKERS: %w", err)
		}
		c.Scheduler.Workers = n
	}
	return nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Store.DBPath == "" {
		return fmt.Errorf("store.db_path is required")
	}
	if c.Models.Dir == "" {
		return fmt.Errorf("models.dir is required")
	}
	if _, err := policy.ParseAlgorithm(c.Models.Algorithm); err != nil {
		return fmt.Errorf("models.algorithm must be DQN or PPO")
	}
	if c.Models.CacheSize < 0 {
		return fmt.Errorf("models.cache_size cannot be negative")
	}
	if c.Training.Timesteps <= 0 {
		return fmt.Errorf("training.timesteps must be positive")
	}
	if c.Training.RetrainTimesteps <= 0 {
		return fmt.Errorf("training.retrain_timesteps must be positive")
	}
	if c.Training.MaxSteps <= 0 {
		return fmt.Errorf("training.max_steps must be positive")
	}
	if d, err := c.Training.ParseStepInterval(); err != nil || d <= 0 {
		return fmt.Errorf("training.step_interval must be a positive duration")
	}
	if c.Training.Demand.BaseUnits < 0 || c.Training.Demand.Elasticity < 0 {
		return fmt.Errorf("training.demand values cannot be negative")
	}
	if c.Training.Restock < 0 {
		return fmt.Errorf("training.restock cannot be negative")
	}
	if c.Training.Parallelism <= 0 {
		return fmt.Errorf("training.parallelism must be positive")
	}
	if c.Pricing.StaticIncrement <= -1 {
		return fmt.Errorf("pricing.static_increment must be greater than -1")
	}
	if c.Pricing.MinChange < 0 {
		return fmt.Errorf("pricing.min_change cannot be negative")
	}
	if c.Scheduler.Workers <= 0 {
		return fmt.Errorf("scheduler.workers must be positive")
	}
	if c.Scheduler.WorkerMin <= 0 || c.Scheduler.WorkerMax < c.Scheduler.WorkerMin {
		return fmt.Errorf("scheduler.worker_min must be positive and not above worker_max")
	}
	if c.Scheduler.JobsPerWorker < 0 {
		return fmt.Errorf("scheduler.jobs_per_worker cannot be negative")
	}
	if d, err := c.Scheduler.ParseDrainTimeout(); err != nil || d <= 0 {
		return fmt.Errorf("scheduler.drain_timeout must be a positive duration")
	}
	if d, err := c.Scheduler.ParseScaleInterval(); err != nil || d <= 0 {
		return fmt.Errorf("scheduler.scale_interval must be a positive duration")
	}
	return nil
}

// Default returns a configuration with sensible defaults
func Default() *Config {
	return &Config{
		Store: StoreConfig{
			DBPath: "./pricer.db",
		},
		Models: ModelsConfig{
			Dir:       "./models",
			Algorithm: string(policy.DQN),
			CacheSize: 64,
			Seed:      1,
		},
		Training: TrainingConfig{
			Timesteps:        5000,
			RetrainTimesteps: 1000,
			MaxSteps:         100,
			StepInterval:     "24h",
			Demand: DemandConfig{
				BaseUnits:  5,
				Elasticity: 1.5,
			},
			Parallelism: 2,
		},
		Pricing: PricingConfig{
			StaticIncrement: 0.02,
			MinChange:       0.01,
		},
		Scheduler: SchedulerConfig{
			Workers:       2,
			WorkerMin:     1,
			WorkerMax:     4,
			JobsPerWorker: 8,
			DrainTimeout:  "10m",
			ScaleInterval: "500ms",
		},
		Log: LogConfig{
			Mode: "dev",
		},
	}
}
