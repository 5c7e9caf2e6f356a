package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rustyeddy/pricer/policy"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	assert.NotNil(t, cfg)
	assert.Equal(t, "DQN", cfg.Models.Algorithm)
	assert.Equal(t, 0.02, cfg.Pricing.StaticIncrement)
	assert.Equal(t, 0.01, cfg.Pricing.MinChange)
	assert.Equal(t, 100, cfg.Training.MaxSteps)
	assert.NoError(t, cfg.Validate())
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
		errMsg  string
	}{
		{
			name:   "valid config",
			mutate: func(c *Config) {},
		},
		{
			name:    "missing db path",
			mutate:  func(c *Config) { c.Store.DBPath = "" },
			wantErr: true,
			errMsg:  "store.db_path is required",
		},
		{
			name:    "unknown algorithm",
			mutate:  func(c *Config) { c.Models.Algorithm = "A2C" },
			wantErr: true,
			errMsg:  "models.algorithm must be DQN or PPO",
		},
		{
			name:    "lowercase algorithm",
			mutate:  func(c *Config) { c.Models.Algorithm = "ppo" },
			wantErr: false,
		},
		{
			name:    "zero timesteps",
			mutate:  func(c *Config) { c.Training.Timesteps = 0 },
			wantErr: true,
			errMsg:  "training.timesteps must be positive",
		},
		{
			name:    "zero retrain timesteps",
			mutate:  func(c *Config) { c.Training.RetrainTimesteps = 0 },
			wantErr: true,
			errMsg:  "training.retrain_timesteps must be positive",
		},
		{
			name:    "bad step interval",
			mutate:  func(c *Config) { c.Training.StepInterval = "daily" },
			wantErr: true,
			errMsg:  "training.step_interval",
		},
		{
			name:    "negative min change",
			mutate:  func(c *Config) { c.Pricing.MinChange = -0.5 },
			wantErr: true,
			errMsg:  "pricing.min_change cannot be negative",
		},
		{
			name:    "inverted worker bounds",
			mutate:  func(c *Config) { c.Scheduler.WorkerMin, c.Scheduler.WorkerMax = 4, 2 },
			wantErr: true,
			errMsg:  "scheduler.worker_min",
		},
		{
			name:    "negative jobs per worker",
			mutate:  func(c *Config) { c.Scheduler.JobsPerWorker = -1 },
			wantErr: true,
			errMsg:  "scheduler.jobs_per_worker",
		},
		{
			name:    "bad drain timeout",
			mutate:  func(c *Config) { c.Scheduler.DrainTimeout = "-1s" },
			wantErr: true,
			errMsg:  "scheduler.drain_timeout",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr {
				require.Error(t, err)
				if tt.errMsg != "" {
					assert.Contains(t, err.Error(), tt.errMsg)
				}
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestSaveAndLoad(t *testing.T) {
	tmpDir := t.TempDir()

	tests := []struct {
		name string
		ext  string
	}{
		{"json format", ".json"},
		{"yaml format", ".yaml"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			cfg.Models.Algorithm = "PPO"
			cfg.Models.Seed = 99
			cfg.Training.Live = true
			path := filepath.Join(tmpDir, "test"+tt.ext)

			require.NoError(t, cfg.SaveToFile(path))

			_, err := os.Stat(path)
			require.NoError(t, err)

			loaded, err := LoadFromFile(path)
			require.NoError(t, err)
			assert.Equal(t, cfg, loaded)
		})
	}
}

func TestLoadFillsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "partial.yaml")
	require.NoError(t, os.WriteFile(path, []byte("models:\n  algorithm: PPO\n"), 0644))

	cfg, err := LoadFromFile(path)
	require.NoError(t, err)
	assert.Equal(t, "PPO", cfg.Models.Algorithm)
	assert.Equal(t, "./models", cfg.Models.Dir)
	assert.Equal(t, 5000, cfg.Training.Timesteps)
	assert.Equal(t, 1000, cfg.Training.RetrainTimesteps)

	alg, err := cfg.Models.ParseAlgorithm()
	require.NoError(t, err)
	assert.Equal(t, policy.PPO, alg)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("PRICER_DB_PATH", "/tmp/other.db")
	t.Setenv("PRICER_MODEL_DIR", "/tmp/models")
	t.Setenv("PRICER_LOG_MODE", "prod")
	t.Setenv("PRICER_WORKERS", "7")

	cfg := Default()
	require.NoError(t, cfg.ApplyEnv())
	assert.Equal(t, "/tmp/other.db", cfg.Store.DBPath)
	assert.Equal(t, "/tmp/models", cfg.Models.Dir)
	assert.Equal(t, "prod", cfg.Log.Mode)
	assert.Equal(t, 7, cfg.Scheduler.Workers)

	t.Setenv("PRICER_WORKERS", "many")
	assert.Error(t, Default().ApplyEnv())
}

func TestLoadInvalidFile(t *testing.T) {
	_, err := LoadFromFile("/nonexistent/path.yaml")
	assert.Error(t, err)

	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("training:\n  timesteps: -5\n"), 0644))
	_, err = LoadFromFile(path)
	assert.ErrorContains(t, err, "invalid config")
}

func TestParseDurations(t *testing.T) {
	tests := []struct {
		in       string
		expected string
		wantErr  bool
	}{
		{"1h", "1h0m0s", false},
		{"30m", "30m0s", false},
		{"", "24h0m0s", false},
		{"invalid", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			d, err := TrainingConfig{StepInterval: tt.in}.ParseStepInterval()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
				assert.Equal(t, tt.expected, d.String())
			}
		})
	}
}
