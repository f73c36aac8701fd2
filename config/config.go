// Package config loads the YAML configuration shared by the serving and
// training binaries.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v2"
)

// Config is the root of config.yaml.
type Config struct {
	Http     HttpConfig     `yaml:"http"`
	Log      LogConfig      `yaml:"log"`
	Model    ModelConfig    `yaml:"model"`
	Training TrainingConfig `yaml:"training"`
	Database struct {
		Path string `yaml:"path"`
	} `yaml:"database"`
}

// HttpConfig controls the serving endpoint.
type HttpConfig struct {
	Port           int           `yaml:"port"`
	Timeout        time.Duration `yaml:"timeout"`
	MaxBodyBytes   int64         `yaml:"max_body_bytes"`
	AllowedOrigins []string      `yaml:"allowed_origins"`
}

// LogConfig controls the zap logger and its optional rotating file sink.
type LogConfig struct {
	Level      string `yaml:"level"`
	Format     string `yaml:"format"` // json or console
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
	Compress   bool   `yaml:"compress"`
}

// ModelConfig describes the artifact served by the inference service.
type ModelConfig struct {
	ArtifactPath string            `yaml:"artifact_path"`
	Watch        bool              `yaml:"watch"`
	CacheSize    int               `yaml:"cache_size"`
	DisplayNames map[string]string `yaml:"display_names"`
}

// TrainingConfig drives cmd/train_model.
type TrainingConfig struct {
	DataPath   string     `yaml:"data_path"`
	Encoding   string     `yaml:"encoding"`
	Labels     []string   `yaml:"labels"`
	MinSamples int        `yaml:"min_samples"`
	TestRatio  float64    `yaml:"test_ratio"`
	Folds      int        `yaml:"folds"`
	Seed       int64      `yaml:"seed"`
	Workers    int        `yaml:"workers"`
	Classifier string     `yaml:"classifier"`
	MaxIter    int        `yaml:"max_iter"`
	Tol        float64    `yaml:"tol"`
	StopWords  bool       `yaml:"stop_words"`
	Grid       GridConfig `yaml:"grid"`
}

// GridConfig lists the candidate hyperparameter values. NGramRanges holds
// [min, max] pairs.
type GridConfig struct {
	MaxFeatures []int     `yaml:"max_features"`
	NGramRanges [][]int   `yaml:"ngram_ranges"`
	C           []float64 `yaml:"c"`
}

// DefaultDisplayNames maps the built-in category identifiers to the names
// returned by the classify endpoint.
func DefaultDisplayNames() map[string]string {
	return map[string]string{
		"action_request": "Action Request",
		"information":    "Information",
		"complaint":      "Complaint",
		"urgent":         "Urgent",
		"spam":           "Spam",
	}
}

// Default returns the configuration used when no file is present.
func Default() Config {
	var cfg Config
	cfg.Http = HttpConfig{
		Port:           8000,
		Timeout:        30 * time.Second,
		MaxBodyBytes:   1 << 20,
		AllowedOrigins: []string{"*"},
	}
	cfg.Log = LogConfig{
		Level:      "info",
		Format:     "json",
		MaxSizeMB:  100,
		MaxBackups: 3,
		MaxAgeDays: 28,
	}
	cfg.Model = ModelConfig{
		ArtifactPath: "model.bin",
		Watch:        true,
		CacheSize:    1024,
		DisplayNames: DefaultDisplayNames(),
	}
	cfg.Training = TrainingConfig{
		DataPath:   "data/dataset.jsonl",
		Labels:     []string{"action_request", "information", "complaint", "urgent", "spam"},
		MinSamples: 10,
		TestRatio:  0.2,
		Folds:      5,
		Seed:       42,
		Workers:    1,
		Classifier: "logistic",
		MaxIter:    1000,
		Tol:        1e-4,
		StopWords:  true,
		Grid: GridConfig{
			MaxFeatures: []int{15000, 20000, 25000},
			NGramRanges: [][]int{{1, 2}},
			C:           []float64{40, 50, 60},
		},
	}
	cfg.Database.Path = "training.db"
	return cfg
}

// Load reads path over Default. A missing file is not an error; the
// defaults are returned unchanged.
func Load(path string) (*Config, error) {
	cfg := Default()

	file, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return &cfg, nil
		}
		return nil, err
	}
	defer file.Close()

	if err := yaml.NewDecoder(file).Decode(&cfg); err != nil {
		return nil, fmt.Errorf("config: decode %s: %w", path, err)
	}
	if len(cfg.Model.DisplayNames) == 0 {
		cfg.Model.DisplayNames = DefaultDisplayNames()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects values the binaries cannot run with.
func (c *Config) Validate() error {
	if c.Http.Port <= 0 || c.Http.Port > 65535 {
		return fmt.Errorf("config: http.port out of range: %d", c.Http.Port)
	}
	if c.Model.ArtifactPath == "" {
		return errors.New("config: model.artifact_path is required")
	}
	if err := c.validateDisplayNames(); err != nil {
		return err
	}
	t := c.Training
	if t.TestRatio <= 0 || t.TestRatio >= 1 {
		return fmt.Errorf("config: training.test_ratio must be in (0,1), got %v", t.TestRatio)
	}
	if t.Folds < 2 {
		return fmt.Errorf("config: training.folds must be at least 2, got %d", t.Folds)
	}
	if t.MinSamples < 1 {
		return fmt.Errorf("config: training.min_samples must be positive, got %d", t.MinSamples)
	}
	if len(t.Grid.MaxFeatures) == 0 || len(t.Grid.NGramRanges) == 0 || len(t.Grid.C) == 0 {
		return errors.New("config: training.grid needs at least one value per dimension")
	}
	for _, r := range t.Grid.NGramRanges {
		if len(r) != 2 || r[0] < 1 || r[1] < r[0] {
			return fmt.Errorf("config: invalid ngram range %v", r)
		}
	}
	for _, mf := range t.Grid.MaxFeatures {
		if mf < 0 {
			return fmt.Errorf("config: invalid max_features %d", mf)
		}
	}
	for _, c := range t.Grid.C {
		if c <= 0 {
			return fmt.Errorf("config: regularization strength must be positive, got %v", c)
		}
	}
	return nil
}

// validateDisplayNames rejects tables where two identifiers would share a
// response key, including a name equal to an unmapped label.
func (c *Config) validateDisplayNames() error {
	owner := make(map[string]string, len(c.Model.DisplayNames))
	for id, name := range c.Model.DisplayNames {
		if name == "" {
			return fmt.Errorf("config: empty display name for %q", id)
		}
		if prev, ok := owner[name]; ok {
			if prev > id {
				prev, id = id, prev
			}
			return fmt.Errorf("config: %q and %q share display name %q", prev, id, name)
		}
		owner[name] = id
	}
	for _, label := range c.Training.Labels {
		if _, mapped := c.Model.DisplayNames[label]; mapped {
			continue
		}
		if prev, ok := owner[label]; ok {
			return fmt.Errorf("config: display name of %q collides with unmapped label %q", prev, label)
		}
	}
	return nil
}
