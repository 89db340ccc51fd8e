// Package config loads the YAML configuration shared by every senas command.
package config

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/ayusman/senas/internal/augment"
	"github.com/ayusman/senas/internal/dataset"
	"github.com/ayusman/senas/internal/detector"
	"github.com/ayusman/senas/internal/features"
	"github.com/ayusman/senas/internal/logging"
	"github.com/ayusman/senas/internal/model"
	"github.com/ayusman/senas/internal/trainer"
)

// Config is the root configuration document.
type Config struct {
	Server   ServerConfig    `yaml:"server"`
	Model    ModelConfig     `yaml:"model"`
	Features FeaturesConfig  `yaml:"features"`
	Training TrainingConfig  `yaml:"training"`
	Augment  augment.Config  `yaml:"augment"`
	Store    StoreConfig     `yaml:"store"`
	Camera   CameraConfig    `yaml:"camera"`
	Detector detector.Config `yaml:"detector"`
	Live     LiveConfig      `yaml:"live"`
	Log      logging.Config  `yaml:"log"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Addr      string `yaml:"addr"`
	StaticDir string `yaml:"static_dir"`
	// RateLimit is the sustained number of predict requests per second;
	// zero disables limiting.
	RateLimit float64 `yaml:"rate_limit"`
	Burst     int     `yaml:"burst"`
}

// ModelConfig locates the served artifact and picks the classifier to train.
type ModelConfig struct {
	Dir  string `yaml:"dir"`
	Kind string `yaml:"kind"`
}

// FeaturesConfig selects the observation representation.
type FeaturesConfig struct {
	Mode        features.Mode `yaml:"mode"`
	ImageWidth  int           `yaml:"image_width"`
	ImageHeight int           `yaml:"image_height"`
}

// TrainingConfig holds optimisation and split settings.
type TrainingConfig struct {
	Epochs       int     `yaml:"epochs"`
	BatchSize    int     `yaml:"batch_size"`
	LearningRate float64 `yaml:"learning_rate"`
	TrainRatio   float64 `yaml:"train_ratio"`
	Seed         int64   `yaml:"seed"`
	Monitor      string  `yaml:"monitor"`
	Filters      int     `yaml:"filters"`
}

// StoreConfig locates the SQLite database.
type StoreConfig struct {
	Path string `yaml:"path"`
}

// CameraConfig configures the capture device.
type CameraConfig struct {
	DeviceID int `yaml:"device_id"`
	FPS      int `yaml:"fps"`
	// MotionThreshold is the percentage of changed pixels that counts as
	// motion; zero disables the motion gate.
	MotionThreshold float64 `yaml:"motion_threshold"`
}

// LiveConfig tunes the camera prediction loop.
type LiveConfig struct {
	// Smoothing is the weight kept on the running average when the newest
	// probabilities are folded in.
	Smoothing float64 `yaml:"smoothing"`
	// Threshold is the smoothed confidence needed to report a label.
	Threshold float64 `yaml:"threshold"`
	Tray      bool    `yaml:"tray"`
}

// DataDir is the default home of the database, models and web assets.
func DataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".senas"
	}
	return filepath.Join(home, ".senas")
}

// Default returns the built-in configuration.
func Default() Config {
	tc := trainer.DefaultConfig()
	return Config{
		Server: ServerConfig{
			Addr:      ":8080",
			RateLimit: 50,
			Burst:     100,
		},
		Model: ModelConfig{
			Dir:  filepath.Join(DataDir(), "model"),
			Kind: model.KindSoftmax,
		},
		Features: FeaturesConfig{
			Mode:        features.ModeLandmark,
			ImageWidth:  features.DefaultImageSize,
			ImageHeight: features.DefaultImageSize,
		},
		Training: TrainingConfig{
			Epochs:     tc.Epochs,
			BatchSize:  tc.BatchSize,
			TrainRatio: dataset.DefaultTrainRatio,
			Monitor:    tc.Monitor,
		},
		Augment:  augment.DefaultConfig(),
		Store:    StoreConfig{Path: filepath.Join(DataDir(), "senas.db")},
		Camera:   CameraConfig{FPS: 5, MotionThreshold: 1.0},
		Detector: detector.DefaultConfig(),
		Live:     LiveConfig{Smoothing: 0.6, Threshold: 0.7},
		Log:      logging.DefaultConfig(),
	}
}

// Load reads path over the defaults. Keys missing from the file keep their
// default values.
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, errors.Wrapf(err, "read config %s", path)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, errors.Wrapf(err, "parse config %s", path)
	}
	cfg.expandPaths()
	return cfg, cfg.Validate()
}

func (c *Config) expandPaths() {
	for _, p := range []*string{&c.Model.Dir, &c.Store.Path, &c.Server.StaticDir, &c.Detector.ScriptPath} {
		*p = expandHome(*p)
	}
}

func expandHome(p string) string {
	if p != "~" && !strings.HasPrefix(p, "~/") {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return p
	}
	return filepath.Join(home, strings.TrimPrefix(p, "~"))
}

// Validate checks ranges and enumerations.
func (c Config) Validate() error {
	if _, err := features.ParseMode(string(c.Features.Mode)); err != nil {
		return err
	}
	if c.Features.ImageWidth <= 0 || c.Features.ImageHeight <= 0 {
		return errors.Errorf("invalid image size %dx%d", c.Features.ImageWidth, c.Features.ImageHeight)
	}
	if c.Training.TrainRatio <= 0 || c.Training.TrainRatio >= 1 {
		return &dataset.InvalidRatioError{Ratio: c.Training.TrainRatio}
	}
	if c.Live.Smoothing <= 0 || c.Live.Smoothing > 1 {
		return errors.Errorf("live.smoothing must be in (0, 1], got %v", c.Live.Smoothing)
	}
	if c.Live.Threshold < 0 || c.Live.Threshold > 1 {
		return errors.Errorf("live.threshold must be in [0, 1], got %v", c.Live.Threshold)
	}
	if c.Server.RateLimit < 0 {
		return errors.Errorf("server.rate_limit must not be negative")
	}
	if c.Augment.NoiseStdDev < 0 {
		return errors.Errorf("augment.noise_stddev must not be negative")
	}
	return c.TrainerConfig().Validate()
}

// TrainerConfig assembles the trainer settings from the model, features and
// training sections.
func (c Config) TrainerConfig() trainer.Config {
	return trainer.Config{
		Kind:         c.Model.Kind,
		Mode:         c.Features.Mode,
		ImageWidth:   c.Features.ImageWidth,
		ImageHeight:  c.Features.ImageHeight,
		Epochs:       c.Training.Epochs,
		BatchSize:    c.Training.BatchSize,
		LearningRate: c.Training.LearningRate,
		Seed:         c.Training.Seed,
		Monitor:      c.Training.Monitor,
		Filters:      c.Training.Filters,
	}
}
