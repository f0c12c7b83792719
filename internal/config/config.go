// Package config defines recorder configuration structures and loading hooks.
//
// Conventions:
// - Provide New() to build a Config with defaults.
// - The loaded Config is treated as immutable and threaded through every component.
// - External errors are wrapped with this package's sentinel errors.
package config

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/okian/benchrec/internal/domain/model"
)

// Config contains process configuration.
type Config struct {
	// LogLevel controls verbosity: debug, info, warn, error.
	LogLevel string `koanf:"log_level"`

	// LogJSON switches log records to JSON.
	LogJSON bool `koanf:"log_json"`

	// MetricsAddr serves /metrics and /status while a batch runs. Empty disables it.
	MetricsAddr string `koanf:"metrics_addr"`

	// MetricsTextfile receives a Prometheus textfile dump at the end of a batch. Empty disables it.
	MetricsTextfile string `koanf:"metrics_textfile"`

	// DefaultController is the controller name referenced by the unmodified world file.
	DefaultController string `koanf:"default_controller"`

	// CompetitorsFile holds one id:owner/repo[:result...] line per competitor.
	CompetitorsFile string `koanf:"competitors_file"`

	// IndividualEvaluation names a single competitor line to re-evaluate. Empty means a full batch.
	IndividualEvaluation string `koanf:"individual_evaluation"`

	// FetchToken authenticates controller source fetches.
	FetchToken string `koanf:"fetch_token"`

	// FetchURLTemplate is formatted with owner, repository and default controller.
	FetchURLTemplate string `koanf:"fetch_url_template"`

	// ControllersDir, StorageDir, WorkDir and AnimationDir are relative to the benchmark root.
	ControllersDir string `koanf:"controllers_dir"`
	StorageDir     string `koanf:"storage_dir"`
	WorkDir        string `koanf:"work_dir"`
	AnimationDir   string `koanf:"animation_dir"`

	// SupervisorFile and RecorderFile are the configuration modules patched for each run.
	SupervisorFile string `koanf:"supervisor_file"`
	RecorderFile   string `koanf:"recorder_file"`

	// TranscriptDir keeps a compressed copy of every simulator stream. Empty disables it.
	TranscriptDir string `koanf:"transcript_dir"`

	// WatchdogTimeout bounds a run that never reaches a terminal state. Zero disables it.
	WatchdogTimeout time.Duration `koanf:"watchdog_timeout"`

	// DrainTimeout bounds how long output is consumed after completion or timeout.
	DrainTimeout time.Duration `koanf:"drain_timeout"`

	// StrictPatches fails a run when a replacement's original text is missing.
	StrictPatches bool `koanf:"strict_patches"`

	World      World      `koanf:"world"`
	Simulator  Simulator  `koanf:"simulator"`
	Controller Controller `koanf:"controller"`
}

// World describes the benchmark's world file and metric.
type World struct {
	File        string  `koanf:"file"`
	MaxDuration float64 `koanf:"max_duration"`
	Metric      string  `koanf:"metric"`
}

// Simulator configures the simulator image and its container.
type Simulator struct {
	Image         string `koanf:"image"`
	Dockerfile    string `koanf:"dockerfile"`
	Context       string `koanf:"context"`
	HostPort      string `koanf:"host_port"`
	ContainerPort string `koanf:"container_port"`
	MountTarget   string `koanf:"mount_target"`
}

// Controller configures the competitor controller image. The build context is
// the competitor's controller directory, so Dockerfile is relative to it.
type Controller struct {
	Image      string `koanf:"image"`
	Dockerfile string `koanf:"dockerfile"`
}

// New creates a Config populated with defaults.
func New() *Config {
	return &Config{
		LogLevel:          "info",
		DefaultController: "edit_me",
		CompetitorsFile:   "competitors.txt",
		FetchURLTemplate:  "https://github.com/{owner}/{repo}/trunk/controllers/{controller}",
		ControllersDir:    "controllers",
		StorageDir:        "storage",
		WorkDir:           "tmp",
		AnimationDir:      "tmp/animation",
		SupervisorFile:    "controllers/supervisor/supervisor.py",
		RecorderFile:      "controllers/supervisor/recorder/recorder.py",
		DrainTimeout:      60 * time.Second,
		World: World{
			Metric: string(model.MetricTimeDuration),
		},
		Simulator: Simulator{
			Image:         "animator-webots",
			Dockerfile:    "animator_Dockerfile",
			Context:       ".",
			HostPort:      "3005",
			ContainerPort: "1234",
			MountTarget:   "/usr/local/tmp/animation",
		},
		Controller: Controller{
			Image:      "controller-docker",
			Dockerfile: "controller_Dockerfile",
		},
	}
}

// WorldConfig converts the world section into the domain value.
func (c *Config) WorldConfig() (model.WorldConfig, error) {
	metric, err := model.ParseMetricKind(c.World.Metric)
	if err != nil {
		return model.WorldConfig{}, err
	}
	return model.WorldConfig{
		File:        c.World.File,
		MaxDuration: c.World.MaxDuration,
		Metric:      metric,
	}, nil
}

// Validate checks the fields every run depends on.
func (c *Config) Validate() error {
	var missing []string
	for name, v := range map[string]string{
		"world.file":         c.World.File,
		"default_controller": c.DefaultController,
		"competitors_file":   c.CompetitorsFile,
		"controllers_dir":    c.ControllersDir,
		"storage_dir":        c.StorageDir,
		"animation_dir":      c.AnimationDir,
		"simulator.image":    c.Simulator.Image,
		"controller.image":   c.Controller.Image,
	} {
		if strings.TrimSpace(v) == "" {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return fmt.Errorf("%w: missing %s", ErrInvalidConfig, strings.Join(missing, ", "))
	}
	if _, err := model.ParseMetricKind(c.World.Metric); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	if c.World.MaxDuration < 0 {
		return fmt.Errorf("%w: world.max_duration must not be negative", ErrInvalidConfig)
	}
	if c.WatchdogTimeout < 0 || c.DrainTimeout < 0 {
		return fmt.Errorf("%w: timeouts must not be negative", ErrInvalidConfig)
	}
	return nil
}

// Individual reports whether a single competitor is being re-evaluated.
func (c *Config) Individual() bool {
	return strings.TrimSpace(c.IndividualEvaluation) != ""
}
