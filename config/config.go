package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/joho/godotenv"
	"github.com/pelletier/go-toml/v2"
)

type Config struct {
	Host     string `toml:"host" mapstructure:"host"`
	Port     string `toml:"port" mapstructure:"port"`
	LogLevel string `toml:"log_level" mapstructure:"log_level"`
	Libonnx  string `toml:"libonnx" mapstructure:"libonnx"`

	ModelDir    string `toml:"model_dir" mapstructure:"model_dir"`
	Backend     string `toml:"backend" mapstructure:"backend"`
	GraphFile   string `toml:"graph_file" mapstructure:"graph_file"`
	WeightsFile string `toml:"weights_file" mapstructure:"weights_file"`
	MaxEdge     int    `toml:"max_edge" mapstructure:"max_edge"`
	// MaxPixels bounds width*height of accepted uploads.
	MaxPixels int `toml:"max_pixels" mapstructure:"max_pixels"`

	OpenAIKey         string `toml:"openai_api_key" mapstructure:"openai_api_key"`
	OpenAIModel       string `toml:"openai_model" mapstructure:"openai_model"`
	OpenAIBaseURL     string `toml:"openai_base_url" mapstructure:"openai_base_url"`
	DialogueMaxTokens int    `toml:"dialogue_max_tokens" mapstructure:"dialogue_max_tokens"`
	// DialogueTimeout is in seconds; 0 waits indefinitely.
	DialogueTimeout int `toml:"dialogue_timeout" mapstructure:"dialogue_timeout"`

	CORSOrigins       []string `toml:"cors_origins" mapstructure:"cors_origins"`
	StoryHistoryLimit int      `toml:"story_history_limit" mapstructure:"story_history_limit"`
}

func Default() Config {
	return Config{
		Host:              "0.0.0.0",
		Port:              "5000",
		LogLevel:          "info",
		ModelDir:          ".",
		Backend:           "caffe",
		MaxEdge:           256,
		MaxPixels:         40_000_000,
		OpenAIModel:       "gpt-4o",
		DialogueMaxTokens: 50,
		CORSOrigins:       []string{"http://localhost:3000", "http://localhost:3001"},
		StoryHistoryLimit: 100,
	}
}

var (
	cfg      Config
	loadErr  error
	loadOnce sync.Once
)

// DefaultFile is read when Init has not been called with another path.
const DefaultFile = "config.toml"

// Init loads the process configuration from path, after any .env file in
// the working directory. Only the first call loads; later calls return its
// result.
func Init(path string) error {
	loadOnce.Do(func() {
		if err := loadDotenv(".env"); err != nil {
			slog.Warn("Failed to load .env", slog.String("error", err.Error()))
		}
		cfg, loadErr = Load(path)
	})
	return loadErr
}

// loadDotenv sets variables from path without overriding the environment.
// A missing file is not an error.
func loadDotenv(path string) error {
	if err := godotenv.Load(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

func C() Config {
	if err := Init(DefaultFile); err != nil {
		panic(err)
	}
	return cfg
}

// Load reads path over the defaults and applies environment overrides. A
// missing file leaves the defaults in place.
func Load(path string) (Config, error) {
	c := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return c, fmt.Errorf("failed to read config: %w", err)
		default:
			if err := toml.Unmarshal(data, &c); err != nil {
				return c, fmt.Errorf("failed to parse config %s: %w", path, err)
			}
		}
	}
	c.applyEnv()
	return c, nil
}

func (c *Config) applyEnv() {
	for env, field := range map[string]*string{
		"PORT":            &c.Port,
		"OPENAI_API_KEY":  &c.OpenAIKey,
		"OPENAI_BASE_URL": &c.OpenAIBaseURL,
		"OPENAI_MODEL":    &c.OpenAIModel,
		"LIBONNX":         &c.Libonnx,
	} {
		if v := os.Getenv(env); v != "" {
			*field = v
		}
	}
}

// ModelPaths returns the graph and weights files for the configured backend.
func (c Config) ModelPaths() (string, string) {
	graph, weights := c.GraphFile, c.WeightsFile
	if c.Backend == "onnx" {
		graph, weights = or(graph, "hed.onnx"), or(weights, "hed.onnx.data")
	} else {
		graph, weights = or(graph, "deploy.prototxt"), or(weights, "hed_pretrained_bsds.caffemodel")
	}
	return filepath.Join(c.ModelDir, graph), filepath.Join(c.ModelDir, weights)
}

func or(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

func (c Config) Timeout() time.Duration {
	return time.Duration(c.DialogueTimeout) * time.Second
}

func (c Config) Validate() error {
	var errs []error
	switch c.Backend {
	case "caffe", "onnx":
	default:
		errs = append(errs, fmt.Errorf("unknown backend %q", c.Backend))
	}
	if c.MaxEdge <= 0 {
		errs = append(errs, fmt.Errorf("max_edge must be positive, got %d", c.MaxEdge))
	}
	if c.MaxPixels <= 0 {
		errs = append(errs, fmt.Errorf("max_pixels must be positive, got %d", c.MaxPixels))
	}
	if c.DialogueTimeout < 0 {
		errs = append(errs, fmt.Errorf("dialogue_timeout must not be negative"))
	}
	if c.OpenAIKey == "" {
		errs = append(errs, errors.New("OPENAI_API_KEY is not set"))
	}
	return errors.Join(errs...)
}
