package config

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Environment variables consulted by Load.
const (
	envAPIKey = "OPENROUTER_API_KEY"
	envPort   = "PORT"
)

// Config represents the application configuration parsed from YAML.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Provider   ProviderConfig   `yaml:"provider"`
	Models     ModelsConfig     `yaml:"models"`
	Transcript TranscriptConfig `yaml:"transcript"`
	Storage    StorageConfig    `yaml:"storage"`
}

// ServerConfig defines listener configuration.
type ServerConfig struct {
	Port int `yaml:"port"`
}

// ProviderConfig captures authentication and routing info for the upstream
// chat-completion provider.
type ProviderConfig struct {
	BaseURL string  `yaml:"base_url"`
	APIKey  string  `yaml:"api_key"`
	Headers Headers `yaml:"headers"`
}

// Headers contains additional HTTP headers to send with every provider
// request, typically the site identification pair HTTP-Referer and X-Title.
type Headers map[string]string

// ModelsConfig defines the model allow-list and per-endpoint defaults.
type ModelsConfig struct {
	Allowed       []string         `yaml:"allowed"`
	Defaults      EndpointDefaults `yaml:"defaults"`
	VisionDefault string           `yaml:"vision_default"`
}

// EndpointDefaults names the default model for each text endpoint.
type EndpointDefaults struct {
	GenerateCode     string `yaml:"generate_code"`
	MathReasoning    string `yaml:"math_reasoning"`
	CodingTask       string `yaml:"coding_task"`
	YouTubeSummarize string `yaml:"youtube_summarize"`
	Chat             string `yaml:"chat"`
	Explainer        string `yaml:"explainer"`
}

// TranscriptConfig locates the external transcript-fetch service.
type TranscriptConfig struct {
	BaseURL string `yaml:"base_url"`
}

// StorageConfig names the directories holding transient files.
type StorageConfig struct {
	ArtifactsDir string `yaml:"artifacts_dir"`
	UploadsDir   string `yaml:"uploads_dir"`
}

var defaultAllowedModels = []string{
	"deepseek/deepseek-chat",
	"openai/gpt-4o-mini",
	"google/gemini-flash-1.5",
	"meta-llama/llama-3.1-70b-instruct",
	"qwen/qwen-2.5-72b-instruct",
}

// Default returns the configuration used when a section is left empty.
func Default() Config {
	return Config{
		Server: ServerConfig{Port: 8080},
		Provider: ProviderConfig{
			BaseURL: "https://openrouter.ai/api/v1",
		},
		Models: ModelsConfig{
			Allowed: slices.Clone(defaultAllowedModels),
			Defaults: EndpointDefaults{
				GenerateCode:     "deepseek/deepseek-chat",
				MathReasoning:    "openai/gpt-4o-mini",
				CodingTask:       "deepseek/deepseek-chat",
				YouTubeSummarize: "google/gemini-flash-1.5",
				Chat:             "meta-llama/llama-3.1-70b-instruct",
				Explainer:        "google/gemini-flash-1.5",
			},
			VisionDefault: "meta-llama/llama-3.2-11b-vision-instruct",
		},
		Transcript: TranscriptConfig{BaseURL: "http://127.0.0.1:8091"},
		Storage: StorageConfig{
			ArtifactsDir: "data/artifacts",
			UploadsDir:   "data/uploads",
		},
	}
}

// Load reads YAML configuration from disk, applies environment overrides and
// validates the result.
func Load(path string) (Config, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return Config{}, fmt.Errorf("resolve config path: %w", err)
	}

	data, err := os.ReadFile(absPath)
	if err != nil {
		return Config{}, fmt.Errorf("read config file %q: %w", absPath, err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config file %q: %w", absPath, err)
	}

	applyEnvOverrides(&cfg)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if strings.TrimSpace(cfg.Provider.APIKey) == "" {
		cfg.Provider.APIKey = os.Getenv(envAPIKey)
	}

	if raw := os.Getenv(envPort); raw != "" {
		if port, err := strconv.Atoi(raw); err == nil && port > 0 && port <= 65535 {
			cfg.Server.Port = port
		}
	}
}

// Validate performs strict sanity checks on the configuration.
func (c Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be a valid TCP port, got %d", c.Server.Port)
	}

	if strings.TrimSpace(c.Provider.BaseURL) == "" {
		return fmt.Errorf("provider.base_url must be provided")
	}
	if strings.TrimSpace(c.Provider.APIKey) == "" {
		return fmt.Errorf("provider.api_key must be provided (or set %s)", envAPIKey)
	}
	for headerKey := range c.Provider.Headers {
		if !isCanonicalHTTPHeader(headerKey) {
			return fmt.Errorf("provider header %q is not a valid canonical HTTP header", headerKey)
		}
	}

	if len(c.Models.Allowed) == 0 {
		return fmt.Errorf("models.allowed must list at least one model")
	}
	for _, id := range c.Models.Allowed {
		if strings.TrimSpace(id) == "" {
			return fmt.Errorf("models.allowed must not contain empty ids")
		}
	}

	defaults := map[string]string{
		"generate_code":     c.Models.Defaults.GenerateCode,
		"math_reasoning":    c.Models.Defaults.MathReasoning,
		"coding_task":       c.Models.Defaults.CodingTask,
		"youtube_summarize": c.Models.Defaults.YouTubeSummarize,
		"chat":              c.Models.Defaults.Chat,
		"explainer":         c.Models.Defaults.Explainer,
	}
	for endpoint, id := range defaults {
		if strings.TrimSpace(id) == "" {
			return fmt.Errorf("models.defaults.%s must be provided", endpoint)
		}
		if !slices.Contains(c.Models.Allowed, id) {
			return fmt.Errorf("models.defaults.%s references %q which is not in models.allowed", endpoint, id)
		}
	}

	if strings.TrimSpace(c.Models.VisionDefault) == "" {
		return fmt.Errorf("models.vision_default must be provided")
	}

	if strings.TrimSpace(c.Transcript.BaseURL) == "" {
		return fmt.Errorf("transcript.base_url must be provided")
	}

	if strings.TrimSpace(c.Storage.ArtifactsDir) == "" {
		return fmt.Errorf("storage.artifacts_dir must be provided")
	}
	if strings.TrimSpace(c.Storage.UploadsDir) == "" {
		return fmt.Errorf("storage.uploads_dir must be provided")
	}

	return nil
}

func isCanonicalHTTPHeader(header string) bool {
	if header == "" {
		return false
	}

	for _, r := range header {
		if !(r == '-' || (r >= 'A' && r <= 'Z') || (r >= 'a' && r <= 'z')) {
			return false
		}
	}
	return true
}
