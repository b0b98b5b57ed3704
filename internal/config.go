package internal

import (
	"fmt"
	"log/slog"
	"path/filepath"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/thomas-villani/nb-sub001/internal/chunker"
	"github.com/thomas-villani/nb-sub001/internal/embed"
	"github.com/thomas-villani/nb-sub001/internal/models"
	"github.com/thomas-villani/nb-sub001/internal/search"
)

// Auth modes.
const (
	AuthModeDisabled = "disabled"
	AuthModeToken    = "token"
)

// Config represents the application configuration.
type Config struct {
	App        ApplicationConfig `yaml:"app"`
	Notes      NotesConfig       `yaml:"notes"`
	SQLite     SQLiteConfig      `yaml:"sqlite"`
	Todo       TodoConfig        `yaml:"todo"`
	Search     SearchConfig      `yaml:"search"`
	Embeddings EmbeddingsConfig  `yaml:"embeddings"`
	Linked     []LinkedConfig    `yaml:"linked"`
	Auth       AuthConfig        `yaml:"auth"`
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if err := c.App.Validate(); err != nil {
		return err
	}
	if err := c.Notes.Validate(); err != nil {
		return err
	}
	if err := c.Search.Validate(); err != nil {
		return err
	}
	if err := c.Embeddings.Validate(); err != nil {
		return err
	}
	for i := range c.Linked {
		if err := c.Linked[i].Validate(); err != nil {
			return fmt.Errorf("linked[%d]: %w", i, err)
		}
	}
	return c.Auth.Validate()
}

// IndexPath returns the SQLite path, defaulting to <root>/<reserved_dir>/index.db.
func (c *Config) IndexPath() string {
	if c.SQLite.Path != "" {
		return c.SQLite.Path
	}
	return filepath.Join(c.Notes.Root, c.Notes.ReservedDir, "index.db")
}

// LinkedPaths converts the linked section to domain values.
func (c *Config) LinkedPaths() []models.LinkedPath {
	out := make([]models.LinkedPath, 0, len(c.Linked))
	for _, l := range c.Linked {
		out = append(out, models.LinkedPath(l))
	}
	return out
}

// ApplicationConfig holds application-level configuration.
type ApplicationConfig struct {
	LogLevel slog.Level `yaml:"log_level"`
	HTTP     HTTPConfig `yaml:"http"`
}

// Validate validates the application configuration.
func (c *ApplicationConfig) Validate() error {
	return c.HTTP.Validate()
}

// HTTPConfig holds HTTP server configuration.
type HTTPConfig struct {
	Port int `yaml:"port"`
}

// Address returns HTTP server address.
func (c *HTTPConfig) Address() string {
	return fmt.Sprintf(":%d", c.Port)
}

// Validate validates the HTTP configuration.
func (c *HTTPConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Port, validation.Required, validation.Min(1), validation.Max(65535)),
	)
}

// NotesConfig describes the notes tree.
type NotesConfig struct {
	Root        string   `yaml:"root"`
	ReservedDir string   `yaml:"reserved_dir"`
	Ignore      []string `yaml:"ignore"`
	Workers     int      `yaml:"workers"`
}

// Validate validates the notes configuration.
func (c *NotesConfig) Validate() error {
	if c.ReservedDir == "" {
		c.ReservedDir = ".nb"
	}
	return validation.ValidateStruct(c,
		validation.Field(&c.Root, validation.Required),
		validation.Field(&c.Workers, validation.Min(0), validation.Max(64)),
	)
}

// SQLiteConfig holds SQLite database configuration. An empty path places the
// index inside the reserved directory.
type SQLiteConfig struct {
	Path string `yaml:"path"`
}

// TodoConfig holds todo behaviour switches.
type TodoConfig struct {
	AutoCompleteChildren bool `yaml:"auto_complete_children"`
	IncludeCompleted     bool `yaml:"include_completed"`
}

// SearchConfig holds ranking parameters.
type SearchConfig struct {
	Mode             string  `yaml:"mode"`
	VectorWeight     float64 `yaml:"vector_weight"`
	RecencyDecayDays float64 `yaml:"recency_decay_days"`
	RecencyWeight    float64 `yaml:"recency_weight"`
	ScoreThreshold   float64 `yaml:"score_threshold"`
	Limit            int     `yaml:"limit"`
}

// Validate validates the search configuration.
func (c *SearchConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Mode, validation.In(string(search.Hybrid), string(search.Keyword), string(search.Vector))),
		validation.Field(&c.VectorWeight, validation.Min(0.0), validation.Max(1.0)),
		validation.Field(&c.RecencyDecayDays, validation.Min(0.0)),
		validation.Field(&c.RecencyWeight, validation.Min(0.0), validation.Max(1.0)),
		validation.Field(&c.ScoreThreshold, validation.Min(0.0), validation.Max(1.0)),
		validation.Field(&c.Limit, validation.Min(0)),
	)
}

// Ranker converts the section to ranker settings.
func (c *SearchConfig) Ranker() search.Config {
	return search.Config{
		Mode:             search.Mode(c.Mode),
		VectorWeight:     c.VectorWeight,
		RecencyDecayDays: c.RecencyDecayDays,
		RecencyWeight:    c.RecencyWeight,
		ScoreThreshold:   c.ScoreThreshold,
		Limit:            c.Limit,
	}
}

// EmbeddingsConfig selects the embedding backend and chunking.
type EmbeddingsConfig struct {
	Provider       string `yaml:"provider"`
	Model          string `yaml:"model"`
	BaseURL        string `yaml:"base_url"`
	APIKey         string `yaml:"api_key"`
	Dimensions     int    `yaml:"dimensions"`
	ChunkStrategy  string `yaml:"chunk_strategy"`
	ChunkMaxTokens int    `yaml:"chunk_max_tokens"`
}

// Validate validates the embeddings configuration.
func (c *EmbeddingsConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Provider, validation.In("openai")),
		validation.Field(&c.Model, validation.When(c.Provider != "", validation.Required)),
		validation.Field(&c.Dimensions, validation.Min(0)),
		validation.Field(&c.ChunkStrategy, validation.In(chunker.Paragraph, chunker.Sentence, chunker.Section, chunker.Tokens)),
		validation.Field(&c.ChunkMaxTokens, validation.Min(0)),
	)
}

// Embed converts the section to provider settings.
func (c *EmbeddingsConfig) Embed() embed.Config {
	return embed.Config{
		Provider:   c.Provider,
		Model:      c.Model,
		BaseURL:    c.BaseURL,
		APIKey:     c.APIKey,
		Dimensions: c.Dimensions,
	}
}

// LinkedConfig registers an external file or directory.
type LinkedConfig struct {
	Path        string `yaml:"path"`
	Alias       string `yaml:"alias"`
	Recursive   bool   `yaml:"recursive"`
	Sync        bool   `yaml:"sync"`
	TodoExclude bool   `yaml:"todo_exclude"`
}

// Validate validates one linked entry.
func (c *LinkedConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Path, validation.Required),
	)
}

// AuthConfig holds authentication configuration.
//
// Mode controls how authentication is enforced:
//   - "disabled" (default): no authentication required, suitable for local use.
//   - "token": Bearer token authentication; Token must be non-empty.
type AuthConfig struct {
	Mode  string `yaml:"mode"`
	Token string `yaml:"token"`
}

// Validate validates the auth configuration.
func (c *AuthConfig) Validate() error {
	if c.Mode == "" {
		c.Mode = AuthModeDisabled
	}
	if err := validation.ValidateStruct(c,
		validation.Field(&c.Mode, validation.Required, validation.In(AuthModeDisabled, AuthModeToken)),
	); err != nil {
		return err
	}
	if c.Mode == AuthModeToken && c.Token == "" {
		return fmt.Errorf("auth: mode is %q but token is empty", AuthModeToken)
	}
	return nil
}

// AuthEnabled returns true when authentication is active.
func (c *AuthConfig) AuthEnabled() bool {
	return c.Mode == AuthModeToken
}

// NewDefaultConfig returns a new Config with sensible default values.
func NewDefaultConfig() *Config {
	sc := search.DefaultConfig()
	return &Config{
		App: ApplicationConfig{
			LogLevel: slog.LevelInfo,
			HTTP: HTTPConfig{
				Port: 8080,
			},
		},
		Notes: NotesConfig{
			Root:        "./notes",
			ReservedDir: ".nb",
			Workers:     4,
		},
		Todo: TodoConfig{
			AutoCompleteChildren: true,
		},
		Search: SearchConfig{
			Mode:             string(sc.Mode),
			VectorWeight:     sc.VectorWeight,
			RecencyDecayDays: sc.RecencyDecayDays,
			RecencyWeight:    sc.RecencyWeight,
			ScoreThreshold:   sc.ScoreThreshold,
			Limit:            sc.Limit,
		},
		Embeddings: EmbeddingsConfig{
			ChunkStrategy: chunker.Paragraph,
		},
		Auth: AuthConfig{
			Mode: AuthModeDisabled,
		},
	}
}
