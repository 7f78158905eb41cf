package config

import (
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"regexp"
	"runtime"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Backend names.
const (
	BackendChromem = "chromem"
	BackendQdrant  = "qdrant"
	BackendRedis   = "redis"
	BackendSQLite  = "sqlite"
)

// Config holds the pagedex configuration.
type Config struct {
	HTTP      HTTPConfig      `yaml:"http"`
	Auth      AuthConfig      `yaml:"auth"`
	Documents DocumentsConfig `yaml:"documents"`
	Database  DatabaseConfig  `yaml:"database"`
	Vector    VectorConfig    `yaml:"vector"`
	Keyword   KeywordConfig   `yaml:"keyword"`
	Catalog   CatalogConfig   `yaml:"catalog"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	OCR       OCRConfig       `yaml:"ocr"`
	Extract   ExtractConfig   `yaml:"extract"`
	Ingest    IngestConfig    `yaml:"ingest"`
	Watcher   WatcherConfig   `yaml:"watcher"`
	Jobs      JobsConfig      `yaml:"jobs"`
	Search    SearchConfig    `yaml:"search"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level string `yaml:"level"` // debug, info, warn, error (default: determined by env)
}

// AuthConfig maps bearer API keys to principals. With no keys every request
// runs as the anonymous principal.
type AuthConfig struct {
	Keys      []APIKeyConfig  `yaml:"keys"`
	Anonymous PrincipalConfig `yaml:"anonymous"`
}

// APIKeyConfig binds one key to a principal. A delegate key belongs to a
// trusted web layer that names the end caller in request headers.
type APIKeyConfig struct {
	Key          string `yaml:"key"`
	Name         string `yaml:"name"`
	Division     string `yaml:"division"`
	Unrestricted bool   `yaml:"unrestricted"`
	Delegate     bool   `yaml:"delegate"`
}

// PrincipalConfig describes a caller.
type PrincipalConfig struct {
	Name         string `yaml:"name"`
	Division     string `yaml:"division"`
	Unrestricted bool   `yaml:"unrestricted"`
}

// HTTPConfig holds HTTP server settings.
type HTTPConfig struct {
	Port            int `yaml:"port"`
	ReadTimeoutSec  int `yaml:"read_timeout_sec"`
	WriteTimeoutSec int `yaml:"write_timeout_sec"`
	ShutdownSec     int `yaml:"shutdown_timeout_sec"`
}

// DocumentsConfig describes the watched tree.
type DocumentsConfig struct {
	Root      string   `yaml:"root"`
	Divisions []string `yaml:"divisions"` // known division folder codes; empty uses the built-in list
}

// DatabaseConfig holds Redis/Valkey connection settings. Only required when a
// backend or the embedding cache uses it.
type DatabaseConfig struct {
	Driver           string   `yaml:"driver"` // valkey, redis (default: valkey)
	Addrs            []string `yaml:"addrs"`
	Password         string   `yaml:"password"`
	ReadinessTimeout int      `yaml:"readiness_timeout_sec"`
}

// VectorConfig selects and tunes the vector backend.
type VectorConfig struct {
	Backend string        `yaml:"backend"` // chromem, qdrant, redis
	Chromem ChromemConfig `yaml:"chromem"`
	Qdrant  QdrantConfig  `yaml:"qdrant"`
	HNSW    HNSWConfig    `yaml:"hnsw"`
}

// ChromemConfig holds the embedded vector store settings.
type ChromemConfig struct {
	Path     string `yaml:"path"`
	Compress bool   `yaml:"compress"`
}

// QdrantConfig holds the Qdrant gRPC settings.
type QdrantConfig struct {
	Host       string `yaml:"host"`
	Port       int    `yaml:"port"`
	APIKey     string `yaml:"api_key"`
	UseTLS     bool   `yaml:"use_tls"`
	Collection string `yaml:"collection"`
}

// HNSWConfig tunes the Redis vector field.
type HNSWConfig struct {
	M           int `yaml:"m"`
	EFConstruct int `yaml:"ef_construction"`
}

// KeywordConfig selects the keyword backend.
type KeywordConfig struct {
	Backend string `yaml:"backend"` // sqlite, redis
}

// CatalogConfig locates the SQLite file holding the catalog, jobs, the
// index stamp and (without Redis) the embedding cache and keyword index.
type CatalogConfig struct {
	Path string `yaml:"path"`
}

// EmbeddingConfig holds the embedding provider settings.
type EmbeddingConfig struct {
	Provider      string `yaml:"provider"`
	APIKey        string `yaml:"api_key"`
	BaseURL       string `yaml:"base_url"`
	Model         string `yaml:"model"`
	Dimensions    int    `yaml:"dimensions"`
	SendDimension bool   `yaml:"send_dimensions"` // only for models with shortened output
	BatchSize     int    `yaml:"batch_size"`
	TimeoutSec    int    `yaml:"timeout_sec"`
	MaxRetries    int    `yaml:"max_retries"`
	CacheTTLHours int    `yaml:"cache_ttl_hours"` // 0 disables the cache
}

// MinPageCharBudget is the smallest accepted synthetic page size in bytes.
const MinPageCharBudget = 64

// OCRConfig holds scanned page settings.
type OCRConfig struct {
	Enabled    bool     `yaml:"enabled"`
	Languages  []string `yaml:"languages"`
	DPI        int      `yaml:"dpi"`
	TimeoutSec int      `yaml:"timeout_sec"`
	Pdftoppm   string   `yaml:"pdftoppm"`
	// MinConfidence is the mean word confidence in [0,1] below which an
	// OCR page carries a warning.
	MinConfidence float64 `yaml:"min_confidence"`
}

// ExtractConfig tunes text extraction.
type ExtractConfig struct {
	MinTextChars   int     `yaml:"min_text_chars"`
	MinDensity     float64 `yaml:"min_density"`
	PageCharBudget int     `yaml:"page_char_budget"`
	MaxFileSizeMB  int     `yaml:"max_file_size_mb"`
}

// IngestConfig sizes the worker pool.
type IngestConfig struct {
	Workers   int `yaml:"workers"`
	QueueSize int `yaml:"queue_size"`
}

// WatcherConfig tunes the file watcher.
type WatcherConfig struct {
	Enabled     bool `yaml:"enabled"`
	SettleMS    int  `yaml:"settle_ms"`
	InitialScan bool `yaml:"initial_scan"`
}

// JobsConfig tunes job retention.
type JobsConfig struct {
	Retention     time.Duration `yaml:"retention"`
	PruneInterval time.Duration `yaml:"prune_interval"`
	MaxDuration   time.Duration `yaml:"max_duration"`
}

// SearchConfig holds the fusion parameters.
type SearchConfig struct {
	KeywordWeight  float64 `yaml:"keyword_weight"`
	SemanticWeight float64 `yaml:"semantic_weight"`
	MinScore       float64 `yaml:"min_score"`
	PhraseBoost    bool    `yaml:"phrase_boost"`
}

// Load reads configuration from a YAML file by environment name (local, docker, prod).
func Load(env string) (Config, error) {
	return LoadFile(findConfigPath(env))
}

// LoadFile reads configuration from path.
func LoadFile(path string) (Config, error) {
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config %s: %w", path, err)
	}
	return Parse(data)
}

// Parse expands environment variables in data, decodes it, applies defaults
// and validates the result.
func Parse(data []byte) (Config, error) {
	cfg, err := Decode(data)
	if err != nil {
		return Config{}, err
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// Decode is Parse without validation, for callers that override fields
// before calling Validate themselves.
func Decode(data []byte) (Config, error) {
	// Substitute env variables of the form ${VAR}
	data = expandEnvVars(data)

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.ApplyDefaults()
	return cfg, nil
}

// ReadFile decodes path without validating it.
func ReadFile(path string) (Config, error) {
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config %s: %w", path, err)
	}
	return Decode(data)
}

// Path returns the config file Load would read for env.
func Path(env string) string { return findConfigPath(env) }

// MustLoad loads configuration or panics.
func MustLoad(env string) Config {
	cfg, err := Load(env)
	if err != nil {
		panic(err)
	}
	return cfg
}

// GetEnv returns the current environment from the ENV variable, defaulting to "local".
func GetEnv() string {
	if env := os.Getenv("ENV"); env != "" {
		return env
	}
	return "local"
}

// ApplyDefaults fills empty fields with default values.
func (c *Config) ApplyDefaults() {
	if c.HTTP.ReadTimeoutSec <= 0 {
		c.HTTP.ReadTimeoutSec = 10
	}
	if c.HTTP.WriteTimeoutSec <= 0 {
		c.HTTP.WriteTimeoutSec = 30
	}
	if c.HTTP.ShutdownSec <= 0 {
		c.HTTP.ShutdownSec = 30
	}
	if c.Auth.Anonymous.Name == "" {
		c.Auth.Anonymous.Name = "anonymous"
	}
	if c.Database.Driver == "" {
		c.Database.Driver = "valkey"
	}
	if c.Database.ReadinessTimeout <= 0 {
		c.Database.ReadinessTimeout = 10
	}
	if c.Vector.Backend == "" {
		c.Vector.Backend = BackendChromem
	}
	if c.Vector.Qdrant.Port <= 0 {
		c.Vector.Qdrant.Port = 6334
	}
	if c.Vector.HNSW.M <= 0 {
		c.Vector.HNSW.M = 16
	}
	if c.Vector.HNSW.EFConstruct <= 0 {
		c.Vector.HNSW.EFConstruct = 200
	}
	if c.Keyword.Backend == "" {
		c.Keyword.Backend = BackendSQLite
	}
	if c.Catalog.Path == "" {
		c.Catalog.Path = filepath.Join("data", "pagedex.db")
	}
	if c.Embedding.Provider == "" {
		c.Embedding.Provider = "local"
	}
	if c.Embedding.Model == "" {
		c.Embedding.Model = "paraphrase-multilingual-MiniLM-L12-v2"
	}
	if c.Embedding.Dimensions <= 0 {
		c.Embedding.Dimensions = 384
	}
	if c.Embedding.BatchSize <= 0 {
		c.Embedding.BatchSize = 32
	}
	if c.Embedding.TimeoutSec <= 0 {
		c.Embedding.TimeoutSec = 30
	}
	if c.Embedding.MaxRetries <= 0 {
		c.Embedding.MaxRetries = 3
	}
	if len(c.OCR.Languages) == 0 {
		c.OCR.Languages = []string{"fra", "eng"}
	}
	if c.OCR.DPI <= 0 {
		c.OCR.DPI = 300
	}
	if c.OCR.TimeoutSec <= 0 {
		c.OCR.TimeoutSec = 120
	}
	if c.OCR.MinConfidence <= 0 {
		c.OCR.MinConfidence = 0.6
	}
	if c.Extract.MinTextChars <= 0 {
		c.Extract.MinTextChars = 50
	}
	if c.Extract.PageCharBudget <= 0 {
		c.Extract.PageCharBudget = 3000
	}
	if c.Extract.MaxFileSizeMB <= 0 {
		c.Extract.MaxFileSizeMB = 200
	}
	if c.Ingest.Workers <= 0 {
		c.Ingest.Workers = 4
	}
	if c.Ingest.QueueSize <= 0 {
		c.Ingest.QueueSize = 256
	}
	if c.Watcher.SettleMS <= 0 {
		c.Watcher.SettleMS = 2000
	}
	if c.Jobs.Retention <= 0 {
		c.Jobs.Retention = 24 * time.Hour
	}
	if c.Jobs.PruneInterval <= 0 {
		c.Jobs.PruneInterval = 5 * time.Minute
	}
	if c.Jobs.MaxDuration <= 0 {
		c.Jobs.MaxDuration = 30 * time.Minute
	}
	if c.Search.KeywordWeight == 0 && c.Search.SemanticWeight == 0 {
		c.Search.KeywordWeight = 0.4
		c.Search.SemanticWeight = 0.6
	}
	if c.Search.MinScore == 0 {
		c.Search.MinScore = 0.3
	}
}

// Validate checks the configuration for correctness.
func (c *Config) Validate() error {
	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		return fmt.Errorf("http.port must be between 1 and 65535, got %d", c.HTTP.Port)
	}
	if c.Documents.Root == "" {
		return errors.New("documents.root is required")
	}
	if !filepath.IsAbs(c.Documents.Root) {
		return fmt.Errorf("documents.root must be an absolute path, got %q", c.Documents.Root)
	}

	switch c.Vector.Backend {
	case BackendChromem, BackendRedis:
	case BackendQdrant:
		if c.Vector.Qdrant.Host == "" {
			return errors.New("vector.qdrant.host is required for the qdrant backend")
		}
	default:
		return fmt.Errorf("vector.backend must be chromem, qdrant or redis, got %q", c.Vector.Backend)
	}
	switch c.Keyword.Backend {
	case BackendSQLite, BackendRedis:
	default:
		return fmt.Errorf("keyword.backend must be sqlite or redis, got %q", c.Keyword.Backend)
	}
	if c.UsesRedis() && len(c.Database.Addrs) == 0 {
		return errors.New("database.addrs is required for the redis backend")
	}
	if c.Keyword.Backend == BackendRedis && c.Database.Driver == "valkey" {
		return errors.New("keyword.backend redis needs Redis 8+ full-text search; valkey has none, use sqlite")
	}

	if c.Embedding.BaseURL == "" {
		return errors.New("embedding.base_url is required")
	}

	if c.Search.KeywordWeight < 0 || c.Search.SemanticWeight < 0 {
		return errors.New("search weights must not be negative")
	}
	if math.Abs(c.Search.KeywordWeight+c.Search.SemanticWeight-1) > 1e-9 {
		return fmt.Errorf("search.keyword_weight + search.semantic_weight must equal 1, got %.3f",
			c.Search.KeywordWeight+c.Search.SemanticWeight)
	}
	if c.Search.MinScore < 0 || c.Search.MinScore > 1 {
		return fmt.Errorf("search.min_score must be within [0,1], got %.3f", c.Search.MinScore)
	}
	if c.Extract.PageCharBudget < MinPageCharBudget {
		return fmt.Errorf("extract.page_char_budget must be at least %d, got %d", MinPageCharBudget, c.Extract.PageCharBudget)
	}
	if c.OCR.MinConfidence > 1 {
		return fmt.Errorf("ocr.min_confidence must be within [0,1], got %.2f", c.OCR.MinConfidence)
	}

	seen := make(map[string]struct{}, len(c.Auth.Keys))
	for i, k := range c.Auth.Keys {
		if k.Key == "" {
			return fmt.Errorf("auth.keys[%d].key is required", i)
		}
		if _, dup := seen[k.Key]; dup {
			return fmt.Errorf("auth.keys[%d] duplicates another key", i)
		}
		seen[k.Key] = struct{}{}
		if k.Delegate && k.Division != "" {
			return fmt.Errorf("auth.keys[%d]: a delegate key cannot be bound to a division", i)
		}
	}
	return nil
}

// UsesRedis reports whether any backend needs the Redis connection.
func (c *Config) UsesRedis() bool {
	return c.Vector.Backend == BackendRedis || c.Keyword.Backend == BackendRedis
}

// findConfigPath locates the config file.
func findConfigPath(env string) string {
	filename := fmt.Sprintf("%s.yaml", env)

	// 1. Check ./config/
	if path := filepath.Join("config", filename); fileExists(path) {
		return path
	}

	// 2. Check relative to the source file
	_, b, _, _ := runtime.Caller(0)
	projectRoot := filepath.Dir(filepath.Dir(filepath.Dir(b))) // internal/config -> project root
	if path := filepath.Join(projectRoot, "config", filename); fileExists(path) {
		return path
	}

	// 3. Fallback to ./config/
	return filepath.Join("config", filename)
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// expandEnvVars replaces ${VAR} and ${VAR:-default} with environment variable values.
var envVarRegex = regexp.MustCompile(`\$\{([^}]+)\}`)

func expandEnvVars(data []byte) []byte {
	return envVarRegex.ReplaceAllFunc(data, func(match []byte) []byte {
		expr := string(match[2 : len(match)-1]) // strip ${ and }
		varName, defaultVal, hasDefault := strings.Cut(expr, ":-")
		val := os.Getenv(varName)
		if val == "" && hasDefault {
			val = defaultVal
		}
		return []byte(val)
	})
}
