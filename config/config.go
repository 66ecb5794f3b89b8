package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/pkg/errors"
)

// EnvPrefix is prepended to every environment override. Nested sections are
// separated by a double underscore, e.g. BLOCKLIST_CLIENT__SERVER__PORT.
const EnvPrefix = "BLOCKLIST_CLIENT__"

// RiskLevels lists the provider risk levels in ascending order.
var RiskLevels = []string{"Low", "Medium", "High", "Severe"}

type (
	// Settings is built once at startup and passed to every component that needs it.
	Settings struct {
		Server       Server       `yaml:"server" env-prefix:"BLOCKLIST_CLIENT__SERVER__"`
		RiskAnalysis RiskAnalysis `yaml:"risk_analysis" env-prefix:"BLOCKLIST_CLIENT__RISK_ANALYSIS__"`
		Screening    Screening    `yaml:"screening" env-prefix:"BLOCKLIST_CLIENT__SCREENING__"`
		Cache        Cache        `yaml:"cache" env-prefix:"BLOCKLIST_CLIENT__CACHE__"`
		Blocklist    Blocklist    `yaml:"blocklist" env-prefix:"BLOCKLIST_CLIENT__BLOCKLIST__"`
		Database     Database     `yaml:"database" env-prefix:"BLOCKLIST_CLIENT__DATABASE__"`
		Metrics      Metrics      `yaml:"metrics" env-prefix:"BLOCKLIST_CLIENT__METRICS__"`
	}

	Server struct {
		Host string `yaml:"host" env:"HOST" env-default:"127.0.0.1"`
		Port int    `yaml:"port" env:"PORT" env-default:"3030"`
		// Graceful shutdown drain time.
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"SHUTDOWN_TIMEOUT" env-default:"10s"`
	}

	RiskAnalysis struct {
		APIURL string `yaml:"api_url" env:"API_URL"`
		APIKey string `yaml:"api_key" env:"API_KEY"`
		// Timeout of a single provider attempt.
		Timeout     time.Duration `yaml:"timeout" env:"TIMEOUT" env-default:"4s"`
		MaxAttempts int           `yaml:"max_attempts" env:"MAX_ATTEMPTS" env-default:"3"`
		// First backoff interval, doubled on every retry with up to 50% jitter.
		RetryInterval time.Duration `yaml:"retry_interval" env:"RETRY_INTERVAL" env-default:"200ms"`
		// Lowest risk level that denies a withdrawal.
		DenyRisk string `yaml:"deny_risk" env:"DENY_RISK" env-default:"Severe"`
		// Provider requests per second, 0 disables the limit.
		RateLimit float64 `yaml:"rate_limit" env:"RATE_LIMIT" env-default:"0"`
	}

	Screening struct {
		MaxConcurrency int           `yaml:"max_concurrency" env:"MAX_CONCURRENCY" env-default:"10"`
		BatchTimeout   time.Duration `yaml:"batch_timeout" env:"BATCH_TIMEOUT" env-default:"15s"`
		// Lookups still unanswered this long before the batch deadline
		// resolve to unknown.
		LookupMargin time.Duration `yaml:"lookup_margin" env:"LOOKUP_MARGIN" env-default:"500ms"`
	}

	Cache struct {
		Capacity   int           `yaml:"capacity" env:"CAPACITY" env-default:"10000"`
		DecidedTTL time.Duration `yaml:"decided_ttl" env:"DECIDED_TTL" env-default:"10m"`
		UnknownTTL time.Duration `yaml:"unknown_ttl" env:"UNKNOWN_TTL" env-default:"30s"`
		// Shared Redis cache, in-process LRU is used when empty.
		RedisURL string `yaml:"redis_url" env:"REDIS_URL"`
	}

	Blocklist struct {
		Path string `yaml:"path" env:"PATH"`
		// Remote list merged with the local one and refreshed periodically.
		URL             string        `yaml:"url" env:"URL"`
		RefreshInterval time.Duration `yaml:"refresh_interval" env:"REFRESH_INTERVAL" env-default:"5m"`
	}

	Database struct {
		DSN string `yaml:"dsn" env:"DSN"`
		// Audit rows are flushed when either limit is reached.
		FlushSize     int           `yaml:"flush_size" env:"FLUSH_SIZE" env-default:"100"`
		FlushInterval time.Duration `yaml:"flush_interval" env:"FLUSH_INTERVAL" env-default:"2s"`
	}

	Metrics struct {
		Listen string `yaml:"listen" env:"LISTEN"`
	}
)

// InvalidError reports a configuration value that fails validation.
type InvalidError struct {
	Field  string
	Reason string
}

func (e *InvalidError) Error() string {
	return fmt.Sprintf("invalid configuration %q: %s", e.Field, e.Reason)
}

// Load reads the YAML file at path (if any), overlays the environment and
// validates the result.
func Load(path string) (*Settings, error) {
	var s Settings
	var err error
	if path == "" {
		err = cleanenv.ReadEnv(&s)
	} else {
		err = cleanenv.ReadConfig(path, &s)
	}
	if err != nil {
		return nil, errors.Wrap(err, "read configuration")
	}
	if err = s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

// LookupBudget is the longest a single lookup can take when every attempt
// times out: all attempts plus the backoff between them at maximum jitter.
func (r RiskAnalysis) LookupBudget() time.Duration {
	budget := time.Duration(r.MaxAttempts) * r.Timeout
	interval := r.RetryInterval
	for i := 1; i < r.MaxAttempts; i++ {
		budget += interval * 3 / 2
		interval *= 2
	}
	return budget
}

// Address returns the host:port the HTTP server listens on.
func (s *Settings) Address() string {
	return fmt.Sprintf("%s:%d", s.Server.Host, s.Server.Port)
}

// Validate checks the invariants the service relies on at request time.
func (s *Settings) Validate() error {
	if strings.TrimSpace(s.Server.Host) == "" {
		return &InvalidError{Field: "server.host", Reason: "cannot be empty"}
	}
	if s.Server.Port < 1 || s.Server.Port > 65535 {
		return &InvalidError{Field: "server.port", Reason: "must be between 1 and 65535"}
	}

	u, err := url.Parse(s.RiskAnalysis.APIURL)
	if err != nil || !u.IsAbs() || u.Host == "" {
		return &InvalidError{Field: "risk_analysis.api_url", Reason: "must be an absolute URL"}
	}
	if strings.TrimSpace(s.RiskAnalysis.APIKey) == "" {
		return &InvalidError{Field: "risk_analysis.api_key", Reason: "cannot be empty"}
	}
	if s.RiskAnalysis.Timeout <= 0 {
		return &InvalidError{Field: "risk_analysis.timeout", Reason: "must be positive"}
	}
	if s.RiskAnalysis.MaxAttempts < 1 {
		return &InvalidError{Field: "risk_analysis.max_attempts", Reason: "must be at least 1"}
	}
	if s.RiskAnalysis.RetryInterval < 0 {
		return &InvalidError{Field: "risk_analysis.retry_interval", Reason: "cannot be negative"}
	}
	if !isRiskLevel(s.RiskAnalysis.DenyRisk) {
		return &InvalidError{Field: "risk_analysis.deny_risk", Reason: "must be one of " + strings.Join(RiskLevels, ", ")}
	}
	if s.RiskAnalysis.RateLimit < 0 {
		return &InvalidError{Field: "risk_analysis.rate_limit", Reason: "cannot be negative"}
	}

	if s.Screening.MaxConcurrency < 1 {
		return &InvalidError{Field: "screening.max_concurrency", Reason: "must be at least 1"}
	}
	if s.Screening.BatchTimeout <= 0 {
		return &InvalidError{Field: "screening.batch_timeout", Reason: "must be positive"}
	}
	if s.Screening.LookupMargin <= 0 {
		return &InvalidError{Field: "screening.lookup_margin", Reason: "must be positive"}
	}
	if budget := s.RiskAnalysis.LookupBudget() + s.Screening.LookupMargin; s.Screening.BatchTimeout < budget {
		return &InvalidError{
			Field:  "screening.batch_timeout",
			Reason: fmt.Sprintf("must cover max_attempts x timeout, the retry backoff and lookup_margin (%s)", budget),
		}
	}

	if s.Cache.Capacity < 1 {
		return &InvalidError{Field: "cache.capacity", Reason: "must be at least 1"}
	}
	if s.Cache.DecidedTTL <= 0 {
		return &InvalidError{Field: "cache.decided_ttl", Reason: "must be positive"}
	}
	if s.Cache.UnknownTTL <= 0 || s.Cache.UnknownTTL > s.Cache.DecidedTTL {
		return &InvalidError{Field: "cache.unknown_ttl", Reason: "must be positive and not exceed cache.decided_ttl"}
	}

	if s.Blocklist.URL != "" {
		if u, err := url.Parse(s.Blocklist.URL); err != nil || !u.IsAbs() || u.Host == "" {
			return &InvalidError{Field: "blocklist.url", Reason: "must be an absolute URL"}
		}
		if s.Blocklist.RefreshInterval <= 0 {
			return &InvalidError{Field: "blocklist.refresh_interval", Reason: "must be positive"}
		}
	}

	if s.Database.FlushSize < 1 {
		return &InvalidError{Field: "database.flush_size", Reason: "must be at least 1"}
	}
	if s.Database.FlushInterval <= 0 {
		return &InvalidError{Field: "database.flush_interval", Reason: "must be positive"}
	}
	return nil
}

func isRiskLevel(level string) bool {
	for _, l := range RiskLevels {
		if strings.EqualFold(l, level) {
			return true
		}
	}
	return false
}
