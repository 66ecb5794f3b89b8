package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

const testConfig = `
server:
  host: 0.0.0.0
  port: 3032
risk_analysis:
  api_url: https://risk.example.com
  api_key: secret
cache:
  unknown_ttl: 5s
`

func writeConfig(t *testing.T, content string) string {
	path := filepath.Join(t.TempDir(), "default.yml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func validSettings() Settings {
	return Settings{
		Server: Server{Host: "127.0.0.1", Port: 3030},
		RiskAnalysis: RiskAnalysis{
			APIURL:      "https://risk.example.com",
			APIKey:      "secret",
			Timeout:     time.Second,
			MaxAttempts: 3,
			DenyRisk:    "Severe",
		},
		Screening: Screening{MaxConcurrency: 10, BatchTimeout: 10 * time.Second, LookupMargin: 500 * time.Millisecond},
		Cache:     Cache{Capacity: 10, DecidedTTL: time.Minute, UnknownTTL: time.Second},
		Database:  Database{FlushSize: 10, FlushInterval: time.Second},
	}
}

func TestLoadFileAndDefaults(t *testing.T) {
	s, err := Load(writeConfig(t, testConfig))
	require.NoError(t, err)

	require.Equal(t, "0.0.0.0", s.Server.Host)
	require.Equal(t, 3032, s.Server.Port)
	require.Equal(t, "0.0.0.0:3032", s.Address())
	require.Equal(t, 5*time.Second, s.Cache.UnknownTTL)

	// Defaults for everything the file leaves out
	require.Equal(t, 10*time.Minute, s.Cache.DecidedTTL)
	require.Equal(t, 3, s.RiskAnalysis.MaxAttempts)
	require.Equal(t, 4*time.Second, s.RiskAnalysis.Timeout)
	require.Equal(t, 500*time.Millisecond, s.Screening.LookupMargin)
	require.Equal(t, 10, s.Screening.MaxConcurrency)
	require.Equal(t, "Severe", s.RiskAnalysis.DenyRisk)
}

func TestLoadEnvironmentOverlay(t *testing.T) {
	t.Setenv(EnvPrefix+"SERVER__PORT", "4040")
	t.Setenv(EnvPrefix+"RISK_ANALYSIS__API_KEY", "from-env")
	t.Setenv(EnvPrefix+"SCREENING__MAX_CONCURRENCY", "3")

	s, err := Load(writeConfig(t, testConfig))
	require.NoError(t, err)
	require.Equal(t, 4040, s.Server.Port)
	require.Equal(t, "from-env", s.RiskAnalysis.APIKey)
	require.Equal(t, 3, s.Screening.MaxConcurrency)
}

func TestLoadRejectsInvalidFile(t *testing.T) {
	_, err := Load(writeConfig(t, "server:\n  port: 70000\nrisk_analysis:\n  api_url: https://x.io\n  api_key: k\n"))
	var invalid *InvalidError
	require.ErrorAs(t, err, &invalid)
	require.Equal(t, "server.port", invalid.Field)
}

func TestShippedDefaultsFitBatchTimeout(t *testing.T) {
	t.Setenv(EnvPrefix+"RISK_ANALYSIS__API_KEY", "from-env")

	s, err := Load("default.yml")
	require.NoError(t, err)
	budget := s.RiskAnalysis.LookupBudget() + s.Screening.LookupMargin
	require.Less(t, budget, s.Screening.BatchTimeout)
}

func TestLookupBudget(t *testing.T) {
	r := RiskAnalysis{Timeout: 4 * time.Second, MaxAttempts: 3, RetryInterval: 200 * time.Millisecond}
	// 3 x 4s + 1.5 x (200ms + 400ms)
	require.Equal(t, 12900*time.Millisecond, r.LookupBudget())

	r.MaxAttempts = 1
	require.Equal(t, 4*time.Second, r.LookupBudget())
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yml"))
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := map[string]struct {
		mutate func(s *Settings)
		field  string
	}{
		"valid settings pass": {
			mutate: func(s *Settings) {},
		},
		"empty host": {
			mutate: func(s *Settings) { s.Server.Host = " " },
			field:  "server.host",
		},
		"port zero": {
			mutate: func(s *Settings) { s.Server.Port = 0 },
			field:  "server.port",
		},
		"port above range": {
			mutate: func(s *Settings) { s.Server.Port = 65536 },
			field:  "server.port",
		},
		"relative api url": {
			mutate: func(s *Settings) { s.RiskAnalysis.APIURL = "/api/risk" },
			field:  "risk_analysis.api_url",
		},
		"malformed api url": {
			mutate: func(s *Settings) { s.RiskAnalysis.APIURL = "http://[::1" },
			field:  "risk_analysis.api_url",
		},
		"empty api key": {
			mutate: func(s *Settings) { s.RiskAnalysis.APIKey = "" },
			field:  "risk_analysis.api_key",
		},
		"unknown deny level": {
			mutate: func(s *Settings) { s.RiskAnalysis.DenyRisk = "Extreme" },
			field:  "risk_analysis.deny_risk",
		},
		"deny level is case insensitive": {
			mutate: func(s *Settings) { s.RiskAnalysis.DenyRisk = "high" },
		},
		"no attempts": {
			mutate: func(s *Settings) { s.RiskAnalysis.MaxAttempts = 0 },
			field:  "risk_analysis.max_attempts",
		},
		"no concurrency": {
			mutate: func(s *Settings) { s.Screening.MaxConcurrency = 0 },
			field:  "screening.max_concurrency",
		},
		"unknown ttl longer than decided ttl": {
			mutate: func(s *Settings) { s.Cache.UnknownTTL = time.Hour },
			field:  "cache.unknown_ttl",
		},
		"relative blocklist url": {
			mutate: func(s *Settings) { s.Blocklist.URL = "blocklist.yml" },
			field:  "blocklist.url",
		},
		"blocklist url without refresh interval": {
			mutate: func(s *Settings) { s.Blocklist.URL = "https://lists.example.com/blocklist.yml" },
			field:  "blocklist.refresh_interval",
		},
		"remote blocklist": {
			mutate: func(s *Settings) {
				s.Blocklist.URL = "https://lists.example.com/blocklist.yml"
				s.Blocklist.RefreshInterval = time.Minute
			},
		},
		"batch timeout shorter than lookup budget": {
			mutate: func(s *Settings) {
				s.RiskAnalysis.Timeout = 5 * time.Second
				s.Screening.BatchTimeout = 15 * time.Second
			},
			field: "screening.batch_timeout",
		},
		"no lookup margin": {
			mutate: func(s *Settings) { s.Screening.LookupMargin = 0 },
			field:  "screening.lookup_margin",
		},
		"zero capacity": {
			mutate: func(s *Settings) { s.Cache.Capacity = 0 },
			field:  "cache.capacity",
		},
	}
	for testName, testCase := range tests {
		t.Run(testName, func(t *testing.T) {
			s := validSettings()
			testCase.mutate(&s)
			err := s.Validate()
			if testCase.field == "" {
				require.NoError(t, err)
				return
			}
			var invalid *InvalidError
			require.ErrorAs(t, err, &invalid)
			require.Equal(t, testCase.field, invalid.Field)
			require.Contains(t, err.Error(), testCase.field)
		})
	}
}
