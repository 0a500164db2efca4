// Package config loads the static symbol universe and runtime settings for
// the oracle aggregation service: a YAML symbol file plus environment
// variable overrides, in the teacher's own configuration idiom.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/sawpanic/oraclefeed/internal/domain"
)

// SymbolsFile is the root of the YAML symbol universe document.
type SymbolsFile struct {
	Symbols []domain.SymbolSpec `yaml:"symbols"`
}

// LoadSymbols reads and validates the symbol universe at path.
func LoadSymbols(path string) ([]domain.SymbolSpec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read symbols config: %w", err)
	}

	var doc SymbolsFile
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse symbols config: %w", err)
	}

	for i, s := range doc.Symbols {
		if err := validateSymbol(s); err != nil {
			return nil, fmt.Errorf("symbol[%d] %q: %w", i, s.Name, err)
		}
	}

	return doc.Symbols, nil
}

func validateSymbol(s domain.SymbolSpec) error {
	if s.Name == "" {
		return fmt.Errorf("name cannot be empty")
	}
	if s.PrimaryFeedID == "" && s.SecondaryFeedID == "" {
		return fmt.Errorf("at least one of primary_feed_id/secondary_feed_id is required")
	}
	if s.MaxStalenessSecs <= 0 {
		return fmt.Errorf("max_staleness_secs must be positive, got %d", s.MaxStalenessSecs)
	}
	return nil
}

// Runtime holds the process-level settings sourced from environment
// variables, per spec §9 (RPC_URL, CACHE_URL, HOST, PORT, POLL_INTERVAL_MS).
type Runtime struct {
	RPCURL       string
	CacheURL     string
	Host         string
	Port         int
	PollInterval time.Duration
}

// LoadRuntime reads Runtime from the environment, applying the defaults
// spec §9 specifies for anything unset.
func LoadRuntime() (Runtime, error) {
	rt := Runtime{
		RPCURL:       getenv("RPC_URL", "https://api.mainnet-beta.solana.com"),
		CacheURL:     getenv("CACHE_URL", "localhost:6379"),
		Host:         getenv("HOST", "0.0.0.0"),
		Port:         8080,
		PollInterval: 500 * time.Millisecond,
	}

	if v := os.Getenv("PORT"); v != "" {
		p, err := strconv.Atoi(v)
		if err != nil {
			return Runtime{}, fmt.Errorf("invalid PORT %q: %w", v, err)
		}
		rt.Port = p
	}

	if v := os.Getenv("POLL_INTERVAL_MS"); v != "" {
		ms, err := strconv.Atoi(v)
		if err != nil {
			return Runtime{}, fmt.Errorf("invalid POLL_INTERVAL_MS %q: %w", v, err)
		}
		rt.PollInterval = time.Duration(ms) * time.Millisecond
	}

	return rt, nil
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
