// Package config reads the core's environment-variable configuration
// surface (spec.md §6.4). The core owns no file format of its own; the
// execution shim owns deployment configuration, so this is a handful of
// bounds-checked scalars read via os.Getenv, assembled once at startup in
// the teacher's single-Config-struct style.
package config

import (
	"os"
	"strconv"

	"github.com/cyphersql/graphsql/internal/errs"
)

const (
	defaultMaxTypeCombinations = 38
	maxMaxTypeCombinations     = 1000

	defaultQueryCacheEnabled  = true
	defaultQueryCacheEntries  = 1000
	defaultQueryCacheSizeMB   = 100
)

// Config is the process-wide configuration snapshot, read once at startup.
type Config struct {
	// MaxTypeCombinations bounds PatternResolver's label-assignment
	// enumeration (spec.md §4.3.3, §6.4).
	MaxTypeCombinations int

	// QueryCacheEnabled toggles the Query Cache entirely; when false,
	// translator.Compile always behaves as a cache miss.
	QueryCacheEnabled bool
	// QueryCacheMaxEntries is the LRU entry-count eviction trigger.
	QueryCacheMaxEntries int
	// QueryCacheMaxSizeMB is the LRU total-size eviction trigger.
	QueryCacheMaxSizeMB int

	// GraphConfigPath is the startup schema YAML path, if provided.
	GraphConfigPath string

	// VLPMaxHopsSafetyCap bounds unbounded `*` variable-length paths
	// (spec.md §9 Open Question 3: required, no built-in default).
	VLPMaxHopsSafetyCap int
	vlpCapSet           bool
}

// Load reads the environment per spec.md §6.4, applying defaults and bounds
// checks. It never fails on its own: VLPMaxHopsSafetyCap is simply left
// unset (RequireVLPHopsCap reports the error at the point a query actually
// needs it, per the Open-Questions decision in DESIGN.md).
func Load() *Config {
	c := &Config{
		MaxTypeCombinations:  defaultMaxTypeCombinations,
		QueryCacheEnabled:    defaultQueryCacheEnabled,
		QueryCacheMaxEntries: defaultQueryCacheEntries,
		QueryCacheMaxSizeMB:  defaultQueryCacheSizeMB,
		GraphConfigPath:      os.Getenv("GRAPH_CONFIG_PATH"),
	}

	if v, ok := getInt("MAX_TYPE_COMBINATIONS"); ok && v > 0 && v <= maxMaxTypeCombinations {
		c.MaxTypeCombinations = v
	}
	if v, ok := os.LookupEnv("QUERY_CACHE_ENABLED"); ok {
		c.QueryCacheEnabled = v != "false" && v != "0"
	}
	if v, ok := getInt("QUERY_CACHE_MAX_ENTRIES"); ok && v > 0 {
		c.QueryCacheMaxEntries = v
	}
	if v, ok := getInt("QUERY_CACHE_MAX_SIZE_MB"); ok && v > 0 {
		c.QueryCacheMaxSizeMB = v
	}
	if v, ok := getInt("VLP_MAX_HOPS_SAFETY_CAP"); ok && v > 0 {
		c.VLPMaxHopsSafetyCap = v
		c.vlpCapSet = true
	}

	return c
}

func getInt(name string) (int, bool) {
	v := os.Getenv(name)
	if v == "" {
		return 0, false
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, false
	}
	return n, true
}

// RequireVLPHopsCap returns the configured safety cap, or a
// ConfigurationError if the deployment never set VLP_MAX_HOPS_SAFETY_CAP —
// a query with an unbounded `*` range has no implicit cap (spec.md §9).
func (c *Config) RequireVLPHopsCap() (int, error) {
	if !c.vlpCapSet {
		return 0, &errs.ConfigurationError{Parameter: "VLP_MAX_HOPS_SAFETY_CAP", View: "(unbounded variable-length path)"}
	}
	return c.VLPMaxHopsSafetyCap, nil
}
