// This file contains environment variable utilities for configuration override.

package config

import (
	"flag"
	"os"
	"strconv"
	"strings"
)

// isFlagSet checks if a flag was explicitly set on the command line.
// This is used to determine whether to apply environment variable overrides.
func isFlagSet(fs *flag.FlagSet, name string) bool {
	found := false
	fs.Visit(func(f *flag.Flag) {
		if f.Name == name {
			found = true
		}
	})
	return found
}

// isFlagSetAny checks if any of the specified flags were explicitly set.
func isFlagSetAny(fs *flag.FlagSet, names ...string) bool {
	for _, name := range names {
		if isFlagSet(fs, name) {
			return true
		}
	}
	return false
}

// envOverride declares a single environment variable override.
// Each entry maps an env key (without the ATMOWORKER_ prefix) to the CLI flag
// name(s) it corresponds to and a function that applies the env value.
type envOverride struct {
	envKey string
	flags  []string
	apply  func(*AppConfig, string)
}

// envOverrides is the declarative table of all environment variable overrides.
// Invalid values are ignored and the previous value is kept.
var envOverrides = []envOverride{
	// Numeric overrides
	{"TMIN", []string{"Tmin"}, func(c *AppConfig, v string) {
		if parsed, err := strconv.ParseFloat(v, 64); err == nil {
			c.Tmin = parsed
		}
	}},
	{"TMAX", []string{"Tmax"}, func(c *AppConfig, v string) {
		if parsed, err := strconv.ParseFloat(v, 64); err == nil {
			c.Tmax = parsed
		}
	}},
	{"TINT", []string{"tint"}, func(c *AppConfig, v string) {
		if parsed, err := strconv.ParseFloat(v, 64); err == nil {
			c.Tint = parsed
		}
	}},

	// String overrides
	{"DRIVER", []string{"driver"}, func(c *AppConfig, v string) { c.Driver = v }},
	{"ENGINE", []string{"engine"}, func(c *AppConfig, v string) { c.Engine = v }},
	{"ENGINE_CONFIG", []string{"config"}, func(c *AppConfig, v string) { c.EngineConfig = v }},
	{"ATMOSPHERIC_FILE", []string{"atmospheric_file"}, func(c *AppConfig, v string) { c.AtmosphereFile = v }},
	{"PTTYPE", []string{"PTtype"}, func(c *AppConfig, v string) { c.PTType = v }},
	{"TEP_NAME", []string{"tep_name"}, func(c *AppConfig, v string) { c.TEPFile = v }},
	{"KURUCZ_FILE", []string{"kurucz_file"}, func(c *AppConfig, v string) { c.KuruczFile = v }},
	{"SOLUTION", []string{"solution"}, func(c *AppConfig, v string) { c.Solution = v }},
	{"METRICS_ADDR", []string{"metrics-addr"}, func(c *AppConfig, v string) { c.MetricsAddr = v }},
	{"LOG_FORMAT", []string{"log-format"}, func(c *AppConfig, v string) { c.LogFormat = v }},

	// List overrides
	{"ENGINE_ARGS", []string{"engine-args"}, func(c *AppConfig, v string) { c.EngineArgs = SplitList(v) }},
	{"MOLFIT", []string{"molfit"}, func(c *AppConfig, v string) { c.MolFit = SplitList(v) }},
	{"FILTER", []string{"filter"}, func(c *AppConfig, v string) { c.Filters = SplitList(v) }},
	{"PARAMS", []string{"params"}, func(c *AppConfig, v string) {
		if parsed, err := parseFloats(SplitList(v)); err == nil {
			c.Params = parsed
		}
	}},

	// Boolean overrides
	{"VERBOSE", []string{"verbose"}, func(c *AppConfig, v string) {
		c.Verbose = parseBoolEnv(v, c.Verbose)
	}},
	{"QUIET", []string{"quiet"}, func(c *AppConfig, v string) {
		c.Quiet = parseBoolEnv(v, c.Quiet)
	}},
}

// parseBoolEnv parses a boolean environment variable value.
// Accepts "true", "1", "yes" as true; "false", "0", "no" as false (case-insensitive).
// Returns defaultVal if the value is not recognized.
func parseBoolEnv(val string, defaultVal bool) bool {
	switch strings.ToLower(val) {
	case "true", "1", "yes":
		return true
	case "false", "0", "no":
		return false
	}
	return defaultVal
}

// applyEnvOverrides applies environment variable values to the configuration
// for any flags that were not explicitly set on the command line.
// This implements the priority: CLI flags > Environment variables > Run file > Defaults.
func applyEnvOverrides(config *AppConfig, fs *flag.FlagSet) {
	for _, o := range envOverrides {
		if isFlagSetAny(fs, o.flags...) {
			continue
		}
		if val := os.Getenv(EnvPrefix + o.envKey); val != "" {
			o.apply(config, val)
		}
	}
}
