// Package config defines the worker's statically typed configuration and
// the logic that builds it from command-line flags, environment variables
// and an optional YAML run file.
package config

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"

	apperrors "github.com/agbru/atmoworker/internal/errors"
)

// EnvPrefix is the prefix of every environment variable override.
const EnvPrefix = "ATMOWORKER_"

// Recognised driver transports.
const (
	DriverStdio = "stdio"
)

// Recognised log formats.
const (
	LogFormatJSON    = "json"
	LogFormatConsole = "console"
	LogFormatPlain   = "plain"
)

// Defaults applied before the run file, environment and flags.
const (
	DefaultTmin     = 400.0
	DefaultTmax     = 3000.0
	DefaultTint     = 100.0
	DefaultPTType   = "none"
	DefaultSolution = "none"
	DefaultEngine   = "transit"
)

// AppConfig aggregates every option the worker recognises.
type AppConfig struct {
	// ConfigFile is the optional YAML run file providing defaults.
	ConfigFile string
	// Driver selects the driver transport: "stdio" or a ws:// URL.
	Driver string
	// Engine is the radiative-transfer executable to spawn.
	Engine string
	// EngineConfig is the engine's configuration file, passed on spawn.
	EngineConfig string
	// EngineArgs are extra arguments appended to the engine command line.
	EngineArgs []string

	// AtmosphereFile is the baseline atmosphere file.
	AtmosphereFile string
	// PTType selects the temperature-profile generator.
	PTType string
	// Tint is the planet's internal temperature in kelvin.
	Tint float64
	// Tmin and Tmax bound every accepted layer temperature.
	Tmin float64
	Tmax float64
	// MolFit lists the species whose abundances are fit.
	MolFit []string
	// Params optionally lists initial parameter values; only its length is used.
	Params []float64

	// Filters lists the instrument filter files.
	Filters []string
	// TEPFile is the planetary/stellar reference file.
	TEPFile string
	// KuruczFile is the stellar model grid (eclipse only; blackbody if empty).
	KuruczFile string
	// Solution is the solution geometry: "transit" or "eclipse".
	Solution string

	Verbose     bool
	Quiet       bool
	MetricsAddr string
	LogFormat   string
}

// Default returns the configuration before any source is applied.
func Default() AppConfig {
	return AppConfig{
		Driver:    DriverStdio,
		Engine:    DefaultEngine,
		PTType:    DefaultPTType,
		Tint:      DefaultTint,
		Tmin:      DefaultTmin,
		Tmax:      DefaultTmax,
		Solution:  DefaultSolution,
		LogFormat: LogFormatJSON,
	}
}

// ParseConfig builds the configuration. The run file named by -c/--config_file
// is applied first, then environment overrides for flags not set explicitly,
// then the flags themselves. Unknown flags are an error.
func ParseConfig(programName string, args []string, errWriter io.Writer) (AppConfig, error) {
	cfg := Default()

	// A first pass only locates the run file, so its values can become the
	// defaults of the real flag set.
	if path := findConfigFile(args); path != "" {
		if err := loadRunFile(path, &cfg); err != nil {
			return AppConfig{}, err
		}
		cfg.ConfigFile = path
	}

	fs := flag.NewFlagSet(programName, flag.ContinueOnError)
	fs.SetOutput(errWriter)
	bindFlags(fs, &cfg)
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return AppConfig{}, err
		}
		return AppConfig{}, apperrors.NewConfigError("%v", err)
	}
	if fs.NArg() > 0 {
		return AppConfig{}, apperrors.NewConfigError("unexpected arguments: %s", strings.Join(fs.Args(), " "))
	}

	applyEnvOverrides(&cfg, fs)
	return cfg, nil
}

func findConfigFile(args []string) string {
	for i, a := range args {
		name, value, hasValue := strings.Cut(strings.TrimLeft(a, "-"), "=")
		if !strings.HasPrefix(a, "-") || (name != "c" && name != "config_file") {
			continue
		}
		if hasValue {
			return value
		}
		if i+1 < len(args) {
			return args[i+1]
		}
	}
	return ""
}

func bindFlags(fs *flag.FlagSet, cfg *AppConfig) {
	fs.StringVar(&cfg.ConfigFile, "c", cfg.ConfigFile, "YAML run file (alias of --config_file)")
	fs.StringVar(&cfg.ConfigFile, "config_file", cfg.ConfigFile, "YAML run file")
	fs.StringVar(&cfg.Driver, "driver", cfg.Driver, `driver transport: "stdio" or a ws:// URL`)
	fs.StringVar(&cfg.Engine, "engine", cfg.Engine, "radiative-transfer engine executable")
	fs.StringVar(&cfg.EngineConfig, "config", cfg.EngineConfig, "engine configuration file")
	fs.Var((*wordList)(&cfg.EngineArgs), "engine-args", "extra engine arguments (space separated)")

	fs.StringVar(&cfg.AtmosphereFile, "atmospheric_file", cfg.AtmosphereFile, "atmospheric file")
	fs.StringVar(&cfg.PTType, "PTtype", cfg.PTType, "PT profile type (line, isothermal)")
	fs.Float64Var(&cfg.Tint, "tint", cfg.Tint, "internal temperature of the planet")
	fs.Float64Var(&cfg.Tmin, "Tmin", cfg.Tmin, "lower temperature boundary")
	fs.Float64Var(&cfg.Tmax, "Tmax", cfg.Tmax, "higher temperature boundary")
	fs.Var((*wordList)(&cfg.MolFit), "molfit", "molecules fit (comma or space separated)")
	fs.Var((*floatList)(&cfg.Params), "params", "model-fitting parameters")

	fs.Var((*wordList)(&cfg.Filters), "filter", "waveband filter files")
	fs.StringVar(&cfg.TEPFile, "tep_name", cfg.TEPFile, "TEP file")
	fs.StringVar(&cfg.KuruczFile, "kurucz_file", cfg.KuruczFile, "stellar Kurucz file")
	fs.StringVar(&cfg.Solution, "solution", cfg.Solution, "solution geometry (transit, eclipse)")

	fs.BoolVar(&cfg.Verbose, "verbose", cfg.Verbose, "log every pass at debug level")
	fs.BoolVar(&cfg.Quiet, "quiet", cfg.Quiet, "set verbosity level to minimum")
	fs.StringVar(&cfg.MetricsAddr, "metrics-addr", cfg.MetricsAddr, "serve Prometheus metrics on this address")
	fs.StringVar(&cfg.LogFormat, "log-format", cfg.LogFormat, "log format (json, console, plain)")
}

// Validate checks the configuration once, before any file is read.
func (c AppConfig) Validate() error {
	required := []struct {
		field string
		value string
	}{
		{"atmospheric_file", c.AtmosphereFile},
		{"tep_name", c.TEPFile},
		{"engine", c.Engine},
		{"config", c.EngineConfig},
	}
	for _, r := range required {
		if strings.TrimSpace(r.value) == "" {
			return apperrors.ValidationError{Field: r.field, Message: "is required"}
		}
	}
	switch c.Solution {
	case "transit", "eclipse":
	default:
		return apperrors.ValidationError{Field: "solution", Message: fmt.Sprintf("unknown solution %q (want transit or eclipse)", c.Solution)}
	}
	if len(c.Filters) == 0 {
		return apperrors.ValidationError{Field: "filter", Message: "at least one filter file is required"}
	}
	if math.IsNaN(c.Tmin) || math.IsNaN(c.Tmax) || c.Tmin >= c.Tmax {
		return apperrors.ValidationError{Field: "Tmin", Message: fmt.Sprintf("must be lower than Tmax (%g >= %g)", c.Tmin, c.Tmax)}
	}
	if c.Tint < 0 {
		return apperrors.ValidationError{Field: "tint", Message: "must be non-negative"}
	}
	seen := make(map[string]bool, len(c.MolFit))
	for _, m := range c.MolFit {
		if m == "H2" || m == "He" {
			return apperrors.ValidationError{Field: "molfit", Message: m + " abundance is derived and cannot be fit"}
		}
		if seen[m] {
			return apperrors.ValidationError{Field: "molfit", Message: "duplicate molecule " + m}
		}
		seen[m] = true
	}
	if c.Driver != DriverStdio && !strings.HasPrefix(c.Driver, "ws://") && !strings.HasPrefix(c.Driver, "wss://") {
		return apperrors.ValidationError{Field: "driver", Message: fmt.Sprintf("unsupported transport %q", c.Driver)}
	}
	switch c.LogFormat {
	case LogFormatJSON, LogFormatConsole, LogFormatPlain:
	default:
		return apperrors.ValidationError{Field: "log-format", Message: fmt.Sprintf("unknown format %q", c.LogFormat)}
	}
	if c.Verbose && c.Quiet {
		return apperrors.ValidationError{Field: "quiet", Message: "cannot be combined with verbose"}
	}
	return nil
}

// SplitList splits a comma and/or whitespace separated list.
func SplitList(s string) []string {
	return strings.FieldsFunc(s, func(r rune) bool {
		return r == ',' || r == ' ' || r == '\t' || r == '\n'
	})
}

// wordList is a flag.Value for string lists.
type wordList []string

func (w *wordList) String() string { return strings.Join(*w, ",") }

func (w *wordList) Set(s string) error {
	*w = SplitList(s)
	return nil
}

// floatList is a flag.Value for float lists.
type floatList []float64

func (f *floatList) String() string {
	parts := make([]string, len(*f))
	for i, v := range *f {
		parts[i] = strconv.FormatFloat(v, 'g', -1, 64)
	}
	return strings.Join(parts, ",")
}

func (f *floatList) Set(s string) error {
	values, err := parseFloats(SplitList(s))
	if err != nil {
		return err
	}
	*f = values
	return nil
}

func parseFloats(words []string) ([]float64, error) {
	values := make([]float64, 0, len(words))
	for _, w := range words {
		v, err := strconv.ParseFloat(w, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid number %q", w)
		}
		values = append(values, v)
	}
	return values, nil
}
