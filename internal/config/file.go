// This file loads the optional YAML run file.

package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	apperrors "github.com/agbru/atmoworker/internal/errors"
)

// RunFile models the YAML run file. Options live under the "mcmc" section,
// which the fitting driver reads from the same file: keys the worker does
// not know belong to the driver and are ignored, as are other sections.
type RunFile struct {
	MCMC RunSection `yaml:"mcmc"`
}

// RunSection holds the worker options of a run file. Pointer fields
// distinguish "absent" from zero values.
type RunSection struct {
	Driver         *string  `yaml:"driver"`
	Engine         *string  `yaml:"engine"`
	EngineConfig   *string  `yaml:"config"`
	EngineArgs     yamlList `yaml:"engine_args"`
	AtmosphereFile *string  `yaml:"atmospheric_file"`
	PTType         *string  `yaml:"PTtype"`
	Tint           *float64 `yaml:"tint"`
	Tmin           *float64 `yaml:"Tmin"`
	Tmax           *float64 `yaml:"Tmax"`
	MolFit         yamlList `yaml:"molfit"`
	Params         yamlList `yaml:"params"`
	Filters        yamlList `yaml:"filter"`
	TEPFile        *string  `yaml:"tep_name"`
	KuruczFile     *string  `yaml:"kurucz_file"`
	Solution       *string  `yaml:"solution"`
	Verbose        *bool    `yaml:"verbose"`
	Quiet          *bool    `yaml:"quiet"`
	MetricsAddr    *string  `yaml:"metrics_addr"`
	LogFormat      *string  `yaml:"log_format"`
}

// yamlList accepts either a YAML sequence or a single comma/space separated
// string, the way list options are written on the command line.
type yamlList []string

// UnmarshalYAML implements yaml.Unmarshaler.
func (l *yamlList) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		*l = SplitList(node.Value)
		return nil
	case yaml.SequenceNode:
		out := make([]string, 0, len(node.Content))
		for _, item := range node.Content {
			if item.Kind != yaml.ScalarNode {
				return fmt.Errorf("line %d: list items must be scalars", item.Line)
			}
			out = append(out, item.Value)
		}
		*l = out
		return nil
	}
	return fmt.Errorf("line %d: expected a list or a string", node.Line)
}

// loadRunFile decodes path and applies every present option to cfg.
func loadRunFile(path string, cfg *AppConfig) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return apperrors.NewConfigError("read run file: %v", err)
	}
	var rf RunFile
	if err := yaml.Unmarshal(data, &rf); err != nil {
		return apperrors.NewConfigError("parse run file %s: %v", path, err)
	}
	return rf.MCMC.apply(cfg)
}

func (s RunSection) apply(cfg *AppConfig) error {
	setString(&cfg.Driver, s.Driver)
	setString(&cfg.Engine, s.Engine)
	setString(&cfg.EngineConfig, s.EngineConfig)
	setString(&cfg.AtmosphereFile, s.AtmosphereFile)
	setString(&cfg.PTType, s.PTType)
	setString(&cfg.TEPFile, s.TEPFile)
	setString(&cfg.KuruczFile, s.KuruczFile)
	setString(&cfg.Solution, s.Solution)
	setString(&cfg.MetricsAddr, s.MetricsAddr)
	setString(&cfg.LogFormat, s.LogFormat)
	if s.Tint != nil {
		cfg.Tint = *s.Tint
	}
	if s.Tmin != nil {
		cfg.Tmin = *s.Tmin
	}
	if s.Tmax != nil {
		cfg.Tmax = *s.Tmax
	}
	if s.Verbose != nil {
		cfg.Verbose = *s.Verbose
	}
	if s.Quiet != nil {
		cfg.Quiet = *s.Quiet
	}
	if s.EngineArgs != nil {
		cfg.EngineArgs = s.EngineArgs
	}
	if s.MolFit != nil {
		cfg.MolFit = s.MolFit
	}
	if s.Filters != nil {
		cfg.Filters = s.Filters
	}
	if s.Params != nil {
		params, err := parseFloats(s.Params)
		if err != nil {
			return apperrors.ValidationError{Field: "params", Message: err.Error()}
		}
		cfg.Params = params
	}
	return nil
}

func setString(dst *string, src *string) {
	if src != nil {
		*dst = *src
	}
}
