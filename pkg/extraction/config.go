package extraction

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/joyfulsong/elisp-extractor/pkg/normalize"
	"github.com/joyfulsong/elisp-extractor/pkg/peval"
	"github.com/joyfulsong/elisp-extractor/pkg/trace"
)

// Config is the normalized operator configuration driving one extraction.
type Config struct {
	Source SourceConfig

	Files       []string
	MainFile    string
	GlobalsFile string

	Preprocessor PreprocessorConfig

	ExtraConstants   map[string]int64
	IgnoredConstants []string

	RecognizedCFunctions []string
	SkippedRoutines      []string

	ContextScopes   []trace.ContextPair
	EliminateLocals bool

	Routines map[string]RoutineConfig
}

type SourceConfig struct {
	Repository string
	Revision   string
	Directory  string
	Subdir     string
}

type PreprocessorConfig struct {
	Command string
	Prelude string
}

// RoutineConfig carries per-routine overrides: line substitution rules,
// injected name bindings, and the hand-implemented flag.
type RoutineConfig struct {
	Skip   bool
	Rules  []normalize.Rule
	Values map[string]peval.Value
}

// Disk shapes mirror the YAML layout and are converted on load; unknown
// fields are rejected.

type configFile struct {
	Source struct {
		Repository string `yaml:"repository"`
		Revision   string `yaml:"revision"`
		Directory  string `yaml:"directory"`
		Subdir     string `yaml:"subdir"`
	} `yaml:"source"`
	Files        []string `yaml:"files"`
	MainFile     string   `yaml:"main-file"`
	GlobalsFile  string   `yaml:"globals-file"`
	Preprocessor struct {
		Command string `yaml:"command"`
		Prelude string `yaml:"prelude"`
	} `yaml:"preprocessor"`
	ExtraMacros string `yaml:"extra-macros"`
	Constants   struct {
		Extra   map[string]int64 `yaml:"extra"`
		Ignored []string         `yaml:"ignored"`
	} `yaml:"constants"`
	Functions struct {
		Recognized []string `yaml:"recognized"`
		Skipped    []string `yaml:"skipped"`
	} `yaml:"functions"`
	ContextScopes []struct {
		Open  string `yaml:"open"`
		Close string `yaml:"close"`
	} `yaml:"context-scopes"`
	EliminateLocals bool                   `yaml:"eliminate-locals"`
	Routines        map[string]routineFile `yaml:"routines"`
}

type routineFile struct {
	Skip     bool `yaml:"skip"`
	Replaces []struct {
		Match string  `yaml:"match"`
		With  *string `yaml:"with"`
	} `yaml:"replaces"`
	Values map[string]any `yaml:"values"`
}

// LoadConfig reads and normalizes an extraction config file.
func LoadConfig(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("extraction: open config: %w", err)
	}
	defer f.Close()

	var disk configFile
	decoder := yaml.NewDecoder(f)
	decoder.KnownFields(true)
	if err := decoder.Decode(&disk); err != nil {
		return nil, fmt.Errorf("extraction: parse config %s: %w", path, err)
	}
	cfg, err := disk.toConfig()
	if err != nil {
		return nil, fmt.Errorf("extraction: config %s: %w", path, err)
	}
	return cfg, nil
}

func (disk *configFile) toConfig() (*Config, error) {
	if len(disk.Files) == 0 {
		return nil, fmt.Errorf("no source files listed")
	}
	cfg := &Config{
		Source: SourceConfig{
			Repository: disk.Source.Repository,
			Revision:   disk.Source.Revision,
			Directory:  disk.Source.Directory,
			Subdir:     disk.Source.Subdir,
		},
		Files:                disk.Files,
		MainFile:             disk.MainFile,
		GlobalsFile:          disk.GlobalsFile,
		ExtraConstants:       disk.Constants.Extra,
		IgnoredConstants:     disk.Constants.Ignored,
		RecognizedCFunctions: disk.Functions.Recognized,
		SkippedRoutines:      disk.Functions.Skipped,
		EliminateLocals:      disk.EliminateLocals,
		Routines:             make(map[string]RoutineConfig, len(disk.Routines)),
	}
	if cfg.MainFile == "" {
		cfg.MainFile = "emacs.c"
	}
	if cfg.GlobalsFile == "" {
		cfg.GlobalsFile = "globals.h"
	}

	cfg.Preprocessor = PreprocessorConfig{
		Command: disk.Preprocessor.Command,
		Prelude: disk.Preprocessor.Prelude,
	}
	if disk.ExtraMacros != "" {
		cfg.Preprocessor.Prelude += "\n" + disk.ExtraMacros
	}

	for _, pair := range disk.ContextScopes {
		if pair.Open == "" || pair.Close == "" {
			return nil, fmt.Errorf("context scope needs both open and close")
		}
		cfg.ContextScopes = append(cfg.ContextScopes, trace.ContextPair{Open: pair.Open, Close: pair.Close})
	}

	for name, rf := range disk.Routines {
		rc := RoutineConfig{Skip: rf.Skip}
		for _, rep := range rf.Replaces {
			rule, err := normalize.CompileRule(rep.Match, rep.With)
			if err != nil {
				return nil, fmt.Errorf("routine %s: %w", name, err)
			}
			rc.Rules = append(rc.Rules, rule)
		}
		if len(rf.Values) > 0 {
			rc.Values = make(map[string]peval.Value, len(rf.Values))
			for key, raw := range rf.Values {
				v, err := scalarValue(raw)
				if err != nil {
					return nil, fmt.Errorf("routine %s: value %s: %w", name, key, err)
				}
				rc.Values[key] = v
			}
		}
		cfg.Routines[name] = rc
	}
	return cfg, nil
}

// scalarValue lifts a YAML scalar into a symbolic value.
func scalarValue(raw any) (peval.Value, error) {
	switch x := raw.(type) {
	case nil:
		return &peval.NilValue{}, nil
	case bool:
		return &peval.BoolValue{Value: x}, nil
	case int:
		return &peval.IntValue{Value: int64(x)}, nil
	case int64:
		return &peval.IntValue{Value: x}, nil
	case float64:
		return &peval.FloatValue{Value: x}, nil
	case string:
		return &peval.StringValue{Value: x}, nil
	}
	return nil, fmt.Errorf("unsupported value %T", raw)
}
