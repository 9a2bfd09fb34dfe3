// Package config is the single entry point for reading project
// configuration from disk.
//
// The YAML file is checked against an embedded CUE schema before anything
// interprets it, so a typo'd time lock or a negative margin fails at the
// boundary between user input and pipeline logic with a positioned message,
// not deep inside a command. This package performs no alignment logic and
// does not transform values beyond filling defaults.
package config

import (
	"fmt"
	"os"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	"gopkg.in/yaml.v3"
)

// Defaults mirror the historical pipeline settings.
const (
	DefaultTimeLock = "onset"
	DefaultAnchor   = "self"
	DefaultMargin   = 1.0
)

// schema constrains the decoded YAML document. Optional fields may be
// omitted; present fields must satisfy their bounds.
const schema = `
#Project: {
	time_lock?: "onset" | "offset"
	anchor?: "self" | "partner"
	margin_s?: number & >0
	sampling_rate?: number & >0
	first_samp?: int & >=0
	catalog?: string
	ipu?: {
		min_silence_s?: number & >=0
		min_ipu_s?: number & >=0
		include_laughter?: bool
		include_noise?: bool
		include_filled_pause?: bool
	}
}
`

// IPU holds derivation thresholds and token membership flags.
type IPU struct {
	MinSilence         *float64 `yaml:"min_silence_s"`
	MinIPU             *float64 `yaml:"min_ipu_s"`
	IncludeLaughter    bool     `yaml:"include_laughter"`
	IncludeNoise       bool     `yaml:"include_noise"`
	IncludeFilledPause *bool    `yaml:"include_filled_pause"`
}

// Project is the parsed project configuration.
type Project struct {
	TimeLock     string  `yaml:"time_lock"`
	Anchor       string  `yaml:"anchor"`
	Margin       float64 `yaml:"margin_s"`
	SamplingRate float64 `yaml:"sampling_rate"`
	FirstSamp    int64   `yaml:"first_samp"`
	Catalog      string  `yaml:"catalog"`
	IPU          IPU     `yaml:"ipu"`
}

// Error reports an invalid configuration file.
type Error struct {
	Path   string
	Reason string
}

func (e *Error) Error() string {
	return fmt.Sprintf("config %s: %s", e.Path, e.Reason)
}

// Load reads, schema-checks, and decodes a YAML project config.
func Load(path string) (Project, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Project{}, fmt.Errorf("reading config: %w", err)
	}

	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return Project{}, &Error{Path: path, Reason: err.Error()}
	}
	if raw == nil {
		raw = map[string]any{}
	}

	if err := validate(raw); err != nil {
		return Project{}, &Error{Path: path, Reason: err.Error()}
	}

	cfg := Project{
		TimeLock: DefaultTimeLock,
		Anchor:   DefaultAnchor,
		Margin:   DefaultMargin,
	}
	// yaml.v3 leaves fields untouched when their key is absent, so the
	// defaults above survive a partial document.
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Project{}, &Error{Path: path, Reason: err.Error()}
	}
	return cfg, nil
}

// validate unifies the decoded document with the embedded schema.
func validate(raw map[string]any) error {
	ctx := cuecontext.New()

	schemaVal := ctx.CompileString(schema).LookupPath(cue.ParsePath("#Project"))
	if err := schemaVal.Err(); err != nil {
		return fmt.Errorf("internal schema error: %w", err)
	}

	docVal := ctx.Encode(raw)
	if err := docVal.Err(); err != nil {
		return fmt.Errorf("encoding config document: %w", err)
	}

	unified := schemaVal.Unify(docVal)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return fmt.Errorf("%s", cueerrors.Details(err, nil))
	}
	return nil
}
