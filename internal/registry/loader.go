package registry

import (
	"fmt"

	"servectl/internal/config"
	"servectl/pkg/types"
)

// profileFile is the on-disk shape of a profiles file:
//
//	profiles:
//	  - key: llama
//	    model_id: meta-llama/Llama-3.1-8B-Instruct
//	    context_length: 65536
type profileFile struct {
	Profiles []types.Profile `json:"profiles" yaml:"profiles" toml:"profiles"`
}

// LoadFile reads profiles from a yaml/json/toml file.
func LoadFile(path string) ([]types.Profile, error) {
	var f profileFile
	if err := config.Decode(path, &f); err != nil {
		return nil, err
	}
	if len(f.Profiles) == 0 {
		return nil, fmt.Errorf("no profiles in %s", path)
	}
	return f.Profiles, nil
}

// Load returns the built-in registry, merged with the profiles file when path is set.
func Load(path string) (*Registry, error) {
	base := Builtin()
	if path == "" {
		return base, nil
	}
	extra, err := LoadFile(path)
	if err != nil {
		return nil, fmt.Errorf("load profiles: %w", err)
	}
	return Merge(base, extra...)
}
