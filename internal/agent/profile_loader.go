package agent

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/go-logr/logr"
	"gopkg.in/yaml.v3"
)

// LoadProfiles reads every *.yaml/*.yml file under dir and resolves parent
// inheritance. A file may contain several YAML documents.
func LoadProfiles(dir string) (map[string]Profile, error) {
	raw := make(map[string]Profile)

	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		if !strings.HasSuffix(path, ".yaml") && !strings.HasSuffix(path, ".yml") {
			return nil
		}

		file, err := os.Open(path)
		if err != nil {
			return fmt.Errorf("failed to open profile file %s: %w", path, err)
		}
		defer file.Close()

		decoder := yaml.NewDecoder(file)
		for {
			var p Profile
			if err := decoder.Decode(&p); err != nil {
				if errors.Is(err, io.EOF) {
					break
				}
				return fmt.Errorf("failed to parse profile file %s: %w", path, err)
			}
			if p.Name == "" {
				return fmt.Errorf("profile in %s is missing a name", path)
			}
			raw[p.Name] = p
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	resolved := make(map[string]Profile, len(raw))
	resolving := make(map[string]bool)

	var resolve func(name string) (Profile, error)
	resolve = func(name string) (Profile, error) {
		if p, ok := resolved[name]; ok {
			return p, nil
		}
		p, ok := raw[name]
		if !ok {
			return Profile{}, fmt.Errorf("profile not found: %s", name)
		}
		if resolving[name] {
			return Profile{}, fmt.Errorf("circular inheritance detected for profile: %s", name)
		}
		resolving[name] = true
		defer func() { resolving[name] = false }()

		if p.Parent != "" {
			parent, err := resolve(p.Parent)
			if err != nil {
				return Profile{}, fmt.Errorf("failed to resolve parent for %s: %w", name, err)
			}
			p = parent.MergeWith(p)
		}
		resolved[name] = p
		return p, nil
	}

	for name := range raw {
		if _, err := resolve(name); err != nil {
			return nil, err
		}
	}
	return resolved, nil
}

// ProfileSet holds the profiles available to the steps.
type ProfileSet struct {
	profiles map[string]Profile
}

// NewProfileSet loads profiles from dir on top of the built-in ones. A missing
// directory is not an error.
func NewProfileSet(dir string, log logr.Logger) (*ProfileSet, error) {
	ps := &ProfileSet{profiles: builtinProfiles()}

	if dir == "" {
		return ps, nil
	}
	if _, err := os.Stat(dir); err != nil {
		log.Info("profile directory not found, using built-in profiles", "dir", dir)
		return ps, nil
	}
	loaded, err := LoadProfiles(dir)
	if err != nil {
		return nil, err
	}
	for _, p := range loaded {
		ps.profiles[p.Name] = p
	}
	log.Info("loaded profiles from directory", "dir", dir, "count", len(loaded))
	return ps, nil
}

func builtinProfiles() map[string]Profile {
	return map[string]Profile{
		InterpreterProfile.Name: InterpreterProfile,
		AnalyzerProfile.Name:    AnalyzerProfile,
	}
}

// Get returns the named profile, falling back to an empty profile that
// allows every tool. A nil set serves the built-in profiles.
func (ps *ProfileSet) Get(name string) Profile {
	profiles := builtinProfiles()
	if ps != nil {
		profiles = ps.profiles
	}
	if p, ok := profiles[name]; ok {
		return p
	}
	return Profile{Name: name}
}

// List returns all profiles sorted by name.
func (ps *ProfileSet) List() []Profile {
	out := make([]Profile, 0, len(ps.profiles))
	for _, p := range ps.profiles {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
