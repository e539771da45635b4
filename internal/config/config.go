// Package config loads the dotted-key configuration tree the core reads
// (spec §6), following the teacher's YAML-backed config idiom.
package config

import (
	"os"
	"strconv"
	"strings"

	"go.yaml.in/yaml/v3"
)

// Dirs holds the filesystem layout knobs (Dir::*).
type Dirs struct {
	State string `yaml:"state"`
	Cache string `yaml:"cache"`
	Etc   string `yaml:"etc"`
	Log   string `yaml:"log"`
}

// Solver holds solver toggles (APT::Solver::*, APT::Get::*).
type Solver struct {
	Name                     string `yaml:"name"`
	StrictPinning            bool   `yaml:"strictPinning"`
	AllowInstall             bool   `yaml:"allowInstall"`
	AllowRemove              bool   `yaml:"allowRemove"`
	AutomaticRemove          bool   `yaml:"automaticRemove"`
	IgnoreHold               bool   `yaml:"ignoreHold"`
	AllowChangeHeldPackages  bool   `yaml:"allowChangeHeldPackages"`
}

// Tree is the whole configuration, keyed the way Configuration::Find*
// addresses the original dotted tree, plus a typed view for convenience.
type Tree struct {
	Dirs            Dirs     `yaml:"dirs"`
	Architecture    string   `yaml:"architecture"`
	Architectures   []string `yaml:"architectures"`
	BuildProfiles   []string `yaml:"buildProfiles"`
	AcquireLanguages []string `yaml:"acquireLanguages"`
	Solver          Solver   `yaml:"solver"`

	raw map[string]string
}

// Default returns the built-in defaults used when no config file is present.
func Default() *Tree {
	return &Tree{
		Dirs: Dirs{
			State: "/var/lib/apt-core",
			Cache: "/var/cache/apt-core",
			Etc:   "/etc/apt-core",
			Log:   "/var/log/apt-core",
		},
		Architecture:  "amd64",
		Architectures: []string{"amd64"},
		Solver: Solver{
			Name:          "internal",
			StrictPinning: true,
			AllowInstall:  true,
			AllowRemove:   true,
		},
		raw: map[string]string{},
	}
}

// Load reads a YAML config file, falling back to Default on a missing file.
func Load(path string) (*Tree, error) {
	t := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return t, nil
		}
		return nil, err
	}
	if err := yaml.Unmarshal(data, t); err != nil {
		return nil, err
	}
	t.applyBuildProfilesEnv()
	return t, nil
}

// applyBuildProfilesEnv mirrors the legacy "inherit DEB_BUILD_PROFILES with
// space->comma substitution" rule for APT::Build-Profiles.
func (t *Tree) applyBuildProfilesEnv() {
	if len(t.BuildProfiles) != 0 {
		return
	}
	env := os.Getenv("DEB_BUILD_PROFILES")
	if env == "" {
		return
	}
	for _, p := range strings.Fields(strings.ReplaceAll(env, ",", " ")) {
		t.BuildProfiles = append(t.BuildProfiles, p)
	}
}

// FindB mimics Configuration::FindB for ad-hoc dotted keys not covered by
// the typed fields above (used by components that read raw overrides).
func (t *Tree) FindB(key string, def bool) bool {
	v, ok := t.raw[key]
	if !ok {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

// FindI mimics Configuration::FindI.
func (t *Tree) FindI(key string, def int) int {
	v, ok := t.raw[key]
	if !ok {
		return def
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return i
}

// Find mimics Configuration::Find.
func (t *Tree) Find(key, def string) string {
	v, ok := t.raw[key]
	if !ok {
		return def
	}
	return v
}

// Set installs a raw override that Find, FindB and FindI then return.
func (t *Tree) Set(key, value string) {
	if t.raw == nil {
		t.raw = map[string]string{}
	}
	t.raw[key] = value
}
