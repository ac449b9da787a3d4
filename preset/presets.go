// Package preset loads effect chain and instrument presets, both the builtin
// ones and those the user has saved in the config directory.
package preset

import (
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"sort"
	"strings"

	"github.com/vsariola/loopstation"
	"gopkg.in/yaml.v3"
)

//go:embed presets/*
var builtinPresetFS embed.FS

type (
	Preset struct {
		Name       string                  `yaml:"-"`
		Directory  string                  `yaml:"-"`
		User       bool                    `yaml:"-"`
		Effects    []loopstation.Effect    `yaml:"effects,omitempty"`
		Instrument *loopstation.Instrument `yaml:"instrument,omitempty"`
	}

	Presets struct {
		Presets []Preset
		Dirs    []string
	}
)

const (
	EffectsDir     = "effects"
	InstrumentsDir = "instruments"
)

var ErrNoUserDir = errors.New("no user preset directory")

// UserDir returns the directory where user presets are stored.
func UserDir() (string, error) {
	configDir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrNoUserDir, err)
	}
	return filepath.Join(configDir, "loopstation"), nil
}

// Load reads the builtin presets and, if userDir is not empty, the user
// presets found under userDir/presets.
func Load(userDir string) Presets {
	var m Presets
	seenDir := make(map[string]bool)
	m.loadFromFs(builtinPresetFS, false, seenDir)
	if userDir != "" {
		m.loadFromFs(os.DirFS(userDir), true, seenDir)
	}
	sort.Sort(&m)
	m.Dirs = make([]string, 0, len(seenDir))
	for k := range seenDir {
		m.Dirs = append(m.Dirs, k)
	}
	sort.Strings(m.Dirs)
	return m
}

func (m *Presets) loadFromFs(fsys fs.FS, user bool, seenDir map[string]bool) {
	fs.WalkDir(fsys, "presets", func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || filepath.Ext(path) != ".yml" {
			return nil
		}
		data, err := fs.ReadFile(fsys, path)
		if err != nil {
			return nil
		}
		var p Preset
		if yaml.Unmarshal(data, &p) != nil {
			return nil
		}
		noExt := strings.TrimSuffix(path, filepath.Ext(path))
		splitted := strings.Split(filepath.ToSlash(noExt), "/")[1:] // drop "presets"
		p.Name = filenameToName(splitted[len(splitted)-1])
		p.Directory = strings.Join(splitted[:len(splitted)-1], "/")
		p.User = user
		if p.Directory != "" {
			seenDir[p.Directory] = true
		}
		m.Presets = append(m.Presets, p)
		return nil
	})
}

// Find returns the first preset with the name; user presets shadow builtin
// ones of the same name.
func (m *Presets) Find(name string) (Preset, bool) {
	for _, user := range []bool{true, false} {
		for _, p := range m.Presets {
			if p.User == user && strings.EqualFold(p.Name, name) {
				return p, true
			}
		}
	}
	return Preset{}, false
}

// Search filters the presets with a query. Words of the query are matched
// against the preset names; "d:<dir>" restricts to a directory and "t:b" or
// "t:u" to builtin or user presets.
func (m *Presets) Search(query string) []Preset {
	var dir, kind string
	var words []string
	for _, part := range strings.Fields(query) {
		switch {
		case strings.HasPrefix(part, "d:") && len(part) > 2:
			dir = part[2:]
		case strings.HasPrefix(part, "t:") && len(part) > 2:
			kind = part[2:3]
		default:
			words = append(words, strings.ToLower(part))
		}
	}
	var ret []Preset
	for _, p := range m.Presets {
		if (kind == "b" && p.User) || (kind == "u" && !p.User) {
			continue
		}
		if dir != "" && p.Directory != dir {
			continue
		}
		if len(words) > 0 && !slices.ContainsFunc(words, func(w string) bool {
			return strings.Contains(strings.ToLower(p.Name), w)
		}) {
			continue
		}
		ret = append(ret, p)
	}
	return ret
}

// Save writes the preset as a user preset under userDir and adds it to the
// collection, replacing a user preset with the same name.
func (m *Presets) Save(userDir string, p Preset) error {
	if userDir == "" {
		return ErrNoUserDir
	}
	if p.Directory == "" {
		p.Directory = EffectsDir
		if p.Instrument != nil {
			p.Directory = InstrumentsDir
		}
	}
	data, err := yaml.Marshal(&p)
	if err != nil {
		return fmt.Errorf("could not marshal preset %v: %w", p.Name, err)
	}
	dir := filepath.Join(userDir, "presets", filepath.FromSlash(p.Directory))
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("could not create preset directory %v: %w", dir, err)
	}
	path := filepath.Join(dir, nameToFilename(p.Name)+".yml")
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("could not write preset %v: %w", path, err)
	}
	p.User = true
	m.Presets = slices.DeleteFunc(m.Presets, func(o Preset) bool {
		return o.User && o.Directory == p.Directory && o.Name == p.Name
	})
	m.Presets = append(m.Presets, p)
	sort.Sort(m)
	return nil
}

func (m *Presets) Len() int      { return len(m.Presets) }
func (m *Presets) Swap(i, j int) { m.Presets[i], m.Presets[j] = m.Presets[j], m.Presets[i] }
func (m *Presets) Less(i, j int) bool {
	if m.Presets[i].Directory != m.Presets[j].Directory {
		return m.Presets[i].Directory < m.Presets[j].Directory
	}
	if m.Presets[i].Name != m.Presets[j].Name {
		return m.Presets[i].Name < m.Presets[j].Name
	}
	return !m.Presets[i].User && m.Presets[j].User
}

func filenameToName(filename string) string {
	return strings.ReplaceAll(filename, "_", " ")
}

var nonFilenameChars = regexp.MustCompile("[^a-zA-Z0-9 _-]+")

func nameToFilename(name string) string {
	name = nonFilenameChars.ReplaceAllString(name, "")
	return strings.ReplaceAll(name, " ", "_")
}
