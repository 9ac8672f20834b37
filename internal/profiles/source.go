// Package profiles loads and saves the profiles file that feeds the launch core.
package profiles

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"workswitch/internal/core"
)

// ErrProfileNotFound aliases the core error so callers may check either.
var ErrProfileNotFound = core.ErrProfileNotFound

type format int

const (
	formatJSON format = iota
	formatYAML
	formatTOML
)

func formatFor(path string) format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return formatYAML
	case ".toml":
		return formatTOML
	default:
		return formatJSON
	}
}

// FileSource reads the profiles file on every Load. A missing file yields an
// empty configuration with default settings.
type FileSource struct {
	path string
	mu   sync.Mutex
}

// NewFileSource returns a source backed by the file at path.
func NewFileSource(path string) *FileSource {
	return &FileSource{path: path}
}

// Path returns the backing file path.
func (s *FileSource) Path() string {
	return s.path
}

// Load implements core.ProfileSource.
func (s *FileSource) Load(ctx context.Context) (*core.AppConfig, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return (&fileConfig{}).toCore(), nil
		}
		return nil, fmt.Errorf("read profiles: %w", err)
	}
	f, err := decode(data, formatFor(s.path))
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", filepath.Base(s.path), err)
	}
	return f.toCore(), nil
}

// Save writes cfg atomically by writing a temporary file and renaming it.
func (s *FileSource) Save(ctx context.Context, cfg *core.AppConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saveLocked(cfg)
}

func (s *FileSource) saveLocked(cfg *core.AppConfig) error {
	data, err := encode(fromCore(cfg), formatFor(s.path))
	if err != nil {
		return fmt.Errorf("encode profiles: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("ensure profiles dir: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write profiles: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("rename profiles: %w", err)
	}
	return nil
}

// ExportProfile renders a single profile as indented JSON.
func (s *FileSource) ExportProfile(ctx context.Context, id string) ([]byte, error) {
	cfg, err := s.Load(ctx)
	if err != nil {
		return nil, err
	}
	profile, ok := cfg.FindProfile(id)
	if !ok {
		return nil, ErrProfileNotFound
	}
	return json.MarshalIndent(profileFromCore(profile), "", "  ")
}

// ImportProfile parses a profile JSON document, assigns an id when missing or
// already taken, validates it, and appends it to the file.
func (s *FileSource) ImportProfile(ctx context.Context, data []byte) (*core.Profile, error) {
	profile, err := ParseProfile(data)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	cfg, err := s.Load(ctx)
	if err != nil {
		return nil, err
	}
	if _, taken := cfg.FindProfile(profile.ID); profile.ID == "" || taken {
		profile.ID = core.NewID()
	}
	cfg.Profiles = append(cfg.Profiles, profile)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	if err := s.saveLocked(cfg); err != nil {
		return nil, err
	}
	return &profile, nil
}

// ParseProfile decodes a single exported profile.
func ParseProfile(data []byte) (core.Profile, error) {
	var fp fileProfile
	dec := json.NewDecoder(bytes.NewReader(data))
	if err := dec.Decode(&fp); err != nil {
		return core.Profile{}, fmt.Errorf("invalid profile JSON: %w", err)
	}
	if strings.TrimSpace(fp.Name) == "" {
		return core.Profile{}, errors.New("invalid profile JSON: name is required")
	}
	return fp.toCore(), nil
}

func decode(data []byte, f format) (*fileConfig, error) {
	var cfg fileConfig
	switch f {
	case formatYAML:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, err
		}
	case formatTOML:
		if _, err := toml.Decode(string(data), &cfg); err != nil {
			return nil, err
		}
	default:
		if len(bytes.TrimSpace(data)) == 0 {
			return &cfg, nil
		}
		if err := json.Unmarshal(data, &cfg); err != nil {
			return nil, err
		}
	}
	return &cfg, nil
}

func encode(cfg *fileConfig, f format) ([]byte, error) {
	switch f {
	case formatYAML:
		return yaml.Marshal(cfg)
	case formatTOML:
		var buf bytes.Buffer
		if err := toml.NewEncoder(&buf).Encode(cfg); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	default:
		return json.MarshalIndent(cfg, "", "  ")
	}
}
