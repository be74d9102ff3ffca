package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Output formats accepted by the output_format setting.
const (
	OutputText       = "text"
	OutputStreamJSON = "stream-json"
)

// Settings control how runs are displayed and recorded.
type Settings struct {
	// OutputFormat is text or stream-json; empty means text.
	OutputFormat string
	// Markdown renders the final chat message as markdown when true.
	Markdown *bool
	// Record stores run transcripts when true.
	Record *bool
	// Raw retains the full JSON map.
	Raw map[string]any
}

// MarkdownEnabled reports the markdown setting, defaulting to true.
func (s *Settings) MarkdownEnabled() bool {
	return s == nil || s.Markdown == nil || *s.Markdown
}

// RecordEnabled reports the record setting, defaulting to true.
func (s *Settings) RecordEnabled() bool {
	return s == nil || s.Record == nil || *s.Record
}

// LoadSettings loads settings from user/project/local sources and merges
// them, with extraSettings (a path or inline JSON) applied last.
func LoadSettings(cwd string, sources []string, extraSettings string) (*Settings, error) {
	sourceSet := normalizeSources(sources)
	paths, err := settingsPaths(cwd)
	if err != nil {
		return nil, err
	}

	var merged *Settings
	for _, item := range paths {
		if len(sourceSet) > 0 && !sourceSet[item.Source] {
			continue
		}
		settings, err := loadSettingsFromFile(item.Path)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			return nil, err
		}
		merged = mergeSettings(merged, settings)
	}

	if extraSettings != "" {
		override, err := loadSettingsFlag(extraSettings)
		if err != nil {
			return nil, err
		}
		merged = mergeSettings(merged, override)
	}

	if merged == nil {
		return &Settings{Raw: map[string]any{}}, nil
	}
	return merged, nil
}

// settingsSource pairs a settings layer name with its file.
type settingsSource struct {
	Source string
	Path   string
}

// settingsPaths resolves user, project, and local settings files.
func settingsPaths(cwd string) ([]settingsSource, error) {
	dir, err := Dir()
	if err != nil {
		return nil, err
	}
	projectRoot := findProjectRoot(cwd)

	return []settingsSource{
		{Source: "user", Path: filepath.Join(dir, "settings.json")},
		{Source: "project", Path: filepath.Join(projectRoot, ".jobstream", "settings.json")},
		{Source: "local", Path: filepath.Join(cwd, ".jobstream", "settings.json")},
	}, nil
}

// normalizeSources returns a set of allowed sources, or nil if unrestricted.
func normalizeSources(sources []string) map[string]bool {
	if len(sources) == 0 {
		return nil
	}
	set := make(map[string]bool)
	for _, entry := range sources {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		set[strings.ToLower(entry)] = true
	}
	return set
}

// loadSettingsFromFile reads settings JSON from disk.
func loadSettingsFromFile(path string) (*Settings, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return parseSettings(raw)
}

// loadSettingsFlag resolves a settings override from a path or inline JSON.
func loadSettingsFlag(value string) (*Settings, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil, nil
	}
	if strings.HasPrefix(trimmed, "{") {
		return parseSettings([]byte(trimmed))
	}
	return loadSettingsFromFile(trimmed)
}

// parseSettings parses display settings JSON, rejecting unknown output formats.
func parseSettings(raw []byte) (*Settings, error) {
	var data map[string]any
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, fmt.Errorf("parse settings: %w", err)
	}

	settings := &Settings{Raw: data}
	if format, ok := data["output_format"].(string); ok {
		switch format {
		case OutputText, OutputStreamJSON:
			settings.OutputFormat = format
		default:
			return nil, fmt.Errorf("parse settings: unknown output_format %q", format)
		}
	}
	if markdown, ok := data["markdown"].(bool); ok {
		settings.Markdown = &markdown
	}
	if record, ok := data["record"].(bool); ok {
		settings.Record = &record
	}
	return settings, nil
}

// mergeSettings applies overlay values on top of the base settings.
func mergeSettings(base *Settings, overlay *Settings) *Settings {
	if base == nil {
		return overlay
	}
	if overlay == nil {
		return base
	}

	merged := &Settings{
		OutputFormat: base.OutputFormat,
		Markdown:     base.Markdown,
		Record:       base.Record,
		Raw:          map[string]any{},
	}
	for key, value := range base.Raw {
		merged.Raw[key] = value
	}
	for key, value := range overlay.Raw {
		merged.Raw[key] = value
	}

	if overlay.OutputFormat != "" {
		merged.OutputFormat = overlay.OutputFormat
	}
	if overlay.Markdown != nil {
		merged.Markdown = overlay.Markdown
	}
	if overlay.Record != nil {
		merged.Record = overlay.Record
	}
	return merged
}

// findProjectRoot locates the nearest parent directory containing .git.
func findProjectRoot(cwd string) string {
	current := filepath.Clean(cwd)
	for {
		if _, err := os.Stat(filepath.Join(current, ".git")); err == nil {
			return current
		}
		parent := filepath.Dir(current)
		if parent == current {
			return cwd
		}
		current = parent
	}
}
