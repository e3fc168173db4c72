package store

import (
	"bytes"
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"
	"github.com/sirupsen/logrus"
)

// SettingsVersion is the shape written by this build. Blobs without a version
// field predate it and are migrated on load.
const SettingsVersion = 1

const settingsSchemaURL = "noteforge-settings.json"

//go:embed settings.schema.json
var settingsSchema []byte

// SettingsPatch carries the fields of one settings mutation; nil fields are
// left unchanged.
type SettingsPatch struct {
	Theme            *string  `json:"theme,omitempty"`
	FontFamily       *string  `json:"fontFamily,omitempty"`
	FontSize         *int     `json:"fontSize,omitempty"`
	LineHeight       *float64 `json:"lineHeight,omitempty"`
	AutoSave         *bool    `json:"autoSave,omitempty"`
	DropboxKey       *string  `json:"dropboxKey,omitempty"`
	DropboxConnected *bool    `json:"dropboxConnected,omitempty"`
}

func (p SettingsPatch) apply(s Settings) Settings {
	if p.Theme != nil {
		s.Theme = *p.Theme
	}
	if p.FontFamily != nil {
		s.FontFamily = *p.FontFamily
	}
	if p.FontSize != nil {
		s.FontSize = *p.FontSize
	}
	if p.LineHeight != nil {
		s.LineHeight = *p.LineHeight
	}
	if p.AutoSave != nil {
		s.AutoSave = *p.AutoSave
	}
	if p.DropboxKey != nil {
		s.DropboxKey = strings.TrimSpace(*p.DropboxKey)
	}
	if p.DropboxConnected != nil {
		s.DropboxConnected = *p.DropboxConnected
	}
	return s
}

// SettingsStore owns the process-wide Settings and persists it under
// SettingsKey on every mutation.
type SettingsStore struct {
	backend Backend
	log     logrus.FieldLogger
	schema  *jsonschema.Schema

	mu      sync.RWMutex
	current Settings
}

func NewSettingsStore(backend Backend, log logrus.FieldLogger) (*SettingsStore, error) {
	if log == nil {
		log = logrus.StandardLogger()
	}
	schema, err := compileSettingsSchema()
	if err != nil {
		return nil, err
	}
	return &SettingsStore{
		backend: backend,
		log:     log.WithField("component", "settings_store"),
		schema:  schema,
		current: DefaultSettings(),
	}, nil
}

func compileSettingsSchema() (*jsonschema.Schema, error) {
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(settingsSchema))
	if err != nil {
		return nil, fmt.Errorf("decode settings schema: %w", err)
	}
	c := jsonschema.NewCompiler()
	if err := c.AddResource(settingsSchemaURL, doc); err != nil {
		return nil, fmt.Errorf("add settings schema: %w", err)
	}
	schema, err := c.Compile(settingsSchemaURL)
	if err != nil {
		return nil, fmt.Errorf("compile settings schema: %w", err)
	}
	return schema, nil
}

// Load reads the stored blob, migrates older shapes, drops keys that fail
// validation and merges the rest over the defaults. Only a backend read
// failure is returned; bad data degrades to defaults.
func (s *SettingsStore) Load(ctx context.Context) (Settings, error) {
	raw, err := s.backend.Get(ctx, SettingsKey)
	if err != nil {
		return s.Get(), fmt.Errorf("read %s: %w", SettingsKey, err)
	}

	merged := DefaultSettings()
	if len(bytes.TrimSpace(raw)) > 0 {
		var migrated bool
		merged, migrated = s.decode(raw)
		if migrated {
			if err := s.write(ctx, merged); err != nil {
				s.log.WithError(err).Warn("write migrated settings failed")
			}
		}
	}

	s.mu.Lock()
	s.current = merged
	s.mu.Unlock()
	return merged, nil
}

func (s *SettingsStore) decode(raw []byte) (Settings, bool) {
	defaults := DefaultSettings()
	value, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		s.log.WithError(err).Warn("stored settings are not valid JSON, using defaults")
		return defaults, false
	}
	fields, ok := value.(map[string]any)
	if !ok {
		s.log.Warn("stored settings are not an object, using defaults")
		return defaults, false
	}

	migrated := migrateSettings(fields)

	keys := make([]string, 0, len(fields))
	for key := range fields {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		if err := s.schema.Validate(map[string]any{key: fields[key]}); err != nil {
			s.log.WithField("setting", key).Warn("dropping invalid stored setting")
			delete(fields, key)
		}
	}

	filtered, err := json.Marshal(fields)
	if err != nil {
		return defaults, false
	}
	merged := defaults
	if err := json.Unmarshal(filtered, &merged); err != nil {
		s.log.WithError(err).Warn("merge stored settings failed, using defaults")
		return defaults, false
	}
	merged.Version = SettingsVersion
	return merged, migrated
}

// migrateSettings upgrades an unversioned blob in place. Version 0 stored
// slider values as strings.
func migrateSettings(fields map[string]any) bool {
	if settingsVersionOf(fields) >= SettingsVersion {
		return false
	}
	if v, ok := fields["fontSize"].(string); ok {
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			fields["fontSize"] = json.Number(strconv.Itoa(n))
		}
	}
	if v, ok := fields["lineHeight"].(string); ok {
		if f, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil {
			fields["lineHeight"] = json.Number(strconv.FormatFloat(f, 'f', -1, 64))
		}
	}
	if v, ok := fields["autoSave"].(string); ok {
		if b, err := strconv.ParseBool(strings.TrimSpace(v)); err == nil {
			fields["autoSave"] = b
		}
	}
	fields["version"] = json.Number(strconv.Itoa(SettingsVersion))
	return true
}

func settingsVersionOf(fields map[string]any) int {
	n, ok := fields["version"].(json.Number)
	if !ok {
		return 0
	}
	v, err := n.Int64()
	if err != nil {
		return 0
	}
	return int(v)
}

// Get returns the current settings.
func (s *SettingsStore) Get() Settings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

// Update validates and applies a patch, then persists. An invalid patch
// changes nothing. A persistence failure keeps the new value in memory.
func (s *SettingsStore) Update(ctx context.Context, patch SettingsPatch) (Settings, error) {
	s.mu.Lock()
	next := patch.apply(s.current)
	if err := s.Validate(next); err != nil {
		s.mu.Unlock()
		return s.Get(), err
	}
	s.current = next
	s.mu.Unlock()

	if err := s.write(ctx, next); err != nil {
		return next, err
	}
	return next, nil
}

// Validate checks a settings value against the schema.
func (s *SettingsStore) Validate(settings Settings) error {
	raw, err := json.Marshal(settings)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSettings, err)
	}
	value, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSettings, err)
	}
	if err := s.schema.Validate(value); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSettings, err)
	}
	return nil
}

func (s *SettingsStore) write(ctx context.Context, settings Settings) error {
	data, err := json.Marshal(settings)
	if err != nil {
		return &PersistenceError{Key: SettingsKey, Err: err}
	}
	if err := s.backend.Put(ctx, SettingsKey, data); err != nil {
		s.log.WithError(err).WithField("key", SettingsKey).Error("persist settings failed")
		return &PersistenceError{Key: SettingsKey, Err: err}
	}
	return nil
}
