package store

import (
	"strings"
	"time"

	"noteforge/api/internal/content"
)

const (
	// DocumentsKey holds the serialized document collection.
	DocumentsKey = "noteforge-documents"
	// SettingsKey holds the serialized settings object.
	SettingsKey = "noteforge-settings"

	DefaultTitle = "Untitled Document"
)

// Document is a persisted writing artifact. Text, WordCount and CharCount are
// derived from Content and are never edited directly.
type Document struct {
	ID           string        `json:"id"`
	Title        string        `json:"title"`
	Content      content.Delta `json:"content"`
	Text         string        `json:"text"`
	CreatedAt    time.Time     `json:"createdAt"`
	LastModified time.Time     `json:"lastModified"`
	WordCount    int           `json:"wordCount"`
	CharCount    int           `json:"charCount"`
}

// Clone returns a copy that shares no mutable state with d.
func (d Document) Clone() Document {
	out := d
	out.Content = d.Content.Clone()
	return out
}

// reproject resynchronizes the derived fields with Content.
func (d *Document) reproject() {
	p := content.Project(d.Content)
	d.Text = p.Text
	d.WordCount = p.WordCount
	d.CharCount = p.CharCount
}

// touch sets LastModified to now, never earlier than CreatedAt.
func (d *Document) touch(now time.Time) {
	if now.Before(d.CreatedAt) {
		now = d.CreatedAt
	}
	d.LastModified = now
}

func normalizeTitle(title string) string {
	if strings.TrimSpace(title) == "" {
		return DefaultTitle
	}
	return title
}

// Settings is the process-wide configuration object.
type Settings struct {
	Version          int     `json:"version"`
	Theme            string  `json:"theme"`
	FontFamily       string  `json:"fontFamily"`
	FontSize         int     `json:"fontSize"`
	LineHeight       float64 `json:"lineHeight"`
	AutoSave         bool    `json:"autoSave"`
	DropboxKey       string  `json:"dropboxKey"`
	DropboxConnected bool    `json:"dropboxConnected"`
}

// DefaultSettings returns the hardcoded defaults stored settings are merged
// over.
func DefaultSettings() Settings {
	return Settings{
		Version:    SettingsVersion,
		Theme:      "light",
		FontFamily: "inter",
		FontSize:   16,
		LineHeight: 1.6,
		AutoSave:   true,
	}
}
