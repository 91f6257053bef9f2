// Package tags routes scanned tag events: control tags drive the
// session state machine, mapped phrases are injected into the
// conversation on the user's behalf.
package tags

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"sync"

	"github.com/CollaboratorFuturity/futuresGarden/internal/httpc"
)

// Map resolves tag UIDs to phrases. The authoritative copy lives at a
// URL; a local JSON file is the fallback so the appliance keeps
// working offline. Reload swaps the whole map atomically.
type Map struct {
	url    string
	path   string
	client *http.Client
	logger *slog.Logger

	mu   sync.RWMutex
	tags map[string]string
}

// NewMap creates a tag map and performs an initial load. A failed
// load leaves an empty map; the reader just matches nothing until the
// source appears.
func NewMap(url, path string, logger *slog.Logger) *Map {
	if logger == nil {
		logger = slog.Default()
	}
	m := &Map{
		url:    url,
		path:   path,
		client: httpc.Client,
		logger: logger,
		tags:   map[string]string{},
	}
	if err := m.Reload(); err != nil {
		logger.Warn("initial tag map load failed", "error", err)
	}
	return m
}

// Lookup resolves a UID to its phrase. UIDs are case-insensitive.
func (m *Map) Lookup(uid string) (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	phrase, ok := m.tags[normalizeUID(uid)]
	return phrase, ok
}

// Len returns the number of mapped tags.
func (m *Map) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.tags)
}

// Reload refreshes the map: URL first, file fallback. On total
// failure the previous map is kept.
func (m *Map) Reload() error {
	data, err := m.fetch()
	if err != nil {
		return err
	}

	tags, err := parseTags(data)
	if err != nil {
		return err
	}

	m.mu.Lock()
	m.tags = tags
	m.mu.Unlock()
	m.logger.Info("tag map loaded", "tags", len(tags))
	return nil
}

// SetLocation repoints the map at new sources, used when the agent
// identity changes at runtime. It does not itself reload.
func (m *Map) SetLocation(url, path string) {
	m.mu.Lock()
	m.url = url
	m.path = path
	m.mu.Unlock()
}

func (m *Map) fetch() ([]byte, error) {
	m.mu.RLock()
	url, path := m.url, m.path
	m.mu.RUnlock()

	if url != "" {
		resp, err := m.client.Get(url)
		if err == nil {
			data, readErr := io.ReadAll(resp.Body)
			resp.Body.Close()
			if resp.StatusCode == http.StatusOK && readErr == nil {
				return data, nil
			}
			m.logger.Warn("tag map fetch unusable, trying file",
				"url", url, "status", resp.StatusCode, "error", readErr)
		} else {
			m.logger.Warn("tag map fetch failed, trying file", "url", url, "error", err)
		}
	}

	if path == "" {
		return nil, fmt.Errorf("tags: no source configured")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("tags: read %s: %w", path, err)
	}
	return data, nil
}

// parseTags accepts either {"UID": "phrase"} or [["UID","phrase"],...].
func parseTags(data []byte) (map[string]string, error) {
	tags := map[string]string{}

	var dict map[string]string
	if err := json.Unmarshal(data, &dict); err == nil {
		for uid, phrase := range dict {
			tags[normalizeUID(uid)] = phrase
		}
		return tags, nil
	}

	var pairs [][]string
	if err := json.Unmarshal(data, &pairs); err != nil {
		return nil, fmt.Errorf("tags: unrecognized map format: %w", err)
	}
	for _, pair := range pairs {
		if len(pair) != 2 {
			continue
		}
		tags[normalizeUID(pair[0])] = pair[1]
	}
	return tags, nil
}

func normalizeUID(uid string) string {
	return strings.ToUpper(strings.TrimSpace(uid))
}
