// Package agents loads agent manifests from an agents directory:
// either a single registry.json or one manifest.json per subdirectory.
// A filesystem watcher keeps the in-memory list current.
package agents

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// Manifest describes one agent for the UI and chat routing.
type Manifest struct {
	ID            string   `json:"id"`
	Name          string   `json:"name"`
	Description   string   `json:"description"`
	Version       string   `json:"version"`
	Requires      []string `json:"requires"`
	Tools         []string `json:"tools"`
	NotebookModes []string `json:"notebook_modes"`
	Provider      string   `json:"provider"`
	Model         string   `json:"model"`
}

// Registry is the in-memory agent list backed by the agents directory.
type Registry struct {
	dir    string
	logger *slog.Logger

	mu     sync.RWMutex
	agents []Manifest
}

// NewRegistry loads the agents directory. A missing directory yields
// an empty registry, not an error.
func NewRegistry(dir string, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Registry{dir: dir, logger: logger}
	r.Reload()
	return r
}

// List returns the current agents.
func (r *Registry) List() []Manifest {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]Manifest(nil), r.agents...)
}

// Resolve returns the agent with the given id, falling back to the
// first registered agent; ok is false only when no agents exist.
func (r *Registry) Resolve(id string) (Manifest, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if len(r.agents) == 0 {
		return Manifest{}, false
	}
	id = strings.TrimSpace(id)
	if id != "" {
		for _, a := range r.agents {
			if a.ID == id {
				return a, true
			}
		}
	}
	return r.agents[0], true
}

// Reload re-reads the agents directory: registry.json wins when it
// yields agents, otherwise per-directory manifests.
func (r *Registry) Reload() {
	agents := r.loadFromRegistryFile()
	if len(agents) == 0 {
		agents = r.discoverFromFolders()
	}

	r.mu.Lock()
	r.agents = agents
	r.mu.Unlock()
}

// Watch reloads the registry on filesystem changes until ctx is done.
// Watching is best-effort: an unwatchable directory logs and returns.
func (r *Registry) Watch(ctx context.Context) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		r.logger.Warn("agents_watch_unavailable", slog.String("error", err.Error()))
		return
	}
	defer watcher.Close()

	if err := watcher.Add(r.dir); err != nil {
		r.logger.Warn("agents_watch_unavailable",
			slog.String("dir", r.dir),
			slog.String("error", err.Error()))
		return
	}
	// Subdirectory manifests change without touching the root dir.
	entries, _ := os.ReadDir(r.dir)
	for _, e := range entries {
		if e.IsDir() {
			_ = watcher.Add(filepath.Join(r.dir, e.Name()))
		}
	}

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-watcher.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			if ev.Op&fsnotify.Create != 0 {
				if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
					_ = watcher.Add(ev.Name)
				}
			}
			r.Reload()
			r.logger.Info("agents_reloaded", slog.String("trigger", ev.Name))
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			r.logger.Warn("agents_watch_error", slog.String("error", err.Error()))
		}
	}
}

func (r *Registry) loadFromRegistryFile() []Manifest {
	path := filepath.Join(r.dir, "registry.json")
	data, err := os.ReadFile(path)
	if err != nil {
		return nil
	}

	var payload struct {
		Agents []json.RawMessage `json:"agents"`
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		r.logger.Warn("agents_registry_invalid", slog.String("path", path), slog.String("error", err.Error()))
		return nil
	}

	var agents []Manifest
	for _, raw := range payload.Agents {
		var m Manifest
		if err := json.Unmarshal(raw, &m); err != nil {
			continue
		}
		m = normalize(m)
		if m.ID != "" && m.Name != "" {
			agents = append(agents, m)
		}
	}
	return agents
}

func (r *Registry) discoverFromFolders() []Manifest {
	entries, err := os.ReadDir(r.dir)
	if err != nil {
		return nil
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	var agents []Manifest
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		data, err := os.ReadFile(filepath.Join(r.dir, e.Name(), "manifest.json"))
		if err != nil {
			continue
		}
		var m Manifest
		if err := json.Unmarshal(data, &m); err != nil {
			r.logger.Warn("agent_manifest_invalid", slog.String("dir", e.Name()), slog.String("error", err.Error()))
			continue
		}
		m = normalize(m)
		if m.ID != "" && m.Name != "" {
			agents = append(agents, m)
		}
	}
	return agents
}

// normalize trims fields and applies the manifest defaults.
func normalize(m Manifest) Manifest {
	m.ID = strings.TrimSpace(m.ID)
	m.Name = strings.TrimSpace(m.Name)
	m.Description = strings.TrimSpace(m.Description)
	m.Version = strings.TrimSpace(m.Version)
	if m.Version == "" {
		m.Version = "0.0.0"
	}
	m.Requires = trimList(m.Requires)
	m.Tools = trimList(m.Tools)
	m.NotebookModes = trimList(m.NotebookModes)
	if len(m.NotebookModes) == 0 {
		m.NotebookModes = []string{"agent"}
	}
	m.Provider = strings.ToLower(strings.TrimSpace(m.Provider))
	if m.Provider == "" {
		m.Provider = "ollama"
	}
	m.Model = strings.TrimSpace(m.Model)
	return m
}

func trimList(in []string) []string {
	var out []string
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
