// Package contracts loads and validates the JSON skill contracts that
// compose one or more registry tools into a named, typed capability, and
// resolves skill<->tool relationships for the planners.
package contracts

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Provider identifies the owning service of a skill and the scopes it needs.
type Provider struct {
	Service string   `json:"service"`
	Scopes  []string `json:"scopes"`
}

// SkillContract is one immutable skill definition.
type SkillContract struct {
	Name         string         `json:"name"`
	Version      string         `json:"version"`
	Summary      string         `json:"summary"`
	Provider     Provider       `json:"provider"`
	Autofill     map[string]any `json:"autofill"`
	InputSchema  map[string]any `json:"input_schema"`
	OutputSchema map[string]any `json:"output_schema"`
	Examples     []any          `json:"examples"`
	RuntimeTools []string       `json:"runtime_tools"`
}

// Store is the process-wide, read-after-init skill contract catalog.
type Store struct {
	dir string

	mu        sync.RWMutex
	once      sync.Once
	loadErr   error
	byName    map[string]SkillContract
	byService map[string][]string

	watchMu     sync.Mutex
	watcher     *fsnotify.Watcher
	watchCancel context.CancelFunc
	watchWg     sync.WaitGroup
}

// New creates a skill contract store that lazily loads from dir.
func New(dir string) *Store {
	return &Store{dir: dir}
}

func (s *Store) ensureLoaded() error {
	s.once.Do(func() {
		s.loadErr = s.load()
	})
	return s.loadErr
}

// Reload forces the next call to re-read every contract file from disk.
func (s *Store) Reload() error {
	s.mu.Lock()
	s.once = sync.Once{}
	s.byName = nil
	s.byService = nil
	s.loadErr = nil
	s.mu.Unlock()
	return s.ensureLoaded()
}

func (s *Store) load() error {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return fmt.Errorf("read contracts dir %s: %w", s.dir, err)
	}

	byName := make(map[string]SkillContract)
	byService := make(map[string][]string)

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		path := filepath.Join(s.dir, entry.Name())
		raw, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("%s: read: %w", entry.Name(), err)
		}
		var sc SkillContract
		if err := json.Unmarshal(raw, &sc); err != nil {
			return fmt.Errorf("%s: invalid json: %w", entry.Name(), err)
		}
		if err := validate(entry.Name(), sc); err != nil {
			return err
		}
		byName[sc.Name] = sc
		byService[sc.Provider.Service] = append(byService[sc.Provider.Service], sc.Name)
	}

	for svc := range byService {
		sort.Strings(byService[svc])
	}

	s.mu.Lock()
	s.byName = byName
	s.byService = byService
	s.mu.Unlock()
	return nil
}

// StartWatching watches dir for changes and calls Reload on every
// create/write/remove/rename event, debounced so a burst of edits to
// several contract files triggers one reload rather than one per file.
func (s *Store) StartWatching(ctx context.Context, debounce time.Duration) error {
	s.watchMu.Lock()
	if s.watcher != nil {
		s.watchMu.Unlock()
		return nil
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		s.watchMu.Unlock()
		return fmt.Errorf("create contracts watcher: %w", err)
	}
	if err := watcher.Add(s.dir); err != nil {
		_ = watcher.Close()
		s.watchMu.Unlock()
		return fmt.Errorf("watch contracts dir %s: %w", s.dir, err)
	}
	s.watcher = watcher
	watchCtx, cancel := context.WithCancel(ctx)
	s.watchCancel = cancel
	s.watchMu.Unlock()

	if debounce <= 0 {
		debounce = 250 * time.Millisecond
	}
	s.watchWg.Add(1)
	go s.watchLoop(watchCtx, watcher, debounce)
	return nil
}

// Close stops the active watcher, if any.
func (s *Store) Close() error {
	s.watchMu.Lock()
	if s.watchCancel != nil {
		s.watchCancel()
		s.watchCancel = nil
	}
	watcher := s.watcher
	s.watcher = nil
	s.watchMu.Unlock()

	if watcher != nil {
		_ = watcher.Close()
	}
	s.watchWg.Wait()
	return nil
}

func (s *Store) watchLoop(ctx context.Context, watcher *fsnotify.Watcher, debounce time.Duration) {
	defer s.watchWg.Done()

	var mu sync.Mutex
	var timer *time.Timer
	scheduleReload := func() {
		mu.Lock()
		defer mu.Unlock()
		if timer != nil {
			timer.Stop()
		}
		timer = time.AfterFunc(debounce, func() {
			if err := s.Reload(); err != nil {
				slog.Default().Warn("skill contract reload failed", "error", err, "dir", s.dir)
			}
		})
	}

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) != 0 {
				scheduleReload()
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			slog.Default().Warn("skill contract watch error", "error", err, "dir", s.dir)
		}
	}
}

func validate(file string, sc SkillContract) error {
	if sc.Name == "" {
		return fmt.Errorf("%s: missing field name", file)
	}
	if !strings.Contains(sc.Name, ".") {
		return fmt.Errorf("%s: name %q must contain a '.'", file, sc.Name)
	}
	if sc.Version == "" {
		return fmt.Errorf("%s: missing field version", file)
	}
	if sc.Summary == "" {
		return fmt.Errorf("%s: missing field summary", file)
	}
	prefix := strings.SplitN(sc.Name, ".", 2)[0]
	if sc.Provider.Service != prefix {
		return fmt.Errorf("%s: provider.service %q must equal name prefix %q", file, sc.Provider.Service, prefix)
	}
	if len(sc.RuntimeTools) == 0 {
		return fmt.Errorf("%s: runtime_tools must be non-empty", file)
	}
	for _, t := range sc.RuntimeTools {
		if strings.TrimSpace(t) == "" {
			return fmt.Errorf("%s: runtime_tools contains an empty entry", file)
		}
	}
	if !isObjectSchema(sc.InputSchema) {
		return fmt.Errorf("%s: input_schema must be an object schema", file)
	}
	if !isObjectSchema(sc.OutputSchema) {
		return fmt.Errorf("%s: output_schema must be an object schema", file)
	}
	if len(sc.Examples) == 0 {
		return fmt.Errorf("%s: examples must be non-empty", file)
	}
	return nil
}

func isObjectSchema(schema map[string]any) bool {
	if schema == nil {
		return false
	}
	t, _ := schema["type"].(string)
	return t == "object"
}

// Get looks up one skill contract by name.
func (s *Store) Get(name string) (SkillContract, bool, error) {
	if err := s.ensureLoaded(); err != nil {
		return SkillContract{}, false, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	sc, ok := s.byName[name]
	return sc, ok, nil
}

// ListByService returns every skill contract owned by a service.
func (s *Store) ListByService(service string) ([]SkillContract, error) {
	if err := s.ensureLoaded(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := s.byService[service]
	out := make([]SkillContract, 0, len(names))
	for _, n := range names {
		out = append(out, s.byName[n])
	}
	return out, nil
}

// RuntimeToolsFor returns the ordered runtime tool list for a skill.
func (s *Store) RuntimeToolsFor(name string) ([]string, error) {
	sc, ok, err := s.Get(name)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	return sc.RuntimeTools, nil
}

// RequiredScopesFor returns the scopes a skill's provider needs.
func (s *Store) RequiredScopesFor(name string) ([]string, error) {
	sc, ok, err := s.Get(name)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	return sc.Provider.Scopes, nil
}

// InferSkill chooses the unique skill whose runtime_tools is the smallest
// superset of a set of selected tool names; ties resolve to no inference.
func (s *Store) InferSkill(selectedTools []string) (string, bool, error) {
	if err := s.ensureLoaded(); err != nil {
		return "", false, err
	}
	selected := toSet(selectedTools)

	s.mu.RLock()
	defer s.mu.RUnlock()

	var best string
	bestSize := -1
	tie := false
	for name, sc := range s.byName {
		toolSet := toSet(sc.RuntimeTools)
		if !isSuperset(toolSet, selected) {
			continue
		}
		size := len(toolSet)
		switch {
		case bestSize == -1 || size < bestSize:
			best = name
			bestSize = size
			tie = false
		case size == bestSize:
			tie = true
		}
	}
	if best == "" || tie {
		return "", false, nil
	}
	return best, true, nil
}

func isSuperset(set, subset map[string]bool) bool {
	for k := range subset {
		if !set[k] {
			return false
		}
	}
	return true
}

func toSet(items []string) map[string]bool {
	out := make(map[string]bool, len(items))
	for _, s := range items {
		out[s] = true
	}
	return out
}
