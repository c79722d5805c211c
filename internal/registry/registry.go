// Package registry loads and validates the JSON tool specs that describe
// every external SaaS operation the orchestrator can invoke, and exposes
// typed, filtered views of them to the rest of the system.
package registry

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

// ToolDefinition is one immutable tool operation, constructed at registry
// load time and never mutated afterward.
type ToolDefinition struct {
	Service             string            `json:"service"`
	ToolName            string            `json:"tool_name"`
	Description         string            `json:"description"`
	HTTPMethod          string            `json:"http_method"`
	PathTemplate        string            `json:"path_template"`
	BaseURL             string            `json:"base_url"`
	AdapterFunction     string            `json:"adapter_function"`
	InputSchema         map[string]any    `json:"input_schema"`
	RequiredScopes      []string          `json:"required_scopes"`
	IdempotencyKeyPolicy string           `json:"idempotency_key_policy"`
	ErrorMap            map[string]string `json:"error_map"`
}

// ErrUnknownTool is returned by GetTool when no tool with that name exists.
var ErrUnknownTool = fmt.Errorf("unknown_tool")

// serviceSpec mirrors the on-disk JSON shape of one *.json file under the
// specs directory.
type serviceSpec struct {
	Service string `json:"service"`
	Version string `json:"version"`
	BaseURL string `json:"base_url"`
	Auth    struct {
		RequiredScopes []string `json:"required_scopes"`
	} `json:"auth"`
	Tools []struct {
		ToolName             string            `json:"tool_name"`
		Description          string            `json:"description"`
		Method               string            `json:"method"`
		Path                 string            `json:"path"`
		AdapterFunction      string            `json:"adapter_function"`
		InputSchema          map[string]any    `json:"input_schema"`
		RequiredScopes       []string          `json:"required_scopes"`
		IdempotencyKeyPolicy string            `json:"idempotency_key_policy"`
		ErrorMap             map[string]string `json:"error_map"`
	} `json:"tools"`
}

// Registry is the process-wide, read-after-init tool catalog. It is safe
// for concurrent readers; Reload takes an exclusive lock to swap state.
type Registry struct {
	specsDir string

	mu      sync.RWMutex
	once    sync.Once
	loadErr error
	byName  map[string]ToolDefinition
	byService map[string][]string // service -> sorted tool names

	watchMu     sync.Mutex
	watcher     *fsnotify.Watcher
	watchCancel context.CancelFunc
	watchWg     sync.WaitGroup
}

// New creates a registry that lazily loads specs from dir on first use.
func New(specsDir string) *Registry {
	return &Registry{specsDir: specsDir}
}

func (r *Registry) ensureLoaded() error {
	r.once.Do(func() {
		r.loadErr = r.load()
	})
	return r.loadErr
}

// Reload clears the memoised catalog and forces the next call to re-read
// every spec file from disk.
func (r *Registry) Reload() error {
	r.mu.Lock()
	r.once = sync.Once{}
	r.byName = nil
	r.byService = nil
	r.loadErr = nil
	r.mu.Unlock()
	return r.ensureLoaded()
}

func (r *Registry) load() error {
	entries, err := os.ReadDir(r.specsDir)
	if err != nil {
		return fmt.Errorf("read specs dir %s: %w", r.specsDir, err)
	}

	byName := make(map[string]ToolDefinition)
	byService := make(map[string][]string)

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") || entry.Name() == "schema.json" {
			continue
		}
		path := filepath.Join(r.specsDir, entry.Name())
		raw, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("%s: read: %w", entry.Name(), err)
		}
		var spec serviceSpec
		if err := json.Unmarshal(raw, &spec); err != nil {
			return fmt.Errorf("%s: invalid json: %w", entry.Name(), err)
		}
		if spec.Service == "" {
			return fmt.Errorf("%s: missing field service", entry.Name())
		}
		if spec.Version == "" {
			return fmt.Errorf("%s: missing field version", entry.Name())
		}
		if spec.BaseURL == "" {
			return fmt.Errorf("%s: missing field base_url", entry.Name())
		}
		if len(spec.Tools) == 0 {
			return fmt.Errorf("%s: tools must be non-empty", entry.Name())
		}
		service := strings.ToLower(spec.Service)
		for _, t := range spec.Tools {
			if t.ToolName == "" {
				return fmt.Errorf("%s: tool missing tool_name", entry.Name())
			}
			if !strings.HasPrefix(t.ToolName, service+"_") {
				return fmt.Errorf("%s: tool_name %q must start with %q", entry.Name(), t.ToolName, service+"_")
			}
			if t.Description == "" {
				return fmt.Errorf("%s: tool %s missing description", entry.Name(), t.ToolName)
			}
			if t.Method == "" {
				return fmt.Errorf("%s: tool %s missing method", entry.Name(), t.ToolName)
			}
			if t.Path == "" {
				return fmt.Errorf("%s: tool %s missing path", entry.Name(), t.ToolName)
			}
			if t.AdapterFunction == "" {
				return fmt.Errorf("%s: tool %s missing adapter_function", entry.Name(), t.ToolName)
			}
			if t.InputSchema == nil {
				return fmt.Errorf("%s: tool %s missing input_schema", entry.Name(), t.ToolName)
			}
			policy := t.IdempotencyKeyPolicy
			if policy == "" {
				policy = "none"
			}
			errMap := t.ErrorMap
			if errMap == nil {
				errMap = map[string]string{}
			}
			def := ToolDefinition{
				Service:              service,
				ToolName:             t.ToolName,
				Description:          t.Description,
				HTTPMethod:           strings.ToUpper(t.Method),
				PathTemplate:         t.Path,
				BaseURL:              spec.BaseURL,
				AdapterFunction:      t.AdapterFunction,
				InputSchema:          t.InputSchema,
				RequiredScopes:       t.RequiredScopes,
				IdempotencyKeyPolicy: policy,
				ErrorMap:             errMap,
			}
			if _, exists := byName[t.ToolName]; exists {
				return fmt.Errorf("%s: duplicate tool_name %s", entry.Name(), t.ToolName)
			}
			byName[t.ToolName] = def
			byService[service] = append(byService[service], t.ToolName)
		}
	}

	for svc := range byService {
		sort.Strings(byService[svc])
	}

	r.mu.Lock()
	r.byName = byName
	r.byService = byService
	r.mu.Unlock()
	return nil
}

// StartWatching watches specsDir for changes and calls Reload on every
// create/write/remove/rename event, debounced so a burst of edits to
// several spec files triggers one reload rather than one per file.
func (r *Registry) StartWatching(ctx context.Context, debounce time.Duration) error {
	r.watchMu.Lock()
	if r.watcher != nil {
		r.watchMu.Unlock()
		return nil
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		r.watchMu.Unlock()
		return fmt.Errorf("create tool spec watcher: %w", err)
	}
	if err := watcher.Add(r.specsDir); err != nil {
		_ = watcher.Close()
		r.watchMu.Unlock()
		return fmt.Errorf("watch tool specs dir %s: %w", r.specsDir, err)
	}
	r.watcher = watcher
	watchCtx, cancel := context.WithCancel(ctx)
	r.watchCancel = cancel
	r.watchMu.Unlock()

	if debounce <= 0 {
		debounce = 250 * time.Millisecond
	}
	r.watchWg.Add(1)
	go r.watchLoop(watchCtx, watcher, debounce)
	return nil
}

// Close stops the active watcher, if any.
func (r *Registry) Close() error {
	r.watchMu.Lock()
	if r.watchCancel != nil {
		r.watchCancel()
		r.watchCancel = nil
	}
	watcher := r.watcher
	r.watcher = nil
	r.watchMu.Unlock()

	if watcher != nil {
		_ = watcher.Close()
	}
	r.watchWg.Wait()
	return nil
}

func (r *Registry) watchLoop(ctx context.Context, watcher *fsnotify.Watcher, debounce time.Duration) {
	defer r.watchWg.Done()

	var mu sync.Mutex
	var timer *time.Timer
	scheduleReload := func() {
		mu.Lock()
		defer mu.Unlock()
		if timer != nil {
			timer.Stop()
		}
		timer = time.AfterFunc(debounce, func() {
			if err := r.Reload(); err != nil {
				slog.Default().Warn("tool spec reload failed", "error", err, "dir", r.specsDir)
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
			slog.Default().Warn("tool spec watch error", "error", err, "dir", r.specsDir)
		}
	}
}

// ListServices returns every service with at least one registered tool.
func (r *Registry) ListServices() ([]string, error) {
	if err := r.ensureLoaded(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.byService))
	for svc := range r.byService {
		out = append(out, svc)
	}
	sort.Strings(out)
	return out, nil
}

// ListTools returns every tool, or every tool for a given service when
// service is non-empty.
func (r *Registry) ListTools(service string) ([]ToolDefinition, error) {
	if err := r.ensureLoaded(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	var names []string
	if service == "" {
		for _, list := range r.byService {
			names = append(names, list...)
		}
		sort.Strings(names)
	} else {
		names = r.byService[strings.ToLower(service)]
	}
	out := make([]ToolDefinition, 0, len(names))
	for _, name := range names {
		out = append(out, r.byName[name])
	}
	return out, nil
}

// GetTool looks up one tool by its canonical name.
func (r *Registry) GetTool(name string) (ToolDefinition, error) {
	if err := r.ensureLoaded(); err != nil {
		return ToolDefinition{}, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	def, ok := r.byName[name]
	if !ok {
		return ToolDefinition{}, fmt.Errorf("%w: %s", ErrUnknownTool, name)
	}
	return def, nil
}

// ListAvailableTools returns tools whose service is connected and whose
// required_scopes are satisfied by grantedScopes[service] (tools with no
// required scopes always pass).
func (r *Registry) ListAvailableTools(connectedServices []string, grantedScopes map[string][]string) ([]ToolDefinition, error) {
	if err := r.ensureLoaded(); err != nil {
		return nil, err
	}
	connected := make(map[string]bool, len(connectedServices))
	for _, s := range connectedServices {
		connected[strings.ToLower(s)] = true
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []ToolDefinition
	var names []string
	for svc := range r.byService {
		if !connected[svc] {
			continue
		}
		names = append(names, r.byService[svc]...)
	}
	sort.Strings(names)
	for _, name := range names {
		def := r.byName[name]
		if len(def.RequiredScopes) == 0 {
			out = append(out, def)
			continue
		}
		granted := toSet(grantedScopes[def.Service])
		if scopesSatisfied(def.RequiredScopes, granted) {
			out = append(out, def)
		}
	}
	return out, nil
}

func scopesSatisfied(required []string, granted map[string]bool) bool {
	for _, s := range required {
		if !granted[s] {
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

// LLMTool is the projection of a ToolDefinition suitable for presenting to
// an LLM provider as a callable function.
type LLMTool struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"input_schema"`
}

// ListLLMTools projects every registered tool into the shape LLM providers
// expect for function/tool calling.
func (r *Registry) ListLLMTools() ([]LLMTool, error) {
	tools, err := r.ListTools("")
	if err != nil {
		return nil, err
	}
	out := make([]LLMTool, 0, len(tools))
	for _, t := range tools {
		out = append(out, LLMTool{Name: t.ToolName, Description: t.Description, InputSchema: t.InputSchema})
	}
	return out, nil
}
