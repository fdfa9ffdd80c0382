package plugin

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// CleanupTimeout bounds each provider's Cleanup call.
const CleanupTimeout = 5 * time.Second

// Registry holds provider factories in registration order.
type Registry struct {
	names     []string
	factories map[string]Factory
	log       *slog.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(log *slog.Logger) *Registry {
	if log == nil {
		log = slog.Default()
	}
	return &Registry{factories: make(map[string]Factory), log: log}
}

// Register adds an already-built provider. Every run shares the same value,
// so only stateless providers should be registered this way.
func (r *Registry) Register(p Provider) error {
	return r.RegisterFactory(p.Name(), func() (Provider, error) { return p, nil })
}

// RegisterFactory adds a provider factory under name.
func (r *Registry) RegisterFactory(name string, f Factory) error {
	if name == "" {
		return fmt.Errorf("plugin name is required")
	}
	if _, dup := r.factories[name]; dup {
		return fmt.Errorf("plugin %q already registered", name)
	}
	r.names = append(r.names, name)
	r.factories[name] = f
	return nil
}

// Names lists registered plugin names in registration order.
func (r *Registry) Names() []string {
	out := make([]string, len(r.names))
	copy(out, r.names)
	return out
}

// Discover registers a script factory for every .go file in dir. Files whose
// name starts with "_" and test files are skipped. A missing directory is
// not an error.
func (r *Registry) Discover(dir string) ([]string, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, nil
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("plugin: read %s: %w", dir, err)
	}

	var paths []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || filepath.Ext(name) != ".go" {
			continue
		}
		if strings.HasPrefix(name, "_") || strings.HasSuffix(name, "_test.go") {
			continue
		}
		paths = append(paths, filepath.Join(dir, name))
	}
	sort.Strings(paths)

	var found []string
	for _, path := range paths {
		key := "script:" + path
		if err := r.RegisterFactory(key, ScriptFactory(path)); err != nil {
			r.log.Warn("plugin skipped", "path", path, "error", err)
			continue
		}
		found = append(found, path)
	}
	return found, nil
}

// Instantiate calls every factory once and indexes the resulting tools. A
// provider that fails to load is logged and left out; its error is returned
// alongside the usable set.
func (r *Registry) Instantiate() (*Set, []error) {
	set := &Set{byName: make(map[string]entry), log: r.log}
	var warnings []error
	for _, name := range r.names {
		p, err := r.factories[name]()
		if err != nil {
			r.log.Warn("plugin failed to load", "plugin", name, "error", err)
			warnings = append(warnings, fmt.Errorf("load plugin %s: %w", name, err))
			continue
		}
		if err := set.add(p); err != nil {
			r.log.Warn("plugin rejected", "plugin", p.Name(), "error", err)
			warnings = append(warnings, err)
		}
	}
	return set, warnings
}

type entry struct {
	provider Provider
	desc     ToolDescriptor
}

// Set is the providers instantiated for a single run.
type Set struct {
	providers []Provider
	tools     []ToolDescriptor
	byName    map[string]entry
	log       *slog.Logger
}

func (s *Set) add(p Provider) error {
	for _, existing := range s.providers {
		if existing.Name() == p.Name() {
			return fmt.Errorf("plugin %q provided twice", p.Name())
		}
	}
	tools := p.ListTools()
	for _, t := range tools {
		if _, dup := s.byName[t.Name]; dup {
			return fmt.Errorf("plugin %s: tool %q already provided", p.Name(), t.Name)
		}
	}
	s.providers = append(s.providers, p)
	for _, t := range tools {
		s.byName[t.Name] = entry{provider: p, desc: t}
		s.tools = append(s.tools, t)
	}
	return nil
}

// Tools returns every descriptor in provider order.
func (s *Set) Tools() []ToolDescriptor {
	out := make([]ToolDescriptor, len(s.tools))
	copy(out, s.tools)
	return out
}

// Lookup finds the provider serving an exact tool name.
func (s *Set) Lookup(name string) (Provider, ToolDescriptor, bool) {
	e, ok := s.byName[name]
	return e.provider, e.desc, ok
}

// Cleanup calls every provider's Cleanup with its own deadline. Failures are
// logged and joined; no provider is skipped because another failed.
func (s *Set) Cleanup(ctx context.Context) error {
	var errs []error
	for _, p := range s.providers {
		if err := cleanupOne(ctx, p); err != nil {
			s.log.Warn("plugin cleanup failed", "plugin", p.Name(), "error", err)
			errs = append(errs, fmt.Errorf("cleanup %s: %w", p.Name(), err))
		}
	}
	return errors.Join(errs...)
}

func cleanupOne(ctx context.Context, p Provider) (err error) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), CleanupTimeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("panic: %v", r)
			}
		}()
		done <- p.Cleanup(ctx)
	}()
	select {
	case err = <-done:
		return err
	case <-ctx.Done():
		return fmt.Errorf("timed out after %s", CleanupTimeout)
	}
}
