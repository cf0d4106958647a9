package middleware

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"github.com/taskhive/taskhive/pkg/observability"
	"github.com/taskhive/taskhive/pkg/rbac"
)

// PolicyStore holds the live table of route metadata. The router seeds it
// with each route's defaults at startup; an optional policy file overrides
// entries at runtime so requirements can be tightened or relaxed without a
// deploy.
//
// Lookups vastly outnumber writes (one read per guarded request, one write
// per reload), so the table sits behind a read/write mutex and reloads
// replace entries wholesale.
type PolicyStore struct {
	mu     sync.RWMutex
	routes map[string]RouteMetadata
	log    *observability.Logger
}

// NewPolicyStore creates an empty store. log may be nil.
func NewPolicyStore(log *observability.Logger) *PolicyStore {
	if log == nil {
		log = observability.NewLogger(observability.InfoLevel, nil)
	}
	return &PolicyStore{routes: make(map[string]RouteMetadata), log: log}
}

// SetRoute registers or replaces one route's metadata. Entries without a
// name are ignored; there is nothing to look them up by.
func (s *PolicyStore) SetRoute(meta RouteMetadata) {
	if meta.Name == "" {
		return
	}
	s.mu.Lock()
	s.routes[meta.Name] = meta
	s.mu.Unlock()
}

// Route returns the current metadata for a route name.
func (s *PolicyStore) Route(name string) (RouteMetadata, bool) {
	s.mu.RLock()
	meta, ok := s.routes[name]
	s.mu.RUnlock()
	return meta, ok
}

// Routes returns a snapshot of the whole table.
func (s *PolicyStore) Routes() []RouteMetadata {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]RouteMetadata, 0, len(s.routes))
	for _, meta := range s.routes {
		out = append(out, meta)
	}
	return out
}

// Len returns the number of registered routes.
func (s *PolicyStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.routes)
}

// policyFile is the on-disk layout of a route policy file.
type policyFile struct {
	Routes []RouteMetadata `yaml:"routes"`
}

// LoadFile parses a policy file and merges its routes over the current
// table. A file that fails to read, parse, or validate changes nothing; the
// last good table keeps serving.
func (s *PolicyStore) LoadFile(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read policy file: %w", err)
	}

	var file policyFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return fmt.Errorf("parse policy file %s: %w", path, err)
	}

	seen := make(map[string]bool, len(file.Routes))
	for _, meta := range file.Routes {
		if meta.Name == "" {
			return fmt.Errorf("policy file %s: route with empty name", path)
		}
		if seen[meta.Name] {
			return fmt.Errorf("policy file %s: duplicate route %q", path, meta.Name)
		}
		seen[meta.Name] = true
		for _, slug := range meta.Requirements.Permissions {
			// Unknown slugs are not fatal: the route simply denies everyone
			// without a wildcard grant. Warn so the typo gets noticed.
			if !rbac.KnownSlug(rbac.NormalizeSlug(slug)) {
				s.log.Warnf("policy route %q names unknown permission %q", meta.Name, slug)
			}
		}
	}

	s.mu.Lock()
	for _, meta := range file.Routes {
		s.routes[meta.Name] = meta
	}
	s.mu.Unlock()

	s.log.Infof("loaded %d route policies from %s", len(file.Routes), path)
	return nil
}

// Watch reloads the policy file whenever it changes on disk, until ctx is
// cancelled. It watches the file's directory rather than the file itself so
// atomic replaces (rename-over, the way config management rewrites files)
// are caught. A reload that fails keeps the last good table and logs the
// error.
func (s *PolicyStore) Watch(ctx context.Context, path string) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create policy watcher: %w", err)
	}
	defer watcher.Close()

	dir := filepath.Dir(path)
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("watch %s: %w", dir, err)
	}

	target := filepath.Clean(path)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if err := s.LoadFile(path); err != nil {
				s.log.WithError(err).Error("policy reload failed, keeping previous table")
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			s.log.WithError(err).Warn("policy watcher error")
		}
	}
}
