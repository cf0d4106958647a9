package middleware

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/taskhive/taskhive/pkg/observability"
	"github.com/taskhive/taskhive/pkg/rbac"
)

func writePolicyFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write policy file: %v", err)
	}
}

func TestPolicyStoreSetAndRoute(t *testing.T) {
	store := NewPolicyStore(nil)

	store.SetRoute(RouteMetadata{Name: "tasks.list", OrgScoped: true})
	store.SetRoute(RouteMetadata{}) // nameless, ignored

	meta, ok := store.Route("tasks.list")
	if !ok || !meta.OrgScoped {
		t.Fatalf("Route() = %+v, %v", meta, ok)
	}
	if _, ok := store.Route("unknown"); ok {
		t.Error("unexpected hit for unregistered route")
	}
	if store.Len() != 1 {
		t.Errorf("Len() = %d, want 1", store.Len())
	}
}

func TestPolicyStoreLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "policy.yaml")
	writePolicyFile(t, path, `routes:
  - name: tasks.list
    org_scoped: true
    requirements:
      permissions: [tasks.read]
  - name: tasks.purge
    org_scoped: true
    requirements:
      permissions: [tasks.delete, orgs.manage]
      require_all: true
`)

	store := NewPolicyStore(nil)
	if err := store.LoadFile(path); err != nil {
		t.Fatalf("LoadFile: %v", err)
	}

	list, ok := store.Route("tasks.list")
	if !ok || !list.OrgScoped || len(list.Requirements.Permissions) != 1 {
		t.Errorf("tasks.list = %+v", list)
	}
	purge, _ := store.Route("tasks.purge")
	if !purge.Requirements.RequireAll || len(purge.Requirements.Permissions) != 2 {
		t.Errorf("tasks.purge = %+v", purge)
	}
}

func TestPolicyStoreLoadFileMergesOverDefaults(t *testing.T) {
	store := NewPolicyStore(nil)
	store.SetRoute(RouteMetadata{Name: "tasks.list", OrgScoped: true})
	store.SetRoute(RouteMetadata{Name: "me", OrgScoped: false})

	path := filepath.Join(t.TempDir(), "policy.yaml")
	writePolicyFile(t, path, `routes:
  - name: tasks.list
    org_scoped: true
    requirements:
      permissions: [tasks.read]
`)
	if err := store.LoadFile(path); err != nil {
		t.Fatalf("LoadFile: %v", err)
	}

	list, _ := store.Route("tasks.list")
	if len(list.Requirements.Permissions) != 1 {
		t.Errorf("tasks.list was not overridden: %+v", list)
	}
	if _, ok := store.Route("me"); !ok {
		t.Error("untouched default should survive a merge")
	}
}

func TestPolicyStoreLoadFileRejectsBadInput(t *testing.T) {
	dir := t.TempDir()
	store := NewPolicyStore(nil)
	store.SetRoute(RouteMetadata{Name: "tasks.list", OrgScoped: true})

	tests := []struct {
		name    string
		content string
	}{
		{"broken yaml", "routes: ["},
		{"empty route name", "routes:\n  - org_scoped: true\n"},
		{"duplicate route", "routes:\n  - name: a\n  - name: a\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(dir, tt.name+".yaml")
			writePolicyFile(t, path, tt.content)

			if err := store.LoadFile(path); err == nil {
				t.Fatal("expected error")
			}
			if _, ok := store.Route("tasks.list"); !ok {
				t.Error("failed load must keep the previous table")
			}
		})
	}

	if err := store.LoadFile(filepath.Join(dir, "missing.yaml")); err == nil {
		t.Error("expected error for a missing file")
	}
}

func TestPolicyStoreWarnsOnUnknownPermission(t *testing.T) {
	var buf bytes.Buffer
	store := NewPolicyStore(observability.NewLogger(observability.InfoLevel, &buf))

	path := filepath.Join(t.TempDir(), "policy.yaml")
	writePolicyFile(t, path, `routes:
  - name: tasks.list
    requirements:
      permissions: [task.read]
`)
	if err := store.LoadFile(path); err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if !strings.Contains(buf.String(), "unknown permission") {
		t.Errorf("expected a warning about the typoed slug, got: %s", buf.String())
	}
}

func TestPolicyStoreLegacyAliasIsNotUnknown(t *testing.T) {
	var buf bytes.Buffer
	store := NewPolicyStore(observability.NewLogger(observability.InfoLevel, &buf))

	path := filepath.Join(t.TempDir(), "policy.yaml")
	writePolicyFile(t, path, `routes:
  - name: admin.panel
    requirements:
      permissions: ["admin.access"]
`)
	if err := store.LoadFile(path); err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if strings.Contains(buf.String(), "unknown permission") {
		t.Errorf("legacy wildcard alias should not warn, got: %s", buf.String())
	}
}

func TestPolicyStoreWatchReloads(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "policy.yaml")
	writePolicyFile(t, path, `routes:
  - name: tasks.list
    org_scoped: true
    requirements:
      permissions: [tasks.read]
`)

	store := NewPolicyStore(nil)
	if err := store.LoadFile(path); err != nil {
		t.Fatalf("LoadFile: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- store.Watch(ctx, path) }()

	// Give the watcher a beat to establish before rewriting the file.
	time.Sleep(50 * time.Millisecond)

	writePolicyFile(t, path, `routes:
  - name: tasks.list
    org_scoped: true
    requirements:
      permissions: [tasks.read, tasks.update]
      require_all: true
`)

	deadline := time.Now().Add(2 * time.Second)
	for {
		meta, _ := store.Route("tasks.list")
		if len(meta.Requirements.Permissions) == 2 && meta.Requirements.RequireAll {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("policy file change was not picked up")
		}
		time.Sleep(10 * time.Millisecond)
	}

	// A broken rewrite keeps the last good table.
	writePolicyFile(t, path, "routes: [")
	time.Sleep(150 * time.Millisecond)
	meta, _ := store.Route("tasks.list")
	if len(meta.Requirements.Permissions) != 2 {
		t.Fatal("broken reload clobbered the table")
	}

	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Watch returned %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("watcher did not stop on cancel")
	}
}

func TestPolicyStoreRoutesSnapshot(t *testing.T) {
	store := NewPolicyStore(nil)
	store.SetRoute(RouteMetadata{Name: "a", Requirements: rbac.RequirePermissions(rbac.PermTasksRead)})
	store.SetRoute(RouteMetadata{Name: "b"})

	routes := store.Routes()
	if len(routes) != 2 {
		t.Fatalf("Routes() returned %d entries, want 2", len(routes))
	}
}
