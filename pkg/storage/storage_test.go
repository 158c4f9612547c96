package storage

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/devraulu/hilight/pkg/config"
)

func backends(t *testing.T) map[string]Store {
	t.Helper()

	lite, err := OpenSQLite(filepath.Join(t.TempDir(), "kv.db"))
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	t.Cleanup(func() { lite.Close() })

	return map[string]Store{
		"memory": NewMemoryStorage(),
		"sqlite": lite,
	}
}

func TestStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			err := s.Set(ctx, Local, map[string][]byte{
				"pageHighlights": []byte(`{"a":1}`),
				"other":          []byte(`true`),
			})
			if err != nil {
				t.Fatal(err)
			}

			got, err := s.Get(ctx, Local, "pageHighlights", "missing")
			if err != nil {
				t.Fatal(err)
			}
			if len(got) != 1 || string(got["pageHighlights"]) != `{"a":1}` {
				t.Fatalf("get = %q", got)
			}

			// overwrite
			if err := s.Set(ctx, Local, map[string][]byte{"pageHighlights": []byte(`{}`)}); err != nil {
				t.Fatal(err)
			}
			all, err := s.Get(ctx, Local)
			if err != nil {
				t.Fatal(err)
			}
			if len(all) != 2 || string(all["pageHighlights"]) != `{}` {
				t.Fatalf("all = %q", all)
			}

			// namespaces are disjoint
			syncArea, err := s.Get(ctx, Sync)
			if err != nil {
				t.Fatal(err)
			}
			if len(syncArea) != 0 {
				t.Fatalf("sync area = %q, want empty", syncArea)
			}

			if err := s.Remove(ctx, Local, "other", "never-set"); err != nil {
				t.Fatal(err)
			}
			all, _ = s.Get(ctx, Local)
			if _, ok := all["other"]; ok || len(all) != 1 {
				t.Fatalf("after remove = %q", all)
			}
		})
	}
}

func TestMemoryStorageClosed(t *testing.T) {
	s := NewMemoryStorage()
	s.Close()
	if _, err := s.Get(context.Background(), Sync); !errors.Is(err, ErrClosed) {
		t.Fatalf("err = %v, want ErrClosed", err)
	}
}

func TestMemoryStorageCopiesValues(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStorage()
	v := []byte(`"x"`)
	s.Set(ctx, Sync, map[string][]byte{"color": v})
	v[1] = 'y'

	got, _ := s.Get(ctx, Sync, "color")
	if string(got["color"]) != `"x"` {
		t.Fatalf("stored value aliased caller slice: %s", got["color"])
	}
}

func TestSQLiteSurvivesReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "reopen.db")

	s, err := Open(config.StorageConfig{Driver: "sqlite", DSN: path})
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Set(ctx, Sync, map[string][]byte{"enabled": []byte("false")}); err != nil {
		t.Fatal(err)
	}
	s.Close()

	// migrations already applied; reopening is a no-op for the schema
	s, err = Open(config.StorageConfig{Driver: "sqlite", DSN: path})
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	got, err := s.Get(ctx, Sync, "enabled")
	if err != nil {
		t.Fatal(err)
	}
	if string(got["enabled"]) != "false" {
		t.Fatalf("enabled = %q", got["enabled"])
	}
}

func TestOpenUnknownDriver(t *testing.T) {
	if _, err := Open(config.StorageConfig{Driver: "redis"}); err == nil {
		t.Fatal("unknown driver accepted")
	}
}
