package verify

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/devraulu/hilight/pkg/highlight"
	"github.com/devraulu/hilight/pkg/page"
	"github.com/devraulu/hilight/pkg/persist"
	"github.com/devraulu/hilight/pkg/storage"
)

const original = `<html><head><title>Log</title></head><body><p>The quick brown fox.</p><p>Jumps over the dog.</p></body></html>`

// same words, one paragraph gone
const edited = `<html><head><title>Log</title></head><body><p>Jumps over the dog.</p></body></html>`

func savePage(t *testing.T, m *persist.Manager, url string, texts ...string) string {
	t.Helper()
	doc, err := page.ParseString(original)
	if err != nil {
		t.Fatal(err)
	}
	s := highlight.NewSession(doc)
	for _, text := range texts {
		if err := s.SelectText(text, 1); err != nil {
			t.Fatalf("select %q: %v", text, err)
		}
		if _, err := s.Commit("#ffff00"); err != nil {
			t.Fatal(err)
		}
	}
	hash, err := page.Hash(url)
	if err != nil {
		t.Fatal(err)
	}
	rec := persist.PageRecord{PageHash: hash, URL: url, Highlights: s.Highlights()}
	if err := m.Save(context.Background(), rec); err != nil {
		t.Fatal(err)
	}
	return hash
}

func TestVerifierReportsDrift(t *testing.T) {
	origin := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/robots.txt":
			fmt.Fprint(w, "User-agent: *\nDisallow: /private\n")
			return
		case "/missing":
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		if r.URL.Path == "/edited" {
			fmt.Fprint(w, edited)
			return
		}
		fmt.Fprint(w, original)
	}))
	defer origin.Close()

	m := persist.NewManager(storage.NewMemoryStorage(), time.Second)
	same := savePage(t, m, origin.URL+"/same", "quick brown", "over the")
	drift := savePage(t, m, origin.URL+"/edited", "quick brown", "over the")
	savePage(t, m, origin.URL+"/private", "fox")
	savePage(t, m, origin.URL+"/missing", "fox")

	v := New(m, page.NewFetcher("hilight-test", time.Second, true), WithWorkers(2), WithDelay(0))
	results, err := v.Run(context.Background(), nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 4 {
		t.Fatalf("results = %d, want 4", len(results))
	}

	byHash := make(map[string]Result)
	for _, r := range results {
		byHash[r.PageHash] = r
	}
	if r := byHash[same]; !r.Intact() {
		t.Fatalf("unchanged page = %+v", r)
	}
	if r := byHash[drift]; r.Intact() || r.Report.Restored != 1 || r.Report.Attempted != 2 {
		t.Fatalf("edited page = %+v", r)
	}

	if v.Stats.Checked != 2 || v.Stats.Skipped != 1 || v.Stats.Errored != 1 {
		t.Fatalf("stats = %+v", v.Stats)
	}
	if v.Stats.Restored != 3 || v.Stats.Attempted != 4 {
		t.Fatalf("restored %d/%d, want 3/4", v.Stats.Restored, v.Stats.Attempted)
	}
}

func TestVerifierOnlySelected(t *testing.T) {
	origin := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprint(w, original)
	}))
	defer origin.Close()

	m := persist.NewManager(storage.NewMemoryStorage(), time.Second)
	savePage(t, m, origin.URL+"/a", "fox")
	savePage(t, m, origin.URL+"/b", "dog")

	only, err := ReadURLs(strings.NewReader("# pages to check\n\n" + origin.URL + "/b?ref=mail\n"))
	if err != nil {
		t.Fatal(err)
	}
	v := New(m, page.NewFetcher("hilight-test", time.Second, false), WithDelay(0))
	results, err := v.Run(context.Background(), only)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 1 || !strings.HasSuffix(results[0].URL, "/b") {
		t.Fatalf("results = %+v", results)
	}
}

func TestReadURLsEmpty(t *testing.T) {
	if _, err := ReadURLs(strings.NewReader("\n# nothing\n")); err != ErrNoURLs {
		t.Fatalf("err = %v, want ErrNoURLs", err)
	}
}

func TestFrontierPoliteness(t *testing.T) {
	f := NewFrontier()
	for _, tt := range []Target{
		{PageHash: "1", URL: "https://a.example/1"},
		{PageHash: "2", URL: "https://a.example/2"},
		{PageHash: "1", URL: "https://a.example/1?again"},
		{PageHash: "3", URL: "::bad"},
	} {
		f.Push(tt)
	}
	if f.Len() != 2 {
		t.Fatalf("len = %d, want 2", f.Len())
	}

	first, _ := f.Pop(time.Hour)
	if first == nil || first.PageHash != "1" {
		t.Fatalf("first = %+v", first)
	}
	next, wait := f.Pop(time.Hour)
	if next != nil || wait <= 0 {
		t.Fatalf("second pop = %+v, wait %v; want host cooling down", next, wait)
	}
}
