package hostsblock

import (
	"path/filepath"
	"testing"
)

func newTestBlocklist(t *testing.T) (*Blocklist, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "permanent_blocks.json")
	b, err := NewBlocklist(path)
	if err != nil {
		t.Fatal(err)
	}
	return b, path
}

func TestBlocklistAddDeduplicatesAndNormalizes(t *testing.T) {
	b, _ := newTestBlocklist(t)
	added, err := b.Add("News.Example", "https://news.example/", "other.example")
	if err != nil {
		t.Fatal(err)
	}
	if added != 2 {
		t.Fatalf("added = %d, want 2", added)
	}
	got := b.Domains()
	if len(got) != 2 || got[0] != "news.example" || got[1] != "other.example" {
		t.Fatalf("domains = %v", got)
	}
}

func TestBlocklistPersistsAcrossReload(t *testing.T) {
	b, path := newTestBlocklist(t)
	if _, err := b.Add("news.example"); err != nil {
		t.Fatal(err)
	}
	fresh, err := NewBlocklist(path)
	if err != nil {
		t.Fatal(err)
	}
	if got := fresh.Domains(); len(got) != 1 || got[0] != "news.example" {
		t.Fatalf("reloaded domains = %v", got)
	}
}

func TestBlocklistRemove(t *testing.T) {
	b, _ := newTestBlocklist(t)
	if _, err := b.Add("a.example", "b.example"); err != nil {
		t.Fatal(err)
	}
	removed, err := b.Remove("a.example", "never-added.example")
	if err != nil {
		t.Fatal(err)
	}
	if removed != 1 {
		t.Fatalf("removed = %d, want 1", removed)
	}
	if got := b.Domains(); len(got) != 1 || got[0] != "b.example" {
		t.Fatalf("domains = %v", got)
	}
}

func TestBlocklistPresets(t *testing.T) {
	b, _ := newTestBlocklist(t)
	added, err := b.AddPreset("Reddit")
	if err != nil {
		t.Fatal(err)
	}
	if added == 0 {
		t.Fatal("preset added nothing")
	}
	found := false
	for _, d := range b.Domains() {
		if d == "old.reddit.com" {
			found = true
		}
	}
	if !found {
		t.Fatal("preset missing old.reddit.com")
	}
	if _, err := b.AddPreset("myspace"); err == nil {
		t.Fatal("unknown preset accepted")
	}
}

func TestBlocklistMergeWithConfigDomains(t *testing.T) {
	b, _ := newTestBlocklist(t)
	if _, err := b.Add("user.example", "shared.example"); err != nil {
		t.Fatal(err)
	}
	got := b.Merge([]string{"Config.Example", "shared.example"})
	want := []string{"config.example", "shared.example", "user.example"}
	if len(got) != len(want) {
		t.Fatalf("merged = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("merged = %v, want %v", got, want)
		}
	}
}
