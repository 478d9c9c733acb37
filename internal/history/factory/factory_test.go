package factory

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/loykin/restraint/internal/history"
	"github.com/loykin/restraint/internal/history/sqlite"
)

func TestEmptyDSNGivesNopSink(t *testing.T) {
	sink, err := NewSinkFromDSN("")
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := sink.(history.Nop); !ok {
		t.Fatalf("expected Nop sink, got %T", sink)
	}
	if err := sink.Send(context.Background(), history.Event{OccurredAt: time.Now()}); err != nil {
		t.Fatalf("nop send: %v", err)
	}
}

func TestSQLiteDSNVariants(t *testing.T) {
	dir := t.TempDir()
	for _, dsn := range []string{
		"sqlite://" + filepath.Join(dir, "a.db"),
		filepath.Join(dir, "b.db"),
		":memory:",
	} {
		sink, err := NewSinkFromDSN(dsn)
		if err != nil {
			t.Fatalf("dsn %q: %v", dsn, err)
		}
		if _, ok := sink.(*sqlite.Sink); !ok {
			t.Fatalf("dsn %q: expected sqlite sink, got %T", dsn, sink)
		}
	}
}

func TestUnsupportedSchemeRejected(t *testing.T) {
	if _, err := NewSinkFromDSN("mongodb://localhost/history"); err == nil {
		t.Fatal("unsupported scheme accepted")
	}
}
