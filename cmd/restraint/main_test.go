package main

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestBuildRootSubcommands(t *testing.T) {
	root := buildRoot()
	want := []string{"serve", "status", "blackout", "break", "allowlist", "schedule", "block", "uninstall"}
	for _, name := range want {
		found := false
		for _, c := range root.Commands() {
			if c.Name() == name {
				found = true
				break
			}
		}
		if !found {
			t.Fatalf("missing subcommand %q", name)
		}
	}
}

func TestBlackoutRequiresDuration(t *testing.T) {
	root := buildRoot()
	root.SetArgs([]string{"blackout"})
	root.SetOut(&bytes.Buffer{})
	root.SetErr(&bytes.Buffer{})
	if err := root.Execute(); err == nil {
		t.Fatalf("expected error without --duration")
	}
}

func TestStatusAgainstTestServer(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/status" {
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"blackout":  map[string]any{"active": false},
			"platforms": []any{},
		})
	}))
	defer srv.Close()

	root := buildRoot()
	root.SetArgs([]string{"status", "--api-url", srv.URL})
	root.SetOut(&bytes.Buffer{})
	root.SetErr(&bytes.Buffer{})
	if err := root.Execute(); err != nil {
		t.Fatalf("status: %v", err)
	}
}

func TestBlackoutStartSendsPayload(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/status" { // reachability probe
			w.WriteHeader(http.StatusOK)
			return
		}
		if r.URL.Path != "/blackout/start" {
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Fatalf("decode: %v", err)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	root := buildRoot()
	root.SetArgs([]string{"blackout", "--duration", "90m", "--locked", "--api-url", srv.URL})
	root.SetOut(&bytes.Buffer{})
	root.SetErr(&bytes.Buffer{})
	if err := root.Execute(); err != nil {
		t.Fatalf("blackout: %v", err)
	}
	if got["duration_minutes"] != float64(90) || got["locked"] != true {
		t.Fatalf("unexpected payload: %+v", got)
	}
}

func TestUnreachableDaemonError(t *testing.T) {
	root := buildRoot()
	root.SetArgs([]string{"status", "--api-url", "http://127.0.0.1:1"})
	root.SetOut(&bytes.Buffer{})
	root.SetErr(&bytes.Buffer{})
	err := root.Execute()
	if err == nil || !strings.Contains(err.Error(), "not reachable") {
		t.Fatalf("expected unreachable error, got %v", err)
	}
}
