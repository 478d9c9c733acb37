package restraint

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
)

func testConfig(t *testing.T) Config {
	t.Helper()
	dir := t.TempDir()
	hosts := filepath.Join(dir, "hosts")
	if err := os.WriteFile(hosts, []byte("127.0.0.1 localhost\n"), 0o644); err != nil {
		t.Fatalf("write hosts: %v", err)
	}
	c, err := LoadConfig("")
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	c.DataDir = filepath.Join(dir, "data")
	c.HostsPath = hosts
	c.Platforms = []Platform{{ID: "video", DailyLimit: 30, Domains: []string{"video.example"}}}
	return c
}

func TestLoadConfigDefaults(t *testing.T) {
	c, err := LoadConfig("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if c.ResetHour != 4 {
		t.Fatalf("expected reset hour 4, got %d", c.ResetHour)
	}
	if c.ListenAddr == "" {
		t.Fatalf("expected default listen addr")
	}
}

func TestDaemonFacadeStatus(t *testing.T) {
	d, err := New(testConfig(t), NewLogger(Config{}, false))
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	st := d.Status()
	if len(st.Platforms) != 1 || st.Platforms[0].ID != "video" {
		t.Fatalf("unexpected status: %+v", st)
	}
	if st.Blackout.Active {
		t.Fatalf("blackout should be inactive on a fresh daemon")
	}
}

func TestScheduleFacadeCRUD(t *testing.T) {
	d, err := New(testConfig(t), NewLogger(Config{}, false))
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	s := Schedule{Name: "evening", Days: []int{1, 2, 3, 4, 5}, Start: "20:00", End: "22:00", Enabled: true}
	if err := d.AddSchedule(s); err != nil {
		t.Fatalf("add: %v", err)
	}
	if got := d.Schedules(); len(got) != 1 || got[0].Name != "evening" {
		t.Fatalf("unexpected schedules: %+v", got)
	}
	if err := d.RemoveSchedule("evening"); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if got := d.Schedules(); len(got) != 0 {
		t.Fatalf("expected no schedules, got %+v", got)
	}
}

func TestMetricsFacade(t *testing.T) {
	reg := prometheus.NewRegistry()
	if err := RegisterMetrics(reg); err != nil {
		t.Fatalf("register: %v", err)
	}
}

func TestNewHTTPServerConstructs(t *testing.T) {
	d, err := New(testConfig(t), NewLogger(Config{}, false))
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	srv, err := NewHTTPServer("127.0.0.1:0", "", d)
	if err != nil {
		t.Fatalf("server: %v", err)
	}
	defer func() { _ = srv.Close() }()
	if srv.Handler == nil {
		t.Fatalf("expected handler")
	}
}
