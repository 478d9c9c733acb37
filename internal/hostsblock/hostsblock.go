package hostsblock

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"

	"github.com/loykin/restraint/internal/fsatomic"
	"github.com/loykin/restraint/internal/metrics"
	"github.com/loykin/restraint/internal/winexec"
)

// Engine owns the marker-delimited regions this daemon maintains inside the
// system hosts file. Everything outside its own markers is opaque: the file
// is shared with the OS and the user, so mutations are strictly scoped to
// one region per tag and the whole file is replaced atomically.
type Engine struct {
	mu       sync.Mutex
	path     string
	backup   string
	redirect string
	runner   winexec.Runner
	logger   *slog.Logger
}

const bom = "\xef\xbb\xbf"

func New(path, backupPath, redirectIP string, runner winexec.Runner, logger *slog.Logger) *Engine {
	return &Engine{
		path:     path,
		backup:   backupPath,
		redirect: redirectIP,
		runner:   runner,
		logger:   logger,
	}
}

func markerStart(tag string) string { return fmt.Sprintf("# >>> RESTRAINT-%s-START <<<", tag) }
func markerEnd(tag string) string   { return fmt.Sprintf("# >>> RESTRAINT-%s-END <<<", tag) }

// Apply rewrites the tag's region to exactly the given domain set, creating
// the region at the end of the file if absent. A second call with the same
// set is a no-op: content is compared before writing, which keeps the
// integrity loop quiet in steady state.
func (e *Engine) Apply(tag string, domains []string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	content, hadBOM, err := e.read()
	if err != nil {
		return err
	}
	next := strings.Join(replaceRegion(splitLines(content), tag, e.buildRegion(tag, domains)), "\n")
	if next == content {
		return nil
	}
	if err := e.write(next, hadBOM); err != nil {
		return err
	}
	metrics.IncHostsApply(tag)
	e.flushDNS()
	e.logger.Info("hosts region applied", "marker", tag, "domains", len(domains))
	return nil
}

// Remove deletes the tag's region. No-op if the marker is absent; content
// outside the region is never touched.
func (e *Engine) Remove(tag string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	content, hadBOM, err := e.read()
	if err != nil {
		return err
	}
	next := strings.Join(removeRegion(splitLines(content), tag), "\n")
	if next == content {
		return nil
	}
	if err := e.write(next, hadBOM); err != nil {
		return err
	}
	e.flushDNS()
	e.logger.Info("hosts region removed", "marker", tag)
	return nil
}

// Applied reports whether the tag's region currently holds exactly the
// given domain set. Used by the integrity loop to detect drift without
// writing.
func (e *Engine) Applied(tag string, domains []string) (bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	content, _, err := e.read()
	if err != nil {
		return false, err
	}
	want := strings.Join(replaceRegion(splitLines(content), tag, e.buildRegion(tag, domains)), "\n")
	return want == content, nil
}

func (e *Engine) read() (content string, hadBOM bool, err error) {
	b, err := os.ReadFile(e.path)
	if err != nil {
		return "", false, fmt.Errorf("read hosts file: %w", err)
	}
	s := string(b)
	if strings.HasPrefix(s, bom) {
		return strings.TrimPrefix(s, bom), true, nil
	}
	return s, false, nil
}

func (e *Engine) write(content string, hadBOM bool) error {
	if e.backup != "" {
		if err := fsatomic.CopyFileOnce(e.path, e.backup); err != nil {
			e.logger.Warn("hosts backup failed", "err", err)
		}
	}
	if hadBOM {
		content = bom + content
	}
	if err := fsatomic.WriteFile(e.path, []byte(content), 0o644); err != nil {
		return fmt.Errorf("write hosts file: %w", err)
	}
	return nil
}

// buildRegion renders the marker block: one redirect line per domain.
func (e *Engine) buildRegion(tag string, domains []string) []string {
	lines := make([]string, 0, len(domains)+2)
	lines = append(lines, markerStart(tag))
	for _, d := range domains {
		lines = append(lines, e.redirect+" "+d)
	}
	lines = append(lines, markerEnd(tag))
	return lines
}

// replaceRegion rewrites the tag's region in place, appending it at the end
// of the file when absent. Duplicated regions are repaired: the first is
// replaced, later copies are dropped. A region missing its end marker has
// its buffered lines restored rather than swallowing the rest of the file.
func replaceRegion(lines []string, tag string, region []string) []string {
	start, end := markerStart(tag), markerEnd(tag)
	out := make([]string, 0, len(lines)+len(region))
	var inside, replaced bool
	var buffered []string
	for _, line := range lines {
		switch {
		case strings.Contains(line, start):
			if !replaced {
				out = append(out, region...)
				replaced = true
			}
			inside = true
			buffered = buffered[:0]
		case inside && strings.Contains(line, end):
			inside = false
		case inside:
			buffered = append(buffered, line)
		default:
			out = append(out, line)
		}
	}
	if inside {
		out = append(out, buffered...)
	}
	if !replaced {
		// Keep the file's trailing newline (empty last element) last.
		if n := len(out); n > 0 && out[n-1] == "" {
			out = append(out[:n-1], append(region, "")...)
		} else {
			out = append(out, region...)
		}
	}
	return out
}

// removeRegion drops every occurrence of the tag's region, returning only
// content outside the markers, byte-identical to what it was.
func removeRegion(lines []string, tag string) []string {
	start, end := markerStart(tag), markerEnd(tag)
	out := make([]string, 0, len(lines))
	var inside bool
	var buffered []string
	for _, line := range lines {
		switch {
		case strings.Contains(line, start):
			inside = true
			buffered = buffered[:0]
		case inside && strings.Contains(line, end):
			inside = false
		case inside:
			buffered = append(buffered, line)
		default:
			out = append(out, line)
		}
	}
	if inside {
		out = append(out, buffered...)
	}
	return out
}

func splitLines(s string) []string { return strings.Split(s, "\n") }

// flushDNS invalidates the OS resolver cache so hosts edits take effect
// immediately. Best effort.
func (e *Engine) flushDNS() {
	if e.runner == nil {
		return
	}
	if _, err := e.runner.Run("ipconfig", "/flushdns"); err != nil {
		e.logger.Debug("dns flush failed", "err", err)
	}
}
