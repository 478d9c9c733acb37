package proc

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/loykin/restraint/internal/winexec"
)

// Package proc finds and terminates the desktop processes that belong
// to a tracked platform (browsers get handled by the hosts file; the
// native apps need killing). Everything goes through winexec.Runner so
// tests can fake the OS tools.

// Killer wraps tasklist/taskkill with a PowerShell fallback for the
// processes taskkill refuses (some store apps report ACCESS DENIED to
// taskkill but stop via Stop-Process).
type Killer struct {
	runner winexec.Runner
	logger *slog.Logger
}

func NewKiller(r winexec.Runner, logger *slog.Logger) *Killer {
	return &Killer{runner: r, logger: logger}
}

// Running reports whether any process with the given image name exists.
// Names are matched the way tasklist matches them, e.g. "Spotify.exe".
func (k *Killer) Running(imageName string) (bool, error) {
	out, err := k.runner.Run("tasklist", "/FI", "IMAGENAME eq "+imageName, "/NH", "/FO", "CSV")
	if err != nil {
		return false, fmt.Errorf("tasklist %s: %w", imageName, err)
	}
	// tasklist exits 0 with an informational line when nothing matches.
	if strings.Contains(out, "No tasks are running") {
		return false, nil
	}
	return strings.Contains(strings.ToLower(out), strings.ToLower(imageName)), nil
}

// AnyRunning reports whether at least one of the image names is alive.
func (k *Killer) AnyRunning(imageNames []string) (bool, error) {
	for _, name := range imageNames {
		running, err := k.Running(name)
		if err != nil {
			return false, err
		}
		if running {
			return true, nil
		}
	}
	return false, nil
}

// Kill terminates every process with the given image name, children
// included. taskkill is tried first; on failure the PowerShell
// Stop-Process path is attempted before giving up.
func (k *Killer) Kill(imageName string) error {
	out, err := k.runner.Run("taskkill", "/F", "/T", "/IM", imageName)
	if err == nil {
		return nil
	}
	if strings.Contains(out, "not found") {
		// Nothing to kill.
		return nil
	}
	k.logger.Warn("taskkill failed, trying Stop-Process", "image", imageName, "output", out)

	base := strings.TrimSuffix(imageName, ".exe")
	psOut, psErr := k.runner.Run("powershell", "-NoProfile", "-Command",
		fmt.Sprintf("Stop-Process -Name '%s' -Force -ErrorAction SilentlyContinue", base))
	if psErr != nil {
		return fmt.Errorf("kill %s: taskkill: %w (%s); powershell: %v (%s)",
			imageName, err, out, psErr, psOut)
	}
	return nil
}

// KillAll terminates every listed image name, continuing past
// individual failures and returning the first error seen.
func (k *Killer) KillAll(imageNames []string) error {
	var first error
	for _, name := range imageNames {
		if err := k.Kill(name); err != nil {
			k.logger.Warn("could not kill process", "image", name, "error", err)
			if first == nil {
				first = err
			}
		}
	}
	return first
}
