package notify

import (
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
)

// Notifier is the narrow capability engines use to reach the user.
// Implementations must never return control-flow-significant errors into
// timer loops; Send is fire-and-forget.
type Notifier interface {
	Send(title, message string)
}

// Log writes notifications to the logger only. Used headless and in tests.
type Log struct {
	Logger *slog.Logger
}

func (l Log) Send(title, message string) {
	l.Logger.Info("notification", "title", title, "message", message)
}

// Toast shells out to PowerShell for a Windows toast, falling back to the
// logger when the command fails. Failures are swallowed so a broken shell
// never interrupts a timer loop.
type Toast struct {
	Logger *slog.Logger
}

func (t Toast) Send(title, message string) {
	script := fmt.Sprintf(
		`New-BurntToastNotification -Text '%s','%s'`,
		escapeSingleQuotes(title), escapeSingleQuotes(message),
	)
	cmd := exec.Command("powershell", "-NoProfile", "-NonInteractive", "-Command", script)
	if err := cmd.Run(); err != nil {
		t.Logger.Debug("toast failed, logging instead", "err", err)
		t.Logger.Info("notification", "title", title, "message", message)
	}
}

func escapeSingleQuotes(s string) string {
	return strings.ReplaceAll(s, "'", "''")
}
