package daemon

import (
	"fmt"
	"log/slog"
	"net"
	"path/filepath"
	"time"

	"github.com/loykin/restraint/internal/config"
	"github.com/loykin/restraint/internal/fsatomic"
	"github.com/loykin/restraint/internal/hostsblock"
	"github.com/loykin/restraint/internal/netlock"
	"github.com/loykin/restraint/internal/winexec"
)

// Uninstall removes every enforcement artifact: hosts regions, the
// firewall rules, and the persisted state files. It refuses while a
// daemon holds the single-instance port, because a live integrity
// loop would undo the removal within a tick.
func Uninstall(cfg config.Config, logger *slog.Logger) error {
	addr := fmt.Sprintf("127.0.0.1:%d", cfg.SingleInstancePort)
	if conn, err := net.DialTimeout("tcp", addr, time.Second); err == nil {
		_ = conn.Close()
		return fmt.Errorf("%w: stop it before uninstalling", ErrAlreadyRunning)
	}

	runner := &winexec.System{}
	engine := hostsblock.New(cfg.HostsPath, filepath.Join(cfg.DataDir, "hosts.backup"), cfg.RedirectIP, runner, logger)
	locker := netlock.NewLocker(runner, logger)

	var first error
	keep := func(err error) {
		if err != nil && first == nil {
			first = err
		}
	}

	keep(engine.Remove(PermanentTag))
	for _, p := range cfg.Platforms {
		keep(engine.Remove(p.Tag()))
	}
	keep(locker.DisableDNSLock())

	allowlist := netlock.NewAllowlist(locker, &netlock.Resolver{},
		filepath.Join(cfg.DataDir, "allowlist_active.flag"), cfg.AllowlistRefresh, logger)
	keep(allowlist.CleanupOrphans())

	for _, f := range []string{"blackout_state.json", "revival.lock", "allowlist_active.flag"} {
		keep(fsatomic.SetFlag(filepath.Join(cfg.DataDir, f), false))
	}

	if first == nil {
		logger.Info("uninstalled: hosts regions, firewall rules and state cleared")
	}
	return first
}
