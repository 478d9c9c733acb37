package winexec

import (
	"context"
	"os/exec"
	"strings"
	"time"
)

// Runner executes an external system command and returns its combined
// output. The firewall, hosts, and process engines all mutate OS state
// through this seam so tests can substitute a fake.
type Runner interface {
	Run(name string, args ...string) (string, error)
}

// DefaultTimeout bounds every external call so a wedged system utility
// cannot stall a timer loop indefinitely.
const DefaultTimeout = 10 * time.Second

// System runs commands on the host with a per-call timeout.
type System struct {
	Timeout time.Duration
}

func (s System) Run(name string, args ...string) (string, error) {
	timeout := s.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	out, err := exec.CommandContext(ctx, name, args...).CombinedOutput()
	return strings.TrimSpace(string(out)), err
}
