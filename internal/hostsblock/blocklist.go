package hostsblock

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"

	"github.com/loykin/restraint/internal/fsatomic"
)

// Blocklist is the user-managed permanent domain list. It lives in its
// own file (not the config) so `restraint block add` can grow it at
// runtime, and it is merged with the config's permanent domains before
// the PERMANENT region is applied.

// Presets map a friendly name to the domain set needed to actually
// block the service (primary domain, CDN and short-link hosts).
var Presets = map[string][]string{
	"twitter": {
		"twitter.com", "www.twitter.com", "x.com", "www.x.com",
		"t.co", "twimg.com", "abs.twimg.com", "pbs.twimg.com",
	},
	"tiktok": {
		"tiktok.com", "www.tiktok.com", "m.tiktok.com",
		"tiktokcdn.com", "tiktokv.com", "musical.ly",
	},
	"reddit": {
		"reddit.com", "www.reddit.com", "old.reddit.com",
		"redd.it", "i.redd.it", "redditstatic.com", "redditmedia.com",
	},
	"facebook": {
		"facebook.com", "www.facebook.com", "m.facebook.com",
		"fb.com", "fbcdn.net", "messenger.com", "www.messenger.com",
	},
}

type Blocklist struct {
	path string

	mu      sync.Mutex
	domains []string
}

func NewBlocklist(path string) (*Blocklist, error) {
	b := &Blocklist{path: path}
	if err := fsatomic.LoadJSON(path, &b.domains); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load block list: %w", err)
	}
	return b, nil
}

// Domains returns the current list, sorted.
func (b *Blocklist) Domains() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := append([]string(nil), b.domains...)
	sort.Strings(out)
	return out
}

// Add inserts domains, skipping duplicates, and persists. The number
// of newly added domains is returned.
func (b *Blocklist) Add(domains ...string) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	have := make(map[string]bool, len(b.domains))
	for _, d := range b.domains {
		have[d] = true
	}
	added := 0
	for _, d := range domains {
		d = normalizeDomain(d)
		if d == "" || have[d] {
			continue
		}
		b.domains = append(b.domains, d)
		have[d] = true
		added++
	}
	if added == 0 {
		return 0, nil
	}
	return added, fsatomic.SaveJSON(b.path, b.domains)
}

// AddPreset expands a preset name into its domain set and adds it.
func (b *Blocklist) AddPreset(name string) (int, error) {
	domains, ok := Presets[strings.ToLower(name)]
	if !ok {
		return 0, fmt.Errorf("unknown preset %q (have: %s)", name, strings.Join(PresetNames(), ", "))
	}
	return b.Add(domains...)
}

// Remove deletes domains from the list and persists. Unknown domains
// are ignored; the number removed is returned.
func (b *Blocklist) Remove(domains ...string) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	drop := make(map[string]bool, len(domains))
	for _, d := range domains {
		drop[normalizeDomain(d)] = true
	}
	kept := b.domains[:0]
	removed := 0
	for _, d := range b.domains {
		if drop[d] {
			removed++
			continue
		}
		kept = append(kept, d)
	}
	b.domains = kept
	if removed == 0 {
		return 0, nil
	}
	return removed, fsatomic.SaveJSON(b.path, b.domains)
}

// Merge combines the config's permanent domains with the user list,
// deduplicated and sorted for a stable hosts region.
func (b *Blocklist) Merge(configDomains []string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, d := range configDomains {
		d = normalizeDomain(d)
		if d != "" && !seen[d] {
			seen[d] = true
			out = append(out, d)
		}
	}
	b.mu.Lock()
	for _, d := range b.domains {
		if !seen[d] {
			seen[d] = true
			out = append(out, d)
		}
	}
	b.mu.Unlock()
	sort.Strings(out)
	return out
}

// PresetNames lists the available presets, sorted.
func PresetNames() []string {
	names := make([]string, 0, len(Presets))
	for n := range Presets {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

func normalizeDomain(d string) string {
	d = strings.ToLower(strings.TrimSpace(d))
	d = strings.TrimPrefix(d, "http://")
	d = strings.TrimPrefix(d, "https://")
	d = strings.TrimSuffix(d, "/")
	return d
}
