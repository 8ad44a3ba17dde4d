// Package gitinfo resolves git metadata of local working directories. The
// server reports branches for its own sessions; this is only used to show
// local context in the CLI.
package gitinfo

import (
	"bytes"
	"context"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"
)

type Info struct {
	RepoRoot string `json:"repo_root"`
	Branch   string `json:"branch,omitempty"`
	Remote   string `json:"remote,omitempty"`
	Status   Status `json:"status"`
}

// Status is a summary of `git status --porcelain=v2 -b`.
type Status struct {
	Upstream  string `json:"upstream,omitempty"`
	Ahead     int    `json:"ahead"`
	Behind    int    `json:"behind"`
	Staged    int    `json:"staged"`
	Unstaged  int    `json:"unstaged"`
	Untracked int    `json:"untracked"`
	Unmerged  int    `json:"unmerged"`
}

func (s Status) Dirty() bool {
	return s.Staged+s.Unstaged+s.Untracked+s.Unmerged > 0
}

func git(ctx context.Context, dir string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, "git", append([]string{"-C", dir}, args...)...)
	return cmd.Output()
}

// Resolve returns nil when dir is not inside a git work tree.
func Resolve(ctx context.Context, dir string) *Info {
	out, err := git(ctx, dir, "rev-parse", "--show-toplevel")
	if err != nil {
		return nil
	}
	info := &Info{RepoRoot: strings.TrimSpace(string(out))}

	if out, err := git(ctx, info.RepoRoot, "remote", "get-url", "origin"); err == nil {
		info.Remote = strings.TrimSpace(string(out))
	}
	if out, err := git(ctx, info.RepoRoot, "status", "--porcelain=v2", "-b", "-z"); err == nil {
		info.Branch, info.Status = ParseStatus(out)
	}
	if info.Branch == "" {
		if out, err := git(ctx, info.RepoRoot, "rev-parse", "--abbrev-ref", "HEAD"); err == nil {
			info.Branch = strings.TrimSpace(string(out))
		}
	}
	return info
}

// ParseStatus parses NUL separated porcelain v2 output with branch headers.
func ParseStatus(output []byte) (branch string, st Status) {
	for _, entry := range bytes.Split(output, []byte{0}) {
		line := string(entry)
		if len(line) < 2 {
			continue
		}
		if strings.HasPrefix(line, "# ") {
			parts := strings.SplitN(line, " ", 3)
			if len(parts) < 3 {
				continue
			}
			switch parts[1] {
			case "branch.head":
				if parts[2] != "(detached)" {
					branch = parts[2]
				}
			case "branch.upstream":
				st.Upstream = parts[2]
			case "branch.ab":
				for _, f := range strings.Fields(parts[2]) {
					n, err := strconv.Atoi(f[1:])
					if err != nil {
						continue
					}
					if f[0] == '+' {
						st.Ahead = n
					} else if f[0] == '-' {
						st.Behind = n
					}
				}
			}
			continue
		}

		switch line[0] {
		case '1', '2':
			// XY follows the entry kind: index then work tree, '.' is unchanged.
			if len(line) < 4 {
				continue
			}
			if line[2] != '.' {
				st.Staged++
			}
			if line[3] != '.' {
				st.Unstaged++
			}
		case 'u':
			st.Unmerged++
		case '?':
			st.Untracked++
		}
	}
	return branch, st
}

// Cache memoizes Resolve per directory for ttl. Misses are cached too so
// non-repositories are not probed on every lookup.
type Cache struct {
	mu      sync.Mutex
	ttl     time.Duration
	entries map[string]cacheEntry
	now     func() time.Time
	resolve func(ctx context.Context, dir string) *Info
}

type cacheEntry struct {
	info      *Info
	updatedAt time.Time
}

func NewCache(ttl time.Duration) *Cache {
	return &Cache{
		ttl:     ttl,
		entries: make(map[string]cacheEntry),
		now:     time.Now,
		resolve: Resolve,
	}
}

func (c *Cache) Get(ctx context.Context, dir string) *Info {
	if dir == "" {
		return nil
	}
	c.mu.Lock()
	e, ok := c.entries[dir]
	c.mu.Unlock()
	if ok && c.now().Sub(e.updatedAt) <= c.ttl {
		return e.info
	}

	info := c.resolve(ctx, dir)
	c.mu.Lock()
	c.entries[dir] = cacheEntry{info: info, updatedAt: c.now()}
	c.mu.Unlock()
	return info
}

func (c *Cache) Forget(dir string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, dir)
}
