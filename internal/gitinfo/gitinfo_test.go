package gitinfo

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestParseStatus(t *testing.T) {
	t.Parallel()

	output := strings.Join([]string{
		"# branch.oid 1f2e3d",
		"# branch.head feature/login",
		"# branch.upstream origin/feature/login",
		"# branch.ab +2 -1",
		"1 M. N... 100644 100644 100644 aaa bbb cmd/main.go",
		"1 .M N... 100644 100644 100644 aaa bbb go.mod",
		"2 RM N... 100644 100644 100644 aaa bbb R100 new.go\told.go",
		"u UU N... 100644 100644 100644 100644 aaa bbb ccc conflict.go",
		"? scratch.txt",
		"",
	}, "\x00")

	branch, st := ParseStatus([]byte(output))
	require.Equal(t, "feature/login", branch)
	require.Equal(t, Status{
		Upstream:  "origin/feature/login",
		Ahead:     2,
		Behind:    1,
		Staged:    2,
		Unstaged:  2,
		Untracked: 1,
		Unmerged:  1,
	}, st)
	require.True(t, st.Dirty())

	branch, st = ParseStatus([]byte("# branch.head (detached)\x00"))
	require.Empty(t, branch)
	require.False(t, st.Dirty())
}

func TestCacheHonorsTTL(t *testing.T) {
	t.Parallel()

	calls := 0
	now := time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)
	c := NewCache(10 * time.Second)
	c.now = func() time.Time { return now }
	c.resolve = func(_ context.Context, dir string) *Info {
		calls++
		if dir == "/not-a-repo" {
			return nil
		}
		return &Info{RepoRoot: dir, Branch: "main"}
	}

	ctx := context.Background()
	require.Equal(t, "main", c.Get(ctx, "/repo").Branch)
	require.Equal(t, "main", c.Get(ctx, "/repo").Branch)
	require.Equal(t, 1, calls)

	require.Nil(t, c.Get(ctx, "/not-a-repo"))
	require.Nil(t, c.Get(ctx, "/not-a-repo"))
	require.Equal(t, 2, calls)

	now = now.Add(11 * time.Second)
	c.Get(ctx, "/repo")
	require.Equal(t, 3, calls)

	c.Forget("/repo")
	c.Get(ctx, "/repo")
	require.Equal(t, 4, calls)

	require.Nil(t, c.Get(ctx, ""))
	require.Equal(t, 4, calls)
}

func TestResolve(t *testing.T) {
	t.Parallel()

	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not installed")
	}
	dir := t.TempDir()
	run := func(args ...string) {
		cmd := exec.Command("git", append([]string{"-C", dir}, args...)...)
		cmd.Env = append(os.Environ(), "GIT_CONFIG_GLOBAL=/dev/null", "GIT_CONFIG_NOSYSTEM=1")
		if out, err := cmd.CombinedOutput(); err != nil {
			t.Skipf("git %v failed: %v: %s", args, err, out)
		}
	}
	run("init")
	run("checkout", "-b", "work")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.txt"), []byte("x"), 0644))

	info := Resolve(context.Background(), dir)
	require.NotNil(t, info)
	require.Equal(t, "work", info.Branch)
	require.Equal(t, 1, info.Status.Untracked)

	require.Nil(t, Resolve(context.Background(), t.TempDir()))
}
