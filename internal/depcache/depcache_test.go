package depcache

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/apt-core/apt-core/internal/cache"
	"github.com/apt-core/apt-core/internal/errstack"
	"github.com/apt-core/apt-core/internal/policy"
	"github.com/stretchr/testify/require"
)

func buildTestCache(t *testing.T) *cache.Cache {
	t.Helper()
	dir := t.TempDir()
	packages := `Package: libfoo
Architecture: amd64
Version: 1.0
Priority: optional

Package: myapp
Architecture: amd64
Version: 2.0
Priority: optional
Depends: libfoo (>= 1.0)

`
	path := filepath.Join(dir, "Packages")
	require.NoError(t, os.WriteFile(path, []byte(packages), 0o644))

	stack := errstack.New()
	src := cache.Source{Path: path, Origin: cache.OriginMeta{Archive: "stable"}}
	c, err := cache.Build([]cache.Source{src}, stack)
	require.NoError(t, err)
	require.True(t, stack.Empty())
	return c
}

func TestMarkInstallFollowsDepends(t *testing.T) {
	c := buildTestCache(t)
	pol := policy.New(c, nil)
	dc := New(c, pol, errstack.New())

	myapp, ok := c.FindPackage("myapp", "amd64")
	require.True(t, ok)

	require.True(t, dc.MarkInstall(myapp, true, 8, true))

	libfoo, ok := c.FindPackage("libfoo", "amd64")
	require.True(t, ok)
	st := dc.State(libfoo)
	require.Equal(t, ModeInstall, st.Mode)

	require.Equal(t, 0, dc.BrokenCount())
}

func TestMarkDeleteBreaksDependent(t *testing.T) {
	c := buildTestCache(t)
	pol := policy.New(c, nil)
	dc := New(c, pol, errstack.New())

	myapp, _ := c.FindPackage("myapp", "amd64")
	libfoo, _ := c.FindPackage("libfoo", "amd64")

	require.True(t, dc.MarkInstall(myapp, true, 8, true))
	require.Equal(t, 0, dc.BrokenCount())

	require.True(t, dc.MarkDelete(libfoo, false))
	require.Equal(t, 1, dc.BrokenCount())
}

func TestActionGroupDefersRecompute(t *testing.T) {
	c := buildTestCache(t)
	pol := policy.New(c, nil)
	dc := New(c, pol, errstack.New())

	myapp, _ := c.FindPackage("myapp", "amd64")
	libfoo, _ := c.FindPackage("libfoo", "amd64")

	ag := dc.BeginActionGroup()
	dc.MarkInstall(myapp, true, 8, true)
	dc.MarkDelete(libfoo, false)
	// Recompute hasn't run yet: BrokenCount still reflects the prior state.
	require.Equal(t, 0, dc.BrokenCount())
	ag.Close()
	require.Equal(t, 1, dc.BrokenCount())
}

func TestMarkDeleteHonorsHold(t *testing.T) {
	c := buildTestCache(t)
	pol := policy.New(c, nil)
	dc := New(c, pol, errstack.New())

	libfoo, _ := c.FindPackage("libfoo", "amd64")
	libfoo.SetSelectedState(cache.SelHold)

	stack := errstack.New()
	dc.Stack = stack
	require.False(t, dc.MarkDelete(libfoo, false))
	require.True(t, stack.HasKind(errstack.Held))

	dc.AllowChangeHeldPackages = true
	require.True(t, dc.MarkDelete(libfoo, false))
}
