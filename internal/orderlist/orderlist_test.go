package orderlist

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/apt-core/apt-core/internal/cache"
	"github.com/apt-core/apt-core/internal/depcache"
	"github.com/apt-core/apt-core/internal/errstack"
	"github.com/apt-core/apt-core/internal/policy"
	"github.com/stretchr/testify/require"
)

func buildCache(t *testing.T, packages string) *cache.Cache {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "Packages")
	require.NoError(t, os.WriteFile(path, []byte(packages), 0o644))

	stack := errstack.New()
	src := cache.Source{Path: path, Origin: cache.OriginMeta{Archive: "stable"}}
	c, err := cache.Build([]cache.Source{src}, stack)
	require.NoError(t, err)
	require.True(t, stack.Empty())
	return c
}

// TestOrderS4 reproduces spec.md §8's S4 scenario: a PreDepends b, b is not
// installed, both are marked Install; OrderList must emit
// UnPack b; Configure b; UnPack a; Configure a.
func TestOrderS4(t *testing.T) {
	c := buildCache(t, `Package: b
Architecture: amd64
Version: 1
Priority: optional

Package: a
Architecture: amd64
Version: 1
Priority: optional
Pre-Depends: b

`)
	stack := errstack.New()
	pol := policy.New(c, nil)
	dc := depcache.New(c, pol, stack)

	a, ok := c.FindPackage("a", "amd64")
	require.True(t, ok)
	b, ok := c.FindPackage("b", "amd64")
	require.True(t, ok)

	require.True(t, dc.MarkInstall(a, true, 16, true))
	require.True(t, dc.MarkInstall(b, true, 16, true))
	require.Equal(t, 0, dc.BrokenCount())

	ol := New(dc, stack)
	events, err := ol.Order()
	require.NoError(t, err)

	var seq []string
	for _, e := range events {
		seq = append(seq, e.Action.String()+" "+e.Pkg.Name())
	}
	require.Equal(t, []string{
		"UnPack b", "Configure b", "UnPack a", "Configure a",
	}, seq)
}

func TestOrderRemove(t *testing.T) {
	c := buildCache(t, `Package: z
Architecture: amd64
Version: 1
Priority: optional

`)
	stack := errstack.New()
	pol := policy.New(c, nil)
	dc := depcache.New(c, pol, stack)

	z, ok := c.FindPackage("z", "amd64")
	require.True(t, ok)
	require.True(t, dc.MarkDelete(z, false))

	ol := New(dc, stack)
	events, err := ol.Order()
	require.NoError(t, err)
	require.Len(t, events, 1)
	require.Equal(t, ActionRemove, events[0].Action)
	require.Equal(t, "z", events[0].Pkg.Name())
}
