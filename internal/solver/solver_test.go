package solver

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

func buildScenarioCache(t *testing.T) *cache.Cache {
	t.Helper()
	dir := t.TempDir()
	packages := `Package: b
Architecture: amd64
Version: 1
Priority: optional

Package: b
Architecture: amd64
Version: 2
Priority: optional

Package: a
Architecture: amd64
Version: 1
Priority: optional
Depends: b (>= 2)

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

// TestSolveS3 reproduces spec.md §8's S3 scenario: a Depends on b (>= 2),
// versions b:1 and b:2 available; requesting "install a" must select b:2.
func TestSolveS3(t *testing.T) {
	c := buildScenarioCache(t)
	pol := policy.New(c, nil)
	dc := depcache.New(c, pol, errstack.New())

	sv := New(dc, pol, errstack.New(), []string{"amd64"})
	err := sv.Solve(Request{Install: []string{"a"}, AutoInstall: true})
	require.NoError(t, err)

	a, _ := c.FindPackage("a", "amd64")
	av, ok := dc.InstallVersion(a)
	require.True(t, ok)
	require.Equal(t, "1", av.VerStr())

	b, _ := c.FindPackage("b", "amd64")
	bv, ok := dc.InstallVersion(b)
	require.True(t, ok)
	require.Equal(t, "2", bv.VerStr())

	require.Equal(t, 0, dc.BrokenCount())
}

func TestResolveClassicMatchesS3(t *testing.T) {
	c := buildScenarioCache(t)
	pol := policy.New(c, nil)
	dc := depcache.New(c, pol, errstack.New())

	require.NoError(t, ResolveClassic(dc, []string{"a"}, nil, 16))
	require.Equal(t, 0, dc.BrokenCount())

	b, _ := c.FindPackage("b", "amd64")
	bv, ok := dc.InstallVersion(b)
	require.True(t, ok)
	require.Equal(t, "2", bv.VerStr())
}
