package extract

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/apt-core/apt-core/internal/errstack"
	"github.com/apt-core/apt-core/internal/filelist"
	"github.com/stretchr/testify/require"
)

// TestExtractS5 reproduces spec.md §8's S5 scenario: P1 owns
// /usr/bin/foo, P2 has no Replaces for P1; P2 extracting /usr/bin/foo
// must fail with OverwriteConflict("P1", path) and leave the filesystem
// unchanged.
func TestExtractS5(t *testing.T) {
	root := t.TempDir()
	fl := filelist.New()
	stack := errstack.New()

	target := filepath.Join(root, "usr/bin/foo")
	require.NoError(t, os.MkdirAll(filepath.Dir(target), 0o755))
	require.NoError(t, os.WriteFile(target, []byte("original"), 0o755))
	fl.SetOwner(target, "P1")

	s := New(root, "P2", nil, fl, stack)
	err := s.Apply(Item{
		Type: ItemFile,
		Path: "usr/bin/foo",
		Mode: 0o755,
		Body: strings.NewReader("new contents"),
	})
	require.Error(t, err)
	var conflict *ConflictError
	require.ErrorAs(t, err, &conflict)
	require.Equal(t, "P1", conflict.Owner)

	contents, readErr := os.ReadFile(target)
	require.NoError(t, readErr)
	require.Equal(t, "original", string(contents))
	require.True(t, stack.HasKind(errstack.OverwriteConflict))
}

func TestExtractReplacesAuthorizesOverwrite(t *testing.T) {
	root := t.TempDir()
	fl := filelist.New()
	stack := errstack.New()

	target := filepath.Join(root, "usr/bin/foo")
	require.NoError(t, os.MkdirAll(filepath.Dir(target), 0o755))
	require.NoError(t, os.WriteFile(target, []byte("original"), 0o755))
	fl.SetOwner(target, "P1")

	s := New(root, "P2", []string{"P1"}, fl, stack)
	err := s.Apply(Item{
		Type: ItemFile,
		Path: "usr/bin/foo",
		Mode: 0o755,
		Body: strings.NewReader("new contents"),
	})
	require.NoError(t, err)

	contents, readErr := os.ReadFile(target)
	require.NoError(t, readErr)
	require.Equal(t, "new contents", string(contents))

	n, ok := fl.Lookup(target)
	require.True(t, ok)
	require.Equal(t, "P2", n.Owner())
}

func TestExtractAbortRollsBackUnpackedFile(t *testing.T) {
	root := t.TempDir()
	fl := filelist.New()
	stack := errstack.New()

	target := filepath.Join(root, "etc/foo.conf")
	require.NoError(t, os.MkdirAll(filepath.Dir(target), 0o755))
	require.NoError(t, os.WriteFile(target, []byte("original"), 0o644))
	fl.SetOwner(target, "P1")

	s := New(root, "P1", nil, fl, stack)
	require.NoError(t, s.Apply(Item{
		Type: ItemFile,
		Path: "etc/foo.conf",
		Mode: 0o644,
		Body: strings.NewReader("upgraded"),
	}))

	contents, _ := os.ReadFile(target)
	require.Equal(t, "upgraded", string(contents))

	require.NoError(t, s.Abort())

	contents, err := os.ReadFile(target)
	require.NoError(t, err)
	require.Equal(t, "original", string(contents), "abort must restore the pre-stream bytes exactly")
}

func TestExtractAbortDropsNewFile(t *testing.T) {
	root := t.TempDir()
	fl := filelist.New()
	stack := errstack.New()

	target := filepath.Join(root, "usr/share/newthing")
	s := New(root, "P1", nil, fl, stack)
	require.NoError(t, s.Apply(Item{
		Type: ItemFile,
		Path: "usr/share/newthing",
		Mode: 0o644,
		Body: strings.NewReader("fresh"),
	}))

	_, err := os.Stat(target)
	require.NoError(t, err)

	require.NoError(t, s.Abort())

	_, err = os.Stat(target)
	require.True(t, os.IsNotExist(err))
	_, ok := fl.Lookup(target)
	require.False(t, ok)
}

func TestCanonicalizeRejectsTraversal(t *testing.T) {
	_, err := canonicalize("../../etc/passwd")
	require.Error(t, err)
}
