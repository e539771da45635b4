package rred

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/apt-core/apt-core/internal/errstack"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
	return p
}

// TestApplyAppendAndDelete exercises the 'a' and 'd' commands together,
// with start lines strictly decreasing per spec.md §4.9's grammar.
func TestApplyAppendAndDelete(t *testing.T) {
	dir := t.TempDir()
	base := writeFile(t, dir, "base.txt", "one\ntwo\nthree\nfour\n")
	// Script lists edits top-down with decreasing start lines: first
	// append after line 3, then delete line 1.
	script := writeFile(t, dir, "script.ed", "3a\nTHREE-AND-A-HALF\n.\n1d\n")
	dst := filepath.Join(dir, "out.txt")

	stack := errstack.New()
	res, err := Apply(base, script, dst, stack)
	require.NoError(t, err)
	require.True(t, stack.Empty())

	out, err := os.ReadFile(dst)
	require.NoError(t, err)
	require.Equal(t, "two\nthree\nTHREE-AND-A-HALF\nfour\n", string(out))
	require.NotZero(t, res.SHA256)
}

func TestApplyChange(t *testing.T) {
	dir := t.TempDir()
	base := writeFile(t, dir, "base.txt", "alpha\nbeta\ngamma\n")
	script := writeFile(t, dir, "script.ed", "2,2c\nBETA-REPLACED\n.\n")
	dst := filepath.Join(dir, "out.txt")

	stack := errstack.New()
	_, err := Apply(base, script, dst, stack)
	require.NoError(t, err)

	out, err := os.ReadFile(dst)
	require.NoError(t, err)
	require.Equal(t, "alpha\nBETA-REPLACED\ngamma\n", string(out))
}

// TestRredDeterminism reproduces spec.md §8's S6 property: applying the
// same patch twice produces byte-identical output and digest.
func TestRredDeterminism(t *testing.T) {
	dir := t.TempDir()
	base := writeFile(t, dir, "base.txt", "line1\nline2\nline3\nline4\nline5\n")
	script := writeFile(t, dir, "script.ed", "4,5c\nNEW4\nNEW5\n.\n2d\n")

	stack := errstack.New()
	dst1 := filepath.Join(dir, "out1.txt")
	res1, err := Apply(base, script, dst1, stack)
	require.NoError(t, err)

	dst2 := filepath.Join(dir, "out2.txt")
	res2, err := Apply(base, script, dst2, stack)
	require.NoError(t, err)

	require.Equal(t, res1.SHA256, res2.SHA256)
	b1, _ := os.ReadFile(dst1)
	b2, _ := os.ReadFile(dst2)
	require.Equal(t, b1, b2)
}

// TestApplyMmapMatchesApply confirms ApplyMmap produces the same digest
// as Apply for the same base file and script.
func TestApplyMmapMatchesApply(t *testing.T) {
	dir := t.TempDir()
	base := writeFile(t, dir, "base.txt", "x\ny\nz\n")
	script := writeFile(t, dir, "script.ed", "2d\n")

	stack := errstack.New()
	dstPlain := filepath.Join(dir, "plain.txt")
	resPlain, err := Apply(base, script, dstPlain, stack)
	require.NoError(t, err)

	dstMmap := filepath.Join(dir, "mmap.txt")
	resMmap, err := ApplyMmap(base, script, dstMmap, stack)
	require.NoError(t, err)

	require.Equal(t, resPlain.SHA256, resMmap.SHA256)
}

func TestParseScriptRejectsNonDecreasingStarts(t *testing.T) {
	_, err := ParseScript([]byte("1d\n2d\n"))
	require.Error(t, err)
}

func TestParseScriptRejectsOverlap(t *testing.T) {
	_, err := ParseScript([]byte("3,5d\n4d\n"))
	require.Error(t, err)
}
