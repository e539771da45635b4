// Package rred implements RredPatcher (C5): applies a restricted-grammar
// ed script to a base file to produce a patched file plus its
// cryptographic hash, used during cache refresh to turn a diff feed into
// a full index before PackageCache is built (spec.md §4.9), grounded on
// rred.cc's command-vector-then-reverse-apply design (read via
// `original_source/`).
package rred

import (
	"bufio"
	"bytes"
	"crypto/sha256"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"golang.org/x/sys/unix"

	"github.com/apt-core/apt-core/internal/errstack"
)

// kind is the restricted ed command set spec.md §4.9 allows.
type kind int

const (
	kindAppend kind = iota // <n>a
	kindDelete             // <n>d or <n>,<m>d
	kindChange             // <n>,<m>c
)

// command is one parsed script edit, in the order it appeared in the
// script (start lines strictly decreasing).
type command struct {
	start, end int      // 1-indexed, inclusive; end == start for a bare <n>
	kind       kind
	lines      [][]byte // replacement/appended lines, for append/change
}

// ParseScript parses a restricted ed script (spec.md §4.9's grammar:
// `<n>a`, `<n>d`, `<n>,<m>d`, `<n>,<m>c`, each a/c followed by
// replacement lines terminated by a lone `.`). Start lines must strictly
// decrease across the script; overlapping ranges are rejected.
func ParseScript(script []byte) ([]command, error) {
	sc := bufio.NewScanner(bytes.NewReader(script))
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var cmds []command
	prevStart := -1 // sentinel: no previous command yet
	for sc.Scan() {
		line := sc.Text()
		if line == "" {
			continue
		}
		cmd, err := parseHeader(line)
		if err != nil {
			return nil, err
		}
		if prevStart >= 0 && cmd.start >= prevStart {
			return nil, corruptf("start lines must strictly decrease: %d after %d", cmd.start, prevStart)
		}
		if len(cmds) > 0 && cmd.end >= cmds[len(cmds)-1].start {
			return nil, corruptf("overlapping ranges at line %d", cmd.end)
		}
		prevStart = cmd.start

		if cmd.kind == kindAppend || cmd.kind == kindChange {
			for sc.Scan() {
				l := sc.Text()
				if l == "." {
					break
				}
				cmd.lines = append(cmd.lines, []byte(l))
			}
		}
		cmds = append(cmds, cmd)
	}
	if err := sc.Err(); err != nil {
		return nil, corruptf("reading script: %v", err)
	}
	return cmds, nil
}

func parseHeader(line string) (command, error) {
	body := line
	var op byte
	if n := len(line); n > 0 {
		op = line[n-1]
		body = line[:n-1]
	}
	var cmd command
	switch op {
	case 'a':
		cmd.kind = kindAppend
	case 'd':
		cmd.kind = kindDelete
	case 'c':
		cmd.kind = kindChange
	default:
		return cmd, corruptf("unrecognized command %q", line)
	}

	if comma := bytesIndexByte(body, ','); comma >= 0 {
		start, err1 := strconv.Atoi(body[:comma])
		end, err2 := strconv.Atoi(body[comma+1:])
		if err1 != nil || err2 != nil || start > end {
			return cmd, corruptf("bad range %q", body)
		}
		cmd.start, cmd.end = start, end
	} else {
		n, err := strconv.Atoi(body)
		if err != nil {
			return cmd, corruptf("bad line number %q", body)
		}
		cmd.start, cmd.end = n, n
	}
	if cmd.kind == kindAppend && cmd.start != cmd.end {
		return cmd, corruptf("append command cannot take a range: %q", line)
	}
	return cmd, nil
}

func bytesIndexByte(s string, b byte) int {
	for i := 0; i < len(s); i++ {
		if s[i] == b {
			return i
		}
	}
	return -1
}

func corruptf(format string, args ...any) error {
	return &patchError{kind: errstack.CorruptPatch, msg: fmt.Sprintf(format, args...)}
}

type patchError struct {
	kind errstack.Kind
	msg  string
}

func (e *patchError) Error() string { return e.kind.String() + ": " + e.msg }

// Result carries the patched file's digest and any preserved timestamps.
type Result struct {
	SHA256 [32]byte
	ATime  time.Time // carried from the base file
	MTime  time.Time // carried from the patch (script) file, per spec.md §4.9
}

// Apply reads script line by line and applies it, in reverse order (the
// last-parsed command first, i.e. increasing start-line order) so that
// base-file line numbers stay valid as the output streams forward
// (spec.md §4.9). It writes the patched file to dst and returns its
// digest. This is the plain-file path; ApplyMmap reads the base file
// through mmap instead and falls back to this one when mmap fails.
func Apply(basePath, scriptPath, dstPath string, stack *errstack.Stack) (*Result, error) {
	baseInfo, err := os.Stat(basePath)
	if err != nil {
		stack.Push(errstack.Error, errstack.IoError, basePath, err.Error())
		return nil, err
	}
	scriptInfo, err := os.Stat(scriptPath)
	if err != nil {
		stack.Push(errstack.Error, errstack.IoError, scriptPath, err.Error())
		return nil, err
	}

	baseBytes, err := os.ReadFile(basePath)
	if err != nil {
		stack.Push(errstack.Error, errstack.IoError, basePath, err.Error())
		return nil, err
	}
	scriptBytes, err := os.ReadFile(scriptPath)
	if err != nil {
		stack.Push(errstack.Error, errstack.IoError, scriptPath, err.Error())
		return nil, err
	}

	cmds, err := ParseScript(scriptBytes)
	if err != nil {
		stack.Push(errstack.Error, errstack.CorruptPatch, scriptPath, err.Error())
		return nil, err
	}

	h := sha256.New()
	out, err := os.Create(dstPath)
	if err != nil {
		stack.Push(errstack.Error, errstack.IoError, dstPath, err.Error())
		return nil, err
	}
	w := io.MultiWriter(out, h)

	if err := applyLines(splitLines(baseBytes), cmds, w); err != nil {
		out.Close()
		os.Remove(dstPath)
		stack.Push(errstack.Error, errstack.CorruptPatch, dstPath, err.Error())
		return nil, err
	}
	if err := out.Close(); err != nil {
		stack.Push(errstack.Error, errstack.IoError, dstPath, err.Error())
		return nil, err
	}

	res := &Result{
		ATime: atime(baseInfo),
		MTime: scriptInfo.ModTime(),
	}
	copy(res.SHA256[:], h.Sum(nil))
	if err := os.Chtimes(dstPath, res.ATime, res.MTime); err != nil {
		stack.Push(errstack.Warning, errstack.IoError, dstPath, err.Error())
	}
	return res, nil
}

// splitLines splits b on '\n', keeping the terminator attached to each
// line so re-emission is byte-exact even for a file missing a trailing
// newline.
func splitLines(b []byte) [][]byte {
	var out [][]byte
	start := 0
	for i, c := range b {
		if c == '\n' {
			out = append(out, b[start:i+1])
			start = i + 1
		}
	}
	if start < len(b) {
		out = append(out, b[start:])
	}
	return out
}

// applyLines walks cmds in reverse (increasing start-line order) and
// streams base plus edits to w.
func applyLines(base [][]byte, cmds []command, w io.Writer) error {
	cursor := 0 // next unwritten base line, 0-indexed
	for i := len(cmds) - 1; i >= 0; i-- {
		cmd := cmds[i]
		// Copy unchanged lines up to (not including) the command's range.
		for cursor < cmd.start-1 {
			if cursor >= len(base) {
				return fmt.Errorf("rred: command references line %d past end of base (%d lines)", cmd.start, len(base))
			}
			if _, err := w.Write(base[cursor]); err != nil {
				return err
			}
			cursor++
		}
		switch cmd.kind {
		case kindAppend:
			if cursor < len(base) {
				if _, err := w.Write(base[cursor]); err != nil {
					return err
				}
				cursor++
			}
			if err := writeLines(w, cmd.lines); err != nil {
				return err
			}
		case kindDelete:
			cursor = cmd.end
		case kindChange:
			cursor = cmd.end
			if err := writeLines(w, cmd.lines); err != nil {
				return err
			}
		}
	}
	for cursor < len(base) {
		if _, err := w.Write(base[cursor]); err != nil {
			return err
		}
		cursor++
	}
	return nil
}

func writeLines(w io.Writer, lines [][]byte) error {
	for _, l := range lines {
		if _, err := w.Write(l); err != nil {
			return err
		}
		if _, err := w.Write([]byte("\n")); err != nil {
			return err
		}
	}
	return nil
}

// ApplyMmap mmaps the base file read-only (the script is read with
// os.ReadFile) and streams the result through the same applyLines walk
// as Apply, hashing the exact bytes written. No writev call is made;
// output goes through ordinary Write calls. It falls back to Apply
// (MmapUnavailable) if mmap fails, e.g. on a filesystem that doesn't
// support it.
func ApplyMmap(basePath, scriptPath, dstPath string, stack *errstack.Stack) (*Result, error) {
	baseData, baseInfo, err := mmapFile(basePath)
	if err != nil {
		stack.Push(errstack.Warning, errstack.MmapUnavailable, basePath, err.Error())
		return Apply(basePath, scriptPath, dstPath, stack)
	}
	defer unix.Munmap(baseData)

	scriptBytes, err := os.ReadFile(scriptPath)
	if err != nil {
		stack.Push(errstack.Error, errstack.IoError, scriptPath, err.Error())
		return nil, err
	}
	scriptInfo, err := os.Stat(scriptPath)
	if err != nil {
		stack.Push(errstack.Error, errstack.IoError, scriptPath, err.Error())
		return nil, err
	}
	cmds, err := ParseScript(scriptBytes)
	if err != nil {
		stack.Push(errstack.Error, errstack.CorruptPatch, scriptPath, err.Error())
		return nil, err
	}

	out, err := os.Create(dstPath)
	if err != nil {
		stack.Push(errstack.Error, errstack.IoError, dstPath, err.Error())
		return nil, err
	}
	h := sha256.New()
	w := io.MultiWriter(out, h)

	if err := applyLines(splitLines(baseData), cmds, w); err != nil {
		out.Close()
		os.Remove(dstPath)
		stack.Push(errstack.Error, errstack.CorruptPatch, dstPath, err.Error())
		return nil, err
	}
	if err := out.Close(); err != nil {
		stack.Push(errstack.Error, errstack.IoError, dstPath, err.Error())
		return nil, err
	}

	res := &Result{ATime: atime(baseInfo), MTime: scriptInfo.ModTime()}
	copy(res.SHA256[:], h.Sum(nil))
	if err := os.Chtimes(dstPath, res.ATime, res.MTime); err != nil {
		stack.Push(errstack.Warning, errstack.IoError, dstPath, err.Error())
	}
	return res, nil
}

func mmapFile(path string) ([]byte, os.FileInfo, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, err
	}
	defer f.Close()
	st, err := f.Stat()
	if err != nil {
		return nil, nil, err
	}
	if st.Size() == 0 {
		return nil, st, nil
	}
	data, err := unix.Mmap(int(f.Fd()), 0, int(st.Size()), unix.PROT_READ, unix.MAP_SHARED)
	if err != nil {
		return nil, nil, err
	}
	return data, st, nil
}

