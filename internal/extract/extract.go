// Package extract implements ExtractStream (C4 part 2): consumes a
// tar-like archive item stream and applies each item to the filesystem
// atomically, consulting FileListCache to resolve diversions and
// authorize overwrites, with an exact-inverse rollback on abort
// (spec.md §4.8).
package extract

import (
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/apt-core/apt-core/internal/errstack"
	"github.com/apt-core/apt-core/internal/filelist"
)

// ItemType enumerates the archive item kinds ExtractStream understands.
type ItemType int

const (
	ItemFile ItemType = iota
	ItemHardlink
	ItemSymlink
	ItemDir
	ItemCharDevice
	ItemBlockDevice
	ItemFIFO
)

// Item is one archive entry to apply.
type Item struct {
	Type     ItemType
	Path     string
	LinkName string // Hardlink/Symlink target
	Mode     os.FileMode
	Body     io.Reader // Type == ItemFile only
	Size     int64
}

// maxRecurseDepth bounds the "is this directory non-empty of
// foreign-owned files" walk (spec.md §4.8 step 4).
const maxRecurseDepth = 40

// Stream applies a sequence of archive items for one package unpack,
// against root (the install target directory) and a shared FileListCache.
type Stream struct {
	root    string
	pkg     string
	replaces map[string]bool // package names this package's Replaces field covers
	fl      *filelist.Cache
	stack   *errstack.Stack

	touchedTmp []string // targets moved aside to path.dpkg-tmp this stream (recorded only; Abort walks the FileListCache's Unpacked nodes instead)
}

// New starts an ExtractStream for pkg unpacking into root. replaces lists
// the package names pkg's control data declares a Replaces relationship
// with (spec.md §4.8 step 3's overwrite authorization).
func New(root, pkg string, replaces []string, fl *filelist.Cache, stack *errstack.Stack) *Stream {
	rm := map[string]bool{}
	for _, r := range replaces {
		rm[r] = true
	}
	return &Stream{root: root, pkg: pkg, replaces: rm, fl: fl, stack: stack}
}

// canonicalize implements spec.md §4.8 step 1: strip leading/trailing
// slashes, reject traversal, control characters, and overlong paths.
func canonicalize(p string) (string, error) {
	if len(p) > 4096 {
		return "", fmt.Errorf("extract: path too long")
	}
	for _, r := range p {
		if r < 0x20 {
			return "", fmt.Errorf("extract: control character in path %q", p)
		}
	}
	for _, part := range strings.Split(p, "/") {
		if part == ".." {
			return "", fmt.Errorf("extract: path traversal in %q", p)
		}
	}
	clean := strings.Trim(path.Clean("/"+p), "/")
	return clean, nil
}

// Apply processes one archive item end to end.
func (s *Stream) Apply(it Item) error {
	rel, err := canonicalize(it.Path)
	if err != nil {
		s.stack.Push(errstack.Error, errstack.IoError, it.Path, err.Error())
		return err
	}

	target := filepath.Join(s.root, rel)
	if to, ok := s.fl.ResolveDiversion(target); ok && s.notDiversionOwner(target) {
		target = to
	}

	if err := s.authorizeOverwrite(target); err != nil {
		return err
	}
	if err := s.guardDirectoryReplace(target, it.Type); err != nil {
		return err
	}

	_, preexisted := os.Lstat(target)
	existed := preexisted == nil

	switch it.Type {
	case ItemDir:
		if err := os.MkdirAll(target, it.mode()); err != nil {
			s.stack.Push(errstack.Error, errstack.IoError, target, err.Error())
			return err
		}
	case ItemSymlink:
		if err := s.atomicCreate(target, func(tmp string) error {
			return os.Symlink(it.LinkName, tmp)
		}); err != nil {
			return err
		}
	case ItemHardlink:
		linkTarget := filepath.Join(s.root, it.LinkName)
		if err := s.atomicCreate(target, func(tmp string) error {
			return os.Link(linkTarget, tmp)
		}); err != nil {
			return err
		}
	case ItemCharDevice, ItemBlockDevice, ItemFIFO:
		// Device/FIFO node creation requires mknod, a privileged
		// syscall not exercised in this core; callers running
		// unprivileged leave these items to the installer backend's
		// own mknod helper. Record the intent so rollback still knows
		// about the path, and surface the limitation in the emitted
		// plan rather than applying the item silently (spec.md §4.8).
		s.stack.Push(errstack.Warning, errstack.IoError, target, "device/FIFO node not created by this core; deferred to installer backend")
	default: // ItemFile
		if err := s.extractFile(target, it); err != nil {
			return err
		}
	}

	s.fl.SetOwner(target, s.pkg)
	// A path that existed before this item is a replace-in-place
	// (restorable via its .dpkg-tmp sibling on abort); a path that
	// didn't is a brand-new file (dropped outright on abort), per
	// spec.md §4.8 step 6.
	if existed {
		s.fl.MarkUnpacked(target)
	} else {
		s.fl.MarkNewFile(target)
	}
	return nil
}

func (it Item) mode() os.FileMode {
	if it.Mode == 0 {
		return 0o755
	}
	return it.Mode
}

// fl_not_owner reports whether target is not the diversion's own owner,
// i.e. whether this package should actually be redirected (spec.md §4.8
// step 2: "if the item is not the diversion owner").
func (s *Stream) notDiversionOwner(target string) bool {
	n, ok := s.fl.Lookup(target)
	if !ok {
		return true
	}
	d, ok := n.Diversion()
	if !ok {
		return true
	}
	return d.Owner() != s.pkg
}

// authorizeOverwrite implements spec.md §4.8 step 3: refuse to overwrite
// a file owned by a different package unless this package's Replaces
// covers that owner.
func (s *Stream) authorizeOverwrite(target string) error {
	n, ok := s.fl.Lookup(target)
	if !ok {
		return nil
	}
	owner := n.Owner()
	if owner == "" || owner == s.pkg {
		return nil
	}
	if s.replaces[owner] {
		return nil
	}
	s.stack.Push(errstack.Error, errstack.OverwriteConflict, target, "owned by "+owner)
	return &ConflictError{Owner: owner, Path: target}
}

// guardDirectoryReplace implements spec.md §4.8 step 4: refuse to replace
// a non-empty directory with a non-directory item if it contains files
// not owned by this package, recursing up to maxRecurseDepth.
func (s *Stream) guardDirectoryReplace(target string, newType ItemType) error {
	if newType == ItemDir {
		return nil
	}
	fi, err := os.Lstat(target)
	if err != nil || !fi.IsDir() {
		return nil
	}
	foreign, err := s.hasForeignFiles(target, 0)
	if err != nil {
		s.stack.Push(errstack.Error, errstack.IoError, target, err.Error())
		return err
	}
	if foreign {
		s.stack.Push(errstack.Error, errstack.OverwriteConflict, target, "non-empty directory owned by another package")
		return &ConflictError{Owner: "", Path: target}
	}
	return nil
}

func (s *Stream) hasForeignFiles(dir string, depth int) (bool, error) {
	if depth > maxRecurseDepth {
		return true, nil
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return false, err
	}
	for _, e := range entries {
		p := filepath.Join(dir, e.Name())
		if e.IsDir() {
			foreign, err := s.hasForeignFiles(p, depth+1)
			if err != nil {
				return false, err
			}
			if foreign {
				return true, nil
			}
			continue
		}
		n, ok := s.fl.Lookup(p)
		if !ok || (n.Owner() != s.pkg && n.Owner() != "") {
			return true, nil
		}
	}
	return false, nil
}

// extractFile implements spec.md §4.8 step 5: write new bytes to
// path.dpkg-new, atomically move the existing target aside to
// path.dpkg-tmp, then rename the new file into place.
func (s *Stream) extractFile(target string, it Item) error {
	newPath := target + ".dpkg-new"
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		s.stack.Push(errstack.Error, errstack.IoError, target, err.Error())
		return err
	}
	f, err := os.OpenFile(newPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, it.mode())
	if err != nil {
		s.stack.Push(errstack.Error, errstack.IoError, newPath, err.Error())
		return err
	}
	if _, err := io.Copy(f, it.Body); err != nil {
		f.Close()
		os.Remove(newPath)
		s.stack.Push(errstack.Error, errstack.IoError, newPath, err.Error())
		return err
	}
	if err := f.Close(); err != nil {
		s.stack.Push(errstack.Error, errstack.IoError, newPath, err.Error())
		return err
	}

	tmpPath := target + ".dpkg-tmp"
	if _, err := os.Lstat(target); err == nil {
		if err := os.Rename(target, tmpPath); err != nil {
			s.stack.Push(errstack.Error, errstack.IoError, target, err.Error())
			return err
		}
		s.touchedTmp = append(s.touchedTmp, target)
	}
	if err := os.Rename(newPath, target); err != nil {
		s.stack.Push(errstack.Error, errstack.IoError, target, err.Error())
		return err
	}
	return nil
}

func (s *Stream) atomicCreate(target string, create func(tmp string) error) error {
	newPath := target + ".dpkg-new"
	os.Remove(newPath)
	if err := create(newPath); err != nil {
		s.stack.Push(errstack.Error, errstack.IoError, target, err.Error())
		return err
	}
	tmpPath := target + ".dpkg-tmp"
	if _, err := os.Lstat(target); err == nil {
		if err := os.Rename(target, tmpPath); err != nil {
			s.stack.Push(errstack.Error, errstack.IoError, target, err.Error())
			return err
		}
		s.touchedTmp = append(s.touchedTmp, target)
	}
	if err := os.Rename(newPath, target); err != nil {
		s.stack.Push(errstack.Error, errstack.IoError, target, err.Error())
		return err
	}
	return nil
}

// Abort rolls the stream back to its pre-stream state (spec.md §4.8 step
// 6 / §8 property 5): every Node marked Unpacked this archive has its
// .dpkg-tmp renamed back if one was created, and every Node marked
// NewFile is dropped from the FileListCache.
func (s *Stream) Abort() error {
	for _, target := range s.fl.UnpackedPaths() {
		tmpPath := target + ".dpkg-tmp"
		if _, err := os.Lstat(tmpPath); err == nil {
			if err := os.Rename(tmpPath, target); err != nil {
				s.stack.Push(errstack.Error, errstack.IoError, target, err.Error())
				return err
			}
		}
		s.fl.ClearTransient(target)
	}
	for _, target := range s.fl.NewFilePaths() {
		os.Remove(target)
		s.fl.DropNode(target)
	}
	return nil
}

// Commit clears the transient flags of every path touched by this stream,
// finalizing the unpack (the archive completed without abort).
func (s *Stream) Commit() {
	for _, target := range s.fl.UnpackedPaths() {
		s.fl.ClearTransient(target)
	}
	for _, target := range s.fl.NewFilePaths() {
		s.fl.ClearTransient(target)
	}
}

// ConflictError reports an unauthorized overwrite (spec.md §4.8 step 3).
type ConflictError struct {
	Owner string
	Path  string
}

func (e *ConflictError) Error() string {
	if e.Owner == "" {
		return fmt.Sprintf("extract: %s: directory not owned by this package", e.Path)
	}
	return fmt.Sprintf("extract: %s: owned by %s", e.Path, e.Owner)
}
