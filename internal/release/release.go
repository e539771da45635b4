// Package release verifies and parses repository Release/InRelease
// metadata: the origin/suite/codename descriptor plus the SHA256 manifest
// of every index file in the repository, gated behind a PGP signature
// check against the archive's trusted keyring (spec.md §6's "Persisted
// cache file layout"/acquire surface and §7's trust boundary on
// downloaded index data). Grounded on (and role-reversed from) deb/util.go's
// signBytes/extractPublicKey, which sign and export a key for publishing;
// here the same github.com/ProtonMail/go-crypto/openpgp stack verifies a
// signature produced by someone else's key instead.
package release

import (
	"bufio"
	"bytes"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"

	"github.com/ProtonMail/go-crypto/openpgp"
	"github.com/ProtonMail/go-crypto/openpgp/clearsign"

	"github.com/apt-core/apt-core/internal/errstack"
)

// FileEntry is one line of a Release file's Checksum block: a repository-
// relative path, its expected size, and its SHA256 digest.
type FileEntry struct {
	Path   string
	Size   int64
	SHA256 [32]byte
}

// Metadata is a parsed Release file (spec.md §6's origin/suite/codename
// descriptor, carried as a plain field struct rather than the teacher's
// ArchiveInfo since this side only ever reads one, never builds one).
type Metadata struct {
	Origin, Label, Suite, Version, Codename string
	Date, ValidUntil                        string
	Architectures, Components               string
	NotAutomatic, ButAutomaticUpgrades      bool
	Files                                   []FileEntry
}

// ParseMetadata reads a (verified) Release file's fields, including its
// SHA256 checksum block.
func ParseMetadata(body []byte) (*Metadata, error) {
	m := &Metadata{}
	sc := bufio.NewScanner(bytes.NewReader(body))
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)

	inSHA256 := false
	for sc.Scan() {
		line := sc.Text()
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, " ") {
			if !inSHA256 {
				continue
			}
			entry, err := parseFileEntryLine(line)
			if err != nil {
				return nil, err
			}
			m.Files = append(m.Files, entry)
			continue
		}
		inSHA256 = false

		key, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		value = strings.TrimSpace(value)
		switch key {
		case "Origin":
			m.Origin = value
		case "Label":
			m.Label = value
		case "Suite":
			m.Suite = value
		case "Version":
			m.Version = value
		case "Codename":
			m.Codename = value
		case "Date":
			m.Date = value
		case "Valid-Until":
			m.ValidUntil = value
		case "Architectures":
			m.Architectures = value
		case "Components":
			m.Components = value
		case "NotAutomatic":
			m.NotAutomatic = value == "yes"
		case "ButAutomaticUpgrades":
			m.ButAutomaticUpgrades = value == "yes"
		case "SHA256":
			inSHA256 = true
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("release: %w", err)
	}
	return m, nil
}

func parseFileEntryLine(line string) (FileEntry, error) {
	fields := strings.Fields(line)
	if len(fields) != 3 {
		return FileEntry{}, fmt.Errorf("release: malformed checksum line %q", line)
	}
	digest, err := hex.DecodeString(fields[0])
	if err != nil || len(digest) != 32 {
		return FileEntry{}, fmt.Errorf("release: bad SHA256 in %q", line)
	}
	size, err := strconv.ParseInt(fields[1], 10, 64)
	if err != nil {
		return FileEntry{}, fmt.Errorf("release: bad size in %q", line)
	}
	var e FileEntry
	copy(e.SHA256[:], digest)
	e.Size = size
	e.Path = fields[2]
	return e, nil
}

// Find returns the checksum entry for relPath, if the Release file lists
// it.
func (m *Metadata) Find(relPath string) (FileEntry, bool) {
	for _, f := range m.Files {
		if f.Path == relPath {
			return f, true
		}
	}
	return FileEntry{}, false
}

// Verify checks detachedSig (Release.gpg) against body (Release) using
// keyring, an ASCII-armored set of trusted public keys. It returns the
// signing entity's identity on success.
func Verify(body, detachedSig []byte, keyring string, stack *errstack.Stack) (string, error) {
	kr, err := openpgp.ReadArmoredKeyRing(strings.NewReader(keyring))
	if err != nil {
		stack.Push(errstack.Error, errstack.ParseError, "", "reading keyring: "+err.Error())
		return "", err
	}
	entity, err := openpgp.CheckArmoredDetachedSignature(kr, bytes.NewReader(body), bytes.NewReader(detachedSig), nil)
	if err != nil {
		stack.Push(errstack.Error, errstack.CorruptCache, "", "signature verification failed: "+err.Error())
		return "", err
	}
	return identityOf(entity), nil
}

// VerifyInline verifies an InRelease file, which wraps the Release body
// in a PGP clearsign block rather than carrying a detached signature
// alongside it (apt's preferred fetch target over Release+Release.gpg).
// It returns the embedded plaintext and the signer identity.
func VerifyInline(inRelease []byte, keyring string, stack *errstack.Stack) ([]byte, string, error) {
	block, _ := clearsign.Decode(inRelease)
	if block == nil {
		stack.Push(errstack.Error, errstack.CorruptCache, "", "not a clearsigned InRelease file")
		return nil, "", fmt.Errorf("release: InRelease is not clearsigned")
	}
	kr, err := openpgp.ReadArmoredKeyRing(strings.NewReader(keyring))
	if err != nil {
		stack.Push(errstack.Error, errstack.ParseError, "", "reading keyring: "+err.Error())
		return nil, "", err
	}
	entity, err := openpgp.CheckDetachedSignature(kr, bytes.NewReader(block.Bytes), block.ArmoredSignature.Body, nil)
	if err != nil {
		stack.Push(errstack.Error, errstack.CorruptCache, "", "signature verification failed: "+err.Error())
		return nil, "", err
	}
	return block.Bytes, identityOf(entity), nil
}

func identityOf(e *openpgp.Entity) string {
	if e == nil {
		return ""
	}
	for _, ident := range e.Identities {
		return ident.Name
	}
	return ""
}
