// Package debfile implements consumer-side .deb demultiplexing: given a
// binary package archive, it splits the ar container into its
// control/data members and hands the control stanza to internal/tagfile
// and the data payload to internal/extract as a stream of archive items
// (spec.md §1's "binary package archive" TagStream input and §4.8's
// ExtractStream item source). Grounded on deb/package.go's NewPackage,
// role-adapted from that file's author-side (WriteTo) use of the same
// libraries to this package's read-only, consumer-side use.
package debfile

import (
	"archive/tar"
	"compress/gzip"
	"fmt"
	"io"
	"strings"

	"github.com/blakesmith/ar"

	"github.com/apt-core/apt-core/internal/errstack"
	"github.com/apt-core/apt-core/internal/extract"
	"github.com/apt-core/apt-core/internal/tagfile"
)

// Scripts holds the executable maintainer scripts extracted from the
// control member (spec.md's dpkg state model, §6's status-file
// Conffiles-adjacent metadata).
type Scripts struct {
	PreInst, PostInst, PreRm, PostRm, Config string
}

// Archive is a demultiplexed .deb: the control stanza (parsed lazily by
// the caller via internal/tagfile), maintainer scripts, conffile paths,
// and a callback-driven walk over the data payload.
type Archive struct {
	Control   *tagfile.Stanza
	Scripts   Scripts
	Conffiles []string

	dataReader func(func(extract.Item) error) error
}

// Open demultiplexes r's ar container into control and data members. The
// control archive is decompressed and scanned immediately (it is small);
// the data archive is left as a deferred per-entry walk so a caller can
// feed items straight into an extract.Stream without buffering the whole
// payload (spec.md §4.8's streaming contract).
func Open(r io.Reader, stack *errstack.Stack) (*Archive, error) {
	out := &Archive{}

	arR := ar.NewReader(r)
	for {
		header, err := arR.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			stack.Push(errstack.Error, errstack.ParseError, "", "reading ar header: "+err.Error())
			return nil, fmt.Errorf("debfile: reading ar header: %w", err)
		}

		switch {
		case strings.HasPrefix(header.Name, "control.tar"):
			tr, closer, err := tarReaderFor(header.Name, arR)
			if err != nil {
				stack.Push(errstack.Error, errstack.ParseError, header.Name, err.Error())
				return nil, err
			}
			if err := out.readControl(tr); err != nil {
				closer()
				return nil, err
			}
			closer()
		case strings.HasPrefix(header.Name, "data.tar"):
			// The ar reader only exposes the current member while
			// positioned on it; buffer its bytes now and defer the
			// tar demux itself to WalkData, so a caller can stream
			// items into an extract.Stream without us parsing ahead.
			body, err := io.ReadAll(arR)
			if err != nil {
				stack.Push(errstack.Error, errstack.IoError, header.Name, err.Error())
				return nil, err
			}
			out.dataReader = func(visit func(extract.Item) error) error {
				return walkDataTar(header.Name, body, visit)
			}
		}
	}

	if out.Control == nil {
		stack.Push(errstack.Error, errstack.ParseError, "", "missing control member")
		return nil, fmt.Errorf("debfile: missing control.tar member")
	}
	return out, nil
}

func tarReaderFor(memberName string, r io.Reader) (*tar.Reader, func() error, error) {
	if strings.HasSuffix(memberName, ".gz") {
		gzr, err := gzip.NewReader(r)
		if err != nil {
			return nil, nil, fmt.Errorf("debfile: opening %s: %w", memberName, err)
		}
		return tar.NewReader(gzr), gzr.Close, nil
	}
	return tar.NewReader(r), func() error { return nil }, nil
}

func (a *Archive) readControl(tr *tar.Reader) error {
	for {
		th, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("debfile: reading control tar header: %w", err)
		}
		name := strings.TrimPrefix(strings.TrimPrefix(th.Name, "./"), "/")
		var buf strings.Builder
		if _, err := io.Copy(&buf, tr); err != nil {
			return fmt.Errorf("debfile: reading %s: %w", name, err)
		}
		content := buf.String()

		switch name {
		case "control":
			stanza, err := tagfile.NewScanner(strings.NewReader(content)).Next()
			if err != nil {
				return fmt.Errorf("debfile: parsing control stanza: %w", err)
			}
			a.Control = stanza
		case "conffiles":
			for _, line := range strings.Split(strings.TrimSpace(content), "\n") {
				if line != "" {
					a.Conffiles = append(a.Conffiles, line)
				}
			}
		case "preinst":
			a.Scripts.PreInst = content
		case "postinst":
			a.Scripts.PostInst = content
		case "prerm":
			a.Scripts.PreRm = content
		case "postrm":
			a.Scripts.PostRm = content
		case "config":
			a.Scripts.Config = content
		}
	}
	return nil
}

// WalkData feeds every regular-file, symlink, hardlink, and directory
// entry in the data payload to visit as an extract.Item, in archive
// order, so the caller can apply each straight into an ExtractStream
// (spec.md §4.8's item source).
func (a *Archive) WalkData(visit func(extract.Item) error) error {
	if a.dataReader == nil {
		return nil
	}
	return a.dataReader(visit)
}

func walkDataTar(memberName string, body []byte, visit func(extract.Item) error) error {
	tr, closer, err := tarReaderFor(memberName, &byteReader{body})
	if err != nil {
		return err
	}
	defer closer()

	for {
		th, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("debfile: reading data tar header: %w", err)
		}
		path := strings.TrimPrefix(th.Name, "./")
		if path == "" || path == "." {
			continue
		}

		item := extract.Item{Path: path, Mode: th.FileInfo().Mode()}
		switch th.Typeflag {
		case tar.TypeReg:
			item.Type = extract.ItemFile
			item.Size = th.Size
			buf := make([]byte, th.Size)
			if _, err := io.ReadFull(tr, buf); err != nil {
				return fmt.Errorf("debfile: reading %s: %w", path, err)
			}
			item.Body = &byteReader{buf}
		case tar.TypeDir:
			item.Type = extract.ItemDir
		case tar.TypeSymlink:
			item.Type = extract.ItemSymlink
			item.LinkName = th.Linkname
		case tar.TypeLink:
			item.Type = extract.ItemHardlink
			item.LinkName = th.Linkname
		case tar.TypeChar:
			item.Type = extract.ItemCharDevice
		case tar.TypeBlock:
			item.Type = extract.ItemBlockDevice
		case tar.TypeFifo:
			item.Type = extract.ItemFIFO
		default:
			continue
		}
		if err := visit(item); err != nil {
			return err
		}
	}
	return nil
}

// byteReader adapts a []byte to io.Reader, used both for the retained
// data.tar body and for re-reading already-buffered file contents.
type byteReader struct{ b []byte }

func (r *byteReader) Read(p []byte) (int, error) {
	if len(r.b) == 0 {
		return 0, io.EOF
	}
	n := copy(p, r.b)
	r.b = r.b[n:]
	return n, nil
}
