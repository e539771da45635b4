package debfile

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"io"
	"testing"

	"github.com/blakesmith/ar"
	"github.com/stretchr/testify/require"

	"github.com/apt-core/apt-core/internal/errstack"
	"github.com/apt-core/apt-core/internal/extract"
)

func buildTestDeb(t *testing.T) []byte {
	t.Helper()

	var controlBuf bytes.Buffer
	gw := gzip.NewWriter(&controlBuf)
	tw := tar.NewWriter(gw)
	writeTarFile(t, tw, "./control", "Package: foo\nVersion: 1.0\nArchitecture: amd64\n\n")
	writeTarFile(t, tw, "./postinst", "#!/bin/sh\necho hi\n")
	require.NoError(t, tw.Close())
	require.NoError(t, gw.Close())

	var dataBuf bytes.Buffer
	gw2 := gzip.NewWriter(&dataBuf)
	tw2 := tar.NewWriter(gw2)
	writeTarFile(t, tw2, "./usr/bin/foo", "binary-contents")
	require.NoError(t, tw2.Close())
	require.NoError(t, gw2.Close())

	var out bytes.Buffer
	arW := ar.NewWriter(&out)
	require.NoError(t, arW.WriteGlobalHeader())
	writeArEntry(t, arW, "debian-binary", []byte("2.0\n"))
	writeArEntry(t, arW, "control.tar.gz", controlBuf.Bytes())
	writeArEntry(t, arW, "data.tar.gz", dataBuf.Bytes())

	return out.Bytes()
}

func writeTarFile(t *testing.T, tw *tar.Writer, name, content string) {
	t.Helper()
	require.NoError(t, tw.WriteHeader(&tar.Header{Name: name, Size: int64(len(content)), Mode: 0o644}))
	_, err := tw.Write([]byte(content))
	require.NoError(t, err)
}

func writeArEntry(t *testing.T, w *ar.Writer, name string, content []byte) {
	t.Helper()
	require.NoError(t, w.WriteHeader(&ar.Header{Name: name, Size: int64(len(content))}))
	_, err := w.Write(content)
	require.NoError(t, err)
}

func TestOpenParsesControlAndScripts(t *testing.T) {
	deb := buildTestDeb(t)
	stack := errstack.New()

	a, err := Open(bytes.NewReader(deb), stack)
	require.NoError(t, err)
	require.True(t, stack.Empty())

	require.Equal(t, "foo", a.Control.Get("Package"))
	require.Equal(t, "1.0", a.Control.Get("Version"))
	require.Contains(t, a.Scripts.PostInst, "echo hi")
}

func TestWalkDataYieldsExtractItems(t *testing.T) {
	deb := buildTestDeb(t)
	stack := errstack.New()

	a, err := Open(bytes.NewReader(deb), stack)
	require.NoError(t, err)

	var items []extract.Item
	require.NoError(t, a.WalkData(func(it extract.Item) error {
		items = append(items, it)
		return nil
	}))

	require.Len(t, items, 1)
	require.Equal(t, "usr/bin/foo", items[0].Path)
	require.Equal(t, extract.ItemFile, items[0].Type)

	body, err := io.ReadAll(items[0].Body)
	require.NoError(t, err)
	require.Equal(t, "binary-contents", string(body))
}
