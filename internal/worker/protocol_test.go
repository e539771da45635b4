package worker

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestStanzaEncodeDecodeRoundTrip(t *testing.T) {
	st := Stanza{
		Code:    CodeURIDone,
		Message: "URI Done",
		Fields: []Field{
			{Key: "URI", Value: "http://example/a.deb"},
			{Key: "Filename", Value: "/tmp/a.deb"},
		},
	}
	var buf bytes.Buffer
	require.NoError(t, st.Encode(&buf))

	got, err := NewReader(&buf).ReadStanza()
	require.NoError(t, err)
	require.Equal(t, st.Code, got.Code)
	require.Equal(t, st.Message, got.Message)
	uri, ok := got.Get("URI")
	require.True(t, ok)
	require.Equal(t, "http://example/a.deb", uri)
}

func TestReaderMultipleStanzas(t *testing.T) {
	var buf bytes.Buffer
	_ = Stanza{Code: CodeCapabilities, Message: "Capabilities", Fields: []Field{{Key: "Version", Value: "1.0"}}}.Encode(&buf)
	_ = Stanza{Code: CodeLog, Message: "Log", Fields: []Field{{Key: "Message", Value: "hi"}}}.Encode(&buf)

	r := NewReader(&buf)
	first, err := r.ReadStanza()
	require.NoError(t, err)
	require.Equal(t, CodeCapabilities, first.Code)

	second, err := r.ReadStanza()
	require.NoError(t, err)
	require.Equal(t, CodeLog, second.Code)
}

func TestReaderUnknownCodeIsStillReturned(t *testing.T) {
	var buf bytes.Buffer
	buf.WriteString("999 Mystery\nFoo: bar\n\n")
	st, err := NewReader(&buf).ReadStanza()
	require.NoError(t, err)
	require.Equal(t, Code(999), st.Code)
}
