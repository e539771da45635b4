package hooks

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEncodeStringEscapesControlQuoteBackslash(t *testing.T) {
	w := NewWriter()
	w.Value("a\"b\\c\td")
	require.Equal(t, "\"a\\u0022b\\u005Cc\\u0009d\"", w.String())
}

func TestHelloAdvertisesBothVersions(t *testing.T) {
	doc := Hello()
	require.Contains(t, doc, `"method":"org.debian.apt.hooks.hello"`)
	require.Contains(t, doc, `"0.1"`)
	require.Contains(t, doc, `"0.2"`)
}

func TestByeHasEmptyParams(t *testing.T) {
	doc := Bye()
	require.Contains(t, doc, `"method":"org.debian.apt.hooks.bye"`)
	require.Contains(t, doc, `"params":{}`)
}

func TestNotifyIncludesPackageTransitions(t *testing.T) {
	doc := Notify("org.debian.apt.hooks.install.pre-prompt", []PackageTransition{
		{
			ID: 1, Name: "foo", Architecture: "amd64", Mode: ModeInstall, Automatic: false,
			Candidate: &VersionInfo{ID: 2, Version: "1.0", Architecture: "amd64", Pin: 500},
		},
	}, []string{"bar"})
	require.Contains(t, doc, `"name":"foo"`)
	require.Contains(t, doc, `"mode":"install"`)
	require.Contains(t, doc, `"unknown-packages":["bar"]`)
}
