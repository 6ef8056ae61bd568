package shellsafe

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSanitizeExecutableValueAcceptsBareNames(t *testing.T) {
	got, err := SanitizeExecutableValue("zsh")
	require.NoError(t, err)
	require.Equal(t, "zsh", got)
}

func TestSanitizeExecutableValueAcceptsPaths(t *testing.T) {
	got, err := SanitizeExecutableValue("/bin/bash")
	require.NoError(t, err)
	require.Equal(t, "/bin/bash", got)
}

func TestSanitizeExecutableValueRejectsMetachars(t *testing.T) {
	_, err := SanitizeExecutableValue("zsh; rm -rf /")
	require.ErrorIs(t, err, ErrShellMetachar)
}

func TestSanitizeExecutableValueRejectsOptionInjection(t *testing.T) {
	_, err := SanitizeExecutableValue("-rf")
	require.ErrorIs(t, err, ErrOptionInjection)
}

func TestSanitizeExecutableValueRejectsEmpty(t *testing.T) {
	_, err := SanitizeExecutableValue("")
	require.ErrorIs(t, err, ErrEmptyValue)
}

func TestSanitizeExecutableValueRejectsNullAndControl(t *testing.T) {
	_, err := SanitizeExecutableValue("zsh\x00")
	require.ErrorIs(t, err, ErrNullByte)

	_, err = SanitizeExecutableValue("zsh\nwhoami")
	require.ErrorIs(t, err, ErrControlChar)
}

func TestSanitizeExecutableValueRejectsQuotes(t *testing.T) {
	_, err := SanitizeExecutableValue(`"zsh"`)
	require.ErrorIs(t, err, ErrQuoteChar)
}

func TestSanitizeExecutableValueBareNameCharset(t *testing.T) {
	got, err := SanitizeExecutableValue("python3.12")
	require.NoError(t, err)
	require.Equal(t, "python3.12", got)

	_, err = SanitizeExecutableValue("my tool")
	require.ErrorIs(t, err, ErrInvalidBareNameChars)
}

func TestIsLikelyPath(t *testing.T) {
	require.True(t, IsLikelyPath("./run.sh"))
	require.True(t, IsLikelyPath("~/bin/tool"))
	require.True(t, IsLikelyPath("/usr/bin/env"))
	require.True(t, IsLikelyPath(`C:\tools\zsh.exe`))
	require.False(t, IsLikelyPath("ls"))
	require.False(t, IsLikelyPath(""))
}
