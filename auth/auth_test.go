package auth

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/miradordb/mirador/document"
)

var secret = []byte("test-secret")

func TestLevelFromTokenRoundTrip(t *testing.T) {
	raw, err := NewToken("user-42", secret)
	require.NoError(t, err)

	lvl, sub, err := LevelFromToken(raw, secret)
	require.NoError(t, err)
	require.Equal(t, document.Authenticated, lvl)
	require.Equal(t, "user-42", sub)
}

func TestLevelFromTokenAnonymous(t *testing.T) {
	lvl, sub, err := LevelFromToken("", secret)
	require.NoError(t, err)
	require.Equal(t, document.Public, lvl)
	require.Empty(t, sub)
}

func TestLevelFromTokenRejectsBadSignature(t *testing.T) {
	raw, err := NewToken("user-42", []byte("other-secret"))
	require.NoError(t, err)

	lvl, _, err := LevelFromToken(raw, secret)
	require.Error(t, err)
	require.Equal(t, document.Public, lvl)
}

func TestParseBearer(t *testing.T) {
	require.Equal(t, "abc", ParseBearer("Bearer abc"))
	require.Equal(t, "abc", ParseBearer("bearer abc"))
	require.Empty(t, ParseBearer("Basic abc"))
	require.Empty(t, ParseBearer(""))
}
