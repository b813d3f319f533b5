package jwt

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestNewAndParse_Success(t *testing.T) {
	t.Parallel()

	tok, err := NewToken("admin", "super-secret", time.Hour)
	require.NoError(t, err)

	sub, err := ParseToken(tok, "super-secret")
	require.NoError(t, err)
	require.Equal(t, "admin", sub)
}

func TestParseToken_Expired(t *testing.T) {
	t.Parallel()

	tok, err := NewToken("admin", "secret", -time.Minute)
	require.NoError(t, err)

	_, err = ParseToken(tok, "secret")
	require.Error(t, err)
}

func TestParseToken_WrongSecret(t *testing.T) {
	t.Parallel()

	tok, err := NewToken("admin", "right-secret", time.Hour)
	require.NoError(t, err)

	_, err = ParseToken(tok, "wrong-secret")
	require.Error(t, err)
}

func TestParseToken_Malformed(t *testing.T) {
	t.Parallel()

	_, err := ParseToken("not.a.jwt", "k")
	require.Error(t, err)
}
