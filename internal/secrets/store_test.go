package secrets

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestStoreRoundTrip(t *testing.T) {
	t.Parallel()
	s := &Store{Dir: filepath.Join(t.TempDir(), "cfg")}

	_, err := s.Get("api")
	require.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, s.Set(" API ", "tok-123"))
	got, err := s.Get("api")
	require.NoError(t, err)
	require.Equal(t, "tok-123", got)

	raw, err := os.ReadFile(filepath.Join(s.Dir, fileName))
	require.NoError(t, err)
	require.NotContains(t, string(raw), "tok-123")
	info, err := os.Stat(filepath.Join(s.Dir, fileName))
	require.NoError(t, err)
	require.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	require.NoError(t, s.Delete("api"))
	_, err = s.Get("api")
	require.ErrorIs(t, err, ErrNotFound)
	require.Error(t, s.Set("", "x"))
}

func TestResolvePrefersEnv(t *testing.T) {
	s := &Store{Dir: t.TempDir()}
	require.NoError(t, s.Set("api", "stored"))

	t.Setenv("DEBTDESK_TEST_TOKEN", "from-env")
	got, err := s.Resolve("DEBTDESK_TEST_TOKEN", "api")
	require.NoError(t, err)
	require.Equal(t, "from-env", got)

	t.Setenv("DEBTDESK_TEST_TOKEN", "")
	got, err = s.Resolve("DEBTDESK_TEST_TOKEN", "api")
	require.NoError(t, err)
	require.Equal(t, "stored", got)

	got, err = s.Resolve("", "other")
	require.NoError(t, err)
	require.Empty(t, got)
}
