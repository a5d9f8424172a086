package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseHeader(t *testing.T) {
	h, err := ParseHeader("Persisted on Mon Jan  2 15:04:05 2006 [aegisrouter 0.9rc12]")
	require.NoError(t, err)
	assert.Equal(t, "0.9rc12", h.Version)
	assert.Equal(t, 2006, h.Date.Year())

	_, err = ParseHeader("Saved on Mon Jan  2 15:04:05 2006 [aegisrouter 0.9rc12]")
	assert.ErrorIs(t, err, ErrInvalidHeader)

	_, err = ParseHeader("Persisted on Mon Jan  2 15:04:05 2006 [aegisrouter beta]")
	assert.ErrorIs(t, err, ErrInvalidVersion)
	assert.NotErrorIs(t, err, ErrInvalidHeader)
}

func TestParseVersion(t *testing.T) {
	v, err := ParseVersion("0.9rc12")
	require.NoError(t, err)
	assert.Equal(t, "0.9012", v.String())

	v, err = ParseVersion("0.8b2")
	require.NoError(t, err)
	assert.Equal(t, "0.8002", v.String())

	_, err = ParseVersion("1")
	assert.ErrorIs(t, err, ErrInvalidVersion)
}

func TestVersionIsValid(t *testing.T) {
	cases := []struct {
		version, condition string
		want               bool
	}{
		{"0.9rc12", ">=0.9", true},
		{"0.9rc12", "<0.9", false},
		{"0.8b2", "<=0.8002", true},
		{"0.8b2", "==0.8002", true},
		{"0.8b2", ">0.8002", false},
	}
	for _, c := range cases {
		got, err := VersionIsValid(c.version, c.condition)
		require.NoError(t, err)
		assert.Equal(t, c.want, got, "%s %s", c.version, c.condition)
	}
	_, err := VersionIsValid("0.8b2", "~0.8")
	assert.ErrorIs(t, err, ErrInvalidCondition)
}

func TestEncodeDecode(t *testing.T) {
	type doc struct {
		Name string `json:"name"`
	}
	data, err := Encode(doc{Name: "default"})
	require.NoError(t, err)

	var out doc
	h, err := Decode(data, &out)
	require.NoError(t, err)
	assert.Equal(t, Release, h.Version)
	assert.Equal(t, "default", out.Name)

	_, err = Decode([]byte("garbage\n{}"), &out)
	assert.ErrorIs(t, err, ErrInvalidHeader)

	bad := append([]byte(Header{Version: Release}.String()+"\n"), []byte("{not json")...)
	_, err = Decode(bad, &out)
	assert.ErrorIs(t, err, ErrDecode)
	assert.NotErrorIs(t, err, ErrInvalidHeader)
}

func testBackend(t *testing.T, b Backend) {
	ctx := context.Background()
	_, err := b.Load(ctx, "default", "users")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, b.Save(ctx, "default", "users", []byte("one")))
	require.NoError(t, b.Save(ctx, "default", "users", []byte("two")))
	data, err := b.Load(ctx, "default", "users")
	require.NoError(t, err)
	assert.Equal(t, "two", string(data))
	require.NoError(t, b.Close())
}

func TestFileBackend(t *testing.T) {
	b, err := NewFileBackend(t.TempDir())
	require.NoError(t, err)
	testBackend(t, b)

	assert.Error(t, b.Save(context.Background(), "../etc", "users", nil))
}

func TestSQLiteBackend(t *testing.T) {
	b, err := NewSQLiteBackend(context.Background(), filepath.Join(t.TempDir(), "store.db"))
	require.NoError(t, err)
	testBackend(t, b)
}
