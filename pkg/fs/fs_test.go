package fs

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hollowmark/fsfs/pkg/ids"
)

func TestCreateGenesisRevision(t *testing.T) {
	f, err := Create(t.TempDir(), Options{})
	require.NoError(t, err)
	defer f.Close()

	rev, err := f.Youngest()
	require.NoError(t, err)
	assert.Equal(t, ids.Revision(0), rev)

	entries, err := f.ReadDir(0, "/")
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestCreateRejectsExistingRepository(t *testing.T) {
	dir := t.TempDir()
	f, err := Create(dir, Options{})
	require.NoError(t, err)
	f.Close()

	_, err = Create(dir, Options{})
	assert.Error(t, err)
}

func TestCommitSingleFile(t *testing.T) {
	f, err := Create(t.TempDir(), Options{})
	require.NoError(t, err)
	defer f.Close()

	txn, err := f.Begin(0)
	require.NoError(t, err)
	require.NoError(t, txn.MakeFile("/iota", []byte("hello\n")))

	rev, err := f.Commit(txn)
	require.NoError(t, err)
	assert.Equal(t, ids.Revision(1), rev)

	content, err := f.ReadFile(rev, "/iota")
	require.NoError(t, err)
	assert.Equal(t, "hello\n", string(content))
}

func TestCoWPreservesUntouchedSiblings(t *testing.T) {
	f, err := Create(t.TempDir(), Options{})
	require.NoError(t, err)
	defer f.Close()

	txn0, err := f.Begin(0)
	require.NoError(t, err)
	require.NoError(t, txn0.MakeDir("/d"))
	require.NoError(t, txn0.MakeFile("/d/a", []byte("a-v1\n")))
	require.NoError(t, txn0.MakeFile("/d/b", []byte("b-v1\n")))
	require.NoError(t, txn0.MakeFile("/d/c", []byte("c-v1\n")))
	rev1, err := f.Commit(txn0)
	require.NoError(t, err)

	// Mutate only /d/a. This copy-on-writes /d itself (and the root
	// above it); /d/b and /d/c must still resolve afterward.
	txn1, err := f.Begin(rev1)
	require.NoError(t, err)
	require.NoError(t, txn1.WriteFile("/d/a", []byte("a-v2\n")))
	rev2, err := f.Commit(txn1)
	require.NoError(t, err)

	a, err := f.ReadFile(rev2, "/d/a")
	require.NoError(t, err)
	assert.Equal(t, "a-v2\n", string(a))

	b, err := f.ReadFile(rev2, "/d/b")
	require.NoError(t, err)
	assert.Equal(t, "b-v1\n", string(b))

	c, err := f.ReadFile(rev2, "/d/c")
	require.NoError(t, err)
	assert.Equal(t, "c-v1\n", string(c))

	entries, err := f.ReadDir(rev2, "/d")
	require.NoError(t, err)
	names := make(map[string]bool, len(entries))
	for _, e := range entries {
		names[e.Name] = true
	}
	assert.Equal(t, map[string]bool{"a": true, "b": true, "c": true}, names)
}

func TestBeginSeedsRootWithPreexistingEntries(t *testing.T) {
	f, err := Create(t.TempDir(), Options{})
	require.NoError(t, err)
	defer f.Close()

	txn0, err := f.Begin(0)
	require.NoError(t, err)
	require.NoError(t, txn0.MakeFile("/one", []byte("1\n")))
	require.NoError(t, txn0.MakeFile("/two", []byte("2\n")))
	rev1, err := f.Commit(txn0)
	require.NoError(t, err)

	// A transaction that only touches /three must not lose /one or /two
	// from the root it never explicitly re-set.
	txn1, err := f.Begin(rev1)
	require.NoError(t, err)
	require.NoError(t, txn1.MakeFile("/three", []byte("3\n")))
	rev2, err := f.Commit(txn1)
	require.NoError(t, err)

	entries, err := f.ReadDir(rev2, "/")
	require.NoError(t, err)
	names := make(map[string]bool, len(entries))
	for _, e := range entries {
		names[e.Name] = true
	}
	assert.Equal(t, map[string]bool{"one": true, "two": true, "three": true}, names)
}

func TestCommitFailsWhenBaseIsNoLongerYoungest(t *testing.T) {
	f, err := Create(t.TempDir(), Options{})
	require.NoError(t, err)
	defer f.Close()

	txn0, err := f.Begin(0)
	require.NoError(t, err)
	require.NoError(t, txn0.MakeFile("/iota", []byte("v1\n")))
	rev1, err := f.Commit(txn0)
	require.NoError(t, err)

	t1, err := f.Begin(rev1)
	require.NoError(t, err)
	require.NoError(t, t1.WriteFile("/iota", []byte("from t1\n")))

	t2, err := f.Begin(rev1)
	require.NoError(t, err)
	require.NoError(t, t2.WriteFile("/iota", []byte("from t2\n")))

	_, err = f.Commit(t1)
	require.NoError(t, err)

	_, err = f.Commit(t2)
	assert.Error(t, err)
}

func TestDeleteCollapsesDescendantChanges(t *testing.T) {
	f, err := Create(t.TempDir(), Options{})
	require.NoError(t, err)
	defer f.Close()

	txn0, err := f.Begin(0)
	require.NoError(t, err)
	require.NoError(t, txn0.MakeDir("/a"))
	require.NoError(t, txn0.MakeDir("/a/b"))
	rev1, err := f.Commit(txn0)
	require.NoError(t, err)

	// /a exists before this transaction, so deleting it is a real
	// delete and the add of /a/b/c beneath it is dropped.
	txn, err := f.Begin(rev1)
	require.NoError(t, err)
	require.NoError(t, txn.MakeFile("/a/b/c", []byte("leaf\n")))
	require.NoError(t, txn.Delete("/a"))

	rev, err := f.Commit(txn)
	require.NoError(t, err)

	changes, err := f.Changes(rev)
	require.NoError(t, err)
	require.Len(t, changes, 1)
	rec, ok := changes["/a"]
	require.True(t, ok)
	assert.Equal(t, ids.ChangeDelete, rec.Kind)
}
