package commit

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hollowmark/fsfs/pkg/ids"
)

type fakeHistory struct {
	youngest ids.Revision
	changes  map[ids.Revision]map[string]ids.ChangeRecord
	nodeRevs map[string]*ids.NodeRevision
}

func (f *fakeHistory) Youngest() (ids.Revision, error) { return f.youngest, nil }

func (f *fakeHistory) Changes(rev ids.Revision) (map[string]ids.ChangeRecord, error) {
	return f.changes[rev], nil
}

func (f *fakeHistory) NodeRevision(rev ids.Revision, nodeNumber uint64) (*ids.NodeRevision, error) {
	return f.nodeRevs[ids.RevisionChangeSet(rev).String()], nil
}

func (f *fakeHistory) RepContent(rep *ids.Representation) ([]byte, error) {
	return nil, nil
}

func newPipeline(h *fakeHistory) *Pipeline {
	return New(Config{History: h})
}

func TestVerifyMovesRequiresAncestorDeletion(t *testing.T) {
	p := newPipeline(&fakeHistory{changes: map[ids.Revision]map[string]ids.ChangeRecord{}})

	folded := map[string]ids.ChangeRecord{
		"/bar": {Path: "/bar", Kind: ids.ChangeMove, CopyFromPath: "/foo"},
	}
	err := p.verifyMoves(folded, 1, 1)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrIncompleteMove)
}

func TestVerifyMovesAcceptsDeletionOfSourceItself(t *testing.T) {
	p := newPipeline(&fakeHistory{changes: map[ids.Revision]map[string]ids.ChangeRecord{}})

	folded := map[string]ids.ChangeRecord{
		"/bar": {Path: "/bar", Kind: ids.ChangeMove, CopyFromPath: "/foo"},
		"/foo": {Path: "/foo", Kind: ids.ChangeDelete},
	}
	assert.NoError(t, p.verifyMoves(folded, 1, 1))
}

func TestVerifyMovesAcceptsDeletionOfAncestor(t *testing.T) {
	p := newPipeline(&fakeHistory{changes: map[ids.Revision]map[string]ids.ChangeRecord{}})

	folded := map[string]ids.ChangeRecord{
		"/bar/baz": {Path: "/bar/baz", Kind: ids.ChangeMove, CopyFromPath: "/foo/baz"},
		"/foo":     {Path: "/foo", Kind: ids.ChangeDelete},
	}
	assert.NoError(t, p.verifyMoves(folded, 1, 1))
}

func TestVerifyMovesRejectsTwoMovesFromSameSource(t *testing.T) {
	p := newPipeline(&fakeHistory{changes: map[ids.Revision]map[string]ids.ChangeRecord{}})

	folded := map[string]ids.ChangeRecord{
		"/a": {Path: "/a", Kind: ids.ChangeMove, CopyFromPath: "/src"},
		"/b": {Path: "/b", Kind: ids.ChangeMove, CopyFromPath: "/src"},
		"/src": {Path: "/src", Kind: ids.ChangeDelete},
	}
	err := p.verifyMoves(folded, 1, 1)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrAmbiguousMove)
}

func TestVerifyMovesRejectsConcurrentCommittedMoveOfSameSource(t *testing.T) {
	p := newPipeline(&fakeHistory{
		changes: map[ids.Revision]map[string]ids.ChangeRecord{
			2: {"/elsewhere": {Path: "/elsewhere", Kind: ids.ChangeMove, CopyFromPath: "/src"}},
		},
	})

	folded := map[string]ids.ChangeRecord{
		"/dest": {Path: "/dest", Kind: ids.ChangeMove, CopyFromPath: "/src"},
		"/src":  {Path: "/src", Kind: ids.ChangeDelete},
	}
	err := p.verifyMoves(folded, 1, 2)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrAmbiguousMove)
}

func TestVerifyMovesNoMovesIsANoop(t *testing.T) {
	p := newPipeline(&fakeHistory{changes: map[ids.Revision]map[string]ids.ChangeRecord{}})
	folded := map[string]ids.ChangeRecord{
		"/a": {Path: "/a", Kind: ids.ChangeAdd},
	}
	assert.NoError(t, p.verifyMoves(folded, 1, 1))
}
