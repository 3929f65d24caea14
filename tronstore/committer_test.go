package tronstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"testing"
	"time"

	"github.com/datatrails/go-datatrails-common/azblob"
	"github.com/datatrails/go-datatrails-common/logger"
	"github.com/forestrie/go-tron/tron"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeBlob struct {
	data     []byte
	tags     map[string]string
	etag     string
	modified time.Time
}

type putCall struct {
	path string
	opts int
}

// fakeStore keeps blobs in memory. It can not see inside azblob options, so
// it records how many were passed instead.
type fakeStore struct {
	blobs map[string]*fakeBlob
	puts  []putCall
	seq   int
	err   error
}

func newFakeStore() *fakeStore {
	return &fakeStore{blobs: map[string]*fakeBlob{}}
}

func (s *fakeStore) Put(
	ctx context.Context, identity string, source io.ReadSeekCloser, opts ...azblob.Option,
) (*azblob.WriteResponse, error) {
	s.puts = append(s.puts, putCall{path: identity, opts: len(opts)})
	if s.err != nil {
		return nil, s.err
	}
	data, err := io.ReadAll(source)
	if err != nil {
		return nil, err
	}
	s.seq++
	b := &fakeBlob{
		data:     data,
		tags:     map[string]string{},
		etag:     fmt.Sprintf("etag-%d", s.seq),
		modified: time.Now(),
	}
	s.blobs[identity] = b
	etag, modified := b.etag, b.modified
	return &azblob.WriteResponse{ETag: &etag, LastModified: &modified}, nil
}

func (s *fakeStore) Reader(
	ctx context.Context, identity string, opts ...azblob.Option,
) (*azblob.ReaderResponse, error) {
	b, ok := s.blobs[identity]
	if !ok {
		return nil, fmt.Errorf("blob %s not found", identity)
	}
	etag, modified := b.etag, b.modified
	return &azblob.ReaderResponse{
		Reader:       io.NopCloser(bytes.NewReader(b.data)),
		Tags:         b.tags,
		ETag:         &etag,
		LastModified: &modified,
	}, nil
}

func newTestCommitter(t *testing.T) (*Committer, *fakeStore) {
	t.Helper()
	logger.New("NOOP")
	t.Cleanup(logger.OnExit)
	store := newFakeStore()
	return NewCommitter(CommitterConfig{}, logger.Sugar.WithServiceName("tronstore"), store), store
}

func TestDocumentBlobPath(t *testing.T) {
	id := uuid.MustParse("6ba7b810-9dad-11d1-80b4-00c04fd430c8")
	assert.Equal(t, "v1/tron/6ba7b810-9dad-11d1-80b4-00c04fd430c8.tron", DocumentBlobPath(id))

	c := NewCommitter(CommitterConfig{PathPrefix: "tenant/x"}, nil, nil)
	assert.Equal(t, "tenant/x/6ba7b810-9dad-11d1-80b4-00c04fd430c8.tron", c.blobPath(id))
}

func TestCommitAndRead(t *testing.T) {
	c, store := newTestCommitter(t)
	ctx := context.Background()

	doc, err := tron.FromJSON([]byte(`{"name":"stored","items":[1,2,3]}`))
	require.NoError(t, err)

	dc := c.NewContext(doc)
	require.True(t, dc.Creating)
	_, err = c.Commit(ctx, &dc)
	require.NoError(t, err)
	assert.False(t, dc.Creating)
	assert.Equal(t, "etag-1", dc.ETag)
	assert.Equal(t, "object", dc.Tags[TagRootKind])
	require.Len(t, store.puts, 1)
	assert.Equal(t, 2, store.puts[0].opts, "tags and if-none-match")

	require.NoError(t, doc.SetBool(tron.Root, "updated", true))
	_, err = c.Commit(ctx, &dc)
	require.NoError(t, err)
	assert.Equal(t, "etag-2", dc.ETag)
	assert.Equal(t, 2, store.puts[1].opts, "tags and if-match")

	store.blobs[dc.BlobPath].tags = dc.Tags
	read, err := c.Read(ctx, doc.ID())
	require.NoError(t, err)
	assert.Equal(t, "etag-2", read.ETag)
	assert.False(t, read.Creating)
	b, err := read.Doc.GetBool(tron.Root, "updated")
	require.NoError(t, err)
	assert.True(t, b)

	want, err := doc.ToJSON(false)
	require.NoError(t, err)
	got, err := read.Doc.ToJSON(false)
	require.NoError(t, err)
	assert.Equal(t, string(want), string(got))
}

func TestCommitterWithoutLogger(t *testing.T) {
	store := newFakeStore()
	c := NewCommitter(CommitterConfig{}, nil, store)
	ctx := context.Background()

	doc, err := tron.FromJSON([]byte(`{"quiet":true}`))
	require.NoError(t, err)
	dc := c.NewContext(doc)
	_, err = c.Commit(ctx, &dc)
	require.NoError(t, err)

	store.blobs[dc.BlobPath].tags = dc.Tags
	read, err := c.Read(ctx, doc.ID())
	require.NoError(t, err)
	b, err := read.Doc.GetBool(tron.Root, "quiet")
	require.NoError(t, err)
	assert.True(t, b)
}

func TestCommitRequiresETag(t *testing.T) {
	c, store := newTestCommitter(t)
	doc, err := tron.NewArray()
	require.NoError(t, err)

	dc := c.NewContext(doc)
	dc.Creating = false
	_, err = c.Commit(context.Background(), &dc)
	require.ErrorIs(t, err, ErrETagRequired)
	assert.Empty(t, store.puts)

	_, err = c.Commit(context.Background(), &DocumentContext{})
	require.ErrorIs(t, err, ErrNoDocument)
}

func TestCommitFailureKeepsContext(t *testing.T) {
	c, store := newTestCommitter(t)
	doc, err := tron.NewObject()
	require.NoError(t, err)

	store.err = errors.New("precondition failed")
	dc := c.NewContext(doc)
	_, err = c.Commit(context.Background(), &dc)
	require.Error(t, err)
	assert.True(t, dc.Creating)
	assert.Empty(t, dc.ETag)
}

func TestReadRejectsBadBlobs(t *testing.T) {
	c, store := newTestCommitter(t)
	ctx := context.Background()
	doc, err := tron.NewObject()
	require.NoError(t, err)
	dc := c.NewContext(doc)
	_, err = c.Commit(ctx, &dc)
	require.NoError(t, err)

	store.blobs[dc.BlobPath].tags = map[string]string{TagRootKind: "array"}
	_, err = c.Read(ctx, doc.ID())
	require.ErrorIs(t, err, ErrIncorrectTag)

	store.blobs[dc.BlobPath].tags = nil
	store.blobs[dc.BlobPath].data[len(store.blobs[dc.BlobPath].data)-1] ^= 0xff
	_, err = c.Read(ctx, doc.ID())
	require.ErrorIs(t, err, tron.ErrCorruptStream)

	// a valid document stored under another document's name
	other, err := tron.NewObject()
	require.NoError(t, err)
	data, err := other.MarshalBinary()
	require.NoError(t, err)
	store.blobs[dc.BlobPath].data = data
	_, err = c.Read(ctx, doc.ID())
	require.ErrorIs(t, err, tron.ErrCorruptStream)

	_, err = c.Read(ctx, uuid.New())
	require.Error(t, err)
}
