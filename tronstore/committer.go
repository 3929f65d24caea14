package tronstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/datatrails/go-datatrails-common/azblob"
	"github.com/datatrails/go-datatrails-common/logger"
	"github.com/forestrie/go-tron/tron"
	"github.com/google/uuid"
)

const (
	DefaultPathPrefix = "v1/tron"
	BlobExtension     = ".tron"

	TagRootKind   = "tronkind"
	TagDataLength = "tronlen"
)

var (
	ErrETagRequired    = errors.New("tronstore: etag is required when updating a document blob")
	ErrIncorrectTag    = errors.New("tronstore: blob tag disagrees with the document")
	ErrNoDocument      = errors.New("tronstore: context has no document")
	ErrMissingMetadata = errors.New("tronstore: blob response is missing metadata")
)

// Store is the part of the azblob Storer the committer needs.
type Store interface {
	Put(ctx context.Context, identity string, source io.ReadSeekCloser, opts ...azblob.Option) (*azblob.WriteResponse, error)
	Reader(ctx context.Context, identity string, opts ...azblob.Option) (*azblob.ReaderResponse, error)
}

type CommitterConfig struct {
	// PathPrefix defaults to DefaultPathPrefix.
	PathPrefix string
}

type Committer struct {
	Cfg   CommitterConfig
	Log   logger.Logger
	Store Store
}

// DocumentContext tracks a document and the blob it is stored in.
type DocumentContext struct {
	BlobPath     string
	ETag         string
	Tags         map[string]string
	LastRead     time.Time
	LastModified time.Time
	// Creating is set until the blob has been written once.
	Creating bool
	Doc      *tron.Document
}

// NewCommitter returns a committer writing through store. log may be nil.
func NewCommitter(cfg CommitterConfig, log logger.Logger, store Store) *Committer {
	if cfg.PathPrefix == "" {
		cfg.PathPrefix = DefaultPathPrefix
	}
	return &Committer{
		Cfg:   cfg,
		Log:   log,
		Store: store,
	}
}

// DocumentBlobPath returns the path of the blob holding document id.
func DocumentBlobPath(id uuid.UUID) string {
	return fmt.Sprintf("%s/%s%s", DefaultPathPrefix, id, BlobExtension)
}

func (c *Committer) blobPath(id uuid.UUID) string {
	return fmt.Sprintf("%s/%s%s", c.Cfg.PathPrefix, id, BlobExtension)
}

// NewContext prepares a context for storing doc in a new blob.
func (c *Committer) NewContext(doc *tron.Document) DocumentContext {
	return DocumentContext{
		BlobPath: c.blobPath(doc.ID()),
		Tags:     map[string]string{},
		Creating: true,
		Doc:      doc,
	}
}

// Commit writes the document in dc to its blob. On success the context
// carries the new etag, so it can be committed again after further changes.
func (c *Committer) Commit(ctx context.Context, dc *DocumentContext) (*azblob.WriteResponse, error) {
	if dc.Doc == nil {
		return nil, ErrNoDocument
	}
	data, err := dc.Doc.MarshalBinary()
	if err != nil {
		return nil, err
	}
	if dc.Tags == nil {
		dc.Tags = map[string]string{}
	}
	setTags(dc.Tags, dc.Doc)

	opts := []azblob.Option{azblob.WithTags(dc.Tags)}
	if dc.ETag != "" {
		opts = append(opts, azblob.WithEtagMatch(dc.ETag))
	} else if !dc.Creating {
		return nil, ErrETagRequired
	}
	if dc.Creating {
		// fail rather than overwrite a blob that appeared since we looked
		opts = append(opts, azblob.WithEtagNoneMatch("*"))
	}

	wr, err := c.Store.Put(ctx, dc.BlobPath, azblob.NewBytesReaderCloser(data), opts...)
	if err != nil {
		return wr, err
	}
	dc.Creating = false
	if wr != nil && wr.ETag != nil {
		dc.ETag = *wr.ETag
	}
	if wr != nil && wr.LastModified != nil {
		dc.LastModified = *wr.LastModified
	}
	if c.Log != nil {
		c.Log.Debugf("committed %s: %d bytes, etag %s", dc.BlobPath, len(data), dc.ETag)
	}
	return wr, nil
}

// Read fetches and loads the document id. The blob tags must agree with the
// loaded document.
func (c *Committer) Read(ctx context.Context, id uuid.UUID, opts ...tron.Option) (DocumentContext, error) {
	dc := DocumentContext{BlobPath: c.blobPath(id)}

	rr, err := c.Store.Reader(ctx, dc.BlobPath, azblob.WithGetTags())
	if err != nil {
		return dc, err
	}
	if rr.Reader == nil {
		return dc, fmt.Errorf("%w: no content for %s", ErrMissingMetadata, dc.BlobPath)
	}
	data, err := io.ReadAll(rr.Reader)
	err = errors.Join(err, rr.Reader.Close())
	if err != nil {
		return dc, err
	}
	if rr.ETag == nil || rr.LastModified == nil {
		return dc, fmt.Errorf("%w: %s", ErrMissingMetadata, dc.BlobPath)
	}

	dc.Doc, err = tron.FromBytes(data, opts...)
	if err != nil {
		return dc, err
	}
	if dc.Doc.ID() != id {
		return dc, fmt.Errorf("%w: blob %s holds document %s", tron.ErrCorruptStream, dc.BlobPath, dc.Doc.ID())
	}
	if err := checkTags(rr.Tags, dc.Doc); err != nil {
		return dc, err
	}

	dc.Tags = rr.Tags
	dc.ETag = *rr.ETag
	dc.LastModified = *rr.LastModified
	dc.LastRead = time.Now()
	if c.Log != nil {
		c.Log.Debugf("read %s: %d bytes, etag %s", dc.BlobPath, len(data), dc.ETag)
	}
	return dc, nil
}

func setTags(tags map[string]string, doc *tron.Document) {
	tags[TagRootKind] = doc.Kind().String()
	tags[TagDataLength] = strconv.Itoa(doc.UsedLength())
}

// checkTags compares the tags written by setTags with doc. Tags read
// directly with the blob are the values last written, so any difference
// means the blob was not written by Commit.
func checkTags(tags map[string]string, doc *tron.Document) error {
	want := map[string]string{}
	setTags(want, doc)
	for k, v := range want {
		got, ok := tags[k]
		if !ok {
			continue
		}
		if got != v {
			return fmt.Errorf("%w: %s is %q, want %q", ErrIncorrectTag, k, got, v)
		}
	}
	return nil
}
