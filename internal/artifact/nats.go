package artifact

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/nats-io/nats.go"
)

const (
	metaContentType = "content-type"
	metaDigest      = "blake2b"
)

// NATSStore keeps artifacts in a JetStream object store bucket. The object
// store has no create-if-absent put, so write-once holds among Puts through
// one NATSStore. Writers in other processes must use distinct names.
type NATSStore struct {
	bucket string
	store  nats.ObjectStore

	mu      sync.Mutex
	writing map[string]struct{}
}

// NewNATSStore binds to bucketName, creating it on first use.
func NewNATSStore(js nats.JetStreamContext, bucketName string) (*NATSStore, error) {
	store, err := js.ObjectStore(bucketName)
	if errors.Is(err, nats.ErrStreamNotFound) || errors.Is(err, nats.ErrBucketNotFound) {
		store, err = js.CreateObjectStore(&nats.ObjectStoreConfig{
			Bucket:      bucketName,
			Description: fmt.Sprintf("Composition artifacts for the %s bucket.", bucketName),
			Storage:     nats.FileStorage,
			Replicas:    1,
		})
	}
	if err != nil {
		return nil, fmt.Errorf("bind object store bucket %q: %w", bucketName, err)
	}

	return &NATSStore{bucket: bucketName, store: store, writing: make(map[string]struct{})}, nil
}

func (n *NATSStore) Put(ctx context.Context, filename, contentType string, data []byte) (*Info, error) {
	if err := ValidateName(filename); err != nil {
		return nil, err
	}
	if !n.claim(filename) {
		return nil, fmt.Errorf("%w: %s", ErrExists, filename)
	}
	defer n.unclaim(filename)

	if _, err := n.store.GetInfo(filename, nats.Context(ctx)); err == nil {
		return nil, fmt.Errorf("%w: %s", ErrExists, filename)
	} else if !errors.Is(err, nats.ErrObjectNotFound) {
		return nil, fmt.Errorf("check object %q in bucket %q: %w", filename, n.bucket, err)
	}

	if contentType == "" {
		contentType = ContentTypeFor(filename)
	}
	digest := Digest(data)

	obj, err := n.store.Put(&nats.ObjectMeta{
		Name: filename,
		Metadata: map[string]string{
			metaContentType: contentType,
			metaDigest:      digest,
		},
	}, bytes.NewReader(data), nats.Context(ctx))
	if err != nil {
		return nil, fmt.Errorf("put object %q to bucket %q: %w", filename, n.bucket, err)
	}

	return &Info{
		Filename:    filename,
		ContentType: contentType,
		Size:        int64(obj.Size),
		Digest:      digest,
		ModTime:     obj.ModTime.UTC(),
	}, nil
}

// claim reserves filename for one in-flight Put.
func (n *NATSStore) claim(filename string) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	if _, busy := n.writing[filename]; busy {
		return false
	}
	n.writing[filename] = struct{}{}
	return true
}

func (n *NATSStore) unclaim(filename string) {
	n.mu.Lock()
	delete(n.writing, filename)
	n.mu.Unlock()
}

func (n *NATSStore) Open(ctx context.Context, filename string) (*Artifact, error) {
	if err := ValidateName(filename); err != nil {
		return nil, err
	}

	obj, err := n.store.Get(filename, nats.Context(ctx))
	if errors.Is(err, nats.ErrObjectNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, filename)
	}
	if err != nil {
		return nil, fmt.Errorf("get object %q from bucket %q: %w", filename, n.bucket, err)
	}

	oi, err := obj.Info()
	if err != nil {
		obj.Close()
		return nil, fmt.Errorf("read object info %q: %w", filename, err)
	}

	info := Info{
		Filename:    filename,
		ContentType: oi.Metadata[metaContentType],
		Size:        int64(oi.Size),
		Digest:      oi.Metadata[metaDigest],
		ModTime:     oi.ModTime.UTC(),
	}
	if info.ContentType == "" {
		info.ContentType = ContentTypeFor(filename)
	}
	return &Artifact{Info: info, ReadCloser: obj}, nil
}

var _ Store = (*NATSStore)(nil)
