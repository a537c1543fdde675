package checkpoint

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"cloud.google.com/go/storage"
	"go.uber.org/zap"

	"github.com/JakeFAU/harvester/internal/harvest"
)

// GCSConfig locates the checkpoint object.
type GCSConfig struct {
	Bucket string
	Object string
}

// objectIO is the slice of the GCS object API the store relies on.
type objectIO interface {
	NewReader(ctx context.Context) (io.ReadCloser, error)
	NewWriter(ctx context.Context) io.WriteCloser
	Delete(ctx context.Context) error
}

type gcsObject struct {
	handle *storage.ObjectHandle
}

func (o gcsObject) NewReader(ctx context.Context) (io.ReadCloser, error) {
	r, err := o.handle.NewReader(ctx)
	if err != nil {
		return nil, err
	}
	return r, nil
}

func (o gcsObject) NewWriter(ctx context.Context) io.WriteCloser {
	w := o.handle.NewWriter(ctx)
	w.ContentType = "application/json"
	return w
}

func (o gcsObject) Delete(ctx context.Context) error {
	return o.handle.Delete(ctx)
}

// GCSStore keeps the snapshot as a single object. GCS object writes are atomic on Close.
type GCSStore struct {
	object objectIO
	uri    string
	logger *zap.Logger
}

// NewGCSStore returns a store writing to gs://bucket/object.
func NewGCSStore(client *storage.Client, cfg GCSConfig, logger *zap.Logger) (*GCSStore, error) {
	if client == nil {
		return nil, fmt.Errorf("storage client is required")
	}
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("bucket name is required")
	}
	if strings.TrimSpace(cfg.Object) == "" {
		return nil, fmt.Errorf("object name is required")
	}
	handle := client.Bucket(cfg.Bucket).Object(cfg.Object)
	return newGCSStore(gcsObject{handle: handle}, fmt.Sprintf("gs://%s/%s", cfg.Bucket, cfg.Object), logger), nil
}

func newGCSStore(object objectIO, uri string, logger *zap.Logger) *GCSStore {
	return &GCSStore{object: object, uri: uri, logger: nopIfNil(logger)}
}

// Load downloads the snapshot object.
func (s *GCSStore) Load(ctx context.Context) (*harvest.Record, error) {
	r, err := s.object.NewReader(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return harvest.NewRecord(), nil
		}
		return nil, fmt.Errorf("open checkpoint object: %w", err)
	}
	defer r.Close() //nolint:errcheck
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read checkpoint object: %w", err)
	}
	record, _ := decodeOrEmpty(s.logger, s.uri, data)
	return record, nil
}

// Save uploads the snapshot, replacing the previous object.
func (s *GCSStore) Save(ctx context.Context, record *harvest.Record) error {
	data, err := Encode(record)
	if err != nil {
		return err
	}
	w := s.object.NewWriter(ctx)
	if _, err := w.Write(data); err != nil {
		if closeErr := w.Close(); closeErr != nil {
			return fmt.Errorf("write checkpoint object: %w (close writer: %v)", err, closeErr)
		}
		return fmt.Errorf("write checkpoint object: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("close checkpoint writer: %w", err)
	}
	return nil
}

// Clear deletes the snapshot object. A missing object is not an error.
func (s *GCSStore) Clear(ctx context.Context) error {
	if err := s.object.Delete(ctx); err != nil && !errors.Is(err, storage.ErrObjectNotExist) {
		return fmt.Errorf("delete checkpoint object: %w", err)
	}
	return nil
}
