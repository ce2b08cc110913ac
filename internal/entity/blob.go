// ABOUTME: Blob streaming for the entity service
// ABOUTME: Copies blob content to a writer in bounded chunks, flushing each one

package entity

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/2389/entity-gateway/internal/store"
)

// Blob is an open blob source. The caller must Close it.
type Blob struct {
	Info store.BlobInfo

	src  io.ReadCloser
	pool *sync.Pool
	once sync.Once
}

type flusher interface {
	Flush()
}

// WriteTo copies the blob to w one chunk at a time. After every chunk w is
// flushed if it supports it, so a client starts receiving bytes before the
// source is exhausted. Copying stops when ctx is cancelled or a write fails.
func (b *Blob) WriteTo(ctx context.Context, w io.Writer) (int64, error) {
	bufp := b.pool.Get().(*[]byte)
	defer b.pool.Put(bufp)
	buf := *bufp

	f, canFlush := w.(flusher)

	var written int64
	for {
		if err := ctx.Err(); err != nil {
			return written, err
		}

		n, readErr := b.src.Read(buf)
		if n > 0 {
			m, err := w.Write(buf[:n])
			written += int64(m)
			if err != nil {
				return written, fmt.Errorf("writing blob: %w", err)
			}
			if m != n {
				return written, io.ErrShortWrite
			}
			if canFlush {
				f.Flush()
			}
		}
		if readErr == io.EOF {
			return written, nil
		}
		if readErr != nil {
			return written, fmt.Errorf("reading blob: %w", readErr)
		}
	}
}

// Close releases the underlying source. It is safe to call more than once.
func (b *Blob) Close() error {
	var err error
	b.once.Do(func() {
		err = b.src.Close()
	})
	return err
}

// OpenBlob resolves a blob. A missing entity or blob fails with
// store.ErrNotFound before any content is read.
func (s *Service) OpenBlob(ctx context.Context, typeID int, entityID int64, name string) (*Blob, error) {
	if err := ValidateBlobName(name); err != nil {
		return nil, err
	}
	rc, info, err := s.store.OpenBlob(ctx, typeID, entityID, name)
	if err != nil {
		return nil, fmt.Errorf("opening blob %d/%d/%s: %w", typeID, entityID, name, err)
	}
	return &Blob{Info: *info, src: rc, pool: &s.buffers}, nil
}

// PutBlob streams r into a blob of an existing entity, replacing any previous content
func (s *Service) PutBlob(ctx context.Context, typeID int, entityID int64, name string, r io.Reader) (*store.BlobInfo, error) {
	if err := ValidateBlobName(name); err != nil {
		return nil, err
	}
	info, err := s.store.PutBlob(ctx, typeID, entityID, name, r)
	if err != nil {
		return nil, fmt.Errorf("storing blob %d/%d/%s: %w", typeID, entityID, name, err)
	}
	s.logger.Info("blob stored", "type_id", typeID, "entity_id", entityID, "name", name, "size", info.Size)
	return info, nil
}

// ChunkSize returns the streaming chunk size in bytes
func (s *Service) ChunkSize() int {
	return s.chunkSize
}
