// Package blob is the storage collaborator for opaque document bytes. The
// signing core never assumes a filesystem path: bytes go in, a handle comes
// out, and reads hand back a stream.
package blob

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sync"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/khalilayoub23/fastepost-signing/pkg/sigdigest"
)

var ErrNotFound = errors.New("blob not found")

type Store interface {
	Put(ctx context.Context, b []byte, filename, contentType string) (handle string, err error)
	Open(ctx context.Context, handle string) (r io.ReadCloser, contentType string, err error)
}

// ReadAll stages a blob into memory and releases the stream on every exit
// path. Transfer helpers use it so temporary resources never leak out of the
// transaction boundary.
func ReadAll(ctx context.Context, s Store, handle string) ([]byte, string, error) {
	r, ct, err := s.Open(ctx, handle)
	if err != nil {
		return nil, "", err
	}
	defer r.Close()
	b, err := io.ReadAll(r)
	if err != nil {
		return nil, "", err
	}
	return b, ct, nil
}

// PGStore keeps blobs in the documents table alongside the rest of the
// delivery state, so document writes can share the signing transaction.
type PGStore struct {
	DB *pgxpool.Pool
}

func NewPG(db *pgxpool.Pool) *PGStore { return &PGStore{DB: db} }

func (s *PGStore) Put(ctx context.Context, b []byte, filename, contentType string) (string, error) {
	docID := "doc_" + uuid.NewString()
	_, err := s.DB.Exec(ctx, `
INSERT INTO documents(doc_id,filename,content_type,bytes,sha256)
VALUES($1,$2,$3,$4,$5)
`, docID, filename, contentType, b, sigdigest.SumBytes(b))
	if err != nil {
		return "", err
	}
	return docID, nil
}

func (s *PGStore) Open(ctx context.Context, handle string) (io.ReadCloser, string, error) {
	var b []byte
	var ct string
	err := s.DB.QueryRow(ctx, `SELECT bytes,content_type FROM documents WHERE doc_id=$1`, handle).Scan(&b, &ct)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, "", ErrNotFound
		}
		return nil, "", err
	}
	return io.NopCloser(bytes.NewReader(b)), ct, nil
}

// Memory is the in-process implementation used by tests.
type Memory struct {
	mu    sync.Mutex
	blobs map[string]memoryBlob
}

type memoryBlob struct {
	b  []byte
	ct string
}

func NewMemory() *Memory {
	return &Memory{blobs: map[string]memoryBlob{}}
}

func (m *Memory) Put(_ context.Context, b []byte, _, contentType string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	handle := "doc_" + uuid.NewString()
	m.blobs[handle] = memoryBlob{b: append([]byte(nil), b...), ct: contentType}
	return handle, nil
}

func (m *Memory) Open(_ context.Context, handle string) (io.ReadCloser, string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	blob, ok := m.blobs[handle]
	if !ok {
		return nil, "", ErrNotFound
	}
	return io.NopCloser(bytes.NewReader(blob.b)), blob.ct, nil
}
