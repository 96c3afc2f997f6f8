package ecgstore

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"
)

// FileInfo describes a stored attachment
type FileInfo struct {
	ID          string            `json:"id"`
	Filename    string            `json:"filename"`
	ContentType string            `json:"contentType"`
	Size        int64             `json:"size"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	UploadedAt  time.Time         `json:"uploadedAt"`
}

// FileStore stores binary attachments on the blob backend. Each file is
// two objects: the bytes at files/<id> and a JSON descriptor beside it.
// Content streams through the backend, never fully buffered here.
type FileStore struct {
	backend Backend
	logger  Logger
}

// NewFileStore creates a file store over backend
func NewFileStore(backend Backend, logger Logger) *FileStore {
	if logger == nil {
		logger = &NoOpLogger{}
	}
	return &FileStore{backend: backend, logger: logger}
}

func fileKey(id string) string { return "files/" + id }
func metaKey(id string) string { return "files/" + id + ".meta.json" }

// Upload stores the content and its descriptor, returning the completed
// descriptor. A failed content write leaves no descriptor behind.
func (fs *FileStore) Upload(ctx context.Context, filename, contentType string, size int64, content io.Reader, metadata map[string]string) (FileInfo, error) {
	info := FileInfo{
		ID:          NewID(),
		Filename:    filename,
		ContentType: contentType,
		Size:        size,
		Metadata:    metadata,
		UploadedAt:  time.Now().UTC(),
	}

	if err := fs.backend.PutStream(ctx, fileKey(info.ID), content, size); err != nil {
		return FileInfo{}, fmt.Errorf("%w: upload %s: %v", ErrRepository, info.ID, err)
	}

	data, err := json.Marshal(info)
	if err != nil {
		// Orphaned content is removed so a metadata failure is clean
		if derr := fs.backend.Delete(ctx, fileKey(info.ID)); derr != nil {
			fs.logger.Warn("orphaned attachment content", "id", info.ID, "error", derr)
		}
		return FileInfo{}, fmt.Errorf("%w: marshal meta %s: %v", ErrRepository, info.ID, err)
	}
	if err := fs.backend.Put(ctx, metaKey(info.ID), data); err != nil {
		if derr := fs.backend.Delete(ctx, fileKey(info.ID)); derr != nil {
			fs.logger.Warn("orphaned attachment content", "id", info.ID, "error", derr)
		}
		return FileInfo{}, fmt.Errorf("%w: upload meta %s: %v", ErrRepository, info.ID, err)
	}

	fs.logger.Debug("stored attachment", "id", info.ID, "filename", filename, "size", size)
	return info, nil
}

// Stat returns the descriptor for a stored file
func (fs *FileStore) Stat(ctx context.Context, id string) (FileInfo, error) {
	data, err := fs.backend.Get(ctx, metaKey(id))
	if err != nil {
		return FileInfo{}, err
	}
	var info FileInfo
	if err := json.Unmarshal(data, &info); err != nil {
		return FileInfo{}, fmt.Errorf("%w: unmarshal meta %s: %v", ErrRepository, id, err)
	}
	return info, nil
}

// Download returns the descriptor and a reader over the content.
// The caller owns closing the reader.
func (fs *FileStore) Download(ctx context.Context, id string) (FileInfo, io.ReadCloser, error) {
	info, err := fs.Stat(ctx, id)
	if err != nil {
		return FileInfo{}, nil, err
	}

	rc, err := fs.backend.GetStream(ctx, fileKey(id))
	if err != nil {
		return FileInfo{}, nil, err
	}
	return info, rc, nil
}

// UpdateMetadata replaces the free-form metadata on a stored file
func (fs *FileStore) UpdateMetadata(ctx context.Context, id string, metadata map[string]string) (FileInfo, error) {
	info, err := fs.Stat(ctx, id)
	if err != nil {
		return FileInfo{}, err
	}

	info.Metadata = metadata
	data, err := json.Marshal(info)
	if err != nil {
		return FileInfo{}, fmt.Errorf("%w: marshal meta %s: %v", ErrRepository, id, err)
	}
	if err := fs.backend.Put(ctx, metaKey(id), data); err != nil {
		return FileInfo{}, fmt.Errorf("%w: update meta %s: %v", ErrRepository, id, err)
	}
	return info, nil
}

// Delete removes both the content and the descriptor. Deleting a file
// that does not exist reports ErrNotFound.
func (fs *FileStore) Delete(ctx context.Context, id string) error {
	if err := fs.backend.Delete(ctx, metaKey(id)); err != nil {
		return err
	}
	if err := fs.backend.Delete(ctx, fileKey(id)); err != nil && !IsNotFound(err) {
		return err
	}
	fs.logger.Debug("deleted attachment", "id", id)
	return nil
}
