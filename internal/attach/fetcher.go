// Package attach resolves Telegram document attachments into durable
// asset references: transient path lookup, byte download, re-upload.
package attach

import (
	"context"
	"fmt"
	"log/slog"
	"path"

	"github.com/inboxforge/telegram-inbox/internal/poller"
	"github.com/inboxforge/telegram-inbox/internal/telegram"
)

// FileSource resolves and downloads provider-hosted files.
type FileSource interface {
	GetFile(ctx context.Context, fileID string) (*telegram.File, error)
	Download(ctx context.Context, filePath string) ([]byte, error)
}

// UploadFile is one file handed to an Uploader.
type UploadFile struct {
	Name string
	Data []byte
}

// Uploader stores raw bytes durably and reports the resulting path per
// uploaded name.
type Uploader interface {
	Upload(ctx context.Context, dest string, files []UploadFile) (map[string]string, error)
}

// Fetcher implements poller.AttachmentFetcher on top of a FileSource
// and an Uploader.
type Fetcher struct {
	source   FileSource
	uploader Uploader
	dest     string
	logger   *slog.Logger
}

// NewFetcher creates a Fetcher uploading into dest.
func NewFetcher(source FileSource, uploader Uploader, dest string, logger *slog.Logger) *Fetcher {
	return &Fetcher{
		source:   source,
		uploader: uploader,
		dest:     dest,
		logger:   logger,
	}
}

// Fetch resolves one document, downloads its bytes and re-uploads them.
// The returned references follow upload declaration order.
func (f *Fetcher) Fetch(ctx context.Context, doc telegram.Document) ([]poller.Attachment, error) {
	file, err := f.source.GetFile(ctx, doc.FileID)
	if err != nil {
		return nil, fmt.Errorf("resolve file %s: %w", doc.FileID, err)
	}

	data, err := f.source.Download(ctx, file.FilePath)
	if err != nil {
		return nil, fmt.Errorf("download %s: %w", file.FilePath, err)
	}

	name := doc.FileName
	if name == "" {
		name = path.Base(file.FilePath)
	}

	files := []UploadFile{{Name: name, Data: data}}
	succMap, err := f.uploader.Upload(ctx, f.dest, files)
	if err != nil {
		return nil, fmt.Errorf("upload %s: %w", name, err)
	}

	refs := make([]poller.Attachment, 0, len(files))
	for _, uf := range files {
		p, ok := succMap[uf.Name]
		if !ok {
			f.logger.Warn("upload reported no path for file", "name", uf.Name)
			continue
		}
		refs = append(refs, poller.Attachment{Name: uf.Name, Path: p})
	}

	f.logger.Debug("attachment stored", "name", name, "size", len(data))
	return refs, nil
}
