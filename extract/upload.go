package extract

import (
	"errors"
	"io"
	"mime/multipart"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
)

// Upload is an uploaded file stored on disk for the duration of a request
type Upload struct {
	Path         string
	OriginalName string
	Size         int64
}

// Save copies a multipart file into dir under a generated name keeping the extension
func Save(dir string, fh *multipart.FileHeader) (*Upload, error) {
	src, err := fh.Open()
	if err != nil {
		return nil, err
	}
	defer src.Close()

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	name := uuid.New().String() + strings.ToLower(filepath.Ext(fh.Filename))
	path := filepath.Join(dir, name)
	dst, err := os.Create(path)
	if err != nil {
		return nil, err
	}

	size, err := io.Copy(dst, src)
	if closeErr := dst.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		_ = os.Remove(path)
		return nil, err
	}

	return &Upload{Path: path, OriginalName: fh.Filename, Size: size}, nil
}

// Cleanup removes the stored file. Safe to call more than once.
func (u *Upload) Cleanup() {
	if u == nil {
		return
	}
	if err := os.Remove(u.Path); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.WithField("file", u.Path).Warn("failed to delete upload: ", err)
	}
}

// Cleanup removes every upload in the list
func Cleanup(uploads []*Upload) {
	for _, u := range uploads {
		u.Cleanup()
	}
}
