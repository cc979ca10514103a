package server

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// ErrNoImage is returned when no receipt image is archived for an expense
var ErrNoImage = errors.New("no receipt image")

// archiveTypes maps archived file extensions to content types
var archiveTypes = map[string]string{
	".jpg":  "image/jpeg",
	".png":  "image/png",
	".gif":  "image/gif",
	".pdf":  "application/pdf",
	".heic": "image/heic",
	".heif": "image/heif",
}

// Archive keeps the original upload of image-sourced expenses
type Archive interface {
	// Save stores the upload for an expense id
	Save(id uint64, contentType string, data []byte) error

	// Get returns the upload and its content type
	Get(id uint64) ([]byte, string, error)
}

// LocalArchive implements Archive on the local filesystem
type LocalArchive struct {
	basePath string
}

// NewLocalArchive creates a LocalArchive rooted at basePath
func NewLocalArchive(basePath string) (*LocalArchive, error) {
	if err := os.MkdirAll(basePath, 0755); err != nil {
		return nil, fmt.Errorf("creating archive directory: %w", err)
	}
	return &LocalArchive{basePath: basePath}, nil
}

// Save writes the upload as <id><ext>
func (l *LocalArchive) Save(id uint64, contentType string, data []byte) error {
	path := filepath.Join(l.basePath, strconv.FormatUint(id, 10)+extensionFor(contentType))
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("writing receipt image: %w", err)
	}
	return nil
}

// Get finds the upload whatever its extension
func (l *LocalArchive) Get(id uint64) ([]byte, string, error) {
	matches, err := filepath.Glob(filepath.Join(l.basePath, strconv.FormatUint(id, 10)+".*"))
	if err != nil {
		return nil, "", fmt.Errorf("finding receipt image: %w", err)
	}
	if len(matches) == 0 {
		return nil, "", fmt.Errorf("%w for expense %d", ErrNoImage, id)
	}

	data, err := os.ReadFile(matches[0])
	if err != nil {
		return nil, "", fmt.Errorf("reading receipt image: %w", err)
	}

	contentType, ok := archiveTypes[filepath.Ext(matches[0])]
	if !ok {
		contentType = "application/octet-stream"
	}
	return data, contentType, nil
}

func extensionFor(contentType string) string {
	contentType = strings.ToLower(strings.TrimSpace(contentType))
	if i := strings.Index(contentType, ";"); i >= 0 {
		contentType = strings.TrimSpace(contentType[:i])
	}
	for ext, ct := range archiveTypes {
		if ct == contentType {
			return ext
		}
	}
	return ".bin"
}

// contentTypeFor guesses a content type from an upload's file name
func contentTypeFor(filename string) string {
	ext := strings.ToLower(filepath.Ext(filename))
	if ext == ".jpeg" {
		ext = ".jpg"
	}
	if ct, ok := archiveTypes[ext]; ok {
		return ct
	}
	return "application/octet-stream"
}
