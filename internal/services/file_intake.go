package services

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
)

var (
	// ErrUnsupportedFile and ErrFileTooLarge are decided locally, before
	// any network call.
	ErrUnsupportedFile = errors.New("unsupported file type")
	ErrFileTooLarge    = errors.New("file exceeds size limit")
)

// Media types the vision service accepts directly.
var supportedContentTypes = map[string]bool{
	"image/png":  true,
	"image/jpeg": true,
	"image/jpg":  true,
	"image/bmp":  true,
	"image/heic": true,
}

// Extensions accepted even when the declared media type is off (browsers
// routinely misreport HEIC and TIFF). The extension list is wider than the
// type list on purpose.
var supportedExtensions = map[string]bool{
	"png": true, "jpeg": true, "jpg": true, "bmp": true,
	"heic": true, "pdf": true, "tiff": true, "tif": true,
}

// FileMeta is everything the gate looks at. Validation never touches the
// file contents.
type FileMeta struct {
	Name        string
	ContentType string
	Size        int64
}

// FileIntakeGate is a pure predicate over upload metadata. The two size
// ceilings are distinct: chat uploads are capped tighter than the direct
// OCR entry point.
type FileIntakeGate struct {
	maxUploadBytes    int64
	maxDirectOCRBytes int64
}

func NewFileIntakeGate(maxUploadBytes, maxDirectOCRBytes int64) *FileIntakeGate {
	return &FileIntakeGate{
		maxUploadBytes:    maxUploadBytes,
		maxDirectOCRBytes: maxDirectOCRBytes,
	}
}

// ValidateUpload gates files entering the chat upload path.
func (g *FileIntakeGate) ValidateUpload(meta FileMeta) error {
	return g.validate(meta, g.maxUploadBytes)
}

// ValidateDirectOCR gates files entering the direct OCR path.
func (g *FileIntakeGate) ValidateDirectOCR(meta FileMeta) error {
	return g.validate(meta, g.maxDirectOCRBytes)
}

func (g *FileIntakeGate) validate(meta FileMeta, maxBytes int64) error {
	if !supportedContentTypes[strings.ToLower(meta.ContentType)] && !supportedExtensions[extensionOf(meta.Name)] {
		return fmt.Errorf("%w: %s (%s)", ErrUnsupportedFile, meta.Name, meta.ContentType)
	}
	if meta.Size > maxBytes {
		return fmt.Errorf("%w: %d bytes (limit %d)", ErrFileTooLarge, meta.Size, maxBytes)
	}
	return nil
}

func extensionOf(name string) string {
	return strings.ToLower(strings.TrimPrefix(filepath.Ext(name), "."))
}
