package services

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"visionchat_go_backend/internal/models"

	"github.com/google/uuid"
	"github.com/ledongthuc/pdf"
	"github.com/rs/zerolog"
)

// ParseFailureMessage replaces the raw extraction error when recognition
// cannot make sense of an accepted file.
const ParseFailureMessage = "The document could not be parsed. This may be due to unsupported file format, " +
	"file corruption, or password protection. Please try with a different file."

// ProcessResult is what the chat flow gets back: the text to merge into the
// conversation, and the stored file's ID when the upload itself landed.
type ProcessResult struct {
	Text   string
	FileID *uuid.UUID
}

// FileService runs the intake pipeline: validate, store, recognize, attach.
type FileService struct {
	gate      *FileIntakeGate
	storage   StorageClient
	extractor TextExtractor
	store     ChatStore
	log       zerolog.Logger
}

func NewFileService(gate *FileIntakeGate, storage StorageClient, extractor TextExtractor, store ChatStore, log zerolog.Logger) *FileService {
	return &FileService{
		gate:      gate,
		storage:   storage,
		extractor: extractor,
		store:     store,
		log:       log,
	}
}

// ProcessUpload validates an uploaded artifact, stores it, extracts its
// text, and attaches the text to the stored record. A recognition failure
// on an accepted file degrades into ParseFailureMessage rather than an
// error; validation failures are returned as typed errors with no side
// effects.
func (s *FileService) ProcessUpload(ctx context.Context, userID, chatID uuid.UUID, meta FileMeta, data []byte) (*ProcessResult, error) {
	if err := s.gate.ValidateUpload(meta); err != nil {
		return nil, err
	}

	objectName := fmt.Sprintf("uploads/%s/%s/%s.%s", userID, chatID, randomToken(), extensionOf(meta.Name))
	publicURL, err := s.storage.UploadPublic(ctx, objectName, bytes.NewReader(data), meta.ContentType)
	if err != nil {
		return nil, fmt.Errorf("upload file: %w", err)
	}

	record := &models.FileUpload{
		ID:          uuid.New(),
		UserID:      userID,
		ChatID:      chatID,
		Path:        objectName,
		Filename:    meta.Name,
		ContentType: meta.ContentType,
		CreatedAt:   time.Now(),
	}
	if err := s.store.CreateFileUpload(record); err != nil {
		// Orphaned object cleanup; the record is the source of truth.
		_ = s.storage.DeleteObject(ctx, objectName)
		return nil, fmt.Errorf("save file record: %w", err)
	}

	text, err := s.extractText(ctx, meta, data, publicURL)
	if err != nil {
		s.log.Warn().Err(err).Str("file_id", record.ID.String()).Msg("Text extraction failed")
		return &ProcessResult{Text: ParseFailureMessage, FileID: &record.ID}, nil
	}

	if err := s.store.AttachExtractedText(record.ID, text); err != nil {
		s.log.Error().Err(err).Str("file_id", record.ID.String()).Msg("Failed to attach extracted text")
	}
	return &ProcessResult{Text: text, FileID: &record.ID}, nil
}

// DirectOCRURL recognizes text in a publicly reachable image without any
// chat persistence.
func (s *FileService) DirectOCRURL(ctx context.Context, imageURL string) (string, error) {
	return s.extractor.ExtractTextFromURL(ctx, imageURL)
}

// DirectOCRFile recognizes text in uploaded bytes without persistence,
// under the wider direct-OCR size ceiling.
func (s *FileService) DirectOCRFile(ctx context.Context, meta FileMeta, data []byte) (string, error) {
	if err := s.gate.ValidateDirectOCR(meta); err != nil {
		return "", err
	}
	return s.extractor.ExtractTextFromBytes(ctx, data, meta.ContentType)
}

// extractText prefers the embedded text layer of a PDF and falls back to
// the vision service for everything else (and for scanned PDFs).
func (s *FileService) extractText(ctx context.Context, meta FileMeta, data []byte, publicURL string) (string, error) {
	if extensionOf(meta.Name) == "pdf" {
		if text, err := extractPDFText(data); err == nil && text != "" {
			return text, nil
		}
	}
	return s.extractor.ExtractTextFromURL(ctx, publicURL)
}

func extractPDFText(data []byte) (string, error) {
	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("open pdf: %w", err)
	}

	var content strings.Builder
	for pageIndex := 1; pageIndex <= reader.NumPage(); pageIndex++ {
		p := reader.Page(pageIndex)
		if p.V.IsNull() {
			continue
		}
		text, err := p.GetPlainText(nil)
		if err != nil {
			continue
		}
		content.WriteString(text)
		content.WriteString("\n\n")
	}

	if content.Len() == 0 {
		return "", errors.New("no text content in pdf")
	}
	return strings.TrimSpace(content.String()), nil
}

func randomToken() string {
	return strings.ReplaceAll(uuid.New().String(), "-", "")
}
