package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

const (
	readAnalyzePath = "vision/v3.2/read/analyze"
	readResultsPath = "vision/v3.2/read/analyzeResults/"

	// NoTextDetected is returned instead of an empty string when the job
	// succeeds but recognizes nothing.
	NoTextDetected = "No text detected in the image."
)

var (
	// ErrOperationFailed means the vision service explicitly reported the
	// job as failed.
	ErrOperationFailed = errors.New("text recognition operation failed")
	// ErrPollTimeout means the poll budget was exhausted before the job
	// reached a terminal state.
	ErrPollTimeout = errors.New("text recognition operation timed out")
	// ErrExtraction wraps any transport or protocol fault talking to the
	// vision service. It is never left to propagate as a raw error.
	ErrExtraction = errors.New("text extraction error")
)

// jobStatus values the poll endpoint reports.
const (
	statusNotStarted = "notStarted"
	statusRunning    = "running"
	statusSucceeded  = "succeeded"
	statusFailed     = "failed"
)

// OCRService submits recognition jobs to the vision service and polls the
// resulting operation until it completes. One extraction call is bounded by
// maxPollAttempts * pollInterval; there is no early cancellation beyond that
// budget.
type OCRService struct {
	endpoint     string
	apiKey       string
	httpClient   *http.Client
	pollInterval time.Duration
	maxAttempts  int
	log          zerolog.Logger
}

func NewOCRService(endpoint, apiKey string, pollInterval time.Duration, maxAttempts int, log zerolog.Logger) *OCRService {
	if !strings.HasSuffix(endpoint, "/") {
		endpoint += "/"
	}
	return &OCRService{
		endpoint:     endpoint,
		apiKey:       apiKey,
		httpClient:   &http.Client{Timeout: 30 * time.Second},
		pollInterval: pollInterval,
		maxAttempts:  maxAttempts,
		log:          log,
	}
}

// ExtractTextFromURL submits a publicly reachable image URL for recognition
// and waits for the assembled text.
func (s *OCRService) ExtractTextFromURL(ctx context.Context, imageURL string) (string, error) {
	body, err := json.Marshal(map[string]string{"url": imageURL})
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrExtraction, err)
	}
	jobID, err := s.submit(ctx, bytes.NewReader(body), "application/json")
	if err != nil {
		return "", err
	}
	return s.await(ctx, jobID)
}

// ExtractTextFromBytes submits raw image or document bytes for recognition.
func (s *OCRService) ExtractTextFromBytes(ctx context.Context, data []byte, contentType string) (string, error) {
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	jobID, err := s.submit(ctx, bytes.NewReader(data), contentType)
	if err != nil {
		return "", err
	}
	return s.await(ctx, jobID)
}

// submit starts the recognition job and returns its handle, parsed from the
// final path segment of the Operation-Location header.
func (s *OCRService) submit(ctx context.Context, body io.Reader, contentType string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint+readAnalyzePath, body)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrExtraction, err)
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Ocp-Apim-Subscription-Key", s.apiKey)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: submit: %v", ErrExtraction, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("%w: submit returned status %d", ErrExtraction, resp.StatusCode)
	}

	opLocation := resp.Header.Get("Operation-Location")
	if opLocation == "" {
		return "", fmt.Errorf("%w: operation location missing from response", ErrExtraction)
	}
	jobID := opLocation[strings.LastIndex(opLocation, "/")+1:]
	if jobID == "" {
		return "", fmt.Errorf("%w: could not parse job id from %q", ErrExtraction, opLocation)
	}
	return jobID, nil
}

// await polls the job at the fixed interval until it succeeds, fails, or the
// attempt budget runs out.
func (s *OCRService) await(ctx context.Context, jobID string) (string, error) {
	for attempt := 1; attempt <= s.maxAttempts; attempt++ {
		result, err := s.readResult(ctx, jobID)
		if err != nil {
			return "", err
		}

		switch result.Status {
		case statusSucceeded:
			return assembleText(result), nil
		case statusFailed:
			return "", ErrOperationFailed
		case statusNotStarted, statusRunning:
			// keep polling
		default:
			s.log.Warn().Str("job_id", jobID).Str("status", result.Status).Msg("Unknown recognition job status")
		}

		if attempt < s.maxAttempts {
			time.Sleep(s.pollInterval)
		}
	}
	return "", ErrPollTimeout
}

type readResult struct {
	Status        string `json:"status"`
	AnalyzeResult struct {
		ReadResults []struct {
			Lines []struct {
				Text string `json:"text"`
			} `json:"lines"`
		} `json:"readResults"`
	} `json:"analyzeResult"`
}

func (s *OCRService) readResult(ctx context.Context, jobID string) (*readResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.endpoint+readResultsPath+jobID, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrExtraction, err)
	}
	req.Header.Set("Ocp-Apim-Subscription-Key", s.apiKey)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: poll: %v", ErrExtraction, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: poll returned status %d", ErrExtraction, resp.StatusCode)
	}

	var result readResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("%w: decode poll response: %v", ErrExtraction, err)
	}
	return &result, nil
}

// assembleText joins each page's lines with a single space and pages with a
// line break.
func assembleText(result *readResult) string {
	var pages []string
	for _, page := range result.AnalyzeResult.ReadResults {
		lines := make([]string, 0, len(page.Lines))
		for _, line := range page.Lines {
			lines = append(lines, line.Text)
		}
		pages = append(pages, strings.Join(lines, " "))
	}
	text := strings.TrimSpace(strings.Join(pages, "\n"))
	if text == "" {
		return NoTextDetected
	}
	return text
}
