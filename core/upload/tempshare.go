package upload

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"VKSaver/logger"
)

const (
	DefaultTempshareURL = "https://api.tempshare.su/upload"
	DefaultTimeout      = 600 * time.Second
	DefaultDurationDays = 7
)

// Tempshare uploads archives to the tempshare service as multipart forms.
type Tempshare struct {
	endpoint     string
	durationDays int
	client       *http.Client
}

// NewTempshare creates a tempshare uploader.
func NewTempshare(endpoint string, durationDays int, timeout time.Duration) *Tempshare {
	if endpoint == "" {
		endpoint = DefaultTempshareURL
	}
	if durationDays <= 0 {
		durationDays = DefaultDurationDays
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Tempshare{
		endpoint:     endpoint,
		durationDays: durationDays,
		client:       &http.Client{Timeout: timeout},
	}
}

// Upload streams path as the "file" field and returns the share link.
func (t *Tempshare) Upload(ctx context.Context, path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	pr, pw := io.Pipe()
	form := multipart.NewWriter(pw)
	go func() {
		pw.CloseWithError(writeForm(form, f, filepath.Base(path), t.durationDays))
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.endpoint, pr)
	if err != nil {
		pr.Close()
		return "", err
	}
	req.Header.Set("Content-Type", form.FormDataContentType())

	start := time.Now()
	resp, err := t.client.Do(req)
	if err != nil {
		logger.Error("[Tempshare.Upload] request failed", logger.String("file", path), logger.ErrorField(err))
		return "", fmt.Errorf("tempshare upload: %w", err)
	}
	defer resp.Body.Close()

	var result struct {
		Success bool   `json:"success"`
		URL     string `json:"url"`
		RawURL  string `json:"raw_url"`
		Error   string `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("tempshare upload: decode response (status %d): %w", resp.StatusCode, err)
	}
	if !result.Success {
		msg := result.Error
		if msg == "" {
			msg = "Upload failed"
		}
		return "", &Error{Message: msg}
	}
	if result.URL == "" {
		return "", ErrEmptyLink
	}

	logger.Info("[Tempshare.Upload] uploaded", logger.String("file", filepath.Base(path)), logger.String("url", result.URL), logger.Duration("took", time.Since(start)))
	return result.URL, nil
}

func writeForm(form *multipart.Writer, src io.Reader, name string, durationDays int) error {
	part, err := form.CreateFormFile("file", name)
	if err != nil {
		return err
	}
	if _, err := io.Copy(part, src); err != nil {
		return err
	}
	if err := form.WriteField("duration", strconv.Itoa(durationDays)); err != nil {
		return err
	}
	return form.Close()
}
