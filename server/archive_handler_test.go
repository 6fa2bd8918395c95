package server

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"VKSaver/config"
	"VKSaver/storage"
)

type memArchives map[string]string

func (m memArchives) Open(_ context.Context, name string) (io.ReadCloser, int64, error) {
	if name == "broken.zip" {
		return nil, 0, errors.New("connection refused")
	}
	body, ok := m[name]
	if !ok {
		return nil, 0, storage.ErrArchiveNotFound
	}
	return io.NopCloser(strings.NewReader(body)), int64(len(body)), nil
}

func TestArchiveHandler(t *testing.T) {
	h := NewAPIHandler(nil, nil, nil, &config.Config{CORSOrigins: "*"})
	srv := httptest.NewServer(NewRouter(h, memArchives{"Road Trip_1234abcd.zip": "PK-data"}))
	defer srv.Close()

	tests := []struct {
		name       string
		path       string
		wantStatus int
		wantBody   string
	}{
		{"found", "/archives/Road%20Trip_1234abcd.zip", http.StatusOK, "PK-data"},
		{"missing", "/archives/other.zip", http.StatusNotFound, ""},
		{"not a zip", "/archives/passwd", http.StatusNotFound, ""},
		{"storage down", "/archives/broken.zip", http.StatusBadGateway, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := http.Get(srv.URL + tt.path)
			if err != nil {
				t.Fatal(err)
			}
			defer resp.Body.Close()
			if resp.StatusCode != tt.wantStatus {
				t.Fatalf("status = %d, want %d", resp.StatusCode, tt.wantStatus)
			}
			if tt.wantBody == "" {
				return
			}
			body, _ := io.ReadAll(resp.Body)
			if string(body) != tt.wantBody {
				t.Errorf("body = %q", body)
			}
			if cd := resp.Header.Get("Content-Disposition"); !strings.Contains(cd, "Road Trip_1234abcd.zip") {
				t.Errorf("Content-Disposition = %q", cd)
			}
		})
	}
}
