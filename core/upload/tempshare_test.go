package upload

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
)

func writeArchive(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestTempshareUpload(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Errorf("parse form: %v", err)
			return
		}
		if got := r.FormValue("duration"); got != "7" {
			t.Errorf("duration = %q", got)
		}
		file, header, err := r.FormFile("file")
		if err != nil {
			t.Errorf("form file: %v", err)
			return
		}
		defer file.Close()
		body, _ := io.ReadAll(file)
		if header.Filename != "Mix_1234abcd.zip" || string(body) != "PK-archive" {
			t.Errorf("file = %s %q", header.Filename, body)
		}
		fmt.Fprint(w, `{"success":true,"url":"https://tempshare.su/f/abc","raw_url":"https://tempshare.su/raw/abc"}`)
	}))
	defer srv.Close()

	up := NewTempshare(srv.URL, 0, 0)
	link, err := up.Upload(context.Background(), writeArchive(t, "Mix_1234abcd.zip", "PK-archive"))
	if err != nil {
		t.Fatalf("Upload: %v", err)
	}
	if link != "https://tempshare.su/f/abc" {
		t.Errorf("link = %q", link)
	}
}

func TestTempshareRejects(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		wantErr func(error) bool
	}{
		{
			name:    "service error",
			body:    `{"success":false,"error":"file too large"}`,
			wantErr: func(err error) bool { var ue *Error; return errors.As(err, &ue) && ue.Message == "file too large" },
		},
		{
			name:    "no message",
			body:    `{"success":false}`,
			wantErr: func(err error) bool { var ue *Error; return errors.As(err, &ue) && ue.Message == "Upload failed" },
		},
		{
			name:    "empty link",
			body:    `{"success":true}`,
			wantErr: func(err error) bool { return errors.Is(err, ErrEmptyLink) },
		},
		{
			name:    "not json",
			body:    `<html>bad gateway</html>`,
			wantErr: func(err error) bool { return err != nil },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				io.Copy(io.Discard, r.Body)
				fmt.Fprint(w, tt.body)
			}))
			defer srv.Close()

			_, err := NewTempshare(srv.URL, 7, 0).Upload(context.Background(), writeArchive(t, "a.zip", "x"))
			if !tt.wantErr(err) {
				t.Errorf("err = %v", err)
			}
		})
	}
}

func TestTempshareMissingFile(t *testing.T) {
	up := NewTempshare("http://127.0.0.1:1", 7, 0)
	if _, err := up.Upload(context.Background(), filepath.Join(t.TempDir(), "nope.zip")); err == nil {
		t.Fatal("expected error for missing file")
	}
}
