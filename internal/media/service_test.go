package media

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/friendsincode/grooveboat/internal/config"
	"github.com/rs/zerolog"
)

func newTestService() *Service {
	return NewService(&config.Config{FetchTimeout: 2 * time.Second, S3Region: "us-east-1"}, zerolog.Nop())
}

func TestFetchHTTP(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/missing.mp3" {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write([]byte("ID3-bytes"))
	}))
	defer srv.Close()

	svc := newTestService()
	body, err := svc.Fetch(context.Background(), srv.URL+"/song.mp3")
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if string(body) != "ID3-bytes" {
		t.Fatalf("body = %q", body)
	}

	if _, err := svc.Fetch(context.Background(), srv.URL+"/missing.mp3"); err == nil {
		t.Fatal("expected error for 404")
	}
}

func TestFetchFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "song.mp3")
	if err := os.WriteFile(path, []byte("local"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}

	svc := newTestService()
	for _, trackURL := range []string{path, "file://" + path} {
		body, err := svc.Fetch(context.Background(), trackURL)
		if err != nil {
			t.Fatalf("fetch %s: %v", trackURL, err)
		}
		if string(body) != "local" {
			t.Fatalf("body = %q", body)
		}
	}
}

func TestFetchUnsupportedScheme(t *testing.T) {
	_, err := newTestService().Fetch(context.Background(), "ipfs://QmHash")
	if !errors.Is(err, ErrUnsupportedScheme) {
		t.Fatalf("err = %v, want ErrUnsupportedScheme", err)
	}
}

func TestParseS3URL(t *testing.T) {
	tests := []struct {
		raw     string
		bucket  string
		key     string
		wantErr bool
	}{
		{raw: "s3://tracks/abc/song.mp3", bucket: "tracks", key: "abc/song.mp3"},
		{raw: "s3://tracks/", wantErr: true},
		{raw: "https://tracks/song.mp3", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			bucket, key, err := parseS3URL(tt.raw)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error, got bucket=%q key=%q", bucket, key)
				}
				return
			}
			if err != nil {
				t.Fatalf("parse: %v", err)
			}
			if bucket != tt.bucket || key != tt.key {
				t.Fatalf("got %q/%q, want %q/%q", bucket, key, tt.bucket, tt.key)
			}
		})
	}
}
