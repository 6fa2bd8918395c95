package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"VKSaver/core/netx"
)

// UserAgent is the client identity the audio CDN expects.
const UserAgent = "KateMobileAndroid/56 lite-460 (Android 4.4.2; SDK 19; x86; unknown Android SDK built for x86; en)"

const (
	DefaultTimeout      = 60 * time.Second
	DefaultCoverTimeout = 15 * time.Second

	pieceSize = 16 * 1024
)

// ErrBadStatus is returned for any non-2xx response.
var ErrBadStatus = errors.New("unexpected response status")

// Fetcher streams remote files to disk through a fixed proxy endpoint.
type Fetcher struct {
	client  *http.Client
	timeout time.Duration
}

// NewFetcher creates a fetcher. proxyURL may be empty for direct access.
func NewFetcher(proxyURL string, timeout time.Duration) (*Fetcher, error) {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	client, err := netx.NewHTTPClient(proxyURL, 0)
	if err != nil {
		return nil, err
	}
	return &Fetcher{client: client, timeout: timeout}, nil
}

// Fetch downloads url into dest and returns the number of bytes written.
// A partially written dest is left in place on failure.
func (f *Fetcher) Fetch(ctx context.Context, url, dest string) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	resp, err := f.get(ctx, url)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	out, err := os.Create(dest)
	if err != nil {
		return 0, fmt.Errorf("create %s: %w", dest, err)
	}

	written, err := copyPieces(ctx, out, resp.Body)
	if cerr := out.Close(); err == nil && cerr != nil {
		err = cerr
	}
	if err != nil {
		return written, fmt.Errorf("fetch %s: %w", dest, err)
	}
	return written, nil
}

// FetchBytes reads a small resource such as cover art into memory.
func (f *Fetcher) FetchBytes(ctx context.Context, url string, timeout time.Duration) ([]byte, error) {
	if timeout <= 0 {
		timeout = DefaultCoverTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	resp, err := f.get(ctx, url)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	return io.ReadAll(resp.Body)
}

func (f *Fetcher) get(ctx context.Context, url string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", UserAgent)

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		resp.Body.Close()
		return nil, fmt.Errorf("%w: %d", ErrBadStatus, resp.StatusCode)
	}
	return resp, nil
}

func copyPieces(ctx context.Context, dst io.Writer, src io.Reader) (int64, error) {
	buf := make([]byte, pieceSize)
	var written int64
	for {
		if err := ctx.Err(); err != nil {
			return written, err
		}
		n, rerr := src.Read(buf)
		if n > 0 {
			w, werr := dst.Write(buf[:n])
			written += int64(w)
			if werr != nil {
				return written, werr
			}
		}
		if rerr == io.EOF {
			return written, nil
		}
		if rerr != nil {
			return written, rerr
		}
	}
}
