package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"VKSaver/core/vk"
	"VKSaver/model"
)

// sizeFetcher creates sparse files of a fixed size; URLs containing "fail" error out.
type sizeFetcher struct {
	size    int64
	mu      sync.Mutex
	calls   int
	onFetch func(n int)
}

func (f *sizeFetcher) Fetch(_ context.Context, url, dest string) (int64, error) {
	f.mu.Lock()
	f.calls++
	n := f.calls
	f.mu.Unlock()
	if f.onFetch != nil {
		f.onFetch(n)
	}
	if filepath.Ext(url) == ".fail" {
		return 0, errors.New("503 from cdn")
	}
	out, err := os.Create(dest)
	if err != nil {
		return 0, err
	}
	defer out.Close()
	if err := out.Truncate(f.size); err != nil {
		return 0, err
	}
	return f.size, nil
}

func (f *sizeFetcher) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func makeTracks(n int) []model.Track {
	tracks := make([]model.Track, n)
	for i := range tracks {
		tracks[i] = model.Track{
			ID:      int64(i + 1),
			OwnerID: 1,
			Artist:  "Artist",
			Title:   fmt.Sprintf("Song %d", i+1),
			URL:     fmt.Sprintf("https://cdn.test/%d.mp3", i+1),
		}
	}
	return tracks
}

// fakeSource serves a fixed track list.
type fakeSource struct {
	tracks   []model.Track
	title    string
	user     *model.VKUser
	listErr  error
	panicMsg string
}

func (s *fakeSource) GetTracks(context.Context, string, vk.TrackQuery) ([]model.Track, error) {
	if s.panicMsg != "" {
		panic(s.panicMsg)
	}
	return s.tracks, s.listErr
}

func (s *fakeSource) GetPlaylistTitle(context.Context, string, vk.PlaylistRef) (string, error) {
	if s.title == "" {
		return "", errors.New("access denied")
	}
	return s.title, nil
}

func (s *fakeSource) GetByIDs(context.Context, string, ...string) ([]model.Track, error) {
	if len(s.tracks) == 0 {
		return nil, s.listErr
	}
	return s.tracks[:1], s.listErr
}

func (s *fakeSource) GetCurrentUser(context.Context, string) (*model.VKUser, error) {
	if s.user == nil {
		return nil, vk.ErrNoProfile
	}
	return s.user, nil
}

func (s *fakeSource) GetLyrics(context.Context, string, int64) (string, error) {
	return "", nil
}

// fakeUploader records uploaded files and what else was on disk at the time.
type fakeUploader struct {
	mu       sync.Mutex
	uploads  []string
	failAll  bool
	onUpload func(path string)
}

func (u *fakeUploader) Upload(_ context.Context, path string) (string, error) {
	if _, err := os.Stat(path); err != nil {
		return "", err
	}
	if u.onUpload != nil {
		u.onUpload(path)
	}
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.failAll {
		return "", errors.New("share service unavailable")
	}
	u.uploads = append(u.uploads, filepath.Base(path))
	return fmt.Sprintf("https://share.test/%d", len(u.uploads)), nil
}
