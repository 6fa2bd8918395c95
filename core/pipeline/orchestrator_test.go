package pipeline

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"VKSaver/cache"
	"VKSaver/model"
	"VKSaver/repository"
)

const testPlaylistURL = "https://vk.com/music/playlist/-147845620_2949_0e5f6bd3de3bbd9a4f"

type harness struct {
	orch     *Orchestrator
	tasks    repository.TaskRepository
	cancels  cache.CancelRegistry
	fetcher  *sizeFetcher
	uploader *fakeUploader
	dir      string
}

func newHarness(t *testing.T, source *fakeSource, size int64, opts Options) *harness {
	t.Helper()
	h := &harness{
		tasks:    repository.NewMemoryTaskRepository(),
		cancels:  cache.NewMemoryCancelRegistry(),
		fetcher:  &sizeFetcher{size: size},
		uploader: &fakeUploader{},
		dir:      t.TempDir(),
	}
	sessions := cache.NewMemorySessionStore()
	sessions.Save(context.Background(), &model.Session{ID: "sess-1", Token: "vk-token"})

	opts.DownloadDir = h.dir
	h.orch = NewOrchestrator(opts, Deps{
		Tasks:      h.tasks,
		Sessions:   sessions,
		Cancels:    h.cancels,
		Source:     source,
		Uploader:   h.uploader,
		NewFetcher: func(string) (Fetcher, error) { return h.fetcher, nil },
	})
	return h
}

func (h *harness) run(t *testing.T, kind model.TaskKind, url, session string) *model.DownloadTask {
	t.Helper()
	ctx := context.Background()
	task := &model.DownloadTask{
		ID:        "1234abcd-aaaa-bbbb-cccc-000000000001",
		SessionID: session,
		Kind:      kind,
		URL:       url,
		Status:    model.TaskStatusPending,
		CreatedAt: time.Now(),
	}
	if err := h.tasks.Create(ctx, task); err != nil {
		t.Fatal(err)
	}
	h.orch.Run(ctx, task.ID)

	got, err := h.tasks.GetByID(ctx, task.ID)
	if err != nil || got == nil {
		t.Fatalf("GetByID: %v", err)
	}
	return got
}

func (h *harness) assertNoArtifacts(t *testing.T) {
	t.Helper()
	entries, err := os.ReadDir(h.dir)
	if err != nil {
		t.Fatal(err)
	}
	for _, e := range entries {
		t.Errorf("artifact left on disk: %s", e.Name())
	}
}

const mb = 1 << 20

func defaultOpts() Options {
	return Options{Concurrency: 8, Threshold: 1 << 30, Ceiling: 2 << 30}
}

func TestRunThreeTracksOneUpload(t *testing.T) {
	h := newHarness(t, &fakeSource{tracks: makeTracks(3), title: "Road Trip"}, 10*mb, defaultOpts())

	task := h.run(t, model.TaskKindPlaylist, testPlaylistURL, "sess-1")

	if task.Status != model.TaskStatusCompleted {
		t.Fatalf("status = %s (%s)", task.Status, task.ErrorMessage)
	}
	if task.DownloadedCount != 3 || task.TrackCount != 3 {
		t.Errorf("downloaded = %d, track_count = %d", task.DownloadedCount, task.TrackCount)
	}
	if len(h.uploader.uploads) != 1 || h.uploader.uploads[0] != "Road Trip_1234abcd.zip" {
		t.Errorf("uploads = %v", h.uploader.uploads)
	}
	if task.DownloadURL != "https://share.test/1" || len(task.DownloadURLs) != 1 {
		t.Errorf("links = %q %v", task.DownloadURL, task.DownloadURLs)
	}
	if task.Progress != 100 || task.TotalSize != "30.0 MB" || task.CurrentStep != "" || task.CompletedAt == nil {
		t.Errorf("task = %+v", task)
	}
	if task.Title != "Road Trip" {
		t.Errorf("title = %q", task.Title)
	}
	h.assertNoArtifacts(t)
}

func TestRunSkipsTracksWithoutURL(t *testing.T) {
	tracks := makeTracks(3)
	tracks[1].URL = ""
	h := newHarness(t, &fakeSource{tracks: tracks}, mb, defaultOpts())

	task := h.run(t, model.TaskKindPlaylist, testPlaylistURL, "sess-1")

	if task.Status != model.TaskStatusCompleted {
		t.Fatalf("status = %s (%s)", task.Status, task.ErrorMessage)
	}
	if task.TrackCount != 2 || task.DownloadedCount != 2 {
		t.Errorf("track_count = %d, downloaded = %d", task.TrackCount, task.DownloadedCount)
	}
	if task.Title != "playlist_-147845620_2949" {
		t.Errorf("fallback title = %q", task.Title)
	}
}

func TestRunFailures(t *testing.T) {
	noURL := makeTracks(2)
	for i := range noURL {
		noURL[i].URL = ""
	}
	allFail := makeTracks(2)
	for i := range allFail {
		allFail[i].URL = "https://cdn.test/x.fail"
	}

	tests := []struct {
		name     string
		kind     model.TaskKind
		url      string
		session  string
		source   *fakeSource
		failUp   bool
		wantMsg  string
		wantUpld int
	}{
		{"zero tracks", model.TaskKindPlaylist, testPlaylistURL, "sess-1", &fakeSource{}, false, MsgNoPlaylistTracks, 0},
		{"session expired", model.TaskKindPlaylist, testPlaylistURL, "gone", &fakeSource{tracks: makeTracks(1)}, false, MsgSessionExpired, 0},
		{"invalid playlist", model.TaskKindPlaylist, "https://vk.com/feed", "sess-1", &fakeSource{tracks: makeTracks(1)}, false, MsgInvalidPlaylist, 0},
		{"invalid track", model.TaskKindTrack, "https://vk.com/feed", "sess-1", &fakeSource{tracks: makeTracks(1)}, false, MsgInvalidTrack, 0},
		{"track not found", model.TaskKindTrack, "https://vk.com/audio1_2", "sess-1", &fakeSource{}, false, MsgTrackNotFound, 0},
		{"empty library", model.TaskKindMyMusic, "", "sess-1", &fakeSource{}, false, MsgEmptyLibrary, 0},
		{"no urls", model.TaskKindPlaylist, testPlaylistURL, "sess-1", &fakeSource{tracks: noURL}, false, MsgNoURLs, 0},
		{"nothing fetched", model.TaskKindPlaylist, testPlaylistURL, "sess-1", &fakeSource{tracks: allFail}, false, MsgNothingFetched, 0},
		{"upload failed", model.TaskKindPlaylist, testPlaylistURL, "sess-1", &fakeSource{tracks: makeTracks(2)}, true, MsgUploadFailed, 0},
		{"library api error", model.TaskKindMyMusic, "", "sess-1", &fakeSource{listErr: errString("Access denied: no access to audio")}, false, "Error: Access denied: no access to audio", 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, tt.source, mb, defaultOpts())
			h.uploader.failAll = tt.failUp

			task := h.run(t, tt.kind, tt.url, tt.session)
			if task.Status != model.TaskStatusError {
				t.Fatalf("status = %s", task.Status)
			}
			if task.ErrorMessage != tt.wantMsg {
				t.Errorf("message = %q, want %q", task.ErrorMessage, tt.wantMsg)
			}
			if len(h.uploader.uploads) != tt.wantUpld {
				t.Errorf("uploads = %v", h.uploader.uploads)
			}
			h.assertNoArtifacts(t)
		})
	}
}

func TestRunPanicIsRecorded(t *testing.T) {
	h := newHarness(t, &fakeSource{panicMsg: strings.Repeat("boom ", 100)}, mb, defaultOpts())

	task := h.run(t, model.TaskKindMyMusic, "", "sess-1")
	if task.Status != model.TaskStatusError {
		t.Fatalf("status = %s", task.Status)
	}
	if n := len([]rune(task.ErrorMessage)); n == 0 || n > maxTaskErrorMsg {
		t.Errorf("message length = %d", n)
	}
}

func TestRunMultipleChunksCleansBetweenChunks(t *testing.T) {
	opts := Options{Concurrency: 2, Threshold: 2 * mb, Ceiling: 2 << 30}
	h := newHarness(t, &fakeSource{tracks: makeTracks(5), title: "Mix"}, mb, opts)

	h.uploader.onUpload = func(path string) {
		// only the archive being uploaded and the current chunk's tracks may exist
		entries, _ := os.ReadDir(h.dir)
		for _, e := range entries {
			if !e.IsDir() && e.Name() != filepath.Base(path) {
				t.Errorf("stale archive during upload of %s: %s", filepath.Base(path), e.Name())
			}
		}
		tracks, _ := os.ReadDir(filepath.Join(h.dir, "1234abcd-aaaa-bbbb-cccc-000000000001"))
		if len(tracks) > 2 {
			t.Errorf("%d track files on disk, want at most one chunk", len(tracks))
		}
	}

	task := h.run(t, model.TaskKindPlaylist, testPlaylistURL, "sess-1")
	if task.Status != model.TaskStatusCompleted {
		t.Fatalf("status = %s (%s)", task.Status, task.ErrorMessage)
	}
	want := []string{"Mix_1234abcd_part1.zip", "Mix_1234abcd_part2.zip", "Mix_1234abcd_part3.zip"}
	if strings.Join(h.uploader.uploads, ",") != strings.Join(want, ",") {
		t.Errorf("uploads = %v", h.uploader.uploads)
	}
	if len(task.DownloadURLs) != 3 || task.DownloadURL != task.DownloadURLs[0] {
		t.Errorf("links = %v", task.DownloadURLs)
	}
	if task.TotalSize != "5.0 MB" {
		t.Errorf("size = %q", task.TotalSize)
	}
	h.assertNoArtifacts(t)
}

func TestRunSplitsOversizedArchive(t *testing.T) {
	opts := Options{Concurrency: 4, Threshold: 1 << 30, Ceiling: 3 * mb}
	h := newHarness(t, &fakeSource{tracks: makeTracks(4), title: "Big"}, mb, opts)

	task := h.run(t, model.TaskKindPlaylist, testPlaylistURL, "sess-1")
	if task.Status != model.TaskStatusCompleted {
		t.Fatalf("status = %s (%s)", task.Status, task.ErrorMessage)
	}
	want := "Big_1234abcd_split1.zip,Big_1234abcd_split2.zip"
	if got := strings.Join(h.uploader.uploads, ","); got != want {
		t.Errorf("uploads = %s, want %s", got, want)
	}
	if len(task.DownloadURLs) != 2 {
		t.Errorf("links = %v", task.DownloadURLs)
	}
	h.assertNoArtifacts(t)
}

func TestRunCancellationCleansUp(t *testing.T) {
	opts := Options{Concurrency: 2, Threshold: 1 << 30, Ceiling: 2 << 30}
	h := newHarness(t, &fakeSource{tracks: makeTracks(10)}, mb, opts)
	taskID := "1234abcd-aaaa-bbbb-cccc-000000000001"
	h.fetcher.onFetch = func(n int) {
		if n == 3 {
			h.cancels.Set(context.Background(), taskID)
		}
	}

	task := h.run(t, model.TaskKindPlaylist, testPlaylistURL, "sess-1")
	if task.Status != model.TaskStatusCancelled {
		t.Fatalf("status = %s (%s)", task.Status, task.ErrorMessage)
	}
	if task.ErrorMessage != MsgCancelled {
		t.Errorf("message = %q", task.ErrorMessage)
	}
	if len(h.uploader.uploads) != 0 {
		t.Errorf("uploads after cancel: %v", h.uploader.uploads)
	}
	if set, _ := h.cancels.IsSet(context.Background(), taskID); set {
		t.Error("cancel flag not cleared")
	}
	if calls := h.fetcher.Calls(); calls > 4 {
		t.Errorf("fetches = %d, new fetches started after cancel", calls)
	}
	h.assertNoArtifacts(t)
}

func TestRunSingleTrackAndMyMusicTitles(t *testing.T) {
	h := newHarness(t, &fakeSource{tracks: makeTracks(2)}, mb, defaultOpts())
	task := h.run(t, model.TaskKindTrack, "https://vk.com/audio1_1", "sess-1")
	if task.Status != model.TaskStatusCompleted || task.Title != "Artist - Song 1" || task.TrackCount != 1 {
		t.Errorf("track task = %s %q %d", task.Status, task.Title, task.TrackCount)
	}

	h = newHarness(t, &fakeSource{tracks: makeTracks(2), user: &model.VKUser{FirstName: "Ivan", LastName: "P"}}, mb, defaultOpts())
	task = h.run(t, model.TaskKindMyMusic, "", "sess-1")
	if task.Status != model.TaskStatusCompleted || task.Title != "My_Music_Ivan_P" {
		t.Errorf("my music task = %s %q", task.Status, task.Title)
	}
}

type errString string

func (e errString) Error() string { return string(e) }

// ctxTaskRepository rejects calls on a done context, like gorm's WithContext does.
type ctxTaskRepository struct {
	repository.TaskRepository
}

func (r ctxTaskRepository) GetByID(ctx context.Context, id string) (*model.DownloadTask, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return r.TaskRepository.GetByID(ctx, id)
}

func (r ctxTaskRepository) Update(ctx context.Context, id string, fields map[string]interface{}) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return r.TaskRepository.Update(ctx, id, fields)
}

// ctxFetcher fails once ctx is done.
type ctxFetcher struct {
	Fetcher
}

func (f ctxFetcher) Fetch(ctx context.Context, url, dest string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	return f.Fetcher.Fetch(ctx, url, dest)
}

func TestRunRecordsTerminalStateOnShutdown(t *testing.T) {
	opts := defaultOpts()
	opts.Concurrency = 1
	h := newHarness(t, &fakeSource{tracks: makeTracks(3), title: "Mix"}, mb, opts)
	h.tasks = ctxTaskRepository{h.tasks}
	h.orch.Tasks = h.tasks
	h.orch.NewFetcher = func(string) (Fetcher, error) { return ctxFetcher{h.fetcher}, nil }

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h.fetcher.onFetch = func(n int) {
		if n == 1 {
			cancel()
		}
	}

	task := &model.DownloadTask{
		ID:        "1234abcd-aaaa-bbbb-cccc-000000000009",
		SessionID: "sess-1",
		Kind:      model.TaskKindPlaylist,
		URL:       testPlaylistURL,
		Status:    model.TaskStatusPending,
		CreatedAt: time.Now(),
	}
	if err := h.tasks.Create(context.Background(), task); err != nil {
		t.Fatal(err)
	}
	h.orch.Run(ctx, task.ID)

	got, err := h.tasks.GetByID(context.Background(), task.ID)
	if err != nil || got == nil {
		t.Fatalf("GetByID: %v", err)
	}
	if got.Status != model.TaskStatusError {
		t.Fatalf("status = %s (step %q), want error", got.Status, got.CurrentStep)
	}
	if got.ErrorMessage != MsgInterrupted {
		t.Errorf("message = %q, want %q", got.ErrorMessage, MsgInterrupted)
	}
	if len(h.uploader.uploads) != 0 {
		t.Errorf("uploads = %v, want none", h.uploader.uploads)
	}
	h.assertNoArtifacts(t)
}
