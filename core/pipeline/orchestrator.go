package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"VKSaver/cache"
	"VKSaver/core/audio"
	"VKSaver/core/fetch"
	"VKSaver/core/upload"
	"VKSaver/core/vk"
	"VKSaver/logger"
	"VKSaver/model"
	"VKSaver/repository"
)

// User-facing task messages.
const (
	MsgSessionExpired   = "VK session expired"
	MsgInvalidPlaylist  = "Invalid playlist URL"
	MsgInvalidTrack     = "Invalid track URL"
	MsgNoPlaylistTracks = "No tracks found. Check URL and access."
	MsgEmptyLibrary     = "Your music library is empty or inaccessible"
	MsgTrackNotFound    = "Track not found or not accessible"
	MsgNoURLs           = "Tracks are not available for download. The server is most likely outside Russia and the content is region-restricted. Enable a Russian proxy in settings."
	MsgNothingFetched   = "Could not download a single track. The server is most likely outside Russia and the tracks are region-restricted. Enable a Russian proxy in settings."
	MsgUploadFailed     = "Failed to upload archive to the share service."
	MsgCancelled        = "Cancelled by user"
	MsgInterrupted      = "Interrupted by server shutdown"

	maxAPIErrorMsg  = 200
	maxTaskErrorMsg = 300
)

// TrackSource is the account API as seen by the pipeline.
type TrackSource interface {
	GetTracks(ctx context.Context, token string, q vk.TrackQuery) ([]model.Track, error)
	GetPlaylistTitle(ctx context.Context, token string, ref vk.PlaylistRef) (string, error)
	GetByIDs(ctx context.Context, token string, ids ...string) ([]model.Track, error)
	GetCurrentUser(ctx context.Context, token string) (*model.VKUser, error)
	GetLyrics(ctx context.Context, token string, lyricsID int64) (string, error)
}

// ProxyResolver yields the active proxy endpoint, or "" for direct.
type ProxyResolver interface {
	ActiveProxyURL(ctx context.Context) string
}

// FetcherFactory builds a Fetcher bound to one proxy endpoint.
type FetcherFactory func(proxyURL string) (Fetcher, error)

// Options tunes the pipeline.
type Options struct {
	DownloadDir  string
	Concurrency  int
	Threshold    int64
	Ceiling      int64
	FetchTimeout time.Duration
	CoverTimeout time.Duration
}

// Deps are the collaborators of an Orchestrator. Proxies, Tagger and NewFetcher are optional.
type Deps struct {
	Tasks      repository.TaskRepository
	Sessions   cache.SessionStore
	Cancels    cache.CancelRegistry
	Source     TrackSource
	Uploader   upload.Uploader
	Proxies    ProxyResolver
	Tagger     audio.Tagger
	NewFetcher FetcherFactory
}

// Orchestrator drives one download task from track list to share links.
type Orchestrator struct {
	opts Options
	Deps
}

// NewOrchestrator creates an orchestrator.
func NewOrchestrator(opts Options, deps Deps) *Orchestrator {
	if opts.Concurrency <= 0 {
		opts.Concurrency = 8
	}
	if opts.Threshold <= 0 {
		opts.Threshold = 1 << 30
	}
	if opts.Ceiling <= 0 {
		opts.Ceiling = upload.MaxArchiveSize
	}
	if deps.NewFetcher == nil {
		timeout := opts.FetchTimeout
		deps.NewFetcher = func(proxyURL string) (Fetcher, error) {
			return fetch.NewFetcher(proxyURL, timeout)
		}
	}
	return &Orchestrator{opts: opts, Deps: deps}
}

// taskError carries a message meant for the user as-is.
type taskError struct {
	msg string
}

func (e *taskError) Error() string { return e.msg }

func fail(msg string) error { return &taskError{msg: msg} }

// Run executes the task to a terminal state. It never panics.
func (o *Orchestrator) Run(ctx context.Context, taskID string) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("[Orchestrator.Run] panic", logger.TaskID(taskID), logger.Any("panic", r))
			o.finishError(ctx, taskID, truncate(fmt.Sprint(r), maxTaskErrorMsg))
		}
	}()

	err := o.run(ctx, taskID)
	if err == nil {
		return
	}
	if ctx.Err() != nil {
		logger.Warn("[Orchestrator.Run] interrupted", logger.TaskID(taskID), logger.ErrorField(err))
		o.finishError(ctx, taskID, MsgInterrupted)
		return
	}
	var te *taskError
	if errors.As(err, &te) {
		o.finishError(ctx, taskID, te.msg)
		return
	}
	logger.Error("[Orchestrator.Run] task failed", logger.TaskID(taskID), logger.ErrorField(err))
	o.finishError(ctx, taskID, truncate(err.Error(), maxTaskErrorMsg))
}

func (o *Orchestrator) run(ctx context.Context, taskID string) error {
	task, err := o.Tasks.GetByID(ctx, taskID)
	if err != nil {
		return err
	}
	if task == nil {
		return fmt.Errorf("task %s not found", taskID)
	}

	sess, err := o.Sessions.Get(ctx, task.SessionID)
	if err != nil {
		return err
	}
	if sess == nil {
		return fail(MsgSessionExpired)
	}

	tracks, title, err := o.resolve(ctx, task, sess.Token)
	if err != nil {
		return err
	}
	return o.deliver(ctx, task, sess.Token, tracks, title)
}

func (o *Orchestrator) resolve(ctx context.Context, task *model.DownloadTask, token string) ([]model.Track, string, error) {
	switch task.Kind {
	case model.TaskKindPlaylist:
		ref, ok := vk.ParsePlaylistURL(task.URL)
		if !ok {
			return nil, "", fail(MsgInvalidPlaylist)
		}
		o.stage(ctx, task.ID, model.TaskStatusDownloading, 0, "Getting track list...")

		title, err := o.Source.GetPlaylistTitle(ctx, token, ref)
		if err != nil || title == "" {
			title = fmt.Sprintf("playlist_%d_%d", ref.OwnerID, ref.PlaylistID)
		}
		tracks, err := o.Source.GetTracks(ctx, token, vk.TrackQuery{
			OwnerID:   strconv.FormatInt(ref.OwnerID, 10),
			AlbumID:   strconv.FormatInt(ref.PlaylistID, 10),
			AccessKey: ref.AccessKey,
		})
		if err != nil {
			logger.Warn("[Orchestrator.resolve] playlist listing failed", logger.TaskID(task.ID), logger.ErrorField(err))
		}
		if len(tracks) == 0 {
			return nil, "", fail(MsgNoPlaylistTracks)
		}
		return tracks, title, nil

	case model.TaskKindMyMusic:
		o.stage(ctx, task.ID, model.TaskStatusDownloading, 0, "Getting your music library...")
		tracks, err := o.Source.GetTracks(ctx, token, vk.TrackQuery{})
		if err != nil {
			return nil, "", fail("Error: " + truncate(err.Error(), maxAPIErrorMsg))
		}
		if len(tracks) == 0 {
			return nil, "", fail(MsgEmptyLibrary)
		}
		first, last := "VK", "User"
		if u, err := o.Source.GetCurrentUser(ctx, token); err == nil && u != nil {
			first, last = u.FirstName, u.LastName
		}
		return tracks, fmt.Sprintf("My_Music_%s_%s", first, last), nil

	case model.TaskKindTrack:
		ref, ok := vk.ParseTrackURL(task.URL)
		if !ok {
			return nil, "", fail(MsgInvalidTrack)
		}
		o.stage(ctx, task.ID, model.TaskStatusDownloading, 0, "Getting track info...")
		tracks, err := o.Source.GetByIDs(ctx, token, ref.FullID())
		if err != nil {
			return nil, "", fail("Error: " + truncate(err.Error(), maxAPIErrorMsg))
		}
		if len(tracks) == 0 {
			return nil, "", fail(MsgTrackNotFound)
		}
		t := tracks[0]
		return tracks[:1], orUnknown(t.Artist) + " - " + orUnknown(t.Title), nil
	}
	return nil, "", fmt.Errorf("unknown task kind %q", task.Kind)
}

func (o *Orchestrator) deliver(ctx context.Context, task *model.DownloadTask, token string, tracks []model.Track, title string) error {
	taskDir := filepath.Join(o.opts.DownloadDir, task.ID)
	defer os.RemoveAll(taskDir)

	if o.isCancelled(ctx, task.ID) {
		o.finishCancelled(ctx, task.ID)
		return nil
	}

	var valid []model.Track
	for _, t := range tracks {
		if t.URL != "" {
			valid = append(valid, t)
		}
	}
	o.update(ctx, task.ID, map[string]interface{}{
		model.ColTitle:           title,
		model.ColTrackCount:      len(valid),
		model.ColDownloadedCount: 0,
	})
	if len(valid) == 0 {
		return fail(MsgNoURLs)
	}

	if err := os.MkdirAll(taskDir, 0755); err != nil {
		return fmt.Errorf("create task dir: %w", err)
	}

	proxyURL := ""
	if o.Proxies != nil {
		proxyURL = o.Proxies.ActiveProxyURL(ctx)
	}
	fetcher, err := o.NewFetcher(proxyURL)
	if err != nil {
		return err
	}

	acc := &Accumulator{
		Fetcher:     fetcher,
		Post:        o.postProcessor(task, token, fetcher),
		Dir:         taskDir,
		Concurrency: o.opts.Concurrency,
		Threshold:   o.opts.Threshold,
		Cancelled:   func() bool { return o.isCancelled(ctx, task.ID) },
		OnBatch: func(r BatchReport) {
			o.advance(ctx, task.ID, map[string]interface{}{
				model.ColStatus:          model.TaskStatusDownloading,
				model.ColProgress:        float64(r.Attempted) / float64(r.Total) * 80,
				model.ColCurrentStep:     r.Label,
				model.ColDownloadedCount: r.Downloaded,
			})
		},
	}

	var (
		cur       Cursor
		part      int
		links     []string
		totalSize int64
	)
	for {
		chunk, err := acc.NextChunk(ctx, valid, &cur)
		if errors.Is(err, ErrCancelled) {
			o.finishCancelled(ctx, task.ID)
			return nil
		}
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if chunk == nil {
			break
		}
		if len(chunk.Files) == 0 {
			continue
		}

		part++
		totalSize += chunk.Size
		chunkLinks, err := o.shipChunk(ctx, task.ID, title, part, chunk)
		if err != nil {
			return err
		}
		links = append(links, chunkLinks...)
		logger.Info("[Orchestrator] chunk shipped", logger.TaskID(task.ID), logger.Int("part", part),
			logger.Int("downloaded", cur.Downloaded), logger.Int("total", len(valid)))
	}

	if o.isCancelled(ctx, task.ID) {
		o.finishCancelled(ctx, task.ID)
		return nil
	}

	o.update(ctx, task.ID, map[string]interface{}{model.ColDownloadedCount: cur.Downloaded})
	if cur.Downloaded == 0 {
		return fail(MsgNothingFetched)
	}
	if len(links) == 0 {
		return fail(MsgUploadFailed)
	}

	o.update(ctx, task.ID, map[string]interface{}{
		model.ColStatus:          model.TaskStatusCompleted,
		model.ColProgress:        100.0,
		model.ColDownloadURL:     links[0],
		model.ColDownloadURLs:    model.StringList(links),
		model.ColTotalSize:       FormatSize(totalSize),
		model.ColCurrentStep:     "",
		model.ColDownloadedCount: cur.Downloaded,
		model.ColCompletedAt:     time.Now(),
	})
	o.clearFlag(ctx, task.ID)
	logger.Info("[Orchestrator] task completed", logger.TaskID(task.ID), logger.Int("links", len(links)), logger.Int64("bytes", totalSize))
	return nil
}

// shipChunk archives, splits and uploads one chunk, then removes everything it produced.
func (o *Orchestrator) shipChunk(ctx context.Context, taskID, title string, part int, chunk *Chunk) ([]string, error) {
	zipPath := filepath.Join(o.opts.DownloadDir, ArchiveName(title, taskID, part, chunk.Full || part > 1))
	var parts []string
	defer func() {
		os.Remove(zipPath)
		removeAll(parts)
		removeAll(chunk.Files)
	}()

	o.stage(ctx, taskID, model.TaskStatusZipping, stageProgress(80+2*part), fmt.Sprintf("Creating archive (part %d)...", part))
	if err := Archive(chunk.Files, zipPath); err != nil {
		return nil, err
	}

	parts, err := SplitIfNeeded(zipPath, o.opts.Ceiling)
	if err != nil {
		return nil, err
	}

	var links []string
	for i, p := range parts {
		step := fmt.Sprintf("Uploading part %d...", part)
		if len(parts) > 1 {
			step = fmt.Sprintf("Uploading part %d.%d...", part, i+1)
		}
		o.stage(ctx, taskID, model.TaskStatusUploading, stageProgress(82+3*part), step)

		link, err := o.Uploader.Upload(ctx, p)
		if err != nil {
			logger.Error("[Orchestrator.shipChunk] upload failed", logger.TaskID(taskID), logger.String("file", filepath.Base(p)), logger.ErrorField(err))
			continue
		}
		links = append(links, link)
	}
	return links, nil
}

func (o *Orchestrator) postProcessor(task *model.DownloadTask, token string, f Fetcher) PostProcessor {
	if !task.EmbedTags || o.Tagger == nil {
		return nil
	}
	covers, _ := f.(CoverFetcher)
	return &trackTagger{
		tagger:       o.Tagger,
		covers:       covers,
		lyrics:       o.Source,
		token:        token,
		withLyrics:   task.EmbedLyrics,
		coverTimeout: o.opts.CoverTimeout,
	}
}

func (o *Orchestrator) stage(ctx context.Context, taskID string, status model.TaskStatus, progress float64, step string) {
	o.advance(ctx, taskID, map[string]interface{}{
		model.ColStatus:      status,
		model.ColProgress:    progress,
		model.ColCurrentStep: step,
	})
}

// advance persists progress of an active task unless a cancellation is pending.
func (o *Orchestrator) advance(ctx context.Context, taskID string, fields map[string]interface{}) {
	if o.isCancelled(ctx, taskID) {
		return
	}
	o.update(ctx, taskID, fields)
}

// update persists fields even after ctx is cancelled, so terminal states always land.
func (o *Orchestrator) update(ctx context.Context, taskID string, fields map[string]interface{}) {
	if err := o.Tasks.Update(context.WithoutCancel(ctx), taskID, fields); err != nil {
		logger.Error("[Orchestrator.update] persist failed", logger.TaskID(taskID), logger.ErrorField(err))
	}
}

func (o *Orchestrator) finishError(ctx context.Context, taskID, msg string) {
	os.RemoveAll(filepath.Join(o.opts.DownloadDir, taskID))
	o.update(ctx, taskID, map[string]interface{}{
		model.ColStatus:       model.TaskStatusError,
		model.ColErrorMessage: msg,
	})
	o.clearFlag(ctx, taskID)
}

func (o *Orchestrator) finishCancelled(ctx context.Context, taskID string) {
	os.RemoveAll(filepath.Join(o.opts.DownloadDir, taskID))
	o.clearFlag(ctx, taskID)
	o.update(ctx, taskID, map[string]interface{}{
		model.ColStatus:       model.TaskStatusCancelled,
		model.ColErrorMessage: MsgCancelled,
		model.ColCurrentStep:  "",
	})
	logger.Info("[Orchestrator] task cancelled", logger.TaskID(taskID))
}

func (o *Orchestrator) isCancelled(ctx context.Context, taskID string) bool {
	set, err := o.Cancels.IsSet(ctx, taskID)
	if err != nil {
		logger.Warn("[Orchestrator] cancel flag lookup failed", logger.TaskID(taskID), logger.ErrorField(err))
		return false
	}
	return set
}

func (o *Orchestrator) clearFlag(ctx context.Context, taskID string) {
	if err := o.Cancels.Clear(context.WithoutCancel(ctx), taskID); err != nil {
		logger.Warn("[Orchestrator] cancel flag clear failed", logger.TaskID(taskID), logger.ErrorField(err))
	}
}

// stageProgress keeps late-part progress below the completed mark.
func stageProgress(p int) float64 {
	if p > 99 {
		return 99
	}
	return float64(p)
}
