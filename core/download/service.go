package download

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"VKSaver/cache"
	"VKSaver/core/vk"
	"VKSaver/logger"
	"VKSaver/model"
	"VKSaver/repository"

	"github.com/google/uuid"
)

var (
	ErrInvalidPlaylistURL = errors.New("invalid VK playlist URL")
	ErrInvalidTrackURL    = errors.New("invalid VK track URL")
	ErrTaskNotFound       = errors.New("task not found")
)

// Results of Cancel.
const (
	CancelAccepted        = "cancelling"
	CancelAlreadyFinished = "already_finished"
)

const myMusicTarget = "my_music"

// Runner drives a task to a terminal state.
type Runner interface {
	Run(ctx context.Context, taskID string)
}

// Options are the per-request download options.
type Options struct {
	AddTags   bool   `json:"add_tags"`
	AddLyrics bool   `json:"add_lyrics"`
	Quality   string `json:"quality"`
}

// Service creates download tasks and hands them to the runner in the background.
type Service struct {
	tasks   repository.TaskRepository
	cancels cache.CancelRegistry
	runner  Runner

	// base is the context background runs derive from. It outlives any request.
	base context.Context
	wg   sync.WaitGroup
}

// NewService creates the download service. Background runs use base.
func NewService(base context.Context, tasks repository.TaskRepository, cancels cache.CancelRegistry, runner Runner) *Service {
	return &Service{tasks: tasks, cancels: cancels, runner: runner, base: base}
}

// StartPlaylist queues a playlist download.
func (s *Service) StartPlaylist(ctx context.Context, sessionID, url string, opts Options) (string, error) {
	if _, ok := vk.ParsePlaylistURL(url); !ok {
		return "", ErrInvalidPlaylistURL
	}
	return s.start(ctx, sessionID, model.TaskKindPlaylist, url, opts)
}

// StartMulti queues one playlist download per valid URL. Blank and invalid URLs are skipped.
func (s *Service) StartMulti(ctx context.Context, sessionID string, urls []string, opts Options) ([]string, error) {
	ids := make([]string, 0, len(urls))
	for _, raw := range urls {
		url := strings.TrimSpace(raw)
		if url == "" {
			continue
		}
		if _, ok := vk.ParsePlaylistURL(url); !ok {
			logger.Debug("[Download.StartMulti] skipping invalid url", logger.String("url", url))
			continue
		}
		id, err := s.start(ctx, sessionID, model.TaskKindPlaylist, url, opts)
		if err != nil {
			return ids, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// StartTrack queues a single-track download.
func (s *Service) StartTrack(ctx context.Context, sessionID, url string, opts Options) (string, error) {
	if _, ok := vk.ParseTrackURL(url); !ok {
		return "", ErrInvalidTrackURL
	}
	return s.start(ctx, sessionID, model.TaskKindTrack, url, opts)
}

// StartMyMusic queues a download of the session owner's library.
func (s *Service) StartMyMusic(ctx context.Context, sessionID string, opts Options) (string, error) {
	return s.start(ctx, sessionID, model.TaskKindMyMusic, myMusicTarget, opts)
}

func (s *Service) start(ctx context.Context, sessionID string, kind model.TaskKind, target string, opts Options) (string, error) {
	quality := opts.Quality
	if quality == "" {
		quality = "high"
	}
	task := &model.DownloadTask{
		ID:          uuid.NewString(),
		SessionID:   sessionID,
		Kind:        kind,
		URL:         target,
		EmbedTags:   opts.AddTags,
		EmbedLyrics: opts.AddLyrics,
		Quality:     quality,
		Status:      model.TaskStatusPending,
		CreatedAt:   time.Now(),
	}
	if err := s.tasks.Create(ctx, task); err != nil {
		return "", err
	}

	logger.Info("[Download.start] task queued",
		logger.TaskID(task.ID),
		logger.String("kind", string(kind)),
		logger.String("session_id", sessionID))

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.runner.Run(s.base, task.ID)
	}()
	return task.ID, nil
}

// Wait blocks until every background run started so far has returned.
func (s *Service) Wait() {
	s.wg.Wait()
}

// Drain waits like Wait but gives up when ctx is done.
func (s *Service) Drain(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Cancel requests cancellation of a task owned by sessionID.
func (s *Service) Cancel(ctx context.Context, sessionID, taskID string) (string, error) {
	task, err := s.Status(ctx, sessionID, taskID)
	if err != nil {
		return "", err
	}
	if task.Status.IsTerminal() {
		return CancelAlreadyFinished, nil
	}
	if err := s.cancels.Set(ctx, taskID); err != nil {
		return "", err
	}
	// the run may have finished since the read above
	applied, err := s.tasks.UpdateActive(ctx, taskID, map[string]interface{}{
		model.ColStatus:      model.TaskStatusCancelling,
		model.ColCurrentStep: "Cancelling...",
	})
	if err != nil {
		return "", err
	}
	if !applied {
		if err := s.cancels.Clear(ctx, taskID); err != nil {
			logger.Warn("[Download.Cancel] cancel flag clear failed", logger.TaskID(taskID), logger.ErrorField(err))
		}
		return CancelAlreadyFinished, nil
	}
	logger.Info("[Download.Cancel] cancellation requested", logger.TaskID(taskID))
	return CancelAccepted, nil
}

// Status returns the task if it belongs to sessionID.
func (s *Service) Status(ctx context.Context, sessionID, taskID string) (*model.DownloadTask, error) {
	task, err := s.tasks.GetByID(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if task == nil || task.SessionID != sessionID {
		return nil, ErrTaskNotFound
	}
	return task, nil
}

// History lists the session's tasks, newest first.
func (s *Service) History(ctx context.Context, sessionID string) ([]*model.DownloadTask, error) {
	return s.tasks.ListBySession(ctx, sessionID, repository.HistoryLimit)
}

// Active lists the session's unfinished tasks, newest first.
func (s *Service) Active(ctx context.Context, sessionID string) ([]*model.DownloadTask, error) {
	return s.tasks.ListActive(ctx, sessionID, repository.ActiveLimit)
}

// Delete removes a task record owned by sessionID. Unknown ids are not an error.
func (s *Service) Delete(ctx context.Context, sessionID, taskID string) error {
	task, err := s.tasks.GetByID(ctx, taskID)
	if err != nil {
		return err
	}
	if task == nil {
		return nil
	}
	if task.SessionID != sessionID {
		return ErrTaskNotFound
	}
	return s.tasks.Delete(ctx, taskID)
}
