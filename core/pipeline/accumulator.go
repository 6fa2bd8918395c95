package pipeline

import (
	"context"
	"errors"
	"path/filepath"
	"sync"

	"VKSaver/logger"
	"VKSaver/model"
)

// ErrCancelled is returned once a cancellation request has been observed.
var ErrCancelled = errors.New("pipeline: cancelled")

// Fetcher downloads one remote file to dest.
type Fetcher interface {
	Fetch(ctx context.Context, url, dest string) (int64, error)
}

// PostProcessor enriches a freshly downloaded track. Failures are its own concern.
type PostProcessor interface {
	Process(ctx context.Context, track model.Track, path string)
}

// BatchReport is emitted after every batch of fetches.
type BatchReport struct {
	Attempted  int
	Downloaded int
	Total      int
	Label      string
}

// Cursor is the accumulator position carried between chunks.
type Cursor struct {
	Next       int
	Downloaded int
}

// Done reports whether every track has been attempted.
func (c *Cursor) Done(total int) bool {
	return c.Next >= total
}

// Chunk is a set of downloaded files to be archived together.
type Chunk struct {
	Files []string
	Size  int64
	// Full is set when the chunk stopped because it reached the threshold.
	Full bool
}

// Accumulator fetches tracks in bounded batches until a size threshold is reached.
type Accumulator struct {
	Fetcher     Fetcher
	Post        PostProcessor
	Dir         string
	Concurrency int
	Threshold   int64
	Cancelled   func() bool
	OnBatch     func(BatchReport)
}

type fetched struct {
	path string
	size int64
}

// NextChunk continues from cur and returns the next chunk, or nil when every
// track has been attempted. A returned chunk may be empty if all its fetches failed.
func (a *Accumulator) NextChunk(ctx context.Context, tracks []model.Track, cur *Cursor) (*Chunk, error) {
	if cur.Done(len(tracks)) {
		return nil, nil
	}

	width := a.Concurrency
	if width <= 0 {
		width = 1
	}
	sem := make(chan struct{}, width)
	chunk := &Chunk{}

	for !cur.Done(len(tracks)) && chunk.Size < a.Threshold {
		if a.cancelled() {
			return nil, ErrCancelled
		}

		end := cur.Next + width
		if end > len(tracks) {
			end = len(tracks)
		}
		results := make([]*fetched, end-cur.Next)

		var wg sync.WaitGroup
		for i := cur.Next; i < end; i++ {
			wg.Add(1)
			go func(slot, index int) {
				defer wg.Done()
				results[slot] = a.fetchOne(ctx, sem, index, tracks[index])
			}(i-cur.Next, i)
		}
		wg.Wait()

		for _, r := range results {
			if r == nil {
				continue
			}
			chunk.Files = append(chunk.Files, r.path)
			chunk.Size += r.size
			cur.Downloaded++
		}
		cur.Next = end

		if a.OnBatch != nil {
			a.OnBatch(BatchReport{
				Attempted:  cur.Next,
				Downloaded: cur.Downloaded,
				Total:      len(tracks),
				Label:      tracks[end-1].Label(),
			})
		}
	}

	if a.cancelled() {
		return nil, ErrCancelled
	}
	chunk.Full = chunk.Size >= a.Threshold
	return chunk, nil
}

func (a *Accumulator) fetchOne(ctx context.Context, sem chan struct{}, index int, track model.Track) *fetched {
	if a.cancelled() {
		return nil
	}
	sem <- struct{}{}
	if a.cancelled() {
		<-sem
		return nil
	}

	dest := filepath.Join(a.Dir, SafeTrackName(index, track))
	size, err := a.Fetcher.Fetch(ctx, track.URL, dest)
	<-sem
	if err != nil {
		logger.Warn("[Accumulator.fetchOne] fetch failed", logger.String("track", track.Label()), logger.ErrorField(err))
		return nil
	}

	if a.Post != nil {
		a.Post.Process(ctx, track, dest)
	}
	return &fetched{path: dest, size: size}
}

func (a *Accumulator) cancelled() bool {
	return a.Cancelled != nil && a.Cancelled()
}
