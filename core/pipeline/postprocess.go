package pipeline

import (
	"context"
	"time"

	"VKSaver/core/audio"
	"VKSaver/logger"
	"VKSaver/model"
)

// CoverFetcher loads cover art into memory.
type CoverFetcher interface {
	FetchBytes(ctx context.Context, url string, timeout time.Duration) ([]byte, error)
}

// LyricsSource resolves lyrics text by id.
type LyricsSource interface {
	GetLyrics(ctx context.Context, token string, lyricsID int64) (string, error)
}

// trackTagger embeds title, artist, album, cover and lyrics after a download.
type trackTagger struct {
	tagger       audio.Tagger
	covers       CoverFetcher
	lyrics       LyricsSource
	token        string
	withLyrics   bool
	coverTimeout time.Duration
}

func (p *trackTagger) Process(ctx context.Context, t model.Track, path string) {
	meta := audio.TrackMeta{
		Title:  orUnknown(t.Title),
		Artist: orUnknown(t.Artist),
	}
	if t.Album != nil {
		meta.Album = t.Album.Title
	}

	if url := t.CoverURL(); url != "" && p.covers != nil {
		data, err := p.covers.FetchBytes(ctx, url, p.coverTimeout)
		if err != nil {
			logger.Debug("[trackTagger] cover fetch failed", logger.String("track", t.Label()), logger.ErrorField(err))
		} else {
			meta.Cover = data
		}
	}

	if p.withLyrics && t.LyricsID != 0 && p.lyrics != nil {
		text, err := p.lyrics.GetLyrics(ctx, p.token, t.LyricsID)
		if err != nil {
			logger.Debug("[trackTagger] lyrics fetch failed", logger.String("track", t.Label()), logger.ErrorField(err))
		} else {
			meta.Lyrics = text
		}
	}

	if err := p.tagger.Tag(ctx, path, meta); err != nil {
		logger.Warn("[trackTagger] tagging failed", logger.String("track", t.Label()), logger.ErrorField(err))
	}
}
