package audio

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
)

// TrackMeta holds the tags written into a downloaded mp3.
type TrackMeta struct {
	Title  string
	Artist string
	Album  string
	Lyrics string
	Cover  []byte
}

// Tagger writes metadata into an audio file in place.
type Tagger interface {
	Tag(ctx context.Context, path string, meta TrackMeta) error
}

// FFmpegTagger implements Tagger by remuxing through ffmpeg without re-encoding.
type FFmpegTagger struct {
	ffmpegPath string
}

// NewFFmpegTagger creates a new FFmpegTagger.
func NewFFmpegTagger(ffmpegPath string) *FFmpegTagger {
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	return &FFmpegTagger{ffmpegPath: ffmpegPath}
}

// Tag rewrites path with meta. The original file is replaced only when ffmpeg succeeds.
func (p *FFmpegTagger) Tag(ctx context.Context, path string, meta TrackMeta) error {
	coverPath := ""
	if len(meta.Cover) > 0 {
		coverPath = path + ".cover.jpg"
		if err := os.WriteFile(coverPath, meta.Cover, 0644); err != nil {
			return fmt.Errorf("write cover: %w", err)
		}
		defer os.Remove(coverPath)
	}

	tmp := path + ".tagged.mp3"
	cmd := exec.CommandContext(ctx, p.ffmpegPath, buildTagArgs(path, coverPath, tmp, meta)...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("ffmpeg tagging failed for %s: %w\nFFmpeg Error: %s", path, err, tail(stderr.String(), 500))
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("replace tagged file: %w", err)
	}
	return nil
}

// buildTagArgs 构建 ffmpeg 参数，只复制流不转码
func buildTagArgs(input, cover, output string, meta TrackMeta) []string {
	args := []string{"-y", "-i", input}
	if cover != "" {
		args = append(args, "-i", cover, "-map", "0:a", "-map", "1:v",
			"-metadata:s:v", "title=Album cover",
			"-metadata:s:v", "comment=Cover (front)")
	} else {
		args = append(args, "-map", "0:a")
	}
	args = append(args, "-c", "copy", "-id3v2_version", "3")

	for _, kv := range [][2]string{
		{"title", meta.Title},
		{"artist", meta.Artist},
		{"album", meta.Album},
		{"lyrics", meta.Lyrics},
	} {
		if kv[1] != "" {
			args = append(args, "-metadata", kv[0]+"="+kv[1])
		}
	}
	return append(args, output)
}

func tail(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}
