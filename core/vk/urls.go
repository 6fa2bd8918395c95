package vk

import (
	"regexp"
	"strconv"
)

// PlaylistRef identifies a playlist parsed from a share link.
type PlaylistRef struct {
	OwnerID    int64
	PlaylistID int64
	AccessKey  string
}

// TrackRef identifies a single audio.
type TrackRef struct {
	OwnerID int64
	AudioID int64
}

// FullID returns the "<owner>_<id>" form.
func (r TrackRef) FullID() string {
	return strconv.FormatInt(r.OwnerID, 10) + "_" + strconv.FormatInt(r.AudioID, 10)
}

var playlistPatterns = []*regexp.Regexp{
	regexp.MustCompile(`audio_playlist(-?\d+)_(\d+)/([a-f0-9]+)`),
	regexp.MustCompile(`audio_playlist(-?\d+)_(\d+)`),
	regexp.MustCompile(`playlist/(-?\d+)_(\d+)_([a-f0-9]+)`),
	regexp.MustCompile(`playlist/(-?\d+)_(\d+)`),
}

var trackPatterns = []*regexp.Regexp{
	regexp.MustCompile(`audio(-?\d+)_(\d+)`),
	regexp.MustCompile(`audio_id=(-?\d+)_(\d+)`),
}

// ParsePlaylistURL extracts owner, playlist id and optional access key.
func ParsePlaylistURL(raw string) (PlaylistRef, bool) {
	for _, re := range playlistPatterns {
		m := re.FindStringSubmatch(raw)
		if m == nil {
			continue
		}
		owner, err1 := strconv.ParseInt(m[1], 10, 64)
		id, err2 := strconv.ParseInt(m[2], 10, 64)
		if err1 != nil || err2 != nil {
			continue
		}
		ref := PlaylistRef{OwnerID: owner, PlaylistID: id}
		if len(m) > 3 {
			ref.AccessKey = m[3]
		}
		return ref, true
	}
	return PlaylistRef{}, false
}

// ParseTrackURL extracts owner and audio id.
func ParseTrackURL(raw string) (TrackRef, bool) {
	for _, re := range trackPatterns {
		m := re.FindStringSubmatch(raw)
		if m == nil {
			continue
		}
		owner, err1 := strconv.ParseInt(m[1], 10, 64)
		id, err2 := strconv.ParseInt(m[2], 10, 64)
		if err1 != nil || err2 != nil {
			continue
		}
		return TrackRef{OwnerID: owner, AudioID: id}, true
	}
	return TrackRef{}, false
}
