package model

import "fmt"

// Thumb holds the album cover variants returned by the audio API.
type Thumb struct {
	Photo270 string `json:"photo_270,omitempty"`
	Photo300 string `json:"photo_300,omitempty"`
	Photo600 string `json:"photo_600,omitempty"`
}

// Album is the optional album block of a track.
type Album struct {
	ID    int64  `json:"id"`
	Title string `json:"title"`
	Thumb *Thumb `json:"thumb,omitempty"`
}

// Track is one audio item as returned by the account API.
// URL is empty when the API withheld the media (regional or licensing restriction).
type Track struct {
	ID       int64  `json:"id"`
	OwnerID  int64  `json:"owner_id"`
	Artist   string `json:"artist"`
	Title    string `json:"title"`
	Duration int    `json:"duration"`
	URL      string `json:"url"`
	LyricsID int64  `json:"lyrics_id,omitempty"`
	Album    *Album `json:"album,omitempty"`
}

// FullID returns the "<owner>_<id>" form used by audio.getById.
func (t Track) FullID() string {
	return fmt.Sprintf("%d_%d", t.OwnerID, t.ID)
}

// Label returns "artist - title" for progress reporting.
func (t Track) Label() string {
	return t.Artist + " - " + t.Title
}

// CoverURL picks the largest available thumbnail.
func (t Track) CoverURL() string {
	if t.Album == nil || t.Album.Thumb == nil {
		return ""
	}
	switch {
	case t.Album.Thumb.Photo600 != "":
		return t.Album.Thumb.Photo600
	case t.Album.Thumb.Photo300 != "":
		return t.Album.Thumb.Photo300
	default:
		return t.Album.Thumb.Photo270
	}
}
