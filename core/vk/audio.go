package vk

import (
	"context"
	"net/url"
	"strconv"
	"strings"

	"VKSaver/logger"
	"VKSaver/model"

	"golang.org/x/time/rate"
)

const pageSize = 200

// TrackQuery audio.get 的筛选条件，空字段不传
type TrackQuery struct {
	OwnerID   string
	AlbumID   string
	AccessKey string
}

// GetTracks 分页拉取全部音频，页与页之间按 pageInterval 限速
func (c *Client) GetTracks(ctx context.Context, token string, q TrackQuery) ([]model.Track, error) {
	limiter := rate.NewLimiter(rate.Every(c.pageInterval), 1)

	var all []model.Track
	for offset := 0; ; {
		if err := limiter.Wait(ctx); err != nil {
			return nil, err
		}

		params := url.Values{}
		params.Set("count", strconv.Itoa(pageSize))
		params.Set("offset", strconv.Itoa(offset))
		if q.OwnerID != "" {
			params.Set("owner_id", q.OwnerID)
		}
		if q.AlbumID != "" {
			params.Set("album_id", q.AlbumID)
		}
		if q.AccessKey != "" {
			params.Set("access_key", q.AccessKey)
		}

		var page struct {
			Count int           `json:"count"`
			Items []model.Track `json:"items"`
		}
		if err := c.call(ctx, token, "audio.get", params, &page); err != nil {
			return nil, err
		}
		all = append(all, page.Items...)
		offset += pageSize
		if len(page.Items) == 0 || offset >= page.Count {
			break
		}
	}

	logger.Debug("[VK.GetTracks] listed tracks", logger.String("owner_id", q.OwnerID), logger.String("album_id", q.AlbumID), logger.Int("count", len(all)))
	return all, nil
}

// GetPlaylistTitle 获取歌单标题
func (c *Client) GetPlaylistTitle(ctx context.Context, token string, ref PlaylistRef) (string, error) {
	params := url.Values{}
	params.Set("owner_id", strconv.FormatInt(ref.OwnerID, 10))
	params.Set("playlist_id", strconv.FormatInt(ref.PlaylistID, 10))
	if ref.AccessKey != "" {
		params.Set("access_key", ref.AccessKey)
	}

	var result struct {
		Title string `json:"title"`
	}
	if err := c.call(ctx, token, "audio.getPlaylistById", params, &result); err != nil {
		return "", err
	}
	return result.Title, nil
}

// GetByIDs 按 "<owner>_<id>" 获取音频
func (c *Client) GetByIDs(ctx context.Context, token string, ids ...string) ([]model.Track, error) {
	params := url.Values{}
	params.Set("audios", strings.Join(ids, ","))

	var tracks []model.Track
	if err := c.call(ctx, token, "audio.getById", params, &tracks); err != nil {
		return nil, err
	}
	return tracks, nil
}

// GetLyrics 获取歌词文本
func (c *Client) GetLyrics(ctx context.Context, token string, lyricsID int64) (string, error) {
	params := url.Values{}
	params.Set("lyrics_id", strconv.FormatInt(lyricsID, 10))

	var result struct {
		Text string `json:"text"`
	}
	if err := c.call(ctx, token, "audio.getLyrics", params, &result); err != nil {
		return "", err
	}
	return result.Text, nil
}
