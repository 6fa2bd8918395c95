package model

import (
	"database/sql/driver"
	"encoding/json"
	"time"
)

// TaskStatus 下载任务状态
type TaskStatus string

const (
	TaskStatusPending     TaskStatus = "pending"
	TaskStatusDownloading TaskStatus = "downloading"
	TaskStatusZipping     TaskStatus = "zipping"
	TaskStatusUploading   TaskStatus = "uploading"
	TaskStatusCompleted   TaskStatus = "completed"
	TaskStatusCancelling  TaskStatus = "cancelling"
	TaskStatusCancelled   TaskStatus = "cancelled"
	TaskStatusError       TaskStatus = "error"
)

// ActiveTaskStatuses 仍在执行中的状态集合
var ActiveTaskStatuses = []TaskStatus{
	TaskStatusPending,
	TaskStatusDownloading,
	TaskStatusZipping,
	TaskStatusUploading,
	TaskStatusCancelling,
}

// TerminalTaskStatuses 终态集合
var TerminalTaskStatuses = []TaskStatus{
	TaskStatusCompleted,
	TaskStatusError,
	TaskStatusCancelled,
}

// IsActive 是否仍在执行
func (s TaskStatus) IsActive() bool {
	for _, st := range ActiveTaskStatuses {
		if s == st {
			return true
		}
	}
	return false
}

// IsTerminal 是否为终态
func (s TaskStatus) IsTerminal() bool {
	return s == TaskStatusCompleted || s == TaskStatusError || s == TaskStatusCancelled
}

// TaskKind 下载目标类型
type TaskKind string

const (
	TaskKindPlaylist TaskKind = "playlist"
	TaskKindTrack    TaskKind = "track"
	TaskKindMyMusic  TaskKind = "my_music"
)

// StringList 以 JSON 形式存储的字符串列表
type StringList []string

// Scan 实现 sql.Scanner 接口
func (s *StringList) Scan(value interface{}) error {
	if value == nil {
		*s = nil
		return nil
	}
	var bytes []byte
	switch v := value.(type) {
	case []byte:
		bytes = v
	case string:
		bytes = []byte(v)
	default:
		*s = nil
		return nil
	}
	if len(bytes) == 0 || string(bytes) == "null" {
		*s = nil
		return nil
	}
	return json.Unmarshal(bytes, s)
}

// Value 实现 driver.Valuer 接口
func (s StringList) Value() (driver.Value, error) {
	if s == nil {
		return "[]", nil
	}
	b, err := json.Marshal(s)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// DownloadTask 一次下载任务（歌单 / 单曲 / 我的音乐）
type DownloadTask struct {
	ID              string     `json:"id" gorm:"primaryKey;size:36"`
	SessionID       string     `json:"session_id" gorm:"size:36;index;not null"`
	Kind            TaskKind   `json:"download_type" gorm:"size:16;not null"`
	URL             string     `json:"playlist_url" gorm:"size:1024"`
	Title           string     `json:"playlist_title" gorm:"column:title;size:255"`
	EmbedTags       bool       `json:"add_tags"`
	EmbedLyrics     bool       `json:"add_lyrics"`
	Quality         string     `json:"quality" gorm:"size:16;default:'high'"`
	Status          TaskStatus `json:"status" gorm:"column:status;size:16;index;not null"`
	Progress        float64    `json:"progress" gorm:"column:progress"`
	CurrentStep     string     `json:"current_track" gorm:"column:current_step;size:512"`
	TrackCount      int        `json:"track_count" gorm:"column:track_count"`
	DownloadedCount int        `json:"downloaded_count" gorm:"column:downloaded_count"`
	DownloadURL     string     `json:"download_url" gorm:"column:download_url;size:1024"`
	DownloadURLs    StringList `json:"download_urls" gorm:"column:download_urls;type:text"`
	TotalSize       string     `json:"file_size" gorm:"column:total_size;size:32"`
	ErrorMessage    string     `json:"error_message" gorm:"column:error_message;type:text"`
	CreatedAt       time.Time  `json:"created_at" gorm:"index"`
	CompletedAt     *time.Time `json:"completed_at,omitempty" gorm:"column:completed_at"`
}

// TableName 指定表名
func (DownloadTask) TableName() string {
	return "download_tasks"
}

// 任务更新时使用的列名
const (
	ColStatus          = "status"
	ColProgress        = "progress"
	ColCurrentStep     = "current_step"
	ColTitle           = "title"
	ColTrackCount      = "track_count"
	ColDownloadedCount = "downloaded_count"
	ColDownloadURL     = "download_url"
	ColDownloadURLs    = "download_urls"
	ColTotalSize       = "total_size"
	ColErrorMessage    = "error_message"
	ColCompletedAt     = "completed_at"
)
