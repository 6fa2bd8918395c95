package repository

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"VKSaver/model"

	"gorm.io/gorm"
)

const (
	// HistoryLimit 历史记录最多返回条数
	HistoryLimit = 100
	// ActiveLimit 进行中任务最多返回条数
	ActiveLimit = 50
)

// TaskRepository 下载任务数据访问接口
type TaskRepository interface {
	Create(ctx context.Context, task *model.DownloadTask) error
	// GetByID 不存在时返回 nil, nil
	GetByID(ctx context.Context, id string) (*model.DownloadTask, error)
	// Update 只更新给定列，键为 model.Col* 常量
	Update(ctx context.Context, id string, fields map[string]interface{}) error
	// UpdateActive 仅在任务尚未进入终态时更新，返回是否写入
	UpdateActive(ctx context.Context, id string, fields map[string]interface{}) (bool, error)
	Delete(ctx context.Context, id string) error
	ListBySession(ctx context.Context, sessionID string, limit int) ([]*model.DownloadTask, error)
	ListActive(ctx context.Context, sessionID string, limit int) ([]*model.DownloadTask, error)
}

// gormTaskRepository GORM 实现
type gormTaskRepository struct {
	db *gorm.DB
}

// NewGormTaskRepository 创建 GORM 任务仓库
func NewGormTaskRepository(db *gorm.DB) TaskRepository {
	return &gormTaskRepository{db: db}
}

func (r *gormTaskRepository) Create(ctx context.Context, task *model.DownloadTask) error {
	return r.db.WithContext(ctx).Create(task).Error
}

func (r *gormTaskRepository) GetByID(ctx context.Context, id string) (*model.DownloadTask, error) {
	var task model.DownloadTask
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&task).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &task, nil
}

func (r *gormTaskRepository) Update(ctx context.Context, id string, fields map[string]interface{}) error {
	return r.db.WithContext(ctx).Model(&model.DownloadTask{}).
		Where("id = ?", id).
		Updates(fields).Error
}

func (r *gormTaskRepository) UpdateActive(ctx context.Context, id string, fields map[string]interface{}) (bool, error) {
	res := r.db.WithContext(ctx).Model(&model.DownloadTask{}).
		Where("id = ? AND status NOT IN ?", id, model.TerminalTaskStatuses).
		Updates(fields)
	if res.Error != nil {
		return false, res.Error
	}
	if res.RowsAffected > 0 {
		return true, nil
	}
	// MySQL 对值未变化的行返回 0，需再确认状态
	task, err := r.GetByID(ctx, id)
	if err != nil {
		return false, err
	}
	return task != nil && !task.Status.IsTerminal(), nil
}

func (r *gormTaskRepository) Delete(ctx context.Context, id string) error {
	return r.db.WithContext(ctx).Where("id = ?", id).Delete(&model.DownloadTask{}).Error
}

func (r *gormTaskRepository) ListBySession(ctx context.Context, sessionID string, limit int) ([]*model.DownloadTask, error) {
	var tasks []*model.DownloadTask
	err := r.db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Order("created_at DESC").
		Limit(limit).
		Find(&tasks).Error
	return tasks, err
}

func (r *gormTaskRepository) ListActive(ctx context.Context, sessionID string, limit int) ([]*model.DownloadTask, error) {
	var tasks []*model.DownloadTask
	err := r.db.WithContext(ctx).
		Where("session_id = ? AND status IN ?", sessionID, model.ActiveTaskStatuses).
		Order("created_at DESC").
		Limit(limit).
		Find(&tasks).Error
	return tasks, err
}

// memoryTaskRepository 进程内实现，用于测试和无数据库运行
type memoryTaskRepository struct {
	mu    sync.RWMutex
	tasks map[string]*model.DownloadTask
}

// NewMemoryTaskRepository 创建内存任务仓库
func NewMemoryTaskRepository() TaskRepository {
	return &memoryTaskRepository{tasks: make(map[string]*model.DownloadTask)}
}

func cloneTask(t *model.DownloadTask) *model.DownloadTask {
	c := *t
	if t.DownloadURLs != nil {
		c.DownloadURLs = append(model.StringList(nil), t.DownloadURLs...)
	}
	if t.CompletedAt != nil {
		at := *t.CompletedAt
		c.CompletedAt = &at
	}
	return &c
}

func (r *memoryTaskRepository) Create(_ context.Context, task *model.DownloadTask) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.tasks[task.ID]; ok {
		return fmt.Errorf("task %s already exists", task.ID)
	}
	if task.CreatedAt.IsZero() {
		task.CreatedAt = time.Now()
	}
	r.tasks[task.ID] = cloneTask(task)
	return nil
}

func (r *memoryTaskRepository) GetByID(_ context.Context, id string) (*model.DownloadTask, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tasks[id]
	if !ok {
		return nil, nil
	}
	return cloneTask(t), nil
}

func (r *memoryTaskRepository) Update(_ context.Context, id string, fields map[string]interface{}) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tasks[id]
	if !ok {
		return nil
	}
	return applyTaskFields(t, fields)
}

func (r *memoryTaskRepository) UpdateActive(_ context.Context, id string, fields map[string]interface{}) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tasks[id]
	if !ok || t.Status.IsTerminal() {
		return false, nil
	}
	return true, applyTaskFields(t, fields)
}

func (r *memoryTaskRepository) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.tasks, id)
	return nil
}

func (r *memoryTaskRepository) ListBySession(_ context.Context, sessionID string, limit int) ([]*model.DownloadTask, error) {
	return r.list(limit, func(t *model.DownloadTask) bool { return t.SessionID == sessionID }), nil
}

func (r *memoryTaskRepository) ListActive(_ context.Context, sessionID string, limit int) ([]*model.DownloadTask, error) {
	return r.list(limit, func(t *model.DownloadTask) bool {
		return t.SessionID == sessionID && t.Status.IsActive()
	}), nil
}

func (r *memoryTaskRepository) list(limit int, keep func(*model.DownloadTask) bool) []*model.DownloadTask {
	r.mu.RLock()
	var out []*model.DownloadTask
	for _, t := range r.tasks {
		if keep(t) {
			out = append(out, cloneTask(t))
		}
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// applyTaskFields 将列更新应用到内存中的任务
func applyTaskFields(t *model.DownloadTask, fields map[string]interface{}) error {
	for col, v := range fields {
		var ok bool
		switch col {
		case model.ColStatus:
			t.Status, ok = v.(model.TaskStatus)
		case model.ColProgress:
			t.Progress, ok = v.(float64)
		case model.ColCurrentStep:
			t.CurrentStep, ok = v.(string)
		case model.ColTitle:
			t.Title, ok = v.(string)
		case model.ColTrackCount:
			t.TrackCount, ok = v.(int)
		case model.ColDownloadedCount:
			t.DownloadedCount, ok = v.(int)
		case model.ColDownloadURL:
			t.DownloadURL, ok = v.(string)
		case model.ColDownloadURLs:
			var list model.StringList
			list, ok = v.(model.StringList)
			t.DownloadURLs = append(model.StringList(nil), list...)
		case model.ColTotalSize:
			t.TotalSize, ok = v.(string)
		case model.ColErrorMessage:
			t.ErrorMessage, ok = v.(string)
		case model.ColCompletedAt:
			var at time.Time
			at, ok = v.(time.Time)
			t.CompletedAt = &at
		default:
			return fmt.Errorf("unknown task column %q", col)
		}
		if !ok {
			return fmt.Errorf("column %q: unexpected value type %T", col, v)
		}
	}
	return nil
}
