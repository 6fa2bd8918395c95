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

// ProxyRepository 代理数据访问接口
type ProxyRepository interface {
	Create(ctx context.Context, p *model.Proxy) error
	// GetByID 不存在时返回 nil, nil
	GetByID(ctx context.Context, id string) (*model.Proxy, error)
	List(ctx context.Context) ([]*model.Proxy, error)
	// GetEnabled 返回当前启用的代理，没有则 nil, nil
	GetEnabled(ctx context.Context) (*model.Proxy, error)
	Update(ctx context.Context, id string, fields map[string]interface{}) error
	// DisableAll 关闭所有代理的启用标记
	DisableAll(ctx context.Context) error
	Delete(ctx context.Context, id string) error
}

type gormProxyRepository struct {
	db *gorm.DB
}

// NewGormProxyRepository 创建 GORM 代理仓库
func NewGormProxyRepository(db *gorm.DB) ProxyRepository {
	return &gormProxyRepository{db: db}
}

func (r *gormProxyRepository) Create(ctx context.Context, p *model.Proxy) error {
	return r.db.WithContext(ctx).Create(p).Error
}

func (r *gormProxyRepository) GetByID(ctx context.Context, id string) (*model.Proxy, error) {
	var p model.Proxy
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&p).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &p, nil
}

func (r *gormProxyRepository) List(ctx context.Context) ([]*model.Proxy, error) {
	var proxies []*model.Proxy
	err := r.db.WithContext(ctx).Order("created_at ASC").Limit(100).Find(&proxies).Error
	return proxies, err
}

func (r *gormProxyRepository) GetEnabled(ctx context.Context) (*model.Proxy, error) {
	var p model.Proxy
	if err := r.db.WithContext(ctx).Where("enabled = ?", true).First(&p).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &p, nil
}

func (r *gormProxyRepository) Update(ctx context.Context, id string, fields map[string]interface{}) error {
	return r.db.WithContext(ctx).Model(&model.Proxy{}).Where("id = ?", id).Updates(fields).Error
}

func (r *gormProxyRepository) DisableAll(ctx context.Context) error {
	return r.db.WithContext(ctx).Model(&model.Proxy{}).
		Where("enabled = ?", true).
		Update("enabled", false).Error
}

func (r *gormProxyRepository) Delete(ctx context.Context, id string) error {
	return r.db.WithContext(ctx).Where("id = ?", id).Delete(&model.Proxy{}).Error
}

// memoryProxyRepository 进程内实现
type memoryProxyRepository struct {
	mu      sync.RWMutex
	proxies map[string]*model.Proxy
}

// NewMemoryProxyRepository 创建内存代理仓库
func NewMemoryProxyRepository() ProxyRepository {
	return &memoryProxyRepository{proxies: make(map[string]*model.Proxy)}
}

func (r *memoryProxyRepository) Create(_ context.Context, p *model.Proxy) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.proxies[p.ID]; ok {
		return fmt.Errorf("proxy %s already exists", p.ID)
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now()
	}
	c := *p
	r.proxies[p.ID] = &c
	return nil
}

func (r *memoryProxyRepository) GetByID(_ context.Context, id string) (*model.Proxy, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.proxies[id]
	if !ok {
		return nil, nil
	}
	c := *p
	return &c, nil
}

func (r *memoryProxyRepository) List(_ context.Context) ([]*model.Proxy, error) {
	r.mu.RLock()
	out := make([]*model.Proxy, 0, len(r.proxies))
	for _, p := range r.proxies {
		c := *p
		out = append(out, &c)
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (r *memoryProxyRepository) GetEnabled(_ context.Context) (*model.Proxy, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, p := range r.proxies {
		if p.Enabled {
			c := *p
			return &c, nil
		}
	}
	return nil, nil
}

func (r *memoryProxyRepository) Update(_ context.Context, id string, fields map[string]interface{}) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.proxies[id]
	if !ok {
		return nil
	}
	return applyProxyFields(p, fields)
}

func (r *memoryProxyRepository) DisableAll(_ context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, p := range r.proxies {
		p.Enabled = false
	}
	return nil
}

func (r *memoryProxyRepository) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.proxies, id)
	return nil
}

func applyProxyFields(p *model.Proxy, fields map[string]interface{}) error {
	for col, v := range fields {
		var ok bool
		switch col {
		case "enabled":
			p.Enabled, ok = v.(bool)
		case "status":
			p.Status, ok = v.(string)
		case "status_message":
			p.StatusMessage, ok = v.(string)
		case "latency_ms":
			p.LatencyMs, ok = v.(int64)
		case "ip":
			p.IP, ok = v.(string)
		case "name":
			p.Name, ok = v.(string)
		case "last_check":
			var at time.Time
			at, ok = v.(time.Time)
			p.LastCheck = &at
		default:
			return fmt.Errorf("unknown proxy column %q", col)
		}
		if !ok {
			return fmt.Errorf("column %q: unexpected value type %T", col, v)
		}
	}
	return nil
}
