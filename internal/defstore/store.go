package defstore

import (
	"context"
	"errors"
	"regexp"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/BaSui01/flowrun/internal/database"
	"github.com/BaSui01/flowrun/types"
)

// Template 是一条已保存的工作流模板
type Template struct {
	Name       string    `gorm:"primaryKey;size:128" json:"name"`
	Format     string    `gorm:"size:8;not null" json:"format"` // json, yaml
	Definition string    `gorm:"type:text;not null" json:"definition"`
	Version    int       `gorm:"not null" json:"version"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// TableName 表名，表结构由 internal/migration 维护
func (Template) TableName() string { return "workflow_templates" }

// QueryRecorder 记录查询耗时，internal/metrics.Collector 实现该接口
type QueryRecorder interface {
	RecordDBQuery(operation string, err error, duration time.Duration)
}

var (
	// ErrNotFound 模板不存在，可用 errors.Is 判断
	ErrNotFound = &types.Error{Code: types.ErrNotFound}
	// ErrInvalidName 模板名不合法
	ErrInvalidName = &types.Error{Code: types.ErrInvalidRequest}
)

var namePattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_.-]{0,127}$`)

// ValidateName 校验模板名：字母数字开头，只含字母数字与 _ . -，最长 128
func ValidateName(name string) error {
	if !namePattern.MatchString(name) {
		return types.Errorf(types.ErrInvalidRequest, "invalid workflow name %q", name)
	}
	return nil
}

// Store GORM 模板存储
type Store struct {
	pool    *database.PoolManager
	metrics QueryRecorder
	logger  *zap.Logger
}

// Option 配置 Store
type Option func(*Store)

// WithQueryRecorder 设置查询指标记录器
func WithQueryRecorder(r QueryRecorder) Option {
	return func(s *Store) { s.metrics = r }
}

// WithLogger 设置日志
func WithLogger(logger *zap.Logger) Option {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger.With(zap.String("component", "defstore"))
		}
	}
}

// New 创建模板存储
func New(pool *database.PoolManager, opts ...Option) *Store {
	s := &Store{pool: pool, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) observe(op string, start time.Time, err error) {
	if s.metrics != nil {
		s.metrics.RecordDBQuery(op, err, time.Since(start))
	}
}

// Save 新建或覆盖模板，返回保存后的记录
func (s *Store) Save(ctx context.Context, name, format, definition string) (tpl *Template, err error) {
	if err := ValidateName(name); err != nil {
		return nil, err
	}
	start := time.Now()
	defer func() { s.observe("save", start, err) }()

	var saved Template
	err = s.pool.WithTransactionRetry(ctx, 3, func(tx *gorm.DB) error {
		var existing Template
		err := tx.Where("name = ?", name).Take(&existing).Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			saved = Template{Name: name, Format: format, Definition: definition, Version: 1}
			return tx.Create(&saved).Error
		case err != nil:
			return err
		}
		existing.Format = format
		existing.Definition = definition
		existing.Version++
		saved = existing
		return tx.Save(&saved).Error
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("workflow template saved",
		zap.String("name", name),
		zap.Int("version", saved.Version))
	return &saved, nil
}

// Get 按名称读取模板
func (s *Store) Get(ctx context.Context, name string) (tpl *Template, err error) {
	start := time.Now()
	defer func() { s.observe("get", start, err) }()

	var t Template
	err = s.pool.DB().WithContext(ctx).Where("name = ?", name).Take(&t).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, types.Errorf(types.ErrNotFound, "workflow %q not found", name)
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// List 按名称排序列出所有模板（不含原文）
func (s *Store) List(ctx context.Context) (out []Template, err error) {
	start := time.Now()
	defer func() { s.observe("list", start, err) }()

	err = s.pool.DB().WithContext(ctx).
		Select("name", "format", "version", "created_at", "updated_at").
		Order("name").
		Find(&out).Error
	return out, err
}

// Delete 删除模板
func (s *Store) Delete(ctx context.Context, name string) (err error) {
	start := time.Now()
	defer func() { s.observe("delete", start, err) }()

	res := s.pool.DB().WithContext(ctx).Where("name = ?", name).Delete(&Template{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return types.Errorf(types.ErrNotFound, "workflow %q not found", name)
	}
	s.logger.Info("workflow template deleted", zap.String("name", name))
	return nil
}
