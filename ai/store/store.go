// Package store 持久化请求用量日志，供运维侧做近期成功率与耗时分析。
package store

import (
	"context"
	"fmt"
	"time"

	"github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/kardelitaitu/auto-ai-sub007/internal/database"
)

// RequestLog 单次编排请求的落库记录
type RequestLog struct {
	ID         uint   `gorm:"primaryKey"`
	RequestID  string `gorm:"size:64;index"`
	SessionID  string `gorm:"size:64;index"`
	Action     string `gorm:"size:64;index"`
	Backend    string `gorm:"size:32"`
	Success    bool
	ErrorKind  string `gorm:"size:32"`
	DurationMs int64
	CreatedAt  time.Time `gorm:"index"`
}

// TableName 指定表名
func (RequestLog) TableName() string { return "ai_request_logs" }

// Store 请求日志存储
type Store struct {
	db     *gorm.DB
	logger *zap.Logger
}

// Open 打开 sqlite 数据库并完成迁移
// path 为 ":memory:" 时使用内存库（测试用）
func Open(path string, logger *zap.Logger) (*Store, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open sqlite %q: %w", path, err)
	}
	if err := database.Tune(db, database.DefaultPoolConfig(), logger); err != nil {
		return nil, err
	}
	return New(db, logger)
}

// New 基于已有连接创建存储并执行 AutoMigrate
func New(db *gorm.DB, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := db.AutoMigrate(&RequestLog{}); err != nil {
		return nil, fmt.Errorf("migrate request log schema: %w", err)
	}
	return &Store{db: db, logger: logger}, nil
}

// Close 关闭底层数据库连接
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Record 写入一条请求日志
// 写入失败只记日志不向上传播，落库是尽力而为
func (s *Store) Record(ctx context.Context, entry *RequestLog) {
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}
	if err := s.db.WithContext(ctx).Create(entry).Error; err != nil {
		s.logger.Warn("请求日志写入失败",
			zap.String("request_id", entry.RequestID),
			zap.Error(err),
		)
	}
}

// RecentSuccessRate 统计 since 之后的成功率与样本数
func (s *Store) RecentSuccessRate(ctx context.Context, since time.Time) (float64, int64, error) {
	var stats struct {
		Total     int64
		Succeeded int64
	}
	err := s.db.WithContext(ctx).
		Model(&RequestLog{}).
		Select("COUNT(*) as total, SUM(CASE WHEN success THEN 1 ELSE 0 END) as succeeded").
		Where("created_at >= ?", since).
		Scan(&stats).Error
	if err != nil {
		return 0, 0, err
	}
	if stats.Total == 0 {
		return 1.0, 0, nil
	}
	return float64(stats.Succeeded) / float64(stats.Total), stats.Total, nil
}

// Recent 返回最近的 limit 条日志，按时间倒序
func (s *Store) Recent(ctx context.Context, limit int) ([]RequestLog, error) {
	if limit <= 0 {
		limit = 50
	}
	var logs []RequestLog
	err := s.db.WithContext(ctx).
		Order("created_at DESC, id DESC").
		Limit(limit).
		Find(&logs).Error
	return logs, err
}

// CountByBackend 统计 since 之后各后端的请求量
func (s *Store) CountByBackend(ctx context.Context, since time.Time) (map[string]int64, error) {
	var rows []struct {
		Backend string
		Count   int64
	}
	err := s.db.WithContext(ctx).
		Model(&RequestLog{}).
		Select("backend, COUNT(*) as count").
		Where("created_at >= ? AND backend <> ''", since).
		Group("backend").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	counts := make(map[string]int64, len(rows))
	for _, r := range rows {
		counts[r.Backend] = r.Count
	}
	return counts, nil
}
