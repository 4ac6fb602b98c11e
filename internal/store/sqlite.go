package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"feedwatch/internal/model"
)

// SQLiteStore 把快照保存在 SQLite 的 feed_records 表中, 每次保存在一个事务内整体替换
type SQLiteStore struct {
	db *gorm.DB
}

func NewSQLiteStore(path string) (*SQLiteStore, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("%w: create dir: %v", model.ErrPersistence, err)
		}
	}

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %v", model.ErrPersistence, path, err)
	}

	// 自动迁移
	if err := db.AutoMigrate(&model.FeedRecord{}); err != nil {
		return nil, fmt.Errorf("%w: migrate: %v", model.ErrPersistence, err)
	}

	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Load(ctx context.Context) (*model.Snapshot, error) {
	var records []model.FeedRecord
	if err := s.db.WithContext(ctx).Order("destination, url").Find(&records).Error; err != nil {
		return nil, fmt.Errorf("%w: load records: %v", model.ErrPersistence, err)
	}

	snap := model.NewSnapshot()
	for _, r := range records {
		r.ID = 0
		if r.LastChecked != nil {
			t := r.LastChecked.UTC()
			r.LastChecked = &t
		}
		snap.Destinations[r.Destination] = append(snap.Destinations[r.Destination], r)
	}
	return snap, nil
}

func (s *SQLiteStore) Save(ctx context.Context, snap *model.Snapshot) error {
	records := snap.Records()
	for i := range records {
		records[i].ID = 0
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Session(&gorm.Session{AllowGlobalUpdate: true}).Delete(&model.FeedRecord{}).Error; err != nil {
			return err
		}
		if len(records) == 0 {
			return nil
		}
		return tx.CreateInBatches(records, 100).Error
	})
	if err != nil {
		return fmt.Errorf("%w: save records: %v", model.ErrPersistence, err)
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
