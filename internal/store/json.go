// Package store 提供注册表快照的持久化实现
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	log "github.com/sirupsen/logrus"

	"feedwatch/internal/model"
)

// JSONStore 以单个 JSON 文件保存快照, 写入采用临时文件加 rename
type JSONStore struct {
	path     string
	readOnly bool
}

func NewJSONStore(path string) *JSONStore {
	return &JSONStore{path: path}
}

// NewReadOnlyJSONStore 只读打开: Load 不会移动损坏的文件, Save 总是失败
func NewReadOnlyJSONStore(path string) *JSONStore {
	return &JSONStore{path: path, readOnly: true}
}

func (s *JSONStore) Path() string {
	return s.path
}

// Load 文件不存在时返回空快照; 内容无法解析时把文件挪到 .corrupt (只读时保留原文件) 并返回 ErrCorruptSnapshot
func (s *JSONStore) Load(ctx context.Context) (*model.Snapshot, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return model.NewSnapshot(), nil
	}
	if err != nil {
		// 读取失败不视为损坏, 文件保持原样
		return nil, fmt.Errorf("%w: read %s: %v", model.ErrPersistence, s.path, err)
	}

	snap := model.NewSnapshot()
	if len(data) == 0 {
		return snap, nil
	}
	if err := json.Unmarshal(data, snap); err != nil {
		if s.readOnly {
			return nil, fmt.Errorf("%w: %s: %v", model.ErrCorruptSnapshot, s.path, err)
		}
		backup := s.path + ".corrupt"
		if renameErr := os.Rename(s.path, backup); renameErr != nil {
			log.WithError(renameErr).WithField("path", s.path).Error("Failed to move corrupt snapshot aside")
		} else {
			log.WithField("backup", backup).Warn("Moved corrupt snapshot aside")
		}
		return nil, fmt.Errorf("%w: %s: %v", model.ErrCorruptSnapshot, s.path, err)
	}
	if snap.Destinations == nil {
		snap.Destinations = make(map[string][]model.FeedRecord)
	}
	return snap, nil
}

// Save 原子地覆盖快照文件
func (s *JSONStore) Save(ctx context.Context, snap *model.Snapshot) error {
	if s.readOnly {
		return fmt.Errorf("%w: %s opened read-only", model.ErrPersistence, s.path)
	}
	if snap.SavedAt.IsZero() {
		snap.SavedAt = time.Now().UTC()
	}
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("%w: encode snapshot: %v", model.ErrPersistence, err)
	}
	if err := writeFileAtomic(s.path, data); err != nil {
		return fmt.Errorf("%w: write %s: %v", model.ErrPersistence, s.path, err)
	}
	return nil
}

func (s *JSONStore) Close() error {
	return nil
}

// writeFileAtomic 写入同目录下的临时文件, fsync 后 rename 覆盖目标
func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}
