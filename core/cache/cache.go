package cache

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"go.etcd.io/bbolt"
	"go.uber.org/zap"

	"oncut/core/errs"
)

// 数据库bucket名称
const (
	HashBucket     = "hashes"
	MetadataBucket = "metadata"
)

// HashRecord 文件哈希记录
type HashRecord struct {
	Path     string    `json:"path"`
	Hash     string    `json:"hash"`
	Size     int64     `json:"size"`
	ModTime  time.Time `json:"mod_time"`
	Recorded time.Time `json:"recorded"`
}

// Store 可用性缓存
//
// 以bbolt为后端，记录已计算的文件哈希和已加载元数据的文件，
// 供重命名引擎在生成预览前做单次批量可用性查询。
type Store struct {
	db           *bbolt.DB
	logger       *zap.Logger
	mutex        sync.RWMutex
	dbPath       string
	errorHandler *errs.Handler

	// 批量查询计数，用于测试断言单次查询语义
	batchQueries int64
}

// NewStore 创建可用性缓存
func NewStore(logger *zap.Logger, dbPath string, errorHandler *errs.Handler) (*Store, error) {
	if dbPath == "" {
		dbDir := filepath.Join(os.TempDir(), "oncut_cache")
		if err := os.MkdirAll(dbDir, 0755); err != nil {
			return nil, errorHandler.WrapError("创建缓存目录", err)
		}
		dbPath = filepath.Join(dbDir, "availability.db")
	} else {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
			return nil, errorHandler.WrapError("创建缓存目录", err)
		}
	}

	// 打开数据库，带重试机制应对残留的文件锁
	var db *bbolt.DB
	var err error
	for i := 0; i < 3; i++ {
		db, err = bbolt.Open(dbPath, 0600, &bbolt.Options{
			Timeout: 5 * time.Second,
		})
		if err == nil {
			break
		}
		if i < 2 {
			if os.Remove(dbPath) == nil {
				logger.Warn("删除可能损坏的缓存数据库", zap.String("path", dbPath))
			}
			time.Sleep(time.Second)
		}
	}
	if err != nil {
		return nil, errorHandler.WrapError("打开缓存数据库", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists([]byte(HashBucket)); err != nil {
			return err
		}
		if _, err := tx.CreateBucketIfNotExists([]byte(MetadataBucket)); err != nil {
			return err
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, errorHandler.WrapError("初始化缓存数据库", err)
	}

	return &Store{
		db:           db,
		logger:       logger,
		dbPath:       dbPath,
		errorHandler: errorHandler,
	}, nil
}

// PutHash 记录文件哈希
func (s *Store) PutHash(path, hash string, size int64, modTime time.Time) error {
	record := &HashRecord{
		Path:     path,
		Hash:     hash,
		Size:     size,
		ModTime:  modTime,
		Recorded: time.Now(),
	}

	data, err := json.Marshal(record)
	if err != nil {
		return err
	}

	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(HashBucket)).Put([]byte(path), data)
	})
}

// GetHash 读取文件哈希记录
func (s *Store) GetHash(path string) (*HashRecord, bool) {
	var record HashRecord
	found := false

	err := s.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket([]byte(HashBucket)).Get([]byte(path))
		if data == nil {
			return nil
		}
		if err := json.Unmarshal(data, &record); err != nil {
			return err
		}
		found = true
		return nil
	})
	if err != nil {
		s.logger.Warn("读取哈希记录失败", zap.String("path", path), zap.Error(err))
		return nil, false
	}

	if !found {
		return nil, false
	}
	return &record, true
}

// MarkMetadataLoaded 标记文件的元数据已加载
func (s *Store) MarkMetadataLoaded(path string, extended bool) error {
	value := []byte("fast")
	if extended {
		value = []byte("extended")
	}

	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(MetadataBucket)).Put([]byte(path), value)
	})
}

// BatchHashAvailability 批量查询哈希可用性
//
// 一次View事务回答全部路径，而不是逐个查询。
func (s *Store) BatchHashAvailability(paths []string) map[string]bool {
	atomic.AddInt64(&s.batchQueries, 1)

	result := make(map[string]bool, len(paths))
	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(HashBucket))
		for _, p := range paths {
			result[p] = b.Get([]byte(p)) != nil
		}
		return nil
	})
	if err != nil {
		s.logger.Warn("批量哈希查询失败", zap.Error(err))
		for _, p := range paths {
			result[p] = false
		}
	}

	return result
}

// BatchMetadataAvailability 批量查询元数据可用性
func (s *Store) BatchMetadataAvailability(paths []string) map[string]bool {
	atomic.AddInt64(&s.batchQueries, 1)

	result := make(map[string]bool, len(paths))
	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(MetadataBucket))
		for _, p := range paths {
			result[p] = b.Get([]byte(p)) != nil
		}
		return nil
	})
	if err != nil {
		s.logger.Warn("批量元数据查询失败", zap.Error(err))
		for _, p := range paths {
			result[p] = false
		}
	}

	return result
}

// BatchQueryCount 返回批量查询的累计次数
func (s *Store) BatchQueryCount() int64 {
	return atomic.LoadInt64(&s.batchQueries)
}

// RenamePath 重命名后迁移缓存条目，保持哈希/元数据记录有效
func (s *Store) RenamePath(oldPath, newPath string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		for _, bucket := range []string{HashBucket, MetadataBucket} {
			b := tx.Bucket([]byte(bucket))
			data := b.Get([]byte(oldPath))
			if data == nil {
				continue
			}
			value := append([]byte(nil), data...)

			// 哈希记录内嵌路径字段，迁移时同步改写保持自洽
			if bucket == HashBucket {
				var rec HashRecord
				if err := json.Unmarshal(value, &rec); err == nil {
					rec.Path = newPath
					if rewritten, err := json.Marshal(&rec); err == nil {
						value = rewritten
					}
				}
			}

			if err := b.Delete([]byte(oldPath)); err != nil {
				return err
			}
			if err := b.Put([]byte(newPath), value); err != nil {
				return err
			}
		}
		return nil
	})
}

// Close 关闭缓存数据库
func (s *Store) Close() error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if s.db != nil {
		err := s.db.Close()
		s.db = nil
		return err
	}
	return nil
}
