package cmd

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"oncut/core/app"
	"oncut/core/rename"
	"oncut/core/state"
)

func needsHash(modules []rename.Module) bool {
	for _, m := range modules {
		if _, ok := m.(*rename.HashModule); ok {
			return true
		}
	}
	return false
}

// preloadHashes 并行计算缺失或过期的文件哈希并写入缓存
//
// 大小和修改时间都未变的缓存记录直接复用。计算经由任务池，
// 池满时退化为同步计算，保证本批次全部就绪后才返回。
func preloadHashes(a *app.Context, files []*state.FileItem) {
	var wg sync.WaitGroup
	for _, f := range files {
		info, err := os.Stat(f.Path)
		if err != nil {
			continue
		}
		if rec, ok := a.Cache.GetHash(f.Path); ok &&
			rec.Size == info.Size() && rec.ModTime.Equal(info.ModTime()) {
			continue
		}

		path := f.Path
		size := info.Size()
		modTime := info.ModTime()
		wg.Add(1)
		task := func(ctx context.Context) error {
			defer wg.Done()
			return hashFile(a, path, size, modTime)
		}
		if err := a.Workers.Submit("hash:"+filepath.Base(path), task); err != nil {
			task(context.Background())
		}
	}
	wg.Wait()
}

// hashFile 计算文件内容的SHA-256并记录
func hashFile(a *app.Context, path string, size int64, modTime time.Time) error {
	fh, err := os.Open(path)
	if err != nil {
		return err
	}
	defer fh.Close()

	h := sha256.New()
	if _, err := io.Copy(h, fh); err != nil {
		return err
	}
	return a.Cache.PutHash(path, hex.EncodeToString(h.Sum(nil)), size, modTime)
}
