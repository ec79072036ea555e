package rename

import (
	"fmt"
	"os"
	"strings"
	"time"
)

// caseAwareRename 执行一次文件系统重命名
//
// 仅大小写不同的重命名在大小写不敏感的文件系统上会被
// 判定为同一文件，需要经由临时名两步完成；其余情况走
// 普通rename。
func caseAwareRename(oldPath, newPath string) error {
	if oldPath == newPath {
		return nil
	}

	if strings.EqualFold(oldPath, newPath) {
		return twoStepRename(oldPath, newPath)
	}

	return os.Rename(oldPath, newPath)
}

// destinationConflicts 判断目标路径是否被其他文件占用
//
// 大小写不敏感的文件系统上，仅改大小写的目标路径会解析到
// 源文件自身（同一inode），这不是冲突，应交给两步重命名；
// 目标真实存在且不是源文件时才算冲突。
func destinationConflicts(oldPath, newPath string) bool {
	newInfo, err := os.Lstat(newPath)
	if err != nil {
		return false
	}
	oldInfo, err := os.Lstat(oldPath)
	if err != nil {
		return true
	}
	return !os.SameFile(oldInfo, newInfo)
}

// twoStepRename 经由临时名的两步重命名
func twoStepRename(oldPath, newPath string) error {
	tmpPath := fmt.Sprintf("%s.oncut-%d.tmp", oldPath, time.Now().UnixNano())

	if err := os.Rename(oldPath, tmpPath); err != nil {
		return err
	}

	if err := os.Rename(tmpPath, newPath); err != nil {
		// 尽量回滚到原名，避免文件停留在临时名上
		if rollbackErr := os.Rename(tmpPath, oldPath); rollbackErr != nil {
			return fmt.Errorf("rename failed and rollback failed: %w (rollback: %v)", err, rollbackErr)
		}
		return err
	}

	return nil
}
