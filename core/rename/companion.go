package rename

import (
	"os"
	"path/filepath"
	"strings"
)

// companionScanner 伴随文件扫描器
//
// 每个目录只做一次ReadDir，结果在同一次执行内复用。
type companionScanner struct {
	dirCache map[string][]string
}

func newCompanionScanner() *companionScanner {
	return &companionScanner{
		dirCache: make(map[string][]string),
	}
}

// find 查找与主文件共享主干名的伴随文件
//
// 返回(旧路径, 新路径)对：伴随文件沿用主文件的基础名
// 替换，各自的扩展名保持不变。
func (cs *companionScanner) find(oldPath, newPath string) [][2]string {
	dir := filepath.Dir(oldPath)
	oldBase := filepath.Base(oldPath)
	newBase := filepath.Base(newPath)

	oldStem := stemOf(oldBase)
	newStem := stemOf(newBase)
	if oldStem == newStem {
		return nil
	}

	entries, ok := cs.dirCache[dir]
	if !ok {
		entries = readDirNames(dir)
		cs.dirCache[dir] = entries
	}

	var pairs [][2]string
	for _, name := range entries {
		if name == oldBase {
			continue
		}
		if stemOf(name) != oldStem {
			continue
		}

		companionExt := name[len(oldStem):]
		pairs = append(pairs, [2]string{
			filepath.Join(dir, name),
			filepath.Join(dir, newStem+companionExt),
		})
	}

	return pairs
}

// readDirNames 读取目录内的常规文件名
func readDirNames(dir string) []string {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		names = append(names, e.Name())
	}
	return names
}

// stemOf 返回文件名去除扩展名后的主干
func stemOf(name string) string {
	return strings.TrimSuffix(name, filepath.Ext(name))
}
