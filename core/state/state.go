package state

import (
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

// FileItem 表示加载到文件列表中的一个文件
//
// 以绝对路径作为唯一标识，生命周期从目录扫描开始，
// 直到列表被清空或重新加载为止。
type FileItem struct {
	Path      string
	Filename  string
	Extension string
	Checked   bool
	Metadata  map[string]interface{}
}

// NewFileItem 根据绝对路径创建文件项
func NewFileItem(path string) *FileItem {
	filename := filepath.Base(path)
	ext := filepath.Ext(filename)
	return &FileItem{
		Path:      path,
		Filename:  filename,
		Extension: ext,
		Checked:   true,
	}
}

// Basename 返回去除扩展名后的文件名
func (fi *FileItem) Basename() string {
	return strings.TrimSuffix(fi.Filename, fi.Extension)
}

// HasMetadata 判断元数据是否已加载
func (fi *FileItem) HasMetadata() bool {
	return len(fi.Metadata) > 0
}

// Unsubscribe 取消订阅句柄，由注册方显式释放
type Unsubscribe func()

// fileListener 文件列表变更回调
type fileListener func(files []*FileItem)

// FileStore 已加载文件列表的容器
type FileStore struct {
	mu            sync.RWMutex
	files         []*FileItem
	currentFolder string
	listeners     map[int]fileListener
	nextID        int
}

// NewFileStore 创建文件存储
func NewFileStore() *FileStore {
	return &FileStore{
		listeners: make(map[int]fileListener),
	}
}

// SetFiles 替换整个文件列表
func (fs *FileStore) SetFiles(folder string, files []*FileItem) {
	fs.mu.Lock()
	fs.currentFolder = folder
	fs.files = files
	listeners := fs.snapshotListeners()
	snapshot := fs.snapshotFiles()
	fs.mu.Unlock()

	for _, l := range listeners {
		l(snapshot)
	}
}

// Clear 清空文件列表
func (fs *FileStore) Clear() {
	fs.SetFiles("", nil)
}

// Files 返回文件列表的副本
func (fs *FileStore) Files() []*FileItem {
	fs.mu.RLock()
	defer fs.mu.RUnlock()
	return fs.snapshotFiles()
}

// CurrentFolder 返回当前文件夹
func (fs *FileStore) CurrentFolder() string {
	fs.mu.RLock()
	defer fs.mu.RUnlock()
	return fs.currentFolder
}

// Get 按路径查找文件项
func (fs *FileStore) Get(path string) (*FileItem, bool) {
	fs.mu.RLock()
	defer fs.mu.RUnlock()
	for _, fi := range fs.files {
		if fi.Path == path {
			return fi, true
		}
	}
	return nil, false
}

// Len 返回文件数量
func (fs *FileStore) Len() int {
	fs.mu.RLock()
	defer fs.mu.RUnlock()
	return len(fs.files)
}

// OnChange 注册变更监听，返回显式的取消句柄
func (fs *FileStore) OnChange(fn func(files []*FileItem)) Unsubscribe {
	fs.mu.Lock()
	id := fs.nextID
	fs.nextID++
	fs.listeners[id] = fn
	fs.mu.Unlock()

	return func() {
		fs.mu.Lock()
		delete(fs.listeners, id)
		fs.mu.Unlock()
	}
}

func (fs *FileStore) snapshotFiles() []*FileItem {
	out := make([]*FileItem, len(fs.files))
	copy(out, fs.files)
	return out
}

func (fs *FileStore) snapshotListeners() []fileListener {
	out := make([]fileListener, 0, len(fs.listeners))
	for _, l := range fs.listeners {
		out = append(out, l)
	}
	return out
}

// SelectionStore 选中/勾选行集合的容器
type SelectionStore struct {
	mu        sync.RWMutex
	selected  map[string]struct{}
	checked   map[string]struct{}
	listeners map[int]func()
	nextID    int
}

// NewSelectionStore 创建选择存储
func NewSelectionStore() *SelectionStore {
	return &SelectionStore{
		selected:  make(map[string]struct{}),
		checked:   make(map[string]struct{}),
		listeners: make(map[int]func()),
	}
}

// SetSelected 替换选中集合
func (ss *SelectionStore) SetSelected(paths []string) {
	ss.mu.Lock()
	ss.selected = make(map[string]struct{}, len(paths))
	for _, p := range paths {
		ss.selected[p] = struct{}{}
	}
	listeners := ss.snapshotListeners()
	ss.mu.Unlock()

	for _, l := range listeners {
		l()
	}
}

// SetChecked 设置单个路径的勾选状态
func (ss *SelectionStore) SetChecked(path string, checked bool) {
	ss.mu.Lock()
	if checked {
		ss.checked[path] = struct{}{}
	} else {
		delete(ss.checked, path)
	}
	listeners := ss.snapshotListeners()
	ss.mu.Unlock()

	for _, l := range listeners {
		l()
	}
}

// IsChecked 判断路径是否被勾选
func (ss *SelectionStore) IsChecked(path string) bool {
	ss.mu.RLock()
	defer ss.mu.RUnlock()
	_, ok := ss.checked[path]
	return ok
}

// CheckedPaths 返回排好序的勾选路径列表
func (ss *SelectionStore) CheckedPaths() []string {
	ss.mu.RLock()
	defer ss.mu.RUnlock()
	out := make([]string, 0, len(ss.checked))
	for p := range ss.checked {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// SelectedPaths 返回排好序的选中路径列表
func (ss *SelectionStore) SelectedPaths() []string {
	ss.mu.RLock()
	defer ss.mu.RUnlock()
	out := make([]string, 0, len(ss.selected))
	for p := range ss.selected {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// Clear 清空选择状态
func (ss *SelectionStore) Clear() {
	ss.mu.Lock()
	ss.selected = make(map[string]struct{})
	ss.checked = make(map[string]struct{})
	listeners := ss.snapshotListeners()
	ss.mu.Unlock()

	for _, l := range listeners {
		l()
	}
}

// OnChange 注册变更监听，返回显式的取消句柄
func (ss *SelectionStore) OnChange(fn func()) Unsubscribe {
	ss.mu.Lock()
	id := ss.nextID
	ss.nextID++
	ss.listeners[id] = fn
	ss.mu.Unlock()

	return func() {
		ss.mu.Lock()
		delete(ss.listeners, id)
		ss.mu.Unlock()
	}
}

func (ss *SelectionStore) snapshotListeners() []func() {
	out := make([]func(), 0, len(ss.listeners))
	for _, l := range ss.listeners {
		out = append(out, l)
	}
	return out
}
