package rename

import (
	"fmt"
	"strconv"
	"strings"

	"oncut/core/state"
)

// 数据缺失时的哨兵名称：对应模块所需数据尚未就绪
const (
	SentinelMissingHash     = "missing_hash"
	SentinelMissingMetadata = "missing_metadata"
)

// FileData 模块求值时某个文件的可用数据快照
//
// 可用性在逐文件循环之前批量查询一次填充，
// 模块内不做任何缓存访问。
type FileData struct {
	HashAvailable     bool
	MetadataAvailable bool
	Hash              string
	Metadata          map[string]interface{}
}

// sentinelError 模块短路信号，携带哨兵名称
type sentinelError struct {
	name string
}

func (e *sentinelError) Error() string {
	return "module data unavailable: " + e.name
}

// Module 重命名模块，模块链的输出依次拼接为候选全名
type Module interface {
	// Render 计算该文件在本模块下的名称片段
	Render(file *state.FileItem, index int, data *FileData) (string, error)
}

// TextModule 固定文本模块
type TextModule struct {
	Text string
}

// Render 返回固定文本
func (m *TextModule) Render(file *state.FileItem, index int, data *FileData) (string, error) {
	return m.Text, nil
}

// OriginalNameModule 原文件名模块
type OriginalNameModule struct{}

// Render 返回去除扩展名的原文件名
func (m *OriginalNameModule) Render(file *state.FileItem, index int, data *FileData) (string, error) {
	return file.Basename(), nil
}

// CounterModule 计数器模块
type CounterModule struct {
	Start   int
	Step    int
	Padding int
}

// Render 按文件顺序生成递增计数
func (m *CounterModule) Render(file *state.FileItem, index int, data *FileData) (string, error) {
	step := m.Step
	if step == 0 {
		step = 1
	}
	value := m.Start + index*step

	if m.Padding > 1 {
		return fmt.Sprintf("%0*d", m.Padding, value), nil
	}
	return strconv.Itoa(value), nil
}

// MetadataModule 元数据字段模块
type MetadataModule struct {
	Key string
}

// Render 取元数据字段值，元数据未加载时短路为哨兵
func (m *MetadataModule) Render(file *state.FileItem, index int, data *FileData) (string, error) {
	if !data.MetadataAvailable {
		return "", &sentinelError{name: SentinelMissingMetadata}
	}

	value, ok := data.Metadata[m.Key]
	if !ok {
		return "", nil
	}
	return sanitizeMetadataValue(fmt.Sprint(value)), nil
}

// HashModule 文件哈希模块
type HashModule struct {
	// 使用的前缀长度，0表示完整哈希
	Length int
}

// Render 取文件哈希，哈希未计算时短路为哨兵
func (m *HashModule) Render(file *state.FileItem, index int, data *FileData) (string, error) {
	if !data.HashAvailable || data.Hash == "" {
		return "", &sentinelError{name: SentinelMissingHash}
	}

	hash := data.Hash
	if m.Length > 0 && m.Length < len(hash) {
		hash = hash[:m.Length]
	}
	return hash, nil
}

// sanitizeMetadataValue 清理元数据值中明显非法的路径字符
func sanitizeMetadataValue(value string) string {
	replacer := strings.NewReplacer(
		"/", "_",
		"\\", "_",
		":", "-",
	)
	return strings.TrimSpace(replacer.Replace(value))
}
