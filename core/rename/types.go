package rename

import (
	"time"
)

// 预览结果默认有效期
const DefaultPreviewTTL = 300 * time.Second

// NamePair 原名到候选名的映射项
type NamePair struct {
	OldName string
	NewName string
}

// PreviewResult 预览阶段的结果值对象，创建后不再修改
type PreviewResult struct {
	NamePairs  []NamePair
	HasChanges bool
	Errors     []string
	Timestamp  time.Time

	// 阶段线性化令牌：验证/执行阶段用它确认结果
	// 对应引擎当前的文件集与模块配置
	Generation uint64
}

// IsStale 判断预览是否超过有效期
func (pr *PreviewResult) IsStale(maxAge time.Duration) bool {
	if maxAge <= 0 {
		maxAge = DefaultPreviewTTL
	}
	return time.Since(pr.Timestamp) > maxAge
}

// newPreviewResult 构造预览结果并计算HasChanges不变式
func newPreviewResult(pairs []NamePair, errors []string, generation uint64) *PreviewResult {
	hasChanges := false
	for _, p := range pairs {
		if p.OldName != p.NewName {
			hasChanges = true
			break
		}
	}
	return &PreviewResult{
		NamePairs:  pairs,
		HasChanges: hasChanges,
		Errors:     errors,
		Timestamp:  time.Now(),
		Generation: generation,
	}
}

// ValidationItem 单个文件的验证结果
type ValidationItem struct {
	OldName      string
	NewName      string
	IsValid      bool
	IsDuplicate  bool
	IsUnchanged  bool
	ErrorMessage string
}

// ValidationResult 验证阶段的结果值对象
//
// 派生字段在构造时计算一次，之后不再变化。
type ValidationResult struct {
	Items      []ValidationItem
	Duplicates map[string]struct{}

	// HasErrors只统计非法名；重复名经由Duplicates集合单独暴露
	HasErrors      bool
	UnchangedCount int
	AllUnchanged   bool

	Generation uint64
}

// newValidationResult 构造验证结果并计算派生字段
func newValidationResult(items []ValidationItem, duplicates map[string]struct{}, generation uint64) *ValidationResult {
	vr := &ValidationResult{
		Items:      items,
		Duplicates: duplicates,
		Generation: generation,
	}

	for _, item := range items {
		if !item.IsValid {
			vr.HasErrors = true
		}
		if item.IsUnchanged {
			vr.UnchangedCount++
		}
	}
	vr.AllUnchanged = len(items) > 0 && vr.UnchangedCount == len(items)

	return vr
}

// 执行项跳过原因
const (
	SkipReasonUnchanged   = "unchanged"
	SkipReasonConflict    = "conflict_skip"
	SkipReasonConflictAll = "conflict_skip_all"
	SkipReasonInvalid     = "invalid_name"
)

// ExecutionItem 单次计划中的文件系统重命名项
//
// 伴随文件（共享主干名的sidecar）以合成项的形式追加。
type ExecutionItem struct {
	OldPath          string
	NewPath          string
	Success          bool
	ErrorMessage     string
	SkipReason       string
	IsConflict       bool
	ConflictResolved bool
	IsCompanion      bool
}

// ExecutionResult 执行阶段的结果值对象，计数在构造时派生
type ExecutionResult struct {
	Items []ExecutionItem

	SuccessCount  int
	ErrorCount    int
	SkippedCount  int
	ConflictCount int
}

// newExecutionResult 构造执行结果并计算计数
func newExecutionResult(items []ExecutionItem) *ExecutionResult {
	er := &ExecutionResult{Items: items}

	for _, item := range items {
		switch {
		case item.Success && item.SkipReason == "":
			er.SuccessCount++
		case item.Success && item.SkipReason != "":
			// 未变更的no-op计入成功和跳过
			er.SuccessCount++
			er.SkippedCount++
		case item.SkipReason != "":
			er.SkippedCount++
		default:
			er.ErrorCount++
		}
		if item.IsConflict {
			er.ConflictCount++
		}
	}

	return er
}

// ConflictAction 冲突回调的决定
type ConflictAction int

const (
	// ConflictSkip 跳过当前项
	ConflictSkip ConflictAction = iota
	// ConflictSkipAll 跳过本次执行中其余所有项
	ConflictSkipAll
	// ConflictOverwrite 覆盖目标文件
	ConflictOverwrite
	// ConflictCancel 立即中止剩余计划
	ConflictCancel
)

// ConflictFunc 冲突回调，目标路径已存在时由调用方决定处理方式
type ConflictFunc func(oldPath, newPath string) ConflictAction
