package rename

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"oncut/config"
	"oncut/core/errs"
	"oncut/core/state"
)

// 阶段线性化错误：验证/执行收到的结果不属于引擎当前状态
var ErrGenerationMismatch = errors.New("result does not match current engine state")

// 预览已超过有效期
var ErrStalePreview = errors.New("preview result is stale")

// AvailabilityProvider 批量可用性查询
//
// 引擎在逐文件循环前各调用一次，绝不逐文件查询。
type AvailabilityProvider interface {
	BatchHashAvailability(paths []string) map[string]bool
	BatchMetadataAvailability(paths []string) map[string]bool
}

// HashLookup 哈希值查询
type HashLookup interface {
	HashValue(path string) (string, bool)
}

// RenameState 引擎聚合状态
//
// 单个引擎实例独占一份状态，观察方只读不写。
// 三个脏标志在每次更新时通过与上一个结果对比来设置。
type RenameState struct {
	Files     []*state.FileItem
	Modules   []Module
	Transform PostTransform

	LastPreview    *PreviewResult
	LastValidation *ValidationResult
	LastExecution  *ExecutionResult

	PreviewChanged    bool
	ValidationChanged bool
	ExecutionChanged  bool
}

// ExecuteOptions 执行阶段的选项
type ExecuteOptions struct {
	// OnConflict 目标已存在时的决定回调，nil等价于一律跳过
	OnConflict ConflictFunc

	// Revalidate 执行前对每个目标名的再验证，nil表示跳过
	Revalidate func(name string) string

	// OnRenamed 每次成功重命名后的通知（如缓存路径迁移）
	OnRenamed func(oldPath, newPath string)
}

// Engine 统一重命名引擎
//
// 三个阶段按 预览 → 验证 → 执行 顺序串联，结果携带
// 代际令牌：文件集或模块配置变化后，旧结果在后续阶段
// 会被拒绝。缓存仅为单协程所有者设计。
type Engine struct {
	logger       *zap.Logger
	cfg          config.RenameConfig
	availability AvailabilityProvider
	hashes       HashLookup
	errorHandler *errs.Handler

	st         RenameState
	generation uint64

	previewCache    *memoCache[*PreviewResult]
	validationCache *memoCache[*ValidationResult]
}

// NewEngine 创建重命名引擎
func NewEngine(logger *zap.Logger, cfg config.RenameConfig, availability AvailabilityProvider, hashes HashLookup, errorHandler *errs.Handler) *Engine {
	ttl := time.Duration(cfg.CacheTTLMillis) * time.Millisecond
	if ttl <= 0 {
		ttl = 100 * time.Millisecond
	}

	return &Engine{
		logger:          logger.Named("rename"),
		cfg:             cfg,
		availability:    availability,
		hashes:          hashes,
		errorHandler:    errorHandler,
		previewCache:    newMemoCache[*PreviewResult](ttl),
		validationCache: newMemoCache[*ValidationResult](ttl),
	}
}

// SetFiles 替换文件集并推进代际
func (e *Engine) SetFiles(files []*state.FileItem) {
	e.st.Files = files
	e.generation++
}

// SetModules 替换模块链并推进代际
func (e *Engine) SetModules(modules []Module) {
	e.st.Modules = modules
	e.generation++
}

// SetTransform 替换后处理配置并推进代际
func (e *Engine) SetTransform(t PostTransform) {
	e.st.Transform = t
	e.generation++
}

// State 返回当前聚合状态的副本
func (e *Engine) State() RenameState {
	return e.st
}

// Generation 返回当前代际令牌
func (e *Engine) Generation() uint64 {
	return e.generation
}

// GeneratePreview 为当前文件集计算候选名
//
// 哈希/元数据可用性在循环前各做一次批量查询；模块链
// 所需数据缺失的文件短路为哨兵名而不是报错。
func (e *Engine) GeneratePreview() *PreviewResult {
	files := e.st.Files

	key := e.previewKey(files)
	if cached, ok := e.previewCache.get(key); ok && cached.Generation == e.generation {
		e.st.PreviewChanged = !previewEqual(e.st.LastPreview, cached)
		e.st.LastPreview = cached
		return cached
	}

	paths := make([]string, len(files))
	for i, f := range files {
		paths[i] = f.Path
	}

	// 批量可用性查询：各一次，覆盖全部文件
	hashAvail := e.availability.BatchHashAvailability(paths)
	metaAvail := e.availability.BatchMetadataAvailability(paths)

	pairs := make([]NamePair, 0, len(files))
	var previewErrors []string

	for i, f := range files {
		data := &FileData{
			HashAvailable:     hashAvail[f.Path],
			MetadataAvailable: metaAvail[f.Path] || f.HasMetadata(),
			Metadata:          f.Metadata,
		}
		if data.HashAvailable && e.hashes != nil {
			if h, ok := e.hashes.HashValue(f.Path); ok {
				data.Hash = h
			} else {
				data.HashAvailable = false
			}
		}

		proposed, err := e.renderCandidate(f, i, data)
		if err != nil {
			previewErrors = append(previewErrors, fmt.Sprintf("%s: %s", f.Filename, err))
		}

		pairs = append(pairs, NamePair{OldName: f.Filename, NewName: proposed})
	}

	result := newPreviewResult(pairs, previewErrors, e.generation)
	e.previewCache.put(key, result)

	e.st.PreviewChanged = !previewEqual(e.st.LastPreview, result)
	e.st.LastPreview = result

	return result
}

// renderCandidate 计算单个文件的候选名
func (e *Engine) renderCandidate(f *state.FileItem, index int, data *FileData) (string, error) {
	var builder strings.Builder
	for _, m := range e.st.Modules {
		part, err := m.Render(f, index, data)
		if err != nil {
			var sentinel *sentinelError
			if errors.As(err, &sentinel) {
				// 数据未就绪：整个文件的输出短路为哨兵名
				return sentinel.name, nil
			}
			return f.Filename, err
		}
		builder.WriteString(part)
	}

	candidate := builder.String()
	if candidate == "" {
		candidate = f.Basename()
	}

	// 从候选名尾部大小写不敏感地剥离原扩展名
	basename := candidate
	if f.Extension != "" && strings.HasSuffix(strings.ToLower(candidate), strings.ToLower(f.Extension)) {
		basename = candidate[:len(candidate)-len(f.Extension)]
	}

	if e.st.Transform.IsEffective() {
		basename = e.st.Transform.Apply(basename)
	}

	// 扩展名沿用原文件的大小写，不跟随后处理
	proposed := basename + f.Extension

	if msg := ValidateFilename(proposed); msg != "" {
		return proposed, errors.New(msg)
	}

	return proposed, nil
}

// ValidatePreview 校验预览的候选名集合
func (e *Engine) ValidatePreview(preview *PreviewResult) (*ValidationResult, error) {
	if preview == nil {
		return nil, e.errorHandler.WrapError("验证预览", nil, "nil preview")
	}
	if preview.Generation != e.generation {
		return nil, ErrGenerationMismatch
	}

	key := e.validationKey(preview)
	if cached, ok := e.validationCache.get(key); ok && cached.Generation == e.generation {
		e.st.ValidationChanged = !validationEqual(e.st.LastValidation, cached)
		e.st.LastValidation = cached
		return cached, nil
	}

	// 先统计出现次数，重复集合只含出现多于一次的名字
	counts := make(map[string]int, len(preview.NamePairs))
	for _, p := range preview.NamePairs {
		counts[p.NewName]++
	}

	duplicates := make(map[string]struct{})
	for name, n := range counts {
		if n > 1 {
			duplicates[name] = struct{}{}
		}
	}

	seen := make(map[string]bool, len(preview.NamePairs))
	items := make([]ValidationItem, 0, len(preview.NamePairs))

	for _, p := range preview.NamePairs {
		msg := ValidateFilename(p.NewName)

		item := ValidationItem{
			OldName:      p.OldName,
			NewName:      p.NewName,
			IsValid:      msg == "",
			IsUnchanged:  p.OldName == p.NewName,
			ErrorMessage: msg,
		}

		// 首次出现不算重复，之后的同名项才标记
		if seen[p.NewName] {
			item.IsDuplicate = true
		}
		seen[p.NewName] = true

		items = append(items, item)
	}

	result := newValidationResult(items, duplicates, e.generation)
	e.validationCache.put(key, result)

	e.st.ValidationChanged = !validationEqual(e.st.LastValidation, result)
	e.st.LastValidation = result

	return result, nil
}

// ExecuteRename 按验证过的预览执行文件系统重命名
//
// 计划严格按序处理；单个失败不会中止批次，用户取消
// 会让未到达的项缺席于结果而不是标记为失败。
func (e *Engine) ExecuteRename(preview *PreviewResult, validation *ValidationResult, opts ExecuteOptions) (*ExecutionResult, error) {
	if preview == nil || validation == nil {
		return nil, e.errorHandler.WrapError("执行重命名", nil, "nil preview or validation")
	}
	if preview.Generation != e.generation || validation.Generation != e.generation {
		return nil, ErrGenerationMismatch
	}
	if preview.IsStale(time.Duration(e.cfg.PreviewTTL) * time.Second) {
		return nil, ErrStalePreview
	}
	if len(preview.NamePairs) != len(e.st.Files) {
		return nil, ErrGenerationMismatch
	}

	plan := e.buildPlan(preview)

	items := make([]ExecutionItem, 0, len(plan))
	skipAll := false
	canceled := false

	for _, item := range plan {
		if canceled {
			// 未到达的项缺席于结果
			break
		}

		// 预先标记的no-op：不触碰文件系统
		if item.SkipReason == SkipReasonUnchanged {
			items = append(items, item)
			continue
		}

		if skipAll {
			item.SkipReason = SkipReasonConflictAll
			item.Success = false
			items = append(items, item)
			continue
		}

		if opts.Revalidate != nil {
			if msg := opts.Revalidate(filepath.Base(item.NewPath)); msg != "" {
				item.Success = false
				item.SkipReason = SkipReasonInvalid
				item.ErrorMessage = msg
				items = append(items, item)
				continue
			}
		}

		// 目标被其他文件占用才是冲突，交由回调决定；
		// 目标解析到源文件自身时直接走大小写感知重命名
		if destinationConflicts(item.OldPath, item.NewPath) {
			item.IsConflict = true

			switch safeConflictDecision(opts.OnConflict, item.OldPath, item.NewPath) {
			case ConflictSkip:
				item.Success = false
				item.SkipReason = SkipReasonConflict
				items = append(items, item)
				continue
			case ConflictSkipAll:
				skipAll = true
				item.Success = false
				item.SkipReason = SkipReasonConflictAll
				items = append(items, item)
				continue
			case ConflictCancel:
				canceled = true
				continue
			case ConflictOverwrite:
				if err := os.Remove(item.NewPath); err != nil {
					item.Success = false
					item.ErrorMessage = err.Error()
					items = append(items, item)
					continue
				}
				item.ConflictResolved = true
			}
		}

		if err := caseAwareRename(item.OldPath, item.NewPath); err != nil {
			// 单项失败记录后继续，不中止批次
			e.errorHandler.NewFileError(errs.ErrorTypeRename, errs.SeverityHigh,
				"execute_rename", "重命名失败", item.OldPath, err)
			item.Success = false
			item.ErrorMessage = err.Error()
		} else {
			item.Success = true
			if opts.OnRenamed != nil {
				opts.OnRenamed(item.OldPath, item.NewPath)
			}
		}

		items = append(items, item)
	}

	result := newExecutionResult(items)

	e.st.ExecutionChanged = !executionEqual(e.st.LastExecution, result)
	e.st.LastExecution = result

	e.logger.Info("重命名批次完成",
		zap.Int("success", result.SuccessCount),
		zap.Int("errors", result.ErrorCount),
		zap.Int("skipped", result.SkippedCount),
		zap.Int("conflicts", result.ConflictCount))

	return result, nil
}

// buildPlan 构建执行计划，含预标记的no-op与伴随文件合成项
func (e *Engine) buildPlan(preview *PreviewResult) []ExecutionItem {
	companionsEnabled := e.cfg.CompanionFilesEnabled && e.cfg.CompanionAutoRename
	var scanner *companionScanner
	if companionsEnabled {
		scanner = newCompanionScanner()
	}

	plan := make([]ExecutionItem, 0, len(preview.NamePairs))

	for i, pair := range preview.NamePairs {
		f := e.st.Files[i]
		dir := filepath.Dir(f.Path)
		newPath := filepath.Join(dir, pair.NewName)

		item := ExecutionItem{OldPath: f.Path, NewPath: newPath}

		if pair.OldName == pair.NewName {
			item.Success = true
			item.SkipReason = SkipReasonUnchanged
			plan = append(plan, item)
			continue
		}

		plan = append(plan, item)

		if companionsEnabled {
			for _, c := range scanner.find(f.Path, newPath) {
				plan = append(plan, ExecutionItem{
					OldPath:     c[0],
					NewPath:     c[1],
					IsCompanion: true,
				})
			}
		}
	}

	return plan
}

// safeConflictDecision 调用冲突回调并吸收异常
//
// nil回调、越界值或panic一律按跳过处理。
func safeConflictDecision(fn ConflictFunc, oldPath, newPath string) (action ConflictAction) {
	action = ConflictSkip
	if fn == nil {
		return
	}

	defer func() {
		if recover() != nil {
			action = ConflictSkip
		}
	}()

	decision := fn(oldPath, newPath)
	switch decision {
	case ConflictSkip, ConflictSkipAll, ConflictOverwrite, ConflictCancel:
		action = decision
	default:
		action = ConflictSkip
	}
	return
}

// previewKey 预览缓存键：文件路径 + 模块配置 + 后处理配置
func (e *Engine) previewKey(files []*state.FileItem) uint64 {
	parts := make([]string, 0, len(files)+len(e.st.Modules)+1)
	for _, f := range files {
		parts = append(parts, f.Path)
	}
	for _, m := range e.st.Modules {
		parts = append(parts, fmt.Sprintf("%T%+v", m, m))
	}
	parts = append(parts, fmt.Sprintf("%+v", e.st.Transform))
	return hashStrings(parts...)
}

// validationKey 验证缓存键：候选名对列表
func (e *Engine) validationKey(preview *PreviewResult) uint64 {
	parts := make([]string, 0, len(preview.NamePairs)*2)
	for _, p := range preview.NamePairs {
		parts = append(parts, p.OldName, p.NewName)
	}
	return hashStrings(parts...)
}

// previewEqual 比较两个预览结果的名字对
func previewEqual(a, b *PreviewResult) bool {
	if a == nil || b == nil {
		return a == b
	}
	if len(a.NamePairs) != len(b.NamePairs) {
		return false
	}
	for i := range a.NamePairs {
		if a.NamePairs[i] != b.NamePairs[i] {
			return false
		}
	}
	return true
}

// validationEqual 比较两个验证结果的条目
func validationEqual(a, b *ValidationResult) bool {
	if a == nil || b == nil {
		return a == b
	}
	if len(a.Items) != len(b.Items) {
		return false
	}
	for i := range a.Items {
		if a.Items[i] != b.Items[i] {
			return false
		}
	}
	return true
}

// executionEqual 比较两个执行结果的条目
func executionEqual(a, b *ExecutionResult) bool {
	if a == nil || b == nil {
		return a == b
	}
	if len(a.Items) != len(b.Items) {
		return false
	}
	for i := range a.Items {
		if a.Items[i] != b.Items[i] {
			return false
		}
	}
	return true
}
