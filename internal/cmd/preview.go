package cmd

import (
	"fmt"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"oncut/core/app"
	"oncut/core/rename"
	"oncut/core/state"
)

var (
	moduleSpecs    []string
	caseMode       string
	separatorMode  string
	transliterate  bool
	onlyPattern    string
	previewVerbose bool
)

// previewCmd 只计算并展示候选名，不触碰文件系统
var previewCmd = &cobra.Command{
	Use:   "preview [directory]",
	Short: "预览重命名结果",
	Long: `按模块链计算目录内所有文件的候选名并展示验证结果。

模块语法 (--module 可重复，按顺序拼接):
  text:<文本>                固定文本
  original                   原文件名（不含扩展名）
  counter[:起始[:步长[:位数]]]  递增计数
  metadata:<字段>            元数据字段值
  hash[:长度]                文件哈希前缀

示例:
  oncut preview ./photos --module text:IMG_ --module counter:1:1:4
  oncut preview ./photos --module metadata:DateTimeOriginal --case lower --separator underscore`,
	Args: cobra.ExactArgs(1),
	RunE: withApp(runPreview),
}

func init() {
	addRuleFlags(previewCmd)
	previewCmd.Flags().BoolVar(&previewVerbose, "show-unchanged", false, "同时列出无变化的文件")
}

// addRuleFlags 注册预览/执行共用的命名规则标志
func addRuleFlags(cmd *cobra.Command) {
	cmd.Flags().StringArrayVarP(&moduleSpecs, "module", "m", nil, "命名模块，可重复")
	cmd.Flags().StringVar(&caseMode, "case", "", "大小写转换 (lower|upper|title)")
	cmd.Flags().StringVar(&separatorMode, "separator", "", "分隔符统一 (underscore|dash|space)")
	cmd.Flags().BoolVar(&transliterate, "transliterate", false, "去除变音符号")
	cmd.Flags().StringVar(&onlyPattern, "only", "", "只处理文件名匹配此glob模式的文件")
}

// parseModules 解析 --module 标志为模块链
func parseModules(specs []string) ([]rename.Module, error) {
	if len(specs) == 0 {
		return []rename.Module{&rename.OriginalNameModule{}}, nil
	}

	modules := make([]rename.Module, 0, len(specs))
	for _, spec := range specs {
		parts := strings.SplitN(spec, ":", 2)
		kind := parts[0]
		arg := ""
		if len(parts) == 2 {
			arg = parts[1]
		}

		switch kind {
		case "text":
			if arg == "" {
				return nil, fmt.Errorf("text模块需要文本参数: %q", spec)
			}
			modules = append(modules, &rename.TextModule{Text: arg})
		case "original":
			modules = append(modules, &rename.OriginalNameModule{})
		case "counter":
			m := &rename.CounterModule{Start: 1, Step: 1, Padding: 1}
			if arg != "" {
				fields := strings.Split(arg, ":")
				values := []*int{&m.Start, &m.Step, &m.Padding}
				for i, field := range fields {
					if i >= len(values) {
						return nil, fmt.Errorf("counter模块参数过多: %q", spec)
					}
					n, err := strconv.Atoi(field)
					if err != nil {
						return nil, fmt.Errorf("counter模块参数无效: %q", spec)
					}
					*values[i] = n
				}
			}
			modules = append(modules, m)
		case "metadata":
			if arg == "" {
				return nil, fmt.Errorf("metadata模块需要字段名: %q", spec)
			}
			modules = append(modules, &rename.MetadataModule{Key: arg})
		case "hash":
			m := &rename.HashModule{}
			if arg != "" {
				n, err := strconv.Atoi(arg)
				if err != nil || n < 0 {
					return nil, fmt.Errorf("hash模块长度无效: %q", spec)
				}
				m.Length = n
			}
			modules = append(modules, m)
		default:
			return nil, fmt.Errorf("未知模块类型: %q", kind)
		}
	}

	return modules, nil
}

// parseTransform 解析后处理标志
func parseTransform() (rename.PostTransform, error) {
	t := rename.PostTransform{Transliterate: transliterate}

	switch caseMode {
	case "":
	case "lower":
		t.Case = rename.CaseLower
	case "upper":
		t.Case = rename.CaseUpper
	case "title":
		t.Case = rename.CaseTitle
	default:
		return t, fmt.Errorf("未知大小写模式: %q", caseMode)
	}

	switch separatorMode {
	case "":
	case "underscore":
		t.Separator = rename.SeparatorUnderscore
	case "dash":
		t.Separator = rename.SeparatorDash
	case "space":
		t.Separator = rename.SeparatorSpace
	default:
		return t, fmt.Errorf("未知分隔符模式: %q", separatorMode)
	}

	return t, nil
}

// prepareEngine 扫描目录并用规则配置引擎，加载已有元数据
func prepareEngine(a *app.Context, dir string) error {
	files, err := collectFiles(a, dir)
	if err != nil {
		return err
	}
	if len(files) == 0 {
		return fmt.Errorf("目录中没有可处理的文件: %s", dir)
	}

	// --only 过滤经由选择仓库：未匹配的文件留在文件仓库但不参与本批次
	files, err = applySelection(a.SelectionStore, files, onlyPattern)
	if err != nil {
		return err
	}
	if len(files) == 0 {
		return fmt.Errorf("没有文件名匹配 --only 模式 %q 的文件", onlyPattern)
	}

	modules, err := parseModules(moduleSpecs)
	if err != nil {
		return err
	}
	transform, err := parseTransform()
	if err != nil {
		return err
	}

	// 模块链需要元数据时先批量读取，避免逐文件启动进程
	if needsMetadata(modules) && a.Exiftool != nil {
		paths := make([]string, len(files))
		for i, f := range files {
			paths[i] = f.Path
		}
		results := a.Exiftool.GetMetadataBatch(paths, false)
		for i, f := range files {
			if i < len(results) && len(results[i]) > 0 {
				f.Metadata = results[i]
			}
		}
	}

	// hash模块依赖可用性缓存，先把缺口补齐
	if needsHash(modules) {
		preloadHashes(a, files)
	}

	a.Engine.SetFiles(files)
	a.Engine.SetModules(modules)
	a.Engine.SetTransform(transform)
	return nil
}

// applySelection 按glob模式勾选文件并返回勾选子集
//
// 模式为空时全部勾选。勾选状态同步写入选择仓库和文件项。
func applySelection(sel *state.SelectionStore, files []*state.FileItem, pattern string) ([]*state.FileItem, error) {
	checked := make([]*state.FileItem, 0, len(files))
	for _, f := range files {
		match := pattern == ""
		if !match {
			var err error
			match, err = filepath.Match(pattern, f.Filename)
			if err != nil {
				return nil, fmt.Errorf("无效的 --only 模式 %q: %w", pattern, err)
			}
		}
		f.Checked = match
		sel.SetChecked(f.Path, match)
		if match {
			checked = append(checked, f)
		}
	}
	return checked, nil
}

func needsMetadata(modules []rename.Module) bool {
	for _, m := range modules {
		if _, ok := m.(*rename.MetadataModule); ok {
			return true
		}
	}
	return false
}

func runPreview(a *app.Context, cmd *cobra.Command, args []string) error {
	if err := prepareEngine(a, args[0]); err != nil {
		return err
	}

	preview := a.Engine.GeneratePreview()
	validation, err := a.Engine.ValidatePreview(preview)
	if err != nil {
		return err
	}

	renderValidation(validation, previewVerbose)

	for _, msg := range preview.Errors {
		pterm.Warning.Println(msg)
	}
	if validation.HasErrors || len(validation.Duplicates) > 0 {
		pterm.Error.Println("存在无效或重复的目标名，执行前需要调整规则")
	}
	if validation.AllUnchanged {
		pterm.Info.Println("所有文件名均无变化")
	}

	return nil
}

// renderValidation 以表格展示验证结果
func renderValidation(v *rename.ValidationResult, showUnchanged bool) {
	rows := pterm.TableData{{"原名", "新名", "状态"}}

	for _, item := range v.Items {
		if item.IsUnchanged && !showUnchanged {
			continue
		}

		status := "OK"
		switch {
		case item.IsUnchanged:
			status = "无变化"
		case item.IsDuplicate:
			status = "重复"
		case !item.IsValid:
			status = "无效: " + item.ErrorMessage
		}

		rows = append(rows, []string{item.OldName, item.NewName, status})
	}

	if len(rows) > 1 {
		pterm.DefaultTable.WithHasHeader().WithData(rows).Render()
	}

	pterm.Printf("共 %d 项，无变化 %d 项，重复名 %d 个\n",
		len(v.Items), v.UnchangedCount, len(v.Duplicates))
}
