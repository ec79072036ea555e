package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/manifoldco/promptui"
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"oncut/core/app"
	"oncut/core/rename"
)

var (
	onConflict string
	dryRun     bool
	assumeYes  bool
)

// renameCmd 预览、验证并执行重命名
var renameCmd = &cobra.Command{
	Use:   "rename [directory]",
	Short: "执行批量重命名",
	Long: `按模块链计算候选名，通过验证后执行重命名。

目标名已被占用时的处理由 --on-conflict 控制；取值为 ask 且
在交互终端运行时会逐个询问。

示例:
  oncut rename ./photos --module text:IMG_ --module counter:1:1:4
  oncut rename ./photos --module metadata:Model --on-conflict skip
  oncut rename ./photos --module original --case lower --yes`,
	Args: cobra.ExactArgs(1),
	RunE: withApp(runRename),
}

func init() {
	addRuleFlags(renameCmd)
	renameCmd.Flags().StringVar(&onConflict, "on-conflict", "ask", "冲突处理 (ask|skip|skip-all|overwrite|cancel)")
	renameCmd.Flags().BoolVarP(&dryRun, "dry-run", "n", false, "只展示结果，不执行")
	renameCmd.Flags().BoolVarP(&assumeYes, "yes", "y", false, "跳过执行前确认")
}

func runRename(a *app.Context, cmd *cobra.Command, args []string) error {
	if err := prepareEngine(a, args[0]); err != nil {
		return err
	}

	preview := a.Engine.GeneratePreview()
	validation, err := a.Engine.ValidatePreview(preview)
	if err != nil {
		return err
	}

	renderValidation(validation, false)

	if validation.HasErrors || len(validation.Duplicates) > 0 {
		return fmt.Errorf("存在无效或重复的目标名，已中止")
	}
	if validation.AllUnchanged {
		pterm.Info.Println("所有文件名均无变化，无需执行")
		return nil
	}
	if dryRun {
		pterm.Info.Println("dry-run 模式，未执行任何重命名")
		return nil
	}

	if !assumeYes && isInteractive() {
		confirm := promptui.Prompt{
			Label:     fmt.Sprintf("将重命名 %d 个文件，继续", len(validation.Items)-validation.UnchangedCount),
			IsConfirm: true,
		}
		if _, err := confirm.Run(); err != nil {
			pterm.Info.Println("已取消")
			return nil
		}
	}

	conflictFn, err := resolveConflictPolicy()
	if err != nil {
		return err
	}

	cfg := a.ConfigMgr.GetConfig()
	var revalidate func(string) string
	if cfg.Rename.RevalidateOnExecute {
		revalidate = rename.ValidateFilename
	}

	progress, _ := pterm.DefaultProgressbar.
		WithTotal(len(validation.Items) - validation.UnchangedCount).
		WithTitle("重命名").
		Start()

	result, err := a.Engine.ExecuteRename(preview, validation, rename.ExecuteOptions{
		OnConflict: conflictFn,
		Revalidate: revalidate,
		OnRenamed: func(oldPath, newPath string) {
			// 缓存条目跟随文件迁移
			a.Cache.RenamePath(oldPath, newPath)
			progress.Increment()
		},
	})
	progress.Stop()
	if err != nil {
		return err
	}

	renderExecution(result)
	return nil
}

func isInteractive() bool {
	return term.IsTerminal(int(os.Stdin.Fd())) && term.IsTerminal(int(os.Stdout.Fd()))
}

// resolveConflictPolicy 把 --on-conflict 映射为冲突回调
func resolveConflictPolicy() (rename.ConflictFunc, error) {
	switch onConflict {
	case "skip":
		return func(string, string) rename.ConflictAction { return rename.ConflictSkip }, nil
	case "skip-all":
		return func(string, string) rename.ConflictAction { return rename.ConflictSkipAll }, nil
	case "overwrite":
		return func(string, string) rename.ConflictAction { return rename.ConflictOverwrite }, nil
	case "cancel":
		return func(string, string) rename.ConflictAction { return rename.ConflictCancel }, nil
	case "ask":
		if !isInteractive() {
			// 非交互环境下无法询问，退化为跳过
			return func(string, string) rename.ConflictAction { return rename.ConflictSkip }, nil
		}
		return promptConflict, nil
	default:
		return nil, fmt.Errorf("未知冲突策略: %q", onConflict)
	}
}

// promptConflict 交互式冲突决定
func promptConflict(oldPath, newPath string) rename.ConflictAction {
	pterm.Warning.Printf("目标已存在: %s\n", filepath.Base(newPath))

	prompt := promptui.Select{
		Label: "如何处理",
		Items: []string{"跳过此文件", "跳过所有冲突", "覆盖目标", "取消剩余操作"},
	}

	index, _, err := prompt.Run()
	if err != nil {
		return rename.ConflictCancel
	}

	switch index {
	case 0:
		return rename.ConflictSkip
	case 1:
		return rename.ConflictSkipAll
	case 2:
		return rename.ConflictOverwrite
	default:
		return rename.ConflictCancel
	}
}

// renderExecution 展示执行结果汇总与失败明细
func renderExecution(r *rename.ExecutionResult) {
	pterm.Printf("成功 %d，失败 %d，跳过 %d，冲突 %d\n",
		r.SuccessCount, r.ErrorCount, r.SkippedCount, r.ConflictCount)

	for _, item := range r.Items {
		if item.Success || item.SkipReason == rename.SkipReasonUnchanged {
			continue
		}

		name := filepath.Base(item.OldPath)
		switch {
		case item.ErrorMessage != "":
			pterm.Error.Printf("%s: %s\n", name, item.ErrorMessage)
		case item.SkipReason != "":
			pterm.Warning.Printf("%s: 已跳过 (%s)\n", name, item.SkipReason)
		}
	}
}
