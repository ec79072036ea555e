package cmd

import (
	"fmt"
	"sort"
	"strings"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"oncut/core/app"
)

var (
	metaExtended bool
	metaWrites   []string
)

// metadataCmd 读取或写入文件元数据
var metadataCmd = &cobra.Command{
	Use:   "metadata [files...]",
	Short: "读取或写入文件元数据",
	Long: `读取一个或多个文件的元数据；多文件走单次批量调用。

--extended 额外提取嵌入内容（分段字段以 [Segment N] 前缀标注），
--write 以 字段=值 的形式写入，可重复。

示例:
  oncut metadata a.jpg b.jpg
  oncut metadata clip.mp4 --extended
  oncut metadata a.jpg --write Artist=me --write Rating=5`,
	Args: cobra.MinimumNArgs(1),
	RunE: withApp(runMetadata),
}

func init() {
	metadataCmd.Flags().BoolVar(&metaExtended, "extended", false, "提取嵌入内容")
	metadataCmd.Flags().StringArrayVar(&metaWrites, "write", nil, "写入字段 (字段=值)，可重复")
}

func runMetadata(a *app.Context, cmd *cobra.Command, args []string) error {
	if a.Exiftool == nil {
		return fmt.Errorf("exiftool不可用，无法操作元数据")
	}

	if len(metaWrites) > 0 {
		return writeMetadata(a, args)
	}

	var results []map[string]interface{}
	if len(args) == 1 {
		results = []map[string]interface{}{a.Exiftool.GetMetadata(args[0], metaExtended)}
	} else {
		results = a.Exiftool.GetMetadataBatch(args, metaExtended)
	}

	for i, path := range args {
		fields := results[i]
		pterm.DefaultSection.Println(path)

		if len(fields) == 0 {
			pterm.Warning.Println("未读取到元数据")
			continue
		}
		renderMetadata(fields)

		// 读取成功的文件在可用性缓存中记账
		a.Cache.MarkMetadataLoaded(path, metaExtended)
	}

	if !a.Exiftool.IsHealthy() {
		pterm.Warning.Printf("exiftool连续失败 %d 次，已标记为不健康\n", a.Exiftool.ConsecutiveErrors())
	}

	return nil
}

// writeMetadata 解析 --write 并写入每个文件
func writeMetadata(a *app.Context, paths []string) error {
	changes := make(map[string]string, len(metaWrites))
	for _, w := range metaWrites {
		key, value, found := strings.Cut(w, "=")
		if !found || key == "" {
			return fmt.Errorf("写入参数格式无效: %q (需要 字段=值)", w)
		}
		changes[key] = value
	}

	failed := 0
	for _, path := range paths {
		if a.Exiftool.WriteMetadata(path, changes) {
			pterm.Success.Printf("%s: 已写入 %d 个字段\n", path, len(changes))
		} else {
			failed++
			pterm.Error.Printf("%s: 写入失败\n", path)
		}
	}

	if failed > 0 {
		return fmt.Errorf("%d 个文件写入失败", failed)
	}
	return nil
}

// renderMetadata 按字段名排序输出
func renderMetadata(fields map[string]interface{}) {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	rows := pterm.TableData{{"字段", "值"}}
	for _, k := range keys {
		rows = append(rows, []string{k, fmt.Sprintf("%v", fields[k])})
	}
	pterm.DefaultTable.WithHasHeader().WithData(rows).Render()
}
