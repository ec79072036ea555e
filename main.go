package main

import (
	"os"

	"github.com/fatih/color"

	"oncut/internal/cmd"
)

// 构建时通过 -ldflags 注入
var (
	version   = "dev"
	buildTime = "unknown"
)

func main() {
	cmd.SetVersionInfo(version, buildTime)

	if err := cmd.Execute(); err != nil {
		color.Red("错误: %v", err)
		os.Exit(1)
	}
}
