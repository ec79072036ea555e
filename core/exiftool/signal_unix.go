//go:build !windows

package exiftool

import "syscall"

// 优雅终止信号
var terminateSignal = syscall.SIGTERM
