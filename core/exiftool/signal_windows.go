//go:build windows

package exiftool

import "os"

// Windows没有SIGTERM语义，直接使用Kill
var terminateSignal = os.Kill
