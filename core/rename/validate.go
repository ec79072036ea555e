package rename

import (
	"strings"
)

// 文件名最大长度（字节）
const maxFilenameLength = 255

// Windows设备保留名，跨平台统一拒绝以保证可移植性
var reservedNames = map[string]bool{
	"CON": true, "PRN": true, "AUX": true, "NUL": true,
	"COM1": true, "COM2": true, "COM3": true, "COM4": true, "COM5": true,
	"COM6": true, "COM7": true, "COM8": true, "COM9": true,
	"LPT1": true, "LPT2": true, "LPT3": true, "LPT4": true, "LPT5": true,
	"LPT6": true, "LPT7": true, "LPT8": true, "LPT9": true,
}

// 文件名中的非法字符
const illegalChars = `<>:"/\|?*`

// ValidateFilename 校验文件名合法性
//
// 返回空字符串表示合法，否则返回错误描述。
func ValidateFilename(name string) string {
	if name == "" {
		return "empty filename"
	}
	if name == "." || name == ".." {
		return "filename is a path component"
	}
	if len(name) > maxFilenameLength {
		return "filename too long"
	}

	if strings.ContainsAny(name, illegalChars) {
		return "illegal character in filename"
	}
	for _, r := range name {
		if r < 0x20 {
			return "control character in filename"
		}
	}

	if strings.HasSuffix(name, ".") || strings.HasSuffix(name, " ") {
		return "filename ends with dot or space"
	}

	stem := name
	if idx := strings.IndexByte(name, '.'); idx > 0 {
		stem = name[:idx]
	}
	if reservedNames[strings.ToUpper(stem)] {
		return "reserved device name"
	}

	return ""
}
