package rename

import (
	"strings"
	"testing"
)

func TestValidateFilename_Legal(t *testing.T) {
	legal := []string{
		"photo.jpg",
		"IMG_0001.CR2",
		"my vacation (2024).png",
		"中文文件名.txt",
		"no-extension",
	}
	for _, name := range legal {
		if msg := ValidateFilename(name); msg != "" {
			t.Errorf("%q 应为合法名，得到: %s", name, msg)
		}
	}
}

func TestValidateFilename_Illegal(t *testing.T) {
	illegal := []string{
		"",
		".",
		"..",
		"bad<name>.txt",
		"a:b.txt",
		"a/b.txt",
		"a\\b.txt",
		"a|b.txt",
		"a?b.txt",
		"a*b.txt",
		"a\"b.txt",
		"name.",
		"name ",
		"has\x00null.txt",
		strings.Repeat("x", 256),
	}
	for _, name := range illegal {
		if msg := ValidateFilename(name); msg == "" {
			t.Errorf("%q 应为非法名", name)
		}
	}
}

func TestValidateFilename_ReservedNames(t *testing.T) {
	// Windows保留名按首个点之前的主干判断，大小写不敏感
	reserved := []string{"CON", "con.txt", "PRN.jpg", "aux.tar.gz", "COM1.log", "lpt9"}
	for _, name := range reserved {
		if msg := ValidateFilename(name); msg == "" {
			t.Errorf("%q 应判为保留名", name)
		}
	}

	// 保留名只匹配完整主干
	allowed := []string{"CONSOLE.txt", "aux2.log", "com10.txt", "myCON.txt"}
	for _, name := range allowed {
		if msg := ValidateFilename(name); msg != "" {
			t.Errorf("%q 不应判为保留名，得到: %s", name, msg)
		}
	}
}
