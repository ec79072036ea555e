package rename

import (
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// CaseMode 大小写转换模式
type CaseMode string

const (
	CaseNone  CaseMode = ""
	CaseLower CaseMode = "lower"
	CaseUpper CaseMode = "upper"
	CaseTitle CaseMode = "title"
)

// SeparatorMode 分隔符归一化模式
type SeparatorMode string

const (
	SeparatorNone       SeparatorMode = ""
	SeparatorUnderscore SeparatorMode = "underscore"
	SeparatorDash       SeparatorMode = "dash"
	SeparatorSpace      SeparatorMode = "space"
)

// PostTransform 基础名的后处理配置
//
// 只有在"有效"（非默认）时才应用，作用于去除扩展名
// 之后的基础名，扩展名保持原文件的大小写。
type PostTransform struct {
	Case          CaseMode
	Separator     SeparatorMode
	Transliterate bool
}

// IsEffective 判断后处理是否为非默认配置
func (t PostTransform) IsEffective() bool {
	return t.Case != CaseNone || t.Separator != SeparatorNone || t.Transliterate
}

// Apply 对基础名应用后处理
func (t PostTransform) Apply(basename string) string {
	result := basename

	if t.Transliterate {
		result = transliterate(result)
	}

	switch t.Separator {
	case SeparatorUnderscore:
		result = normalizeSeparators(result, '_')
	case SeparatorDash:
		result = normalizeSeparators(result, '-')
	case SeparatorSpace:
		result = normalizeSeparators(result, ' ')
	}

	switch t.Case {
	case CaseLower:
		result = strings.ToLower(result)
	case CaseUpper:
		result = strings.ToUpper(result)
	case CaseTitle:
		result = cases.Title(language.Und, cases.NoLower).String(strings.ToLower(result))
	}

	return result
}

// 转写链：NFD分解后去掉组合附标，再重组为NFC
var transliterator = transform.Chain(
	norm.NFD,
	runes.Remove(runes.In(unicode.Mn)),
	norm.NFC,
)

// transliterate 将带音调/变音符的字符转写为基础拉丁字符
func transliterate(s string) string {
	out, _, err := transform.String(transliterator, s)
	if err != nil {
		return s
	}
	return out
}

// normalizeSeparators 把空格/下划线/连字符统一为目标分隔符并折叠重复
func normalizeSeparators(s string, sep rune) string {
	var builder strings.Builder
	builder.Grow(len(s))

	lastWasSep := false
	for _, r := range s {
		if r == ' ' || r == '_' || r == '-' {
			if !lastWasSep {
				builder.WriteRune(sep)
				lastWasSep = true
			}
			continue
		}
		builder.WriteRune(r)
		lastWasSep = false
	}

	return strings.Trim(builder.String(), string(sep))
}
