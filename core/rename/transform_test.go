package rename

import "testing"

func TestPostTransform_Case(t *testing.T) {
	tests := []struct {
		mode CaseMode
		in   string
		want string
	}{
		{CaseLower, "My Photo", "my photo"},
		{CaseUpper, "My Photo", "MY PHOTO"},
		{CaseTitle, "my vacation photo", "My Vacation Photo"},
		{CaseTitle, "ALL CAPS NAME", "All Caps Name"},
	}

	for _, tt := range tests {
		got := PostTransform{Case: tt.mode}.Apply(tt.in)
		if got != tt.want {
			t.Errorf("Case=%s: %q 期望 %q，得到 %q", tt.mode, tt.in, tt.want, got)
		}
	}
}

func TestPostTransform_Separator(t *testing.T) {
	tests := []struct {
		mode SeparatorMode
		in   string
		want string
	}{
		{SeparatorUnderscore, "my photo-name", "my_photo_name"},
		{SeparatorDash, "my photo_name", "my-photo-name"},
		{SeparatorSpace, "my_photo-name", "my photo name"},
		// 连续分隔符折叠为一个，首尾分隔符去除
		{SeparatorUnderscore, "  my  -- photo  ", "my_photo"},
	}

	for _, tt := range tests {
		got := PostTransform{Separator: tt.mode}.Apply(tt.in)
		if got != tt.want {
			t.Errorf("Separator=%s: %q 期望 %q，得到 %q", tt.mode, tt.in, tt.want, got)
		}
	}
}

func TestPostTransform_Transliterate(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"café", "cafe"},
		{"naïve résumé", "naive resume"},
		{"Ünïcödé", "Unicode"},
		{"plain", "plain"},
	}

	for _, tt := range tests {
		got := PostTransform{Transliterate: true}.Apply(tt.in)
		if got != tt.want {
			t.Errorf("转写 %q 期望 %q，得到 %q", tt.in, tt.want, got)
		}
	}
}

func TestPostTransform_IsEffective(t *testing.T) {
	if (PostTransform{}).IsEffective() {
		t.Fatal("零值配置不应视为有效")
	}
	if !(PostTransform{Case: CaseLower}).IsEffective() {
		t.Fatal("设置了大小写模式应视为有效")
	}
	if !(PostTransform{Transliterate: true}).IsEffective() {
		t.Fatal("启用转写应视为有效")
	}
}

func TestPostTransform_Combined(t *testing.T) {
	tr := PostTransform{Case: CaseLower, Separator: SeparatorUnderscore, Transliterate: true}
	got := tr.Apply("Café Photo-Set")
	if got != "cafe_photo_set" {
		t.Fatalf("组合转换期望 %q，得到 %q", "cafe_photo_set", got)
	}
}
