package thumbs

import (
	"image"
	"image/color"
	"testing"
)

func uniformImage(c color.Gray) image.Image {
	img := image.NewGray(image.Rect(0, 0, 128, 128))
	for y := 0; y < 128; y++ {
		for x := 0; x < 128; x++ {
			img.SetGray(x, y, c)
		}
	}
	return img
}

func gradientImage() image.Image {
	img := image.NewGray(image.Rect(0, 0, 128, 128))
	for y := 0; y < 128; y++ {
		for x := 0; x < 128; x++ {
			img.SetGray(x, y, color.Gray{Y: uint8(x * 2)})
		}
	}
	return img
}

func TestIsValidFrame_RejectsBlackFrame(t *testing.T) {
	if isValidFrame(uniformImage(color.Gray{Y: 0})) {
		t.Fatal("全黑帧应被拒绝")
	}
}

func TestIsValidFrame_RejectsFlatFrame(t *testing.T) {
	// 亮度足够但没有对比度的纯色帧
	if isValidFrame(uniformImage(color.Gray{Y: 128})) {
		t.Fatal("纯色帧应被拒绝")
	}
}

func TestIsValidFrame_RejectsDimFrame(t *testing.T) {
	// 平均亮度低于阈值
	if isValidFrame(uniformImage(color.Gray{Y: 5})) {
		t.Fatal("过暗帧应被拒绝")
	}
}

func TestIsValidFrame_AcceptsNormalFrame(t *testing.T) {
	if !isValidFrame(gradientImage()) {
		t.Fatal("有内容的渐变帧应被接受")
	}
}

func TestIsValidFrame_EmptyImage(t *testing.T) {
	if isValidFrame(image.NewGray(image.Rect(0, 0, 0, 0))) {
		t.Fatal("空图像应被拒绝")
	}
}

func TestCandidateTimestamps_LongVideo(t *testing.T) {
	ts := candidateTimestamps(100)
	want := []float64{35, 15, 50, 70}
	if len(ts) != len(want) {
		t.Fatalf("期望 %d 个候选点，得到 %v", len(want), ts)
	}
	for i, v := range want {
		if ts[i] != v {
			t.Fatalf("第%d个候选点期望 %v，得到 %v", i, v, ts[i])
		}
	}
}

func TestCandidateTimestamps_ClampsToEdges(t *testing.T) {
	// 15%点(1.5s)被抬升到2s下限
	ts := candidateTimestamps(10)
	for _, v := range ts {
		if v < 2 || v > 8 {
			t.Fatalf("候选点 %v 超出 [2, 8] 范围: %v", v, ts)
		}
	}
}

func TestCandidateTimestamps_ShortVideoUsesMidpoint(t *testing.T) {
	ts := candidateTimestamps(3)
	if len(ts) != 1 || ts[0] != 1.5 {
		t.Fatalf("过短视频应取中点: %v", ts)
	}
}

func TestCandidateTimestamps_Dedupes(t *testing.T) {
	// 4秒视频所有候选点都压到同一个钳制值
	ts := candidateTimestamps(4)
	if len(ts) != 1 {
		t.Fatalf("重复钳制值应去重: %v", ts)
	}
}

func TestVideoProviderSupports(t *testing.T) {
	p := &VideoProvider{}
	if !p.Supports("/x/a.MP4") || !p.Supports("/x/b.mkv") {
		t.Fatal("常见视频扩展名应被支持")
	}
	if p.Supports("/x/a.jpg") || p.Supports("/x/noext") {
		t.Fatal("非视频文件不应被支持")
	}
}
