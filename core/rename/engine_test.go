package rename

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"go.uber.org/zap"

	"oncut/config"
	"oncut/core/errs"
	"oncut/core/state"
)

// fakeAvailability 记录批量查询次数的可用性桩
type fakeAvailability struct {
	hash      map[string]bool
	meta      map[string]bool
	hashCalls int
	metaCalls int
}

func (f *fakeAvailability) BatchHashAvailability(paths []string) map[string]bool {
	f.hashCalls++
	out := make(map[string]bool, len(paths))
	for _, p := range paths {
		out[p] = f.hash[p]
	}
	return out
}

func (f *fakeAvailability) BatchMetadataAvailability(paths []string) map[string]bool {
	f.metaCalls++
	out := make(map[string]bool, len(paths))
	for _, p := range paths {
		out[p] = f.meta[p]
	}
	return out
}

type fakeHashes struct {
	values map[string]string
}

func (f *fakeHashes) HashValue(path string) (string, bool) {
	v, ok := f.values[path]
	return v, ok
}

func testEngine(t *testing.T, avail *fakeAvailability, hashes *fakeHashes) *Engine {
	t.Helper()
	logger, err := zap.NewDevelopment()
	if err != nil {
		t.Fatalf("创建日志记录器失败: %v", err)
	}
	if avail == nil {
		avail = &fakeAvailability{}
	}
	cfg := config.RenameConfig{
		CompanionFilesEnabled: true,
		CompanionAutoRename:   true,
		PreviewTTL:            300,
		CacheTTLMillis:        100,
	}
	return NewEngine(logger, cfg, avail, hashes, errs.NewHandler(logger))
}

func writeFile(t *testing.T, path string) {
	t.Helper()
	if err := os.WriteFile(path, []byte("x"), 0o644); err != nil {
		t.Fatalf("创建测试文件失败: %v", err)
	}
}

func itemsOf(t *testing.T, dir string, names ...string) []*state.FileItem {
	t.Helper()
	files := make([]*state.FileItem, 0, len(names))
	for _, n := range names {
		path := filepath.Join(dir, n)
		writeFile(t, path)
		files = append(files, state.NewFileItem(path))
	}
	return files
}

func TestGeneratePreview_ExtensionRoundTrip(t *testing.T) {
	dir := t.TempDir()
	e := testEngine(t, nil, nil)
	e.SetFiles(itemsOf(t, dir, "Photo.JPG"))
	e.SetModules([]Module{&TextModule{Text: "IMG_"}, &OriginalNameModule{}})
	e.SetTransform(PostTransform{Case: CaseLower})

	p := e.GeneratePreview()
	if len(p.NamePairs) != 1 {
		t.Fatalf("期望1个名字对，得到 %d", len(p.NamePairs))
	}
	// 主干名转小写，扩展名保持原大小写
	if p.NamePairs[0].NewName != "img_photo.JPG" {
		t.Fatalf("扩展名应保持原样: %q", p.NamePairs[0].NewName)
	}
	if !p.HasChanges {
		t.Fatal("期望HasChanges为true")
	}
}

func TestGeneratePreview_NoopIdempotence(t *testing.T) {
	dir := t.TempDir()
	e := testEngine(t, nil, nil)
	e.SetFiles(itemsOf(t, dir, "a.txt", "b.txt"))
	e.SetModules([]Module{&OriginalNameModule{}})

	p := e.GeneratePreview()
	for _, pair := range p.NamePairs {
		if pair.OldName != pair.NewName {
			t.Fatalf("原名模块不应改名: %q -> %q", pair.OldName, pair.NewName)
		}
	}
	if p.HasChanges {
		t.Fatal("无变化时HasChanges应为false")
	}
}

func TestGeneratePreview_SentinelShortCircuit(t *testing.T) {
	dir := t.TempDir()
	e := testEngine(t, &fakeAvailability{}, nil)
	e.SetFiles(itemsOf(t, dir, "a.jpg"))
	e.SetModules([]Module{&TextModule{Text: "pre_"}, &HashModule{Length: 8}})

	p := e.GeneratePreview()
	// 哈希未就绪：整个候选名短路为哨兵，不带前缀与扩展名
	if p.NamePairs[0].NewName != SentinelMissingHash {
		t.Fatalf("期望哨兵名 %q，得到 %q", SentinelMissingHash, p.NamePairs[0].NewName)
	}
}

func TestGeneratePreview_SinglePassAvailability(t *testing.T) {
	dir := t.TempDir()
	avail := &fakeAvailability{}
	e := testEngine(t, avail, nil)
	e.SetFiles(itemsOf(t, dir, "a.jpg", "b.jpg", "c.jpg", "d.jpg", "e.jpg"))
	e.SetModules([]Module{&HashModule{}})

	e.GeneratePreview()
	if avail.hashCalls != 1 || avail.metaCalls != 1 {
		t.Fatalf("期望各1次批量查询，实际 hash=%d meta=%d", avail.hashCalls, avail.metaCalls)
	}

	// 同一状态下的二次预览命中缓存，不再查询
	e.GeneratePreview()
	if avail.hashCalls != 1 {
		t.Fatalf("缓存命中时不应重新查询，实际 hash=%d", avail.hashCalls)
	}
}

func TestGeneratePreview_HashModule(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a.jpg")
	avail := &fakeAvailability{hash: map[string]bool{path: true}}
	hashes := &fakeHashes{values: map[string]string{path: "deadbeefcafe"}}

	e := testEngine(t, avail, hashes)
	e.SetFiles(itemsOf(t, dir, "a.jpg"))
	e.SetModules([]Module{&HashModule{Length: 8}})

	p := e.GeneratePreview()
	if p.NamePairs[0].NewName != "deadbeef.jpg" {
		t.Fatalf("期望哈希前缀加原扩展名，得到 %q", p.NamePairs[0].NewName)
	}
}

func TestValidatePreview_DuplicatesOrderSensitive(t *testing.T) {
	dir := t.TempDir()
	e := testEngine(t, nil, nil)
	e.SetFiles(itemsOf(t, dir, "a.txt", "b.txt", "c.txt"))
	e.SetModules([]Module{&TextModule{Text: "same"}})

	p := e.GeneratePreview()
	v, err := e.ValidatePreview(p)
	if err != nil {
		t.Fatalf("不期望错误: %v", err)
	}

	// 首次出现不算重复，之后的同名项才标记
	if v.Items[0].IsDuplicate {
		t.Fatal("首个出现不应标记为重复")
	}
	if !v.Items[1].IsDuplicate || !v.Items[2].IsDuplicate {
		t.Fatal("后续同名项应标记为重复")
	}
	if _, ok := v.Duplicates["same.txt"]; !ok {
		t.Fatalf("重复集合应包含 same.txt: %v", v.Duplicates)
	}
	// 重复名不算非法名：HasErrors只反映语法合法性，
	// 重复经由Duplicates集合单独暴露
	if v.HasErrors {
		t.Fatal("所有名字均合法时HasErrors应为false")
	}
}

func TestValidatePreview_GenerationMismatch(t *testing.T) {
	dir := t.TempDir()
	e := testEngine(t, nil, nil)
	e.SetFiles(itemsOf(t, dir, "a.txt"))
	e.SetModules([]Module{&OriginalNameModule{}})

	p := e.GeneratePreview()

	// 文件集变化后旧预览作废
	e.SetFiles(itemsOf(t, dir, "b.txt"))
	if _, err := e.ValidatePreview(p); !errors.Is(err, ErrGenerationMismatch) {
		t.Fatalf("期望代际不匹配错误，得到 %v", err)
	}
}

func TestValidatePreview_InvalidNames(t *testing.T) {
	dir := t.TempDir()
	e := testEngine(t, nil, nil)
	e.SetFiles(itemsOf(t, dir, "a.txt"))
	e.SetModules([]Module{&TextModule{Text: "bad<name>"}})

	p := e.GeneratePreview()
	v, err := e.ValidatePreview(p)
	if err != nil {
		t.Fatalf("不期望错误: %v", err)
	}
	if v.Items[0].IsValid {
		t.Fatal("含非法字符的名字应判为无效")
	}
	if !v.HasErrors {
		t.Fatal("存在无效名时HasErrors应为true")
	}
}

func TestExecuteRename_Basic(t *testing.T) {
	dir := t.TempDir()
	e := testEngine(t, nil, nil)
	e.SetFiles(itemsOf(t, dir, "a.txt", "b.txt"))
	e.SetModules([]Module{&TextModule{Text: "new_"}, &OriginalNameModule{}})

	p := e.GeneratePreview()
	v, err := e.ValidatePreview(p)
	if err != nil {
		t.Fatalf("不期望错误: %v", err)
	}

	var renamed []string
	r, err := e.ExecuteRename(p, v, ExecuteOptions{
		OnRenamed: func(oldPath, newPath string) { renamed = append(renamed, newPath) },
	})
	if err != nil {
		t.Fatalf("不期望错误: %v", err)
	}
	if r.SuccessCount != 2 || r.ErrorCount != 0 {
		t.Fatalf("期望2成功0失败，实际 %+v", r)
	}
	if len(renamed) != 2 {
		t.Fatalf("OnRenamed应被调用2次，实际 %d", len(renamed))
	}
	if _, err := os.Stat(filepath.Join(dir, "new_a.txt")); err != nil {
		t.Fatalf("重命名后的文件应存在: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "a.txt")); !os.IsNotExist(err) {
		t.Fatal("原文件不应残留")
	}
}

func TestExecuteRename_UnchangedCountsAsSuccessAndSkipped(t *testing.T) {
	dir := t.TempDir()
	e := testEngine(t, nil, nil)
	e.SetFiles(itemsOf(t, dir, "a.txt"))
	e.SetModules([]Module{&OriginalNameModule{}})

	p := e.GeneratePreview()
	v, _ := e.ValidatePreview(p)

	r, err := e.ExecuteRename(p, v, ExecuteOptions{})
	if err != nil {
		t.Fatalf("不期望错误: %v", err)
	}
	if r.SuccessCount != 1 || r.SkippedCount != 1 {
		t.Fatalf("无变化项应同时计入成功与跳过，实际 %+v", r)
	}
	if r.Items[0].SkipReason != SkipReasonUnchanged {
		t.Fatalf("期望跳过原因 %q，实际 %q", SkipReasonUnchanged, r.Items[0].SkipReason)
	}
}

func TestExecuteRename_ConflictSkip(t *testing.T) {
	dir := t.TempDir()
	e := testEngine(t, nil, nil)
	e.SetFiles(itemsOf(t, dir, "a.txt"))
	e.SetModules([]Module{&TextModule{Text: "taken"}})
	writeFile(t, filepath.Join(dir, "taken.txt"))

	p := e.GeneratePreview()
	v, _ := e.ValidatePreview(p)

	r, err := e.ExecuteRename(p, v, ExecuteOptions{
		OnConflict: func(string, string) ConflictAction { return ConflictSkip },
	})
	if err != nil {
		t.Fatalf("不期望错误: %v", err)
	}
	item := r.Items[0]
	if !item.IsConflict || item.SkipReason != SkipReasonConflict || item.Success {
		t.Fatalf("期望冲突跳过，实际 %+v", item)
	}
	if _, err := os.Stat(filepath.Join(dir, "a.txt")); err != nil {
		t.Fatal("跳过后原文件应保留")
	}
}

func TestExecuteRename_DestinationIsSourceItselfIsNotConflict(t *testing.T) {
	dir := t.TempDir()
	e := testEngine(t, nil, nil)
	e.SetFiles(itemsOf(t, dir, "a.txt"))
	e.SetModules([]Module{&TextModule{Text: "A"}})

	// 硬链接让目标路径解析到源文件自身，等价于大小写不敏感
	// 文件系统上的仅改大小写重命名；此时不得触发冲突回调，
	// 否则overwrite策略会先删除源文件造成数据丢失
	oldPath := filepath.Join(dir, "a.txt")
	newPath := filepath.Join(dir, "A.txt")
	if err := os.Link(oldPath, newPath); err != nil {
		t.Fatalf("创建硬链接失败: %v", err)
	}

	p := e.GeneratePreview()
	v, _ := e.ValidatePreview(p)

	conflictCalls := 0
	r, err := e.ExecuteRename(p, v, ExecuteOptions{
		OnConflict: func(old, new string) ConflictAction {
			conflictCalls++
			return ConflictSkip
		},
	})
	if err != nil {
		t.Fatalf("不期望错误: %v", err)
	}
	if conflictCalls != 0 {
		t.Fatalf("目标为源文件自身时不应触发冲突回调，调用了 %d 次", conflictCalls)
	}

	item := r.Items[0]
	if item.IsConflict {
		t.Fatalf("不应标记为冲突: %+v", item)
	}
	if !item.Success {
		t.Fatalf("重命名应成功: %+v", item)
	}
	if _, err := os.Stat(newPath); err != nil {
		t.Fatal("目标名应存在")
	}
	if _, err := os.Lstat(oldPath); err == nil {
		t.Fatal("原名目录项应已移除")
	}
}

func TestExecuteRename_SkipAllLatch(t *testing.T) {
	dir := t.TempDir()
	e := testEngine(t, nil, nil)
	e.SetFiles(itemsOf(t, dir, "a.txt", "b.txt", "c.txt"))
	e.SetModules([]Module{&TextModule{Text: "x_"}, &OriginalNameModule{}})

	// 只有第一个目标被占用
	writeFile(t, filepath.Join(dir, "x_a.txt"))

	p := e.GeneratePreview()
	v, _ := e.ValidatePreview(p)

	calls := 0
	r, err := e.ExecuteRename(p, v, ExecuteOptions{
		OnConflict: func(string, string) ConflictAction {
			calls++
			return ConflictSkipAll
		},
	})
	if err != nil {
		t.Fatalf("不期望错误: %v", err)
	}
	if calls != 1 {
		t.Fatalf("skip_all锁存后不应再询问，实际询问 %d 次", calls)
	}
	// 后续所有项被锁存跳过，不会被执行
	for _, item := range r.Items {
		if item.Success {
			t.Fatalf("skip_all后不应有成功项: %+v", item)
		}
	}
	if r.Items[1].SkipReason != SkipReasonConflictAll || r.Items[2].SkipReason != SkipReasonConflictAll {
		t.Fatalf("后续项应标记为全部跳过: %+v", r.Items)
	}
}

func TestExecuteRename_CancelLeavesRestAbsent(t *testing.T) {
	dir := t.TempDir()
	e := testEngine(t, nil, nil)
	e.SetFiles(itemsOf(t, dir, "a.txt", "b.txt", "c.txt"))
	e.SetModules([]Module{&TextModule{Text: "y_"}, &OriginalNameModule{}})

	writeFile(t, filepath.Join(dir, "y_b.txt"))

	p := e.GeneratePreview()
	v, _ := e.ValidatePreview(p)

	r, err := e.ExecuteRename(p, v, ExecuteOptions{
		OnConflict: func(string, string) ConflictAction { return ConflictCancel },
	})
	if err != nil {
		t.Fatalf("不期望错误: %v", err)
	}
	// a成功，b触发取消且缺席，c未到达
	if len(r.Items) != 1 {
		t.Fatalf("取消后结果应只含已处理项，实际 %d 项", len(r.Items))
	}
	if _, err := os.Stat(filepath.Join(dir, "c.txt")); err != nil {
		t.Fatal("取消后未到达的文件应保持原名")
	}
}

func TestExecuteRename_Overwrite(t *testing.T) {
	dir := t.TempDir()
	e := testEngine(t, nil, nil)
	e.SetFiles(itemsOf(t, dir, "a.txt"))
	e.SetModules([]Module{&TextModule{Text: "taken"}})
	writeFile(t, filepath.Join(dir, "taken.txt"))

	p := e.GeneratePreview()
	v, _ := e.ValidatePreview(p)

	r, err := e.ExecuteRename(p, v, ExecuteOptions{
		OnConflict: func(string, string) ConflictAction { return ConflictOverwrite },
	})
	if err != nil {
		t.Fatalf("不期望错误: %v", err)
	}
	item := r.Items[0]
	if !item.Success || !item.ConflictResolved {
		t.Fatalf("期望覆盖成功，实际 %+v", item)
	}
}

func TestExecuteRename_PanicInConflictCallbackSkips(t *testing.T) {
	dir := t.TempDir()
	e := testEngine(t, nil, nil)
	e.SetFiles(itemsOf(t, dir, "a.txt"))
	e.SetModules([]Module{&TextModule{Text: "taken"}})
	writeFile(t, filepath.Join(dir, "taken.txt"))

	p := e.GeneratePreview()
	v, _ := e.ValidatePreview(p)

	r, err := e.ExecuteRename(p, v, ExecuteOptions{
		OnConflict: func(string, string) ConflictAction { panic("回调异常") },
	})
	if err != nil {
		t.Fatalf("回调异常不应中止批次: %v", err)
	}
	if r.Items[0].SkipReason != SkipReasonConflict {
		t.Fatalf("回调异常应按跳过处理: %+v", r.Items[0])
	}
}

func TestExecuteRename_CompanionFiles(t *testing.T) {
	dir := t.TempDir()
	e := testEngine(t, nil, nil)
	e.SetFiles(itemsOf(t, dir, "a.jpg"))
	e.SetModules([]Module{&TextModule{Text: "b"}})

	// 共享主干名的sidecar文件
	writeFile(t, filepath.Join(dir, "a.xmp"))

	p := e.GeneratePreview()
	v, _ := e.ValidatePreview(p)

	r, err := e.ExecuteRename(p, v, ExecuteOptions{})
	if err != nil {
		t.Fatalf("不期望错误: %v", err)
	}

	foundCompanion := false
	for _, item := range r.Items {
		if item.IsCompanion {
			foundCompanion = true
			if !item.Success {
				t.Fatalf("伴随文件重命名应成功: %+v", item)
			}
		}
	}
	if !foundCompanion {
		t.Fatal("结果中应包含伴随文件项")
	}
	if _, err := os.Stat(filepath.Join(dir, "b.xmp")); err != nil {
		t.Fatalf("伴随文件应随主文件改名: %v", err)
	}
}

func TestExecuteRename_GenerationMismatch(t *testing.T) {
	dir := t.TempDir()
	e := testEngine(t, nil, nil)
	e.SetFiles(itemsOf(t, dir, "a.txt"))
	e.SetModules([]Module{&TextModule{Text: "b"}})

	p := e.GeneratePreview()
	v, _ := e.ValidatePreview(p)

	e.SetTransform(PostTransform{Case: CaseUpper})
	if _, err := e.ExecuteRename(p, v, ExecuteOptions{}); !errors.Is(err, ErrGenerationMismatch) {
		t.Fatalf("配置变化后旧结果应被拒绝，得到 %v", err)
	}
}

func TestCounterModule_Sequence(t *testing.T) {
	dir := t.TempDir()
	e := testEngine(t, nil, nil)
	e.SetFiles(itemsOf(t, dir, "a.txt", "b.txt", "c.txt"))
	e.SetModules([]Module{&CounterModule{Start: 10, Step: 5, Padding: 4}})

	p := e.GeneratePreview()
	want := []string{"0010.txt", "0015.txt", "0020.txt"}
	for i, pair := range p.NamePairs {
		if pair.NewName != want[i] {
			t.Fatalf("第%d项期望 %q，得到 %q", i, want[i], pair.NewName)
		}
	}
}

func TestStateDirtyFlags(t *testing.T) {
	dir := t.TempDir()
	e := testEngine(t, nil, nil)
	e.SetFiles(itemsOf(t, dir, "a.txt"))
	e.SetModules([]Module{&OriginalNameModule{}})

	e.GeneratePreview()
	if !e.State().PreviewChanged {
		t.Fatal("首次预览应标记变化")
	}

	e.GeneratePreview()
	if e.State().PreviewChanged {
		t.Fatal("相同结果不应标记变化")
	}
}
