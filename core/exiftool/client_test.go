package exiftool

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/zap"

	"oncut/config"
	"oncut/core/errs"
)

func testClient(t *testing.T, path string) *Client {
	t.Helper()
	logger, err := zap.NewDevelopment()
	if err != nil {
		t.Fatalf("创建日志记录器失败: %v", err)
	}
	cfg := config.MetadataConfig{
		ReadTimeout:        10,
		BatchBaseTimeout:   10,
		BatchPerFileMillis: 500,
		WriteTimeout:       30,
	}
	return NewClient(logger, cfg, path, errs.NewHandler(logger))
}

func TestGetMetadata_FailureReturnsEmptyMap(t *testing.T) {
	// 不存在的可执行文件路径
	c := testClient(t, "/nonexistent/exiftool")

	result := c.GetMetadata("/data/a.jpg", false)
	if result == nil {
		t.Fatal("失败时应返回空映射而不是nil")
	}
	if len(result) != 0 {
		t.Fatalf("失败时映射应为空: %v", result)
	}
	if c.ConsecutiveErrors() != 1 {
		t.Fatalf("失败应递增错误计数，实际 %d", c.ConsecutiveErrors())
	}
}

func TestGetMetadataBatch_PadsToInputLength(t *testing.T) {
	c := testClient(t, "/nonexistent/exiftool")

	paths := []string{"/data/a.jpg", "/data/b.jpg", "/data/c.jpg"}
	results := c.GetMetadataBatch(paths, false)

	if len(results) != len(paths) {
		t.Fatalf("结果长度应与输入一致: %d != %d", len(results), len(paths))
	}
	for i, r := range results {
		if r == nil {
			t.Fatalf("第%d项不应为nil", i)
		}
	}
}

func TestGetMetadataBatch_EmptyInput(t *testing.T) {
	c := testClient(t, "/nonexistent/exiftool")
	if results := c.GetMetadataBatch(nil, false); results != nil {
		t.Fatalf("空输入应返回nil: %v", results)
	}
}

func TestHealthCounter(t *testing.T) {
	c := testClient(t, "/nonexistent/exiftool")

	if !c.IsHealthy() {
		t.Fatal("新客户端应为健康状态")
	}

	// 连续失败达到阈值后标记为不健康
	for i := 0; i < unhealthyThreshold; i++ {
		c.GetMetadata("/data/a.jpg", false)
	}
	if c.IsHealthy() {
		t.Fatalf("连续%d次失败后应为不健康", unhealthyThreshold)
	}

	// 任意一次成功重置计数
	c.recordSuccess()
	if !c.IsHealthy() || c.ConsecutiveErrors() != 0 {
		t.Fatal("成功后应恢复健康并清零计数")
	}
}

func TestMergeEmbeddedSegments(t *testing.T) {
	dst := map[string]interface{}{"Duration": "10s"}
	segments := []map[string]interface{}{
		{"SourceFile": "/x/a.mp4", "GPSLatitude": 1.23},
		{"Title": "embedded"},
	}

	mergeEmbeddedSegments(dst, segments)

	if dst["[Segment 1] GPSLatitude"] != 1.23 {
		t.Fatalf("段字段应带编号前缀: %v", dst)
	}
	if dst["[Segment 2] Title"] != "embedded" {
		t.Fatalf("第二段字段应为Segment 2: %v", dst)
	}
	// SourceFile是exiftool的记账字段，不参与合并
	for k := range dst {
		if k == "[Segment 1] SourceFile" {
			t.Fatal("SourceFile不应被合并")
		}
	}
	if dst["Duration"] != "10s" {
		t.Fatal("主结果原有字段应保留")
	}
}

func TestMapFieldsToArgs(t *testing.T) {
	args := mapFieldsToArgs(map[string]string{"title": "hello"})
	if len(args) != 1 || args[0] != "-XMP:Title=hello" {
		t.Fatalf("内部字段应映射到exiftool标签: %v", args)
	}

	args = mapFieldsToArgs(map[string]string{"CustomTag": "v"})
	if len(args) != 1 || args[0] != "-CustomTag=v" {
		t.Fatalf("未知字段应原样透传: %v", args)
	}
}

func TestWriteMetadata_NoChangesIsNoop(t *testing.T) {
	c := testClient(t, "/nonexistent/exiftool")
	if !c.WriteMetadata("/data/a.jpg", nil) {
		t.Fatal("空变更集应视为成功且不调用进程")
	}
	if c.ConsecutiveErrors() != 0 {
		t.Fatal("空变更集不应影响健康计数")
	}
}

// fakeStayOpenTool 生成一个读stdin直到关闭的假exiftool脚本
func fakeStayOpenTool(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "exiftool")
	script := "#!/bin/sh\ncat >/dev/null\n"
	if err := os.WriteFile(path, []byte(script), 0o755); err != nil {
		t.Fatalf("创建假exiftool失败: %v", err)
	}
	return path
}

func TestStayOpenLifecycle(t *testing.T) {
	c := testClient(t, fakeStayOpenTool(t))

	if c.StayOpenRunning() {
		t.Fatal("启动前保活进程不应在运行")
	}

	if err := c.StartStayOpen(); err != nil {
		t.Fatalf("启动保活进程失败: %v", err)
	}
	if !c.StayOpenRunning() {
		t.Fatal("启动后保活进程应在运行")
	}

	// 重复启动为no-op
	if err := c.StartStayOpen(); err != nil {
		t.Fatalf("重复启动不应报错: %v", err)
	}

	// 关闭走握手路径：脚本在stdin关闭后退出，应在限时内完成
	start := time.Now()
	if err := c.Close(); err != nil {
		t.Fatalf("关闭失败: %v", err)
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Fatalf("关闭耗时超出预期: %s", elapsed)
	}
	if c.StayOpenRunning() {
		t.Fatal("关闭后保活进程不应再运行")
	}

	if err := c.StartStayOpen(); err == nil {
		t.Fatal("关闭后不应允许再次启动")
	}
}

func TestClose_Idempotent(t *testing.T) {
	c := testClient(t, "/nonexistent/exiftool")
	if err := c.Close(); err != nil {
		t.Fatalf("未启动保活进程时关闭不应报错: %v", err)
	}
	if err := c.Close(); err != nil {
		t.Fatalf("重复关闭不应报错: %v", err)
	}
}
