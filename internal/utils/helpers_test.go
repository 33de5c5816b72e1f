package utils

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

func TestReadURLsFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "urls.txt")
	content := `# 站点列表
https://example.com

ftp://example.com/file
https://example.org/docs/
not a url
https://example.com
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("写入测试文件失败: %v", err)
	}

	got, err := ReadURLsFromFile(path)
	if err != nil {
		t.Fatalf("ReadURLsFromFile() error = %v", err)
	}
	want := []string{"https://example.com", "https://example.org/docs/"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("ReadURLsFromFile() = %v, want %v", got, want)
	}
}

func TestReadURLsFromFileErrors(t *testing.T) {
	dir := t.TempDir()

	t.Run("文件不存在", func(t *testing.T) {
		if _, err := ReadURLsFromFile(filepath.Join(dir, "missing.txt")); err == nil {
			t.Error("ReadURLsFromFile() 应返回错误")
		}
	})

	t.Run("没有有效URL", func(t *testing.T) {
		path := filepath.Join(dir, "empty.txt")
		if err := os.WriteFile(path, []byte("# only comments\n\n"), 0644); err != nil {
			t.Fatalf("写入测试文件失败: %v", err)
		}
		if _, err := ReadURLsFromFile(path); err == nil {
			t.Error("ReadURLsFromFile() 应返回错误")
		}
	})
}
