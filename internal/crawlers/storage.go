package crawlers

import (
	"crypto/sha256"
	"fmt"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/RecoveryAshes/sitemirror/internal/models"
)

const (
	// indexFileName 以 "/" 结尾的URL对应的文件名
	indexFileName = "index.html"

	// externalHostsDir 站外主机(子域名)资源的存放目录
	externalHostsDir = "_hosts"

	// maxSegmentLen 单个路径段的最大长度
	maxSegmentLen = 200
)

var queryReplacer = strings.NewReplacer("&", "_", "=", "-", "?", "_", "/", "_", "\\", "_")

// Storage 输出目录布局
// 本地路径镜像URL路径层级, 入口主机的资源直接放在根目录下
type Storage struct {
	root     string
	baseHost string
}

// NewStorage 创建输出目录布局
func NewStorage(root string, baseHost string) *Storage {
	return &Storage{root: root, baseHost: strings.ToLower(baseHost)}
}

// Root 输出根目录
func (s *Storage) Root() string {
	return s.root
}

// LocalPath 计算URL对应的本地相对路径(使用 "/" 分隔)
//
// 路径格式:
//   - http://host/           -> index.html
//   - http://host/docs/      -> docs/index.html
//   - http://host/about      -> about.html (html资源)
//   - http://host/p.php?a=1  -> p_a-1.php
//   - http://sub.host/x.css  -> _hosts/sub.host/x.css
func (s *Storage) LocalPath(rawURL string, kind models.AssetKind) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("解析URL失败: %w", err)
	}

	segments := make([]string, 0, 8)
	if host := strings.ToLower(u.Host); host != s.baseHost {
		segments = append(segments, externalHostsDir, sanitizeSegment(strings.ReplaceAll(host, ":", "_")))
	}

	p := u.Path
	if p == "" || strings.HasSuffix(p, "/") {
		p += indexFileName
	}
	parts := strings.Split(strings.TrimPrefix(p, "/"), "/")
	for i, part := range parts {
		if part == "" && i < len(parts)-1 {
			continue
		}
		parts[i] = sanitizeSegment(part)
	}

	name := parts[len(parts)-1]
	if !strings.Contains(name, ".") && kind == models.KindHTML {
		name += ".html"
	}
	if u.RawQuery != "" {
		ext := path.Ext(name)
		stem := strings.TrimSuffix(name, ext)
		name = stem + "_" + queryReplacer.Replace(u.RawQuery) + ext
	}
	parts[len(parts)-1] = shortenSegment(name)

	for _, part := range parts {
		if part != "" {
			segments = append(segments, part)
		}
	}
	return path.Join(segments...), nil
}

// sanitizeSegment 替换文件系统不接受的字符, 禁止 . 与 .. 逃逸
func sanitizeSegment(seg string) string {
	if seg == "." || seg == ".." {
		return "_"
	}
	seg = strings.Map(func(r rune) rune {
		switch {
		case r < 0x20, r == 0x7f:
			return '_'
		case strings.ContainsRune(`\:*"<>|`, r):
			return '_'
		}
		return r
	}, seg)
	return shortenSegment(seg)
}

// shortenSegment 截断过长的路径段, 追加哈希保证唯一
func shortenSegment(seg string) string {
	if len(seg) <= maxSegmentLen {
		return seg
	}
	ext := path.Ext(seg)
	if len(ext) > 16 {
		ext = ""
	}
	hash := calculateHash([]byte(seg))[:12]
	keep := maxSegmentLen - len(ext) - len(hash) - 1
	stem := strings.ToValidUTF8(seg[:keep], "")
	return stem + "_" + hash + ext
}

// Abs 相对路径转换为磁盘绝对路径
func (s *Storage) Abs(rel string) string {
	return filepath.Join(s.root, filepath.FromSlash(rel))
}

// Exists 本地文件是否已存在
func (s *Storage) Exists(rel string) bool {
	info, err := os.Stat(s.Abs(rel))
	return err == nil && info.Mode().IsRegular()
}

// Read 读取本地文件
func (s *Storage) Read(rel string) ([]byte, error) {
	return os.ReadFile(s.Abs(rel))
}

// Write 写入本地文件, 失败时返回文件系统错误
func (s *Storage) Write(rawURL string, rel string, data []byte) error {
	target := s.Abs(rel)
	if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
		return &models.FetchError{URL: rawURL, Kind: models.ErrFilesystem, Cause: fmt.Errorf("创建目录失败: %w", err)}
	}
	if err := os.WriteFile(target, data, 0644); err != nil {
		return &models.FetchError{URL: rawURL, Kind: models.ErrFilesystem, Cause: fmt.Errorf("写入文件失败: %w", err)}
	}
	return nil
}

// calculateHash 计算SHA-256哈希
func calculateHash(data []byte) string {
	hash := sha256.Sum256(data)
	return fmt.Sprintf("%x", hash)
}
