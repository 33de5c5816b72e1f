package utils

import (
	"fmt"
	"net/http"
	"regexp"
	"sort"
	"strings"

	"github.com/RecoveryAshes/sitemirror/internal/models"
)

const (
	// MaxHeaderValueLength HTTP头部值最大长度 (8KB)
	MaxHeaderValueLength = 8192
)

var (
	// ForbiddenHeaders 禁止用户配置的头部 (由HTTP客户端管理)
	ForbiddenHeaders = []string{
		"Host",
		"Content-Length",
		"Transfer-Encoding",
		"Connection",
	}

	// SensitiveKeywords 敏感头部名称关键字 (用于脱敏)
	SensitiveKeywords = []string{
		"authorization",
		"cookie",
		"token",
		"key",
		"secret",
		"password",
		"credential",
	}

	// 头部名称 (RFC 7230 token的常用子集)
	headerNameRegex = regexp.MustCompile(`^[A-Za-z0-9-]+$`)

	// 头部值: 可打印ASCII + 空格/制表符
	headerValueRegex = regexp.MustCompile(`^[\x20-\x7E\t]*$`)
)

// ValidateHeader 验证单个头部
// 非法时返回 *models.ConfigError, Field 形如 "headers.X-Name"
func ValidateHeader(name, value string) error {
	field := "headers." + name

	if name == "" {
		return models.NewConfigError("headers", fmt.Errorf("头部名称不能为空"))
	}
	if IsForbiddenHeader(name) {
		return models.NewConfigError(field, fmt.Errorf("此头部由HTTP客户端自动管理,不允许自定义"))
	}
	if !headerNameRegex.MatchString(name) {
		return models.NewConfigError(field, fmt.Errorf("头部名称包含非法字符 (仅允许字母、数字和连字符)"))
	}
	if len(value) > MaxHeaderValueLength {
		return models.NewConfigError(field, fmt.Errorf("头部值过长: %d 字节 (最大 %d)", len(value), MaxHeaderValueLength))
	}
	if !headerValueRegex.MatchString(value) {
		return models.NewConfigError(field, fmt.Errorf("头部值包含非法字符 (仅允许可打印ASCII字符)"))
	}
	return nil
}

// ValidateHeaders 验证http.Header中的所有头部, 返回第一个错误
// 按名称排序检查, 保证错误信息稳定
func ValidateHeaders(headers http.Header) error {
	for _, name := range sortedNames(headers) {
		for _, value := range headers[name] {
			if err := ValidateHeader(name, value); err != nil {
				return err
			}
		}
	}
	return nil
}

// IsForbiddenHeader 检查头部是否被禁止
func IsForbiddenHeader(name string) bool {
	for _, h := range ForbiddenHeaders {
		if strings.EqualFold(h, name) {
			return true
		}
	}
	return false
}

// IsSensitiveHeader 根据名称关键字判断是否为敏感头部
func IsSensitiveHeader(name string) bool {
	lower := strings.ToLower(name)
	for _, keyword := range SensitiveKeywords {
		if strings.Contains(lower, keyword) {
			return true
		}
	}
	return false
}

// RedactHeaderValue 脱敏单个头部值
func RedactHeaderValue(name, value string) string {
	if !IsSensitiveHeader(name) {
		return value
	}

	// Bearer Token 仅显示前缀
	if strings.HasPrefix(value, "Bearer ") {
		return "Bearer ***"
	}
	// 足够长的密钥显示前4位+后4位
	if len(value) > 8 {
		return value[:4] + "***" + value[len(value)-4:]
	}
	return "***"
}

// RedactHeaders 脱敏整个http.Header, 返回可安全写入日志的map
func RedactHeaders(headers http.Header) map[string]string {
	result := make(map[string]string, len(headers))
	for name, values := range headers {
		if len(values) == 0 {
			continue
		}
		result[name] = RedactHeaderValue(name, values[0])
	}
	return result
}

// sortedNames 头部名称排序
func sortedNames(headers http.Header) []string {
	names := make([]string, 0, len(headers))
	for name := range headers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
