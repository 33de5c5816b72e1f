package models

import (
	"errors"
	"fmt"
)

var (
	// ErrFrontierClosed 前沿队列已关闭(为空且没有进行中的请求,或已停止)
	ErrFrontierClosed = errors.New("前沿队列已关闭")

	// ErrBaseUnreachable 入口URL完全无法访问
	ErrBaseUnreachable = errors.New("入口URL无法访问")
)

// ErrorKind 错误分类
type ErrorKind string

const (
	ErrTransientNetwork ErrorKind = "transient_network" // 超时、连接重置、HTTP 429/503/504
	ErrPermanent        ErrorKind = "permanent"         // 其余4xx/5xx、协议不支持、robots禁止
	ErrParse            ErrorKind = "parse"             // HTML/CSS解析失败
	ErrFilesystem       ErrorKind = "filesystem"        // 写入本地文件失败
	ErrConfig           ErrorKind = "config"            // 配置越界或格式错误
)

// FetchError 单个URL处理失败的错误
type FetchError struct {
	URL        string
	Kind       ErrorKind
	StatusCode int // HTTP状态码, 传输层错误时为0
	Cause      error
}

// Error 实现error接口
func (e *FetchError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("%s [%s] HTTP %d: %v", e.Kind, e.URL, e.StatusCode, e.Cause)
	}
	return fmt.Sprintf("%s [%s]: %v", e.Kind, e.URL, e.Cause)
}

// Unwrap 支持errors.Unwrap
func (e *FetchError) Unwrap() error {
	return e.Cause
}

// Retryable 仅临时网络错误可以重试
func (e *FetchError) Retryable() bool {
	return e.Kind == ErrTransientNetwork
}

// KindOf 提取错误分类, 非FetchError视为永久错误
func KindOf(err error) ErrorKind {
	var fe *FetchError
	if errors.As(err, &fe) {
		return fe.Kind
	}
	var ce *ConfigError
	if errors.As(err, &ce) {
		return ErrConfig
	}
	return ErrPermanent
}

// ConfigError 配置错误
// 表示配置文件无法解析或某个配置项越界
type ConfigError struct {
	// Field 出错的配置项 (可选)
	Field string

	// FilePath 配置文件路径 (可选)
	FilePath string

	// Cause 底层错误
	Cause error
}

// NewConfigError 创建配置项错误
func NewConfigError(field string, cause error) *ConfigError {
	return &ConfigError{Field: field, Cause: cause}
}

// Error 实现error接口
func (e *ConfigError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("配置项无效 [%s]: %v", e.Field, e.Cause)
	}
	return fmt.Sprintf("配置文件错误 [%s]: %v", e.FilePath, e.Cause)
}

// Unwrap 支持errors.Unwrap
func (e *ConfigError) Unwrap() error {
	return e.Cause
}
