package core

import (
	"net/http"
	"sync"

	"github.com/RecoveryAshes/sitemirror/internal/models"
	"github.com/RecoveryAshes/sitemirror/internal/utils"
)

// HeaderManager 管理HTTP请求头部
// 实现 models.HeaderProvider 接口, 合并优先级: 默认 < 配置文件 < 命令行
type HeaderManager struct {
	// defaults 系统默认头部
	defaults http.Header

	// config 配置文件 headers: 段
	config http.Header

	// cli 命令行 -H 参数
	cli http.Header

	once   sync.Once
	merged http.Header
	err    error
}

// NewHeaderManager 创建头部管理器
// 参数:
//   - userAgent: 运行配置中的User-Agent, 作为默认头部
//   - configHeaders: 配置文件中的头部
//   - cliHeaders: 命令行传递的 "Name: Value" 列表
//
// 命令行参数格式错误时返回错误
func NewHeaderManager(userAgent string, configHeaders map[string]string, cliHeaders []string) (*HeaderManager, error) {
	hm := &HeaderManager{
		defaults: getDefaultHeaders(userAgent),
		config:   make(http.Header),
	}

	for name, value := range configHeaders {
		hm.config.Set(name, value)
	}

	cli, err := models.CliHeaders(cliHeaders).Parse()
	if err != nil {
		return nil, models.NewConfigError("header", err)
	}
	hm.cli = cli

	return hm, nil
}

// getDefaultHeaders 返回系统默认头部
func getDefaultHeaders(userAgent string) http.Header {
	if userAgent == "" {
		userAgent = models.DefaultUserAgent
	}
	return http.Header{
		"User-Agent":      []string{userAgent},
		"Accept":          []string{"text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8"},
		"Accept-Language": []string{"en-US,en;q=0.9"},
		"Accept-Encoding": []string{"gzip, deflate, br"},
	}
}

// Validate 验证所有头部的合法性
// 验证顺序: 默认 → 配置 → 命令行
func (hm *HeaderManager) Validate() error {
	for _, headers := range []http.Header{hm.defaults, hm.config, hm.cli} {
		if err := utils.ValidateHeaders(headers); err != nil {
			return err
		}
	}
	utils.Debugf("所有HTTP头部验证通过")
	return nil
}

// GetMergedHeaders 按优先级合并头部 (default < config < cli)
func (hm *HeaderManager) GetMergedHeaders() http.Header {
	result := make(http.Header)
	for _, layer := range []http.Header{hm.defaults, hm.config, hm.cli} {
		for name, values := range layer {
			result[name] = values
		}
	}
	return result
}

// GetSafeHeaders 返回脱敏后的头部 (用于日志)
func (hm *HeaderManager) GetSafeHeaders() map[string]string {
	return utils.RedactHeaders(hm.GetMergedHeaders())
}

// GetHeaders 实现 HeaderProvider 接口
// 第一次调用时验证并合并, 之后返回同一结果的副本
func (hm *HeaderManager) GetHeaders() (http.Header, error) {
	hm.once.Do(func() {
		if err := hm.Validate(); err != nil {
			hm.err = err
			return
		}
		hm.merged = hm.GetMergedHeaders()
		utils.Debugf("HTTP请求头部: %v", hm.GetSafeHeaders())
	})
	if hm.err != nil {
		return nil, hm.err
	}
	return hm.merged.Clone(), nil
}
