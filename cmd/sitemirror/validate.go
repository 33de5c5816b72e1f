package main

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/RecoveryAshes/sitemirror/internal/models"
)

// ValidateFlags 验证命令行标志
// 数值范围由 Config.Validate 统一检查
func ValidateFlags(targetURL, urlFile string, batchDelay int) error {
	if targetURL != "" && urlFile != "" {
		return fmt.Errorf("--url 与 --url-file 不能同时使用")
	}

	// 验证URL
	if targetURL != "" {
		normalized, err := NormalizeURL(targetURL)
		if err != nil {
			return fmt.Errorf("无效的目标URL: %w", err)
		}
		if err := models.ValidateURL(normalized); err != nil {
			return fmt.Errorf("无效的目标URL: %w", err)
		}
	}

	if urlFile != "" {
		if err := ValidateURLFile(urlFile); err != nil {
			return err
		}
	}

	if batchDelay < 0 {
		return fmt.Errorf("批量延迟不能为负数,当前值: %d", batchDelay)
	}

	return nil
}

// ValidateURLFile 验证URL文件路径
func ValidateURLFile(filepath string) error {
	if strings.TrimSpace(filepath) == "" {
		return fmt.Errorf("URL文件路径不能为空")
	}
	// 文件存在性检查将在运行时进行
	return nil
}

// NormalizeURL 规范化URL
// 如果没有协议,默认使用https
func NormalizeURL(urlStr string) (string, error) {
	urlStr = strings.TrimSpace(urlStr)
	if !strings.Contains(urlStr, "://") {
		urlStr = "https://" + urlStr
	}

	parsed, err := url.Parse(urlStr)
	if err != nil {
		return "", err
	}
	return parsed.String(), nil
}
