package crawlers

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"golang.org/x/net/publicsuffix"
)

// ErrInvalidURL URL无法解析或无法得到绝对地址
var ErrInvalidURL = errors.New("无效的URL")

// Canonicalize 将URL规范化为稳定的标识
//
// 规则:
//   - 相对引用按base解析
//   - scheme与host转为小写
//   - 去掉片段(#...)
//   - 折叠 . 和 .. 路径段
//   - 去掉默认端口(http:80, https:443)
//   - 根路径统一为 "/"
//   - 查询串原样保留, 路径大小写保留
//
// 结果满足幂等: Canonicalize(Canonicalize(x)) == Canonicalize(x)
func Canonicalize(raw string, base string) (string, error) {
	raw = strings.TrimSpace(raw)

	ref, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("%w: %q: %v", ErrInvalidURL, raw, err)
	}

	var baseURL *url.URL
	if base != "" {
		baseURL, err = url.Parse(strings.TrimSpace(base))
		if err != nil {
			return "", fmt.Errorf("%w: base %q: %v", ErrInvalidURL, base, err)
		}
	} else {
		baseURL = &url.URL{}
	}

	// ResolveReference 同时完成点段折叠
	u := baseURL.ResolveReference(ref)
	if u.Scheme == "" {
		return "", fmt.Errorf("%w: %q 不是绝对地址", ErrInvalidURL, raw)
	}
	u.Scheme = strings.ToLower(u.Scheme)

	if u.Opaque != "" {
		// mailto:, tel:, javascript: 等不透明URL不做路径处理
		u.Fragment = ""
		u.RawFragment = ""
		return u.String(), nil
	}

	if (u.Scheme == "http" || u.Scheme == "https") && u.Host == "" {
		return "", fmt.Errorf("%w: %q 缺少主机名", ErrInvalidURL, raw)
	}

	u.Host = canonicalHost(u.Scheme, u.Host)
	u.Fragment = ""
	u.RawFragment = ""
	if u.RawQuery == "" {
		u.ForceQuery = false
	}
	if u.Path == "" {
		u.Path = "/"
		u.RawPath = ""
	}

	return u.String(), nil
}

// canonicalHost 小写主机名并去掉默认端口
func canonicalHost(scheme, host string) string {
	host = strings.ToLower(host)
	host = strings.TrimSuffix(host, ":")

	hostname, port := splitHostPort(host)
	if (scheme == "http" && port == "80") || (scheme == "https" && port == "443") {
		port = ""
	}
	if strings.Contains(hostname, ":") {
		hostname = "[" + hostname + "]"
	}
	if port == "" {
		return hostname
	}
	return hostname + ":" + port
}

// splitHostPort 拆分主机与端口, 支持IPv6字面量
func splitHostPort(host string) (string, string) {
	u := url.URL{Host: host}
	return u.Hostname(), u.Port()
}

// IsFetchableScheme 仅http/https可以抓取
// mailto:, tel:, javascript:, data:, ftp:, file: 等一律拒绝
func IsFetchableScheme(rawURL string) bool {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return false
	}
	scheme := strings.ToLower(u.Scheme)
	return (scheme == "http" || scheme == "https") && u.Host != "" && u.Opaque == ""
}

// IsInScope 判断URL是否属于站内
// 主机精确匹配; includeSubdomains 时按可注册域名做后缀匹配
func IsInScope(rawURL string, baseHost string, includeSubdomains bool) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	host := canonicalHost(strings.ToLower(u.Scheme), u.Host)
	baseHost = strings.ToLower(baseHost)

	if host == baseHost {
		return true
	}
	if !includeSubdomains {
		return false
	}

	hostname, _ := splitHostPort(host)
	baseName, _ := splitHostPort(baseHost)
	domain := registrableDomain(baseName)
	return hostname == domain || strings.HasSuffix(hostname, "."+domain)
}

// registrableDomain 计算可注册域名(eTLD+1)
// IP地址、localhost等无法计算时返回主机名本身
func registrableDomain(hostname string) string {
	domain, err := publicsuffix.EffectiveTLDPlusOne(hostname)
	if err != nil {
		return hostname
	}
	return domain
}

// Scope 绑定入口主机的站内判断器
type Scope struct {
	baseHost          string
	includeSubdomains bool
}

// NewScope 根据入口URL创建站内判断器
func NewScope(baseURL string, includeSubdomains bool) (*Scope, error) {
	canonical, err := Canonicalize(baseURL, "")
	if err != nil {
		return nil, err
	}
	u, _ := url.Parse(canonical)
	return &Scope{baseHost: u.Host, includeSubdomains: includeSubdomains}, nil
}

// BaseHost 入口主机(含非默认端口)
func (s *Scope) BaseHost() string {
	return s.baseHost
}

// Contains 是否可抓取且在站内
func (s *Scope) Contains(rawURL string) bool {
	return IsFetchableScheme(rawURL) && IsInScope(rawURL, s.baseHost, s.includeSubdomains)
}
