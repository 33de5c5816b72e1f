package crawlers

import (
	"bytes"
	"compress/flate"
	"compress/gzip"
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"syscall"

	"github.com/RecoveryAshes/sitemirror/internal/models"
	"github.com/RecoveryAshes/sitemirror/internal/utils"
	"github.com/andybalholm/brotli"
	"github.com/gocolly/colly/v2"
)

// responseKey colly上下文中保存响应的键
const responseKey = "sitemirror_response"

// FetchResult 单次HTTP请求的结果
type FetchResult struct {
	// URL 请求的URL
	URL string

	// FinalURL 跟随重定向后的最终URL
	FinalURL string

	StatusCode  int
	ContentType string

	// Body 已解压的响应体
	Body []byte
}

// Fetcher 执行单次GET请求
// 非2xx响应返回结果的同时返回已分类的 *models.FetchError
type Fetcher interface {
	Fetch(ctx context.Context, rawURL string) (*FetchResult, error)
}

// StaticFetcher 基于Colly的静态抓取器
// 每次调用同步执行一个请求, 并发安全
type StaticFetcher struct {
	collector      *colly.Collector
	maxBodySize    int
	userAgent      string
	headerProvider models.HeaderProvider
}

// NewStaticFetcher 创建静态抓取器
func NewStaticFetcher(config models.CrawlConfig, headerProvider models.HeaderProvider) *StaticFetcher {
	userAgent := config.UserAgent
	if userAgent == "" {
		userAgent = models.DefaultUserAgent
	}

	options := []colly.CollectorOption{
		colly.UserAgent(userAgent),
		// 去重由前沿队列负责
		colly.AllowURLRevisit(),
		// 非2xx响应同样交给OnResponse, 由抓取器统一分类
		colly.ParseHTTPErrorResponse(),
		// robots由独立的策略处理
		colly.IgnoreRobotsTxt(),
	}
	// Colly默认截断到10MB, 这里总是显式设置: 0为不限制;
	// 有上限时多读一个字节, 用于判断响应体是否超限
	bodyLimit := 0
	if config.MaxBodySize > 0 {
		bodyLimit = config.MaxBodySize + 1
	}
	options = append(options, colly.MaxBodySize(bodyLimit))
	c := colly.NewCollector(options...)

	c.WithTransport(&http.Transport{
		Proxy: http.ProxyFromEnvironment,
		TLSClientConfig: &tls.Config{
			InsecureSkipVerify: !config.VerifySSL,
		},
		MaxIdleConnsPerHost: config.MaxWorkers + 1,
	})
	if !config.VerifySSL {
		utils.Warnf("TLS证书验证已禁用")
	}
	c.SetRequestTimeout(config.Timeout)

	c.OnResponse(func(r *colly.Response) {
		r.Ctx.Put(responseKey, r)
	})

	return &StaticFetcher{
		collector:      c,
		maxBodySize:    config.MaxBodySize,
		userAgent:      userAgent,
		headerProvider: headerProvider,
	}
}

// Fetch 执行一次GET请求
func (sf *StaticFetcher) Fetch(ctx context.Context, rawURL string) (*FetchResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, &models.FetchError{URL: rawURL, Kind: models.ErrTransientNetwork, Cause: err}
	}

	headers := http.Header{}
	headers.Set("User-Agent", sf.userAgent)
	if sf.headerProvider != nil {
		provided, err := sf.headerProvider.GetHeaders()
		if err != nil {
			utils.Warnf("获取HTTP头部失败: %v", err)
		}
		for name, values := range provided {
			if len(values) > 0 {
				headers.Set(name, values[0])
			}
		}
	}

	cctx := colly.NewContext()
	utils.Debugf("访问: %s", rawURL)
	if err := sf.collector.Request(http.MethodGet, rawURL, nil, cctx, headers); err != nil {
		return nil, &models.FetchError{URL: rawURL, Kind: classifyTransportError(err), Cause: err}
	}

	resp, ok := cctx.GetAny(responseKey).(*colly.Response)
	if !ok || resp == nil {
		return nil, &models.FetchError{URL: rawURL, Kind: models.ErrPermanent, Cause: errors.New("请求未产生响应")}
	}

	result := &FetchResult{
		URL:        rawURL,
		FinalURL:   resp.Request.URL.String(),
		StatusCode: resp.StatusCode,
	}
	if resp.Headers != nil {
		result.ContentType = resp.Headers.Get("Content-Type")
		body, err := decompressBody(resp.Headers.Get("Content-Encoding"), resp.Body)
		if err != nil {
			utils.Warnf("解压响应失败 [%s]: %v", rawURL, err)
			body = resp.Body
		}
		result.Body = body
	} else {
		result.Body = resp.Body
	}

	// 超限的响应体已被截断, 不能当作成功结果写盘
	if sf.maxBodySize > 0 && (len(resp.Body) > sf.maxBodySize || len(result.Body) > sf.maxBodySize) {
		return nil, &models.FetchError{
			URL:        rawURL,
			Kind:       models.ErrPermanent,
			StatusCode: resp.StatusCode,
			Cause:      fmt.Errorf("响应体超过大小上限 %d 字节", sf.maxBodySize),
		}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return result, &models.FetchError{
			URL:        rawURL,
			Kind:       classifyStatus(resp.StatusCode),
			StatusCode: resp.StatusCode,
			Cause:      fmt.Errorf("%s", http.StatusText(resp.StatusCode)),
		}
	}
	return result, nil
}

// classifyStatus HTTP状态码分类: 429/503/504 可重试
func classifyStatus(status int) models.ErrorKind {
	switch status {
	case http.StatusTooManyRequests, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return models.ErrTransientNetwork
	default:
		return models.ErrPermanent
	}
}

// classifyTransportError 传输层错误分类
// 超时、连接重置、连接被拒、提前断开视为临时错误; 域名不存在与证书错误为永久错误
func classifyTransportError(err error) models.ErrorKind {
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		if dnsErr.IsNotFound {
			return models.ErrPermanent
		}
		if dnsErr.IsTimeout || dnsErr.IsTemporary {
			return models.ErrTransientNetwork
		}
		return models.ErrPermanent
	}

	var certErr *tls.CertificateVerificationError
	var unknownAuthority x509.UnknownAuthorityError
	var hostnameErr x509.HostnameError
	var invalidErr x509.CertificateInvalidError
	if errors.As(err, &certErr) || errors.As(err, &unknownAuthority) ||
		errors.As(err, &hostnameErr) || errors.As(err, &invalidErr) {
		return models.ErrPermanent
	}

	if errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, io.EOF) {
		return models.ErrTransientNetwork
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return models.ErrTransientNetwork
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return models.ErrTransientNetwork
	}

	// http.Client 的超时错误没有包装 net.Error
	if strings.Contains(err.Error(), "Client.Timeout") {
		return models.ErrTransientNetwork
	}
	return models.ErrPermanent
}

// decompressBody 根据Content-Encoding头部解压响应体
// 支持 gzip, deflate, br (Brotli); 已被传输层解压的gzip内容原样返回
func decompressBody(contentEncoding string, body []byte) ([]byte, error) {
	encoding := strings.ToLower(strings.TrimSpace(contentEncoding))

	switch encoding {
	case "gzip", "x-gzip":
		if len(body) < 2 || body[0] != 0x1f || body[1] != 0x8b {
			return body, nil
		}
		reader, err := gzip.NewReader(bytes.NewReader(body))
		if err != nil {
			return nil, fmt.Errorf("gzip解压失败: %w", err)
		}
		defer reader.Close()

		decompressed, err := io.ReadAll(reader)
		if err != nil {
			return nil, fmt.Errorf("gzip读取失败: %w", err)
		}
		return decompressed, nil

	case "deflate":
		reader := flate.NewReader(bytes.NewReader(body))
		defer reader.Close()

		decompressed, err := io.ReadAll(reader)
		if err != nil {
			return nil, fmt.Errorf("deflate读取失败: %w", err)
		}
		return decompressed, nil

	case "br":
		reader := brotli.NewReader(bytes.NewReader(body))
		decompressed, err := io.ReadAll(reader)
		if err != nil {
			return nil, fmt.Errorf("brotli读取失败: %w", err)
		}
		return decompressed, nil

	case "", "identity":
		return body, nil

	default:
		utils.Warnf("未知的Content-Encoding: %s", contentEncoding)
		return body, nil
	}
}
