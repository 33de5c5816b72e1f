package models

import (
	"errors"
	"fmt"
	"testing"
	"time"
)

func TestValidateURL(t *testing.T) {
	tests := []struct {
		name    string
		url     string
		wantErr bool
	}{
		{"有效的HTTP URL", "http://example.com", false},
		{"有效的HTTPS URL", "https://example.com", false},
		{"带路径的URL", "https://example.com/path/to/resource", false},
		{"无效的协议", "ftp://example.com", true},
		{"无效的URL", "not a url", true},
		{"空URL", "", true},
		{"无协议", "example.com", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateURL(tt.url)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateURL() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestCrawlConfig_Validate(t *testing.T) {
	tests := []struct {
		name      string
		mutate    func(c *CrawlConfig)
		wantField string
	}{
		{"默认配置有效", func(c *CrawlConfig) {}, ""},
		{"深度为0有效", func(c *CrawlConfig) { c.MaxDepth = 0 }, ""},
		{"间隔为0有效", func(c *CrawlConfig) { c.Delay = 0 }, ""},
		{"负数间隔", func(c *CrawlConfig) { c.Delay = -1 }, "delay"},
		{"负数深度", func(c *CrawlConfig) { c.MaxDepth = -1 }, "max_depth"},
		{"并发数为0", func(c *CrawlConfig) { c.MaxWorkers = 0 }, "max_workers"},
		{"并发数过大", func(c *CrawlConfig) { c.MaxWorkers = 101 }, "max_workers"},
		{"User-Agent包含换行", func(c *CrawlConfig) { c.UserAgent = "a\nb" }, "user_agent"},
		{"超时为0", func(c *CrawlConfig) { c.Timeout = 0 }, "timeout"},
		{"超时被当作纳秒", func(c *CrawlConfig) { c.Timeout = 30 }, "timeout"},
		{"退避基础时长被当作纳秒", func(c *CrawlConfig) { c.RetryBaseDelay = 1 }, "retry_base_delay"},
		{"退避基础时长为0有效", func(c *CrawlConfig) { c.RetryBaseDelay = 0 }, ""},
		{"重试次数为负", func(c *CrawlConfig) { c.MaxRetries = -1 }, "max_retries"},
		{"退避上限小于基础时长", func(c *CrawlConfig) { c.RetryMaxDelay = time.Millisecond }, "retry_max_delay"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultCrawlConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()

			if tt.wantField == "" {
				if err != nil {
					t.Errorf("Validate() error = %v, want nil", err)
				}
				return
			}

			var ce *ConfigError
			if !errors.As(err, &ce) {
				t.Fatalf("Validate() error = %v, want *ConfigError", err)
			}
			if ce.Field != tt.wantField {
				t.Errorf("ConfigError.Field = %s, want %s", ce.Field, tt.wantField)
			}
		})
	}
}

func TestCrawlConfig_PacingInterval(t *testing.T) {
	cfg := DefaultCrawlConfig()
	cfg.Delay = 0.25
	if got := cfg.PacingInterval(); got != 250*time.Millisecond {
		t.Errorf("PacingInterval() = %v, want 250ms", got)
	}
}

func TestFetchError(t *testing.T) {
	cause := fmt.Errorf("连接被重置")
	err := fmt.Errorf("包装: %w", &FetchError{URL: "http://example.com/", Kind: ErrTransientNetwork, Cause: cause})

	var fe *FetchError
	if !errors.As(err, &fe) {
		t.Fatal("errors.As 应该能提取 FetchError")
	}
	if !fe.Retryable() {
		t.Error("临时网络错误应该可以重试")
	}
	if !errors.Is(err, cause) {
		t.Error("errors.Is 应该能找到底层错误")
	}
	if KindOf(err) != ErrTransientNetwork {
		t.Errorf("KindOf() = %s, want %s", KindOf(err), ErrTransientNetwork)
	}
	if KindOf(errors.New("其他")) != ErrPermanent {
		t.Error("未知错误应视为永久错误")
	}
	if KindOf(NewConfigError("delay", cause)) != ErrConfig {
		t.Error("ConfigError 应归类为配置错误")
	}

	perm := &FetchError{URL: "http://example.com/x", Kind: ErrPermanent, StatusCode: 404, Cause: errors.New("Not Found")}
	if perm.Retryable() {
		t.Error("永久错误不应重试")
	}
}

func TestCliHeaders_Parse(t *testing.T) {
	tests := []struct {
		name    string
		input   CliHeaders
		want    map[string]string
		wantErr bool
	}{
		{"单个头部", CliHeaders{"X-Test: 1"}, map[string]string{"X-Test": "1"}, false},
		{"值中包含冒号", CliHeaders{"Referer: http://a.com"}, map[string]string{"Referer": "http://a.com"}, false},
		{"缺少冒号", CliHeaders{"invalid"}, nil, true},
		{"名称为空", CliHeaders{": v"}, nil, true},
		{"名称包含空格", CliHeaders{"X Bad: v"}, nil, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.input.Parse()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Parse() error = %v, wantErr %v", err, tt.wantErr)
			}
			for k, v := range tt.want {
				if got.Get(k) != v {
					t.Errorf("Parse()[%s] = %s, want %s", k, got.Get(k), v)
				}
			}
		})
	}
}

func TestCrawlReport_JSON(t *testing.T) {
	report := CrawlReport{
		RunID:   NewRunID(),
		BaseURL: "http://example.com/",
		Stats:   NewRunStatistics(),
		Failures: []FailureRecord{
			{URL: "http://example.com/404", Kind: ErrPermanent, StatusCode: 404, Attempts: 1},
		},
	}
	report.Stats.ByKind[KindHTML] = 2

	data, err := report.ToJSON()
	if err != nil {
		t.Fatalf("ToJSON() error = %v", err)
	}

	var decoded CrawlReport
	if err := decoded.FromJSON(data); err != nil {
		t.Fatalf("FromJSON() error = %v", err)
	}
	if decoded.Failures[0].Kind != ErrPermanent {
		t.Errorf("Failures[0].Kind = %s, want %s", decoded.Failures[0].Kind, ErrPermanent)
	}
	if decoded.Stats.ByKind[KindHTML] != 2 {
		t.Errorf("Stats.ByKind[html] = %d, want 2", decoded.Stats.ByKind[KindHTML])
	}
}

func TestEntryState_String(t *testing.T) {
	if StatePending.String() != "pending" || StateFetching.String() != "fetching" || StateDone.String() != "done" {
		t.Error("状态名称不正确")
	}
}
