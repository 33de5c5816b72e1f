package utils

import (
	"errors"
	"net/http"
	"strings"
	"testing"

	"github.com/RecoveryAshes/sitemirror/internal/models"
)

func TestValidateHeader(t *testing.T) {
	tests := []struct {
		name    string
		header  string
		value   string
		wantErr bool
	}{
		{"合法头部", "X-Custom-Header", "value", false},
		{"合法User-Agent", "User-Agent", "Mozilla/5.0 (X11)", false},
		{"空名称", "", "value", true},
		{"禁止的Host", "Host", "example.com", true},
		{"禁止的头部不区分大小写", "content-length", "10", true},
		{"名称含空格", "X Bad", "value", true},
		{"值含换行", "X-Test", "a\nb", true},
		{"值含非ASCII", "X-Test", "中文", true},
		{"值过长", "X-Test", strings.Repeat("a", MaxHeaderValueLength+1), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateHeader(tt.header, tt.value)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ValidateHeader() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil {
				var ce *models.ConfigError
				if !errors.As(err, &ce) {
					t.Errorf("ValidateHeader() 错误类型 = %T, want *models.ConfigError", err)
				}
			}
		})
	}
}

func TestValidateHeaders(t *testing.T) {
	ok := http.Header{}
	ok.Set("Accept", "*/*")
	ok.Set("Authorization", "Bearer abc")
	if err := ValidateHeaders(ok); err != nil {
		t.Errorf("ValidateHeaders() = %v, want nil", err)
	}

	bad := ok.Clone()
	bad.Set("Connection", "close")
	if err := ValidateHeaders(bad); err == nil {
		t.Error("ValidateHeaders() 应拒绝Connection头部")
	}
}

func TestRedactHeaders(t *testing.T) {
	headers := http.Header{}
	headers.Set("Authorization", "Bearer secret-token")
	headers.Set("X-Api-Key", "abcd1234efgh5678")
	headers.Set("Cookie", "sid=1")
	headers.Set("Accept", "text/html")

	got := RedactHeaders(headers)

	want := map[string]string{
		"Authorization": "Bearer ***",
		"X-Api-Key":     "abcd***5678",
		"Cookie":        "***",
		"Accept":        "text/html",
	}
	for name, value := range want {
		if got[name] != value {
			t.Errorf("RedactHeaders()[%s] = %q, want %q", name, got[name], value)
		}
	}
}
