package main

import "testing"

func TestValidateFlags(t *testing.T) {
	tests := []struct {
		name       string
		targetURL  string
		urlFile    string
		batchDelay int
		wantErr    bool
	}{
		{"单个URL", "https://example.com", "", 1, false},
		{"省略协议", "example.com/docs", "", 0, false},
		{"URL文件", "", "urls.txt", 1, false},
		{"同时指定", "https://example.com", "urls.txt", 1, true},
		{"不支持的协议", "ftp://example.com", "", 1, true},
		{"负的批量延迟", "", "urls.txt", -1, true},
		{"空白文件路径", "", "   ", 1, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateFlags(tt.targetURL, tt.urlFile, tt.batchDelay)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateFlags() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestNormalizeURL(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"example.com", "https://example.com"},
		{"  http://example.com/a  ", "http://example.com/a"},
		{"https://example.com/?q=1", "https://example.com/?q=1"},
	}

	for _, tt := range tests {
		got, err := NormalizeURL(tt.in)
		if err != nil {
			t.Fatalf("NormalizeURL(%q) error = %v", tt.in, err)
		}
		if got != tt.want {
			t.Errorf("NormalizeURL(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
