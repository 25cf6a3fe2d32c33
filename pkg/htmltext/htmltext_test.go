package htmltext

import (
	"strings"
	"testing"
)

func TestText(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"plain", "  国土交通省の   道路データ ", "国土交通省の 道路データ"},
		{"inline markup", "<p>東京<b>都</b>の道路</p>", "東京都の道路"},
		{"list", "<ul><li>橋梁</li><li>トンネル</li></ul>", "- 橋梁\n- トンネル"},
		{"entities", "A &amp; B", "A & B"},
		{"line breaks", "一行目<br>二行目", "一行目\n二行目"},
		{"link", `詳細は<a href="https://www.mlit-data.jp/">こちら</a>`, "詳細はこちら (https://www.mlit-data.jp/)"},
		{"self link", `<a href="https://example.jp">https://example.jp</a>`, "https://example.jp"},
		{"empty", "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Text(tt.in); got != tt.want {
				t.Errorf("Text(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestText_RemovesScripts(t *testing.T) {
	got := Text(`<div><script>alert('xss')</script><p>Content</p><style>.foo{}</style></div>`)
	if strings.Contains(got, "alert") || strings.Contains(got, ".foo") {
		t.Errorf("expected script and style content to be removed, got: %s", got)
	}
	if got != "Content" {
		t.Errorf("expected 'Content', got: %q", got)
	}
}
