package contract

import (
	"errors"
	"net"
	"testing"
)

// TestStatusError 覆盖状态码到分类错误的映射。
func TestStatusError(t *testing.T) {
	cases := []struct {
		status int
		want   error
	}{
		{401, ErrBackendAuth},
		{403, ErrBackendAuth},
		{429, ErrRateLimited},
		{500, ErrBackendUnavailable},
		{503, ErrBackendUnavailable},
		{408, ErrBackendUnavailable},
		{400, ErrInvalidInput},
	}
	for _, c := range cases {
		err := StatusError("p", c.status, "m")
		if !errors.Is(err, c.want) {
			t.Fatalf("status %d: want %v got %v", c.status, c.want, err)
		}
	}
	if StatusError("p", 200, "") != nil {
		t.Fatalf("2xx 应返回 nil")
	}
}

// TestHTTPErrorIsNetError 5xx 需可被识别为 net.Error 与 UpstreamError。
func TestHTTPErrorIsNetError(t *testing.T) {
	err := StatusError("p", 502, "bad gateway")
	var ne net.Error
	if !errors.As(err, &ne) {
		t.Fatalf("应实现 net.Error")
	}
	var ue UpstreamError
	if !errors.As(err, &ue) || ue.UpstreamStatus() != 502 || ue.UpstreamMessage() != "bad gateway" {
		t.Fatalf("UpstreamError 字段错误: %v", err)
	}
}

func TestChatPromptFlatten(t *testing.T) {
	p := ChatPrompt{{Role: "system", Content: "a"}, {Role: "user", Content: "b"}}
	if got := p.Flatten(); got != "system: a\n\nuser: b" {
		t.Fatalf("unexpected %q", got)
	}
}

func TestUnavailable(t *testing.T) {
	in := Unavailable(ReasonAuth, "x", 1)
	if in.Available() || in.Reason != ReasonAuth || in.Attempts != 1 {
		t.Fatalf("unexpected %+v", in)
	}
}
