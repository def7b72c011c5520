package types

import (
	"errors"
	"fmt"
	"testing"
	"time"
)

func TestCanonicalizeURL(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"https://Hotline.UA/bt-vyazalnye-mashiny/silver-reed-sk840srp60n/", "https://hotline.ua/bt-vyazalnye-mashiny/silver-reed-sk840srp60n"},
		{"https://hotline.ua:443/x#offers", "https://hotline.ua/x"},
		{"http://hotline.ua:80/x?b=2&a=1", "http://hotline.ua/x?a=1&b=2"},
		{"https://hotline.ua", "https://hotline.ua/"},
		{"https://hotline.ua/x?tab=b&tab=a&q=silver+reed", "https://hotline.ua/x?q=silver+reed&tab=a&tab=b"},
	}

	for _, tt := range tests {
		if got := CanonicalizeURL(tt.input); got != tt.expected {
			t.Errorf("CanonicalizeURL(%q) = %q, want %q", tt.input, got, tt.expected)
		}
	}
}

func TestResolveURL(t *testing.T) {
	if got := ResolveURL("https://hotline.ua", "/go/price/123/"); got != "https://hotline.ua/go/price/123/" {
		t.Errorf("relative link not resolved: %q", got)
	}
	if got := ResolveURL("https://hotline.ua", "https://shop.example/p/1"); got != "https://shop.example/p/1" {
		t.Errorf("absolute link changed: %q", got)
	}
}

func TestDomain(t *testing.T) {
	if got := Domain("https://www.pravda.com.ua/news/"); got != "pravda.com.ua" {
		t.Errorf("expected pravda.com.ua, got %q", got)
	}
	if got := Domain("https://EPRAVDA.com.ua/news/"); got != "epravda.com.ua" {
		t.Errorf("expected epravda.com.ua, got %q", got)
	}
}

func TestTimeoutErrorIs(t *testing.T) {
	err := fmt.Errorf("acquire: %w", &TimeoutError{URL: "https://hotline.ua", Timeout: time.Second, Err: errors.New("deadline")})
	if !IsTimeout(err) {
		t.Fatal("wrapped TimeoutError should match ErrTimeout")
	}

	var te *TimeoutError
	if !errors.As(err, &te) || te.Timeout != time.Second {
		t.Errorf("errors.As failed to recover TimeoutError: %v", err)
	}

	if IsTimeout(&FetchError{URL: "x", Err: errors.New("boom")}) {
		t.Error("FetchError must not be reported as timeout")
	}
}

func TestParsingErrorUnwrap(t *testing.T) {
	err := &ParsingError{URL: "https://unknown.example", Err: ErrUnsupportedSource}
	if !errors.Is(err, ErrUnsupportedSource) {
		t.Error("ParsingError should unwrap to ErrUnsupportedSource")
	}
}
