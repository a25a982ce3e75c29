package price

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/marko911/presale-pulse/internal/config"
)

func newTestFeed(url string) *Feed {
	return NewFeed(config.PriceConfig{
		URL:             url,
		Fallback:        2500,
		RefreshInterval: time.Minute,
	}, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestFeed_FallbackBeforeRefresh(t *testing.T) {
	f := newTestFeed("http://127.0.0.1:0")
	if got := f.ETHPrice(); got != 2500 {
		t.Errorf("expected fallback 2500, got %v", got)
	}
}

func TestFeed_Refresh(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"ethereum":{"usd":3412.55}}`))
	}))
	defer srv.Close()

	f := newTestFeed(srv.URL)
	if err := f.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}
	if got := f.ETHPrice(); got != 3412.55 {
		t.Errorf("expected 3412.55, got %v", got)
	}
}

func TestFeed_RefreshFailureKeepsPrice(t *testing.T) {
	var status atomic.Int32
	status.Store(http.StatusOK)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(int(status.Load()))
		_, _ = w.Write([]byte(`{"ethereum":{"usd":3000}}`))
	}))
	defer srv.Close()

	f := newTestFeed(srv.URL)
	if err := f.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}

	status.Store(http.StatusTooManyRequests)
	if err := f.Refresh(context.Background()); err == nil {
		t.Error("expected error on 429")
	}
	if got := f.ETHPrice(); got != 3000 {
		t.Errorf("expected last good price 3000, got %v", got)
	}
}

func TestParsePrice(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		want    float64
		wantErr error
	}{
		{"valid", `{"ethereum":{"usd":2890.1}}`, 2890.1, nil},
		{"integer", `{"ethereum":{"usd":3000}}`, 3000, nil},
		{"missing", `{"bitcoin":{"usd":60000}}`, 0, ErrNoPrice},
		{"string", `{"ethereum":{"usd":"3000"}}`, 0, ErrNoPrice},
		{"zero", `{"ethereum":{"usd":0}}`, 0, ErrNoPrice},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parsePrice([]byte(tt.body))
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("parsePrice() error = %v, want %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("parsePrice() = %v, want %v", got, tt.want)
			}
		})
	}

	if _, err := parsePrice([]byte(`{not json`)); err == nil {
		t.Error("expected error on invalid json")
	}
}

func TestNewSource(t *testing.T) {
	cfg := config.PriceConfig{Enabled: false, URL: "http://127.0.0.1:0", Fallback: 1900}

	src, run := NewSource(cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if _, ok := src.(Static); !ok {
		t.Fatalf("expected Static source when disabled, got %T", src)
	}
	if src.ETHPrice() != 1900 {
		t.Errorf("expected fallback 1900, got %v", src.ETHPrice())
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := run(ctx); err != nil {
		t.Errorf("run() error = %v", err)
	}

	cfg.Enabled = true
	src, _ = NewSource(cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if _, ok := src.(*Feed); !ok {
		t.Errorf("expected *Feed when enabled, got %T", src)
	}
}

func TestStatic(t *testing.T) {
	var s Source = Static(1800)
	if s.ETHPrice() != 1800 {
		t.Errorf("expected 1800, got %v", s.ETHPrice())
	}
}
