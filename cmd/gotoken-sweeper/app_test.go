package main

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/alicebob/miniredis/v2"

	goToken "github.com/MrEthical07/goToken"
)

func setKeyEnv(t *testing.T) {
	t.Helper()
	t.Setenv("GOTOKEN_JWT__SIGNING_METHOD", "hs256")
	t.Setenv("GOTOKEN_JWT__PRIVATE_KEY", "access-signing-key-0123456789abcdef")
	t.Setenv("GOTOKEN_JWT__REFRESH_SECRET", "refresh-secret-0123456789abcdefgh")
}

func TestOnceReportsRun(t *testing.T) {
	mr := miniredis.RunT(t)
	setKeyEnv(t)

	var out bytes.Buffer
	app := newApp()
	app.Writer = &out

	if err := app.Run([]string{"gotoken-sweeper", "--redis-addr", mr.Addr(), "--log-level", "error", "once"}); err != nil {
		t.Fatalf("once failed: %v", err)
	}

	var res goToken.CleanupResult
	if err := json.Unmarshal(out.Bytes(), &res); err != nil {
		t.Fatalf("decode output %q: %v", out.String(), err)
	}
	if res.Scanned != 0 || res.Errors != 0 {
		t.Fatalf("expected an empty run, got %+v", res)
	}
}

func TestOnceRejectsInvalidConfig(t *testing.T) {
	mr := miniredis.RunT(t)

	app := newApp()
	app.Writer = &bytes.Buffer{}
	if err := app.Run([]string{"gotoken-sweeper", "--redis-addr", mr.Addr(), "once"}); err == nil {
		t.Fatal("expected missing key material to fail")
	}
}

func TestOnceFailsWithoutRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()
	setKeyEnv(t)

	app := newApp()
	app.Writer = &bytes.Buffer{}
	if err := app.Run([]string{"gotoken-sweeper", "--redis-addr", addr, "once"}); err == nil {
		t.Fatal("expected unreachable redis to fail")
	}
}
