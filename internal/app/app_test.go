package app_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"path/filepath"
	"testing"
	"time"

	"github.com/MrWong99/tilawa/internal/app"
	"github.com/MrWong99/tilawa/internal/config"
	scoremock "github.com/MrWong99/tilawa/pkg/score/mock"
)

func testConfig() *config.Config {
	cfg := &config.Config{}
	cfg.ApplyDefaults()
	cfg.Server.ListenAddr = "127.0.0.1:0"
	return cfg
}

func TestNew_InjectedStore(t *testing.T) {
	t.Parallel()

	store := &scoremock.Store{}
	a, err := app.New(context.Background(), testConfig(), nil, app.WithStore(store))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if a.Store() != store {
		t.Error("Store() is not the injected store")
	}
	if a.Transcriber() != nil {
		t.Error("Transcriber() should be nil when none is configured")
	}

	if err := a.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	if store.Closed() {
		t.Error("injected store was closed")
	}
}

func TestNew_SQLiteStore(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.Store = config.StoreConfig{Driver: config.StoreSQLite, DSN: filepath.Join(t.TempDir(), "tilawa.db")}

	a, err := app.New(context.Background(), cfg, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if a.Store() == nil {
		t.Fatal("Store() = nil")
	}
	if err := a.Store().Ping(context.Background()); err != nil {
		t.Errorf("Ping: %v", err)
	}
	if err := a.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
}

func TestNew_NoStore(t *testing.T) {
	t.Parallel()

	a, err := app.New(context.Background(), testConfig(), nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if a.Store() != nil {
		t.Errorf("Store() = %v, want nil", a.Store())
	}
}

func TestApplyConfig(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	a, err := app.New(context.Background(), cfg, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	next := *cfg
	next.Recitation.SampleRate = 8000
	a.ApplyConfig(config.Diff(cfg, &next))

	s, err := a.Sessions().Start(context.Background(), app.StartOptions{})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer a.Sessions().Stop(s.ID)
	if got := s.Pipe.Format().SampleRate; got != 8000 {
		t.Errorf("new session sample rate = %d, want 8000", got)
	}
}

func TestApp_RunServesUntilCancelled(t *testing.T) {
	t.Parallel()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	a, err := app.New(context.Background(), testConfig(), nil, app.WithListener(ln))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := a.Sessions().Start(context.Background(), app.StartOptions{}); err != nil {
		t.Fatalf("Start: %v", err)
	}

	mux := http.NewServeMux()
	a.Health().Register(mux)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- a.Run(ctx, mux) }()

	url := fmt.Sprintf("http://%s/healthz", ln.Addr())
	var resp *http.Response
	for range 50 {
		resp, err = http.Get(url)
		if err == nil {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}
	if err != nil {
		t.Fatalf("GET /healthz: %v", err)
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d", resp.StatusCode)
	}

	cancel()
	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, context.Canceled) {
			t.Fatalf("Run: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancellation")
	}
	if n := a.Sessions().Len(); n != 0 {
		t.Errorf("sessions after Run = %d, want 0", n)
	}
}
