package e2e

import (
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"botconvo/internal/sampler"
)

// findFreePort picks an available TCP port on localhost.
func findFreePort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()
	return ln.Addr().(*net.TCPAddr).Port
}

func projectRoot(t *testing.T) string {
	t.Helper()
	_, thisFile, _, ok := runtime.Caller(0)
	if !ok {
		t.Fatal("runtime.Caller failed")
	}
	// this file: <root>/internal/e2e/process_test.go
	return filepath.Dir(filepath.Dir(filepath.Dir(thisFile)))
}

func buildBinary(t *testing.T) string {
	t.Helper()
	if testing.Short() {
		t.Skip("builds the daemon binary")
	}
	bin := filepath.Join(t.TempDir(), "botd")
	cmd := exec.Command("go", "build", "-o", bin, "./cmd/botd")
	cmd.Dir = projectRoot(t)
	cmd.Env = append(os.Environ(), "CGO_ENABLED=0")
	if out, err := cmd.CombinedOutput(); err != nil {
		t.Fatalf("go build failed: %v\n%s", err, out)
	}
	return bin
}

type daemon struct {
	cmd   *exec.Cmd
	base  string
	admin string
	done  chan error
}

// startDaemon runs botd serve with the openai engine pointed at engineURL.
func startDaemon(t *testing.T, bin, engineURL string, threshold int) *daemon {
	t.Helper()
	port, adminPort := findFreePort(t), findFreePort(t)
	d := &daemon{
		base:  fmt.Sprintf("http://127.0.0.1:%d", port),
		admin: fmt.Sprintf("http://127.0.0.1:%d", adminPort),
		done:  make(chan error, 1),
	}
	d.cmd = exec.Command(bin, "serve",
		"--engine", "openai",
		"--engine-url", engineURL,
		"--admin-addr", fmt.Sprintf("127.0.0.1:%d", adminPort),
		"--recycle-threshold", fmt.Sprint(threshold),
		"--log-format", "json",
		t.TempDir(), t.TempDir(), "run1", fmt.Sprint(port),
	)
	d.cmd.Dir = t.TempDir()
	d.cmd.Stdout = os.Stdout
	d.cmd.Stderr = os.Stderr
	if err := d.cmd.Start(); err != nil {
		t.Fatalf("start daemon: %v", err)
	}
	go func() { d.done <- d.cmd.Wait() }()
	t.Cleanup(func() { _ = d.cmd.Process.Kill() })

	deadline := time.Now().Add(5 * time.Second)
	for {
		resp, err := http.Get(d.admin + "/readyz")
		if err == nil {
			_ = resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				return d
			}
		}
		if time.Now().After(deadline) {
			t.Fatalf("daemon did not become ready in time")
		}
		time.Sleep(50 * time.Millisecond)
	}
}

func TestProcess_ServeAndRecycle(t *testing.T) {
	bin := buildBinary(t)
	backend, _ := fakeCompletionServer(t)
	d := startDaemon(t, bin, backend.URL, 3)

	for n := 1; n <= 4; n++ {
		resp, body := ask(t, d.base, "hi")
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("request %d: %d %s", n, resp.StatusCode, body)
		}
		if !strings.HasPrefix(string(body), sampler.StartOfText+"hi said") {
			t.Fatalf("body=%q", body)
		}
	}
	s := status(t, d.admin)
	if s.RecyclesTotal != 1 || s.ServedCount != 1 || s.RecycleThreshold != 3 {
		t.Fatalf("status=%+v", s)
	}

	req, _ := http.NewRequest(http.MethodPut, d.base+"/", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Fatalf("PUT status=%d", resp.StatusCode)
	}

	_ = d.cmd.Process.Signal(os.Interrupt)
	select {
	case err := <-d.done:
		if err != nil {
			t.Fatalf("expected clean exit on interrupt, got %v", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatalf("daemon did not stop")
	}
}

func TestProcess_FailedRecycleExitsNonZero(t *testing.T) {
	bin := buildBinary(t)
	var probes atomic.Int32
	backend := newFlakyBackend(t, &probes)
	d := startDaemon(t, bin, backend, 2)

	if resp, body := ask(t, d.base, ""); resp.StatusCode != http.StatusOK {
		t.Fatalf("request 1: %d %s", resp.StatusCode, body)
	}
	if resp, _ := ask(t, d.base, ""); resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("request 2: expected 503, got %d", resp.StatusCode)
	}
	select {
	case err := <-d.done:
		var ee *exec.ExitError
		if !errors.As(err, &ee) || ee.ExitCode() != 1 {
			t.Fatalf("expected exit code 1, got %v", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatalf("daemon kept running after a failed recycle")
	}
}

// newFlakyBackend answers the first /v1/models health check and fails every later one.
func newFlakyBackend(t *testing.T, probes *atomic.Int32) string {
	t.Helper()
	ok, _ := fakeCompletionServer(t)
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/models", func(w http.ResponseWriter, r *http.Request) {
		if probes.Add(1) > 1 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		_, _ = w.Write([]byte(`{"data":[]}`))
	})
	mux.HandleFunc("/v1/completions", func(w http.ResponseWriter, r *http.Request) {
		resp, err := http.Post(ok.URL+"/v1/completions", "application/json", r.Body)
		if err != nil {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		defer resp.Body.Close()
		w.WriteHeader(resp.StatusCode)
		_, _ = io.Copy(w, resp.Body)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv.URL
}
