package main_test

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/prometheus/procfs"
)

var (
	buildOnce sync.Once
	buildDir  string
	buildErr  error
)

// binaries builds servectl and the fake engine once per test binary.
func binaries(t *testing.T) (servectl, engine string) {
	t.Helper()
	if testing.Short() {
		t.Skip("short mode: skips blackbox tests")
	}
	buildOnce.Do(func() {
		buildDir, buildErr = os.MkdirTemp("", "servectl-blackbox")
		if buildErr != nil {
			return
		}
		for _, b := range [][2]string{
			{"servectl", "."},
			{"fake_engine", "../../internal/supervisor/testdata/fake_engine.go"},
		} {
			cmd := exec.Command("go", "build", "-o", filepath.Join(buildDir, b[0]), b[1])
			cmd.Env = append(os.Environ(), "CGO_ENABLED=0")
			if out, err := cmd.CombinedOutput(); err != nil {
				buildErr = fmt.Errorf("go build %s: %v\n%s", b[1], err, out)
				return
			}
		}
	})
	if buildErr != nil { t.Fatalf("%v", buildErr) }
	return filepath.Join(buildDir, "servectl"), filepath.Join(buildDir, "fake_engine")
}

func TestMain(m *testing.M) {
	code := m.Run()
	if buildDir != "" {
		_ = os.RemoveAll(buildDir)
	}
	os.Exit(code)
}

func findFreePort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil { t.Fatalf("listen: %v", err) }
	defer ln.Close()
	return ln.Addr().(*net.TCPAddr).Port
}

// writeConfig points the engine command and process signature at the fake engine.
func writeConfig(t *testing.T, engine string, port int) string {
	t.Helper()
	dir := t.TempDir()
	cfg := fmt.Sprintf(`host: 127.0.0.1
port: %d
command: [%q]
signature: %q
settle_ms: 0
min_free_mib: 0
poll_interval_ms: 50
ready_timeout_s: 20
stop_grace_s: 2
server_log: %q
log_level: debug
`, port, engine, engine, filepath.Join(dir, "server.log"))
	p := filepath.Join(dir, "servectl.yaml")
	if err := os.WriteFile(p, []byte(cfg), 0o644); err != nil { t.Fatalf("write config: %v", err) }
	return p
}

// run executes servectl to completion and returns its exit code and output.
func run(t *testing.T, bin string, args ...string) (int, string, string) {
	t.Helper()
	var stdout, stderr strings.Builder
	cmd := exec.Command(bin, args...)
	cmd.Stdout, cmd.Stderr = &stdout, &stderr
	cmd.Env = append(os.Environ(), "SERVECTL_PORT=", "SERVECTL_HOST=", "SERVECTL_PROFILES=")
	err := cmd.Run()
	var ee *exec.ExitError
	switch {
	case err == nil:
		return 0, stdout.String(), stderr.String()
	case errors.As(err, &ee):
		return ee.ExitCode(), stdout.String(), stderr.String()
	default:
		t.Fatalf("run servectl: %v", err)
		return -1, "", ""
	}
}

func get(url string) (int, []byte, error) {
	resp, err := http.Get(url)
	if err != nil { return 0, nil, err }
	defer resp.Body.Close()
	b, _ := io.ReadAll(resp.Body)
	return resp.StatusCode, b, nil
}

func waitStatus(t *testing.T, url string, want int) []byte {
	t.Helper()
	deadline := time.Now().Add(20 * time.Second)
	for {
		code, body, err := get(url)
		if err == nil && code == want { return body }
		if time.Now().After(deadline) { t.Fatalf("%s never returned %d (last %d, %v)", url, want, code, err) }
		time.Sleep(50 * time.Millisecond)
	}
}

func waitClosed(t *testing.T, port int) {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	for {
		c, err := net.DialTimeout("tcp", fmt.Sprintf("127.0.0.1:%d", port), 200*time.Millisecond)
		if err != nil { return }
		_ = c.Close()
		if time.Now().After(deadline) { t.Fatalf("port %d still accepting connections", port) }
		time.Sleep(50 * time.Millisecond)
	}
}

func TestBlackbox_Profiles(t *testing.T) {
	bin, _ := binaries(t)
	code, out, errOut := run(t, bin, "profiles")
	if code != 0 { t.Fatalf("exit %d: %s", code, errOut) }
	for _, k := range []string{"llama", "qwen", "mistral", "deepseek"} {
		if !strings.Contains(out, k) { t.Fatalf("profiles output missing %q:\n%s", k, out) }
	}
}

func TestBlackbox_UsageErrors(t *testing.T) {
	bin, _ := binaries(t)
	if code, _, errOut := run(t, bin, "launch", "nope"); code != 2 { t.Fatalf("unknown key exit=%d %s", code, errOut) }
	// stdin is /dev/null, not a terminal
	if code, _, errOut := run(t, bin, "launch"); code != 2 { t.Fatalf("no key exit=%d %s", code, errOut) }
	if code, _, _ := run(t, bin, "launch", "--port", "0", "--dry-run", "llama"); code != 2 { t.Fatalf("bad port exit=%d", code) }
}

func TestBlackbox_DryRun(t *testing.T) {
	bin, _ := binaries(t)
	code, out, errOut := run(t, bin, "launch", "--dry-run", "--port", "31337", "deepseek")
	if code != 0 { t.Fatalf("exit %d: %s", code, errOut) }
	if !strings.Contains(out, "--port 31337") { t.Fatalf("dry run: %s", out) }
	if !strings.HasSuffix(strings.TrimSpace(out), "--reasoning-parser deepseek-r1") { t.Fatalf("extras not last: %s", out) }
}

func TestBlackbox_ForegroundInterrupt(t *testing.T) {
	bin, engine := binaries(t)
	port, statusPort := findFreePort(t), findFreePort(t)
	cfg := writeConfig(t, engine, port)
	statusBase := fmt.Sprintf("http://127.0.0.1:%d", statusPort)

	cmd := exec.Command(bin, "launch", "--config", cfg, "--status-addr", fmt.Sprintf("127.0.0.1:%d", statusPort), "qwen")
	cmd.Stdout, cmd.Stderr = os.Stdout, os.Stderr
	if err := cmd.Start(); err != nil { t.Fatalf("start servectl: %v", err) }
	t.Cleanup(func() { _ = cmd.Process.Kill() })

	waitStatus(t, statusBase+"/readyz", http.StatusOK)
	code, body, err := get(statusBase + "/status")
	if err != nil || code != http.StatusOK { t.Fatalf("/status %d %v", code, err) }
	var st struct {
		State   string `json:"state"`
		Profile string `json:"profile"`
		Port    int    `json:"port"`
	}
	if err := json.Unmarshal(body, &st); err != nil { t.Fatalf("/status json: %v body=%s", err, body) }
	if st.State != "running" || st.Profile != "qwen" || st.Port != port { t.Fatalf("/status %+v", st) }
	waitStatus(t, fmt.Sprintf("http://127.0.0.1:%d/health", port), http.StatusOK)

	if err := cmd.Process.Signal(syscall.SIGINT); err != nil { t.Fatalf("signal: %v", err) }
	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()
	select {
	case err := <-done:
		if err != nil { t.Fatalf("servectl exit after interrupt: %v", err) }
	case <-time.After(15 * time.Second):
		t.Fatalf("servectl did not exit after interrupt")
	}
	waitClosed(t, port)
}

// gone treats a zombie as exited; nothing may reap it inside a container.
func gone(pid int) bool {
	p, err := procfs.NewProc(pid)
	if err != nil { return true }
	st, err := p.Stat()
	return err != nil || st.State == "Z"
}

func TestBlackbox_InterruptTakesEngineWorkers(t *testing.T) {
	bin, engine := binaries(t)
	port := findFreePort(t)
	cfg := writeConfig(t, engine, port)
	pidFile := filepath.Join(t.TempDir(), "worker.pid")

	cmd := exec.Command(bin, "launch", "--config", cfg, "llama")
	cmd.Stdout, cmd.Stderr = os.Stdout, os.Stderr
	cmd.Env = append(os.Environ(), "FAKE_ENGINE_WORKER_PID_FILE="+pidFile)
	if err := cmd.Start(); err != nil { t.Fatalf("start servectl: %v", err) }
	t.Cleanup(func() { _ = cmd.Process.Kill() })
	waitStatus(t, fmt.Sprintf("http://127.0.0.1:%d/health", port), http.StatusOK)

	b, err := os.ReadFile(pidFile)
	if err != nil { t.Fatalf("worker pid: %v", err) }
	worker, err := strconv.Atoi(strings.TrimSpace(string(b)))
	if err != nil { t.Fatalf("worker pid %q: %v", b, err) }
	t.Cleanup(func() { _ = syscall.Kill(worker, syscall.SIGKILL) })

	if err := cmd.Process.Signal(syscall.SIGINT); err != nil { t.Fatalf("signal: %v", err) }
	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()
	select {
	case err := <-done:
		if err != nil { t.Fatalf("servectl exit after interrupt: %v", err) }
	case <-time.After(15 * time.Second):
		t.Fatalf("servectl did not exit after interrupt")
	}
	deadline := time.Now().Add(5 * time.Second)
	for !gone(worker) {
		if time.Now().After(deadline) { t.Fatalf("engine worker %d outlived the interrupt", worker) }
		time.Sleep(50 * time.Millisecond)
	}
}

func TestBlackbox_DetachThenStop(t *testing.T) {
	bin, engine := binaries(t)
	port := findFreePort(t)
	cfg := writeConfig(t, engine, port)

	code, out, errOut := run(t, bin, "launch", "--config", cfg, "--detach", "--smoke", "mistral")
	if code != 0 { t.Fatalf("detach exit %d\nstdout=%s\nstderr=%s", code, out, errOut) }
	t.Cleanup(func() { run(t, bin, "stop", "--config", cfg) })
	if !strings.Contains(out, "running on port") { t.Fatalf("launch output: %s", out) }
	waitStatus(t, fmt.Sprintf("http://127.0.0.1:%d/health", port), http.StatusOK)

	if code, out, errOut := run(t, bin, "smoke", "--config", cfg); code != 0 { t.Fatalf("smoke exit %d: %s %s", code, out, errOut) }

	code, out, errOut = run(t, bin, "stop", "--config", cfg)
	if code != 0 { t.Fatalf("stop exit %d: %s", code, errOut) }
	if !strings.Contains(out, "terminated") { t.Fatalf("stop output: %s", out) }
	waitClosed(t, port)

	if code, _, _ := run(t, bin, "smoke", "--config", cfg); code != 1 { t.Fatalf("smoke against stopped engine exit=%d", code) }
}
