package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/exec"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"
)

// Minimal stand-in for the inference engine. FAKE_ENGINE_MODE selects:
//   ""         serve /health and the OpenAI-style endpoints until SIGTERM
//   "crash"    write to stderr and exit 3 immediately
//   "silent"   never listen; exit on SIGTERM
//   "stubborn" serve, but ignore SIGTERM
// FAKE_ENGINE_WORKER_PID_FILE starts a long-lived worker child, as the real
// engine does for its GPU processes, and records its pid there.
func main() {
	host, port, model := "127.0.0.1", "0", ""
	args := os.Args[1:]
	for i := 0; i+1 < len(args); i++ {
		switch args[i] {
		case "--host":
			host = args[i+1]
		case "--port":
			port = args[i+1]
		case "--model-path":
			model = args[i+1]
		}
	}
	if f := os.Getenv("FAKE_ENGINE_ARGS_FILE"); f != "" {
		_ = os.WriteFile(f, []byte(strings.Join(args, "\n")), 0o644)
	}

	if f := os.Getenv("FAKE_ENGINE_WORKER_PID_FILE"); f != "" {
		worker := exec.Command("sleep", "300")
		if err := worker.Start(); err != nil {
			fmt.Fprintln(os.Stderr, "worker:", err)
			os.Exit(1)
		}
		_ = os.WriteFile(f, []byte(strconv.Itoa(worker.Process.Pid)), 0o644)
	}

	mode := os.Getenv("FAKE_ENGINE_MODE")
	sigCh := make(chan os.Signal, 1)
	switch mode {
	case "crash":
		fmt.Fprintln(os.Stderr, "RuntimeError: CUDA out of memory")
		os.Exit(3)
	case "stubborn":
		signal.Ignore(syscall.SIGTERM)
	default:
		signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	}
	if mode == "silent" {
		<-sigCh
		return
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/get_model_info", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"model_path":%q,"is_generation":true}`, model)
	})
	mux.HandleFunc("/v1/completions", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"id":"cmpl-1","object":"text_completion","created":%d,"model":%q,"choices":[{"index":0,"text":" Paris.","finish_reason":"stop","logprobs":null}]}`, time.Now().Unix(), model)
	})
	mux.HandleFunc("/v1/chat/completions", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"id":"chat-1","object":"chat.completion","created":%d,"model":%q,"choices":[{"index":0,"message":{"role":"assistant","content":"Paris."},"finish_reason":"stop","logprobs":null}]}`, time.Now().Unix(), model)
	})
	srv := &http.Server{Addr: host + ":" + port, Handler: mux}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			fmt.Fprintln(os.Stderr, "listen:", err)
			os.Exit(1)
		}
	}()
	if mode == "stubborn" {
		select {}
	}
	<-sigCh
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_ = srv.Shutdown(ctx)
}
