// Command fake_llama_server imitates the subset of llama-server used by the
// spawn engine tests.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync/atomic"
	"syscall"
	"time"
)

func main() {
	var (
		model     string
		host      string
		port      string
		ctxSize   int
		threads   int
		exitEarly bool
	)
	flag.StringVar(&model, "m", "", "model path")
	flag.StringVar(&host, "host", "127.0.0.1", "host")
	flag.StringVar(&port, "port", "0", "port")
	flag.IntVar(&ctxSize, "c", 0, "context size")
	flag.IntVar(&threads, "t", 0, "threads")
	flag.BoolVar(&exitEarly, "exit-early", false, "fail before listening")
	flag.Parse()

	if exitEarly {
		fmt.Fprintln(os.Stderr, "error: failed to load model")
		os.Exit(1)
	}
	if _, err := os.Stat(model); err != nil {
		fmt.Fprintf(os.Stderr, "error: model %q: %v\n", model, err)
		os.Exit(1)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/v1/models", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"data":[{"id":"test","object":"model"}]}`))
	})
	var calls atomic.Int64
	mux.HandleFunc("/v1/completions", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Prompt string `json:"prompt"`
			N      *int   `json:"n"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		if req.N != nil && *req.N != 1 {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"error":{"code":400,"message":"Only one completion choice is allowed","type":"invalid_request_error"}}`))
			return
		}
		type choice struct {
			Index int    `json:"index"`
			Text  string `json:"text"`
		}
		var out struct {
			Choices []choice `json:"choices"`
		}
		n := int(calls.Add(1) - 1)
		out.Choices = append(out.Choices, choice{Index: 0, Text: fmt.Sprintf(" pid%d%s", os.Getpid(), strings.Repeat("~", n))})
		_ = json.NewEncoder(w).Encode(out)
	})

	srv := &http.Server{Addr: net.JoinHostPort(host, port), Handler: mux}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	<-sigCh
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_ = srv.Shutdown(ctx)
}
