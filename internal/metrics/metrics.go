package metrics

import (
	"encoding/json"
	"log"
	"net"
	"net/http"
	"sync/atomic"
	"time"
)

type Snapshot struct {
	FilesScanned        int64 `json:"files_scanned"`
	FilesSkipped        int64 `json:"files_skipped"`
	NotThisFormat       int64 `json:"not_this_format"`
	InconsistentHeaders int64 `json:"inconsistent_headers"`
	Decoded             int64 `json:"decoded"`
	ReadErrors          int64 `json:"read_errors"`
	SinkErrors          int64 `json:"sink_errors"`
	BytesScanned        int64 `json:"bytes_scanned"`
	PayloadBytes        int64 `json:"payload_bytes"`
	StoredBytes         int64 `json:"stored_bytes"`
	LastDecodeUnix      int64 `json:"last_decode_unix"`
	UpdatedUnix         int64 `json:"updated_unix"`
}

var (
	filesScanned   atomic.Int64
	filesSkipped   atomic.Int64
	notThisFormat  atomic.Int64
	inconsistent   atomic.Int64
	decoded        atomic.Int64
	readErrors     atomic.Int64
	sinkErrors     atomic.Int64
	bytesScanned   atomic.Int64
	payloadBytes   atomic.Int64
	storedBytes    atomic.Int64
	lastDecodeUnix atomic.Int64
)

func IncSkipped() { filesSkipped.Add(1) }

func IncReadErrors() { readErrors.Add(1) }

func IncSinkErrors() { sinkErrors.Add(1) }

func IncNotThisFormat() { notThisFormat.Add(1) }

func IncInconsistent() { inconsistent.Add(1) }

// AddScanned records one file handed to the decoder.
func AddScanned(n int64) {
	filesScanned.Add(1)
	if n > 0 {
		bytesScanned.Add(n)
	}
}

// AddDecoded records a recovered payload and what it cost on disk.
func AddDecoded(payload, stored int64) {
	decoded.Add(1)
	if payload > 0 {
		payloadBytes.Add(payload)
	}
	if stored > 0 {
		storedBytes.Add(stored)
	}
	lastDecodeUnix.Store(time.Now().Unix())
}

func SnapshotData() Snapshot {
	return Snapshot{
		FilesScanned:        filesScanned.Load(),
		FilesSkipped:        filesSkipped.Load(),
		NotThisFormat:       notThisFormat.Load(),
		InconsistentHeaders: inconsistent.Load(),
		Decoded:             decoded.Load(),
		ReadErrors:          readErrors.Load(),
		SinkErrors:          sinkErrors.Load(),
		BytesScanned:        bytesScanned.Load(),
		PayloadBytes:        payloadBytes.Load(),
		StoredBytes:         storedBytes.Load(),
		LastDecodeUnix:      lastDecodeUnix.Load(),
		UpdatedUnix:         time.Now().Unix(),
	}
}

// Handler builds the metrics mux. A non-empty authToken is required as a
// bearer token on every endpoint. A nil health handler makes /healthz a
// plain liveness probe.
func Handler(authToken string, health http.Handler) http.Handler {
	mux := http.NewServeMux()
	auth := func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if authToken != "" && r.Header.Get("Authorization") != "Bearer "+authToken {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
		})
	}

	mux.Handle("/metrics", auth(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		_ = json.NewEncoder(w).Encode(SnapshotData())
	})))

	mux.Handle("/metrics/prom", auth(PromHandler()))

	if health == nil {
		health = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("ok\n"))
		})
	}
	mux.Handle("/healthz", auth(health))

	return mux
}

// Start serves metrics on addr in the background. It refuses to expose an
// unauthenticated endpoint on anything but loopback.
func Start(addr string, authToken string, health http.Handler) *http.Server {
	if addr == "" {
		return nil
	}
	if !isLoopback(addr) && authToken == "" {
		log.Printf("metrics not started: refusing to expose unauthenticated endpoint on %s", addr)
		return nil
	}
	srv := &http.Server{
		Addr:              addr,
		Handler:           Handler(authToken, health),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("metrics server on %s stopped: %v", addr, err)
		}
	}()
	return srv
}

func isLoopback(addr string) bool {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return false
	}
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
