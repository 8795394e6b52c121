package sources

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/tidwall/gjson"
)

const (
	// maxResponseBytes caps how much of a collaborator body is read.
	maxResponseBytes = 8 << 20

	// Source names used in errors, logs and metrics.
	SourceTools   = "tools"
	SourceRAG     = "rag"
	SourceHistory = "history"
)

// PoolConfig bounds the connection pool of one per-service HTTP client.
type PoolConfig struct {
	// Size is the maximum number of connections per host.
	Size int
	// ConnectTimeout bounds TCP connection establishment.
	ConnectTimeout time.Duration
	// ReadTimeout bounds the wait for response headers.
	ReadTimeout time.Duration
	// KeepaliveExpiry is how long an idle connection is kept.
	KeepaliveExpiry time.Duration
}

// DefaultPoolConfig returns the pool settings used when none are given.
func DefaultPoolConfig() PoolConfig {
	return PoolConfig{
		Size:            20,
		ConnectTimeout:  2 * time.Second,
		ReadTimeout:     3 * time.Second,
		KeepaliveExpiry: 30 * time.Second,
	}
}

// NewHTTPClient returns a client with its own bounded transport. Each
// external service gets a separate client so a slow collaborator cannot
// exhaust connections for the others.
//
// The client sets no overall timeout; callers bound each request with a
// context deadline.
func NewHTTPClient(cfg PoolConfig) *http.Client {
	def := DefaultPoolConfig()
	if cfg.Size <= 0 {
		cfg.Size = def.Size
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = def.ConnectTimeout
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = def.ReadTimeout
	}
	if cfg.KeepaliveExpiry <= 0 {
		cfg.KeepaliveExpiry = def.KeepaliveExpiry
	}

	dialer := &net.Dialer{
		Timeout:   cfg.ConnectTimeout,
		KeepAlive: 30 * time.Second,
	}
	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           dialer.DialContext,
		MaxIdleConns:          cfg.Size,
		MaxIdleConnsPerHost:   cfg.Size,
		MaxConnsPerHost:       cfg.Size,
		IdleConnTimeout:       cfg.KeepaliveExpiry,
		ResponseHeaderTimeout: cfg.ReadTimeout,
		TLSHandshakeTimeout:   cfg.ConnectTimeout,
		ExpectContinueTimeout: time.Second,
		ForceAttemptHTTP2:     true,
	}
	return &http.Client{Transport: transport}
}

// doJSON performs one request and returns the raw body once it is known
// to be valid JSON from a 2xx response.
func doJSON(ctx context.Context, client *http.Client, source, method, url string, body any) ([]byte, error) {
	if client == nil {
		client = http.DefaultClient
	}
	if url == "" {
		return nil, unavailable(source, "request", errors.New("no url configured"))
	}

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, unavailable(source, "encode", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return nil, unavailable(source, "request", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, unavailable(source, "request", err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes+1))
	if err != nil {
		return nil, unavailable(source, "read", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, unavailable(source, "response", &StatusError{StatusCode: resp.StatusCode})
	}
	if len(payload) > maxResponseBytes {
		return nil, unavailable(source, "read", fmt.Errorf("body exceeds %d bytes", maxResponseBytes))
	}
	if !gjson.ValidBytes(payload) {
		return nil, unavailable(source, "decode", errors.New("invalid json body"))
	}
	return payload, nil
}
