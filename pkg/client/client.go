// Package client is the operator-side API client. It dials the control
// plane over mutual TLS using material produced by `hwman cert
// create-client`; it never issues certificates itself.
package client

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"
)

// Client talks to a running hwman server.
type Client struct {
	baseURL string
	client  *http.Client
	logger  *slog.Logger
}

// TLSClientConfig holds the mutual-TLS material for one operator.
type TLSClientConfig struct {
	CACert     string // CA certificate file path
	ClientCert string // Client certificate file
	ClientKey  string // Client private key file
	ServerName string // Server name for verification
	SkipVerify bool   // Skip certificate verification
}

// Config holds client configuration.
type Config struct {
	BaseURL string
	Timeout time.Duration
	Logger  *slog.Logger // Optional logger for client operations
	TLS     *TLSClientConfig
}

// DefaultConfig returns the local-server defaults; TLS material must still
// be filled in before New.
func DefaultConfig() Config {
	return Config{
		BaseURL: "https://localhost:8443",
		Timeout: 30 * time.Second,
	}
}

// New creates an API client. A nil TLS config produces a plain client, only
// useful against test servers.
func New(config Config) (*Client, error) {
	if config.BaseURL == "" {
		config.BaseURL = "https://localhost:8443"
	}
	if config.Timeout == 0 {
		config.Timeout = 30 * time.Second
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}

	transport := &http.Transport{}
	if config.TLS != nil {
		tlsConfig, err := setupClientTLS(*config.TLS)
		if err != nil {
			return nil, fmt.Errorf("tls setup: %w", err)
		}
		transport.TLSClientConfig = tlsConfig
	}

	return &Client{
		baseURL: config.BaseURL,
		logger:  config.Logger,
		client: &http.Client{
			Timeout:   config.Timeout,
			Transport: transport,
		},
	}, nil
}

func setupClientTLS(cfg TLSClientConfig) (*tls.Config, error) {
	tlsConfig := &tls.Config{MinVersion: tls.VersionTLS12}
	if cfg.SkipVerify {
		tlsConfig.InsecureSkipVerify = true // #nosec G402
	}
	if cfg.ServerName != "" {
		tlsConfig.ServerName = cfg.ServerName
	}
	if cfg.CACert != "" {
		pem, err := os.ReadFile(cfg.CACert)
		if err != nil {
			return nil, fmt.Errorf("read CA certificate: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("parse CA certificate %s", cfg.CACert)
		}
		tlsConfig.RootCAs = pool
	}
	if cfg.ClientCert != "" && cfg.ClientKey != "" {
		cert, err := tls.LoadX509KeyPair(cfg.ClientCert, cfg.ClientKey)
		if err != nil {
			return nil, fmt.Errorf("load client certificate: %w", err)
		}
		tlsConfig.Certificates = []tls.Certificate{cert}
	}
	return tlsConfig, nil
}

// Ping checks liveness; the server answers "Pong".
func (c *Client) Ping(ctx context.Context) error {
	var resp struct {
		Message string `json:"message"`
	}
	if err := c.get(ctx, "/ping", &resp); err != nil {
		return err
	}
	if resp.Message != "Pong" {
		return fmt.Errorf("unexpected ping response %q", resp.Message)
	}
	return nil
}

// IsReachable reports whether the server answers at all.
func (c *Client) IsReachable(ctx context.Context) bool {
	err := c.Ping(ctx)
	if err != nil {
		c.logger.Debug("server unreachable", "error", err)
	}
	return err == nil
}

// Services returns the status of every supervised service.
func (c *Client) Services(ctx context.Context) ([]ServiceStatus, error) {
	var out []ServiceStatus
	if err := c.get(ctx, "/services", &out); err != nil {
		return nil, err
	}
	return out, nil
}

// ServiceStatus queries one service.
func (c *Client) ServiceStatus(ctx context.Context, name string) (ServiceResult, error) {
	var out ServiceResult
	err := c.get(ctx, "/services/"+name+"/status", &out)
	return out, err
}

// StartService starts one service. A soft failure (already running, spawn
// error) comes back with Success=false and a nil error.
func (c *Client) StartService(ctx context.Context, name string) (ServiceResult, error) {
	var out ServiceResult
	err := c.post(ctx, "/services/"+name+"/start", nil, &out)
	return out, err
}

// StopService stops one service.
func (c *Client) StopService(ctx context.Context, name string) (ServiceResult, error) {
	var out ServiceResult
	err := c.post(ctx, "/services/"+name+"/stop", nil, &out)
	return out, err
}

// Health returns the aggregate over all services.
func (c *Client) Health(ctx context.Context) (Health, error) {
	var out Health
	err := c.get(ctx, "/health", &out)
	return out, err
}

// SubmitJob runs the job's test type and returns the measurement summary.
func (c *Client) SubmitJob(ctx context.Context, job Job) (TestResult, error) {
	var out TestResult
	err := c.post(ctx, "/jobs", job, &out)
	return out, err
}

// StandardTest runs a named standard test. An empty pid lets the server
// generate one; the result echoes the pid actually used.
func (c *Client) StandardTest(ctx context.Context, testType, pid string) (TestResult, error) {
	var out TestResult
	req := standardTestRequest{TestType: testType, PID: pid}
	err := c.post(ctx, "/tests/standard", req, &out)
	return out, err
}

func (c *Client) get(ctx context.Context, path string, out any) error {
	return c.do(ctx, http.MethodGet, path, nil, out)
}

func (c *Client) post(ctx context.Context, path string, body, out any) error {
	return c.do(ctx, http.MethodPost, path, body, out)
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		c.logger.Debug("request failed", "method", method, "path", path, "error", err)
		return fmt.Errorf("do request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= http.StatusMultipleChoices {
		var apiErr struct {
			Error   string `json:"error"`
			Message string `json:"message"`
		}
		if decErr := json.NewDecoder(resp.Body).Decode(&apiErr); decErr != nil {
			return fmt.Errorf("HTTP %d", resp.StatusCode)
		}
		msg := apiErr.Error
		if msg == "" {
			msg = apiErr.Message
		}
		return fmt.Errorf("HTTP %d: %s", resp.StatusCode, msg)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
