// internal/proxy/server.go
package proxy

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
)

// hopHeaders are never forwarded upstream; they describe the hop between
// the CLI and this proxy, not the provider call.
var hopHeaders = map[string]bool{
	"host":    true,
	"origin":  true,
	"referer": true,
}

// Envelope is the request body both proxy endpoints accept.
type Envelope struct {
	URL     string            `json:"url" binding:"required"`
	Headers map[string]string `json:"headers"`
	Data    json.RawMessage   `json:"data"`
	Method  string            `json:"method"`
}

// Server wraps provider calls so browser-origin clients can reach
// upstreams that lack CORS headers, and so streams relay unbuffered.
type Server struct {
	engine *gin.Engine
	client *http.Client
}

// NewServer builds the proxy with logging and permissive CORS.
func NewServer() *Server {
	engine := gin.New()
	engine.Use(gin.Recovery(), requestLogger(), corsHeaders())

	s := &Server{
		engine: engine,
		// Streams run for minutes; no client-level timeout.
		client: &http.Client{},
	}

	engine.GET("/health", s.handleHealth)
	engine.POST("/proxy/stream", s.handleStream)
	engine.POST("/proxy/call", s.handleCall)
	engine.OPTIONS("/proxy/stream", func(c *gin.Context) { c.Status(http.StatusNoContent) })
	engine.OPTIONS("/proxy/call", func(c *gin.Context) { c.Status(http.StatusNoContent) })
	return s
}

// Handler exposes the router, mostly for tests.
func (s *Server) Handler() http.Handler { return s.engine }

// Run serves until the listener fails.
func (s *Server) Run(addr string) error {
	slog.Info("proxy listening", "addr", addr)
	return s.engine.Run(addr)
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "time": time.Now().UTC()})
}

// handleStream forwards the wrapped request upstream with stream forced on
// and relays the response bytes as they arrive.
func (s *Server) handleStream(c *gin.Context) {
	var env Envelope
	if err := c.ShouldBindJSON(&env); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid proxy request", "details": err.Error()})
		return
	}

	body, err := forceStreaming(env.Data)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request data", "details": err.Error()})
		return
	}

	resp, err := s.forward(c, env, body)
	if err != nil {
		upstreamFailure(c, env.URL, 0, err.Error(), nil)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 8*1024))
		upstreamFailure(c, env.URL, resp.StatusCode, "upstream returned an error", detail)
		return
	}

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Status(http.StatusOK)

	flusher, canFlush := c.Writer.(http.Flusher)
	buf := make([]byte, 32*1024)
	for {
		n, readErr := resp.Body.Read(buf)
		if n > 0 {
			if _, werr := c.Writer.Write(buf[:n]); werr != nil {
				return
			}
			if canFlush {
				flusher.Flush()
			}
		}
		if readErr != nil {
			if readErr != io.EOF {
				slog.Debug("stream relay ended", "url", env.URL, "error", readErr)
			}
			return
		}
	}
}

// handleCall forwards a synchronous request and returns the upstream body
// verbatim.
func (s *Server) handleCall(c *gin.Context) {
	var env Envelope
	if err := c.ShouldBindJSON(&env); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid proxy request", "details": err.Error()})
		return
	}

	resp, err := s.forward(c, env, env.Data)
	if err != nil {
		upstreamFailure(c, env.URL, 0, err.Error(), nil)
		return
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		upstreamFailure(c, env.URL, resp.StatusCode, "reading upstream response", nil)
		return
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		upstreamFailure(c, env.URL, resp.StatusCode, "upstream returned an error", body)
		return
	}

	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "application/json"
	}
	c.Data(resp.StatusCode, contentType, body)
}

func (s *Server) forward(c *gin.Context, env Envelope, body []byte) (*http.Response, error) {
	method := env.Method
	if method == "" {
		method = http.MethodPost
	}
	req, err := http.NewRequestWithContext(c.Request.Context(), method, env.URL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("building upstream request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range env.Headers {
		if hopHeaders[strings.ToLower(k)] {
			continue
		}
		req.Header.Set(k, v)
	}
	return s.client.Do(req)
}

// forceStreaming sets stream:true in the forwarded body regardless of what
// the caller sent.
func forceStreaming(data json.RawMessage) ([]byte, error) {
	if len(data) == 0 {
		return []byte(`{"stream":true}`), nil
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	m["stream"] = true
	return json.Marshal(m)
}

// upstreamFailure reports a failed forward in the error shape clients
// expect, mirroring the upstream status where one exists.
func upstreamFailure(c *gin.Context, rawURL string, status int, msg string, detail []byte) {
	code := status
	if code == 0 {
		code = http.StatusBadGateway
	}
	c.JSON(code, gin.H{
		"error":    msg,
		"details":  string(detail),
		"url":      rawURL,
		"status":   status,
		"provider": hostOf(rawURL),
	})
}

func hostOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return u.Host
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		slog.Info("proxy request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"duration", time.Since(start))
	}
}

func corsHeaders() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Content-Type, Authorization")
		c.Next()
	}
}
