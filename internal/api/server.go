// Copyright (c) 2026 John Earle
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package api serves the read-only HTTP query API over the email index.
package api

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/reachinbox/mailsync/internal/search"
	"github.com/reachinbox/mailsync/internal/syncstate"
)

// Searcher runs queries against the email index. Implemented by search.Store.
type Searcher interface {
	Search(ctx context.Context, body map[string]interface{}) (*search.Result, error)
	Get(ctx context.Context, id string) (*search.Hit, error)
}

// StatusReader reads per-account sync state. Implemented by syncstate.Store.
// Get returns nil when the account has no row.
type StatusReader interface {
	List(ctx context.Context) ([]syncstate.Record, error)
	Get(ctx context.Context, account string) (*syncstate.Record, error)
}

// Server holds the API dependencies.
type Server struct {
	searcher Searcher
	states   StatusReader
	now      func() time.Time
}

// ServerConfig holds the dependencies of the API server. States is
// optional; without it the /api/sync/status routes answer 503.
type ServerConfig struct {
	Searcher Searcher
	States   StatusReader
	Now      func() time.Time
}

// NewServer creates an API server.
func NewServer(cfg ServerConfig) *Server {
	s := &Server{
		searcher: cfg.Searcher,
		states:   cfg.States,
		now:      cfg.Now,
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

// Handler returns the gin engine with every route registered.
func (s *Server) Handler() http.Handler {
	r := gin.New()
	r.Use(gin.Recovery(), requestLogger())

	api := r.Group("/api")
	api.GET("/health", s.health)

	emails := api.Group("/emails")
	{
		emails.GET("/search", s.searchEmails)
		emails.GET("/by-sender/:email", s.bySender)
		emails.GET("/by-account/:account", s.byAccount)
		emails.GET("/recent", s.recent)
		emails.GET("/stats/accounts", s.accountStats)
		emails.GET("/stats/senders", s.senderStats)
		emails.POST("/advanced-search", s.advancedSearch)
		emails.GET("/:id", s.getEmail)
	}

	api.GET("/sync/status", s.syncStatus)
	api.GET("/sync/status/:account", s.accountSyncStatus)

	return r
}

// Serve starts the API server on the given port. It binds the port
// immediately and signals readiness via the returned channel before
// accepting connections. The server closes when ctx is cancelled.
func (s *Server) Serve(ctx context.Context, port int) (<-chan struct{}, error) {
	server := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return nil, fmt.Errorf("bind api port %d: %w", port, err)
	}

	ready := make(chan struct{})

	go func() {
		<-ctx.Done()
		slog.Info("api server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			server.Close()
		}
	}()

	go func() {
		slog.Info("api server listening", "port", port)
		close(ready)
		if err := server.Serve(ln); err != http.ErrServerClosed {
			slog.Error("api server error", "error", err)
		}
	}()

	return ready, nil
}

// requestLogger logs each request through slog instead of gin's writer.
func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		slog.Debug("api request",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", c.Writer.Status(),
			"duration", time.Since(start),
		)
	}
}
