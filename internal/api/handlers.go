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

package api

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/reachinbox/mailsync/internal/search"
	"github.com/reachinbox/mailsync/internal/syncstate"
)

// AccountStat is one entry of the per-account statistics.
type AccountStat struct {
	Account     string              `json:"account"`
	Count       int64               `json:"count"`
	LatestEmail *search.LatestEmail `json:"latestEmail"`
}

// SenderStat is one entry of the top-senders statistics.
type SenderStat struct {
	Email       string              `json:"email"`
	Count       int64               `json:"count"`
	LatestEmail *search.LatestEmail `json:"latestEmail"`
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "ok",
		"timestamp": s.now().UTC(),
	})
}

func (s *Server) searchEmails(c *gin.Context) {
	p := search.SearchParams{
		Q:         c.Query("q"),
		From:      c.Query("from"),
		Subject:   c.Query("subject"),
		Account:   c.Query("account"),
		StartDate: c.Query("startDate"),
		EndDate:   c.Query("endDate"),
		Limit:     queryInt(c, "limit", 10),
		Offset:    queryInt(c, "offset", 0),
	}

	res, err := s.searcher.Search(c.Request.Context(), search.SearchQuery(p))
	if err != nil {
		fail(c, http.StatusInternalServerError, "Search failed", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"total":   res.Total,
		"results": res.Hits,
		"query": gin.H{
			"q":         p.Q,
			"from":      p.From,
			"subject":   p.Subject,
			"account":   p.Account,
			"startDate": p.StartDate,
			"endDate":   p.EndDate,
			"limit":     p.Limit,
			"offset":    p.Offset,
		},
	})
}

func (s *Server) bySender(c *gin.Context) {
	email := c.Param("email")
	body := search.BySenderQuery(email, queryInt(c, "limit", 20), queryInt(c, "offset", 0))

	res, err := s.searcher.Search(c.Request.Context(), body)
	if err != nil {
		fail(c, http.StatusInternalServerError, "Failed to fetch emails", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"sender": email,
		"total":  res.Total,
		"emails": res.Hits,
	})
}

func (s *Server) byAccount(c *gin.Context) {
	account := c.Param("account")
	body := search.ByAccountQuery(account, queryInt(c, "limit", 50), queryInt(c, "offset", 0))

	res, err := s.searcher.Search(c.Request.Context(), body)
	if err != nil {
		fail(c, http.StatusInternalServerError, "Failed to fetch emails", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"account": account,
		"total":   res.Total,
		"emails":  res.Hits,
	})
}

func (s *Server) recent(c *gin.Context) {
	days := queryInt(c, "days", 7)
	page := queryInt(c, "page", 1)
	if page < 1 {
		page = 1
	}
	limit := queryInt(c, "limit", 10)
	account := c.Query("account")

	res, err := s.searcher.Search(c.Request.Context(), search.RecentQuery(days, page, limit, account, s.now()))
	if err != nil {
		fail(c, http.StatusInternalServerError, "Failed to fetch recent emails", err)
		return
	}

	if account == "" {
		account = "all"
	}
	c.JSON(http.StatusOK, gin.H{
		"period":  fmt.Sprintf("Last %d days", days),
		"account": account,
		"total":   res.Total,
		"page":    page,
		"limit":   limit,
		"emails":  res.Hits,
	})
}

func (s *Server) getEmail(c *gin.Context) {
	hit, err := s.searcher.Get(c.Request.Context(), c.Param("id"))
	if errors.Is(err, search.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Email not found"})
		return
	}
	if err != nil {
		fail(c, http.StatusInternalServerError, "Failed to fetch email", err)
		return
	}
	c.JSON(http.StatusOK, hit)
}

func (s *Server) accountStats(c *gin.Context) {
	res, err := s.searcher.Search(c.Request.Context(), search.AccountStatsQuery())
	if err != nil {
		fail(c, http.StatusInternalServerError, "Failed to get statistics", err)
		return
	}
	buckets, err := res.Buckets("by_account")
	if err != nil {
		fail(c, http.StatusInternalServerError, "Failed to get statistics", err)
		return
	}

	accounts := make([]AccountStat, 0, len(buckets))
	for _, b := range buckets {
		accounts = append(accounts, AccountStat{Account: b.Key, Count: b.Count, LatestEmail: b.LatestEmail})
	}
	c.JSON(http.StatusOK, gin.H{"accounts": accounts})
}

func (s *Server) senderStats(c *gin.Context) {
	account := c.Query("account")

	res, err := s.searcher.Search(c.Request.Context(), search.SenderStatsQuery(queryInt(c, "limit", 10), account))
	if err != nil {
		fail(c, http.StatusInternalServerError, "Failed to get sender statistics", err)
		return
	}
	buckets, err := res.Buckets("top_senders")
	if err != nil {
		fail(c, http.StatusInternalServerError, "Failed to get sender statistics", err)
		return
	}

	senders := make([]SenderStat, 0, len(buckets))
	for _, b := range buckets {
		senders = append(senders, SenderStat{Email: b.Key, Count: b.Count, LatestEmail: b.LatestEmail})
	}
	if account == "" {
		account = "all"
	}
	c.JSON(http.StatusOK, gin.H{
		"account":    account,
		"topSenders": senders,
	})
}

func (s *Server) advancedSearch(c *gin.Context) {
	var p search.AdvancedParams
	if err := c.ShouldBindJSON(&p); err != nil && !errors.Is(err, io.EOF) {
		fail(c, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	res, err := s.searcher.Search(c.Request.Context(), search.AdvancedQuery(p))
	if err != nil {
		fail(c, http.StatusInternalServerError, "Advanced search failed", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"total":   res.Total,
		"results": res.Hits,
	})
}

func (s *Server) syncStatus(c *gin.Context) {
	if s.states == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Sync state store not configured"})
		return
	}

	records, err := s.states.List(c.Request.Context())
	if err != nil {
		fail(c, http.StatusInternalServerError, "Failed to fetch sync status", err)
		return
	}
	if records == nil {
		records = []syncstate.Record{}
	}
	c.JSON(http.StatusOK, gin.H{"accounts": records})
}

func (s *Server) accountSyncStatus(c *gin.Context) {
	if s.states == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Sync state store not configured"})
		return
	}

	record, err := s.states.Get(c.Request.Context(), c.Param("account"))
	if err != nil {
		fail(c, http.StatusInternalServerError, "Failed to fetch sync status", err)
		return
	}
	if record == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Account not found"})
		return
	}
	c.JSON(http.StatusOK, record)
}

// fail logs err and writes the {error, details} body.
func fail(c *gin.Context, status int, msg string, err error) {
	slog.Error(msg, "path", c.FullPath(), "error", err)
	c.JSON(status, gin.H{
		"error":   msg,
		"details": err.Error(),
	})
}

// queryInt parses an integer query parameter, falling back to def when it
// is missing, malformed or negative.
func queryInt(c *gin.Context, key string, def int) int {
	v, ok := c.GetQuery(key)
	if !ok {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return def
	}
	return n
}
