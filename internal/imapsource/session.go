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

// Package imapsource implements mailbox.Session over IMAP4rev1 using
// go-imap v2. A session owns one connection and at most one selected folder.
package imapsource

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sort"
	"sync"
	"time"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"
	"github.com/emersion/go-sasl"
	"golang.org/x/oauth2"

	"github.com/reachinbox/mailsync/internal/config"
	"github.com/reachinbox/mailsync/internal/mailbox"
)

// Dialer opens authenticated IMAP sessions.
type Dialer struct {
	dialTimeout   time.Duration
	idleKeepAlive time.Duration
}

// DialerConfig holds the transport settings shared by all accounts.
type DialerConfig struct {
	DialTimeout   time.Duration
	IdleKeepAlive time.Duration
}

// NewDialer creates a Dialer.
func NewDialer(cfg DialerConfig) *Dialer {
	d := &Dialer{
		dialTimeout:   cfg.DialTimeout,
		idleKeepAlive: cfg.IdleKeepAlive,
	}
	if d.dialTimeout <= 0 {
		d.dialTimeout = 30 * time.Second
	}
	if d.idleKeepAlive <= 0 || d.idleKeepAlive > 29*time.Minute {
		d.idleKeepAlive = 25 * time.Minute
	}
	return d
}

// Dial connects to the account's server, waits for the greeting and
// authenticates. Credential rejection is reported as *mailbox.AuthError;
// every other failure is a *mailbox.NetworkError.
func (d *Dialer) Dial(ctx context.Context, account config.AccountConfig) (mailbox.Session, error) {
	s := &session{
		account:   account.Name,
		keepAlive: d.idleKeepAlive,
		changed:   make(chan struct{}, 1),
		folderSem: make(chan struct{}, 1),
	}

	opts := &imapclient.Options{
		TLSConfig: &tls.Config{ServerName: account.Host},
		UnilateralDataHandler: &imapclient.UnilateralDataHandler{
			Mailbox: func(data *imapclient.UnilateralDataMailbox) {
				if data.NumMessages != nil {
					s.setCount(*data.NumMessages)
				}
			},
			Expunge: func(uint32) {
				s.decCount()
			},
		},
	}

	conn, err := d.dialConn(ctx, account, opts.TLSConfig)
	if err != nil {
		return nil, &mailbox.NetworkError{Account: account.Name, Op: "dial", Err: err}
	}

	// The deadline bounds greeting and authentication; IDLE runs without one.
	_ = conn.SetDeadline(time.Now().Add(d.dialTimeout))

	var client *imapclient.Client
	if account.TLS || account.Insecure {
		client = imapclient.New(conn, opts)
	} else {
		client, err = imapclient.NewStartTLS(conn, opts)
		if err != nil {
			conn.Close()
			return nil, &mailbox.NetworkError{Account: account.Name, Op: "starttls", Err: err}
		}
	}
	s.client = client

	if err := client.WaitGreeting(); err != nil {
		client.Close()
		return nil, &mailbox.NetworkError{Account: account.Name, Op: "greeting", Err: err}
	}

	if err := d.authenticate(ctx, client, account); err != nil {
		client.Close()
		return nil, err
	}

	_ = conn.SetDeadline(time.Time{})

	slog.Info("imap session established",
		"account", account.Name,
		"addr", account.Addr(),
		"oauth2", account.OAuth2.Enabled(),
	)

	return s, nil
}

func (d *Dialer) dialConn(ctx context.Context, account config.AccountConfig, tlsConfig *tls.Config) (net.Conn, error) {
	netDialer := &net.Dialer{Timeout: d.dialTimeout}
	if account.TLS {
		tlsDialer := &tls.Dialer{NetDialer: netDialer, Config: tlsConfig}
		return tlsDialer.DialContext(ctx, "tcp", account.Addr())
	}
	return netDialer.DialContext(ctx, "tcp", account.Addr())
}

func (d *Dialer) authenticate(ctx context.Context, client *imapclient.Client, account config.AccountConfig) error {
	var err error
	if account.OAuth2.Enabled() {
		var token *oauth2.Token
		token, err = fetchToken(ctx, account.OAuth2)
		if err != nil {
			var retrieveErr *oauth2.RetrieveError
			if errors.As(err, &retrieveErr) {
				return &mailbox.AuthError{Account: account.Name, Err: err}
			}
			return &mailbox.NetworkError{Account: account.Name, Op: "oauth2 token", Err: err}
		}
		err = client.Authenticate(sasl.NewOAuthBearerClient(&sasl.OAuthBearerOptions{
			Username: account.Username,
			Token:    token.AccessToken,
			Host:     account.Host,
			Port:     account.Port,
		}))
	} else {
		err = client.Login(account.Username, account.Password).Wait()
	}
	if err == nil {
		return nil
	}

	// A tagged NO/BAD from the server is a rejection; anything else is transport.
	var imapErr *imap.Error
	if errors.As(err, &imapErr) {
		return &mailbox.AuthError{Account: account.Name, Err: err}
	}
	return &mailbox.NetworkError{Account: account.Name, Op: "authenticate", Err: err}
}

// fetchToken exchanges the configured refresh token for an access token.
func fetchToken(ctx context.Context, cfg *config.OAuth2Config) (*oauth2.Token, error) {
	oc := &oauth2.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		Endpoint:     oauth2.Endpoint{TokenURL: cfg.TokenURL},
		Scopes:       cfg.Scopes,
	}
	token, err := oc.TokenSource(ctx, &oauth2.Token{RefreshToken: cfg.RefreshToken}).Token()
	if err != nil {
		return nil, fmt.Errorf("refresh oauth2 token: %w", err)
	}
	return token, nil
}

// session is one live connection. Only the owning account goroutine calls
// its methods; the unilateral handlers run on the client's reader goroutine.
type session struct {
	account   string
	client    *imapclient.Client
	keepAlive time.Duration

	mu      sync.Mutex
	count   uint32
	changed chan struct{}

	folderSem chan struct{}
}

func (s *session) setCount(n uint32) {
	s.mu.Lock()
	s.count = n
	s.mu.Unlock()
	s.signal()
}

func (s *session) decCount() {
	s.mu.Lock()
	if s.count > 0 {
		s.count--
	}
	s.mu.Unlock()
	s.signal()
}

func (s *session) current() uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.count
}

func (s *session) signal() {
	select {
	case s.changed <- struct{}{}:
	default:
	}
}

// LockFolder selects folder. The lock is held until Release; a second
// LockFolder blocks until then or until ctx is done.
func (s *session) LockFolder(ctx context.Context, folder string) (*mailbox.FolderLock, error) {
	select {
	case s.folderSem <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	data, err := s.client.Select(folder, nil).Wait()
	if err != nil {
		<-s.folderSem
		return nil, &mailbox.NetworkError{Account: s.account, Op: "select " + folder, Err: err}
	}

	s.mu.Lock()
	s.count = data.NumMessages
	s.mu.Unlock()
	select {
	case <-s.changed:
	default:
	}

	slog.Debug("folder locked", "account", s.account, "folder", folder, "exists", data.NumMessages)

	return mailbox.NewFolderLock(folder, data.NumMessages, func() {
		<-s.folderSem
		slog.Debug("folder released", "account", s.account, "folder", folder)
	}), nil
}

// Fetch retrieves envelope, UID and the peeked full source for seq from..to.
func (s *session) Fetch(ctx context.Context, from, to uint32) ([]mailbox.RawMessage, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if from == 0 || to < from {
		return nil, nil
	}

	var seqSet imap.SeqSet
	seqSet.AddRange(from, to)

	bodySection := &imap.FetchItemBodySection{Peek: true}
	bufs, err := s.client.Fetch(seqSet, &imap.FetchOptions{
		Envelope:    true,
		UID:         true,
		BodySection: []*imap.FetchItemBodySection{bodySection},
	}).Collect()
	if err != nil {
		return nil, &mailbox.NetworkError{
			Account: s.account,
			Op:      fmt.Sprintf("fetch %d:%d", from, to),
			Err:     err,
		}
	}

	msgs := make([]mailbox.RawMessage, 0, len(bufs))
	for _, buf := range bufs {
		msgs = append(msgs, mailbox.RawMessage{
			SeqNum:   buf.SeqNum,
			UID:      uint32(buf.UID),
			Envelope: convertEnvelope(buf.Envelope),
			Source:   buf.FindBodySection(bodySection),
		})
	}
	sort.Slice(msgs, func(i, j int) bool { return msgs[i].SeqNum < msgs[j].SeqNum })

	return msgs, nil
}

// WaitForChange idles until the server reports a message count other than
// known. IDLE is restarted every keep-alive interval.
func (s *session) WaitForChange(ctx context.Context, known uint32) (uint32, error) {
	for {
		if n := s.current(); n != known {
			return n, nil
		}

		if err := s.idleOnce(ctx); err != nil {
			return 0, err
		}
	}
}

// idleOnce runs a single IDLE command until a change signal, the keep-alive
// timer or ctx ends it.
func (s *session) idleOnce(ctx context.Context) error {
	idleCmd, err := s.client.Idle()
	if err != nil {
		return &mailbox.NetworkError{Account: s.account, Op: "idle", Err: err}
	}

	done := make(chan error, 1)
	go func() {
		done <- idleCmd.Wait()
	}()

	timer := time.NewTimer(s.keepAlive)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		idleCmd.Close()
		<-done
		return ctx.Err()

	case <-s.changed:

	case <-timer.C:
		slog.Debug("idle keep-alive restart", "account", s.account)

	case err := <-done:
		if err != nil {
			return &mailbox.NetworkError{Account: s.account, Op: "idle", Err: err}
		}
		return nil
	}

	if err := idleCmd.Close(); err != nil {
		<-done
		return &mailbox.NetworkError{Account: s.account, Op: "idle done", Err: err}
	}
	if err := <-done; err != nil {
		return &mailbox.NetworkError{Account: s.account, Op: "idle", Err: err}
	}
	return nil
}

// Close logs out and closes the connection.
func (s *session) Close() error {
	logoutErr := s.client.Logout().Wait()
	closeErr := s.client.Close()
	return closeResult(s.account, logoutErr, closeErr)
}

// closeResult reports a failed connection close. A failed LOGOUT alone is
// logged only: the connection is gone either way.
func closeResult(account string, logoutErr, closeErr error) error {
	if closeErr != nil {
		return fmt.Errorf("close connection: %w", closeErr)
	}
	if logoutErr != nil {
		slog.Debug("logout failed", "account", account, "error", logoutErr)
	}
	return nil
}

func convertEnvelope(env *imap.Envelope) *mailbox.Envelope {
	if env == nil {
		return nil
	}
	return &mailbox.Envelope{
		Subject:   env.Subject,
		From:      addrs(env.From),
		To:        addrs(env.To),
		Date:      env.Date,
		MessageID: env.MessageID,
	}
}

func addrs(list []imap.Address) []string {
	out := make([]string, 0, len(list))
	for _, a := range list {
		if addr := a.Addr(); addr != "" {
			out = append(out, addr)
		}
	}
	return out
}
