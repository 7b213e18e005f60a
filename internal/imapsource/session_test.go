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

package imapsource

import (
	"context"
	"errors"
	"net"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"
	"github.com/emersion/go-imap/v2/imapserver"
	"github.com/emersion/go-imap/v2/imapserver/imapmemserver"

	"github.com/reachinbox/mailsync/internal/config"
	"github.com/reachinbox/mailsync/internal/mailbox"
)

const (
	testUser = "alice@example.com"
	testPass = "secret"
)

// startServer runs an in-memory IMAP server and returns its address.
func startServer(t *testing.T) string {
	t.Helper()

	memSrv := imapmemserver.New()
	user := imapmemserver.NewUser(testUser, testPass)
	if err := user.Create("INBOX", nil); err != nil {
		t.Fatal(err)
	}
	memSrv.AddUser(user)

	srv := imapserver.New(&imapserver.Options{
		NewSession: func(_ *imapserver.Conn) (imapserver.Session, *imapserver.GreetingData, error) {
			return memSrv.NewSession(), nil, nil
		},
		InsecureAuth: true,
		Caps: imap.CapSet{
			imap.CapIMAP4rev1: {},
			imap.CapIdle:      {},
		},
	})

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	go srv.Serve(ln)
	t.Cleanup(func() { srv.Close() })

	return ln.Addr().String()
}

func appendMail(t *testing.T, addr, raw string) {
	t.Helper()

	conn, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatal(err)
	}
	c := imapclient.New(conn, nil)
	defer c.Close()

	if err := c.Login(testUser, testPass).Wait(); err != nil {
		t.Fatal(err)
	}
	cmd := c.Append("INBOX", int64(len(raw)), nil)
	if _, err := cmd.Write([]byte(raw)); err != nil {
		t.Fatal(err)
	}
	if err := cmd.Close(); err != nil {
		t.Fatal(err)
	}
	if _, err := cmd.Wait(); err != nil {
		t.Fatal(err)
	}
}

func testMail(subject string) string {
	return "From: Bob <bob@example.com>\r\n" +
		"To: alice@example.com\r\n" +
		"Subject: " + subject + "\r\n" +
		"Date: Mon, 02 Mar 2026 10:00:00 +0000\r\n" +
		"Message-ID: <" + strings.ReplaceAll(subject, " ", "-") + "@example.com>\r\n" +
		"\r\n" +
		"Hello " + subject + "\r\n"
}

func testAccount(t *testing.T, addr, password string) config.AccountConfig {
	t.Helper()
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		t.Fatal(err)
	}
	port, _ := strconv.Atoi(portStr)
	return config.AccountConfig{
		Name:     "alice",
		Host:     host,
		Port:     port,
		Insecure: true,
		Username: testUser,
		Password: password,
		Folder:   "INBOX",
	}
}

func dial(t *testing.T, addr string) mailbox.Session {
	t.Helper()
	d := NewDialer(DialerConfig{DialTimeout: 5 * time.Second, IdleKeepAlive: time.Minute})
	s, err := d.Dial(context.Background(), testAccount(t, addr, testPass))
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestDial_BadCredentials(t *testing.T) {
	addr := startServer(t)
	d := NewDialer(DialerConfig{DialTimeout: 5 * time.Second})

	_, err := d.Dial(context.Background(), testAccount(t, addr, "wrong"))
	if err == nil {
		t.Fatal("expected error for bad credentials")
	}
	if !mailbox.IsAuthError(err) {
		t.Errorf("expected AuthError, got %T: %v", err, err)
	}
}

func TestDial_Unreachable(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	addr := ln.Addr().String()
	ln.Close()

	d := NewDialer(DialerConfig{DialTimeout: 2 * time.Second})
	_, err = d.Dial(context.Background(), testAccount(t, addr, testPass))
	if err == nil {
		t.Fatal("expected error for closed port")
	}
	if !mailbox.IsNetworkError(err) {
		t.Errorf("expected NetworkError, got %T: %v", err, err)
	}
	if mailbox.IsAuthError(err) {
		t.Error("connection failure must not be an AuthError")
	}
}

func TestLockFolderAndFetch(t *testing.T) {
	addr := startServer(t)
	appendMail(t, addr, testMail("first"))
	appendMail(t, addr, testMail("second"))

	s := dial(t, addr)
	ctx := context.Background()

	lock, err := s.LockFolder(ctx, "INBOX")
	if err != nil {
		t.Fatalf("LockFolder: %v", err)
	}
	defer lock.Release()

	if lock.Exists() != 2 {
		t.Fatalf("exists = %d, want 2", lock.Exists())
	}

	msgs, err := s.Fetch(ctx, 1, lock.Exists())
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("fetched %d messages, want 2", len(msgs))
	}
	if msgs[0].SeqNum != 1 || msgs[1].SeqNum != 2 {
		t.Errorf("seq order = %d,%d", msgs[0].SeqNum, msgs[1].SeqNum)
	}
	if msgs[0].Envelope == nil || msgs[0].Envelope.Subject != "first" {
		t.Errorf("envelope = %+v", msgs[0].Envelope)
	}
	if len(msgs[0].Envelope.From) != 1 || msgs[0].Envelope.From[0] != "bob@example.com" {
		t.Errorf("from = %v", msgs[0].Envelope.From)
	}
	if !strings.Contains(string(msgs[1].Source), "Hello second") {
		t.Errorf("source missing body: %q", msgs[1].Source)
	}
}

func TestLockFolder_Exclusive(t *testing.T) {
	addr := startServer(t)
	s := dial(t, addr)

	lock, err := s.LockFolder(context.Background(), "INBOX")
	if err != nil {
		t.Fatalf("LockFolder: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if _, err := s.LockFolder(ctx, "INBOX"); err == nil {
		t.Fatal("second lock acquired while first was held")
	}

	lock.Release()
	lock.Release()

	again, err := s.LockFolder(context.Background(), "INBOX")
	if err != nil {
		t.Fatalf("LockFolder after release: %v", err)
	}
	again.Release()
}

func TestWaitForChange_NewMessage(t *testing.T) {
	addr := startServer(t)
	s := dial(t, addr)

	lock, err := s.LockFolder(context.Background(), "INBOX")
	if err != nil {
		t.Fatalf("LockFolder: %v", err)
	}
	defer lock.Release()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	type result struct {
		n   uint32
		err error
	}
	done := make(chan result, 1)
	go func() {
		n, err := s.WaitForChange(ctx, lock.Exists())
		done <- result{n, err}
	}()

	time.Sleep(100 * time.Millisecond)
	appendMail(t, addr, testMail("live"))

	r := <-done
	if r.err != nil {
		t.Fatalf("WaitForChange: %v", r.err)
	}
	if r.n != 1 {
		t.Errorf("count = %d, want 1", r.n)
	}
}

func TestWaitForChange_Cancelled(t *testing.T) {
	addr := startServer(t)
	s := dial(t, addr)

	lock, err := s.LockFolder(context.Background(), "INBOX")
	if err != nil {
		t.Fatalf("LockFolder: %v", err)
	}
	defer lock.Release()

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	if _, err := s.WaitForChange(ctx, 0); err == nil {
		t.Fatal("expected context error")
	}
}

func TestCloseResult(t *testing.T) {
	closeErr := errors.New("use of closed network connection")
	logoutErr := errors.New("BYE")

	tests := []struct {
		name      string
		logoutErr error
		closeErr  error
		wantErr   bool
	}{
		{name: "clean", wantErr: false},
		{name: "logout failed only", logoutErr: logoutErr, wantErr: false},
		{name: "close failed only", closeErr: closeErr, wantErr: true},
		{name: "both failed", logoutErr: logoutErr, closeErr: closeErr, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := closeResult("alice", tt.logoutErr, tt.closeErr)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr && !errors.Is(err, closeErr) {
				t.Errorf("err = %v, want wrapped close error", err)
			}
		})
	}
}
