// ABOUTME: Tests for the SMTP and log mailers
// ABOUTME: Runs SMTPMailer against a minimal in-process SMTP server

package mail

import (
	"bufio"
	"net"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeSMTP accepts one session and records the envelope and data.
type fakeSMTP struct {
	ln net.Listener

	mu   sync.Mutex
	from string
	rcpt []string
	data string
	done chan struct{}
}

func startFakeSMTP(t *testing.T) *fakeSMTP {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	s := &fakeSMTP{ln: ln, done: make(chan struct{})}
	t.Cleanup(func() { _ = ln.Close() })
	go s.serve()
	return s
}

func (s *fakeSMTP) port() int {
	return s.ln.Addr().(*net.TCPAddr).Port
}

func (s *fakeSMTP) serve() {
	defer close(s.done)
	conn, err := s.ln.Accept()
	if err != nil {
		return
	}
	defer conn.Close()

	r := bufio.NewReader(conn)
	reply := func(line string) { _, _ = conn.Write([]byte(line + "\r\n")) }
	reply("220 localhost ESMTP")

	for {
		line, err := r.ReadString('\n')
		if err != nil {
			return
		}
		cmd := strings.TrimRight(line, "\r\n")
		upper := strings.ToUpper(cmd)
		switch {
		case strings.HasPrefix(upper, "EHLO"), strings.HasPrefix(upper, "HELO"):
			reply("250 localhost")
		case strings.HasPrefix(upper, "MAIL FROM:"):
			s.mu.Lock()
			s.from = strings.Trim(cmd[len("MAIL FROM:"):], "<> ")
			s.mu.Unlock()
			reply("250 OK")
		case strings.HasPrefix(upper, "RCPT TO:"):
			s.mu.Lock()
			s.rcpt = append(s.rcpt, strings.Trim(cmd[len("RCPT TO:"):], "<> "))
			s.mu.Unlock()
			reply("250 OK")
		case upper == "DATA":
			reply("354 go ahead")
			var b strings.Builder
			for {
				l, err := r.ReadString('\n')
				if err != nil {
					return
				}
				if l == ".\r\n" {
					break
				}
				b.WriteString(l)
			}
			s.mu.Lock()
			s.data = b.String()
			s.mu.Unlock()
			reply("250 queued")
		case upper == "QUIT":
			reply("221 bye")
			return
		default:
			reply("250 OK")
		}
	}
}

func TestSMTPMailer_Send(t *testing.T) {
	srv := startFakeSMTP(t)
	m := NewSMTPMailer(SMTPConfig{
		Host: "127.0.0.1",
		Port: srv.port(),
		From: "Home Decor <shop@example.com>",
	}, nil)

	err := m.Send(t.Context(), &Email{
		To:      []string{"admin@example.com"},
		ReplyTo: "carla@example.com",
		Subject: "[Contact] Sofa",
		Text:    "plain body",
		HTML:    "<p>html body</p>",
	})
	require.NoError(t, err)

	select {
	case <-srv.done:
	case <-time.After(5 * time.Second):
		t.Fatal("smtp session did not finish")
	}

	srv.mu.Lock()
	defer srv.mu.Unlock()
	assert.Equal(t, "shop@example.com", srv.from)
	assert.Equal(t, []string{"admin@example.com"}, srv.rcpt)
	assert.Contains(t, srv.data, "Reply-To: carla@example.com")
	assert.Contains(t, srv.data, "multipart/alternative")
	assert.Contains(t, srv.data, "plain body")
	assert.Contains(t, srv.data, "<p>html body</p>")
}

func TestSMTPMailer_NoRecipients(t *testing.T) {
	m := NewSMTPMailer(SMTPConfig{Host: "127.0.0.1", Port: 1}, nil)
	assert.ErrorIs(t, m.Send(t.Context(), &Email{Subject: "x"}), ErrNoRecipients)
}

func TestSMTPMailer_DialFailure(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	require.NoError(t, ln.Close())

	m := NewSMTPMailer(SMTPConfig{Host: "127.0.0.1", Port: port}, nil)
	err = m.Send(t.Context(), &Email{To: []string{"a@example.com"}, Text: "x"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "dial 127.0.0.1:"+strconv.Itoa(port))
}

func TestBuildMessage(t *testing.T) {
	now := time.Date(2026, 2, 3, 4, 5, 6, 0, time.UTC)
	msg, err := buildMessage("shop@example.com", &Email{
		To:      []string{"a@example.com", "b@example.com"},
		Subject: "Đơn hàng",
		Text:    "hello",
	}, now)
	require.NoError(t, err)

	s := string(msg)
	assert.Contains(t, s, "From: shop@example.com\r\n")
	assert.Contains(t, s, "To: a@example.com, b@example.com\r\n")
	assert.Contains(t, s, "Subject: =?utf-8?q?")
	assert.Contains(t, s, "Date: Tue, 03 Feb 2026 04:05:06 +0000\r\n")
	assert.NotContains(t, s, "Reply-To")
	assert.NotContains(t, s, "text/html")
}

func TestAddressOnly(t *testing.T) {
	assert.Equal(t, "shop@example.com", addressOnly("Home Decor <shop@example.com>"))
	assert.Equal(t, "shop@example.com", addressOnly(" shop@example.com "))
}

func TestLogMailer(t *testing.T) {
	m := NewLogMailer(nil)
	require.NoError(t, m.Send(t.Context(), &Email{To: []string{"admin@example.com"}, Subject: "hi"}))
	assert.ErrorIs(t, m.Send(t.Context(), &Email{}), ErrNoRecipients)

	sent := m.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, "hi", sent[0].Subject)
}
