package ssh

import (
	"crypto/ed25519"
	"crypto/rand"
	"fmt"
	"io"
	"net"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/ssh"
)

const (
	testUser     = "tester"
	testPassword = "secret"
)

// execReply is what the test server sends back for an exec request.
type execReply struct {
	stdout string
	stderr string
	status uint32
}

// testServer is a minimal SSH server that answers "exec" requests.
type testServer struct {
	addr    string
	hostKey ssh.PublicKey
	execs   atomic.Int32
}

func startTestServer(t *testing.T, handle func(cmd string) execReply) *testServer {
	t.Helper()

	_, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	signer, err := ssh.NewSignerFromKey(priv)
	require.NoError(t, err)

	config := &ssh.ServerConfig{
		PasswordCallback: func(meta ssh.ConnMetadata, pass []byte) (*ssh.Permissions, error) {
			if meta.User() == testUser && string(pass) == testPassword {
				return nil, nil
			}
			return nil, fmt.Errorf("password rejected for %q", meta.User())
		},
	}
	config.AddHostKey(signer)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = ln.Close() })

	srv := &testServer{addr: ln.Addr().String(), hostKey: signer.PublicKey()}

	go func() {
		for {
			nc, err := ln.Accept()
			if err != nil {
				return
			}
			go srv.serve(nc, config, handle)
		}
	}()

	return srv
}

func (s *testServer) serve(nc net.Conn, config *ssh.ServerConfig, handle func(string) execReply) {
	defer nc.Close()

	_, chans, reqs, err := ssh.NewServerConn(nc, config)
	if err != nil {
		return
	}
	go ssh.DiscardRequests(reqs)

	for newCh := range chans {
		if newCh.ChannelType() != "session" {
			_ = newCh.Reject(ssh.UnknownChannelType, "only sessions are supported")
			continue
		}
		ch, chReqs, err := newCh.Accept()
		if err != nil {
			continue
		}
		go s.session(ch, chReqs, handle)
	}
}

func (s *testServer) session(ch ssh.Channel, reqs <-chan *ssh.Request, handle func(string) execReply) {
	defer ch.Close()

	for req := range reqs {
		if req.Type != "exec" {
			_ = req.Reply(false, nil)
			continue
		}

		var payload struct{ Command string }
		if err := ssh.Unmarshal(req.Payload, &payload); err != nil {
			_ = req.Reply(false, nil)
			return
		}
		_ = req.Reply(true, nil)
		s.execs.Add(1)

		reply := handle(payload.Command)
		_, _ = io.WriteString(ch, reply.stdout)
		_, _ = io.WriteString(ch.Stderr(), reply.stderr)
		_, _ = ch.SendRequest("exit-status", false, ssh.Marshal(struct{ Status uint32 }{reply.status}))
		return
	}
}

// options returns connector options that isolate a test from the user's SSH setup.
func (s *testServer) options(extra ...Option) []Option {
	_, port, _ := net.SplitHostPort(s.addr)
	opts := []Option{
		WithUser(testUser),
		WithPassword(testPassword),
		WithPort(port),
		WithoutAgent(),
		WithConfigFile(""),
		WithHostKeyCallback(ssh.FixedHostKey(s.hostKey)),
	}
	return append(opts, extra...)
}
