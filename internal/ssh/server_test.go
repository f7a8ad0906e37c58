package ssh_test

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"tamperkv/internal/hostkey"
	"tamperkv/internal/logging"
	sshserver "tamperkv/internal/ssh"

	gossh "golang.org/x/crypto/ssh"
)

type shell struct {
	send    func(string)
	waitFor func(string)
}

// newServer builds a server with one authorized client key and returns it
// with the client's signer.
func newServer(t *testing.T, rate float64) (*sshserver.Server, gossh.Signer) {
	t.Helper()
	tmpDir := t.TempDir()

	hk, err := hostkey.Load(tmpDir)
	if err != nil {
		t.Fatalf("hostkey: %v", err)
	}

	clientPub, clientPriv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generating client key: %v", err)
	}
	sshPub, err := gossh.NewPublicKey(clientPub)
	if err != nil {
		t.Fatalf("converting client key: %v", err)
	}
	authKeysPath := filepath.Join(tmpDir, "authorized_keys")
	if err := os.WriteFile(authKeysPath, gossh.MarshalAuthorizedKey(sshPub), 0600); err != nil {
		t.Fatalf("writing authorized_keys: %v", err)
	}

	srv, err := sshserver.NewServer("127.0.0.1:0", hk.Signer, authKeysPath, rate)
	if err != nil {
		t.Fatalf("creating server: %v", err)
	}
	signer, err := gossh.NewSignerFromKey(clientPriv)
	if err != nil {
		t.Fatalf("client signer: %v", err)
	}
	return srv, signer
}

// startShell starts srv and opens an interactive shell session as "tester".
func startShell(t *testing.T, srv *sshserver.Server, signer gossh.Signer) *shell {
	t.Helper()
	if err := srv.Listen(); err != nil {
		t.Fatalf("listen: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(func() {
		cancel()
		srv.Stop()
	})
	go func() { _ = srv.Serve(ctx) }()

	client, err := gossh.Dial("tcp", srv.Addr(), &gossh.ClientConfig{
		User:            "tester",
		Auth:            []gossh.AuthMethod{gossh.PublicKeys(signer)},
		HostKeyCallback: gossh.InsecureIgnoreHostKey(),
		Timeout:         5 * time.Second,
	})
	if err != nil {
		t.Fatalf("ssh dial: %v", err)
	}
	t.Cleanup(func() { _ = client.Close() })

	session, err := client.NewSession()
	if err != nil {
		t.Fatalf("new session: %v", err)
	}
	t.Cleanup(func() { _ = session.Close() })

	if err := session.RequestPty("xterm", 40, 200, gossh.TerminalModes{}); err != nil {
		t.Fatalf("pty: %v", err)
	}
	stdin, err := session.StdinPipe()
	if err != nil {
		t.Fatalf("stdin: %v", err)
	}
	stdout, err := session.StdoutPipe()
	if err != nil {
		t.Fatalf("stdout: %v", err)
	}
	if err := session.Shell(); err != nil {
		t.Fatalf("shell: %v", err)
	}

	var mu sync.Mutex
	var buf strings.Builder
	go func() {
		tmp := make([]byte, 4096)
		for {
			n, err := stdout.Read(tmp)
			if n > 0 {
				mu.Lock()
				buf.Write(tmp[:n])
				mu.Unlock()
			}
			if err != nil {
				return
			}
		}
	}()

	// pos tracks where we last matched, so each waitFor only looks at new output
	pos := 0
	sh := &shell{}
	sh.waitFor = func(substr string) {
		t.Helper()
		deadline := time.Now().Add(5 * time.Second)
		for time.Now().Before(deadline) {
			mu.Lock()
			got := buf.String()
			mu.Unlock()
			if idx := strings.Index(got[pos:], substr); idx >= 0 {
				pos += idx + len(substr)
				return
			}
			time.Sleep(50 * time.Millisecond)
		}
		mu.Lock()
		got := buf.String()
		mu.Unlock()
		t.Fatalf("timeout waiting for %q in output:\n%s", substr, got[pos:])
	}
	sh.send = func(cmd string) {
		if _, err := stdin.Write([]byte(cmd + "\r")); err != nil {
			t.Fatalf("writing command %q: %v", cmd, err)
		}
	}
	return sh
}

func TestShellSession(t *testing.T) {
	capture := logging.CaptureForTest()
	defer capture.Restore()

	srv, signer := newServer(t, 100)
	srv.Commands().Register("/echo", sshserver.Command{
		Usage: "/echo <text>",
		Help:  "echo text back",
		Handler: func(ctx sshserver.CommandContext) bool {
			_, _ = fmt.Fprintf(ctx.Terminal, "echo:[%s]\r\n", ctx.Raw)
			return false
		},
	})
	sh := startShell(t, srv, signer)

	sh.waitFor("Type /help for commands.")

	sh.send("/echo hello   spaced  world")
	sh.waitFor("echo:[hello   spaced  world]")

	sh.send("/whoami")
	sh.waitFor("tester (session ")

	sh.send("/help")
	sh.waitFor("Commands:")
	sh.waitFor("/whoami")
	sh.waitFor("/quit")
	sh.waitFor("/help")
	sh.waitFor("/echo <text>")

	sh.send("plain text")
	sh.waitFor("Commands start with /")

	sh.send("/bogus")
	sh.waitFor("Unknown command: /bogus")

	sh.send("/quit")
	sh.waitFor("Goodbye")

	time.Sleep(100 * time.Millisecond) // let server process disconnect

	if !capture.Has(slog.LevelInfo, "client connected") {
		t.Error("expected INFO log: client connected")
	}
	if !capture.Has(slog.LevelDebug, "session started") {
		t.Error("expected DEBUG log: session started")
	}
	if !capture.Has(slog.LevelDebug, "session ended") {
		t.Error("expected DEBUG log: session ended")
	}
	if capture.Count(slog.LevelError) != 0 {
		t.Errorf("unexpected ERROR logs: %d", capture.Count(slog.LevelError))
	}
}

func TestShellRateLimit(t *testing.T) {
	srv, signer := newServer(t, 1) // burst of 2
	sh := startShell(t, srv, signer)
	sh.waitFor("Type /help for commands.")

	for i := 0; i < 4; i++ {
		sh.send("/whoami")
	}
	sh.waitFor("Rate limit exceeded")
}

func TestRejectsUnknownKey(t *testing.T) {
	srv, _ := newServer(t, 10)
	if err := srv.Listen(); err != nil {
		t.Fatalf("listen: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer func() {
		cancel()
		srv.Stop()
	}()
	go func() { _ = srv.Serve(ctx) }()

	_, strangerPriv, _ := ed25519.GenerateKey(rand.Reader)
	stranger, err := gossh.NewSignerFromKey(strangerPriv)
	if err != nil {
		t.Fatal(err)
	}
	_, err = gossh.Dial("tcp", srv.Addr(), &gossh.ClientConfig{
		User:            "mallory",
		Auth:            []gossh.AuthMethod{gossh.PublicKeys(stranger)},
		HostKeyCallback: gossh.InsecureIgnoreHostKey(),
		Timeout:         5 * time.Second,
	})
	if err == nil {
		t.Fatal("expected authentication failure for an unknown key")
	}
}

func TestNewServerNilHostKey(t *testing.T) {
	if _, err := sshserver.NewServer("127.0.0.1:0", nil, "", 10); err == nil {
		t.Fatal("expected error for nil host key")
	}
}

func TestSSHServerStart(t *testing.T) {
	srv, _ := newServer(t, 10)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start(ctx)
	}()

	// Wait for the server to be listening
	deadline := time.Now().Add(5 * time.Second)
	for srv.Addr() == "" && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if srv.Addr() == "" {
		t.Fatal("server did not start listening")
	}

	cancel()
	srv.Stop()

	select {
	case err := <-errCh:
		if err != nil {
			t.Errorf("Start returned unexpected error: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Start did not return after cancel+stop")
	}
}

func TestCommandRegistryFreezesAfterListen(t *testing.T) {
	srv, _ := newServer(t, 10)

	// Should be able to register before Listen
	srv.Commands().Register("/custom", sshserver.Command{
		Help:    "custom command",
		Handler: func(_ sshserver.CommandContext) bool { return false },
	})

	if err := srv.Listen(); err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer srv.Stop()

	defer func() {
		r := recover()
		if r == nil {
			t.Fatal("expected panic when registering after Listen")
		}
		msg, ok := r.(string)
		if !ok || !strings.Contains(msg, "frozen") {
			t.Errorf("unexpected panic value: %v", r)
		}
	}()
	srv.Commands().Register("/toobad", sshserver.Command{
		Help:    "should panic",
		Handler: func(_ sshserver.CommandContext) bool { return false },
	})
}
