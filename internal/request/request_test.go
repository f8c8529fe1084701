package request

import (
	"io"
	"net"
	"os"
	"path/filepath"
	"testing"

	"github.com/netshelf/filedispatch/internal/cache"
)

func pipePair(t *testing.T) (client, server net.Conn) {
	t.Helper()
	client, server = net.Pipe()
	t.Cleanup(func() { client.Close(); server.Close() })
	return client, server
}

// TestNewParsesFileName verifies a well-formed GET line yields the
// requested name.
func TestNewParsesFileName(t *testing.T) {
	client, server := pipePair(t)

	go func() {
		client.Write([]byte("GET /hello.txt HTTP/1.0\r\n\r\n"))
	}()

	file := &cache.FileData{}
	req, err := New(server, file)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if file.Name != "hello.txt" {
		t.Fatalf("expected name hello.txt, got %q", file.Name)
	}
	_ = req
}

// TestNewRejectsMalformed covers the MalformedRequest outcome.
func TestNewRejectsMalformed(t *testing.T) {
	client, server := pipePair(t)

	go func() {
		client.Write([]byte("NOT A REQUEST\r\n\r\n"))
	}()

	file := &cache.FileData{}
	if _, err := New(server, file); err == nil {
		t.Fatal("expected malformed request to be rejected")
	}
}

// TestNewRejectsPathTraversal ensures a ".." segment is refused rather
// than escaping the configured root.
func TestNewRejectsPathTraversal(t *testing.T) {
	client, server := pipePair(t)

	go func() {
		client.Write([]byte("GET /../etc/passwd HTTP/1.0\r\n\r\n"))
	}()

	file := &cache.FileData{}
	if _, err := New(server, file); err == nil {
		t.Fatal("expected path traversal attempt to be rejected")
	}
}

// TestReadFileAndSendFile covers the disk-read → send round trip.
func TestReadFileAndSendFile(t *testing.T) {
	dir := t.TempDir()
	want := []byte("the quick brown fox")
	if err := os.WriteFile(filepath.Join(dir, "doc.txt"), want, 0o644); err != nil {
		t.Fatal(err)
	}

	client, server := pipePair(t)
	go func() {
		client.Write([]byte("GET /doc.txt HTTP/1.0\r\n\r\n"))
	}()

	file := &cache.FileData{}
	req, err := New(server, file)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := req.ReadFile(dir); err != nil {
		t.Fatalf("unexpected read error: %v", err)
	}
	if string(file.Bytes) != string(want) {
		t.Fatalf("expected %q, got %q", want, file.Bytes)
	}

	go func() {
		if err := req.SendFile(); err != nil {
			t.Errorf("unexpected send error: %v", err)
		}
		req.Destroy()
	}()

	received, err := io.ReadAll(client)
	if err != nil {
		t.Fatalf("unexpected read error: %v", err)
	}
	if !containsBytes(received, want) {
		t.Fatalf("expected response to contain body %q, got %q", want, received)
	}
}

func containsBytes(haystack, needle []byte) bool {
	return len(haystack) >= len(needle) && string(haystack[len(haystack)-len(needle):]) == string(needle)
}
