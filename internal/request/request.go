// Package request implements the wire-parsing / disk-read / network-send
// collaborator the dispatch core treats as an external contract
// (spec.md §6): New, ReadFile, SendFile, Destroy. The core itself
// never looks inside a request beyond the file name it writes into the
// shared FileData.
//
// The wire format is a minimal HTTP/1.0 GET subset, in the spirit of the
// original C lab's request.c: a single request line naming the file,
// optional header lines terminated by a blank line, and a response with a
// status line, a Content-Length header, and the raw bytes.
package request

import (
	"bufio"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"

	"github.com/netshelf/filedispatch/internal/cache"
)

// Request is an in-flight job: the connection it arrived on, and the
// FileData the dispatch core fills in for it (from disk, or on a cache hit
// by pointing it at the cached entry's bytes under the lock).
type Request struct {
	conn   net.Conn
	reader *bufio.Reader
	file   *cache.FileData
}

// New parses the request line from conn, writes the requested file name
// into file.Name, and returns a Request. It returns an error on malformed
// input (spec.md's MalformedRequest outcome) — callers close the
// connection and move on without ever touching the cache.
func New(conn net.Conn, file *cache.FileData) (*Request, error) {
	reader := bufio.NewReader(conn)

	line, err := reader.ReadString('\n')
	if err != nil {
		return nil, fmt.Errorf("request: read request line: %w", err)
	}

	fields := strings.Fields(line)
	if len(fields) < 2 || fields[0] != "GET" {
		return nil, fmt.Errorf("request: malformed request line %q", strings.TrimSpace(line))
	}

	name, err := sanitizeName(fields[1])
	if err != nil {
		return nil, err
	}

	// Drain any remaining header lines up to the blank line that ends an
	// HTTP/1.0-style request; their contents are not interpreted.
	for {
		l, err := reader.ReadString('\n')
		if err != nil || l == "\r\n" || l == "\n" {
			break
		}
	}

	file.Name = name
	return &Request{conn: conn, reader: reader, file: file}, nil
}

func sanitizeName(target string) (string, error) {
	name := strings.TrimPrefix(target, "/")
	if name == "" {
		return "", fmt.Errorf("request: empty file name")
	}
	if strings.Contains(name, "..") {
		return "", fmt.Errorf("request: path traversal in file name %q", target)
	}
	return name, nil
}

// ReadFile reads the requested file from disk under root, populating
// file.Bytes and file.Size. A failure here is spec.md's DiskReadFailed
// outcome — the cache is left untouched.
func (r *Request) ReadFile(root string) error {
	path := filepath.Join(root, r.file.Name)
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("request: read file %q: %w", r.file.Name, err)
	}
	r.file.Bytes = data
	r.file.Size = len(data)
	return nil
}

// SendFile writes the wire response — status line, Content-Length, body —
// to the connection.
func (r *Request) SendFile() error {
	header := fmt.Sprintf("HTTP/1.0 200 OK\r\nContent-Length: %d\r\nConnection: close\r\n\r\n", r.file.Size)
	if _, err := r.conn.Write([]byte(header)); err != nil {
		return fmt.Errorf("request: write header: %w", err)
	}
	if _, err := r.conn.Write(r.file.Bytes); err != nil {
		return fmt.Errorf("request: write body: %w", err)
	}
	return nil
}

// Destroy releases request-local resources: closing the connection.
func (r *Request) Destroy() {
	r.conn.Close()
}
