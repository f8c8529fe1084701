package admission

import (
	"net"
	"testing"
)

func fakeConn(t *testing.T) net.Conn {
	t.Helper()
	client, server := net.Pipe()
	t.Cleanup(func() { client.Close(); server.Close() })
	return client
}

// fakeAddrConn wraps a net.Pipe conn with a distinguishable RemoteAddr,
// since every net.Pipe() endpoint otherwise reports the same "pipe" address.
type fakeAddrConn struct {
	net.Conn
	addr net.Addr
}

func (f *fakeAddrConn) RemoteAddr() net.Addr { return f.addr }

type stringAddr string

func (s stringAddr) Network() string { return "tcp" }
func (s stringAddr) String() string  { return string(s) }

func fakeConnFrom(t *testing.T, host string) net.Conn {
	t.Helper()
	client, server := net.Pipe()
	t.Cleanup(func() { client.Close(); server.Close() })
	return &fakeAddrConn{Conn: client, addr: stringAddr(host + ":12345")}
}

func TestDisabledAlwaysAdmits(t *testing.T) {
	l := NewLimiter(false, 1, 1)
	conn := fakeConn(t)
	for i := 0; i < 5; i++ {
		if !l.Admit(conn) {
			t.Fatalf("iteration %d: expected disabled limiter to always admit", i)
		}
	}
}

func TestCapacityExhaustsThenRefuses(t *testing.T) {
	l := NewLimiter(true, 2, 0)
	conn := fakeConn(t)

	if !l.Admit(conn) {
		t.Fatal("expected first admit to succeed")
	}
	if !l.Admit(conn) {
		t.Fatal("expected second admit to succeed")
	}
	if l.Admit(conn) {
		t.Fatal("expected third admit to be refused once capacity is exhausted")
	}
}

func TestBucketsAreKeyedPerRemoteAddr(t *testing.T) {
	l := NewLimiter(true, 1, 0)

	a, b := fakeConnFrom(t, "10.0.0.1"), fakeConnFrom(t, "10.0.0.2")
	if !l.Admit(a) {
		t.Fatal("expected first connection's first admit to succeed")
	}
	if !l.Admit(b) {
		t.Fatal("expected a distinct remote address to get its own bucket")
	}
}
