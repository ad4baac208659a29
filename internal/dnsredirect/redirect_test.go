package dnsredirect

import (
	"errors"
	"io"
	"log/slog"
	"net"
	"net/netip"
	"sync/atomic"
	"testing"
	"time"

	"github.com/miekg/dns"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var portalAddr = netip.MustParseAddr("192.168.4.1")

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestAnswer(t *testing.T) {
	req := new(dns.Msg)
	req.SetQuestion("connectivitycheck.gstatic.com.", dns.TypeA)

	reply := Answer(req, portalAddr)
	assert.Equal(t, req.Id, reply.Id)
	assert.True(t, reply.Response)
	assert.Equal(t, dns.RcodeSuccess, reply.Rcode)
	require.Len(t, reply.Answer, 1)

	a, ok := reply.Answer[0].(*dns.A)
	require.True(t, ok)
	assert.Equal(t, "connectivitycheck.gstatic.com.", a.Hdr.Name)
	assert.Equal(t, uint32(DefaultTTL), a.Hdr.Ttl)
	assert.True(t, a.A.Equal(net.IPv4(192, 168, 4, 1)))
}

func TestAnswerNonAQuestion(t *testing.T) {
	req := new(dns.Msg)
	req.SetQuestion("example.com.", dns.TypeAAAA)

	reply := Answer(req, portalAddr)
	assert.Equal(t, dns.RcodeSuccess, reply.Rcode)
	assert.Empty(t, reply.Answer)
}

func TestListenRejectsIPv6(t *testing.T) {
	_, err := Listen("127.0.0.1:0", netip.MustParseAddr("::1"), quietLogger())
	assert.Error(t, err)
}

func TestProcessNext(t *testing.T) {
	r, err := Listen("127.0.0.1:0", portalAddr, quietLogger())
	require.NoError(t, err)
	defer r.Close()

	handled, err := r.ProcessNext()
	require.NoError(t, err)
	assert.False(t, handled, "nothing pending")

	type result struct {
		msg *dns.Msg
		err error
	}
	results := make(chan result, 1)
	go func() {
		c := &dns.Client{Net: "udp", Timeout: 2 * time.Second}
		req := new(dns.Msg)
		req.SetQuestion(dns.Fqdn("anything.example"), dns.TypeA)
		msg, _, err := c.Exchange(req, r.Addr().String())
		results <- result{msg, err}
	}()

	deadline := time.Now().Add(2 * time.Second)
	for {
		handled, err := r.ProcessNext()
		require.NoError(t, err)
		if handled {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("query never arrived")
		}
		time.Sleep(time.Millisecond)
	}

	res := <-results
	require.NoError(t, res.err)
	require.Len(t, res.msg.Answer, 1)
	a := res.msg.Answer[0].(*dns.A)
	assert.Equal(t, "anything.example.", a.Hdr.Name)
	assert.True(t, a.A.Equal(net.IPv4(192, 168, 4, 1)))
}

func TestProcessNextDropsGarbage(t *testing.T) {
	r, err := Listen("127.0.0.1:0", portalAddr, quietLogger())
	require.NoError(t, err)
	defer r.Close()

	conn, err := net.Dial("udp", r.Addr().String())
	require.NoError(t, err)
	defer conn.Close()
	_, err = conn.Write([]byte{0x01, 0x02})
	require.NoError(t, err)

	deadline := time.Now().Add(2 * time.Second)
	for {
		handled, err := r.ProcessNext()
		require.NoError(t, err)
		if handled {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("packet never arrived")
		}
		time.Sleep(time.Millisecond)
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	r, err := Listen("127.0.0.1:0", portalAddr, quietLogger())
	require.NoError(t, err)
	require.NoError(t, r.Close())
	require.NoError(t, r.Close())
}

// brokenConn fails every read without ever closing.
type brokenConn struct {
	net.PacketConn
	reads atomic.Int32
}

func (c *brokenConn) ReadFrom([]byte) (int, net.Addr, error) {
	c.reads.Add(1)
	return 0, nil, errors.New("network is down")
}

func (c *brokenConn) LocalAddr() net.Addr { return &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)} }
func (c *brokenConn) Close() error        { return nil }

func TestReceiveStopsOnPersistentReadErrors(t *testing.T) {
	conn := &brokenConn{}
	r := newRedirector(conn, portalAddr, quietLogger(), time.Microsecond)

	stopped := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("receiver kept reading a failing socket")
	}
	assert.Equal(t, int32(maxReadErrors), conn.reads.Load())

	handled, err := r.ProcessNext()
	require.NoError(t, err)
	assert.False(t, handled)
	require.NoError(t, r.Close())
}
