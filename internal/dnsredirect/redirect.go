// Package dnsredirect answers every DNS query with a single address. Pointing
// all names at the portal is what makes phones and laptops pop up their
// sign-in page after joining the provisioning network.
package dnsredirect

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/netip"
	"sync"
	"time"

	"github.com/miekg/dns"
)

// DefaultTTL is the lifetime given to redirected answers.
const DefaultTTL = 60

// queueSize bounds how many datagrams may wait for the poll loop before new
// ones are dropped. Clients retry, so dropping is harmless.
const queueSize = 16

// maxReadErrors is how many consecutive socket read failures the receiver
// tolerates before it stops. Each failure doubles the wait before the next
// read, starting at readBackoff and capped at maxReadBackoff.
const (
	maxReadErrors  = 8
	readBackoff    = 10 * time.Millisecond
	maxReadBackoff = time.Second
)

type packet struct {
	data []byte
	from net.Addr
}

// Redirector is a polled DNS responder. A background goroutine receives
// datagrams; ProcessNext answers them one at a time on the caller's
// goroutine.
type Redirector struct {
	conn    net.PacketConn
	answer  netip.Addr
	logger  *slog.Logger
	queue   chan packet
	done    chan struct{}
	wg      sync.WaitGroup
	closeMu sync.Once
	backoff time.Duration
}

// Listen binds a UDP socket on addr (":53" on a real device) and redirects
// every query to answer.
func Listen(addr string, answer netip.Addr, logger *slog.Logger) (*Redirector, error) {
	if !answer.Is4() {
		return nil, fmt.Errorf("redirect address %s is not IPv4", answer)
	}
	if logger == nil {
		logger = slog.Default()
	}
	conn, err := net.ListenPacket("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to listen for dns on %s: %w", addr, err)
	}
	r := newRedirector(conn, answer, logger, readBackoff)
	r.logger.Info("redirecting dns", "addr", conn.LocalAddr().String(), "answer", answer)
	return r, nil
}

func newRedirector(conn net.PacketConn, answer netip.Addr, logger *slog.Logger, backoff time.Duration) *Redirector {
	r := &Redirector{
		conn:    conn,
		answer:  answer,
		logger:  logger.With("component", "dns"),
		queue:   make(chan packet, queueSize),
		done:    make(chan struct{}),
		backoff: backoff,
	}
	r.wg.Add(1)
	go r.receive()
	return r
}

func (r *Redirector) receive() {
	defer r.wg.Done()
	buf := make([]byte, dns.MaxMsgSize)
	failures := 0
	for {
		n, from, err := r.conn.ReadFrom(buf)
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			failures++
			if failures >= maxReadErrors {
				r.logger.Error("dns socket keeps failing, no longer answering queries", "error", err)
				return
			}
			wait := min(r.backoff<<(failures-1), maxReadBackoff)
			r.logger.Debug("dns read failed", "error", err, "retry_in", wait)
			select {
			case <-time.After(wait):
			case <-r.done:
				return
			}
			continue
		}
		failures = 0
		p := packet{data: append([]byte(nil), buf[:n]...), from: from}
		select {
		case r.queue <- p:
		case <-r.done:
			return
		default:
			r.logger.Debug("dns queue full, dropping query", "from", from.String())
		}
	}
}

// Addr is the bound socket address.
func (r *Redirector) Addr() net.Addr {
	return r.conn.LocalAddr()
}

// ProcessNext answers at most one pending query. It never blocks and
// reports whether a query was handled.
func (r *Redirector) ProcessNext() (bool, error) {
	var p packet
	select {
	case p = <-r.queue:
	default:
		return false, nil
	}

	req := new(dns.Msg)
	if err := req.Unpack(p.data); err != nil {
		r.logger.Debug("dropping malformed dns packet", "from", p.from.String(), "error", err)
		return true, nil
	}
	if req.Response || req.Opcode != dns.OpcodeQuery {
		return true, nil
	}

	out, err := Answer(req, r.answer).Pack()
	if err != nil {
		return true, fmt.Errorf("failed to pack dns reply: %w", err)
	}
	if _, err := r.conn.WriteTo(out, p.from); err != nil {
		return true, fmt.Errorf("failed to send dns reply: %w", err)
	}
	return true, nil
}

// Close stops the receiver and releases the socket.
func (r *Redirector) Close() error {
	var err error
	r.closeMu.Do(func() {
		close(r.done)
		err = r.conn.Close()
		r.wg.Wait()
		r.logger.Info("stopped dns redirect")
	})
	return err
}

// Answer builds a NOERROR reply to req that resolves every A or ANY question
// to addr. Other question types get an empty answer section.
func Answer(req *dns.Msg, addr netip.Addr) *dns.Msg {
	reply := new(dns.Msg)
	reply.SetReply(req)
	reply.Authoritative = true
	reply.RecursionAvailable = req.RecursionDesired
	reply.Rcode = dns.RcodeSuccess

	ip := net.IP(addr.AsSlice())
	for _, q := range req.Question {
		if q.Qtype != dns.TypeA && q.Qtype != dns.TypeANY {
			continue
		}
		reply.Answer = append(reply.Answer, &dns.A{
			Hdr: dns.RR_Header{
				Name:   q.Name,
				Rrtype: dns.TypeA,
				Class:  dns.ClassINET,
				Ttl:    DefaultTTL,
			},
			A: ip,
		})
	}
	return reply
}
