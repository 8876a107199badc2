// SPDX-License-Identifier: MPL-2.0

// Package endpoint binds the RTP/RTCP UDP socket pair for a call leg and
// implements symmetric RTP (comedia) latching: the first valid source
// address observed on a socket becomes the target for that socket's
// writes, and a later address change re-latches rather than sticking
// forever, per spec.md §4.3.
package endpoint

import (
	"errors"
	"fmt"
	"net"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

var (
	ErrInvalidSource = errors.New("endpoint: invalid source address")
)

// Debug gates per-packet source tracing.
var Debug = false

// Endpoint owns a bound RTP+RTCP UDP socket pair and the latching state
// for each. RTCP always binds to RTP's port + 1, matching the teacher's
// listenRTPandRTCP convention.
type Endpoint struct {
	log zerolog.Logger

	rtpConn  *net.UDPConn
	rtcpConn *net.UDPConn

	expectedAddr *net.UDPAddr

	latchedRTP  atomic.Pointer[net.UDPAddr]
	latchedRTCP atomic.Pointer[net.UDPAddr]
}

// Bind opens the RTP socket at laddr and the RTCP socket at laddr's port+1.
// expected is the address negotiated out-of-band (from SDP); it seeds
// symmetric latching until the first inbound packet is observed.
func Bind(laddr *net.UDPAddr, expected *net.UDPAddr, log zerolog.Logger) (*Endpoint, error) {
	rtpConn, err := net.ListenUDP("udp", &net.UDPAddr{IP: laddr.IP, Port: laddr.Port})
	if err != nil {
		return nil, fmt.Errorf("endpoint: bind rtp: %w", err)
	}
	bound := rtpConn.LocalAddr().(*net.UDPAddr)

	rtcpConn, err := net.ListenUDP("udp", &net.UDPAddr{IP: bound.IP, Port: bound.Port + 1})
	if err != nil {
		rtpConn.Close()
		return nil, fmt.Errorf("endpoint: bind rtcp: %w", err)
	}

	e := &Endpoint{
		log:          log.With().Str("component", "endpoint").Logger(),
		rtpConn:      rtpConn,
		rtcpConn:     rtcpConn,
		expectedAddr: expected,
	}
	return e, nil
}

// LocalAddr returns the bound RTP address (RTCP is this port + 1).
func (e *Endpoint) LocalAddr() *net.UDPAddr {
	return e.rtpConn.LocalAddr().(*net.UDPAddr)
}

// SetReadDeadlineRTP sets the read deadline on the RTP socket.
func (e *Endpoint) SetReadDeadlineRTP(t time.Time) error {
	return e.rtpConn.SetReadDeadline(t)
}

// Close shuts down both sockets.
func (e *Endpoint) Close() error {
	err1 := e.rtpConn.Close()
	err2 := e.rtcpConn.Close()
	return errors.Join(err1, err2)
}

// validSource rejects the unspecified and broadcast addresses, which a
// comedia latch must never accept as a call's media source.
func validSource(addr *net.UDPAddr) bool {
	if addr == nil {
		return false
	}
	if addr.IP.IsUnspecified() {
		return false
	}
	if ip4 := addr.IP.To4(); ip4 != nil && ip4.Equal(net.IPv4bcast) {
		return false
	}
	return true
}

// ReadRTP reads one datagram into buf and returns its length and source
// address, latching onto the source the first time a valid packet is
// seen and re-latching whenever the source subsequently changes —
// spec.md §4.3's explicit departure from the teacher's latch-once policy.
func (e *Endpoint) ReadRTP(buf []byte) (int, *net.UDPAddr, error) {
	n, from, err := e.rtpConn.ReadFrom(buf)
	if err != nil {
		return 0, nil, err
	}
	fromAddr, ok := from.(*net.UDPAddr)
	if !ok || !validSource(fromAddr) {
		return n, nil, nil
	}

	prev := e.latchedRTP.Swap(fromAddr)
	if Debug && (prev == nil || prev.String() != fromAddr.String()) {
		e.log.Debug().Str("addr", fromAddr.String()).Msg("rtp source latched")
	}
	return n, fromAddr, nil
}

// ReadRTCP reads one RTCP datagram, applying the same latching policy on
// its own independent source.
func (e *Endpoint) ReadRTCP(buf []byte) (int, *net.UDPAddr, error) {
	n, from, err := e.rtcpConn.ReadFrom(buf)
	if err != nil {
		return 0, nil, err
	}
	fromAddr, ok := from.(*net.UDPAddr)
	if !ok || !validSource(fromAddr) {
		return n, nil, nil
	}

	prev := e.latchedRTCP.Swap(fromAddr)
	if Debug && (prev == nil || prev.String() != fromAddr.String()) {
		e.log.Debug().Str("addr", fromAddr.String()).Msg("rtcp source latched")
	}
	return n, fromAddr, nil
}

// WriteRTP writes buf to the latched RTP address, falling back to the
// expected (negotiated) address until a source has been observed.
func (e *Endpoint) WriteRTP(buf []byte) (int, error) {
	addr := e.latchedRTP.Load()
	if addr == nil {
		addr = e.expectedAddr
	}
	if addr == nil {
		return 0, ErrInvalidSource
	}
	return e.rtpConn.WriteToUDP(buf, addr)
}

// WriteRTCP writes buf to the latched RTCP address. If RTCP has not
// latched on its own, it targets the latched RTP endpoint's port + 1
// (per spec.md §4.6) rather than the original signaled address, since a
// NAT-rewritten RTP source means the signaled RTCP port is stale too.
// Only when neither side has latched does it fall back to the
// signaled expected address.
func (e *Endpoint) WriteRTCP(buf []byte) (int, error) {
	addr := e.latchedRTCP.Load()
	if addr == nil {
		if rtp := e.latchedRTP.Load(); rtp != nil {
			addr = &net.UDPAddr{IP: rtp.IP, Port: rtp.Port + 1}
		} else if e.expectedAddr != nil {
			addr = &net.UDPAddr{IP: e.expectedAddr.IP, Port: e.expectedAddr.Port + 1}
		}
	}
	if addr == nil {
		return 0, ErrInvalidSource
	}
	return e.rtcpConn.WriteToUDP(buf, addr)
}

// LatchedRTP returns the currently latched RTP source, or nil if none
// has been observed yet.
func (e *Endpoint) LatchedRTP() *net.UDPAddr {
	return e.latchedRTP.Load()
}

// LatchedRTCP returns the currently latched RTCP source, or nil if none
// has been observed yet.
func (e *Endpoint) LatchedRTCP() *net.UDPAddr {
	return e.latchedRTCP.Load()
}
