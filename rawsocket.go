// SPDX-License-Identifier: GPL-3.0-or-later

package rush

import (
	"fmt"
	"net"

	"github.com/bassosimone/runtimex"
	"github.com/rs/zerolog"
	"golang.org/x/sys/unix"
)

// netInterfaceByName resolves an interface name to its kernel index,
// the one piece of socket setup x/sys/unix has no direct lookup for.
func netInterfaceByName(name string) (int, error) {
	iface, err := net.InterfaceByName(name)
	if err != nil {
		return 0, err
	}
	return iface.Index, nil
}

// rawSocketPullBudget is the maximum number of frames [RawSocket] reads
// per pull call, per spec.md §4.4.
const rawSocketPullBudget = 100

// RawSocketConfig configures a [RawSocket] bound to a named interface.
type RawSocketConfig struct {
	Interface string
	Input     string
	Output    string
}

// NewApp implements [AppConfig]. Opening and binding the socket is an
// initialization error and fatal on failure, per spec.md §7 category 2.
func (c RawSocketConfig) NewApp() App {
	fd := runtimex.PanicOnError1(unix.Socket(unix.AF_PACKET, unix.SOCK_RAW, int(htons(unix.ETH_P_ALL))))

	runtimex.PanicOnError0(unix.SetNonblock(fd, true))

	iface := runtimex.PanicOnError1(netInterfaceByName(c.Interface))

	addr := &unix.SockaddrLinklayer{
		Protocol: htons(unix.ETH_P_ALL),
		Ifindex:  iface,
	}
	runtimex.PanicOnError0(unix.Bind(fd, addr))

	return &RawSocket{conf: c, fd: fd}
}

// htons converts a 16-bit value from host to network byte order.
func htons(v int) uint16 {
	return uint16(v>>8) | uint16(v<<8)
}

// RawSocket bridges a host network interface to the graph through an
// AF_PACKET/SOCK_RAW socket bound to the interface for all protocols
// (ETH_P_ALL); it does not switch the interface into promiscuous mode,
// so it sees the frames the interface itself accepts. pull reads up to
// rawSocketPullBudget frames, stopping the moment the kernel reports no
// more data (EAGAIN/EWOULDBLOCK); push writes every packet it's handed,
// freeing and counting a drop on write failure rather than ever
// propagating the error (spec.md §4.4, §7 category 3).
type RawSocket struct {
	conf RawSocketConfig
	fd   int

	RxPackets, RxDrop uint64
	TxPackets, TxDrop uint64
	lastIOErr         error
}

var _ Puller = (*RawSocket)(nil)
var _ Pusher = (*RawSocket)(nil)
var _ Stopper = (*RawSocket)(nil)
var _ Reporter = (*RawSocket)(nil)

// Pull implements [Puller].
func (r *RawSocket) Pull(st *AppState, budget int) {
	out := st.Out(r.conf.Output)
	if out == nil {
		return
	}
	for i := 0; i < budget && !out.Full(); i++ {
		pkt := st.Pool.Allocate()
		n, err := unix.Read(r.fd, pkt.Buffer())
		if err != nil {
			st.Pool.Free(pkt)
			if err != unix.EAGAIN && err != unix.EWOULDBLOCK {
				r.RxDrop++
				r.lastIOErr = fmt.Errorf("%w: read %s: %w", ErrIO, r.conf.Interface, err)
			}
			return
		}
		pkt.SetLength(n)
		out.Transmit(st.Pool, pkt)
		r.RxPackets++
	}
}

// Push implements [Pusher].
func (r *RawSocket) Push(st *AppState) {
	in := st.In(r.conf.Input)
	if in == nil {
		return
	}
	for !in.Empty() {
		pkt := in.Receive()
		_, err := unix.Write(r.fd, pkt.Bytes())
		if err != nil {
			r.TxDrop++
			r.lastIOErr = fmt.Errorf("%w: write %s: %w", ErrIO, r.conf.Interface, err)
		} else {
			r.TxPackets++
		}
		st.Pool.Free(pkt)
	}
}

// Stop implements [Stopper]: closes the socket.
func (r *RawSocket) Stop() {
	_ = unix.Close(r.fd)
}

// Report implements [Reporter].
func (r *RawSocket) Report(log zerolog.Logger) {
	log.Info().
		Str("interface", r.conf.Interface).
		Uint64("rx_packets", r.RxPackets).
		Uint64("rx_drop", r.RxDrop).
		Uint64("tx_packets", r.TxPackets).
		Uint64("tx_drop", r.TxDrop).
		AnErr("last_io_err", r.lastIOErr).
		Msg("raw socket report")
}
