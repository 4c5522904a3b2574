// SPDX-License-Identifier: GPL-3.0-or-later

package rush

import "errors"

// The five error categories of spec.md §7. Callers classify an error by
// wrapping it with one of these sentinels via fmt.Errorf("%w: ...", ErrX)
// and test membership with errors.Is, the same shape as the teacher's
// errorsMap/errorsRemap classification pattern applied to this program's
// own taxonomy instead of gVisor's.
var (
	// ErrConfig is a configuration error: schema violation, invalid
	// range, duplicate label, reserved label. The caller rejects the new
	// spec and keeps the prior one.
	ErrConfig = errors.New("rush: configuration error")

	// ErrInit is an initialization error: cannot open or bind a socket,
	// cannot map a profile file. Fatal at startup.
	ErrInit = errors.New("rush: initialization error")

	// ErrIO is a runtime I/O error: a send or receive failure on an
	// already-open socket. Counted as a drop, never fatal.
	ErrIO = errors.New("rush: runtime I/O error")

	// ErrResource is resource exhaustion: the packet pool is empty or a
	// link has no free slot. Pool exhaustion is fatal (it implies
	// misconfiguration); a full link is only a counted drop.
	ErrResource = errors.New("rush: resource exhaustion")

	// ErrMalformedPacket marks a packet shorter than the parse prefix a
	// header view needs. Callers fall through to the default flow;
	// never crash on this.
	ErrMalformedPacket = errors.New("rush: malformed packet")
)
