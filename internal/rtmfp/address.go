package rtmfp

import (
	"fmt"
	"net/netip"
)

// Address encoding flag bits (§6).
const (
	addressFlagPublic = 0x80 // bit 7: address is the peer's public socket address
	addressFamilyMask = 0x7f // bits 6..0: address family

	addressFamilyIPv4 = 1
	addressFamilyIPv6 = 2
)

// ReadAddress decodes an RTMFP-encoded address: flags(1), family-specific
// bytes (4 for IPv4, 16 for IPv6), port(2, big-endian). The returned bool
// reports whether the address was flagged as the peer's public address.
func (r *PacketReader) ReadAddress() (addr netip.AddrPort, public bool, err error) {
	flags, err := r.Read8()
	if err != nil {
		return netip.AddrPort{}, false, err
	}
	public = flags&addressFlagPublic != 0

	var ip netip.Addr
	switch flags & addressFamilyMask {
	case addressFamilyIPv4:
		var raw [4]byte
		if err := r.ReadRaw(raw[:]); err != nil {
			return netip.AddrPort{}, false, err
		}
		ip = netip.AddrFrom4(raw)
	case addressFamilyIPv6:
		var raw [16]byte
		if err := r.ReadRaw(raw[:]); err != nil {
			return netip.AddrPort{}, false, err
		}
		ip = netip.AddrFrom16(raw)
	default:
		return netip.AddrPort{}, false, fmt.Errorf("address family %#x: %w", flags&addressFamilyMask, ErrInvalidAddress)
	}

	port, err := r.Read16()
	if err != nil {
		return netip.AddrPort{}, false, err
	}
	return netip.AddrPortFrom(ip, port), public, nil
}

// WriteAddress emits a one-byte flags field (family, plus the public bit
// when public is true) followed by the family-specific address bytes and a
// big-endian port.
func (w *PacketWriter) WriteAddress(addr netip.AddrPort, public bool) error {
	ip := addr.Addr()

	var flags byte
	if public {
		flags |= addressFlagPublic
	}

	switch {
	case ip.Is4() || ip.Is4In6():
		flags |= addressFamilyIPv4
		if err := w.Write8(flags); err != nil {
			return err
		}
		b := ip.As4()
		if err := w.WriteRaw(b[:]); err != nil {
			return err
		}
	case ip.Is6():
		flags |= addressFamilyIPv6
		if err := w.Write8(flags); err != nil {
			return err
		}
		b := ip.As16()
		if err := w.WriteRaw(b[:]); err != nil {
			return err
		}
	default:
		return fmt.Errorf("address %v: %w", addr, ErrInvalidAddress)
	}

	return w.Write16(addr.Port())
}
