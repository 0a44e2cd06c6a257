package ingest

import (
	"encoding/binary"
	"fmt"

	"github.com/GeoCodeCrafter/md-replay/errs"
)

const (
	etherHeaderLen = 14
	etherTypeIPv4  = 0x0800
	ipv4MinHeader  = 20
	ipProtocolUDP  = 17
	udpHeaderLen   = 8
)

// ExtractUDPPayload peels the Ethernet II, IPv4, and UDP headers off a
// captured frame and returns the UDP payload slice. Failures carry the
// byte offset into the frame where validation stopped. IPv4 options are
// skipped arithmetically from the IHL field, never parsed.
func ExtractUDPPayload(data []byte) ([]byte, error) {
	if len(data) < etherHeaderLen {
		return nil, frameErr(0, "short ethernet header")
	}
	etherType := binary.BigEndian.Uint16(data[12:14])
	if etherType != etherTypeIPv4 {
		return nil, frameErr(12, fmt.Sprintf("unsupported ethertype 0x%04x", etherType))
	}

	ipOffset := etherHeaderLen
	if len(data) < ipOffset+ipv4MinHeader {
		return nil, frameErr(int64(ipOffset), "short ipv4 header")
	}

	versionIHL := data[ipOffset]
	version := versionIHL >> 4
	ihl := int(versionIHL&0x0f) * 4
	if version != 4 {
		return nil, frameErr(int64(ipOffset), fmt.Sprintf("unsupported ip version %d", version))
	}
	if ihl < ipv4MinHeader {
		return nil, frameErr(int64(ipOffset), "invalid ipv4 ihl")
	}
	if len(data) < ipOffset+ihl {
		return nil, frameErr(int64(ipOffset), "truncated ipv4 header")
	}

	proto := data[ipOffset+9]
	if proto != ipProtocolUDP {
		return nil, frameErr(int64(ipOffset+9), fmt.Sprintf("non-udp protocol %d", proto))
	}

	udpOffset := ipOffset + ihl
	if len(data) < udpOffset+udpHeaderLen {
		return nil, frameErr(int64(udpOffset), "short udp header")
	}

	udpLen := int(binary.BigEndian.Uint16(data[udpOffset+4 : udpOffset+6]))
	if udpLen < udpHeaderLen {
		return nil, frameErr(int64(udpOffset+4), "invalid udp length")
	}
	if len(data) < udpOffset+udpLen {
		return nil, frameErr(int64(udpOffset+4), "truncated udp payload")
	}

	return data[udpOffset+udpHeaderLen : udpOffset+udpLen], nil
}

func frameErr(offset int64, detail string) error {
	return errs.New(errs.KindBinaryParse, errs.WithMessage(detail), errs.WithOffset(offset))
}
