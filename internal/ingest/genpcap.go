package ingest

import (
	"bufio"
	"encoding/binary"
	"math/rand"
	"os"

	"github.com/GeoCodeCrafter/md-replay/errs"
)

const genEpochNS = uint64(1_700_000_000_000_000_000)

// GeneratePcap writes a reproducible libpcap capture of synthetic feed
// traffic. Timestamps advance by random 200-5000 ns steps; every 97th
// packet is pulled 1000-40000 ns backwards to create mild out-of-order,
// and every 137th packet carries a deliberately malformed payload of
// 1-15 random bytes. The remaining packets split roughly 55% AddOrder,
// 45% Trade. The same seed always produces the same capture.
func GeneratePcap(path string, symbols []string, events int, seed int64) error {
	if len(symbols) == 0 {
		return errs.New(errs.KindConfigurationInvalid, errs.WithMessage("symbols list is empty"))
	}

	rng := rand.New(rand.NewSource(seed))
	f, err := os.Create(path) // #nosec G304 -- output path is operator provided.
	if err != nil {
		return errs.New(errs.KindStorageIO, errs.WithPath(path), errs.WithCause(err))
	}
	w := bufio.NewWriter(f)

	writeGlobalHeader(w)

	tsNS := genEpochNS
	for i := 0; i < events; i++ {
		tsNS += uint64(200 + rng.Int63n(4_800))
		if i%97 == 0 {
			jitter := uint64(1_000 + rng.Int63n(39_000))
			if jitter > tsNS {
				jitter = tsNS
			}
			tsNS -= jitter
		}

		symbol := symbols[rng.Intn(len(symbols))]
		var payload []byte
		switch {
		case i%137 == 0:
			payload = malformedPayload(rng)
		case rng.Float64() < 0.55:
			side := byte(0)
			if rng.Float64() < 0.5 {
				side = 1
			}
			payload = addOrderPayload(tsNS, symbol, side, 10_000+rng.Int63n(40_000), 1+rng.Int63n(499))
		default:
			payload = tradePayload(tsNS, symbol, 10_000+rng.Int63n(40_000), 1+rng.Int63n(499))
		}

		frame := buildUDPFrame(uint16(i), payload)
		writePacket(w, tsNS, frame)
	}

	if err := w.Flush(); err != nil {
		_ = f.Close()
		return errs.New(errs.KindStorageIO, errs.WithPath(path), errs.WithCause(err))
	}
	if err := f.Close(); err != nil {
		return errs.New(errs.KindStorageIO, errs.WithPath(path), errs.WithCause(err))
	}
	return nil
}

func writeGlobalHeader(w *bufio.Writer) {
	var hdr [pcapGlobalHeaderLen]byte
	binary.LittleEndian.PutUint32(hdr[0:4], pcapMagicMicro)
	binary.LittleEndian.PutUint16(hdr[4:6], 2)  // major version
	binary.LittleEndian.PutUint16(hdr[6:8], 4)  // minor version
	binary.LittleEndian.PutUint32(hdr[8:12], 0) // thiszone
	binary.LittleEndian.PutUint32(hdr[12:16], 0)
	binary.LittleEndian.PutUint32(hdr[16:20], 65_535) // snaplen
	binary.LittleEndian.PutUint32(hdr[20:24], 1)      // ethernet linktype
	_, _ = w.Write(hdr[:])
}

func writePacket(w *bufio.Writer, tsNS uint64, data []byte) {
	var hdr [pcapPacketHeaderLen]byte
	binary.LittleEndian.PutUint32(hdr[0:4], uint32(tsNS/1_000_000_000))
	binary.LittleEndian.PutUint32(hdr[4:8], uint32((tsNS%1_000_000_000)/1_000))
	binary.LittleEndian.PutUint32(hdr[8:12], uint32(len(data)))
	binary.LittleEndian.PutUint32(hdr[12:16], uint32(len(data)))
	_, _ = w.Write(hdr[:])
	_, _ = w.Write(data)
}

func addOrderPayload(tsNS uint64, symbol string, side byte, price, size int64) []byte {
	buf := make([]byte, 0, addOrderLen)
	buf = binary.BigEndian.AppendUint64(buf, tsNS)
	buf = binary.BigEndian.AppendUint32(buf, uint32(MsgAddOrder))
	buf = appendSymbol(buf, symbol)
	buf = append(buf, side)
	buf = binary.BigEndian.AppendUint64(buf, uint64(price))
	buf = binary.BigEndian.AppendUint64(buf, uint64(size))
	return buf
}

func tradePayload(tsNS uint64, symbol string, price, size int64) []byte {
	buf := make([]byte, 0, tradeLen)
	buf = binary.BigEndian.AppendUint64(buf, tsNS)
	buf = binary.BigEndian.AppendUint32(buf, uint32(MsgTrade))
	buf = appendSymbol(buf, symbol)
	buf = binary.BigEndian.AppendUint64(buf, uint64(price))
	buf = binary.BigEndian.AppendUint64(buf, uint64(size))
	return buf
}

func malformedPayload(rng *rand.Rand) []byte {
	data := make([]byte, 1+rng.Intn(15))
	rng.Read(data)
	return data
}

func appendSymbol(buf []byte, symbol string) []byte {
	var packed [8]byte
	for i := range packed {
		packed[i] = ' '
	}
	copy(packed[:], symbol)
	return append(buf, packed[:]...)
}

func buildUDPFrame(ident uint16, payload []byte) []byte {
	ipLen := ipv4MinHeader
	totalIP := uint16(ipLen + udpHeaderLen + len(payload))
	frame := make([]byte, etherHeaderLen+ipLen+udpHeaderLen+len(payload))

	copy(frame[0:6], []byte{0x01, 0x00, 0x5e, 0x01, 0x02, 0x03})
	copy(frame[6:12], []byte{0x02, 0x00, 0x00, 0x00, 0x00, 0x01})
	binary.BigEndian.PutUint16(frame[12:14], etherTypeIPv4)

	ip := etherHeaderLen
	frame[ip] = 0x45
	binary.BigEndian.PutUint16(frame[ip+2:ip+4], totalIP)
	binary.BigEndian.PutUint16(frame[ip+4:ip+6], ident)
	binary.BigEndian.PutUint16(frame[ip+6:ip+8], 0x4000) // don't fragment
	frame[ip+8] = 64
	frame[ip+9] = ipProtocolUDP
	copy(frame[ip+12:ip+16], []byte{10, 1, 1, 1})
	copy(frame[ip+16:ip+20], []byte{239, 1, 2, 3})
	binary.BigEndian.PutUint16(frame[ip+10:ip+12], ipv4Checksum(frame[ip:ip+ipLen]))

	udp := ip + ipLen
	binary.BigEndian.PutUint16(frame[udp:udp+2], 40_000)
	binary.BigEndian.PutUint16(frame[udp+2:udp+4], 50_000)
	binary.BigEndian.PutUint16(frame[udp+4:udp+6], uint16(udpHeaderLen+len(payload)))

	copy(frame[udp+udpHeaderLen:], payload)
	return frame
}

func ipv4Checksum(header []byte) uint16 {
	var sum uint32
	for i := 0; i+1 < len(header); i += 2 {
		sum += uint32(binary.BigEndian.Uint16(header[i : i+2]))
	}
	for sum>>16 != 0 {
		sum = (sum & 0xffff) + (sum >> 16)
	}
	return ^uint16(sum)
}
