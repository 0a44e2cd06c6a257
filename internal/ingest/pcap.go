package ingest

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/GeoCodeCrafter/md-replay/errs"
	"github.com/GeoCodeCrafter/md-replay/internal/event"
)

const (
	pcapMagicMicro = 0xa1b2c3d4
	pcapMagicNano  = 0xa1b23c4d

	pcapGlobalHeaderLen = 24
	pcapPacketHeaderLen = 16

	// Frames larger than this cannot come from a sane capture of the feed.
	pcapMaxPacketLen = 1 << 18
)

// pcapReader iterates packets of a classic libpcap capture file. Both
// byte orders and both timestamp resolutions are accepted.
type pcapReader struct {
	r     *bufio.Reader
	order binary.ByteOrder
	nano  bool
}

func newPcapReader(r io.Reader) (*pcapReader, error) {
	br := bufio.NewReader(r)
	header := make([]byte, pcapGlobalHeaderLen)
	if _, err := io.ReadFull(br, header); err != nil {
		return nil, errs.New(errs.KindInputFormat,
			errs.WithMessage("truncated pcap global header"),
			errs.WithCause(err))
	}

	var order binary.ByteOrder
	var nano bool
	switch magic := binary.LittleEndian.Uint32(header[0:4]); magic {
	case pcapMagicMicro:
		order, nano = binary.LittleEndian, false
	case pcapMagicNano:
		order, nano = binary.LittleEndian, true
	default:
		switch magic := binary.BigEndian.Uint32(header[0:4]); magic {
		case pcapMagicMicro:
			order, nano = binary.BigEndian, false
		case pcapMagicNano:
			order, nano = binary.BigEndian, true
		default:
			return nil, errs.New(errs.KindInputFormat,
				errs.WithMessage(fmt.Sprintf("unrecognized pcap magic 0x%08x", magic)))
		}
	}

	return &pcapReader{r: br, order: order, nano: nano}, nil
}

// next returns the next packet's capture timestamp (nanoseconds) and
// data, or io.EOF at the end of the capture.
func (p *pcapReader) next() (uint64, []byte, error) {
	header := make([]byte, pcapPacketHeaderLen)
	if _, err := io.ReadFull(p.r, header); err != nil {
		if errors.Is(err, io.EOF) {
			return 0, nil, io.EOF
		}
		return 0, nil, errs.New(errs.KindInputFormat,
			errs.WithMessage("truncated pcap packet header"),
			errs.WithCause(err))
	}

	tsSec := uint64(p.order.Uint32(header[0:4]))
	tsFrac := uint64(p.order.Uint32(header[4:8]))
	inclLen := p.order.Uint32(header[8:12])
	if inclLen > pcapMaxPacketLen {
		return 0, nil, errs.New(errs.KindInputFormat,
			errs.WithMessage(fmt.Sprintf("pcap packet length %d exceeds limit", inclLen)))
	}

	data := make([]byte, inclLen)
	if _, err := io.ReadFull(p.r, data); err != nil {
		return 0, nil, errs.New(errs.KindInputFormat,
			errs.WithMessage("truncated pcap packet data"),
			errs.WithCause(err))
	}

	ts := tsSec * 1_000_000_000
	if p.nano {
		ts += tsFrac
	} else {
		ts += tsFrac * 1_000
	}
	return ts, data, nil
}

// topBook is the transient per-symbol top-of-book carried through a
// single pcap ingest. It is never serialized.
type topBook struct {
	bidPx int64
	bidSz int64
	askPx int64
	askSz int64
}

// PcapResult pairs the sequenced events of a capture with the
// recoverable parse issues encountered along the way.
type PcapResult struct {
	Events []event.Event
	Issues []ParseIssue
}

// Pcap ingests a captured UDP feed into sequenced events. Malformed
// frames are recorded as issues and skipped; they do not consume an
// ingest-order slot. AddOrder messages update the per-symbol book and
// emit a quote snapshot; trades pass through.
func Pcap(path, venue string) (*PcapResult, error) {
	rc, err := openInput(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rc.Close() }()

	reader, err := newPcapReader(rc)
	if err != nil {
		return nil, fmt.Errorf("open pcap %s: %w", path, err)
	}

	var pending []event.Pending
	var issues []ParseIssue
	books := make(map[string]*topBook)
	packetIndex := uint64(0)
	ingestOrder := uint64(0)

	for {
		_, data, err := reader.next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read pcap %s: %w", path, err)
		}
		packetIndex++

		payload, err := ExtractUDPPayload(data)
		if err != nil {
			issues = append(issues, issueFrom(packetIndex, err))
			continue
		}

		msg, err := ParseMessage(payload)
		if err != nil {
			issues = append(issues, issueFrom(packetIndex, err))
			continue
		}

		ingestOrder++
		switch msg.Type {
		case MsgTrade:
			pending = append(pending, event.Pending{
				TimestampNS: msg.TimestampNS,
				Venue:       venue,
				Symbol:      msg.Symbol,
				Payload:     event.Trade{PriceTicks: msg.Price, Size: msg.Size},
				IngestOrder: ingestOrder,
			})
		case MsgAddOrder:
			book := books[msg.Symbol]
			if book == nil {
				book = &topBook{}
				books[msg.Symbol] = book
			}
			if msg.Side == SideBid {
				book.bidPx, book.bidSz = msg.Price, msg.Size
			} else {
				book.askPx, book.askSz = msg.Price, msg.Size
			}
			pending = append(pending, event.Pending{
				TimestampNS: msg.TimestampNS,
				Venue:       venue,
				Symbol:      msg.Symbol,
				Payload:     event.Quote{BidPx: book.bidPx, BidSz: book.bidSz, AskPx: book.askPx, AskSz: book.askSz},
				IngestOrder: ingestOrder,
			})
		}
	}

	return &PcapResult{
		Events: event.AssignSequences(pending),
		Issues: issues,
	}, nil
}

func issueFrom(packetIndex uint64, err error) ParseIssue {
	detail := err.Error()
	var e *errs.E
	if errors.As(err, &e) && e.Message != "" {
		detail = e.Message
	}
	return ParseIssue{
		PacketIndex: packetIndex,
		Offset:      errs.OffsetOf(err),
		Detail:      detail,
	}
}
