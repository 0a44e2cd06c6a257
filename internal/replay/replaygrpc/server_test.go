package replaygrpc

import (
	"context"
	"errors"
	"io"
	"log"
	"net"
	"path/filepath"
	"testing"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/test/bufconn"

	"github.com/GeoCodeCrafter/md-replay/internal/event"
	"github.com/GeoCodeCrafter/md-replay/internal/replay"
	"github.com/GeoCodeCrafter/md-replay/internal/replay/replaypb"
	"github.com/GeoCodeCrafter/md-replay/internal/storage"
)

func startTestServer(t *testing.T, events []event.Event, defaults replay.Config) *grpc.ClientConn {
	t.Helper()

	dir := t.TempDir()
	logPath := filepath.Join(dir, "stream.eventlog")
	idxPath := logPath + ".idx"
	if err := storage.WriteLogAndIndex(logPath, idxPath, events, 2); err != nil {
		t.Fatalf("WriteLogAndIndex: %v", err)
	}

	logger := log.New(io.Discard, "", 0)
	server := NewServer(logPath, idxPath, defaults, logger)

	listener := bufconn.Listen(1 << 20)
	g := grpc.NewServer(grpc.ForceServerCodec(replaypb.Codec{}))
	server.Register(g)
	go func() { _ = g.Serve(listener) }()
	t.Cleanup(g.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return listener.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(grpc.ForceCodec(replaypb.Codec{})),
	)
	if err != nil {
		t.Fatalf("dial bufnet: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func testEvents() []event.Event {
	return []event.Event{
		event.NewTrade(100, 1, "X", "AAPL", 10, 1),
		event.NewQuote(200, 2, "X", "AAPL", event.Quote{BidPx: 9, BidSz: 1, AskPx: 11, AskSz: 1}),
		event.NewTrade(300, 3, "X", "MSFT", 12, 2),
	}
}

func TestStreamEventsDeliversAllInSequence(t *testing.T) {
	conn := startTestServer(t, testEvents(), replay.DefaultConfig())

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	stream, err := StreamEvents(ctx, conn, &replaypb.StreamRequest{MaxSpeed: true})
	if err != nil {
		t.Fatalf("StreamEvents: %v", err)
	}

	var got []event.Event
	for {
		msg, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			t.Fatalf("Recv: %v", err)
		}
		ev, err := msg.ToEvent()
		if err != nil {
			t.Fatalf("ToEvent: %v", err)
		}
		got = append(got, ev)
	}

	want := testEvents()
	if len(got) != len(want) {
		t.Fatalf("received %d events, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("event %d = %+v, want %+v", i, got[i], want[i])
		}
	}
}

func TestStreamEventsAppliesRangeFromRequest(t *testing.T) {
	conn := startTestServer(t, testEvents(), replay.DefaultConfig())

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	stream, err := StreamEvents(ctx, conn, &replaypb.StreamRequest{FromNS: 150, ToNS: 250, MaxSpeed: true})
	if err != nil {
		t.Fatalf("StreamEvents: %v", err)
	}

	count := 0
	for {
		msg, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			t.Fatalf("Recv: %v", err)
		}
		if msg.TimestampNS != 200 {
			t.Errorf("unexpected event ts %d in window", msg.TimestampNS)
		}
		count++
	}
	if count != 1 {
		t.Fatalf("window delivered %d events, want 1", count)
	}
}

func TestStreamEventsStopsWhenClientCancels(t *testing.T) {
	// A huge timestamp gap forces the pacer to sleep; cancellation must
	// still tear the stream down promptly.
	events := []event.Event{
		event.NewTrade(0, 1, "X", "AAPL", 1, 1),
		event.NewTrade(uint64(time.Hour), 2, "X", "AAPL", 2, 1),
	}
	conn := startTestServer(t, events, replay.DefaultConfig())

	ctx, cancel := context.WithCancel(context.Background())
	stream, err := StreamEvents(ctx, conn, &replaypb.StreamRequest{})
	if err != nil {
		cancel()
		t.Fatalf("StreamEvents: %v", err)
	}

	if _, err := stream.Recv(); err != nil {
		cancel()
		t.Fatalf("first Recv: %v", err)
	}
	cancel()

	deadline := time.After(5 * time.Second)
	for {
		_, err := stream.Recv()
		if err != nil {
			return // stream terminated, as expected
		}
		select {
		case <-deadline:
			t.Fatal("stream kept delivering after cancellation")
		default:
		}
	}
}

func TestMergeConfig(t *testing.T) {
	defaults := replay.Config{FromNS: 10, ToNS: 90, Speed: 2.0, MaxSpeed: false, StepMode: true}

	merged := MergeConfig(defaults, &replaypb.StreamRequest{})
	if merged != defaults {
		t.Fatalf("empty request should keep defaults, got %+v", merged)
	}

	merged = MergeConfig(defaults, &replaypb.StreamRequest{FromNS: 20, Speed: 4.5, MaxSpeed: true})
	if merged.FromNS != 20 || merged.ToNS != 90 {
		t.Errorf("range = (%d, %d), want (20, 90)", merged.FromNS, merged.ToNS)
	}
	if merged.Speed != 4.5 {
		t.Errorf("speed = %v, want 4.5", merged.Speed)
	}
	if !merged.MaxSpeed || !merged.StepMode {
		t.Error("booleans should OR with defaults")
	}

	merged = MergeConfig(defaults, &replaypb.StreamRequest{Speed: -1})
	if merged.Speed != 2.0 {
		t.Errorf("non-positive request speed should keep default, got %v", merged.Speed)
	}
}
