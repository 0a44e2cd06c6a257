package replaygrpc

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/GeoCodeCrafter/md-replay/internal/replay/replaypb"
)

var streamEventsDesc = grpc.StreamDesc{
	StreamName:    "StreamEvents",
	ServerStreams: true,
	ClientStreams: false,
}

// Dial opens a plaintext client connection to a replay service.
func Dial(target string) (*grpc.ClientConn, error) {
	return grpc.NewClient(target,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(grpc.ForceCodec(replaypb.Codec{})),
	)
}

// EventStream is the client half of a StreamEvents call.
type EventStream struct {
	cs grpc.ClientStream
}

// StreamEvents starts a replay stream over an existing connection.
func StreamEvents(ctx context.Context, conn *grpc.ClientConn, req *replaypb.StreamRequest) (*EventStream, error) {
	cs, err := conn.NewStream(ctx, &streamEventsDesc, StreamEventsMethod)
	if err != nil {
		return nil, err
	}
	if err := cs.SendMsg(req); err != nil {
		return nil, err
	}
	if err := cs.CloseSend(); err != nil {
		return nil, err
	}
	return &EventStream{cs: cs}, nil
}

// Recv returns the next replayed event, or io.EOF at end of stream.
func (s *EventStream) Recv() (*replaypb.EventMessage, error) {
	msg := new(replaypb.EventMessage)
	if err := s.cs.RecvMsg(msg); err != nil {
		return nil, err
	}
	return msg, nil
}
