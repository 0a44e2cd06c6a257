// Package replaygrpc exposes the replay engine as a streaming gRPC
// service. The service descriptor is registered by hand and all frames
// travel through the mdwire codec.
package replaygrpc

import (
	"context"
	"log"
	"net"

	"github.com/google/uuid"
	"github.com/sourcegraph/conc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/GeoCodeCrafter/md-replay/internal/event"
	"github.com/GeoCodeCrafter/md-replay/internal/replay"
	"github.com/GeoCodeCrafter/md-replay/internal/replay/replaypb"
	"github.com/GeoCodeCrafter/md-replay/internal/telemetry"
)

const (
	// ServiceName is the fully qualified replay service name.
	ServiceName = "mdreplay.v1.ReplayService"
	// StreamEventsMethod is the full method path of the streaming call.
	StreamEventsMethod = "/mdreplay.v1.ReplayService/StreamEvents"

	streamChannelCapacity = 1024
)

// Server serves StreamEvents over a single log/index pair. Each call
// opens its own reader; calls share no mutable state.
type Server struct {
	logPath   string
	indexPath string
	defaults  replay.Config
	logger    *log.Logger
	metrics   *telemetry.PipelineMetrics
}

// Option configures a Server.
type Option func(*Server)

// WithMetrics attaches pipeline instruments to the server.
func WithMetrics(m *telemetry.PipelineMetrics) Option {
	return func(s *Server) { s.metrics = m }
}

// NewServer builds a replay service over the given log. indexPath may
// be empty when no index exists.
func NewServer(logPath, indexPath string, defaults replay.Config, logger *log.Logger, opts ...Option) *Server {
	s := &Server{
		logPath:   logPath,
		indexPath: indexPath,
		defaults:  defaults,
		logger:    logger,
		metrics:   nil,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*replayService)(nil),
	Methods:     []grpc.MethodDesc{},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "StreamEvents",
			Handler:       streamEventsHandler,
			ServerStreams: true,
			ClientStreams: false,
		},
	},
	Metadata: "mdreplay/v1/replay.proto",
}

type replayService interface {
	streamEvents(req *replaypb.StreamRequest, stream grpc.ServerStream) error
}

func streamEventsHandler(srv any, stream grpc.ServerStream) error {
	req := new(replaypb.StreamRequest)
	if err := stream.RecvMsg(req); err != nil {
		return err
	}
	return srv.(replayService).streamEvents(req, stream)
}

// Register attaches the replay service to a gRPC server.
func (s *Server) Register(g *grpc.Server) {
	g.RegisterService(&serviceDesc, s)
}

// Serve listens on addr and serves replay streams until ctx is canceled.
func Serve(ctx context.Context, addr string, server *Server) error {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}

	g := grpc.NewServer(grpc.ForceServerCodec(replaypb.Codec{}))
	server.Register(g)

	serveErr := make(chan error, 1)
	go func() { serveErr <- g.Serve(listener) }()

	server.logger.Printf("replay service listening on %s", listener.Addr())
	select {
	case err := <-serveErr:
		return err
	case <-ctx.Done():
		g.GracefulStop()
		return <-serveErr
	}
}

func (s *Server) streamEvents(req *replaypb.StreamRequest, stream grpc.ServerStream) error {
	cfg := MergeConfig(s.defaults, req)
	streamID := uuid.NewString()

	events, err := replay.ReadEvents(s.logPath, s.indexPath, cfg.FromNS, cfg.ToNS)
	if err != nil {
		s.logger.Printf("stream %s: read events failed: %v", streamID, err)
		return status.Errorf(codes.Internal, "read events: %v", err)
	}
	s.logger.Printf("stream %s: replaying %d events (speed=%.2f max_speed=%t step=%t)",
		streamID, len(events), cfg.Speed, cfg.MaxSpeed, cfg.StepMode)

	ctx, cancel := context.WithCancel(stream.Context())
	defer cancel()

	s.metrics.StreamStarted(ctx)
	emitted := 0
	defer func() { s.metrics.StreamEnded(context.WithoutCancel(ctx), emitted) }()

	ch := make(chan event.Event, streamChannelCapacity)
	var pacer conc.WaitGroup
	pacer.Go(func() {
		defer close(ch)
		replay.StreamWithPacing(ctx, events, cfg, ch)
	})
	defer pacer.Wait()

	for ev := range ch {
		msg := replaypb.FromEvent(ev)
		if err := stream.SendMsg(&msg); err != nil {
			cancel()
			for range ch {
			}
			s.logger.Printf("stream %s: consumer gone after %d events", streamID, emitted)
			return err
		}
		emitted++
	}

	s.logger.Printf("stream %s: done, %d events", streamID, emitted)
	return nil
}

// MergeConfig folds a request into the server defaults: zero-valued
// numeric fields keep the default, booleans OR with it.
func MergeConfig(defaults replay.Config, req *replaypb.StreamRequest) replay.Config {
	cfg := defaults
	if req.FromNS != 0 {
		cfg.FromNS = req.FromNS
	}
	if req.ToNS != 0 {
		cfg.ToNS = req.ToNS
	}
	if req.Speed > 0 {
		cfg.Speed = req.Speed
	}
	cfg.MaxSpeed = defaults.MaxSpeed || req.MaxSpeed
	cfg.StepMode = defaults.StepMode || req.StepMode
	return cfg
}
