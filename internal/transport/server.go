// Package transport exposes the node over gRPC: a bridge that lets remote
// processes publish onto and subscribe to the in-process bus, and the
// transform resolution service answering GetTransform from the most
// recently broadcast chain.
//
// Messages travel as google.protobuf.Struct so no generated code is
// needed; payload schemas are the JSON forms in internal/messages.
package transport

import (
	"fmt"
	"log"
	"net"
	"sync"
	"sync/atomic"

	"google.golang.org/grpc"

	"github.com/banshee-data/roadway/internal/bus"
	"github.com/banshee-data/roadway/internal/frames"
)

// Config holds configuration for the gRPC server.
type Config struct {
	// ListenAddr is the address to listen on (e.g., "localhost:50061")
	ListenAddr string

	// MaxMsgSize bounds a single request or response.
	MaxMsgSize int
}

// DefaultConfig returns a default configuration.
func DefaultConfig() Config {
	return Config{
		ListenAddr: "localhost:50061",
		MaxMsgSize: 4 * 1024 * 1024,
	}
}

// TransformSource supplies the transform chain served by GetTransform.
type TransformSource interface {
	// LatestTransforms returns the last broadcast chain, or nil before the
	// first broadcast.
	LatestTransforms() []frames.FrameTransform
}

// Server hosts the bus bridge and transform services.
type Server struct {
	config     Config
	bus        bus.PubSub
	transforms TransformSource

	server   *grpc.Server
	listener net.Listener

	published atomic.Uint64
	rejected  atomic.Uint64
	streams   atomic.Int32

	running atomic.Bool
	wg      sync.WaitGroup
}

// NewServer creates a server bridging b. transforms may be nil, in which
// case GetTransform always reports NotFound.
func NewServer(cfg Config, b bus.PubSub, transforms TransformSource) *Server {
	if cfg.MaxMsgSize <= 0 {
		cfg.MaxMsgSize = DefaultConfig().MaxMsgSize
	}
	return &Server{config: cfg, bus: b, transforms: transforms}
}

// Start listens on the configured address and serves in the background.
func (s *Server) Start() error {
	if s.running.Load() {
		return fmt.Errorf("server already running")
	}
	lis, err := net.Listen("tcp", s.config.ListenAddr)
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}
	return s.Serve(lis)
}

// Serve serves on an existing listener in the background.
func (s *Server) Serve(lis net.Listener) error {
	if !s.running.CompareAndSwap(false, true) {
		return fmt.Errorf("server already running")
	}
	s.listener = lis
	s.server = grpc.NewServer(
		grpc.MaxRecvMsgSize(s.config.MaxMsgSize),
		grpc.MaxSendMsgSize(s.config.MaxMsgSize),
	)
	s.server.RegisterService(&busServiceDesc, &busService{srv: s})
	s.server.RegisterService(&transformServiceDesc, &transformService{srv: s})

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		log.Printf("[gRPC] listening on %s", lis.Addr())
		if err := s.server.Serve(lis); err != nil && s.running.Load() {
			log.Printf("[gRPC] server error: %v", err)
		}
	}()
	return nil
}

// Addr returns the listener address, or nil before Start.
func (s *Server) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Stop closes every connection, ending open Subscribe streams, and waits
// for the serve goroutine to exit.
func (s *Server) Stop() {
	if !s.running.CompareAndSwap(true, false) {
		return
	}
	if s.server != nil {
		s.server.Stop()
	}
	s.wg.Wait()
	log.Printf("[gRPC] server stopped (published=%d rejected=%d)", s.published.Load(), s.rejected.Load())
}

// Stats reports bridge counters.
type Stats struct {
	Published uint64 `json:"published"`
	Rejected  uint64 `json:"rejected"`
	Streams   int32  `json:"streams"`
}

func (s *Server) Stats() Stats {
	return Stats{
		Published: s.published.Load(),
		Rejected:  s.rejected.Load(),
		Streams:   s.streams.Load(),
	}
}
