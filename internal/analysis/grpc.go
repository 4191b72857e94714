package analysis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/connectivity"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/NeerajMehta15/CX-Agent-V2.0/internal/domain"
)

const (
	sentimentServiceName = "cx.analysis.v1.SentimentService"
	scoreMethod          = "/" + sentimentServiceName + "/Score"
)

var (
	errConnectionShutdown       = errors.New("connection shutdown")
	errConnectionStateUnchanged = errors.New("connection state did not change")
)

// GRPCScorer calls a remote SentimentService.
type GRPCScorer struct {
	conn           *grpc.ClientConn
	addr           string
	requestTimeout time.Duration
	logger         *slog.Logger
}

// NewGRPCScorer connects to the analysis service at addr and waits for the
// connection to become ready.
func NewGRPCScorer(ctx context.Context, addr string, logger *slog.Logger, opts ...grpc.DialOption) (*GRPCScorer, error) {
	if logger == nil {
		logger = slog.Default()
	}

	kacp := keepalive.ClientParameters{
		Time:                2 * time.Minute,
		Timeout:             10 * time.Second,
		PermitWithoutStream: false,
	}
	dialOpts := append([]grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithKeepaliveParams(kacp),
	}, opts...)

	conn, err := grpc.NewClient(addr, dialOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to analysis service at %s: %w", addr, err)
	}

	connectCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := waitForReady(connectCtx, conn); err != nil {
		if closeErr := conn.Close(); closeErr != nil {
			logger.Warn("failed to close gRPC connection after readiness failure", "error", closeErr)
		}
		return nil, fmt.Errorf("analysis service at %s not ready: %w", addr, err)
	}

	logger.Info("Connected to analysis service", "address", addr)
	return &GRPCScorer{conn: conn, addr: addr, requestTimeout: 10 * time.Second, logger: logger}, nil
}

func waitForReady(ctx context.Context, conn *grpc.ClientConn) error {
	for {
		state := conn.GetState()
		switch state {
		case connectivity.Ready:
			return nil
		case connectivity.Idle:
			conn.Connect()
		case connectivity.Shutdown:
			return errConnectionShutdown
		}

		if !conn.WaitForStateChange(ctx, state) {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("%w from %s", errConnectionStateUnchanged, state)
		}
	}
}

// Score implements Scorer.
func (s *GRPCScorer) Score(ctx context.Context, text string) (domain.Sentiment, error) {
	ctx, cancel := context.WithTimeout(ctx, s.requestTimeout)
	defer cancel()

	in, err := structpb.NewStruct(map[string]any{"text": text})
	if err != nil {
		return domain.Sentiment{}, fmt.Errorf("build score request: %w", err)
	}
	out := new(structpb.Struct)
	if err := s.conn.Invoke(ctx, scoreMethod, in, out); err != nil {
		return domain.Sentiment{}, fmt.Errorf("score sentiment via %s: %w", s.addr, err)
	}
	return sentimentFromStruct(out), nil
}

// Close closes the gRPC connection.
func (s *GRPCScorer) Close() {
	if s.conn != nil {
		if err := s.conn.Close(); err != nil {
			s.logger.Warn("failed to close gRPC connection", "error", err)
		}
	}
}

func sentimentFromStruct(st *structpb.Struct) domain.Sentiment {
	out := domain.NeutralSentiment()
	f := st.GetFields()
	if v, ok := f["score"]; ok {
		out.Score = v.GetNumberValue()
	}
	if v, ok := f["label"]; ok {
		out.Label = domain.SentimentLabel(v.GetStringValue())
	}
	if v, ok := f["confidence"]; ok {
		out.Confidence = v.GetNumberValue()
	}
	return Normalize(out)
}

func sentimentToStruct(s domain.Sentiment) (*structpb.Struct, error) {
	return structpb.NewStruct(map[string]any{
		"score":      s.Score,
		"label":      string(s.Label),
		"confidence": s.Confidence,
	})
}

// SentimentServer is the server API of SentimentService.
type SentimentServer interface {
	Score(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error)
}

type scorerServer struct {
	scorer Scorer
}

func (s *scorerServer) Score(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	text := in.GetFields()["text"].GetStringValue()
	if text == "" {
		return nil, status.Error(codes.InvalidArgument, "text is required")
	}
	res, err := s.scorer.Score(ctx, text)
	if err != nil {
		return nil, status.Errorf(codes.Unavailable, "score: %v", err)
	}
	return sentimentToStruct(res)
}

func scoreHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(SentimentServer).Score(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: scoreMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(SentimentServer).Score(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

var sentimentServiceDesc = grpc.ServiceDesc{
	ServiceName: sentimentServiceName,
	HandlerType: (*SentimentServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Score", Handler: scoreHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "cx/analysis/v1/sentiment.proto",
}

// RegisterSentimentServer serves scorer as SentimentService on s.
func RegisterSentimentServer(s grpc.ServiceRegistrar, scorer Scorer) {
	s.RegisterService(&sentimentServiceDesc, &scorerServer{scorer: scorer})
}

var _ Scorer = (*GRPCScorer)(nil)
