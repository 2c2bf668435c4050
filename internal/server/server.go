// Package server exposes TD quotes, measurements, and the event log over gRPC.
//
// The service is described by a hand written grpc.ServiceDesc. Requests and responses use
// the protobuf well known types, so no generated code is required on either side.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net"
	"os"
	"path/filepath"
	"time"

	"github.com/edgelesssys/go-tdx-attest/eventlog"
	"github.com/edgelesssys/go-tdx-attest/tdx"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// ServiceName is the fully qualified name of the attestation service.
const ServiceName = "ccnp.v1.Attestation"

// Request fields.
const (
	FieldNonce     = "nonce"
	FieldUserData  = "user_data"
	FieldIndex     = "index"
	FieldAlgorithm = "algo_id"
	FieldStart     = "start"
	FieldCount     = "count"
)

var errInvalidArgument = errors.New("invalid argument")

// Attester generates quotes and reads measurements of the TD.
type Attester interface {
	GenerateQuoteBase64(ctx context.Context, nonce, userData string) ([]byte, error)
	ReadMeasurements(ctx context.Context) (tdx.Measurements, error)
}

// Server is the attestation gRPC server.
type Server struct {
	attester     Attester
	readEventlog func() ([]eventlog.Event, error)
	log          *zap.Logger

	grpc   *grpc.Server
	health *health.Server
}

// New creates a new Server. The event log is read from the first readable of eventlogPaths on every request.
func New(attester Attester, eventlogPaths []string, log *zap.Logger) *Server {
	s := &Server{
		attester: attester,
		readEventlog: func() ([]eventlog.Event, error) {
			return eventlog.Read(eventlogPaths...)
		},
		log:    log,
		health: health.NewServer(),
	}
	s.grpc = grpc.NewServer(grpc.UnaryInterceptor(s.logRequests))
	s.grpc.RegisterService(&serviceDesc, s)
	healthpb.RegisterHealthServer(s.grpc, s.health)
	s.health.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_SERVING)
	return s
}

// Serve serves on all listeners until ctx is done or one of the listeners fails.
func (s *Server) Serve(ctx context.Context, listeners ...net.Listener) error {
	errC := make(chan error, len(listeners))
	for _, lis := range listeners {
		s.log.Info("Serving", zap.Stringer("address", lis.Addr()))
		go func(lis net.Listener) {
			errC <- s.grpc.Serve(lis)
		}(lis)
	}

	select {
	case <-ctx.Done():
		s.log.Info("Shutting down")
		s.health.Shutdown()
		s.grpc.GracefulStop()
		return nil
	case err := <-errC:
		s.grpc.Stop()
		return fmt.Errorf("serving gRPC: %w", err)
	}
}

// ListenUnix listens on a Unix domain socket at path. A stale socket at path is removed.
func ListenUnix(path string, mode os.FileMode) (net.Listener, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("creating socket directory: %w", err)
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("removing stale socket: %w", err)
	}
	lis, err := net.Listen("unix", path)
	if err != nil {
		return nil, fmt.Errorf("listening on %s: %w", path, err)
	}
	if err := os.Chmod(path, mode); err != nil {
		lis.Close()
		return nil, fmt.Errorf("setting socket permissions: %w", err)
	}
	return lis, nil
}

// GetReport returns a raw quote for the nonce and user data of the request.
func (s *Server) GetReport(ctx context.Context, req *structpb.Struct) (*wrapperspb.BytesValue, error) {
	rawQuote, err := s.generateQuote(ctx, req)
	if err != nil {
		return nil, err
	}
	return wrapperspb.Bytes(rawQuote), nil
}

// GetQuote returns a quote for the nonce and user data of the request, encoded as a JSON string of its base64 encoding.
func (s *Server) GetQuote(ctx context.Context, req *structpb.Struct) (*wrapperspb.StringValue, error) {
	rawQuote, err := s.generateQuote(ctx, req)
	if err != nil {
		return nil, err
	}
	encoded, err := tdx.EncodeQuote(rawQuote)
	if err != nil {
		return nil, toStatus(err)
	}
	return wrapperspb.String(encoded), nil
}

// GetMeasurement returns a single measurement register. Index 0 is MRTD, 1 to 4 are RTMR0 to RTMR3.
func (s *Server) GetMeasurement(ctx context.Context, req *structpb.Struct) (*wrapperspb.BytesValue, error) {
	index, err := intField(req, FieldIndex, 0)
	if err != nil {
		return nil, toStatus(err)
	}
	algorithm, err := intField(req, FieldAlgorithm, tdx.AlgorithmSHA384)
	if err != nil {
		return nil, toStatus(err)
	}
	if algorithm > math.MaxUint16 {
		return nil, toStatus(fmt.Errorf("%w: algorithm %d", tdx.ErrUnsupportedAlgorithm, algorithm))
	}

	measurements, err := s.attester.ReadMeasurements(ctx)
	if err != nil {
		return nil, toStatus(err)
	}
	hash, err := measurements.ByIndex(index, uint16(algorithm))
	if err != nil {
		return nil, toStatus(err)
	}
	return wrapperspb.Bytes(hash), nil
}

// GetEventlog returns a page of the event log as a JSON list.
func (s *Server) GetEventlog(_ context.Context, req *structpb.Struct) (*wrapperspb.StringValue, error) {
	start, err := intField(req, FieldStart, 0)
	if err != nil {
		return nil, toStatus(err)
	}
	count, err := intField(req, FieldCount, 0)
	if err != nil {
		return nil, toStatus(err)
	}

	events, err := s.readEventlog()
	if err != nil {
		return nil, toStatus(err)
	}
	page, err := eventlog.Page(events, start, count)
	if err != nil {
		return nil, toStatus(err)
	}
	encoded, err := json.Marshal(page)
	if err != nil {
		return nil, toStatus(err)
	}
	return wrapperspb.String(string(encoded)), nil
}

func (s *Server) generateQuote(ctx context.Context, req *structpb.Struct) ([]byte, error) {
	nonce, err := stringField(req, FieldNonce)
	if err != nil {
		return nil, toStatus(err)
	}
	userData, err := stringField(req, FieldUserData)
	if err != nil {
		return nil, toStatus(err)
	}
	rawQuote, err := s.attester.GenerateQuoteBase64(ctx, nonce, userData)
	if err != nil {
		return nil, toStatus(err)
	}
	return rawQuote, nil
}

// logRequests tags every request with a unique ID and logs its outcome.
func (s *Server) logRequests(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
	log := s.log.With(zap.String("requestID", uuid.New().String()), zap.String("method", info.FullMethod))
	log.Info("Handling request")

	start := time.Now()
	resp, err := handler(ctx, req)
	if err != nil {
		log.Warn("Request failed", zap.Error(err), zap.Duration("duration", time.Since(start)))
		return nil, err
	}
	log.Info("Request succeeded", zap.Duration("duration", time.Since(start)))
	return resp, nil
}

// toStatus maps errors to gRPC status errors. The error message is preserved.
func toStatus(err error) error {
	switch {
	case errors.Is(err, errInvalidArgument),
		errors.Is(err, tdx.ErrInputEncoding),
		errors.Is(err, tdx.ErrInputTooLarge),
		errors.Is(err, tdx.ErrEmptyNonce),
		errors.Is(err, tdx.ErrInvalidIndex),
		errors.Is(err, tdx.ErrUnsupportedAlgorithm),
		errors.Is(err, eventlog.ErrInvalidRange):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, err.Error())
	case errors.Is(err, tdx.ErrTimeout):
		return status.Error(codes.DeadlineExceeded, err.Error())
	case errors.Is(err, eventlog.ErrNotFound):
		return status.Error(codes.NotFound, err.Error())
	default:
		return status.Error(codes.Internal, err.Error())
	}
}

func stringField(req *structpb.Struct, name string) (string, error) {
	v, ok := req.GetFields()[name]
	if !ok {
		return "", nil
	}
	if _, ok := v.GetKind().(*structpb.Value_NullValue); ok {
		return "", nil
	}
	s, ok := v.GetKind().(*structpb.Value_StringValue)
	if !ok {
		return "", fmt.Errorf("%w: %s must be a string", errInvalidArgument, name)
	}
	return s.StringValue, nil
}

func intField(req *structpb.Struct, name string, def int) (int, error) {
	v, ok := req.GetFields()[name]
	if !ok {
		return def, nil
	}
	if _, ok := v.GetKind().(*structpb.Value_NullValue); ok {
		return def, nil
	}
	n, ok := v.GetKind().(*structpb.Value_NumberValue)
	if !ok {
		return 0, fmt.Errorf("%w: %s must be a number", errInvalidArgument, name)
	}
	f := n.NumberValue
	if f != math.Trunc(f) || f < 0 || f > math.MaxInt32 {
		return 0, fmt.Errorf("%w: %s must be a non-negative integer, got %v", errInvalidArgument, name, f)
	}
	return int(f), nil
}
