// Package grpc exposes replay validation over gRPC using the generated ReplayService stubs.
package grpc

import (
	"context"
	"errors"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	_ "google.golang.org/grpc/encoding/gzip"
	"google.golang.org/grpc/status"

	"rigidsync/broker/internal/logging"
	"rigidsync/broker/internal/proto/pb"
	"rigidsync/broker/internal/replay"
	"rigidsync/broker/internal/validation"
)

// Validator is the validation pipeline the service fronts.
type Validator interface {
	Validate(ctx context.Context, req validation.Request, onCheckpoint func(replay.CheckpointReport)) (validation.Report, error)
}

// Option customises the behaviour of the gRPC service.
type Option func(*Service)

// WithCompressors overrides the payload compressors.
func WithCompressors(set Compressors) Option {
	return func(s *Service) {
		if len(set) > 0 {
			s.compressors = set
		}
	}
}

// WithLogger routes service logs.
func WithLogger(logger *logging.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.log = logger
		}
	}
}

// Service implements pb.ReplayServiceServer on top of a Validator.
type Service struct {
	pb.UnimplementedReplayServiceServer

	validator   Validator
	compressors Compressors
	log         *logging.Logger
}

// NewService wires the gRPC service to the validation pipeline.
func NewService(validator Validator, opts ...Option) (*Service, error) {
	service := &Service{validator: validator, log: logging.L()}
	for _, opt := range opts {
		if opt != nil {
			opt(service)
		}
	}
	if service.compressors == nil {
		set, err := DefaultCompressors()
		if err != nil {
			return nil, err
		}
		service.compressors = set
	}
	service.log = service.log.With(logging.String("component", "grpc_replay"))
	return service, nil
}

// Register attaches the service to a gRPC server.
func (s *Service) Register(server grpc.ServiceRegistrar) {
	pb.RegisterReplayServiceServer(server, s)
}

func (s *Service) request(req *pb.ValidateRequest) (validation.Request, error) {
	if s == nil || s.validator == nil {
		return validation.Request{}, status.Error(codes.FailedPrecondition, "validation unavailable")
	}
	if len(req.GetPacket()) == 0 {
		return validation.Request{}, status.Error(codes.InvalidArgument, "packet payload required")
	}
	//1.- Undo the payload compression advertised by the client; the compressors stop at MaxPacketBytes.
	raw, err := s.compressors.Decode(req.GetEncoding(), req.GetPacket())
	if errors.Is(err, ErrPayloadTooLarge) {
		return validation.Request{}, status.Errorf(codes.ResourceExhausted, "packet exceeds %d bytes", MaxPacketBytes)
	}
	if err != nil {
		return validation.Request{}, status.Errorf(codes.InvalidArgument, "decode packet: %v", err)
	}
	if len(raw) > MaxPacketBytes {
		return validation.Request{}, status.Errorf(codes.ResourceExhausted, "packet exceeds %d bytes", MaxPacketBytes)
	}
	return validation.Request{Raw: raw, Backend: req.GetBackend(), Profile: req.GetProfile(), Archive: req.GetArchive(), Source: "grpc"}, nil
}

func statusFromError(err error) error {
	switch {
	case errors.Is(err, validation.ErrInvalidRequest):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, "validation cancelled")
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, "validation deadline exceeded")
	default:
		return status.Errorf(codes.Internal, "validate: %v", err)
	}
}

// Validate replays the packet and returns its verdict. A failing replay is a successful RPC.
func (s *Service) Validate(ctx context.Context, req *pb.ValidateRequest) (*pb.ValidateResponse, error) {
	vreq, err := s.request(req)
	if err != nil {
		return nil, err
	}
	report, err := s.validator.Validate(ctx, vreq, nil)
	if err != nil {
		return nil, statusFromError(err)
	}
	return Response(report), nil
}

// StreamCheckpoints replays the packet and emits every checkpoint as it is reached, then the verdict.
func (s *Service) StreamCheckpoints(req *pb.ValidateRequest, stream grpc.ServerStreamingServer[pb.CheckpointFrame]) error {
	vreq, err := s.request(req)
	if err != nil {
		return err
	}
	//1.- Stop forwarding after the first send failure but let the replay finish so it is catalogued.
	var sendErr error
	report, err := s.validator.Validate(stream.Context(), vreq, func(cp replay.CheckpointReport) {
		if sendErr != nil {
			return
		}
		sendErr = stream.Send(&pb.CheckpointFrame{Step: cp.Step, Expected: cp.Expected, Actual: cp.Actual, Match: cp.Match})
	})
	if err != nil {
		return statusFromError(err)
	}
	if sendErr != nil {
		s.log.Warn("checkpoint stream aborted", logging.String("run_id", report.RunID), logging.Error(sendErr))
		return sendErr
	}
	return stream.Send(&pb.CheckpointFrame{Step: report.Result.Step, Match: report.Result.Success, Verdict: Response(report)})
}

// Response flattens a validation report into the wire verdict.
func Response(report validation.Report) *pb.ValidateResponse {
	reason := ""
	if !report.Result.Success {
		reason = failureReason(report.Result.Err)
	}
	return &pb.ValidateResponse{
		RunId:               report.RunID,
		PacketSha256:        report.PacketSHA256,
		Success:             report.Result.Success,
		Mode:                string(report.Result.Mode),
		Backend:             report.Result.Backend,
		Profile:             report.Result.Profile,
		Step:                report.Result.Step,
		StepsRun:            report.Result.StepsRun,
		OpsApplied:          int32(report.Result.OpsApplied),
		CheckpointsVerified: int32(report.Result.CheckpointsVerified),
		Reason:              reason,
		Message:             report.Result.Message,
		ArchiveDir:          report.ArchiveDir,
	}
}

func failureReason(err error) string {
	var mismatch *replay.CheckpointMismatchError
	var violation *replay.InvariantViolationError
	switch {
	case errors.As(err, &mismatch):
		return "checkpoint_mismatch"
	case errors.As(err, &violation):
		return "invariant_violation:" + violation.Bound
	case errors.Is(err, replay.ErrPacketFraming):
		return "framing"
	case errors.Is(err, replay.ErrUnknownStableID):
		return "unknown_id"
	case errors.Is(err, replay.ErrNonDeterministicTuning):
		return "non_deterministic"
	case errors.Is(err, replay.ErrBackendMismatch):
		return "backend_mismatch"
	default:
		return "other"
	}
}

var _ pb.ReplayServiceServer = (*Service)(nil)
