package rigidctl

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"

	"rigidsync/broker/internal/catalog"
	grpcapi "rigidsync/broker/internal/grpc"
	"rigidsync/broker/internal/proto/pb"
	"rigidsync/broker/internal/replay"
	"rigidsync/broker/internal/validation"
)

// ReplayOptions holds flags for the replay command.
type ReplayOptions struct {
	*RootOptions
	Backend  string
	Profile  string
	Database string
	Remote   string
	Secret   string
	CAFile   string
	CertFile string
	KeyFile  string
	Encoding string
	Stream   bool
	Timeout  time.Duration
}

// ReplayOutput is the verdict printed by the replay command.
type ReplayOutput struct {
	Source      string                    `json:"source"`
	RunID       string                    `json:"runId,omitempty"`
	SHA256      string                    `json:"packetSha256"`
	Success     bool                      `json:"success"`
	Mode        string                    `json:"mode"`
	Backend     string                    `json:"backend"`
	Profile     string                    `json:"profile"`
	Step        uint32                    `json:"step"`
	StepsRun    uint32                    `json:"stepsRun"`
	OpsApplied  int                       `json:"opsApplied"`
	Verified    int                       `json:"checkpointsVerified"`
	Message     string                    `json:"message"`
	Checkpoints []replay.CheckpointReport `json:"checkpoints,omitempty"`
}

// NewReplayCommand creates the replay command.
func NewReplayCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ReplayOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "replay <archive-dir|packet-file>",
		Short: "Validate a packet locally or against a broker",
		Long: `Replay a packet and report whether it reproduces. Locally the packet runs through the
same validation pipeline the broker uses; with --remote it is sent to a broker's gRPC
ReplayService instead.

Exit codes:
  0 - the replay succeeded
  1 - the replay failed (checkpoint mismatch, invariant violation, bad framing)
  2 - command error

Examples:
  rigidctl replay ./replays/abc-20260101T000000Z
  rigidctl replay run.json --backend xpbd --profile fast
  rigidctl replay run.json --remote localhost:43128 --secret s3cret --encoding zstd --stream`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReplay(opts, cmd, args[0])
		},
	}

	cmd.Flags().StringVar(&opts.Backend, "backend", "", "replay on another backend (BEHAVIOURAL packets only)")
	cmd.Flags().StringVar(&opts.Profile, "profile", "", "replay under another tuning profile")
	cmd.Flags().StringVar(&opts.Database, "db", "", "record the local verdict in this SQLite catalogue")
	cmd.Flags().StringVar(&opts.Remote, "remote", "", "broker gRPC address; replays locally when empty")
	cmd.Flags().StringVar(&opts.Secret, "secret", "", "shared secret for the broker")
	cmd.Flags().StringVar(&opts.CAFile, "ca", "", "PEM CA bundle; enables TLS to the broker")
	cmd.Flags().StringVar(&opts.CertFile, "cert", "", "client certificate for brokers requiring mTLS")
	cmd.Flags().StringVar(&opts.KeyFile, "key", "", "client key for brokers requiring mTLS")
	cmd.Flags().StringVar(&opts.Encoding, "encoding", grpcapi.EncodingIdentity, "payload compression for --remote (identity, gzip, zstd, snappy)")
	cmd.Flags().BoolVar(&opts.Stream, "stream", false, "stream checkpoint results as they are verified")
	cmd.Flags().DurationVar(&opts.Timeout, "timeout", 2*time.Minute, "deadline for the whole replay")
	return cmd
}

func runReplay(opts *ReplayOptions, cmd *cobra.Command, path string) error {
	raw, err := replay.ReadPacketBytes(path)
	if err != nil {
		return WrapExitError(ExitCommandError, "read packet", err)
	}
	ctx, cancel := context.WithTimeout(cmd.Context(), opts.Timeout)
	defer cancel()

	var out ReplayOutput
	if opts.Remote != "" {
		out, err = replayRemote(ctx, opts, cmd, raw)
	} else {
		out, err = replayLocal(ctx, opts, cmd, raw)
	}
	if err != nil {
		return err
	}

	if opts.Format == "json" {
		if err := writeJSON(cmd, out); err != nil {
			return err
		}
	} else {
		verdict := "PASS"
		if !out.Success {
			verdict = "FAIL"
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s %s on %s/%s: step %d, %d ops, %d checkpoints verified (%s)\n",
			verdict, out.Mode, out.Backend, out.Profile, out.Step, out.OpsApplied, out.Verified, out.Source)
		if out.Message != "" {
			fmt.Fprintf(cmd.OutOrStdout(), "  %s\n", out.Message)
		}
	}
	if !out.Success {
		return NewExitError(ExitFailure, "replay failed")
	}
	return nil
}

func (o *ReplayOptions) printCheckpoint(cmd *cobra.Command, cp replay.CheckpointReport) {
	if !o.Stream || o.Format == "json" {
		return
	}
	state := "ok"
	if !cp.Match {
		state = "MISMATCH"
	}
	fmt.Fprintf(cmd.OutOrStdout(), "checkpoint %6d %s\n", cp.Step, state)
}

func replayLocal(ctx context.Context, opts *ReplayOptions, cmd *cobra.Command, raw []byte) (ReplayOutput, error) {
	profiles, err := opts.profiles()
	if err != nil {
		return ReplayOutput{}, err
	}
	options := []validation.Option{
		validation.WithLogger(opts.logger(cmd)),
		validation.WithProfiles(profiles),
		validation.WithConcurrency(1),
	}
	if opts.Database != "" {
		store, err := catalog.Open(opts.Database)
		if err != nil {
			return ReplayOutput{}, WrapExitError(ExitCommandError, "open catalogue", err)
		}
		defer store.Close()
		options = append(options, validation.WithCatalog(store))
	}
	svc := validation.New(options...)

	var checkpoints []replay.CheckpointReport
	report, err := svc.Validate(ctx, validation.Request{
		Raw:     raw,
		Backend: opts.Backend,
		Profile: opts.Profile,
		Source:  "cli",
	}, func(cp replay.CheckpointReport) {
		checkpoints = append(checkpoints, cp)
		opts.printCheckpoint(cmd, cp)
	})
	if err != nil {
		return ReplayOutput{}, WrapExitError(ExitCommandError, "validate", err)
	}
	result := report.Result
	return ReplayOutput{
		Source:      "local",
		RunID:       report.RunID,
		SHA256:      report.PacketSHA256,
		Success:     result.Success,
		Mode:        string(result.Mode),
		Backend:     result.Backend,
		Profile:     result.Profile,
		Step:        result.Step,
		StepsRun:    result.StepsRun,
		OpsApplied:  result.OpsApplied,
		Verified:    result.CheckpointsVerified,
		Message:     result.Message,
		Checkpoints: checkpoints,
	}, nil
}

func dialBroker(opts *ReplayOptions) (*grpc.ClientConn, error) {
	creds := insecure.NewCredentials()
	if opts.CAFile != "" {
		pem, err := os.ReadFile(opts.CAFile)
		if err != nil {
			return nil, err
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("no certificates in %s", opts.CAFile)
		}
		tlsConfig := &tls.Config{RootCAs: pool, MinVersion: tls.VersionTLS12}
		if opts.CertFile != "" || opts.KeyFile != "" {
			cert, err := tls.LoadX509KeyPair(opts.CertFile, opts.KeyFile)
			if err != nil {
				return nil, err
			}
			tlsConfig.Certificates = []tls.Certificate{cert}
		}
		creds = credentials.NewTLS(tlsConfig)
	}
	return grpc.NewClient(opts.Remote, grpc.WithTransportCredentials(creds))
}

func replayRemote(ctx context.Context, opts *ReplayOptions, cmd *cobra.Command, raw []byte) (ReplayOutput, error) {
	req := &pb.ValidateRequest{Packet: raw, Backend: opts.Backend, Profile: opts.Profile}
	//1.- Compress with the same codecs the service decodes.
	encoding := strings.ToLower(strings.TrimSpace(opts.Encoding))
	if encoding != "" && encoding != grpcapi.EncodingIdentity {
		compressors, err := grpcapi.DefaultCompressors()
		if err != nil {
			return ReplayOutput{}, WrapExitError(ExitCommandError, "compressors", err)
		}
		compressor, ok := compressors[encoding]
		if !ok {
			return ReplayOutput{}, NewExitError(ExitCommandError, fmt.Sprintf("unsupported encoding %q (known: %v)", opts.Encoding, compressors.Names()))
		}
		packed, err := compressor.Compress(raw)
		if err != nil {
			return ReplayOutput{}, WrapExitError(ExitCommandError, "compress packet", err)
		}
		req.Packet = packed
		req.Encoding = encoding
	}

	conn, err := dialBroker(opts)
	if err != nil {
		return ReplayOutput{}, WrapExitError(ExitCommandError, "dial broker", err)
	}
	defer conn.Close()
	client := grpcapi.NewReplayClient(conn, opts.Secret)

	var verdict *pb.ValidateResponse
	var checkpoints []replay.CheckpointReport
	if opts.Stream {
		stream, err := client.StreamCheckpoints(ctx, req)
		if err != nil {
			return ReplayOutput{}, WrapExitError(ExitCommandError, "stream checkpoints", err)
		}
		for {
			frame, err := stream.Recv()
			if errors.Is(err, io.EOF) {
				break
			}
			if err != nil {
				return ReplayOutput{}, WrapExitError(ExitCommandError, "stream checkpoints", err)
			}
			if frame.GetVerdict() != nil {
				verdict = frame.GetVerdict()
				continue
			}
			cp := replay.CheckpointReport{Step: frame.GetStep(), Expected: frame.GetExpected(), Actual: frame.GetActual(), Match: frame.GetMatch()}
			checkpoints = append(checkpoints, cp)
			opts.printCheckpoint(cmd, cp)
		}
		if verdict == nil {
			return ReplayOutput{}, NewExitError(ExitCommandError, "broker closed the stream without a verdict")
		}
	} else {
		verdict, err = client.Validate(ctx, req)
		if err != nil {
			return ReplayOutput{}, WrapExitError(ExitCommandError, "validate", err)
		}
	}
	return ReplayOutput{
		Source:      opts.Remote,
		RunID:       verdict.GetRunId(),
		SHA256:      verdict.GetPacketSha256(),
		Success:     verdict.GetSuccess(),
		Mode:        verdict.GetMode(),
		Backend:     verdict.GetBackend(),
		Profile:     verdict.GetProfile(),
		Step:        verdict.GetStep(),
		StepsRun:    verdict.GetStepsRun(),
		OpsApplied:  int(verdict.GetOpsApplied()),
		Verified:    int(verdict.GetCheckpointsVerified()),
		Message:     verdict.GetMessage(),
		Checkpoints: checkpoints,
	}, nil
}
