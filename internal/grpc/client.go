package grpc

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"

	"rigidsync/broker/internal/proto/pb"
)

// ReplayClient calls ReplayService and attaches the shared secret to every call.
type ReplayClient struct {
	cc     grpc.ClientConnInterface
	rpc    pb.ReplayServiceClient
	secret string
}

// NewReplayClient wraps a connection. A non-empty secret is attached to every call.
func NewReplayClient(cc grpc.ClientConnInterface, secret string) *ReplayClient {
	return &ReplayClient{cc: cc, rpc: pb.NewReplayServiceClient(cc), secret: secret}
}

func (c *ReplayClient) outgoing(ctx context.Context) context.Context {
	if c.secret == "" {
		return ctx
	}
	return metadata.AppendToOutgoingContext(ctx, SharedSecretMetadataKey, c.secret)
}

// Validate submits a packet and waits for the verdict.
func (c *ReplayClient) Validate(ctx context.Context, req *pb.ValidateRequest, opts ...grpc.CallOption) (*pb.ValidateResponse, error) {
	return c.rpc.Validate(c.outgoing(ctx), req, opts...)
}

// StreamCheckpoints submits a packet and returns the checkpoint stream.
func (c *ReplayClient) StreamCheckpoints(ctx context.Context, req *pb.ValidateRequest, opts ...grpc.CallOption) (grpc.ServerStreamingClient[pb.CheckpointFrame], error) {
	return c.rpc.StreamCheckpoints(c.outgoing(ctx), req, opts...)
}
