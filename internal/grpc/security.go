package grpc

import (
	"context"
	"crypto/subtle"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
	"strings"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"rigidsync/broker/internal/logging"
)

// SharedSecretMetadataKey carries the shared secret in call metadata.
const SharedSecretMetadataKey = "x-rigidsync-shared-secret"

// Auth modes accepted by SecurityConfig.
const (
	AuthModeNone         = "none"
	AuthModeSharedSecret = "shared_secret"
	AuthModeMTLS         = "mtls"
)

// SecurityConfig selects how gRPC callers authenticate.
type SecurityConfig struct {
	Mode         string
	SharedSecret string
	CertPath     string
	KeyPath      string
	ClientCAPath string
}

// ServerOptions returns the grpc options that enforce cfg.
func ServerOptions(cfg SecurityConfig, logger *logging.Logger) ([]grpc.ServerOption, error) {
	if logger == nil {
		logger = logging.L()
	}
	mode := strings.ToLower(strings.TrimSpace(cfg.Mode))
	if mode == "" {
		mode = AuthModeSharedSecret
		if strings.TrimSpace(cfg.SharedSecret) == "" {
			mode = AuthModeNone
		}
	}
	switch mode {
	case AuthModeNone:
		logger.Warn("gRPC authentication disabled")
		return nil, nil
	case AuthModeMTLS:
		creds, err := loadMTLSCredentials(cfg.CertPath, cfg.KeyPath, cfg.ClientCAPath)
		if err != nil {
			return nil, err
		}
		logger.Info("gRPC mTLS enabled")
		return []grpc.ServerOption{grpc.Creds(creds)}, nil
	case AuthModeSharedSecret:
		if strings.TrimSpace(cfg.SharedSecret) == "" {
			return nil, fmt.Errorf("shared secret mode requires a secret")
		}
		logger.Info("gRPC shared-secret authentication enabled")
		return []grpc.ServerOption{
			grpc.ChainUnaryInterceptor(SharedSecretUnaryInterceptor(cfg.SharedSecret)),
			grpc.ChainStreamInterceptor(SharedSecretStreamInterceptor(cfg.SharedSecret)),
		}, nil
	default:
		return nil, fmt.Errorf("unsupported grpc auth mode %q", cfg.Mode)
	}
}

func checkSecret(ctx context.Context, expected string) error {
	if expected == "" {
		return status.Error(codes.Unauthenticated, "shared secret not configured")
	}
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return status.Error(codes.Unauthenticated, "missing metadata")
	}
	candidate := extractSharedSecret(md)
	if candidate == "" {
		return status.Error(codes.Unauthenticated, "missing shared secret")
	}
	if subtle.ConstantTimeCompare([]byte(candidate), []byte(expected)) != 1 {
		return status.Error(codes.Unauthenticated, "invalid shared secret")
	}
	return nil
}

// SharedSecretUnaryInterceptor rejects unary calls without the secret.
func SharedSecretUnaryInterceptor(secret string) grpc.UnaryServerInterceptor {
	normalized := strings.TrimSpace(secret)
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		if err := checkSecret(ctx, normalized); err != nil {
			return nil, err
		}
		return handler(ctx, req)
	}
}

// SharedSecretStreamInterceptor rejects streams without the secret.
func SharedSecretStreamInterceptor(secret string) grpc.StreamServerInterceptor {
	normalized := strings.TrimSpace(secret)
	return func(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		if err := checkSecret(ss.Context(), normalized); err != nil {
			return err
		}
		return handler(srv, ss)
	}
}

func extractSharedSecret(md metadata.MD) string {
	for _, value := range md.Get(SharedSecretMetadataKey) {
		if trimmed := strings.TrimSpace(value); trimmed != "" {
			return trimmed
		}
	}
	for _, value := range md.Get("authorization") {
		if len(value) > 7 && strings.EqualFold(value[:7], "bearer ") {
			if token := strings.TrimSpace(value[7:]); token != "" {
				return token
			}
		}
	}
	return ""
}

func loadMTLSCredentials(certPath, keyPath, caPath string) (credentials.TransportCredentials, error) {
	cert, err := tls.LoadX509KeyPair(certPath, keyPath)
	if err != nil {
		return nil, fmt.Errorf("load server keypair: %w", err)
	}
	caBytes, err := os.ReadFile(caPath)
	if err != nil {
		return nil, fmt.Errorf("read client ca: %w", err)
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(caBytes) {
		return nil, fmt.Errorf("failed to parse client ca bundle")
	}
	return credentials.NewTLS(&tls.Config{
		Certificates: []tls.Certificate{cert},
		ClientAuth:   tls.RequireAndVerifyClientCert,
		ClientCAs:    pool,
		MinVersion:   tls.VersionTLS12,
	}), nil
}
