package server

import (
	"log/slog"

	"convo-lab/auth"
	pb "convo-lab/proto/convo"

	grpc3 "github.com/mama165/sdk-go/grpc"
	"google.golang.org/grpc"
)

// PublicMethods can be called without a token.
func PublicMethods() []string {
	return []string{pb.AuthService_Register_FullMethodName, pb.AuthService_Login_FullMethodName}
}

// New builds the gRPC server exposing both services behind the auth interceptor.
func New(log *slog.Logger, tokens *auth.Tokens, chatServer *ChatServer, authServer *AuthServer, opts ...grpc.ServerOption) *grpc.Server {
	interceptor := auth.NewInterceptor(tokens, PublicMethods()...)
	opts = append(opts,
		grpc.ChainUnaryInterceptor(
			grpc3.UnaryLoggingInterceptor(log),
			interceptor.Unary(),
		),
		grpc.ChainStreamInterceptor(interceptor.Stream()),
	)
	s := grpc.NewServer(opts...)
	pb.RegisterChatServiceServer(s, chatServer)
	pb.RegisterAuthServiceServer(s, authServer)
	return s
}
