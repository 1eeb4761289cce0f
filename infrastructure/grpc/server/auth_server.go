package server

import (
	"context"

	"convo-lab/domain"
	"convo-lab/errors"
	pb "convo-lab/proto/convo"
	"convo-lab/services"
)

type AuthServer struct {
	pb.UnimplementedAuthServiceServer
	authService services.IAuthService
}

func NewAuthServer(authService services.IAuthService) *AuthServer {
	return &AuthServer{authService: authService}
}

// Register validates input, hashes the password and issues a token.
func (s *AuthServer) Register(ctx context.Context, in *pb.RegisterRequest) (*pb.AuthResponse, error) {
	credentials, err := s.authService.Register(ctx, in.Email, in.Password, in.FullName, domain.Role(in.Role))
	if err != nil {
		return nil, errors.MapToGRPCError(err)
	}
	return &pb.AuthResponse{Token: credentials.Token.String(), UserID: string(credentials.UserID)}, nil
}

// Login verifies credentials and returns a session token.
func (s *AuthServer) Login(ctx context.Context, in *pb.LoginRequest) (*pb.AuthResponse, error) {
	credentials, err := s.authService.Login(ctx, in.Email, in.Password)
	if err != nil {
		return nil, errors.MapToGRPCError(err)
	}
	return &pb.AuthResponse{Token: credentials.Token.String(), UserID: string(credentials.UserID)}, nil
}
