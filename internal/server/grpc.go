package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/grpc-ecosystem/grpc-gateway/v2/runtime"
	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"LotteryLedger/internal/observability"
	"LotteryLedger/internal/query"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "lotteryledger.v1.LotteryService"

// LotteryServiceServer is the server API for LotteryService.
type LotteryServiceServer interface {
	SubmitCommand(context.Context, *CommandRequest) (*CommandResponse, error)
	ListLotteries(context.Context, *Empty) (*ListLotteriesResponse, error)
	GetLottery(context.Context, *LotteryRequest) (*query.LotteryView, error)
	GetTicket(context.Context, *TicketRequest) (*query.TicketView, error)
	GetUserTickets(context.Context, *AccountRequest) (*TicketsResponse, error)
	GetListing(context.Context, *ListingRequest) (*query.ListingView, error)
	ListActiveListings(context.Context, *Empty) (*ListingsResponse, error)
	GetOrderBook(context.Context, *OrderBookRequest) (*query.OrderBookView, error)
	GetBalance(context.Context, *AccountRequest) (*query.BalanceView, error)
	GetAllowance(context.Context, *AllowanceRequest) (*query.AllowanceView, error)
	ListJournals(context.Context, *JournalsRequest) (*JournalsResponse, error)
	GetStatus(context.Context, *Empty) (*StatusResponse, error)
	VerifyIntegrity(context.Context, *Empty) (*query.IntegrityReport, error)
	TakeSnapshot(context.Context, *Empty) (*SnapshotResponse, error)
	RebuildProjections(context.Context, *Empty) (*RebuildResponse, error)
}

var _ LotteryServiceServer = (*Service)(nil)

// ServiceDesc is the grpc.ServiceDesc for LotteryService. Messages travel
// with the JSON codec.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*LotteryServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		unary("SubmitCommand", LotteryServiceServer.SubmitCommand),
		unary("ListLotteries", LotteryServiceServer.ListLotteries),
		unary("GetLottery", LotteryServiceServer.GetLottery),
		unary("GetTicket", LotteryServiceServer.GetTicket),
		unary("GetUserTickets", LotteryServiceServer.GetUserTickets),
		unary("GetListing", LotteryServiceServer.GetListing),
		unary("ListActiveListings", LotteryServiceServer.ListActiveListings),
		unary("GetOrderBook", LotteryServiceServer.GetOrderBook),
		unary("GetBalance", LotteryServiceServer.GetBalance),
		unary("GetAllowance", LotteryServiceServer.GetAllowance),
		unary("ListJournals", LotteryServiceServer.ListJournals),
		unary("GetStatus", LotteryServiceServer.GetStatus),
		unary("VerifyIntegrity", LotteryServiceServer.VerifyIntegrity),
		unary("TakeSnapshot", LotteryServiceServer.TakeSnapshot),
		unary("RebuildProjections", LotteryServiceServer.RebuildProjections),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "lotteryledger/v1/lottery.proto",
}

// RegisterLotteryServiceServer registers srv on s.
func RegisterLotteryServiceServer(s grpc.ServiceRegistrar, srv LotteryServiceServer) {
	s.RegisterService(&ServiceDesc, srv)
}

func unary[Req, Resp any](name string, call func(LotteryServiceServer, context.Context, *Req) (*Resp, error)) grpc.MethodDesc {
	fullMethod := "/" + ServiceName + "/" + name
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(Req)
			if err := dec(in); err != nil {
				return nil, err
			}
			handler := func(ctx context.Context, req any) (any, error) {
				resp, err := call(srv.(LotteryServiceServer), ctx, req.(*Req))
				if err != nil {
					return nil, toStatus(ctx, err)
				}
				return resp, nil
			}
			if interceptor == nil {
				return handler(ctx, in)
			}
			return interceptor(ctx, in, &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}, handler)
		},
	}
}

// ============================================================================
// Servers
// ============================================================================

// GRPCServer wraps the gRPC server and the HTTP gateway.
type GRPCServer struct {
	grpcServer    *grpc.Server
	httpServer    *http.Server
	healthServer  *health.Server
	gateway       *runtime.ServeMux
	grpcAddr      string
	httpAddr      string
	healthChecker *observability.HealthChecker
	logger        zerolog.Logger
}

// NewGRPCServer creates a gRPC server with LotteryService and the standard
// health service registered, plus the HTTP gateway routes.
func NewGRPCServer(grpcAddr, httpAddr string, svc *Service) (*GRPCServer, error) {
	grpcServer := grpc.NewServer()
	RegisterLotteryServiceServer(grpcServer, svc)

	healthServer := health.NewServer()
	healthpb.RegisterHealthServer(grpcServer, healthServer)
	healthServer.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
	healthServer.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_NOT_SERVING)

	gateway, err := NewGateway(svc)
	if err != nil {
		return nil, err
	}

	return &GRPCServer{
		grpcServer:    grpcServer,
		healthServer:  healthServer,
		gateway:       gateway,
		grpcAddr:      grpcAddr,
		httpAddr:      httpAddr,
		healthChecker: svc.health,
		logger:        svc.logger,
	}, nil
}

// SetServing flips the gRPC health status once recovery has finished.
func (s *GRPCServer) SetServing(serving bool) {
	st := healthpb.HealthCheckResponse_NOT_SERVING
	if serving {
		st = healthpb.HealthCheckResponse_SERVING
	}
	s.healthServer.SetServingStatus("", st)
	s.healthServer.SetServingStatus(ServiceName, st)
}

// StartGRPC starts the gRPC server (blocking).
func (s *GRPCServer) StartGRPC(ctx context.Context) error {
	lis, err := net.Listen("tcp", s.grpcAddr)
	if err != nil {
		return fmt.Errorf("grpc listen: %w", err)
	}

	go func() {
		<-ctx.Done()
		s.logger.Info().Msg("gRPC server shutting down")
		s.healthServer.Shutdown()
		s.grpcServer.GracefulStop()
	}()

	s.logger.Info().Str("addr", s.grpcAddr).Msg("gRPC server listening")
	return s.Serve(lis)
}

// Serve accepts gRPC connections on lis until Stop.
func (s *GRPCServer) Serve(lis net.Listener) error {
	return s.grpcServer.Serve(lis)
}

func (s *GRPCServer) Stop() {
	s.grpcServer.Stop()
}

// Handler returns the HTTP handler: health endpoints plus the gateway routes.
func (s *GRPCServer) Handler() http.Handler {
	httpMux := http.NewServeMux()
	if s.healthChecker != nil {
		httpMux.HandleFunc("/healthz", s.healthChecker.LivenessHandler)
		httpMux.HandleFunc("/readyz", s.healthChecker.ReadinessHandler)
	}
	httpMux.Handle("/", s.gateway)
	return httpMux
}

// StartHTTPGateway serves the HTTP/JSON API (blocking).
func (s *GRPCServer) StartHTTPGateway(ctx context.Context) error {
	s.httpServer = &http.Server{
		Addr:              s.httpAddr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		s.logger.Info().Msg("HTTP gateway shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.httpServer.Shutdown(shutdownCtx)
	}()

	s.logger.Info().Str("addr", s.httpAddr).Msg("HTTP gateway listening")
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
