package server

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"time"

	"github.com/rs/zerolog"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"LotteryLedger/internal/command"
	"LotteryLedger/internal/core"
	"LotteryLedger/internal/errs"
	"LotteryLedger/internal/ingestion"
	"LotteryLedger/internal/ledger"
	fpmath "LotteryLedger/internal/math"
	"LotteryLedger/internal/observability"
	"LotteryLedger/internal/query"
)

// Incoming metadata keys. The HTTP gateway maps X-Account-ID and
// X-Request-ID onto them.
const (
	callerKey    = "x-account-id"
	requestIDKey = "x-request-id"
)

// Engine is the core surface the service drives. Satisfied by *core.Engine.
type Engine interface {
	query.Source
	Execute(cmd command.Command) (*core.Result, error)
	GetStateHash() [32]byte
	Resolver() ledger.AccountID
}

// Deps holds everything the service needs. History, Snapshot and Rebuild
// are optional; their endpoints report Unavailable when unset.
type Deps struct {
	Engine   Engine
	History  *query.History
	Snapshot func(ctx context.Context) (int64, error)
	Rebuild  func(ctx context.Context) error
	Health   *observability.HealthChecker
	Metrics  *observability.Metrics
	Logger   zerolog.Logger
}

// Service implements LotteryService for both gRPC and the HTTP gateway.
type Service struct {
	engine   Engine
	views    *query.Views
	history  *query.History
	snapshot func(ctx context.Context) (int64, error)
	rebuild  func(ctx context.Context) error
	health   *observability.HealthChecker
	metrics  *observability.Metrics
	logger   zerolog.Logger
}

func NewService(deps Deps) *Service {
	return &Service{
		engine:   deps.Engine,
		views:    query.NewViews(deps.Engine),
		history:  deps.History,
		snapshot: deps.Snapshot,
		rebuild:  deps.Rebuild,
		health:   deps.Health,
		metrics:  deps.Metrics,
		logger:   deps.Logger.With().Str("component", "api").Logger(),
	}
}

// ============================================================================
// Messages
// ============================================================================

// CommandRequest submits one command. Payload uses the same JSON wire format
// as the NATS ingestion path; the caller and request id in metadata take
// precedence over those in the payload.
type CommandRequest struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

type PayoutView struct {
	TokenID uint64 `json:"token_id"`
	Account string `json:"account"`
	Amount  string `json:"amount"`
}

type CommandResponse struct {
	Sequence int64              `json:"sequence"`
	Lottery  *query.LotteryView `json:"lottery,omitempty"`
	Ticket   *query.TicketView  `json:"ticket,omitempty"`
	Listing  *query.ListingView `json:"listing,omitempty"`
	Payouts  []PayoutView       `json:"payouts,omitempty"`
	Amount   string             `json:"amount,omitempty"`
}

type Empty struct{}

type LotteryRequest struct {
	LotteryID uint64 `json:"lottery_id"`
}

type ListLotteriesResponse struct {
	Lotteries []query.LotteryView `json:"lotteries"`
}

type TicketRequest struct {
	TokenID uint64 `json:"token_id"`
}

type AccountRequest struct {
	Account string `json:"account"`
}

type TicketsResponse struct {
	Tickets []query.TicketView `json:"tickets"`
}

type ListingRequest struct {
	ListingID uint64 `json:"listing_id"`
}

type ListingsResponse struct {
	Listings []query.ListingView `json:"listings"`
}

type OrderBookRequest struct {
	LotteryID uint64 `json:"lottery_id"`
	OptionID  int    `json:"option_id"`
}

type AllowanceRequest struct {
	Owner   string `json:"owner"`
	Spender string `json:"spender"`
}

type JournalsRequest struct {
	Account       string `json:"account"`
	Limit         int    `json:"limit"`
	AfterSequence int64  `json:"after_sequence"`
}

type JournalsResponse struct {
	Journals []query.JournalHistoryEntry `json:"journals"`
}

type StatusResponse struct {
	Sequence  int64  `json:"sequence"`
	StateHash string `json:"state_hash"`
	Now       int64  `json:"now"`
	Resolver  string `json:"resolver"`
	Ready     bool   `json:"ready"`
}

type SnapshotResponse struct {
	Sequence int64 `json:"sequence"`
}

type RebuildResponse struct {
	Completed bool `json:"completed"`
}

// ============================================================================
// Commands
// ============================================================================

func (s *Service) SubmitCommand(ctx context.Context, req *CommandRequest) (*CommandResponse, error) {
	return observed(s, "SubmitCommand", func() (*CommandResponse, error) {
		t, ok := command.ParseType(req.Type)
		if !ok {
			return nil, errs.Wrap(errs.ErrInvalidArgument, "unknown command type %q", req.Type)
		}
		payload, err := withMetadata(ctx, req.Payload)
		if err != nil {
			return nil, err
		}
		cmd, err := ingestion.ParseCommand(t, payload)
		if err != nil {
			return nil, err
		}
		res, err := s.engine.Execute(cmd)
		if err != nil {
			s.logger.Debug().Err(err).Str("command_type", t.String()).Msg("command rejected")
			return nil, err
		}
		return s.commandResponse(res), nil
	})
}

// requireResolver admits only the resolver account named in incoming
// metadata. Admin endpoints call it first.
func (s *Service) requireResolver(ctx context.Context) error {
	md, _ := metadata.FromIncomingContext(ctx)
	vals := md.Get(callerKey)
	if len(vals) == 0 || vals[0] == "" {
		return status.Error(codes.Unauthenticated, "x-account-id metadata is required")
	}
	if ledger.AccountID(vals[0]) != s.engine.Resolver() {
		return errs.Wrap(errs.ErrUnauthorized, "%s is not the resolver", vals[0])
	}
	return nil
}

// withMetadata overlays the caller and request id from incoming metadata
// onto a JSON payload object.
func withMetadata(ctx context.Context, payload json.RawMessage) ([]byte, error) {
	fields := map[string]json.RawMessage{}
	if len(payload) > 0 && string(payload) != "null" {
		if err := json.Unmarshal(payload, &fields); err != nil {
			return nil, errs.Wrap(errs.ErrInvalidArgument, "payload must be a JSON object: %v", err)
		}
	}
	md, _ := metadata.FromIncomingContext(ctx)
	for _, key := range []struct{ md, field string }{
		{callerKey, "caller"},
		{requestIDKey, "request_id"},
	} {
		if vals := md.Get(key.md); len(vals) > 0 && vals[0] != "" {
			raw, err := json.Marshal(vals[0])
			if err != nil {
				return nil, err
			}
			fields[key.field] = raw
		}
	}
	return json.Marshal(fields)
}

func (s *Service) commandResponse(res *core.Result) *CommandResponse {
	resp := &CommandResponse{Sequence: res.Sequence}
	if res.Lottery != nil {
		if v, err := s.views.Lottery(res.Lottery.ID); err == nil {
			resp.Lottery = &v
		}
	}
	if res.Ticket != nil {
		if v, err := s.views.Ticket(res.Ticket.TokenID); err == nil {
			resp.Ticket = &v
		}
	}
	if res.Listing != nil {
		if v, err := s.views.Listing(res.Listing.ID); err == nil {
			resp.Listing = &v
		}
	}
	for _, p := range res.Payouts {
		resp.Payouts = append(resp.Payouts, PayoutView{
			TokenID: p.TokenID,
			Account: string(p.Account),
			Amount:  fpmath.FormatPoints(p.Amount),
		})
	}
	if res.Amount != 0 {
		resp.Amount = fpmath.FormatPoints(res.Amount)
	}
	return resp
}

// ============================================================================
// Reads
// ============================================================================

func (s *Service) ListLotteries(ctx context.Context, _ *Empty) (*ListLotteriesResponse, error) {
	return observed(s, "ListLotteries", func() (*ListLotteriesResponse, error) {
		return &ListLotteriesResponse{Lotteries: s.views.Lotteries()}, nil
	})
}

func (s *Service) GetLottery(ctx context.Context, req *LotteryRequest) (*query.LotteryView, error) {
	return observed(s, "GetLottery", func() (*query.LotteryView, error) {
		v, err := s.views.Lottery(req.LotteryID)
		if err != nil {
			return nil, err
		}
		return &v, nil
	})
}

func (s *Service) GetTicket(ctx context.Context, req *TicketRequest) (*query.TicketView, error) {
	return observed(s, "GetTicket", func() (*query.TicketView, error) {
		v, err := s.views.Ticket(req.TokenID)
		if err != nil {
			return nil, err
		}
		return &v, nil
	})
}

func (s *Service) GetUserTickets(ctx context.Context, req *AccountRequest) (*TicketsResponse, error) {
	return observed(s, "GetUserTickets", func() (*TicketsResponse, error) {
		account, err := accountID("account", req.Account)
		if err != nil {
			return nil, err
		}
		return &TicketsResponse{Tickets: s.views.UserTickets(account)}, nil
	})
}

func (s *Service) GetListing(ctx context.Context, req *ListingRequest) (*query.ListingView, error) {
	return observed(s, "GetListing", func() (*query.ListingView, error) {
		v, err := s.views.Listing(req.ListingID)
		if err != nil {
			return nil, err
		}
		return &v, nil
	})
}

func (s *Service) ListActiveListings(ctx context.Context, _ *Empty) (*ListingsResponse, error) {
	return observed(s, "ListActiveListings", func() (*ListingsResponse, error) {
		return &ListingsResponse{Listings: s.views.ActiveListings()}, nil
	})
}

func (s *Service) GetOrderBook(ctx context.Context, req *OrderBookRequest) (*query.OrderBookView, error) {
	return observed(s, "GetOrderBook", func() (*query.OrderBookView, error) {
		v, err := s.views.OrderBook(req.LotteryID, req.OptionID)
		if err != nil {
			return nil, err
		}
		return &v, nil
	})
}

func (s *Service) GetBalance(ctx context.Context, req *AccountRequest) (*query.BalanceView, error) {
	return observed(s, "GetBalance", func() (*query.BalanceView, error) {
		account, err := accountID("account", req.Account)
		if err != nil {
			return nil, err
		}
		v := s.views.Balance(account)
		return &v, nil
	})
}

func (s *Service) GetAllowance(ctx context.Context, req *AllowanceRequest) (*query.AllowanceView, error) {
	return observed(s, "GetAllowance", func() (*query.AllowanceView, error) {
		owner, err := accountID("owner", req.Owner)
		if err != nil {
			return nil, err
		}
		spender, err := accountID("spender", req.Spender)
		if err != nil {
			return nil, err
		}
		v := s.views.Allowance(owner, spender)
		return &v, nil
	})
}

func (s *Service) ListJournals(ctx context.Context, req *JournalsRequest) (*JournalsResponse, error) {
	return observed(s, "ListJournals", func() (*JournalsResponse, error) {
		if s.history == nil {
			return nil, status.Error(codes.Unavailable, "journal history is not configured")
		}
		account, err := accountID("account", req.Account)
		if err != nil {
			return nil, err
		}
		var after *int64
		if req.AfterSequence > 0 {
			after = &req.AfterSequence
		}
		entries, err := s.history.JournalHistory(ctx, account, req.Limit, after)
		if err != nil {
			return nil, status.Errorf(codes.Internal, "list journals: %v", err)
		}
		return &JournalsResponse{Journals: entries}, nil
	})
}

// ============================================================================
// Admin
// ============================================================================

func (s *Service) GetStatus(ctx context.Context, _ *Empty) (*StatusResponse, error) {
	return observed(s, "GetStatus", func() (*StatusResponse, error) {
		hash := s.engine.GetStateHash()
		resp := &StatusResponse{
			Sequence:  s.engine.GetSequence(),
			StateHash: hex.EncodeToString(hash[:]),
			Now:       s.engine.Now(),
			Resolver:  string(s.engine.Resolver()),
			Ready:     true,
		}
		if s.health != nil {
			resp.Ready = s.health.IsReady()
		}
		return resp, nil
	})
}

func (s *Service) VerifyIntegrity(ctx context.Context, _ *Empty) (*query.IntegrityReport, error) {
	return observed(s, "VerifyIntegrity", func() (*query.IntegrityReport, error) {
		if err := s.requireResolver(ctx); err != nil {
			return nil, err
		}
		if s.history == nil {
			return nil, status.Error(codes.Unavailable, "integrity checks need postgres")
		}
		report, err := s.history.VerifyIntegrity(ctx)
		if err != nil {
			return nil, status.Errorf(codes.Internal, "verify integrity: %v", err)
		}
		return report, nil
	})
}

func (s *Service) TakeSnapshot(ctx context.Context, _ *Empty) (*SnapshotResponse, error) {
	return observed(s, "TakeSnapshot", func() (*SnapshotResponse, error) {
		if err := s.requireResolver(ctx); err != nil {
			return nil, err
		}
		if s.snapshot == nil {
			return nil, status.Error(codes.Unavailable, "snapshots are not configured")
		}
		seq, err := s.snapshot(ctx)
		if err != nil {
			return nil, status.Errorf(codes.Internal, "snapshot: %v", err)
		}
		s.logger.Info().Int64("sequence", seq).Msg("snapshot taken on request")
		return &SnapshotResponse{Sequence: seq}, nil
	})
}

func (s *Service) RebuildProjections(ctx context.Context, _ *Empty) (*RebuildResponse, error) {
	return observed(s, "RebuildProjections", func() (*RebuildResponse, error) {
		if err := s.requireResolver(ctx); err != nil {
			return nil, err
		}
		if s.rebuild == nil {
			return nil, status.Error(codes.Unavailable, "projections are not configured")
		}
		if err := s.rebuild(ctx); err != nil {
			return nil, status.Errorf(codes.Internal, "rebuild failed: %v", err)
		}
		return &RebuildResponse{Completed: true}, nil
	})
}

// ============================================================================
// Helpers
// ============================================================================

func observed[T any](s *Service, endpoint string, fn func() (T, error)) (T, error) {
	start := time.Now()
	resp, err := fn()
	if s.metrics != nil {
		s.metrics.QueryRequests.WithLabelValues(endpoint, CodeFromError(err).String()).Inc()
		s.metrics.QueryDuration.WithLabelValues(endpoint).Observe(time.Since(start).Seconds())
	}
	return resp, err
}

func accountID(field, v string) (ledger.AccountID, error) {
	if v == "" {
		return "", errs.Wrap(errs.ErrInvalidArgument, "%s is required", field)
	}
	return ledger.AccountID(v), nil
}
