package server

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"

	"LotteryLedger/internal/query"
)

// Client is a LotteryService client speaking the JSON codec. Ledger errors
// come back as the matching errs sentinel.
type Client struct {
	cc grpc.ClientConnInterface
}

func NewClient(cc grpc.ClientConnInterface) *Client {
	return &Client{cc: cc}
}

// WithCaller returns a context that submits commands on behalf of account.
func WithCaller(ctx context.Context, account, requestID string) context.Context {
	md := metadata.Pairs(callerKey, account)
	if requestID != "" {
		md.Set(requestIDKey, requestID)
	}
	return metadata.NewOutgoingContext(ctx, md)
}

func (c *Client) invoke(ctx context.Context, method string, in, out any) error {
	var trailer metadata.MD
	err := c.cc.Invoke(ctx, "/"+ServiceName+"/"+method, in, out,
		grpc.CallContentSubtype(codecName), grpc.Trailer(&trailer))
	return fromStatus(err, trailer)
}

func (c *Client) SubmitCommand(ctx context.Context, req *CommandRequest) (*CommandResponse, error) {
	out := new(CommandResponse)
	if err := c.invoke(ctx, "SubmitCommand", req, out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) ListLotteries(ctx context.Context) (*ListLotteriesResponse, error) {
	out := new(ListLotteriesResponse)
	if err := c.invoke(ctx, "ListLotteries", &Empty{}, out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) GetLottery(ctx context.Context, id uint64) (*query.LotteryView, error) {
	out := new(query.LotteryView)
	if err := c.invoke(ctx, "GetLottery", &LotteryRequest{LotteryID: id}, out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) GetTicket(ctx context.Context, tokenID uint64) (*query.TicketView, error) {
	out := new(query.TicketView)
	if err := c.invoke(ctx, "GetTicket", &TicketRequest{TokenID: tokenID}, out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) GetUserTickets(ctx context.Context, account string) (*TicketsResponse, error) {
	out := new(TicketsResponse)
	if err := c.invoke(ctx, "GetUserTickets", &AccountRequest{Account: account}, out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) GetListing(ctx context.Context, id uint64) (*query.ListingView, error) {
	out := new(query.ListingView)
	if err := c.invoke(ctx, "GetListing", &ListingRequest{ListingID: id}, out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) ListActiveListings(ctx context.Context) (*ListingsResponse, error) {
	out := new(ListingsResponse)
	if err := c.invoke(ctx, "ListActiveListings", &Empty{}, out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) GetOrderBook(ctx context.Context, lotteryID uint64, optionID int) (*query.OrderBookView, error) {
	out := new(query.OrderBookView)
	if err := c.invoke(ctx, "GetOrderBook", &OrderBookRequest{LotteryID: lotteryID, OptionID: optionID}, out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) GetBalance(ctx context.Context, account string) (*query.BalanceView, error) {
	out := new(query.BalanceView)
	if err := c.invoke(ctx, "GetBalance", &AccountRequest{Account: account}, out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) GetAllowance(ctx context.Context, owner, spender string) (*query.AllowanceView, error) {
	out := new(query.AllowanceView)
	if err := c.invoke(ctx, "GetAllowance", &AllowanceRequest{Owner: owner, Spender: spender}, out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) ListJournals(ctx context.Context, req *JournalsRequest) (*JournalsResponse, error) {
	out := new(JournalsResponse)
	if err := c.invoke(ctx, "ListJournals", req, out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) GetStatus(ctx context.Context) (*StatusResponse, error) {
	out := new(StatusResponse)
	if err := c.invoke(ctx, "GetStatus", &Empty{}, out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) VerifyIntegrity(ctx context.Context) (*query.IntegrityReport, error) {
	out := new(query.IntegrityReport)
	if err := c.invoke(ctx, "VerifyIntegrity", &Empty{}, out); err != nil {
		return nil, err
	}
	return out, nil
}

// TakeSnapshot and the other admin calls need WithCaller(ctx, resolver, "").
func (c *Client) TakeSnapshot(ctx context.Context) (*SnapshotResponse, error) {
	out := new(SnapshotResponse)
	if err := c.invoke(ctx, "TakeSnapshot", &Empty{}, out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) RebuildProjections(ctx context.Context) (*RebuildResponse, error) {
	out := new(RebuildResponse)
	if err := c.invoke(ctx, "RebuildProjections", &Empty{}, out); err != nil {
		return nil, err
	}
	return out, nil
}
