package server

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/grpc-ecosystem/grpc-gateway/v2/runtime"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"LotteryLedger/internal/command"
	"LotteryLedger/internal/errs"
)

const maxBodyBytes = 1 << 20

type route struct {
	method  string
	pattern string
	handler runtime.HandlerFunc
}

// NewGateway builds the HTTP/JSON routes over svc. Mutating routes take the
// caller from the X-Account-ID header and an optional X-Request-ID.
func NewGateway(svc *Service) (*runtime.ServeMux, error) {
	mux := runtime.NewServeMux()

	routes := []route{
		// Commands
		{"POST", "/v1/lotteries", commandRoute(svc, command.TypeCreateLottery)},
		{"POST", "/v1/lotteries/{lottery_id}/tickets", commandRoute(svc, command.TypePurchaseTicket)},
		{"POST", "/v1/lotteries/{lottery_id}/options/{option_id}/buy", commandRoute(svc, command.TypeBuyAtBestPrice)},
		{"POST", "/v1/lotteries/{lottery_id}/resolve", commandRoute(svc, command.TypeResolve)},
		{"POST", "/v1/lotteries/{lottery_id}/settle", commandRoute(svc, command.TypeSettle)},
		{"POST", "/v1/lotteries/{lottery_id}/refund", commandRoute(svc, command.TypeRefund)},
		{"POST", "/v1/tickets/{token_id}/list", commandRoute(svc, command.TypeListTicket)},
		{"POST", "/v1/tickets/{token_id}/approve", commandRoute(svc, command.TypeApproveTicket)},
		{"POST", "/v1/listings/{listing_id}/cancel", commandRoute(svc, command.TypeCancelListing)},
		{"POST", "/v1/listings/{listing_id}/buy", commandRoute(svc, command.TypeBuyListing)},
		{"POST", "/v1/approvals", commandRoute(svc, command.TypeApprove)},
		{"POST", "/v1/transfers", commandRoute(svc, command.TypeTransfer)},
		{"POST", "/v1/faucet/claim", commandRoute(svc, command.TypeClaimPoints)},
		{"POST", "/v1/mint", commandRoute(svc, command.TypeMintPoints)},
		{"POST", "/v1/commands/{type}", genericCommandRoute(svc)},

		// Reads
		{"GET", "/v1/lotteries", func(w http.ResponseWriter, r *http.Request, _ map[string]string) {
			resp, err := svc.ListLotteries(r.Context(), &Empty{})
			respond(w, resp, err)
		}},
		{"GET", "/v1/lotteries/{lottery_id}", func(w http.ResponseWriter, r *http.Request, p map[string]string) {
			id, err := uintParam(p, "lottery_id")
			if err != nil {
				writeError(w, err)
				return
			}
			resp, err := svc.GetLottery(r.Context(), &LotteryRequest{LotteryID: id})
			respond(w, resp, err)
		}},
		{"GET", "/v1/lotteries/{lottery_id}/options/{option_id}/orderbook", func(w http.ResponseWriter, r *http.Request, p map[string]string) {
			id, err := uintParam(p, "lottery_id")
			if err != nil {
				writeError(w, err)
				return
			}
			option, err := uintParam(p, "option_id")
			if err != nil {
				writeError(w, err)
				return
			}
			resp, err := svc.GetOrderBook(r.Context(), &OrderBookRequest{LotteryID: id, OptionID: int(option)})
			respond(w, resp, err)
		}},
		{"GET", "/v1/tickets/{token_id}", func(w http.ResponseWriter, r *http.Request, p map[string]string) {
			id, err := uintParam(p, "token_id")
			if err != nil {
				writeError(w, err)
				return
			}
			resp, err := svc.GetTicket(r.Context(), &TicketRequest{TokenID: id})
			respond(w, resp, err)
		}},
		{"GET", "/v1/listings", func(w http.ResponseWriter, r *http.Request, _ map[string]string) {
			resp, err := svc.ListActiveListings(r.Context(), &Empty{})
			respond(w, resp, err)
		}},
		{"GET", "/v1/listings/{listing_id}", func(w http.ResponseWriter, r *http.Request, p map[string]string) {
			id, err := uintParam(p, "listing_id")
			if err != nil {
				writeError(w, err)
				return
			}
			resp, err := svc.GetListing(r.Context(), &ListingRequest{ListingID: id})
			respond(w, resp, err)
		}},
		{"GET", "/v1/accounts/{account}/tickets", func(w http.ResponseWriter, r *http.Request, p map[string]string) {
			resp, err := svc.GetUserTickets(r.Context(), &AccountRequest{Account: p["account"]})
			respond(w, resp, err)
		}},
		{"GET", "/v1/accounts/{account}/balance", func(w http.ResponseWriter, r *http.Request, p map[string]string) {
			resp, err := svc.GetBalance(r.Context(), &AccountRequest{Account: p["account"]})
			respond(w, resp, err)
		}},
		// Spender ids such as system:lottery go in the query string; a colon in
		// the last path segment would be read as a custom verb.
		{"GET", "/v1/accounts/{account}/allowance", func(w http.ResponseWriter, r *http.Request, p map[string]string) {
			resp, err := svc.GetAllowance(r.Context(), &AllowanceRequest{
				Owner:   p["account"],
				Spender: r.URL.Query().Get("spender"),
			})
			respond(w, resp, err)
		}},
		{"GET", "/v1/accounts/{account}/journals", func(w http.ResponseWriter, r *http.Request, p map[string]string) {
			req := &JournalsRequest{Account: p["account"]}
			q := r.URL.Query()
			if v := q.Get("limit"); v != "" {
				n, err := strconv.Atoi(v)
				if err != nil {
					writeError(w, errs.Wrap(errs.ErrInvalidArgument, "limit: %v", err))
					return
				}
				req.Limit = n
			}
			if v := q.Get("after_sequence"); v != "" {
				n, err := strconv.ParseInt(v, 10, 64)
				if err != nil {
					writeError(w, errs.Wrap(errs.ErrInvalidArgument, "after_sequence: %v", err))
					return
				}
				req.AfterSequence = n
			}
			resp, err := svc.ListJournals(r.Context(), req)
			respond(w, resp, err)
		}},

		// Admin
		{"GET", "/v1/status", func(w http.ResponseWriter, r *http.Request, _ map[string]string) {
			resp, err := svc.GetStatus(r.Context(), &Empty{})
			respond(w, resp, err)
		}},
		{"GET", "/v1/admin/integrity", func(w http.ResponseWriter, r *http.Request, _ map[string]string) {
			resp, err := svc.VerifyIntegrity(callerContext(r), &Empty{})
			respond(w, resp, err)
		}},
		{"POST", "/v1/admin/snapshots", func(w http.ResponseWriter, r *http.Request, _ map[string]string) {
			resp, err := svc.TakeSnapshot(callerContext(r), &Empty{})
			respond(w, resp, err)
		}},
		{"POST", "/v1/admin/projections/rebuild", func(w http.ResponseWriter, r *http.Request, _ map[string]string) {
			resp, err := svc.RebuildProjections(callerContext(r), &Empty{})
			respond(w, resp, err)
		}},
	}

	for _, rt := range routes {
		if err := mux.HandlePath(rt.method, rt.pattern, rt.handler); err != nil {
			return nil, fmt.Errorf("register %s %s: %w", rt.method, rt.pattern, err)
		}
	}
	return mux, nil
}

func commandRoute(svc *Service, t command.Type) runtime.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request, params map[string]string) {
		submit(svc, t, w, r, params)
	}
}

func genericCommandRoute(svc *Service) runtime.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request, params map[string]string) {
		t, ok := command.ParseType(params["type"])
		if !ok {
			writeError(w, errs.Wrap(errs.ErrInvalidArgument, "unknown command type %q", params["type"]))
			return
		}
		delete(params, "type")
		submit(svc, t, w, r, params)
	}
}

func submit(svc *Service, t command.Type, w http.ResponseWriter, r *http.Request, params map[string]string) {
	caller := r.Header.Get("X-Account-ID")
	if caller == "" {
		writeError(w, status.Error(codes.Unauthenticated, "X-Account-ID header is required"))
		return
	}
	payload, err := commandPayload(r, params)
	if err != nil {
		writeError(w, err)
		return
	}
	md := metadata.Pairs(callerKey, caller)
	if id := r.Header.Get("X-Request-ID"); id != "" {
		md.Set(requestIDKey, id)
	}
	ctx := metadata.NewIncomingContext(r.Context(), md)
	resp, err := svc.SubmitCommand(ctx, &CommandRequest{Type: t.String(), Payload: payload})
	respond(w, resp, err)
}

// callerContext carries X-Account-ID as incoming metadata, when present.
func callerContext(r *http.Request) context.Context {
	caller := r.Header.Get("X-Account-ID")
	if caller == "" {
		return r.Context()
	}
	return metadata.NewIncomingContext(r.Context(), metadata.Pairs(callerKey, caller))
}

// commandPayload merges numeric path parameters into the JSON body.
func commandPayload(r *http.Request, params map[string]string) (json.RawMessage, error) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		return nil, errs.Wrap(errs.ErrInvalidArgument, "read body: %v", err)
	}
	fields := map[string]json.RawMessage{}
	if len(body) > 0 {
		if err := json.Unmarshal(body, &fields); err != nil {
			return nil, errs.Wrap(errs.ErrInvalidArgument, "body must be a JSON object: %v", err)
		}
	}
	for name := range params {
		v, err := uintParam(params, name)
		if err != nil {
			return nil, err
		}
		fields[name] = json.RawMessage(strconv.FormatUint(v, 10))
	}
	return json.Marshal(fields)
}

func uintParam(params map[string]string, name string) (uint64, error) {
	v, err := strconv.ParseUint(params[name], 10, 64)
	if err != nil {
		return 0, errs.Wrap(errs.ErrInvalidArgument, "%s must be a non-negative integer", name)
	}
	return v, nil
}

func respond(w http.ResponseWriter, resp any, err error) {
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Code    int32  `json:"code"`
}

func writeError(w http.ResponseWriter, err error) {
	code := CodeFromError(err)
	body := errorBody{
		Error:   errs.CodeOf(err),
		Message: status.Convert(err).Message(),
		Code:    int32(code),
	}
	if _, ok := status.FromError(err); ok {
		body.Error = code.String()
	}
	writeJSON(w, runtime.HTTPStatusFromCode(code), body)
}

func writeJSON(w http.ResponseWriter, statusCode int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(v)
}
