package jsonrpc

import (
	"context"
	stderrors "errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/creachadair/jrpc2"
	"github.com/creachadair/jrpc2/handler"
	"github.com/creachadair/jrpc2/jhttp"
	"github.com/ethereum/go-ethereum/common"
	"github.com/gorilla/mux"
	"github.com/mezonai/mmn-aa/errors"
	"github.com/mezonai/mmn-aa/exception"
	"github.com/mezonai/mmn-aa/interfaces"
	"github.com/mezonai/mmn-aa/logx"
	"github.com/mezonai/mmn-aa/monitoring"
	"github.com/mezonai/mmn-aa/ratelimit"
	"github.com/mezonai/mmn-aa/types"
)

// errorCode is the JSON-RPC code of every NetworkError
const errorCode jrpc2.Code = -32000

func toJRPC2Error(err error) error {
	if err == nil {
		return nil
	}
	var netErr *errors.NetworkError
	if stderrors.As(errors.FromError(err), &netErr) {
		return jrpc2.Errorf(errorCode, "%s", netErr.Message).WithData(netErr)
	}
	return jrpc2.Errorf(errorCode, "%s", err.Error())
}

func invalidAddress(field string) error {
	return toJRPC2Error(errors.NewError(errors.ErrCodeInvalidAddress, fmt.Sprintf("%s: %s", errors.ErrMsgInvalidAddress, field)))
}

func parseAddress(field, s string) (common.Address, error) {
	if !common.IsHexAddress(s) {
		return common.Address{}, invalidAddress(field)
	}
	return common.HexToAddress(s), nil
}

// --- Server ---

type Server struct {
	addr       string
	aaSvc      interfaces.AAService
	acctSvc    interfaces.AccountService
	healthSvc  interfaces.HealthService
	corsConfig CORSConfig
	limiter    *ratelimit.SubmissionLimiter
	httpServer *http.Server
}

type CORSConfig struct {
	AllowedOrigins []string
	AllowedMethods []string
	AllowedHeaders []string
	MaxAge         int
}

func NewServer(addr string, aaSvc interfaces.AAService, acctSvc interfaces.AccountService, healthSvc interfaces.HealthService) *Server {
	return &Server{
		addr:      addr,
		aaSvc:     aaSvc,
		acctSvc:   acctSvc,
		healthSvc: healthSvc,
	}
}

// SetCORSConfig allows configuring CORS settings
func (s *Server) SetCORSConfig(config CORSConfig) {
	s.corsConfig = config
}

// SetRateLimiter bounds aa.sendtransaction and aa.executefromoutside per
// remote IP and per account. A nil limiter admits everything.
func (s *Server) SetRateLimiter(l *ratelimit.SubmissionLimiter) {
	s.limiter = l
}

// Handler routes JSON-RPC on "/", Prometheus on "/metrics" and a plain
// liveness probe on "/healthz"
func (s *Server) Handler() http.Handler {
	methods := s.Methods()

	r := mux.NewRouter()
	r.Handle("/metrics", monitoring.Handler()).Methods(http.MethodGet)
	r.HandleFunc("/healthz", s.healthz).Methods(http.MethodGet)

	rpc := r.PathPrefix("/").Subrouter()
	rpc.Use(s.cors, s.admission)
	rpc.PathPrefix("/").HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// the bridge hands its handlers a fresh context, so each request gets
		// its own bridge rooted at the request context
		base := context.WithoutCancel(r.Context())
		jh := jhttp.NewBridge(methods, &jhttp.BridgeOptions{Server: &jrpc2.ServerOptions{
			NewContext: func() context.Context { return base },
		}})
		defer jh.Close()
		jh.ServeHTTP(w, r)
	})
	return r
}

// Start serves in the background until Shutdown
func (s *Server) Start() {
	s.httpServer = &http.Server{
		Addr:              s.addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	exception.SafeGo("JSONRPCServer", func() {
		logx.Info("JSONRPC", "listening on", s.addr)
		if err := s.httpServer.ListenAndServe(); err != nil && !stderrors.Is(err, http.ErrServerClosed) {
			logx.Error("JSONRPC", "server stopped:", err.Error())
		}
	})
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

// Methods builds the jrpc2 method map
func (s *Server) Methods() handler.Map {
	return handler.Map{
		MethodSendTransaction: handler.New(func(ctx context.Context, p SendTransactionParams) (*types.Receipt, error) {
			if err := s.admit(p.Transaction); err != nil {
				return nil, err
			}
			receipt, err := s.aaSvc.SendTransaction(ctx, p.Transaction)
			if err != nil {
				return nil, toJRPC2Error(err)
			}
			return receipt, nil
		}),
		MethodExecuteFromOutside: handler.New(func(ctx context.Context, p ExecuteFromOutsideParams) (*ExecuteFromOutsideResponse, error) {
			relayer, err := parseAddress("relayer", p.Relayer)
			if err != nil {
				return nil, err
			}
			if err := s.admit(p.Transaction); err != nil {
				return nil, err
			}
			out, err := s.aaSvc.ExecuteFromOutside(ctx, relayer, p.Transaction)
			if err != nil {
				return nil, toJRPC2Error(err)
			}
			return &ExecuteFromOutsideResponse{ReturnData: out}, nil
		}),
		MethodGetReceipt: handler.New(func(ctx context.Context, p GetReceiptParams) (*types.Receipt, error) {
			hash := strings.TrimSpace(p.TxHash)
			if len(strings.TrimPrefix(hash, "0x")) != 2*common.HashLength {
				return nil, toJRPC2Error(errors.NewError(errors.ErrCodeInvalidRequest, "tx_hash must be 32 bytes of hex"))
			}
			receipt, err := s.aaSvc.GetReceipt(ctx, common.HexToHash(hash))
			if err != nil {
				return nil, toJRPC2Error(err)
			}
			return receipt, nil
		}),
		MethodListReceipts: handler.New(func(ctx context.Context, p AddressParams) ([]*types.Receipt, error) {
			addr, err := parseAddress("address", p.Address)
			if err != nil {
				return nil, err
			}
			receipts, err := s.aaSvc.ListReceipts(ctx, addr)
			if err != nil {
				return nil, toJRPC2Error(err)
			}
			return receipts, nil
		}),
		MethodAccountGetAccount: handler.New(func(ctx context.Context, p AddressParams) (*types.Account, error) {
			addr, err := parseAddress("address", p.Address)
			if err != nil {
				return nil, err
			}
			acc, err := s.acctSvc.GetAccount(ctx, addr)
			if err != nil {
				return nil, toJRPC2Error(err)
			}
			return acc, nil
		}),
		MethodAccountGetNonce: handler.New(func(ctx context.Context, p GetNonceParams) (*GetNonceResponse, error) {
			addr, err := parseAddress("address", p.Address)
			if err != nil {
				return nil, err
			}
			tag := p.Tag
			if tag == "" {
				tag = "latest"
			}
			nonce, err := s.acctSvc.GetCurrentNonce(ctx, addr, tag)
			if err != nil {
				return nil, toJRPC2Error(err)
			}
			return &GetNonceResponse{Address: addr.Hex(), Nonce: nonce, Tag: tag}, nil
		}),
		MethodAccountIsNonceUsed: handler.New(func(ctx context.Context, p IsNonceUsedParams) (*IsNonceUsedResponse, error) {
			addr, err := parseAddress("address", p.Address)
			if err != nil {
				return nil, err
			}
			used, err := s.acctSvc.IsNonceUsed(ctx, addr, p.Nonce)
			if err != nil {
				return nil, toJRPC2Error(err)
			}
			return &IsNonceUsedResponse{Used: used}, nil
		}),
		MethodHealthCheck: handler.New(func(ctx context.Context) (*interfaces.HealthStatus, error) {
			status, err := s.healthSvc.Check(ctx)
			if err != nil {
				return nil, toJRPC2Error(err)
			}
			return status, nil
		}),
	}
}

// admit applies the per-account submission bound. The per-IP bound is
// enforced by the admission middleware.
func (s *Server) admit(tx *types.Transaction) error {
	if s.limiter == nil || tx == nil {
		return nil
	}
	if err := s.limiter.AllowAccount(tx.From); err != nil {
		monitoring.RecordRejectedTx(monitoring.TxRateLimited)
		logx.Warn("JSONRPC", err.Error())
		return toJRPC2Error(err)
	}
	return nil
}

func (s *Server) healthz(w http.ResponseWriter, r *http.Request) {
	status, err := s.healthSvc.Check(r.Context())
	if err != nil || status.Status != "SERVING" {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("NOT_SERVING"))
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}
