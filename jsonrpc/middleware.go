package jsonrpc

import (
	"bytes"
	stderrors "errors"
	"io"
	"net"
	"net/http"
	"strings"

	"github.com/creachadair/jrpc2"
	"github.com/mezonai/mmn-aa/errors"
	"github.com/mezonai/mmn-aa/jsonx"
	"github.com/mezonai/mmn-aa/logx"
	"github.com/mezonai/mmn-aa/monitoring"
	"github.com/mezonai/mmn-aa/telemetry"
)

const maxRequestBytes = 1 << 20

type rpcErrorBody struct {
	Code    jrpc2.Code           `json:"code"`
	Message string               `json:"message"`
	Data    *errors.NetworkError `json:"data,omitempty"`
}

type rpcErrorResponse struct {
	JSONRPC string       `json:"jsonrpc"`
	ID      *string      `json:"id"`
	Error   rpcErrorBody `json:"error"`
}

func (s *Server) cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.setCORSHeaders(w, r)
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// admission joins the caller's trace named by X-Trace-Id and charges every
// submission in the body against the client IP before the bridge decodes it
func (s *Server) admission(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if id := r.Header.Get(TraceHeader); id != "" {
			if traced, ok := telemetry.ContextWithTraceID(ctx, id); ok {
				ctx = traced
			}
		}

		if s.limiter != nil && r.Method == http.MethodPost {
			body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxRequestBytes))
			if err != nil {
				http.Error(w, "request body too large", http.StatusRequestEntityTooLarge)
				return
			}
			r.Body = io.NopCloser(bytes.NewReader(body))

			ip := extractClientIP(r)
			for range countSubmissions(body) {
				if err := s.limiter.AllowIP(ip); err != nil {
					writeRateLimited(w, err)
					return
				}
			}
		}
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// countSubmissions is the number of calls in a single or batch body that
// submit a transaction. Unparsable bodies count zero and are left to the
// bridge to reject.
func countSubmissions(body []byte) int {
	reqs, err := jrpc2.ParseRequests(body)
	if err != nil {
		return 0
	}
	n := 0
	for _, req := range reqs {
		if req.Method == MethodSendTransaction || req.Method == MethodExecuteFromOutside {
			n++
		}
	}
	return n
}

func extractClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		ip := strings.TrimSpace(strings.Split(xff, ",")[0])
		if net.ParseIP(ip) != nil {
			return ip
		}
	}
	if ip := strings.TrimSpace(r.Header.Get("X-Real-IP")); net.ParseIP(ip) != nil {
		return ip
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err == nil && net.ParseIP(host) != nil {
		return host
	}
	return "unknown"
}

func writeRateLimited(w http.ResponseWriter, err error) {
	monitoring.RecordRejectedTx(monitoring.TxRateLimited)
	logx.Warn("JSONRPC", err.Error())

	body := rpcErrorBody{Code: errorCode, Message: err.Error()}
	var netErr *errors.NetworkError
	if stderrors.As(errors.FromError(err), &netErr) {
		body.Message = netErr.Message
		body.Data = netErr
	}
	payload, merr := jsonx.Marshal(rpcErrorResponse{JSONRPC: "2.0", Error: body})
	if merr != nil {
		http.Error(w, err.Error(), http.StatusTooManyRequests)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusTooManyRequests)
	_, _ = w.Write(payload)
}
