package middleware

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/conviction/internal/crypto"
)

// maxBodyBytes bounds request bodies read for signature verification.
const maxBodyBytes = 1 << 20

type callerKey struct{}

type callerRecorder interface {
	setCaller(addr string)
}

// CallerFrom returns the verified caller stored by Identity.
func CallerFrom(ctx context.Context) (common.Address, bool) {
	addr, ok := ctx.Value(callerKey{}).(common.Address)
	return addr, ok
}

// WithCaller stores addr as the verified caller.
func WithCaller(ctx context.Context, addr common.Address) context.Context {
	return context.WithValue(ctx, callerKey{}, addr)
}

// Identity returns middleware that recovers the caller from the
// X-Conviction-* signature headers. Requests without a signature pass
// through anonymously; a present but invalid or stale signature is rejected
// with 401. The body is buffered so handlers can still read it.
func Identity(maxSkew time.Duration, clock func() time.Time) func(http.Handler) http.Handler {
	if clock == nil {
		clock = time.Now
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			sig := r.Header.Get(crypto.HeaderSignature)
			if sig == "" {
				next.ServeHTTP(w, r)
				return
			}

			ts, err := strconv.ParseInt(r.Header.Get(crypto.HeaderTimestamp), 10, 64)
			if err != nil {
				writeUnauthorized(w, "invalid signature timestamp")
				return
			}
			if skew := clock().Sub(time.Unix(ts, 0)); skew > maxSkew || skew < -maxSkew {
				writeUnauthorized(w, "signature timestamp outside allowed skew")
				return
			}

			body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes+1))
			if err != nil {
				writeUnauthorized(w, "unreadable body")
				return
			}
			if len(body) > maxBodyBytes {
				writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
				return
			}
			r.Body = io.NopCloser(bytes.NewReader(body))

			addr, err := crypto.RecoverRequest(r.Method, r.URL.RequestURI(), ts, body, sig)
			if err != nil {
				writeUnauthorized(w, "invalid signature")
				return
			}
			if claimed := r.Header.Get(crypto.HeaderAddress); claimed != "" && common.HexToAddress(claimed) != addr {
				writeUnauthorized(w, "signature does not match address")
				return
			}

			if cr, ok := w.(callerRecorder); ok {
				cr.setCaller(addr.Hex())
			}
			next.ServeHTTP(w, r.WithContext(WithCaller(r.Context(), addr)))
		})
	}
}

// RequireCaller rejects requests that Identity did not authenticate.
func RequireCaller(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := CallerFrom(r.Context()); !ok {
			writeUnauthorized(w, "signed request required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// writeUnauthorized sends a 401 response with a JSON error body.
func writeUnauthorized(w http.ResponseWriter, msg string) {
	writeError(w, http.StatusUnauthorized, msg)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	w.Write([]byte(`{"error":"` + msg + `","code":"unauthorized"}`))
}
