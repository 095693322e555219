package server

import (
	"context"
	"net/http"

	"github.com/google/uuid"
)

type logRequestKey string

const (
	RequestKeyRequestID logRequestKey = "request_id"
	RequestKeyRemoteIP  logRequestKey = "client_remote_addr"
)

func WithRequestID(ctx context.Context) context.Context {
	return context.WithValue(ctx, RequestKeyRequestID, uuid.NewString())
}

func WithRemoteIP(ctx context.Context, ip string) context.Context {
	return context.WithValue(ctx, RequestKeyRemoteIP, ip)
}

// withRequestContext stamps every inbound request with a request ID and the
// client's remote address so the configured logger can attribute log lines
// without each handler threading them through by hand. The context is
// cancelled after requestTimeout.
func withRequestContext(h http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
		defer cancel()
		ctx = WithRequestID(ctx)
		ctx = WithRemoteIP(ctx, r.RemoteAddr)
		h.ServeHTTP(w, r.WithContext(ctx))
	})
}
