package handlers

import (
	"io"
	"net"
	"net/http"
	"strings"

	"github.com/diagnosis/lenslink/internal/http/response"
	"github.com/diagnosis/lenslink/pkg/logger"
	"github.com/diagnosis/lenslink/services/gateway/internal/proxy"
)

// maxBodyBytes bounds what the edge will buffer before forwarding.
const maxBodyBytes = 2 << 20

type Handlers struct {
	sessionsProxy *proxy.ServiceProxy
	paymentsProxy *proxy.ServiceProxy
}

func New(sessionsProxy, paymentsProxy *proxy.ServiceProxy) *Handlers {
	return &Handlers{
		sessionsProxy: sessionsProxy,
		paymentsProxy: paymentsProxy,
	}
}

// Sessions forwards everything under /v1 to the sessions service with the
// version prefix stripped.
func (h *Handlers) Sessions(w http.ResponseWriter, r *http.Request) {
	h.proxyRequest(w, r, h.sessionsProxy, upstreamPath(r, "/v1"))
}

// StripeWebhook forwards the raw webhook body; the payments service checks
// the signature against these exact bytes.
func (h *Handlers) StripeWebhook(w http.ResponseWriter, r *http.Request) {
	h.proxyRequest(w, r, h.paymentsProxy, "/webhook")
}

func upstreamPath(r *http.Request, prefix string) string {
	path := strings.TrimPrefix(r.URL.Path, prefix)
	if path == "" {
		path = "/"
	}
	if r.URL.RawQuery != "" {
		path += "?" + r.URL.RawQuery
	}
	return path
}

// Helper to copy request body and headers
func (h *Handlers) proxyRequest(w http.ResponseWriter, r *http.Request, serviceProxy *proxy.ServiceProxy, path string) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		response.BadRequest(w, "Failed to read request body")
		return
	}
	defer r.Body.Close()

	headers := make(http.Header)
	for key, values := range r.Header {
		if shouldCopyHeader(key) {
			headers[key] = values
		}
	}
	if ip, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		if prior := headers.Get("X-Forwarded-For"); prior != "" {
			ip = prior + ", " + ip
		}
		headers.Set("X-Forwarded-For", ip)
	}

	resp, err := serviceProxy.ProxyRequest(r.Context(), r.Method, path, body, headers)
	if err != nil {
		logger.ErrorContext(r.Context(), "Service proxy error", "error", err, "service", serviceProxy.Name(), "path", path)
		response.WriteError(w, http.StatusServiceUnavailable, "Service unavailable", response.CodeUnavailable)
		return
	}
	defer resp.Body.Close()

	for key, values := range resp.Header {
		if !shouldCopyHeader(key) {
			continue
		}
		for _, value := range values {
			w.Header().Add(key, value)
		}
	}

	w.WriteHeader(resp.StatusCode)

	if _, err := io.Copy(w, resp.Body); err != nil {
		logger.ErrorContext(r.Context(), "Failed to copy response body", "error", err)
	}
}

func shouldCopyHeader(key string) bool {
	switch strings.ToLower(key) {
	case "host", "connection", "upgrade", "proxy-connection", "proxy-authenticate",
		"proxy-authorization", "te", "trailers", "transfer-encoding", "content-length",
		"x-request-id", "access-control-allow-origin", "access-control-allow-credentials":
		return false
	}
	return true
}
