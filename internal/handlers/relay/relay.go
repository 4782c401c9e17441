package relay

import (
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"

	apierr "keyrelay-go/internal/errors"
	"keyrelay-go/internal/logging"
	"keyrelay-go/internal/pool"
	"keyrelay-go/internal/session"
	"keyrelay-go/internal/token"
	"keyrelay-go/internal/upstream"
)

const maxRequestBodyBytes = 8 << 20

// Handler wires the session guard, the credential pool and the upstream
// client into the relay endpoint.
type Handler struct {
	guard        *session.Guard
	pool         *pool.Pool
	upstream     *upstream.Client
	defaultModel string
}

func New(guard *session.Guard, p *pool.Pool, up *upstream.Client, defaultModel string) *Handler {
	return &Handler{guard: guard, pool: p, upstream: up, defaultModel: defaultModel}
}

// Relay authorizes the caller, leases an upstream credential keyed on the
// caller's token identity and proxies the payload. Credential faults reported
// by the upstream feed back into the pool's quarantine before the error is
// returned to the caller.
func (h *Handler) Relay(c *gin.Context) {
	plaintext := bearerToken(c)
	fp := token.Fingerprint{IP: c.ClientIP(), UserAgent: c.Request.UserAgent()}

	decision, err := h.guard.Authorize(c.Request.Context(), plaintext, fp)
	if err != nil {
		logging.WithReq(c, log.Fields{"error": err.Error()}).Error("authorization check failed")
		writeAPIError(c, apierr.New(http.StatusInternalServerError, "server_error", "server_error", "Authorization check failed"))
		return
	}

	switch decision.Outcome {
	case session.OutcomeAllowed:
		c.Set("token_id", decision.Record.ID)
	case session.OutcomeInvalidToken:
		writeAPIError(c, apierr.InvalidToken())
		return
	case session.OutcomeExpired:
		writeAPIError(c, apierr.TokenExpired())
		return
	case session.OutcomeDeviceConflict:
		writeAPIError(c, apierr.DeviceConflict())
		return
	}

	payload, err := io.ReadAll(io.LimitReader(c.Request.Body, maxRequestBodyBytes))
	if err != nil {
		writeAPIError(c, apierr.New(http.StatusBadRequest, "invalid_request_error", "invalid_request_error", "Failed to read request body"))
		return
	}

	// 以令牌身份为租约键：同一令牌的连续请求命中亲和，拿回同一把钥匙
	cred, ok := h.pool.Acquire(decision.Record.ID)
	if !ok {
		writeAPIError(c, apierr.ServiceBusy())
		return
	}

	stream := gjson.GetBytes(payload, "stream").Bool()
	resp, err := h.upstream.Forward(c.Request.Context(), payload, cred.Value, stream)
	if err != nil {
		// Network-level failure: the credential may be fine, but we cannot tell
		// it apart from a dead key, so leave it in place and report upstream
		// unavailability.
		writeAPIError(c, apierr.New(http.StatusBadGateway, "bad_gateway", "server_error", "Upstream request failed"))
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		kind, body := upstream.Classify(resp)
		if kind == upstream.FaultCredential {
			h.pool.ReleaseOnError(cred.Value)
		}
		logging.WithReq(c, log.Fields{
			"upstream_status": resp.StatusCode,
			"kind":            logging.ErrorKind(resp.StatusCode, false),
			"fault":           kind.String(),
		}).Warn("upstream error")
		writeAPIError(c, apierr.MapUpstreamError(resp.StatusCode, body))
		return
	}

	if stream {
		h.pipeSSE(c, resp)
		return
	}

	c.Status(resp.StatusCode)
	c.Header("Content-Type", firstNonEmptyHeader(resp.Header.Get("Content-Type"), "application/json"))
	if _, err := io.Copy(c.Writer, resp.Body); err != nil {
		logging.WithReq(c, log.Fields{"error": err.Error()}).Warn("response copy interrupted")
	}
}

// pipeSSE streams the upstream body through unmodified, flushing per write so
// events reach the caller as they arrive.
func (h *Handler) pipeSSE(c *gin.Context, resp *http.Response) {
	c.Status(resp.StatusCode)
	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")

	flusher, _ := c.Writer.(http.Flusher)
	buf := make([]byte, 32*1024)
	for {
		n, err := resp.Body.Read(buf)
		if n > 0 {
			if _, werr := c.Writer.Write(buf[:n]); werr != nil {
				return
			}
			if flusher != nil {
				flusher.Flush()
			}
		}
		if err != nil {
			if err != io.EOF {
				logging.WithReq(c, log.Fields{"error": err.Error()}).Warn("stream interrupted")
			}
			return
		}
	}
}

// Models reports the models the relay will accept. Authorized like Relay but
// consumes no pool credential: listing is free.
func (h *Handler) Models(c *gin.Context) {
	plaintext := bearerToken(c)
	fp := token.Fingerprint{IP: c.ClientIP(), UserAgent: c.Request.UserAgent()}

	decision, err := h.guard.Authorize(c.Request.Context(), plaintext, fp)
	if err != nil {
		writeAPIError(c, apierr.New(http.StatusInternalServerError, "server_error", "server_error", "Authorization check failed"))
		return
	}
	switch decision.Outcome {
	case session.OutcomeInvalidToken:
		writeAPIError(c, apierr.InvalidToken())
		return
	case session.OutcomeExpired:
		writeAPIError(c, apierr.TokenExpired())
		return
	case session.OutcomeDeviceConflict:
		writeAPIError(c, apierr.DeviceConflict())
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"object": "list",
		"data": []gin.H{
			{"id": h.defaultModel, "object": "model", "owned_by": "keyrelay"},
		},
	})
}

func bearerToken(c *gin.Context) string {
	auth := strings.TrimSpace(c.GetHeader("Authorization"))
	if strings.HasPrefix(strings.ToLower(auth), "bearer ") {
		return strings.TrimSpace(auth[7:])
	}
	return strings.TrimSpace(c.GetHeader("x-api-key"))
}

func writeAPIError(c *gin.Context, e *apierr.APIError) {
	body, err := e.ToJSON()
	if err != nil {
		c.AbortWithStatus(http.StatusInternalServerError)
		return
	}
	c.Data(e.HTTPStatus, "application/json", body)
	c.Abort()
}

func firstNonEmptyHeader(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
