package upstream

import (
	"io"
	"net/http"

	"github.com/tidwall/gjson"

	mon "keyrelay-go/internal/monitoring"
)

// FaultKind classifies an upstream failure for the relay handler: only
// credential faults feed back into the pool's quarantine.
type FaultKind int

const (
	FaultNone       FaultKind = iota
	FaultCredential           // credential rejected or out of quota upstream
	FaultTransient            // upstream hiccup, credential presumed healthy
	FaultClient               // caller's payload was bad, nothing to quarantine
)

func (k FaultKind) String() string {
	switch k {
	case FaultNone:
		return "none"
	case FaultCredential:
		return "credential"
	case FaultTransient:
		return "transient"
	case FaultClient:
		return "client"
	default:
		return "unknown"
	}
}

const maxErrorBodyBytes = 64 << 10

// Classify reads an error response body and decides whose fault it is. The
// body is consumed; callers keep the returned bytes for error mapping.
func Classify(resp *http.Response) (FaultKind, []byte) {
	if resp.StatusCode < 400 {
		return FaultNone, nil
	}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))

	kind := classifyStatus(resp.StatusCode, body)
	mon.UpstreamErrors.WithLabelValues(kind.String()).Inc()
	return kind, body
}

func classifyStatus(status int, body []byte) FaultKind {
	switch status {
	case http.StatusUnauthorized, http.StatusForbidden:
		return FaultCredential
	case http.StatusTooManyRequests:
		// 配额耗尽按凭证故障处理，换一把钥匙接着用；普通限速只算抖动
		if reason := gjson.GetBytes(body, "error.status").String(); reason != "" && reason != "RESOURCE_EXHAUSTED" {
			return FaultTransient
		}
		return FaultCredential
	case http.StatusBadRequest, http.StatusNotFound, http.StatusRequestEntityTooLarge,
		http.StatusUnprocessableEntity:
		return FaultClient
	}
	if status >= 500 {
		return FaultTransient
	}
	return FaultClient
}
