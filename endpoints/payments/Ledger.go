package payments

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/gin-gonic/gin"
	"go.nhat.io/otelsql/attribute"

	"git.sr.ht/~kabue/hotspot-api/kernel"
	"git.sr.ht/~kabue/hotspot-api/models"
)

// timestamp layout the Apps Script sheet stores and returns
const ledgerTimeLayout = "2006-01-02 15:04:05"

type ledgerCheckResponse struct {
	Access  bool   `json:"access"`
	Expires string `json:"expires"`
}

// hasValidAccess asks the ledger whether phone currently holds a grant.
// An expired-but-present record counts as no access; the row itself stays,
// cleanup is the ledger's concern. Which of several historical grants is
// "most recent" is also the ledger's call, the response is taken as-is.
func hasValidAccess(art *kernel.AppRuntime, ctx context.Context, phone string) (bool, time.Time, error) {
	_, span := art.Diagnostic.Tracer.Start(ctx, "ledger.check")
	defer span.End()

	checkUrl := fmt.Sprintf("%s?action=check&phone=%s", art.LedgerUrl, url.QueryEscape(phone))
	r, err := http.NewRequestWithContext(ctx, http.MethodGet, checkUrl, nil)
	if err != nil {
		return false, time.Time{}, kernel.SpanErrf(span, "could not create request: %v", err)
	}

	rsp, err := art.GatewayClient.Do(r)
	if err != nil {
		return false, time.Time{}, kernel.SpanErrf(span, "could not execute request: %v", err)
	}
	defer rsp.Body.Close()

	if rsp.StatusCode != http.StatusOK {
		return false, time.Time{}, kernel.SpanHttpErrf(span, rsp, "ledger returned a non-OK status code: %d", rsp.StatusCode)
	}

	body, err := io.ReadAll(rsp.Body)
	if err != nil {
		return false, time.Time{}, kernel.SpanErrf(span, "could not read response body: %v", err)
	}

	var res ledgerCheckResponse
	if err = json.Unmarshal(body, &res); err != nil {
		return false, time.Time{}, kernel.SpanErrf(span, "could not unmarshal response body: %v", err)
	}

	span.SetAttributes(attribute.KeyValue("ledger.response", string(body)))

	if !res.Access || res.Expires == "" {
		return false, time.Time{}, nil
	}

	expires, err := time.ParseInLocation(ledgerTimeLayout, res.Expires, time.Local)
	if err != nil {
		return false, time.Time{}, kernel.SpanErrf(span, "could not parse ledger expiry %q: %v", res.Expires, err)
	}

	return time.Now().Before(expires), expires, nil
}

// recordGrant appends {phone, amount, now + tier duration} to the ledger and
// returns the expiry it wrote. Never called before the gateway confirms the
// payment; the callback handler owns that ordering.
func recordGrant(art *kernel.AppRuntime, ctx context.Context, phone string, amount int, now time.Time) (time.Time, error) {
	ctx, span := art.Diagnostic.Tracer.Start(ctx, "ledger.save")
	defer span.End()

	duration, ok := models.TierDuration(amount)
	if !ok {
		return time.Time{}, kernel.SpanErrf(span, "no tier configured for amount %d", amount)
	}
	expires := now.Add(duration)

	j, err := json.Marshal(&gin.H{
		"action":     "save",
		"phone":      phone,
		"amount":     amount,
		"expires_at": expires.Format(ledgerTimeLayout),
		"timestamp":  now.Format(ledgerTimeLayout),
	})
	if err != nil {
		return time.Time{}, kernel.SpanErrf(span, "could not marshal payload: %v", err)
	}

	r, err := http.NewRequestWithContext(ctx, http.MethodPost, art.LedgerUrl, bytes.NewBuffer(j))
	if err != nil {
		return time.Time{}, kernel.SpanErrf(span, "could not create request: %v", err)
	}
	r.Header.Add("Content-Type", "application/json")

	rsp, err := art.GatewayClient.Do(r)
	if err != nil {
		return time.Time{}, kernel.SpanErrf(span, "ledger write failed: %v", err)
	}
	defer rsp.Body.Close()

	if rsp.StatusCode < 200 || rsp.StatusCode > 299 {
		return time.Time{}, kernel.SpanHttpErrf(span, rsp, "ledger write failed: non-2xx status code %d", rsp.StatusCode)
	}

	span.SetAttributes(attribute.KeyValue("ledger.expires_at", expires.Format(ledgerTimeLayout)))

	if art.Diagnostic.GrantCounter != nil {
		art.Diagnostic.GrantCounter.Add(ctx, 1)
	}

	return expires, nil
}
