package payments

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"go.nhat.io/otelsql/attribute"

	"git.sr.ht/~kabue/hotspot-api/kernel"
)

const stampLayout = "20060102150405" // YYYYMMDDHHMMSS, per Daraja

type StkPushResponse struct {
	MerchantRequestID   string `json:"MerchantRequestID"`
	CheckoutRequestID   string `json:"CheckoutRequestID"`
	ResponseCode        string `json:"ResponseCode"`
	ResponseDescription string `json:"ResponseDescription"`
	CustomerMessage     string `json:"CustomerMessage"`
}

// GatewayRejectedError is a decline the gateway itself issued, as opposed to
// a transport failure reaching it. The description is surfaced to the caller.
type GatewayRejectedError struct {
	Code        string
	Description string
}

func (e *GatewayRejectedError) Error() string {
	return fmt.Sprintf("gateway rejected push (code %s): %s", e.Code, e.Description)
}

var (
	stampMu   sync.Mutex
	lastStamp time.Time
)

// freshTimestamp formats now for the password derivation. The gateway treats
// the timestamp as a replay guard, so two initiations in the same second must
// not share one; on collision the stamp is bumped to the next second.
func freshTimestamp(now time.Time) string {
	stampMu.Lock()
	defer stampMu.Unlock()

	now = now.Truncate(time.Second)
	if !now.After(lastStamp) {
		now = lastStamp.Add(time.Second)
	}
	lastStamp = now

	return now.Format(stampLayout)
}

func darajaPassword(shortcode, passkey, timestamp string) string {
	return base64.StdEncoding.EncodeToString([]byte(shortcode + passkey + timestamp))
}

func fetchAccessToken(art *kernel.AppRuntime, ctx context.Context) (string, error) {
	_, span := art.Diagnostic.Tracer.Start(ctx, "daraja.token")
	defer span.End()

	tokenUrl := fmt.Sprintf("%s/oauth/v1/generate?grant_type=client_credentials", art.DarajaUrl)
	r, err := http.NewRequestWithContext(ctx, http.MethodGet, tokenUrl, nil)
	if err != nil {
		return "", kernel.SpanErrf(span, "could not create request: %v", err)
	}

	authHeader := base64.StdEncoding.EncodeToString([]byte(fmt.Sprintf("%s:%s", art.ConsumerKey, art.ConsumerSecret)))
	r.Header.Add("Authorization", "Basic "+authHeader)

	rsp, err := art.GatewayClient.Do(r)
	if err != nil {
		return "", kernel.SpanErrf(span, "could not execute request: %v", err)
	}
	defer rsp.Body.Close()

	if rsp.StatusCode != http.StatusOK {
		return "", kernel.SpanHttpErrf(span, rsp, "daraja returned a non-OK status code: %d", rsp.StatusCode)
	}

	body, err := io.ReadAll(rsp.Body)
	if err != nil {
		return "", kernel.SpanErrf(span, "could not read response body: %v", err)
	}

	var res struct {
		AccessToken string `json:"access_token"`
	}
	if err = json.Unmarshal(body, &res); err != nil {
		return "", kernel.SpanErrf(span, "could not unmarshal response body: %v", err)
	}
	if res.AccessToken == "" {
		return "", kernel.SpanErrf(span, "daraja returned an empty access token")
	}

	return res.AccessToken, nil
}

// stkPush submits one push-payment prompt. Not idempotent: every call rings
// the subscriber's handset, so callers short-circuit already-valid grants
// before getting here. The bearer token is re-acquired per push; its TTL is
// shorter than the gaps between requests, so caching it buys nothing.
func stkPush(art *kernel.AppRuntime, ctx context.Context, phone string, amount int) (*StkPushResponse, error) {
	ctx, span := art.Diagnostic.Tracer.Start(ctx, "daraja.stk_push")
	defer span.End()

	token, err := fetchAccessToken(art, ctx)
	if err != nil {
		return nil, fmt.Errorf("could not get access token: %w", err)
	}

	timestamp := freshTimestamp(time.Now())
	span.SetAttributes(attribute.KeyValue("daraja.timestamp", timestamp))

	j, err := json.Marshal(&gin.H{
		"BusinessShortCode": art.Shortcode,
		"Password":          darajaPassword(art.Shortcode, art.Passkey, timestamp),
		"Timestamp":         timestamp,
		"TransactionType":   "CustomerBuyGoodsOnline",
		"Amount":            amount,
		"PartyA":            phone,
		"PartyB":            art.TillNumber,
		"PhoneNumber":       phone,
		"CallBackURL":       art.CallbackUrl,
		"AccountReference":  "WiFiAccess",
		"TransactionDesc":   "WiFi Access Payment",
	})
	if err != nil {
		return nil, kernel.SpanErrf(span, "could not marshal payload: %v", err)
	}

	pushUrl := fmt.Sprintf("%s/mpesa/stkpush/v1/processrequest", art.DarajaUrl)
	r, err := http.NewRequestWithContext(ctx, http.MethodPost, pushUrl, bytes.NewBuffer(j))
	if err != nil {
		return nil, kernel.SpanErrf(span, "could not create request: %v", err)
	}
	r.Header.Add("Content-Type", "application/json")
	r.Header.Add("Authorization", "Bearer "+token)

	rsp, err := art.GatewayClient.Do(r)
	if err != nil {
		return nil, kernel.SpanErrf(span, "could not execute request: %v", err)
	}
	defer rsp.Body.Close()

	if rsp.StatusCode != http.StatusOK {
		return nil, kernel.SpanHttpErrf(span, rsp, "daraja returned a non-OK status code: %d", rsp.StatusCode)
	}

	body, err := io.ReadAll(rsp.Body)
	if err != nil {
		return nil, kernel.SpanErrf(span, "could not read response body: %v", err)
	}

	span.SetAttributes(attribute.KeyValue("daraja.response", string(body)))

	var res StkPushResponse
	if err = json.Unmarshal(body, &res); err != nil {
		return nil, kernel.SpanErrf(span, "could not unmarshal response body: %v", err)
	}

	if res.ResponseCode != "0" {
		return nil, kernel.SpanErr(span, &GatewayRejectedError{
			Code:        res.ResponseCode,
			Description: res.ResponseDescription,
		})
	}

	return &res, nil
}
