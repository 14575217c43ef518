package payments

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
	"go.nhat.io/otelsql/attribute"
	"gorm.io/gorm"

	"git.sr.ht/~kabue/hotspot-api/kernel"
	"git.sr.ht/~kabue/hotspot-api/models"
)

type StkCallback struct {
	MerchantRequestID string `json:"MerchantRequestID"`
	CheckoutRequestID string `json:"CheckoutRequestID"`
	ResultCode        int    `json:"ResultCode"`
	ResultDesc        string `json:"ResultDesc"`
	CallbackMetadata  struct {
		Item []struct {
			Name  string      `json:"Name"`
			Value interface{} `json:"Value"`
		} `json:"Item"`
	} `json:"CallbackMetadata"`
}

type CallbackEnvelope struct {
	Body struct {
		StkCallback StkCallback `json:"stkCallback"`
	} `json:"Body"`
}

func callbackAck(c *gin.Context) {
	c.JSON(http.StatusOK, &gin.H{"ResultCode": 0, "ResultDesc": "Accepted"})
}

// claimPending flips the row out of TX_PENDING in a single conditional
// update. The gateway redelivers callbacks, and two deliveries may race;
// whichever update matches zero rows lost the claim and must not touch the
// ledger.
func claimPending(art *kernel.AppRuntime, ctx context.Context, checkoutRequestID, status string, cb *StkCallback) (bool, error) {
	res := art.DatabaseClient.WithContext(ctx).
		Model(&models.Transaction{}).
		Where("checkout_request_id = ? AND status = ?", checkoutRequestID, models.TX_PENDING).
		Updates(map[string]interface{}{
			"status":      status,
			"result_code": cb.ResultCode,
			"result_desc": cb.ResultDesc,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// Callback handles POST /mpesa/callback, the asynchronous half of the push
// flow. The pending row is resolved by CheckoutRequestID and claimed
// atomically before any ledger write, so only one delivery of a confirmed
// payment records the grant no matter how often the gateway retries.
func Callback(c *gin.Context) {
	art := c.MustGet("art").(*kernel.AppRuntime)
	ctx, span := art.Diagnostic.Tracer.Start(c.Request.Context(), "callback.handler")
	defer span.End()

	var env CallbackEnvelope
	if err := c.ShouldBindJSON(&env); err != nil {
		kernel.SpanGinErrf(span, c, http.StatusBadRequest, "invalid callback body: %v", err)
		return
	}

	cb := env.Body.StkCallback
	if cb.CheckoutRequestID == "" {
		kernel.SpanGinErrf(span, c, http.StatusBadRequest, "callback is missing CheckoutRequestID")
		return
	}

	span.SetAttributes(
		attribute.KeyValue("callback.checkout_request_id", cb.CheckoutRequestID),
		attribute.KeyValue("callback.result_code", cb.ResultCode),
	)

	var tx models.Transaction
	err := art.DatabaseClient.WithContext(ctx).First(&tx, "checkout_request_id = ?", cb.CheckoutRequestID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			log.Warn().
				Str("checkout_request_id", cb.CheckoutRequestID).
				Msg("callback for unknown checkout request")
			callbackAck(c)
			return
		}
		kernel.SpanGinErrf(span, c, http.StatusInternalServerError, "failed to query transaction: %v", err)
		return
	}

	if tx.Status != models.TX_PENDING {
		logLateSuccess(&tx, cb.ResultCode)
		callbackAck(c)
		return
	}

	if cb.ResultCode != 0 {
		if _, err := claimPending(art, ctx, cb.CheckoutRequestID, models.TX_DECLINED, &cb); err != nil {
			kernel.SpanGinErrf(span, c, http.StatusInternalServerError, "failed to save transaction: %v", err)
			return
		}
		callbackAck(c)
		return
	}

	claimed, err := claimPending(art, ctx, cb.CheckoutRequestID, models.TX_GRANTED, &cb)
	if err != nil {
		kernel.SpanGinErrf(span, c, http.StatusInternalServerError, "failed to save transaction: %v", err)
		return
	}
	if !claimed {
		// a concurrent delivery got here first
		callbackAck(c)
		return
	}

	expires, err := recordGrant(art, ctx, tx.Phone, tx.Amount, time.Now())
	if err != nil {
		// money has moved but the grant did not land; everything needed
		// to replay the write by hand goes into this log line
		log.Error().Err(err).
			Str("phone", tx.Phone).
			Int("amount", tx.Amount).
			Str("checkout_request_id", tx.CheckoutRequestID).
			Str("request_id", tx.RequestID).
			Msg("ledger write failed after confirmed payment")
		err = art.DatabaseClient.WithContext(ctx).
			Model(&models.Transaction{}).
			Where("checkout_request_id = ?", cb.CheckoutRequestID).
			Update("status", models.TX_GRANT_FAILED).Error
	} else {
		err = art.DatabaseClient.WithContext(ctx).
			Model(&models.Transaction{}).
			Where("checkout_request_id = ?", cb.CheckoutRequestID).
			Update("expires_at", expires).Error
	}
	if err != nil {
		kernel.SpanGinErrf(span, c, http.StatusInternalServerError, "failed to save transaction: %v", err)
		return
	}

	callbackAck(c)
}

// logLateSuccess flags a confirmed payment whose row was already finalized,
// typically swept to timeout before the callback arrived. The subscriber
// paid and got nothing, so the line carries what manual reconciliation needs.
func logLateSuccess(tx *models.Transaction, resultCode int) {
	if resultCode != 0 {
		return
	}
	if tx.Status != models.TX_TIMEOUT && tx.Status != models.TX_DECLINED {
		return
	}
	log.Error().
		Str("phone", tx.Phone).
		Int("amount", tx.Amount).
		Str("checkout_request_id", tx.CheckoutRequestID).
		Str("request_id", tx.RequestID).
		Str("status", tx.Status).
		Msg("success callback for an already-finalized transaction; no grant was recorded")
}
