package payments

import (
	"errors"
	"net/http"
	"regexp"

	"github.com/gin-gonic/gin"
	val "github.com/go-ozzo/ozzo-validation"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"go.nhat.io/otelsql/attribute"

	"git.sr.ht/~kabue/hotspot-api/kernel"
	"git.sr.ht/~kabue/hotspot-api/models"
)

type PayDto struct {
	Phone  string `json:"phone"`
	Amount int    `json:"amount"`
}

// Safaricom subscriber number as the gateway expects it, e.g. 254712345678
var phonePattern = regexp.MustCompile(`^2547\d{8}$`)

var errInvalidAmount = errors.New("Invalid amount")

func (dto PayDto) Validate() error {
	if _, ok := models.TierDuration(dto.Amount); !ok {
		return errInvalidAmount
	}
	return val.ValidateStruct(&dto,
		val.Field(&dto.Phone, val.Required.Error("Invalid phone"), val.Match(phonePattern).Error("Invalid phone")),
	)
}

// Pay handles POST /pay: validate the tier, short-circuit a still-valid
// grant, fire the STK push and park a pending row for the callback. The
// ledger grant itself is only ever written from the callback path.
func Pay(c *gin.Context) {
	art := c.MustGet("art").(*kernel.AppRuntime)
	ctx, span := art.Diagnostic.Tracer.Start(c.Request.Context(), "pay.handler")
	defer span.End()

	var dto PayDto
	if err := c.ShouldBindJSON(&dto); err != nil {
		kernel.SpanGinErrf(span, c, http.StatusBadRequest, "bad request: %v", err)
		return
	}

	if err := dto.Validate(); err != nil {
		kernel.SpanGinErr(span, c, http.StatusBadRequest, err)
		return
	}

	requestId := uuid.NewString()
	span.SetAttributes(
		attribute.KeyValue("pay.request_id", requestId),
		attribute.KeyValue("pay.phone", dto.Phone),
		attribute.KeyValue("pay.amount", dto.Amount),
	)

	valid, expires, err := hasValidAccess(art, ctx, dto.Phone)
	if err != nil {
		kernel.SpanGinErrf(span, c, http.StatusInternalServerError, "failed to check access ledger: %v", err)
		return
	}
	if valid {
		// no second prompt while the first window is still running
		c.JSON(http.StatusOK, &gin.H{
			"success": true,
			"message": "already valid",
			"expires": expires.Format(ledgerTimeLayout),
		})
		return
	}

	rsp, err := stkPush(art, ctx, dto.Phone, dto.Amount)
	if err != nil {
		var rejected *GatewayRejectedError
		if errors.As(err, &rejected) {
			c.AbortWithStatusJSON(http.StatusInternalServerError, &gin.H{
				"success": false,
				"error":   rejected.Description,
				"traceId": span.SpanContext().TraceID().String(),
			})
			return
		}
		kernel.SpanGinErrf(span, c, http.StatusInternalServerError, "failed to reach payment gateway: %v", err)
		return
	}

	m := &models.Transaction{
		Phone:             dto.Phone,
		Amount:            dto.Amount,
		CheckoutRequestID: rsp.CheckoutRequestID,
		MerchantRequestID: rsp.MerchantRequestID,
		Status:            models.TX_PENDING,
		RequestID:         requestId,
	}
	if err := art.DatabaseClient.WithContext(ctx).Create(m).Error; err != nil {
		// the prompt is already on the handset; without the row the callback
		// cannot resolve it, so this is a hard failure worth its own log line
		log.Error().Err(err).
			Str("phone", dto.Phone).
			Int("amount", dto.Amount).
			Str("checkout_request_id", rsp.CheckoutRequestID).
			Msg("failed to save pending transaction after push submission")
		kernel.SpanGinErrf(span, c, http.StatusInternalServerError, "failed to save transaction: %v", err)
		return
	}

	c.JSON(http.StatusOK, &gin.H{
		"success":           true,
		"message":           "STK Push Sent",
		"checkoutRequestID": rsp.CheckoutRequestID,
	})
}
