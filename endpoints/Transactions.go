package endpoints

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"git.sr.ht/~kabue/hotspot-api/kernel"
	"git.sr.ht/~kabue/hotspot-api/models"
)

type TransactionsModel struct {
	Phone  string `form:"phone"`
	Status string `form:"status"`
	Limit  int    `form:"limit"`
}

// Transactions handles GET /transactions, an operations view over the local
// push-payment log. The access ledger stays authoritative for grants; this
// only answers "what did we submit and how did it end".
func Transactions(c *gin.Context) {
	art := c.MustGet("art").(*kernel.AppRuntime)
	ctx, span := art.Diagnostic.Tracer.Start(c.Request.Context(), "transactions.handler")
	defer span.End()

	var q TransactionsModel
	if err := c.ShouldBindQuery(&q); err != nil {
		kernel.SpanGinErrf(span, c, http.StatusBadRequest, "bad request: %v", err)
		return
	}

	limit := q.Limit
	if limit <= 0 {
		limit = 50
	}
	if limit > 500 {
		limit = 500
	}

	db := art.DatabaseClient.WithContext(ctx).Model(&models.Transaction{})
	if q.Phone != "" {
		db = db.Where("phone = ?", q.Phone)
	}
	if q.Status != "" {
		db = db.Where("status = ?", q.Status)
	}

	var txs []models.Transaction
	if err := db.Order("created_at DESC").Limit(limit).Find(&txs).Error; err != nil {
		kernel.SpanGinErrf(span, c, http.StatusInternalServerError, "failed to query transactions: %v", err)
		return
	}

	c.JSON(http.StatusOK, txs)
}
