package payments

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"git.sr.ht/~kabue/hotspot-api/kernel"
)

// Access handles GET /access/:phone, the validity probe the captive portal
// polls before letting a client through.
func Access(c *gin.Context) {
	art := c.MustGet("art").(*kernel.AppRuntime)
	ctx, span := art.Diagnostic.Tracer.Start(c.Request.Context(), "access.handler")
	defer span.End()

	phone := c.Param("phone")
	if !phonePattern.MatchString(phone) {
		kernel.SpanGinErrf(span, c, http.StatusBadRequest, "Invalid phone")
		return
	}

	valid, expires, err := hasValidAccess(art, ctx, phone)
	if err != nil {
		kernel.SpanGinErrf(span, c, http.StatusInternalServerError, "failed to check access ledger: %v", err)
		return
	}

	rsp := gin.H{
		"phone":  phone,
		"access": valid,
	}
	if !expires.IsZero() {
		rsp["expires"] = expires.Format(ledgerTimeLayout)
	}
	c.JSON(http.StatusOK, &rsp)
}
