package payments

import (
	"github.com/gin-gonic/gin"
)

func RegisterController(rg *gin.RouterGroup) {
	rg.POST("/pay", Pay)
	rg.POST("/mpesa/callback", Callback)
	rg.GET("/access/:phone", Access)
}
