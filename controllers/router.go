package controllers

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"booth-pos/middlewares"
	"booth-pos/utils"
)

// NewRouter wires every route onto a fresh gin engine.
func NewRouter(orders *OrderController, auth *AuthController, authn *middlewares.Authenticator, log logrus.FieldLogger) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), middlewares.RequestID(), middlewares.AccessLog(log), middlewares.PrometheusMiddleware())

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	r.GET("/health", orders.Health)

	api := r.Group("/api/v1")
	{
		api.POST("/orders", orders.CreateOrder)
		api.GET("/orders/:id", orders.GetOrder)
		api.GET("/queue", orders.GetQueue)
		api.GET("/menu", orders.GetMenu)
		api.POST("/auth/login", auth.Login)
	}

	staff := api.Group("/staff", middlewares.RequireRole(authn, utils.RoleStaff))
	{
		staff.GET("/orders/pending", orders.GetPending)
		staff.GET("/orders/completed", orders.GetCompleted)
		staff.PUT("/orders/:id/verify", orders.VerifyPayment)
		staff.PUT("/orders/:id/ready", orders.MarkReady)
		staff.PUT("/orders/:id/complete", orders.CompleteOrder)
		staff.DELETE("/orders/:id", orders.CancelOrder)
	}

	admin := api.Group("/admin", middlewares.RequireRole(authn, utils.RoleAdmin))
	{
		admin.GET("/orders", orders.ListAll)
		admin.GET("/stats", orders.Stats)
	}
	return r
}
