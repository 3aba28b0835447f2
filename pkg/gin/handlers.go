// Package gin mounts the demo control surface on a Gin router: lifecycle
// operations (initialize, purchase, reset) plus read endpoints for
// payments, agents, and the transaction log.
package gin

import (
	"net/http"

	"github.com/gin-gonic/gin"

	agentpay "github.com/skymint/agentpay"
)

// Options is the configuration for the control surface
type Options struct {
	BasePath        string
	DefaultQuantity int
}

// Option configures the control surface
type Option func(*Options)

// WithBasePath mounts the surface under a path prefix (e.g. "/api")
func WithBasePath(basePath string) Option {
	return func(o *Options) {
		o.BasePath = basePath
	}
}

// WithDefaultQuantity sets the purchase quantity used when the request
// body omits one
func WithDefaultQuantity(quantity int) Option {
	return func(o *Options) {
		o.DefaultQuantity = quantity
	}
}

type purchaseRequest struct {
	Quantity int `json:"quantity"`
}

// Attach registers the control surface routes on the router
func Attach(router gin.IRouter, manager *agentpay.Manager, opts ...Option) {
	options := &Options{
		DefaultQuantity: 5,
	}
	for _, opt := range opts {
		opt(options)
	}

	group := router.Group(options.BasePath)

	group.POST("/initialize", func(c *gin.Context) {
		if err := manager.InitializeAgents(c.Request.Context()); err != nil {
			abortWithError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"success": true})
	})

	group.POST("/purchase", func(c *gin.Context) {
		req := purchaseRequest{Quantity: options.DefaultQuantity}
		if c.Request.ContentLength > 0 {
			if err := c.ShouldBindJSON(&req); err != nil {
				abortWithError(c, agentpay.NewValidationError("invalid request body", map[string]interface{}{
					"error": err.Error(),
				}))
				return
			}
		}
		if err := manager.TriggerPurchase(c.Request.Context(), req.Quantity); err != nil {
			abortWithError(c, err)
			return
		}
		c.JSON(http.StatusAccepted, gin.H{"success": true, "quantity": req.Quantity})
	})

	group.POST("/reset", func(c *gin.Context) {
		if err := manager.Reset(c.Request.Context()); err != nil {
			abortWithError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"success": true})
	})

	group.GET("/status", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"initialized": manager.IsInitialized()})
	})

	group.GET("/agents", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"agents": manager.Store().ListAgents()})
	})

	group.GET("/payments", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"payments": manager.Store().ListPayments()})
	})

	group.GET("/payments/:id", func(c *gin.Context) {
		payment, err := manager.Store().GetPayment(c.Param("id"))
		if err != nil {
			abortWithError(c, err)
			return
		}
		c.JSON(http.StatusOK, payment)
	})

	group.GET("/payments/:id/refundable", func(c *gin.Context) {
		refundable, err := manager.Store().CanRefund(c.Param("id"))
		if err != nil {
			abortWithError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"refundable": refundable})
	})

	group.GET("/logs", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"logs": manager.Store().Logs(c.Query("agent_id"))})
	})

	group.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
}

// abortWithError renders an error with the HTTP status for its code
func abortWithError(c *gin.Context, err error) {
	c.AbortWithStatusJSON(httpStatus(err), errorBody(err))
}

func httpStatus(err error) int {
	switch agentpay.ErrorCode(err) {
	case agentpay.ErrCodeNotFound:
		return http.StatusNotFound
	case agentpay.ErrCodeValidation:
		return http.StatusBadRequest
	case agentpay.ErrCodeNotInitialized, agentpay.ErrCodeInvalidTransition:
		return http.StatusConflict
	case agentpay.ErrCodeNoProvider:
		return http.StatusNotFound
	case agentpay.ErrCodeProviderCall:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func errorBody(err error) gin.H {
	body := gin.H{"error": err.Error()}
	if code := agentpay.ErrorCode(err); code != "" {
		body["code"] = code
	}
	return body
}
