// Package echo mounts the demo control surface on an Echo router, with
// the same routes and response shapes as the gin adapter.
package echo

import (
	"net/http"

	"github.com/labstack/echo/v4"

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
func Attach(router *echo.Echo, manager *agentpay.Manager, opts ...Option) {
	options := &Options{
		DefaultQuantity: 5,
	}
	for _, opt := range opts {
		opt(options)
	}

	group := router.Group(options.BasePath)

	group.POST("/initialize", func(c echo.Context) error {
		if err := manager.InitializeAgents(c.Request().Context()); err != nil {
			return renderError(c, err)
		}
		return c.JSON(http.StatusOK, map[string]interface{}{"success": true})
	})

	group.POST("/purchase", func(c echo.Context) error {
		req := purchaseRequest{Quantity: options.DefaultQuantity}
		if c.Request().ContentLength > 0 {
			if err := c.Bind(&req); err != nil {
				return renderError(c, agentpay.NewValidationError("invalid request body", map[string]interface{}{
					"error": err.Error(),
				}))
			}
		}
		if err := manager.TriggerPurchase(c.Request().Context(), req.Quantity); err != nil {
			return renderError(c, err)
		}
		return c.JSON(http.StatusAccepted, map[string]interface{}{"success": true, "quantity": req.Quantity})
	})

	group.POST("/reset", func(c echo.Context) error {
		if err := manager.Reset(c.Request().Context()); err != nil {
			return renderError(c, err)
		}
		return c.JSON(http.StatusOK, map[string]interface{}{"success": true})
	})

	group.GET("/status", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]interface{}{"initialized": manager.IsInitialized()})
	})

	group.GET("/agents", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]interface{}{"agents": manager.Store().ListAgents()})
	})

	group.GET("/payments", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]interface{}{"payments": manager.Store().ListPayments()})
	})

	group.GET("/payments/:id", func(c echo.Context) error {
		payment, err := manager.Store().GetPayment(c.Param("id"))
		if err != nil {
			return renderError(c, err)
		}
		return c.JSON(http.StatusOK, payment)
	})

	group.GET("/payments/:id/refundable", func(c echo.Context) error {
		refundable, err := manager.Store().CanRefund(c.Param("id"))
		if err != nil {
			return renderError(c, err)
		}
		return c.JSON(http.StatusOK, map[string]interface{}{"refundable": refundable})
	})

	group.GET("/logs", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]interface{}{"logs": manager.Store().Logs(c.QueryParam("agent_id"))})
	})

	group.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]interface{}{"status": "ok"})
	})
}

// renderError writes an error response with the HTTP status for its code
func renderError(c echo.Context, err error) error {
	body := map[string]interface{}{"error": err.Error()}
	if code := agentpay.ErrorCode(err); code != "" {
		body["code"] = code
	}
	return c.JSON(httpStatus(err), body)
}

func httpStatus(err error) int {
	switch agentpay.ErrorCode(err) {
	case agentpay.ErrCodeNotFound, agentpay.ErrCodeNoProvider:
		return http.StatusNotFound
	case agentpay.ErrCodeValidation:
		return http.StatusBadRequest
	case agentpay.ErrCodeNotInitialized, agentpay.ErrCodeInvalidTransition:
		return http.StatusConflict
	case agentpay.ErrCodeProviderCall:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
