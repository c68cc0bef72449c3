package storefront

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/yashrajoria/storefront-core/authgate"
	"github.com/yashrajoria/storefront-core/checkout"
	apperrors "github.com/yashrajoria/storefront-core/common/errors"
	"github.com/yashrajoria/storefront-core/common/logger"
	"github.com/yashrajoria/storefront-core/models"
)

// Handler exposes the storefront core over JSON for a rendering front end.
type Handler struct {
	sf *Storefront
}

func NewHandler(sf *Storefront) *Handler {
	return &Handler{sf: sf}
}

// RegisterRoutes mounts the cart endpoints publicly and the checkout endpoints behind the
// identity gate.
func RegisterRoutes(r *gin.Engine, sf *Storefront) {
	h := NewHandler(sf)
	r.GET("/health", h.Health)

	public := r.Group("/bff")
	{
		public.GET("/cart", h.Cart)
		public.POST("/cart/items", h.MutateCart)
		public.GET("/payment-methods", h.PaymentMethods)
		public.POST("/auth/logout", h.Logout)
	}

	protected := r.Group("/bff")
	protected.Use(authgate.RequireIdentity(sf.Gate(), sf.cfg.LoginPath))
	{
		protected.GET("/checkout", h.CheckoutView)
		protected.POST("/checkout", h.Submit)
		protected.POST("/checkout/retry", h.Retry)
		protected.POST("/checkout/resume", h.Resume)
		protected.POST("/checkout/reset", h.Reset)
	}
}

func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

type cartResponse struct {
	Cart         models.CartSnapshot `json:"cart"`
	Stale        bool                `json:"stale"`
	StaleWarning bool                `json:"stale_warning,omitempty"`
}

// Cart serves the last known snapshot; ?refresh=1 fetches first.
func (h *Handler) Cart(c *gin.Context) {
	if c.Query("refresh") == "1" {
		// Read refresh errors are already logged; the stale flag tells the client.
		_ = h.sf.Cart().Refresh(c.Request.Context())
	}
	st := h.sf.Cart().State()
	c.JSON(http.StatusOK, cartResponse{Cart: st.Snapshot, Stale: st.Stale})
}

type mutateRequest struct {
	Ops []models.LineOp `json:"ops" binding:"required,min=1"`
}

func (h *Handler) MutateCart(c *gin.Context) {
	var req mutateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, apperrors.Validation("invalid cart update", map[string]string{"ops": "required"}))
		return
	}

	res, err := h.sf.Cart().Mutate(c.Request.Context(), req.Ops...)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, cartResponse{Cart: res.Snapshot, Stale: h.sf.Cart().State().Stale, StaleWarning: res.StaleWarning})
}

type methodResponse struct {
	ID              string `json:"id"`
	Kind            string `json:"kind"`
	RequiresGateway bool   `json:"requires_gateway"`
}

// PaymentMethods resolves ?ids=bacs,stripe into the kinds this storefront can take.
func (h *Handler) PaymentMethods(c *gin.Context) {
	out := []methodResponse{}
	for _, m := range h.sf.ResolveMethods(strings.Split(c.Query("ids"), ",")) {
		out = append(out, methodResponse{ID: m.ID, Kind: m.Kind.String(), RequiresGateway: m.RequiresGateway()})
	}
	c.JSON(http.StatusOK, gin.H{"methods": out})
}

func (h *Handler) Logout(c *gin.Context) {
	if err := h.sf.Logout(c.Request.Context()); err != nil {
		writeError(c, err)
		return
	}
	logger.Info(c, "Storefront session cleared")
	c.Status(http.StatusNoContent)
}

type viewResponse struct {
	State               checkout.State `json:"state"`
	Processing          bool           `json:"processing"`
	RequestID           string         `json:"request_id"`
	Order               *models.Order  `json:"order,omitempty"`
	PaymentReference    string         `json:"payment_reference,omitempty"`
	RedirectURL         string         `json:"redirect_url,omitempty"`
	ErrorKind           apperrors.Kind `json:"error_kind,omitempty"`
	Message             string         `json:"message,omitempty"`
	CanRetry            bool           `json:"can_retry"`
	CanRetryPayment     bool           `json:"can_retry_payment"`
	CanReset            bool           `json:"can_reset"`
	NeedsReconciliation bool           `json:"needs_reconciliation"`
}

func toViewResponse(v checkout.View) viewResponse {
	return viewResponse{
		State:               v.State,
		Processing:          v.Processing,
		RequestID:           v.RequestID,
		Order:               v.Order,
		PaymentReference:    v.PaymentReference,
		RedirectURL:         v.RedirectURL,
		ErrorKind:           v.ErrorKind,
		Message:             v.Message,
		CanRetry:            v.CanRetry,
		CanRetryPayment:     v.CanRetryPayment,
		CanReset:            v.CanReset,
		NeedsReconciliation: v.NeedsReconciliation,
	}
}

func (h *Handler) CheckoutView(c *gin.Context) {
	o, err := h.sf.Checkout()
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, toViewResponse(o.View()))
}

func (h *Handler) Submit(c *gin.Context) {
	var draft models.CheckoutDraft
	if err := c.ShouldBindJSON(&draft); err != nil {
		writeError(c, apperrors.Validation("invalid checkout form", nil))
		return
	}
	o, err := h.sf.OpenCheckout()
	if err != nil {
		writeError(c, err)
		return
	}
	view, err := o.Submit(c.Request.Context(), draft)
	respondView(c, view, err)
}

func (h *Handler) Retry(c *gin.Context) {
	o, err := h.sf.Checkout()
	if err != nil {
		writeError(c, err)
		return
	}
	view, err := o.Retry(c.Request.Context())
	respondView(c, view, err)
}

func (h *Handler) Resume(c *gin.Context) {
	o, err := h.sf.Checkout()
	if err != nil {
		writeError(c, err)
		return
	}
	view, err := o.ResumeAfterRedirect(c.Request.Context())
	respondView(c, view, err)
}

// Reset discards a failed attempt and starts a new one with a fresh request id. After a
// completed order it opens the next checkout.
func (h *Handler) Reset(c *gin.Context) {
	o, err := h.sf.Checkout()
	if err != nil {
		writeError(c, err)
		return
	}
	if o.View().State == checkout.StateCompleted {
		next, err := h.sf.NewCheckout()
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, toViewResponse(next.View()))
		return
	}
	if err := o.Reset(); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, toViewResponse(o.View()))
}

// respondView reports checkout failures inside the view; only guard errors change the status.
func respondView(c *gin.Context, view checkout.View, err error) {
	switch {
	case errors.Is(err, apperrors.ErrBusy),
		errors.Is(err, apperrors.ErrInvalidTransition),
		errors.Is(err, apperrors.ErrNotRetryable):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error(), "checkout": toViewResponse(view)})
	case apperrors.Is(err, apperrors.KindValidation):
		writeError(c, err)
	default:
		c.JSON(http.StatusOK, toViewResponse(view))
	}
}

func writeError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, ErrNotInitialized):
		status = http.StatusServiceUnavailable
	case errors.Is(err, apperrors.ErrBusy), errors.Is(err, apperrors.ErrInvalidTransition), errors.Is(err, apperrors.ErrNotRetryable):
		status = http.StatusConflict
	default:
		switch apperrors.KindOf(err) {
		case apperrors.KindValidation:
			status = http.StatusUnprocessableEntity
		case apperrors.KindRemoteBusiness:
			status = http.StatusConflict
		case apperrors.KindGateway:
			status = http.StatusPaymentRequired
		case apperrors.KindNetwork, apperrors.KindPartialFailure:
			status = http.StatusBadGateway
		case apperrors.KindAuthExpired:
			status = http.StatusUnauthorized
		}
	}

	switch {
	case status >= http.StatusInternalServerError:
		logger.Error(c, "Request failed", err, zap.Int("status", status))
	case status == http.StatusUnprocessableEntity:
		logger.Debug(c, "Request rejected", zap.Int("status", status), zap.Error(err))
	default:
		logger.Warn(c, "Request refused", zap.Int("status", status), zap.Error(err))
	}

	body := gin.H{"kind": apperrors.KindOf(err), "error": apperrors.UserMessage(err)}
	var appErr *apperrors.Error
	if errors.As(err, &appErr) && len(appErr.Fields) > 0 {
		body["fields"] = appErr.Fields
	}
	c.JSON(status, body)
}
