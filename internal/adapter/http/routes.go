package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/replygrid/replygrid/internal/middleware"
)

// MountRoutes registers the broker's endpoints on the given chi router.
// idem guards the operator endpoints against redelivered requests; pass
// nil when no idempotency store is configured.
func MountRoutes(r chi.Router, h *Handlers, idem func(http.Handler) http.Handler, shopifySecret string) {
	if idem == nil {
		idem = passthrough
	}

	// BSP webhook: always 2xx for decodable bodies so the BSP stops retrying.
	r.Post("/webhook", h.HandleWebhook)

	// Shopify catalog webhook, HMAC-verified against the raw body.
	r.With(middleware.ShopifyHMAC(shopifySecret)).
		Post("/webhook/shopify", h.HandleShopifyWebhook)

	// Operator endpoints.
	r.With(idem).Post("/manual-message", h.HandleManualMessage)
	r.With(idem).Post("/action-feedback", h.HandleActionFeedback)

	// Live event feeds.
	r.Get("/stream", h.HandleStream)
	r.Get("/stream/{topic}", h.HandleStream)
	r.Get("/ws", h.HandleWS)

	// Probes.
	r.Get("/health", h.HandleHealth)
	r.Get("/metrics", h.HandleMetrics)
}

func passthrough(next http.Handler) http.Handler { return next }
