package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/replygrid/replygrid/internal/domain"
	"github.com/replygrid/replygrid/internal/domain/knowledge"
	"github.com/replygrid/replygrid/internal/domain/tenant"
	"github.com/replygrid/replygrid/internal/port/database"
)

// productCategory is the knowledge category catalog syncs write into.
const productCategory = "products"

// Knowledge turns Shopify catalog webhooks into chatbot Q/A entries.
type Knowledge struct {
	log   *slog.Logger
	store database.Store
}

// NewKnowledge creates the catalog sync service.
func NewKnowledge(log *slog.Logger, store database.Store) *Knowledge {
	return &Knowledge{log: log, store: store}
}

// shopifyProduct is the subset of the product webhook payload we keep.
type shopifyProduct struct {
	ID       int64  `json:"id"`
	Title    string `json:"title"`
	BodyHTML string `json:"body_html"`
	Status   string `json:"status"`
	Variants []struct {
		Title string `json:"title"`
		Price string `json:"price"`
	} `json:"variants"`
}

// SyncProduct upserts one product into the chatbot's knowledge base. An
// archived or draft product deactivates its entry instead of deleting it.
func (s *Knowledge) SyncProduct(ctx context.Context, tenantID tenant.ID, chatbotID int64, body []byte) (*knowledge.Entry, error) {
	var p shopifyProduct
	if err := json.Unmarshal(body, &p); err != nil {
		return nil, fmt.Errorf("%w: product payload: %v", domain.ErrValidation, err)
	}
	if p.Title == "" {
		return nil, fmt.Errorf("%w: product payload missing title", domain.ErrValidation)
	}

	e := &knowledge.Entry{
		TenantID:  tenantID,
		ChatbotID: chatbotID,
		Category:  productCategory,
		Question:  p.Title,
		Answer:    productAnswer(p),
		IsActive:  strings.EqualFold(p.Status, "active") || p.Status == "",
	}
	if err := s.store.UpsertKnowledgeEntry(ctx, e); err != nil {
		return nil, err
	}

	s.log.Info("catalog entry synced",
		"tenant_id", tenantID, "chatbot_id", chatbotID,
		"product_id", p.ID, "active", e.IsActive)
	return e, nil
}

var htmlTagRe = regexp.MustCompile(`<[^>]*>`)

// productAnswer renders the agent-readable product summary.
func productAnswer(p shopifyProduct) string {
	var b strings.Builder
	if desc := strings.TrimSpace(htmlTagRe.ReplaceAllString(p.BodyHTML, " ")); desc != "" {
		b.WriteString(strings.Join(strings.Fields(desc), " "))
	}
	for _, v := range p.Variants {
		if v.Price == "" {
			continue
		}
		if b.Len() > 0 {
			b.WriteString(" ")
		}
		if v.Title != "" && !strings.EqualFold(v.Title, "Default Title") {
			fmt.Fprintf(&b, "%s: %s.", v.Title, v.Price)
		} else {
			fmt.Fprintf(&b, "Price: %s.", v.Price)
		}
	}
	return b.String()
}
