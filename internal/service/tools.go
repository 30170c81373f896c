package service

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"path"
	"strings"
	"time"

	rgotel "github.com/replygrid/replygrid/internal/adapter/otel"
	"github.com/replygrid/replygrid/internal/domain"
	"github.com/replygrid/replygrid/internal/domain/action"
	"github.com/replygrid/replygrid/internal/domain/event"
	"github.com/replygrid/replygrid/internal/domain/message"
	"github.com/replygrid/replygrid/internal/pipeline"
	"github.com/replygrid/replygrid/internal/port/agent"
	"github.com/replygrid/replygrid/internal/port/broadcast"
	"github.com/replygrid/replygrid/internal/port/database"
	"github.com/replygrid/replygrid/internal/port/transport"
)

// MaxLocationLabelLen caps the name and address fields of a location send.
const MaxLocationLabelLen = 1000

// MaxImageBytes caps outbound image attachments. The boundary is inclusive:
// an image of exactly this size still sends.
const MaxImageBytes = 5 << 20

// imageExtensions are the attachment formats agents may send.
var imageExtensions = map[string]bool{
	".jpg":  true,
	".jpeg": true,
	".png":  true,
	".webp": true,
	".gif":  true,
}

// Tools executes agent tool calls. Tenancy comes exclusively from the turn
// context: arguments cannot name another tenant's contact, and every send
// goes to the turn's own counterparty.
type Tools struct {
	log        *slog.Logger
	store      database.Store
	transports pipeline.Transports
	hub        broadcast.Broadcaster
}

// NewTools creates the tool executor.
func NewTools(log *slog.Logger, store database.Store, transports pipeline.Transports, hub broadcast.Broadcaster) *Tools {
	return &Tools{log: log, store: store, transports: transports, hub: hub}
}

// Execute dispatches one tool call.
func (s *Tools) Execute(ctx context.Context, tc agent.TurnContext, name string, args json.RawMessage) (json.RawMessage, error) {
	ctx, span := rgotel.StartToolCallSpan(ctx, name)
	defer span.End()

	switch name {
	case "send_image":
		return s.sendImage(ctx, tc, args)
	case "send_location":
		return s.sendLocation(ctx, tc, args)
	case "send_template":
		return s.sendTemplate(ctx, tc, args)
	case "submit_action":
		return s.submitAction(ctx, tc, args)
	case "download_media":
		return s.downloadMedia(ctx, tc, args)
	}
	return nil, fmt.Errorf("%w: unknown tool %q", domain.ErrValidation, name)
}

func (s *Tools) transportFor(ctx context.Context, tc agent.TurnContext) (transport.MessagingTransport, error) {
	bot, err := s.store.GetChatbot(ctx, tc.TenantID, tc.ChatbotID)
	if err != nil {
		return nil, err
	}
	t, ok := s.transports.ForSender(bot.SenderMSISDN)
	if !ok {
		return nil, fmt.Errorf("no transport for sender %s", bot.SenderMSISDN)
	}
	return t, nil
}

func (s *Tools) sendImage(ctx context.Context, tc agent.TurnContext, args json.RawMessage) (json.RawMessage, error) {
	var in struct {
		ImageURL string `json:"image_url"`
		Caption  string `json:"caption"`
	}
	if err := json.Unmarshal(args, &in); err != nil {
		return nil, fmt.Errorf("%w: send_image args: %v", domain.ErrValidation, err)
	}
	u, err := url.Parse(in.ImageURL)
	if err != nil || u.Scheme != "https" || u.Host == "" {
		return nil, fmt.Errorf("%w: image_url must be an absolute https URL", domain.ErrValidation)
	}
	if ext := strings.ToLower(path.Ext(u.Path)); ext != "" && !imageExtensions[ext] {
		return nil, fmt.Errorf("%w: unsupported image format %q", domain.ErrValidation, ext)
	}

	t, err := s.transportFor(ctx, tc)
	if err != nil {
		return nil, err
	}
	size, _, err := t.ProbeMedia(ctx, in.ImageURL)
	if err != nil {
		return nil, fmt.Errorf("image size check: %w", err)
	}
	if size > MaxImageBytes {
		return nil, fmt.Errorf("%w: image is %d bytes, cap is %d", domain.ErrValidation, size, MaxImageBytes)
	}
	res, err := t.SendImage(ctx, tc.FromNumber, in.ImageURL, in.Caption)
	if err != nil {
		return nil, fmt.Errorf("send image: %w", err)
	}

	id := s.recordOutbound(ctx, tc, &message.Message{
		ProviderMessageID: res.ProviderMessageID,
		Type:              message.TypeImage,
		ContentText:       in.Caption,
		ContentURL:        in.ImageURL,
	})
	return json.Marshal(map[string]any{"message_id": id, "status": "sent"})
}

func (s *Tools) sendLocation(ctx context.Context, tc agent.TurnContext, args json.RawMessage) (json.RawMessage, error) {
	var in struct {
		Latitude  float64 `json:"latitude"`
		Longitude float64 `json:"longitude"`
		Name      string  `json:"name"`
		Address   string  `json:"address"`
	}
	if err := json.Unmarshal(args, &in); err != nil {
		return nil, fmt.Errorf("%w: send_location args: %v", domain.ErrValidation, err)
	}
	if in.Latitude < -90 || in.Latitude > 90 {
		return nil, fmt.Errorf("%w: latitude %v out of range", domain.ErrValidation, in.Latitude)
	}
	if in.Longitude < -180 || in.Longitude > 180 {
		return nil, fmt.Errorf("%w: longitude %v out of range", domain.ErrValidation, in.Longitude)
	}
	if len(in.Name) > MaxLocationLabelLen || len(in.Address) > MaxLocationLabelLen {
		return nil, fmt.Errorf("%w: location labels exceed %d chars", domain.ErrValidation, MaxLocationLabelLen)
	}

	t, err := s.transportFor(ctx, tc)
	if err != nil {
		return nil, err
	}
	res, err := t.SendLocation(ctx, tc.FromNumber, in.Latitude, in.Longitude, in.Name, in.Address)
	if err != nil {
		return nil, fmt.Errorf("send location: %w", err)
	}

	metadata, _ := json.Marshal(map[string]any{"latitude": in.Latitude, "longitude": in.Longitude})
	id := s.recordOutbound(ctx, tc, &message.Message{
		ProviderMessageID: res.ProviderMessageID,
		Type:              message.TypeLocation,
		ContentText:       in.Name,
		Metadata:          metadata,
	})
	return json.Marshal(map[string]any{"message_id": id, "status": "sent"})
}

func (s *Tools) sendTemplate(ctx context.Context, tc agent.TurnContext, args json.RawMessage) (json.RawMessage, error) {
	var in struct {
		TemplateName string   `json:"template_name"`
		Variables    []string `json:"variables"`
		Buttons      []string `json:"buttons"`
		Language     string   `json:"language"`
	}
	if err := json.Unmarshal(args, &in); err != nil {
		return nil, fmt.Errorf("%w: send_template args: %v", domain.ErrValidation, err)
	}
	if in.TemplateName == "" {
		return nil, fmt.Errorf("%w: template_name is required", domain.ErrValidation)
	}

	t, err := s.transportFor(ctx, tc)
	if err != nil {
		return nil, err
	}
	res, err := t.SendTemplate(ctx, tc.FromNumber, transport.Template{
		Name:      in.TemplateName,
		Variables: in.Variables,
		Buttons:   in.Buttons,
		Language:  in.Language,
	})
	if err != nil {
		return nil, fmt.Errorf("send template: %w", err)
	}

	id := s.recordOutbound(ctx, tc, &message.Message{
		ProviderMessageID: res.ProviderMessageID,
		Type:              message.TypeTemplate,
		ContentText:       in.TemplateName,
	})
	return json.Marshal(map[string]any{"message_id": id, "status": "sent"})
}

func (s *Tools) submitAction(ctx context.Context, tc agent.TurnContext, args json.RawMessage) (json.RawMessage, error) {
	var in struct {
		RequestType    string          `json:"request_type"`
		RequestDetails string          `json:"request_details"`
		RequestData    json.RawMessage `json:"request_data"`
		Priority       action.Priority `json:"priority"`
	}
	if err := json.Unmarshal(args, &in); err != nil {
		return nil, fmt.Errorf("%w: submit_action args: %v", domain.ErrValidation, err)
	}
	if in.Priority == "" {
		in.Priority = action.PriorityMedium
	}

	a := &action.Action{
		TenantID:       tc.TenantID,
		ChatbotID:      tc.ChatbotID,
		ContactID:      tc.ContactID,
		RequestType:    in.RequestType,
		RequestDetails: in.RequestDetails,
		RequestData:    in.RequestData,
		Priority:       in.Priority,
	}
	if _, err := s.store.CreateAction(ctx, a); err != nil {
		return nil, err
	}

	// Indicator row keeps the pending request visible on the transcript.
	metadata, _ := json.Marshal(map[string]any{"action_id": a.ID, "status": action.StatusPending})
	ind := &message.Message{
		ContactID:   tc.ContactID,
		TenantID:    tc.TenantID,
		ChatbotID:   tc.ChatbotID,
		Direction:   message.DirectionInternal,
		Type:        message.TypeActionIndicator,
		ContentText: in.RequestType,
		SentAt:      time.Now().UTC(),
		Metadata:    metadata,
	}
	if _, err := s.store.InsertMessage(ctx, ind); err != nil {
		s.log.Warn("action indicator insert failed", "action_id", a.ID, "error", err)
	}

	s.hub.Publish(ctx, event.New(event.ActionCreated, tc.TenantID, map[string]any{
		"action_id":    a.ID,
		"contact_id":   tc.ContactID,
		"request_type": a.RequestType,
		"priority":     a.Priority,
	}))
	return json.Marshal(map[string]any{"action_id": a.ID, "status": action.StatusPending})
}

func (s *Tools) downloadMedia(ctx context.Context, tc agent.TurnContext, args json.RawMessage) (json.RawMessage, error) {
	var in struct {
		MediaURL string `json:"media_url"`
	}
	if err := json.Unmarshal(args, &in); err != nil {
		return nil, fmt.Errorf("%w: download_media args: %v", domain.ErrValidation, err)
	}
	u, err := url.Parse(in.MediaURL)
	if err != nil || u.Scheme != "https" || u.Host == "" {
		return nil, fmt.Errorf("%w: media_url must be an absolute https URL", domain.ErrValidation)
	}

	t, err := s.transportFor(ctx, tc)
	if err != nil {
		return nil, err
	}
	m, err := t.DownloadMedia(ctx, in.MediaURL)
	if err != nil {
		return nil, fmt.Errorf("download media: %w", err)
	}
	return json.Marshal(map[string]any{
		"content_type": m.ContentType,
		"size":         m.Size,
		"data":         base64.StdEncoding.EncodeToString(m.Data),
	})
}

// recordOutbound persists a tool-sent message, counts usage and broadcasts.
// Failures here are logged, never surfaced: the customer already has the
// message.
func (s *Tools) recordOutbound(ctx context.Context, tc agent.TurnContext, m *message.Message) int64 {
	m.ContactID = tc.ContactID
	m.TenantID = tc.TenantID
	m.ChatbotID = tc.ChatbotID
	m.Direction = message.DirectionOutgoing
	m.Status = message.StatusSent
	m.SentAt = time.Now().UTC()
	m.AIProcessed = true

	if _, err := s.store.InsertMessage(ctx, m); err != nil {
		s.log.Error("tool outbound persist failed", "type", m.Type, "error", err)
		return 0
	}
	if _, err := s.store.IncrementOutbound(ctx, tc.TenantID, time.Now().UTC()); err != nil {
		s.log.Warn("usage increment failed", "tenant_id", tc.TenantID, "error", err)
	}
	s.hub.Publish(ctx, event.New(event.MessageOutgoing, tc.TenantID, map[string]any{
		"message_id":   m.ID,
		"contact_id":   tc.ContactID,
		"message_type": m.Type,
	}))
	return m.ID
}
