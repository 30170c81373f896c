package service

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/replygrid/replygrid/internal/domain"
	"github.com/replygrid/replygrid/internal/domain/action"
	"github.com/replygrid/replygrid/internal/domain/contact"
	"github.com/replygrid/replygrid/internal/domain/event"
	"github.com/replygrid/replygrid/internal/domain/knowledge"
	"github.com/replygrid/replygrid/internal/domain/message"
	"github.com/replygrid/replygrid/internal/domain/tenant"
	"github.com/replygrid/replygrid/internal/domain/turn"
	"github.com/replygrid/replygrid/internal/domain/usage"
	"github.com/replygrid/replygrid/internal/pipeline"
	"github.com/replygrid/replygrid/internal/port/transport"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// mockStore is an in-memory database.Store.
type mockStore struct {
	mu sync.Mutex

	tenants  map[tenant.ID]*tenant.Tenant
	chatbots map[int64]*tenant.Chatbot
	contacts map[int64]*contact.Contact
	messages map[int64]*message.Message
	actions  map[int64]*action.Action
	entries  map[string]*knowledge.Entry
	outbound map[tenant.ID]int

	nextID int64
	seen   map[string]int64
}

func newMockStore() *mockStore {
	return &mockStore{
		tenants:  make(map[tenant.ID]*tenant.Tenant),
		chatbots: make(map[int64]*tenant.Chatbot),
		contacts: make(map[int64]*contact.Contact),
		messages: make(map[int64]*message.Message),
		actions:  make(map[int64]*action.Action),
		entries:  make(map[string]*knowledge.Entry),
		outbound: make(map[tenant.ID]int),
		seen:     make(map[string]int64),
	}
}

func (s *mockStore) id() int64 {
	s.nextID++
	return s.nextID
}

func (s *mockStore) GetTenant(_ context.Context, id tenant.ID) (*tenant.Tenant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tenants[id]
	if !ok {
		return nil, fmt.Errorf("tenant %d: %w", id, domain.ErrNotFound)
	}
	cp := *t
	return &cp, nil
}

func (s *mockStore) GetChatbot(_ context.Context, tenantID tenant.ID, chatbotID int64) (*tenant.Chatbot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.chatbots[chatbotID]
	if !ok || b.TenantID != tenantID {
		return nil, fmt.Errorf("chatbot %d: %w", chatbotID, domain.ErrNotFound)
	}
	cp := *b
	return &cp, nil
}

func (s *mockStore) GetOrCreateContact(_ context.Context, tenantID tenant.ID, chatbotID int64, phone, name, threadID string) (*contact.Contact, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.contacts {
		if c.TenantID == tenantID && c.PhoneNumber == phone {
			c.LastInteraction = time.Now()
			cp := *c
			return &cp, nil
		}
	}
	c := &contact.Contact{
		ID:          s.id(),
		TenantID:    tenantID,
		ChatbotID:   chatbotID,
		PhoneNumber: phone,
		Name:        name,
		ThreadID:    threadID,
		CreatedAt:   time.Now(),
	}
	s.contacts[c.ID] = c
	cp := *c
	return &cp, nil
}

func (s *mockStore) GetContact(_ context.Context, tenantID tenant.ID, contactID int64) (*contact.Contact, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.contacts[contactID]
	if !ok || c.TenantID != tenantID {
		return nil, fmt.Errorf("contact %d: %w", contactID, domain.ErrNotFound)
	}
	cp := *c
	return &cp, nil
}

func (s *mockStore) TouchContact(_ context.Context, tenantID tenant.ID, contactID int64, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.contacts[contactID]
	if !ok || c.TenantID != tenantID {
		return fmt.Errorf("contact %d: %w", contactID, domain.ErrNotFound)
	}
	c.LastInteraction = at
	return nil
}

func (s *mockStore) InsertMessage(_ context.Context, m *message.Message) (int64, error) {
	if err := m.Validate(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if m.Direction == message.DirectionIncoming && m.ProviderMessageID != "" {
		if _, dup := s.seen[m.ProviderMessageID]; dup {
			return 0, nil
		}
	}
	m.ID = s.id()
	if m.Direction == message.DirectionIncoming && m.ProviderMessageID != "" {
		s.seen[m.ProviderMessageID] = m.ID
	}
	cp := *m
	s.messages[m.ID] = &cp
	return m.ID, nil
}

func (s *mockStore) GetMessage(_ context.Context, tenantID tenant.ID, messageID int64) (*message.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.messages[messageID]
	if !ok || m.TenantID != tenantID {
		return nil, fmt.Errorf("message %d: %w", messageID, domain.ErrNotFound)
	}
	cp := *m
	return &cp, nil
}

func (s *mockStore) UpdateMessageStatus(_ context.Context, tenantID tenant.ID, messageID int64, status string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.messages[messageID]
	if !ok || m.TenantID != tenantID {
		return fmt.Errorf("message %d: %w", messageID, domain.ErrNotFound)
	}
	m.Status = status
	return nil
}

func (s *mockStore) UpdateMessageStatusByProviderID(_ context.Context, providerMessageID, status string) (*message.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range s.messages {
		if m.ProviderMessageID == providerMessageID && m.Direction != message.DirectionIncoming {
			m.Status = status
			cp := *m
			return &cp, nil
		}
	}
	return nil, fmt.Errorf("delivery report %s: %w", providerMessageID, domain.ErrNotFound)
}

func (s *mockStore) UpdateActionIndicator(_ context.Context, tenantID tenant.ID, actionID int64, status action.Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range s.messages {
		if m.TenantID == tenantID && m.Type == message.TypeActionIndicator {
			return nil
		}
	}
	return fmt.Errorf("action indicator %d: %w", actionID, domain.ErrNotFound)
}

func (s *mockStore) CreateAction(_ context.Context, a *action.Action) (int64, error) {
	if err := a.Validate(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	a.ID = s.id()
	a.Status = action.StatusPending
	a.CreatedAt = time.Now()
	cp := *a
	s.actions[a.ID] = &cp
	return a.ID, nil
}

func (s *mockStore) GetAction(_ context.Context, actionID int64) (*action.Action, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.actions[actionID]
	if !ok {
		return nil, fmt.Errorf("action %d: %w", actionID, domain.ErrNotFound)
	}
	cp := *a
	return &cp, nil
}

func (s *mockStore) ResolveAction(_ context.Context, tenantID tenant.ID, actionID int64, status action.Status, userResponse string) (*action.Action, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.actions[actionID]
	if !ok || a.TenantID != tenantID {
		return nil, fmt.Errorf("action %d: %w", actionID, domain.ErrNotFound)
	}
	if a.Status != action.StatusPending {
		return nil, fmt.Errorf("resolve action %d: %w", actionID, domain.ErrConflict)
	}
	now := time.Now()
	a.Status = status
	a.UserResponse = userResponse
	a.ResolvedAt = &now
	cp := *a
	return &cp, nil
}

func (s *mockStore) UsageSnapshot(_ context.Context, tenantID tenant.ID, day time.Time) (*usage.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := s.outbound[tenantID]
	return &usage.Snapshot{TenantID: tenantID, Date: day, DailyOutbound: n, MonthOutbound: n}, nil
}

func (s *mockStore) IncrementOutbound(_ context.Context, tenantID tenant.ID, day time.Time) (*usage.Counter, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.outbound[tenantID]++
	return &usage.Counter{TenantID: tenantID, Date: day, OutboundCount: s.outbound[tenantID]}, nil
}

func (s *mockStore) UpsertKnowledgeEntry(_ context.Context, e *knowledge.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := fmt.Sprintf("%d/%s/%s", e.ChatbotID, e.Category, e.Question)
	cp := *e
	s.entries[key] = &cp
	return nil
}

func (s *mockStore) Ping(context.Context) error { return nil }

func (s *mockStore) messagesByDirection(d message.Direction) []*message.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*message.Message
	for _, m := range s.messages {
		if m.Direction == d {
			cp := *m
			out = append(out, &cp)
		}
	}
	return out
}

// mockTransport records sends.
type mockTransport struct {
	mu        sync.Mutex
	sender    string
	fail      bool
	probeSize int64
	texts     []string
	images    []string
	locations [][2]float64
	templates []transport.Template
	media     *transport.Media
}

func (t *mockTransport) result() *transport.SendResult {
	return &transport.SendResult{ProviderMessageID: "prov-mock", Status: "PENDING"}
}

func (t *mockTransport) SendText(_ context.Context, _, text string) (*transport.SendResult, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.fail {
		return nil, fmt.Errorf("bsp unreachable")
	}
	t.texts = append(t.texts, text)
	return t.result(), nil
}

func (t *mockTransport) SendImage(_ context.Context, _, imageURL, _ string) (*transport.SendResult, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.fail {
		return nil, fmt.Errorf("bsp unreachable")
	}
	t.images = append(t.images, imageURL)
	return t.result(), nil
}

func (t *mockTransport) SendLocation(_ context.Context, _ string, lat, lon float64, _, _ string) (*transport.SendResult, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.fail {
		return nil, fmt.Errorf("bsp unreachable")
	}
	t.locations = append(t.locations, [2]float64{lat, lon})
	return t.result(), nil
}

func (t *mockTransport) SendTemplate(_ context.Context, _ string, tpl transport.Template) (*transport.SendResult, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.fail {
		return nil, fmt.Errorf("bsp unreachable")
	}
	t.templates = append(t.templates, tpl)
	return t.result(), nil
}

func (t *mockTransport) ProbeMedia(context.Context, string) (int64, string, error) {
	if t.fail {
		return 0, "", fmt.Errorf("bsp unreachable")
	}
	if t.probeSize != 0 {
		return t.probeSize, "image/jpeg", nil
	}
	return 1024, "image/jpeg", nil
}

func (t *mockTransport) DownloadMedia(context.Context, string) (*transport.Media, error) {
	if t.fail {
		return nil, fmt.Errorf("bsp unreachable")
	}
	if t.media != nil {
		return t.media, nil
	}
	return &transport.Media{Data: []byte("img"), ContentType: "image/png", Size: 3}, nil
}

func (t *mockTransport) Ping(context.Context) error { return nil }
func (t *mockTransport) Sender() string             { return t.sender }

func (t *mockTransport) sentTexts() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]string(nil), t.texts...)
}

// mockTransports maps senders to transports.
type mockTransports map[string]transport.MessagingTransport

func (m mockTransports) ForSender(sender string) (transport.MessagingTransport, bool) {
	t, ok := m[sender]
	return t, ok
}

// mockHub records published events by type.
type mockHub struct {
	mu     sync.Mutex
	events []event.Event
}

func (h *mockHub) Publish(_ context.Context, ev event.Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.events = append(h.events, ev)
}

func (h *mockHub) byType(typ string) []event.Event {
	h.mu.Lock()
	defer h.mu.Unlock()
	var out []event.Event
	for _, ev := range h.events {
		if ev.Type == typ {
			out = append(out, ev)
		}
	}
	return out
}

// mockSubmitter captures pipeline submissions.
type mockSubmitter struct {
	mu      sync.Mutex
	submits []struct {
		meta pipeline.TurnMeta
		rec  turn.Inbound
	}
}

func (m *mockSubmitter) Submit(meta pipeline.TurnMeta, rec turn.Inbound) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.submits = append(m.submits, struct {
		meta pipeline.TurnMeta
		rec  turn.Inbound
	}{meta, rec})
}

func (m *mockSubmitter) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.submits)
}

// fixtures

func seedTenant(s *mockStore) (*tenant.Tenant, *tenant.Chatbot, *contact.Contact) {
	t := &tenant.Tenant{ID: 1, Name: "Ecla Cosmetics"}
	b := &tenant.Chatbot{ID: 10, TenantID: 1, SenderMSISDN: "385912345678", AgentID: "support-v1", Active: true}
	c := &contact.Contact{ID: 100, TenantID: 1, ChatbotID: 10, PhoneNumber: "385998765432", Name: "Ana", ThreadID: "thread-1"}
	s.tenants[t.ID] = t
	s.chatbots[b.ID] = b
	s.contacts[c.ID] = c
	s.nextID = 1000
	return t, b, c
}
