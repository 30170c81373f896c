// Package transport defines the messaging transport port (interface).
package transport

import "context"

// SendResult is returned by every outbound send.
type SendResult struct {
	ProviderMessageID string
	Status            string
}

// Media is a downloaded inbound attachment.
type Media struct {
	Data        []byte
	ContentType string
	Size        int64
}

// Template describes a pre-approved template send.
type Template struct {
	Name      string
	Variables []string
	Buttons   []string
	Language  string
}

// MessagingTransport is the per-tenant BSP client. The sender number is
// fixed at construction; callers supply only the counterparty.
type MessagingTransport interface {
	SendText(ctx context.Context, to, text string) (*SendResult, error)
	SendImage(ctx context.Context, to, imageURL, caption string) (*SendResult, error)
	SendLocation(ctx context.Context, to string, lat, lon float64, name, address string) (*SendResult, error)
	SendTemplate(ctx context.Context, to string, tpl Template) (*SendResult, error)

	// ProbeMedia issues a HEAD request and reports the advertised size and
	// content type without transferring the payload. Size is -1 when the
	// server does not advertise one.
	ProbeMedia(ctx context.Context, mediaURL string) (size int64, contentType string, err error)

	// DownloadMedia fetches an inbound attachment, enforcing size and
	// content-type caps with a HEAD probe before the GET.
	DownloadMedia(ctx context.Context, mediaURL string) (*Media, error)

	// Ping verifies the BSP is reachable with the configured credentials.
	Ping(ctx context.Context) error

	// Sender returns the MSISDN this transport sends from.
	Sender() string
}
