package tunnel

import (
	"time"

	"tunnel-billing/internal/models"
)

// View is a tunnel as returned to clients: the local record merged with the
// API key held by the tunneling provider.
type View struct {
	ID                       uint      `json:"id"`
	Domain                   string    `json:"domain"`
	APIKey                   string    `json:"apiKey,omitempty"`
	IsEnabled                bool      `json:"isEnabled"`
	AllowMultipleConnections bool      `json:"allowMultipleConnections"`
	CreatedAt                time.Time `json:"createdAt"`
	UpdatedAt                time.Time `json:"updatedAt"`
	// Error is set when the provider record could not be read while listing.
	Error string `json:"error,omitempty"`
}

func NewView(t *models.Tunnel, apiKey string) View {
	return View{
		ID:                       t.ID,
		Domain:                   t.Domain,
		APIKey:                   apiKey,
		IsEnabled:                t.IsEnabled,
		AllowMultipleConnections: t.AllowMultipleConnections,
		CreatedAt:                t.CreatedAt,
		UpdatedAt:                t.UpdatedAt,
	}
}
