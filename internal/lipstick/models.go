package lipstick

type CreateDomainRequest struct {
	Name   string `json:"name"`
	APIKey string `json:"apiKey"`
}

// Domain is the provider's record for a tunneled domain.
type Domain struct {
	ID        string `json:"id,omitempty"`
	Name      string `json:"name"`
	APIKey    string `json:"apiKey"`
	CreatedAt string `json:"createdAt,omitempty"`
}
