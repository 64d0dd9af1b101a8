package model

// User roles as issued by the identity service.
const (
	RoleClient   = "client"
	RoleProvider = "provider"
	RoleAdmin    = "admin"
)

// Service is a read-only view of a catalog entry. The catalog itself is
// owned by an external collaborator; the core only needs enough of it to
// validate bookings and render booking summaries.
type Service struct {
	ID              string  `json:"id"`
	Title           string  `json:"title"`
	Description     string  `json:"description"`
	ProviderID      string  `json:"providerId"`
	Price           float64 `json:"price"`
	DurationMinutes int     `json:"duration"`
}

// User is a read-only view of the user store.
type User struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Role string `json:"role"`
}
