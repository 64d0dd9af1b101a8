package model

import "time"

// Appointment is the canonical booking record between a client and a
// provider. Status is only mutated through compare-and-swap transitions;
// scheduling fields (service, date, time) are fixed at creation, since
// rescheduling is not supported.
type Appointment struct {
	ID            string    `json:"id"`
	ServiceID     string    `json:"serviceId"`
	ProviderID    string    `json:"providerId"`
	ClientID      string    `json:"clientId"`
	ScheduledDate string    `json:"scheduledDate"` // YYYY-MM-DD, provider-local
	ScheduledTime string    `json:"scheduledTime"` // HH:MM, provider-local
	Status        Status    `json:"status"`
	Address       string    `json:"address"`
	Notes         string    `json:"notes"`
	Rating        int       `json:"rating,omitempty"` // 1..5, zero until reviewed
	Review        string    `json:"review,omitempty"`
	CreatedAt     time.Time `json:"createdAt"`
}
