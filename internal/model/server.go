package model

import "time"

// Server statuses as moderated by admins.
const (
	ServerStatusPending  = "PENDING"
	ServerStatusApproved = "APPROVED"
	ServerStatusRejected = "REJECTED"
)

// Server is the subset of a listing the vote service needs to validate targets.
type Server struct {
	ID        string    `json:"id"`
	Slug      string    `json:"slug"`
	Name      string    `json:"name"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"createdAt"`
}

// Votable reports whether the listing accepts votes.
func (s *Server) Votable() bool {
	return s.Status == ServerStatusApproved
}
