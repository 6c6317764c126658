package domain

import "time"

// Address is a postal address owned by a user. Kind is the address type ("billing", "shipping", ...).
type Address struct {
	ID         string    `json:"id"`
	UserID     int64     `json:"userId"`
	Kind       string    `json:"kind"`
	Name       string    `json:"name"`
	Company    string    `json:"company,omitempty"`
	Street     string    `json:"street"`
	City       string    `json:"city"`
	PostalCode string    `json:"postalCode"`
	Country    string    `json:"country"`
	UpdatedAt  time.Time `json:"updatedAt"`
}
