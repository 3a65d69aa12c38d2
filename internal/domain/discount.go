package domain

import "time"

type DiscountCode struct {
	ID          string          `json:"id"`
	Version     int             `json:"version"`
	Code        string          `json:"code"`
	Name        LocalizedString `json:"name,omitempty"`
	Description LocalizedString `json:"description,omitempty"`
	IsActive    bool            `json:"isActive"`
	ValidFrom   *time.Time      `json:"validFrom,omitempty"`
	ValidUntil  *time.Time      `json:"validUntil,omitempty"`
}

// PagedQueryResponse is the platform's list envelope.
type PagedQueryResponse[T any] struct {
	Limit   int `json:"limit"`
	Offset  int `json:"offset"`
	Count   int `json:"count"`
	Total   int `json:"total,omitempty"`
	Results []T `json:"results"`
}
