package models

import "time"

// ListingRef is one sale offer as seen on the listing page
type ListingRef struct {
	ExternalID   string  `json:"external_id"`
	URL          string  `json:"url"`
	ListingPrice float64 `json:"listing_price"`
}

// DetailRecord holds the attributes read from an offer's detail page
type DetailRecord struct {
	ExternalID  string  `json:"external_id"`
	Server      string  `json:"server"`
	Rank        string  `json:"rank"`
	AgentsCount int     `json:"agents_count"`
	SkinsCount  int     `json:"skins_count"`
	Title       string  `json:"title"`
	Description *string `json:"description"`
	Price       float64 `json:"price"`
	URL         string  `json:"url"`
}

// CatalogEntry is the persisted state of an offer, keyed by ExternalID
type CatalogEntry struct {
	ID          int64     `json:"id" db:"id" csv:"id"`
	ExternalID  string    `json:"externalId" db:"external_id" csv:"external_id"`
	Server      string    `json:"server" db:"server" csv:"server"`
	Rank        string    `json:"rank" db:"rank" csv:"rank"`
	AgentsCount int       `json:"agentsCount" db:"agents_count" csv:"agents_count"`
	SkinsCount  int       `json:"skinsCount" db:"skins_count" csv:"skins_count"`
	Title       string    `json:"titleRu" db:"title" csv:"title"`
	Description *string   `json:"descriptionRu" db:"description" csv:"description,omitempty"`
	Price       float64   `json:"priceRub" db:"price" csv:"price"`
	URL         string    `json:"url" db:"url" csv:"url"`
	Fingerprint string    `json:"-" db:"fingerprint" csv:"-"`
	IsActive    bool      `json:"isActive" db:"is_active" csv:"is_active"`
	FirstSeenAt time.Time `json:"firstSeenAt" db:"first_seen_at" csv:"first_seen_at"`
	LastSeenAt  time.Time `json:"lastSeenAt" db:"last_seen_at" csv:"last_seen_at"`
	CreatedAt   time.Time `json:"createdAt" db:"created_at" csv:"created_at"`
	UpdatedAt   time.Time `json:"updatedAt" db:"updated_at" csv:"updated_at"`
}

// Apply overwrites the mutable fields with a fresh observation
func (e *CatalogEntry) Apply(rec *DetailRecord) {
	e.Server = rec.Server
	e.Rank = rec.Rank
	e.AgentsCount = rec.AgentsCount
	e.SkinsCount = rec.SkinsCount
	e.Title = rec.Title
	e.Description = rec.Description
	e.Price = rec.Price
	e.URL = rec.URL
}

// NewCatalogEntry builds an active entry first seen at now
func NewCatalogEntry(rec *DetailRecord, now time.Time) *CatalogEntry {
	e := &CatalogEntry{
		ExternalID:  rec.ExternalID,
		IsActive:    true,
		FirstSeenAt: now,
		LastSeenAt:  now,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	e.Apply(rec)
	return e
}

// Default values for detail fields missing from the page
const (
	DefaultServer = "Any"
	DefaultRank   = "Unknown"
)
