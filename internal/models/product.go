// Package models holds the product records that flow through the pipeline
// and are persisted by the stores.
package models

import (
	"strings"
	"time"
)

// ProductSummary is one item as seen on a listing page.
type ProductSummary struct {
	Category      string  `json:"category" bson:"category"`
	Subcategory   string  `json:"subcategory,omitempty" bson:"subcategory,omitempty"`
	URL           string  `json:"url" bson:"url"`
	ProductID     string  `json:"productId,omitempty" bson:"productId,omitempty"`
	Cost          string  `json:"cost" bson:"cost"`
	Currency      string  `json:"currency" bson:"currency"`
	Price         float64 `json:"price" bson:"price"`
	Description   string  `json:"description,omitempty" bson:"description,omitempty"`
	ImageURL      string  `json:"imageURL,omitempty" bson:"imageURL,omitempty"`
	IsOutstanding bool    `json:"isOutstanding" bson:"isOutstanding"`
}

// Location is where the seller says the item is.
type Location struct {
	State        string `json:"state" bson:"state"`
	Municipality string `json:"municipality,omitempty" bson:"municipality,omitempty"`
}

// Seller holds the contact data published on a detail page.
type Seller struct {
	Name     string `json:"name" bson:"name"`
	Phone    string `json:"phone" bson:"phone"`
	Email    string `json:"email" bson:"email"`
	WhatsApp string `json:"whatsapp" bson:"whatsapp"`
}

// ProductDetail is the data only available on an item's own page.
type ProductDetail struct {
	Views    float64  `json:"views" bson:"views"`
	Location Location `json:"location" bson:"location"`
	Seller   Seller   `json:"seller" bson:"seller"`
}

// HistoryEntry records one accepted value of a tracked field.
type HistoryEntry[T any] struct {
	Value     T         `json:"value" bson:"value"`
	UpdatedAt time.Time `json:"updatedAt" bson:"updatedAt"`
}

// ProductRecord is the stored document. History slices are append-only and
// their last entry mirrors the current scalar value.
type ProductRecord struct {
	ProductSummary `bson:",inline"`
	ProductDetail  `bson:",inline"`

	PriceHistory         []HistoryEntry[float64]  `json:"priceHistory" bson:"priceHistory"`
	IsOutstandingHistory []HistoryEntry[bool]     `json:"isOutstandingHistory" bson:"isOutstandingHistory"`
	LocationHistory      []HistoryEntry[Location] `json:"locationHistory" bson:"locationHistory"`
	ViewsHistory         []HistoryEntry[float64]  `json:"viewsHistory" bson:"viewsHistory"`

	CreatedAt time.Time `json:"createdAt" bson:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt" bson:"updatedAt"`
}

// Validate checks the fields every stored summary must carry.
func (p *ProductSummary) Validate() error {
	verr := &ValidationError{}
	if strings.TrimSpace(p.Category) == "" {
		verr.Add("category", "Category is required")
	}
	if strings.TrimSpace(p.URL) == "" {
		verr.Add("url", "URL is required")
	}
	if strings.TrimSpace(p.Cost) == "" {
		verr.Add("cost", "Cost is required")
	}
	if strings.TrimSpace(p.Currency) == "" {
		verr.Add("currency", "Currency is required")
	}
	if p.Price < 0 {
		verr.Add("price", "Price must be greater than or equal to 0")
	}
	return verr.Err()
}
