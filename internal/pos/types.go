// Package pos holds the wire types shared by the terminal and the POS server:
// the catalog snapshot, order-creation commands, and the denormalized cart
// kept alongside orders waiting for delivery.
package pos

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Product is a sellable item or an add-on option.
type Product struct {
	ID            uuid.UUID        `json:"id"`
	Name          string           `json:"name"`
	Code          string           `json:"code,omitempty"`
	Description   string           `json:"description,omitempty"`
	Price         decimal.Decimal  `json:"price"`
	OverridePrice *decimal.Decimal `json:"overridePrice,omitempty"`
	Category      int              `json:"category"`
	IsAddOn       bool             `json:"isAddOn"`
	IsActive      bool             `json:"isActive"`
	ImageURL      string           `json:"imageUrl,omitempty"`
	AddOnCount    int              `json:"addOnCount,omitempty"`
}

// EffectivePrice is the override price when one is set, else the list price.
func (p Product) EffectivePrice() decimal.Decimal {
	if p.OverridePrice != nil {
		return *p.OverridePrice
	}
	return p.Price
}

// AddOnGroup is an ordered group of add-on options offered for a product.
type AddOnGroup struct {
	Type        int       `json:"type"`
	DisplayName string    `json:"displayName"`
	Options     []Product `json:"options"`
}

// Customer is a customer record as served in the catalog snapshot.
type Customer struct {
	ID        uuid.UUID `json:"id"`
	FirstName string    `json:"firstName"`
	LastName  string    `json:"lastName"`
	Address   string    `json:"address,omitempty"`
	IsActive  bool      `json:"isActive"`
	ImageURL  string    `json:"imageUrl,omitempty"`
}

// DisplayName joins first and last name.
func (c Customer) DisplayName() string {
	switch {
	case c.FirstName == "":
		return c.LastName
	case c.LastName == "":
		return c.FirstName
	}
	return c.FirstName + " " + c.LastName
}

// Catalog is the full snapshot returned by GET /api/sync/pos-catalog.
type Catalog struct {
	Products          []Product                  `json:"products"`
	AddOnsByProductID map[uuid.UUID][]AddOnGroup `json:"addOnsByProductId"`
	Customers         []Customer                 `json:"customers"`
	SyncedAt          time.Time                  `json:"syncedAt"`
}

// ImageURLs returns the distinct non-empty image URLs referenced anywhere in
// the catalog, in first-seen order.
func (c *Catalog) ImageURLs() []string {
	seen := make(map[string]struct{})
	var urls []string
	add := func(u string) {
		if u == "" {
			return
		}
		if _, ok := seen[u]; ok {
			return
		}
		seen[u] = struct{}{}
		urls = append(urls, u)
	}
	for _, p := range c.Products {
		add(p.ImageURL)
	}
	for _, groups := range c.AddOnsByProductID {
		for _, g := range groups {
			for _, o := range g.Options {
				add(o.ImageURL)
			}
		}
	}
	for _, cu := range c.Customers {
		add(cu.ImageURL)
	}
	return urls
}

// MapImages returns a deep copy of the catalog with every image reference
// replaced by fn(url). Empty references are left empty.
func (c *Catalog) MapImages(fn func(string) string) Catalog {
	mapURL := func(u string) string {
		if u == "" {
			return ""
		}
		return fn(u)
	}
	out := Catalog{
		Products:          make([]Product, len(c.Products)),
		AddOnsByProductID: make(map[uuid.UUID][]AddOnGroup, len(c.AddOnsByProductID)),
		Customers:         make([]Customer, len(c.Customers)),
		SyncedAt:          c.SyncedAt,
	}
	for i, p := range c.Products {
		p.ImageURL = mapURL(p.ImageURL)
		out.Products[i] = p
	}
	for id, groups := range c.AddOnsByProductID {
		gs := make([]AddOnGroup, len(groups))
		for i, g := range groups {
			opts := make([]Product, len(g.Options))
			for j, o := range g.Options {
				o.ImageURL = mapURL(o.ImageURL)
				opts[j] = o
			}
			g.Options = opts
			gs[i] = g
		}
		out.AddOnsByProductID[id] = gs
	}
	for i, cu := range c.Customers {
		cu.ImageURL = mapURL(cu.ImageURL)
		out.Customers[i] = cu
	}
	return out
}
