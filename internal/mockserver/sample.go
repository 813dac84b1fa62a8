package mockserver

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/skip2/go-qrcode"
	"github.com/wtfpos/posd/internal/pos"
)

// Fixed ids so a restarted mock serves the same catalog.
var (
	espressoID  = uuid.MustParse("6f1c2a52-6a43-4c1e-9a57-3f6c8d1e0a01")
	latteID     = uuid.MustParse("6f1c2a52-6a43-4c1e-9a57-3f6c8d1e0a02")
	croissantID = uuid.MustParse("6f1c2a52-6a43-4c1e-9a57-3f6c8d1e0a03")
	oatMilkID   = uuid.MustParse("6f1c2a52-6a43-4c1e-9a57-3f6c8d1e0a10")
	extraShotID = uuid.MustParse("6f1c2a52-6a43-4c1e-9a57-3f6c8d1e0a11")
	customerID  = uuid.MustParse("0b7d5c1e-2f4a-4e8b-8c3d-5a6b7c8d9e01")
)

// SampleCatalog is a small coffee-shop catalog whose images are served by
// the mock itself under baseURL.
func SampleCatalog(baseURL string) pos.Catalog {
	img := func(name string) string {
		return strings.TrimRight(baseURL, "/") + "/images/" + name + ".png"
	}
	price := decimal.RequireFromString
	oat := pos.Product{ID: oatMilkID, Name: "Oat milk", Price: price("0.50"), IsAddOn: true, IsActive: true}
	shot := pos.Product{ID: extraShotID, Name: "Extra shot", Price: price("0.75"), IsAddOn: true, IsActive: true}
	return pos.Catalog{
		Products: []pos.Product{
			{ID: espressoID, Name: "Espresso", Code: "ESP", Price: price("2.20"), IsActive: true, ImageURL: img("espresso"), AddOnCount: 1},
			{ID: latteID, Name: "Latte", Code: "LAT", Price: price("3.50"), IsActive: true, ImageURL: img("latte"), AddOnCount: 2},
			{ID: croissantID, Name: "Croissant", Code: "CRO", Price: price("2.80"), Category: 1, IsActive: true, ImageURL: img("croissant")},
			oat,
			shot,
		},
		AddOnsByProductID: map[uuid.UUID][]pos.AddOnGroup{
			espressoID: {
				{Type: 1, DisplayName: "Extras", Options: []pos.Product{shot}},
			},
			latteID: {
				{Type: 0, DisplayName: "Milk", Options: []pos.Product{oat}},
				{Type: 1, DisplayName: "Extras", Options: []pos.Product{shot}},
			},
		},
		Customers: []pos.Customer{
			{ID: customerID, FirstName: "Ana", LastName: "Souza", IsActive: true, ImageURL: img("ana")},
		},
	}
}

// image serves a generated PNG for any name, so catalog image URLs resolve.
func (s *Server) image(w http.ResponseWriter, r *http.Request) {
	name := strings.TrimSuffix(chi.URLParam(r, "name"), ".png")
	png, err := qrcode.Encode(name, qrcode.Low, 64)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.Header().Set("Content-Type", "image/png")
	_, _ = w.Write(png)
}
