package api

import (
	"net/http"
	"time"

	"github.com/go-faster/jx"

	"github.com/dealhound/dealhound/internal/domain/deals"
	"github.com/dealhound/dealhound/internal/domain/offer"
	"github.com/dealhound/dealhound/internal/domain/suggest"
)

func writeJSON(w http.ResponseWriter, status int, e *jx.Encoder) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(e.Bytes())
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	e := &jx.Encoder{}
	e.ObjStart()
	e.FieldStart("code")
	e.Str(code)
	e.FieldStart("message")
	e.Str(message)
	e.ObjEnd()
	writeJSON(w, status, e)
}

func encodeOffer(e *jx.Encoder, o offer.Offer) {
	e.ObjStart()
	e.FieldStart("title")
	e.Str(o.Title)
	e.FieldStart("link")
	e.Str(o.Link)
	if o.Image != "" {
		e.FieldStart("image")
		e.Str(o.Image)
	}
	e.FieldStart("price")
	e.Str(o.Price)
	e.FieldStart("source")
	e.Str(o.Source)
	if o.Rating != 0 {
		e.FieldStart("rating")
		e.Float64(o.Rating)
	}
	if o.Reviews != 0 {
		e.FieldStart("reviews")
		e.Int(o.Reviews)
	}
	if o.Shipping != "" {
		e.FieldStart("shipping")
		e.Str(o.Shipping)
	}
	e.FieldStart("fetchedAt")
	e.Str(o.FetchedAt.UTC().Format(time.RFC3339))
	e.ObjEnd()
}

func writeResults(w http.ResponseWriter, results []deals.Result) {
	e := &jx.Encoder{}
	e.ArrStart()
	for _, res := range results {
		e.ObjStart()
		e.FieldStart("product")
		e.ObjStart()
		e.FieldStart("id")
		e.Str(res.Product.ID)
		e.FieldStart("name")
		e.Str(res.Product.Name)
		e.ObjEnd()
		e.FieldStart("deals")
		e.ArrStart()
		for _, o := range res.Deals {
			encodeOffer(e, o)
		}
		e.ArrEnd()
		e.FieldStart("source")
		e.Str(string(res.Source))
		e.ObjEnd()
	}
	e.ArrEnd()
	writeJSON(w, http.StatusOK, e)
}

func writeOffers(w http.ResponseWriter, offers []offer.Offer) {
	e := &jx.Encoder{}
	e.ArrStart()
	for _, o := range offers {
		encodeOffer(e, o)
	}
	e.ArrEnd()
	writeJSON(w, http.StatusOK, e)
}

func writeSuggestions(w http.ResponseWriter, suggestions []suggest.Suggestion) {
	e := &jx.Encoder{}
	e.ArrStart()
	for _, s := range suggestions {
		e.ObjStart()
		if s.ID != "" {
			e.FieldStart("id")
			e.Str(s.ID)
		}
		e.FieldStart("name")
		e.Str(s.Name)
		e.FieldStart("category")
		e.Str(s.Category)
		e.ObjEnd()
	}
	e.ArrEnd()
	writeJSON(w, http.StatusOK, e)
}
