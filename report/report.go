// Package report flattens a listings search payload into one record per
// listing.
package report

import (
	"encoding/json"
	"errors"
	"strings"

	"github.com/tidwall/gjson"
	"github.com/use-agent/harvest/models"
)

// DefaultBaseURL is prefixed to each listing's RelativeDetailsURL unless
// WithBaseURL overrides it.
const DefaultBaseURL = "https://www.realtor.ca"

// Option configures Flatten.
type Option func(*options)

type options struct {
	baseURL string
}

// WithBaseURL sets the prefix of listing links. Empty keeps the default.
func WithBaseURL(u string) Option {
	return func(o *options) {
		if u != "" {
			o.baseURL = strings.TrimRight(u, "/")
		}
	}
}

var (
	// ErrInvalidJSON is returned when the payload is not valid JSON.
	ErrInvalidJSON = errors.New("report: payload is not valid JSON")

	// ErrNoResults is returned when the payload has no Results array.
	ErrNoResults = errors.New("report: payload has no Results array")
)

// Flatten extracts one Listing per element of payload's Results array.
// Missing scalar fields become models.NotAvailable and missing lists become
// empty slices.
func Flatten(payload []byte, opts ...Option) ([]models.Listing, error) {
	o := options{baseURL: DefaultBaseURL}
	for _, opt := range opts {
		opt(&o)
	}
	if !gjson.ValidBytes(payload) {
		return nil, ErrInvalidJSON
	}
	results := gjson.GetBytes(payload, "Results")
	if !results.IsArray() {
		return nil, ErrNoResults
	}

	listings := make([]models.Listing, 0, len(results.Array()))
	results.ForEach(func(_, item gjson.Result) bool {
		listings = append(listings, flattenListing(item, o.baseURL))
		return true
	})
	return listings, nil
}

func flattenListing(item gjson.Result, baseURL string) models.Listing {
	// Only the first Individual is reported.
	realtor := item.Get("Individual.0")
	org := realtor.Get("Organization")

	link := models.NotAvailable
	if rel := item.Get("RelativeDetailsURL"); truthy(rel) {
		link = baseURL + rel.String()
	}

	return models.Listing{
		RealtorCaListingID: text(item.Get("Id")),
		MLSNumber:          text(item.Get("MlsNumber")),
		ListingFullAddress: address(item.Get("Property.Address.AddressText")),
		ListingLink:        link,
		OwnershipType:      text(item.Get("Property.OwnershipType")),
		PriceFormatted:     text(item.Get("Property.Price")),
		PriceUnformatted:   optional(item.Get("Property.PriceUnformattedValue")),
		BuildingType:       text(item.Get("Building.Type")),
		SizeInterior:       text(item.Get("Building.SizeInterior")),
		TimeOnRealtor:      text(item.Get("TimeOnRealtor")),

		RealtorName:     text(realtor.Get("Name")),
		RealtorPhones:   phones(realtor.Get("Phones")),
		RealtorWebsites: rawList(realtor.Get("Websites")),

		BrokerageName:     text(org.Get("Name")),
		BrokerageAddress:  address(org.Get("Address.AddressText")),
		BrokeragePhones:   phones(org.Get("Phones")),
		BrokerageWebsites: rawList(org.Get("Websites")),
		BrokerageEmails:   rawList(org.Get("Emails")),
	}
}

// truthy reports whether r is present and not an empty or zero value.
func truthy(r gjson.Result) bool {
	switch r.Type {
	case gjson.Null, gjson.False:
		return false
	case gjson.String:
		return r.Str != ""
	case gjson.Number:
		return r.Num != 0
	default:
		return r.Exists()
	}
}

func text(r gjson.Result) string {
	if !truthy(r) {
		return models.NotAvailable
	}
	return r.String()
}

func optional(r gjson.Result) *string {
	if !truthy(r) {
		return nil
	}
	s := r.String()
	return &s
}

// address renders the first " | " separator as ", ".
func address(r gjson.Result) string {
	if !truthy(r) {
		return models.NotAvailable
	}
	return strings.Replace(r.String(), " | ", ", ", 1)
}

func phones(r gjson.Result) []models.Phone {
	out := []models.Phone{}
	if !r.IsArray() {
		return out
	}
	r.ForEach(func(_, p gjson.Result) bool {
		out = append(out, models.Phone{
			Type:   p.Get("PhoneType").String(),
			Number: p.Get("AreaCode").String() + "-" + p.Get("PhoneNumber").String(),
		})
		return true
	})
	return out
}

func rawList(r gjson.Result) []json.RawMessage {
	out := []json.RawMessage{}
	if !r.IsArray() {
		return out
	}
	r.ForEach(func(_, v gjson.Result) bool {
		out = append(out, json.RawMessage(v.Raw))
		return true
	})
	return out
}
