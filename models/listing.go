package models

import "encoding/json"

// NotAvailable is the sentinel written for missing scalar listing fields.
const NotAvailable = "N/A"

// Listing is one flattened record of the listings search payload.
// List fields are always present (possibly empty), never null.
type Listing struct {
	// Listing
	RealtorCaListingID string  `json:"realtorCaListingId"`
	MLSNumber          string  `json:"mlsNumber"`
	ListingFullAddress string  `json:"listingFullAddress"`
	ListingLink        string  `json:"listingLink"`
	OwnershipType      string  `json:"ownershipType"`
	PriceFormatted     string  `json:"priceFormatted"`
	PriceUnformatted   *string `json:"priceUnformatted"`
	BuildingType       string  `json:"buildingType"`
	SizeInterior       string  `json:"sizeInterior"`
	TimeOnRealtor      string  `json:"timeOnRealtor"`

	// Realtor (first Individual)
	RealtorName     string            `json:"realtorName"`
	RealtorPhones   []Phone           `json:"realtorPhones"`
	RealtorWebsites []json.RawMessage `json:"realtorWebsites"`

	// Brokerage (first Individual's Organization)
	BrokerageName     string            `json:"brokerageName"`
	BrokerageAddress  string            `json:"brokerageAddress"`
	BrokeragePhones   []Phone           `json:"brokeragePhones"`
	BrokerageWebsites []json.RawMessage `json:"brokerageWebsites"`
	BrokerageEmails   []json.RawMessage `json:"brokerageEmails"`
}

// Phone is a typed phone number, formatted "<area code>-<number>".
type Phone struct {
	Type   string `json:"type"`
	Number string `json:"number"`
}
