package report

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/use-agent/harvest/models"
)

const fullListing = `{
  "Results": [{
    "Id": "27412345",
    "MlsNumber": "C9876543",
    "RelativeDetailsURL": "/real-estate/27412345/100-queen-st-toronto",
    "TimeOnRealtor": "3 days",
    "Property": {
      "Price": "$549,000",
      "PriceUnformattedValue": "549000",
      "OwnershipType": "Condominium/Strata",
      "Address": {"AddressText": "#1204 -100 QUEEN ST W | Toronto, Ontario M5H2N2"}
    },
    "Building": {"Type": "Apartment", "SizeInterior": "600 - 699 sqft"},
    "Individual": [{
      "Name": "Jane Agent",
      "Phones": [{"PhoneType": "Telephone", "AreaCode": "416", "PhoneNumber": "555-0100"}],
      "Websites": [{"Website": "http://jane.example", "WebsiteTypeId": "1"}],
      "Organization": {
        "Name": "Example Realty Inc., Brokerage",
        "Address": {"AddressText": "1 KING ST | TORONTO, Ontario M5H1A1"},
        "Phones": [
          {"PhoneType": "Telephone", "AreaCode": "416", "PhoneNumber": "555-0199"},
          {"PhoneType": "Fax", "AreaCode": "416", "PhoneNumber": "555-0198"}
        ],
        "Websites": [{"Website": "http://realty.example", "WebsiteTypeId": "1"}],
        "Emails": [{"ContactId": "1234"}]
      }
    }, {
      "Name": "Second Agent"
    }]
  }]
}`

func TestFlatten_FullListing(t *testing.T) {
	listings, err := Flatten([]byte(fullListing))
	require.NoError(t, err)
	require.Len(t, listings, 1)

	l := listings[0]
	assert.Equal(t, "27412345", l.RealtorCaListingID)
	assert.Equal(t, "C9876543", l.MLSNumber)
	assert.Equal(t, "#1204 -100 QUEEN ST W, Toronto, Ontario M5H2N2", l.ListingFullAddress)
	assert.Equal(t, "https://www.realtor.ca/real-estate/27412345/100-queen-st-toronto", l.ListingLink)
	assert.Equal(t, "Condominium/Strata", l.OwnershipType)
	assert.Equal(t, "$549,000", l.PriceFormatted)
	require.NotNil(t, l.PriceUnformatted)
	assert.Equal(t, "549000", *l.PriceUnformatted)
	assert.Equal(t, "Apartment", l.BuildingType)
	assert.Equal(t, "600 - 699 sqft", l.SizeInterior)
	assert.Equal(t, "3 days", l.TimeOnRealtor)

	assert.Equal(t, "Jane Agent", l.RealtorName)
	assert.Equal(t, []models.Phone{{Type: "Telephone", Number: "416-555-0100"}}, l.RealtorPhones)
	require.Len(t, l.RealtorWebsites, 1)
	assert.JSONEq(t, `{"Website": "http://jane.example", "WebsiteTypeId": "1"}`, string(l.RealtorWebsites[0]))

	assert.Equal(t, "Example Realty Inc., Brokerage", l.BrokerageName)
	assert.Equal(t, "1 KING ST, TORONTO, Ontario M5H1A1", l.BrokerageAddress)
	assert.Len(t, l.BrokeragePhones, 2)
	assert.Equal(t, "416-555-0198", l.BrokeragePhones[1].Number)
	assert.Len(t, l.BrokerageWebsites, 1)
	require.Len(t, l.BrokerageEmails, 1)
	assert.JSONEq(t, `{"ContactId": "1234"}`, string(l.BrokerageEmails[0]))
}

func TestFlatten_NoIndividual(t *testing.T) {
	listings, err := Flatten([]byte(`{"Results":[{"Id":"1","MlsNumber":"X1"}]}`))
	require.NoError(t, err)
	require.Len(t, listings, 1)

	l := listings[0]
	assert.Equal(t, models.NotAvailable, l.RealtorName)
	assert.Equal(t, models.NotAvailable, l.BrokerageName)
	assert.Equal(t, models.NotAvailable, l.BrokerageAddress)
	assert.NotNil(t, l.RealtorPhones)
	assert.Empty(t, l.RealtorPhones)
	assert.NotNil(t, l.RealtorWebsites)
	assert.Empty(t, l.RealtorWebsites)
	assert.Empty(t, l.BrokerageEmails)
	assert.Nil(t, l.PriceUnformatted)

	// Lists serialize as [] and the raw price as null, never absent.
	raw, err := json.Marshal(l)
	require.NoError(t, err)
	var fields map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(raw, &fields))
	assert.Equal(t, "[]", string(fields["realtorPhones"]))
	assert.Equal(t, "[]", string(fields["realtorWebsites"]))
	assert.Equal(t, "[]", string(fields["brokerageEmails"]))
	assert.Equal(t, "null", string(fields["priceUnformatted"]))
	assert.Equal(t, `"N/A"`, string(fields["realtorName"]))
}

func TestFlatten_EmptyIndividualArray(t *testing.T) {
	listings, err := Flatten([]byte(`{"Results":[{"Individual":[]}]}`))
	require.NoError(t, err)
	require.Len(t, listings, 1)
	assert.Equal(t, models.NotAvailable, listings[0].RealtorName)
	assert.Equal(t, models.NotAvailable, listings[0].ListingLink)
	assert.Equal(t, models.NotAvailable, listings[0].RealtorCaListingID)
}

func TestFlatten_EmptyValuesAreNotAvailable(t *testing.T) {
	listings, err := Flatten([]byte(`{"Results":[{"Id":"","MlsNumber":null,"Property":{"PriceUnformattedValue":""}}]}`))
	require.NoError(t, err)
	assert.Equal(t, models.NotAvailable, listings[0].RealtorCaListingID)
	assert.Equal(t, models.NotAvailable, listings[0].MLSNumber)
	assert.Nil(t, listings[0].PriceUnformatted)
}

func TestFlatten_OnlyFirstSeparatorReplaced(t *testing.T) {
	listings, err := Flatten([]byte(`{"Results":[{"Property":{"Address":{"AddressText":"A | B | C"}}}]}`))
	require.NoError(t, err)
	assert.Equal(t, "A, B | C", listings[0].ListingFullAddress)
}

func TestFlatten_EmptyResults(t *testing.T) {
	listings, err := Flatten([]byte(`{"Results":[]}`))
	require.NoError(t, err)
	assert.NotNil(t, listings)
	assert.Empty(t, listings)
}

func TestFlatten_Errors(t *testing.T) {
	_, err := Flatten([]byte(`{"Paging":{}}`))
	assert.ErrorIs(t, err, ErrNoResults)

	_, err = Flatten([]byte(`{"Results":{}}`))
	assert.ErrorIs(t, err, ErrNoResults)

	_, err = Flatten([]byte(`not json`))
	assert.ErrorIs(t, err, ErrInvalidJSON)
}

func TestFlatten_BaseURL(t *testing.T) {
	payload := []byte(`{"Results":[{"RelativeDetailsURL":"/real-estate/1/x"}]}`)

	listings, err := Flatten(payload, WithBaseURL("https://mirror.example/"))
	require.NoError(t, err)
	assert.Equal(t, "https://mirror.example/real-estate/1/x", listings[0].ListingLink)

	listings, err = Flatten(payload, WithBaseURL(""))
	require.NoError(t, err)
	assert.Equal(t, DefaultBaseURL+"/real-estate/1/x", listings[0].ListingLink)
}
