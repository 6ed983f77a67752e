package places

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"laundromat-importer/packages/domain"
)

type geocodeResponse struct {
	Results []struct {
		FormattedAddress  string `json:"formatted_address"`
		AddressComponents []struct {
			LongName  string   `json:"long_name"`
			ShortName string   `json:"short_name"`
			Types     []string `json:"types"`
		} `json:"address_components"`
	} `json:"results"`
}

// ReverseGeocode resolves coordinates to a structured address using the
// first upstream result.
func (c *Client) ReverseGeocode(ctx context.Context, lat, lng float64) (domain.Address, Result) {
	if lat < -90 || lat > 90 || lng < -180 || lng > 180 || (lat == 0 && lng == 0) {
		return domain.Address{}, Result{Status: StatusInvalidInput, Err: fmt.Errorf("invalid coordinates %f,%f", lat, lng)}
	}

	params := url.Values{}
	params.Set("latlng", fmt.Sprintf("%.6f,%.6f", lat, lng))

	var body geocodeResponse
	res := c.get(ctx, "geocode", "/geocode/json", params, &body)
	if res.Status != StatusOK {
		return domain.Address{}, res
	}
	if len(body.Results) == 0 {
		res.Status = StatusEmpty
		return domain.Address{}, res
	}

	first := body.Results[0]
	addr := domain.Address{Formatted: first.FormattedAddress}
	var number, route string
	for _, comp := range first.AddressComponents {
		for _, t := range comp.Types {
			switch t {
			case "street_number":
				number = comp.LongName
			case "route":
				route = comp.LongName
			case "locality", "postal_town":
				addr.City = comp.LongName
			case "sublocality", "neighborhood":
				if addr.City == "" {
					addr.City = comp.LongName
				}
			case "administrative_area_level_1":
				addr.State = comp.ShortName
			case "postal_code":
				addr.PostalCode = comp.LongName
			}
		}
	}
	addr.Street = strings.TrimSpace(number + " " + route)
	return addr, res
}
