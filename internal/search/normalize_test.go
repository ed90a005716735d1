package search

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCacheKey(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		query  string
		center Coordinates
		want   string
	}{
		{"rounds to three decimals", "coffee shop", Coordinates{Lat: 40.7128, Lng: -74.0060}, "search:coffee shop:40.713:-74.006"},
		{"normalizes query", "  Coffee   SHOP ", Coordinates{Lat: 40.7128, Lng: -74.0060}, "search:coffee shop:40.713:-74.006"},
		{"negative zero", "tea", Coordinates{Lat: -0.0001, Lng: math.Copysign(0, -1)}, "search:tea:0.000:0.000"},
		{"pads decimals", "tea", Coordinates{Lat: 1, Lng: 2.5}, "search:tea:1.000:2.500"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			require.Equal(t, tt.want, CacheKey(tt.query, tt.center))
		})
	}
}

func TestCacheKeyGroupsNearbyRequests(t *testing.T) {
	t.Parallel()

	a := CacheKey("pizza", Coordinates{Lat: 40.71281, Lng: -74.00601})
	b := CacheKey("PIZZA", Coordinates{Lat: 40.71279, Lng: -74.00599})
	require.Equal(t, a, b)
	c := CacheKey("pizza", Coordinates{Lat: 40.7141, Lng: -74.006})
	require.NotEqual(t, a, c)
}

func TestNormalizeListings(t *testing.T) {
	t.Parallel()

	raw := []RawListing{
		{
			Name:        "  Blue Bottle  ",
			Rating:      "4.6 stars",
			ReviewCount: "(1,234)",
			Address:     " 1 Main St, Oakland ",
			Phone:       "",
			Website:     "https://bluebottle.example",
			Latitude:    "37.8044",
			Longitude:   "-122.2712",
			SourceURL:   "https://www.google.com/maps/place/blue",
			ImageURL:    "   ",
		},
		{Name: "   "},
		{Name: "No Numbers", Rating: "n/a", ReviewCount: "none"},
	}

	got := NormalizeListings(raw)
	require.Len(t, got, 2)

	first := got[0]
	require.Equal(t, "Blue Bottle", first.Name)
	require.NotNil(t, first.Rating)
	require.InDelta(t, 4.6, *first.Rating, 1e-9)
	require.Equal(t, 1234, first.Reviews)
	require.Equal(t, "1 Main St, Oakland", *first.Address)
	require.Nil(t, first.Phone)
	require.Nil(t, first.Image)
	require.InDelta(t, -122.2712, *first.Longitude, 1e-9)

	second := got[1]
	require.Nil(t, second.Rating)
	require.Equal(t, 0, second.Reviews)
	require.Nil(t, second.Latitude)
}

func TestNormalizeListingsNeverNil(t *testing.T) {
	t.Parallel()

	got := NormalizeListings(nil)
	require.NotNil(t, got)
	require.Empty(t, got)
}

func TestResultPayloadClone(t *testing.T) {
	t.Parallel()

	orig := ResultPayload{Results: []Listing{{Name: "a"}}, Count: 1}
	cp := orig.Clone()
	cp.Results[0].Name = "b"
	require.Equal(t, "a", orig.Results[0].Name)
}
