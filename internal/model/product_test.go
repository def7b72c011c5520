package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func prices(offers []Offer) []float64 {
	out := make([]float64, len(offers))
	for i, o := range offers {
		out[i] = o.Price
	}
	return out
}

func TestSortOffers(t *testing.T) {
	offers := []Offer{{Shop: "a", Price: 50}, {Shop: "b", Price: 10}, {Shop: "c", Price: 30}}

	assert.Equal(t, []float64{10, 30, 50}, prices(SortOffers(offers, SortAsc, 0)))
	assert.Equal(t, []float64{50, 30, 10}, prices(SortOffers(offers, SortDesc, 0)))
	assert.Equal(t, []float64{10, 30}, prices(SortOffers(offers, SortAsc, 2)))
	assert.Equal(t, []float64{50, 10, 30}, prices(SortOffers(offers, "", 0)), "no order keeps extraction order")

	// input untouched
	assert.Equal(t, []float64{50, 10, 30}, prices(offers))
}

func TestSortOffersStable(t *testing.T) {
	offers := []Offer{{Shop: "first", Price: 10}, {Shop: "second", Price: 10}, {Shop: "third", Price: 5}}
	got := SortOffers(offers, SortAsc, 0)
	assert.Equal(t, []string{"third", "first", "second"}, []string{got[0].Shop, got[1].Shop, got[2].Shop})
}

func TestSortOffersLimitLargerThanList(t *testing.T) {
	offers := []Offer{{Price: 1}}
	assert.Len(t, SortOffers(offers, SortDesc, 100), 1)
}
