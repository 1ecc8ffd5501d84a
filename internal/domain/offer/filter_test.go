package offer

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSanitize(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"Woolworths", "woolworths"},
		{"woolworths.com.au", "woolworthscomau"},
		{"Coles AU", "colesau"},
		{"ALDI - Online", "aldionline"},
		{"", ""},
		{"!!!", ""},
		{"7-Eleven", "7eleven"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, Sanitize(tt.in), "Sanitize(%q)", tt.in)
	}
}

func TestSourceAllowed(t *testing.T) {
	allowed := []string{"coles", "woolworths"}

	tests := []struct {
		name   string
		source string
		link   string
		want   bool
	}{
		{name: "exact source", source: "Coles", want: true},
		{name: "source with suffix", source: "Woolworths AU", want: true},
		{name: "match via link only", source: "Google Shopping", link: "https://www.coles.com.au/product/1", want: true},
		{name: "unrelated source", source: "eBay", link: "https://ebay.com/itm/1", want: false},
		{name: "both empty", want: false},
		{name: "empty allow entry skipped", source: "Coles", want: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, SourceAllowed(tt.source, tt.link, allowed))
		})
	}
}

func TestSourceAllowed_EmptyAllowList(t *testing.T) {
	assert.False(t, SourceAllowed("Coles", "https://coles.com.au", nil))
	assert.False(t, SourceAllowed("Coles", "", []string{"", "!!"}))
}

func TestFilterBySource(t *testing.T) {
	offers := []Offer{
		{Title: "a", Source: "Coles"},
		{Title: "b", Source: "eBay"},
		{Title: "c", Source: "", Link: "https://www.woolworths.com.au/shop/1"},
		{Title: "d", Source: "Amazon AU"},
	}

	kept := FilterBySource(offers, []string{"coles", "woolworths"})

	assert.Len(t, kept, 2)
	assert.Equal(t, "a", kept[0].Title)
	assert.Equal(t, "c", kept[1].Title)
}
