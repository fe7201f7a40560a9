package fetch

import (
	"strings"
	"testing"
)

const searchPage = `<html><body>
<div>
  <a href="/marketplace/item/1001/?ref=search">
    <img src="https://cdn.example.test/1001.jpg">
    <span>R$ 60.000</span>
    <span>Honda Civic EXL 2015</span>
    <span>São Paulo, SP</span>
  </a>
  <a href="/marketplace/item/1002/">
    <span>R$ 45.500</span>
  </a>
  <a href="/marketplace/item/1001/?ref=dup"><span>Honda Civic EXL 2015</span></a>
  <a href="/marketplace/category/vehicles"><span>Vehicles</span></a>
  <a href="/marketplace/item/1003/"><span>12 km</span></a>
</div>
</body></html>`

func TestExtractCandidates(t *testing.T) {
	cs, err := ExtractCandidates(strings.NewReader(searchPage), "https://www.facebook.com/marketplace/saopaulo/search?query=civic", Options{}, 10)
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if len(cs) != 3 {
		t.Fatalf("expected 3 candidates, got %d: %+v", len(cs), cs)
	}

	first := cs[0]
	if first.SourceID != "1001" {
		t.Errorf("SourceID = %q, want 1001", first.SourceID)
	}
	if first.URL != "https://www.facebook.com/marketplace/item/1001/?ref=search" {
		t.Errorf("URL not resolved: %q", first.URL)
	}
	if first.Title != "Honda Civic EXL 2015" {
		t.Errorf("Title = %q", first.Title)
	}
	if first.Price != "R$ 60.000" {
		t.Errorf("Price = %q", first.Price)
	}
	if first.Location != "São Paulo, SP" {
		t.Errorf("Location = %q", first.Location)
	}
	if first.ImageURL != "https://cdn.example.test/1001.jpg" {
		t.Errorf("ImageURL = %q", first.ImageURL)
	}

	if cs[1].Title != "Listing - R$ 45.500" {
		t.Errorf("fallback title from price = %q", cs[1].Title)
	}
	if cs[2].Title != "Listing #1003" {
		t.Errorf("fallback title from id = %q", cs[2].Title)
	}
}

func TestExtractCandidates_Limit(t *testing.T) {
	cs, err := ExtractCandidates(strings.NewReader(searchPage), "https://www.facebook.com/", Options{}, 1)
	if err != nil {
		t.Fatal(err)
	}
	if len(cs) != 1 {
		t.Errorf("expected limit of 1, got %d", len(cs))
	}
}

func TestSearchURL(t *testing.T) {
	got := SearchURL(DefaultURLTemplate, "honda civic", "saopaulo")
	want := "https://www.facebook.com/marketplace/saopaulo/search?query=honda+civic&sortBy=creation_time_descend&exact=false"
	if got != want {
		t.Errorf("SearchURL = %q\nwant %q", got, want)
	}
}

func TestIsLoginURL(t *testing.T) {
	tests := []struct {
		url  string
		want bool
	}{
		{"https://www.facebook.com/login/?next=x", true},
		{"https://www.facebook.com/marketplace/saopaulo/search?query=login", false},
		{"https://www.facebook.com/marketplace/saopaulo", false},
	}
	for _, tt := range tests {
		if got := isLoginURL(tt.url); got != tt.want {
			t.Errorf("isLoginURL(%q) = %v, want %v", tt.url, got, tt.want)
		}
	}
}
