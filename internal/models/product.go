package models

import (
	"net/url"
	"strings"
)

// Product is a catalog entry eligible for promotion. PerfScore is denormalized from
// product_performance when loaded for selection.
type Product struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Description string   `json:"description,omitempty"`
	Price       float64  `json:"price"`
	ImageURL    string   `json:"image_url"`
	Category    string   `json:"category,omitempty"`
	SellingPt   string   `json:"selling_point,omitempty"`
	IsActive    bool     `json:"is_active"`
	Stock       int      `json:"stock"`
	IsFlagship  bool     `json:"is_flagship"`
	PerfScore   *float64 `json:"perf_score,omitempty"`
}

// Score returns the cumulative performance score, treating a missing score as zero.
func (p Product) Score() float64 {
	if p.PerfScore == nil {
		return 0
	}
	return *p.PerfScore
}

// HasValidImage reports whether ImageURL is an absolute http(s) URL.
func (p Product) HasValidImage() bool {
	return IsAbsoluteHTTPURL(p.ImageURL)
}

// IsAbsoluteHTTPURL reports whether v parses as an http or https URL with a host.
func IsAbsoluteHTTPURL(v string) bool {
	if !strings.HasPrefix(v, "http://") && !strings.HasPrefix(v, "https://") {
		return false
	}
	u, err := url.Parse(v)
	if err != nil {
		return false
	}
	return u.Host != ""
}
