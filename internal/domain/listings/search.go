package listings

import (
	"regexp"
	"strings"
)

const maxSearchLimit = 100

// SearchParams describe browse filters. An empty Status means active listings only.
type SearchParams struct {
	Type     ListingType
	Category string
	Query    string
	Status   ListingStatus
	MinPrice *float64
	MaxPrice *float64
	OwnerID  string
	Limit    int
}

// Normalized returns a sanitized copy of params.
func (p SearchParams) Normalized() SearchParams {
	n := p
	n.Type = ListingType(strings.ToLower(strings.TrimSpace(string(n.Type))))
	n.Category = strings.TrimSpace(n.Category)
	n.Query = strings.TrimSpace(n.Query)
	n.Status = ListingStatus(strings.ToLower(strings.TrimSpace(string(n.Status))))
	if n.Status == "" {
		n.Status = StatusActive
	}
	if n.Limit <= 0 || n.Limit > maxSearchLimit {
		n.Limit = maxSearchLimit
	}
	return n
}

// QueryPattern compiles the free-text filter as a literal, case-insensitive match.
func (p SearchParams) QueryPattern() *regexp.Regexp {
	q := strings.TrimSpace(p.Query)
	if q == "" {
		return nil
	}
	return regexp.MustCompile("(?i)" + regexp.QuoteMeta(q))
}

// Matches applies the filters to one listing; used by stores without native querying.
func (p SearchParams) Matches(l *Listing, pattern *regexp.Regexp) bool {
	if l == nil {
		return false
	}
	if p.Status != "" && l.Status != p.Status {
		return false
	}
	if p.Type != "" && l.Type != p.Type {
		return false
	}
	if p.Category != "" && l.Category != p.Category {
		return false
	}
	if p.OwnerID != "" && l.OwnerID != p.OwnerID {
		return false
	}
	if p.MinPrice != nil && l.Price < *p.MinPrice {
		return false
	}
	if p.MaxPrice != nil && l.Price > *p.MaxPrice {
		return false
	}
	if pattern != nil {
		if pattern.MatchString(l.Title) || pattern.MatchString(l.Description) {
			return true
		}
		for _, tag := range l.Tags {
			if pattern.MatchString(tag) {
				return true
			}
		}
		return false
	}
	return true
}
