package scraper

import (
	"net/url"
	"strings"

	"golang.org/x/net/publicsuffix"
)

// Decision is the outcome of NetworkFilter.Decide.
type Decision int

const (
	Allow Decision = iota
	Block
)

func (d Decision) String() string {
	if d == Block {
		return "block"
	}
	return "allow"
}

// FilterRules configures a NetworkFilter.
type FilterRules struct {
	// BlockedTypes are resource types ("image", "stylesheet", ...), matched
	// case-insensitively against the browser's resource type.
	BlockedTypes []string

	// BlockedPatterns are plain substrings; any match in the URL blocks.
	BlockedPatterns []string

	// BlockAds also blocks requests to well-known ad and tracking hosts.
	BlockAds bool
}

// NetworkFilter decides whether an outgoing page request may reach the
// network. It holds no mutable state and is safe for concurrent use.
type NetworkFilter struct {
	types    map[string]struct{}
	patterns []string
	blockAds bool
}

// NewNetworkFilter builds an O(1) type lookup from rules.
func NewNetworkFilter(rules FilterRules) *NetworkFilter {
	types := make(map[string]struct{}, len(rules.BlockedTypes))
	for _, t := range rules.BlockedTypes {
		if t = strings.ToLower(strings.TrimSpace(t)); t != "" {
			types[t] = struct{}{}
		}
	}
	patterns := make([]string, 0, len(rules.BlockedPatterns))
	for _, p := range rules.BlockedPatterns {
		if p != "" {
			patterns = append(patterns, p)
		}
	}
	return &NetworkFilter{types: types, patterns: patterns, blockAds: rules.BlockAds}
}

// Decide blocks when the resource type is blocked OR the URL contains a
// blocked pattern (OR, with BlockAds, targets an ad host). The three rules
// are independent.
func (f *NetworkFilter) Decide(resourceType, rawURL string) Decision {
	if _, ok := f.types[strings.ToLower(resourceType)]; ok {
		return Block
	}
	for _, p := range f.patterns {
		if strings.Contains(rawURL, p) {
			return Block
		}
	}
	if f.blockAds && rawURL != "" {
		if u, err := url.Parse(rawURL); err == nil && isAdDomain(u.Hostname()) {
			return Block
		}
	}
	return Allow
}

// adDomains is a set of well-known ad and tracking domains blocked when
// BlockAds is enabled.
var adDomains = map[string]struct{}{
	"doubleclick.net":       {},
	"googlesyndication.com": {},
	"googleadservices.com":  {},
	"google-analytics.com":  {},
	"googletagmanager.com":  {},
	"googletagservices.com": {},
	"facebook.net":          {},
	"adnxs.com":             {},
	"adsrvr.org":            {},
	"amazon-adsystem.com":   {},
	"criteo.com":            {},
	"criteo.net":            {},
	"outbrain.com":          {},
	"taboola.com":           {},
	"moatads.com":           {},
	"pubmatic.com":          {},
	"rubiconproject.com":    {},
	"scorecardresearch.com": {},
	"quantserve.com":        {},
	"hotjar.com":            {},
	"mixpanel.com":          {},
	"segment.io":            {},
	"chartbeat.com":         {},
	"optimizely.com":        {},
	"openx.net":             {},
	"casalemedia.com":       {},
	"demdex.net":            {},
	"krxd.net":              {},
	"bluekai.com":           {},
	"intergient.com":        {},
}

// isAdDomain checks a hostname and its registrable domain (eTLD+1)
// against the ad blocklist.
func isAdDomain(host string) bool {
	host = strings.ToLower(strings.TrimSuffix(host, "."))
	if host == "" {
		return false
	}
	if _, ok := adDomains[host]; ok {
		return true
	}
	root, err := publicsuffix.EffectiveTLDPlusOne(host)
	if err != nil {
		return false
	}
	_, ok := adDomains[root]
	return ok
}
