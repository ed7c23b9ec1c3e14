package scraper

// Target identifies the response to capture.
type Target struct {
	URL    string
	Method string
}

// ResponseMatcher selects the target payload among page responses.
type ResponseMatcher struct {
	target Target
}

// NewResponseMatcher returns a matcher for t.
func NewResponseMatcher(t Target) ResponseMatcher {
	return ResponseMatcher{target: t}
}

// Matches reports whether a response to method at url is the target.
// Both comparisons are exact and case-sensitive.
func (m ResponseMatcher) Matches(url, method string) bool {
	return url == m.target.URL && method == m.target.Method
}

// Target returns the matched {URL, Method}.
func (m ResponseMatcher) Target() Target { return m.target }
