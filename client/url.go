package client

import (
	"net/url"
)

// mergeParams appends params to the URL's query, keeping any existing
// query values.
func mergeParams(rawURL string, params ...map[string]string) string {
	total := 0
	for _, m := range params {
		total += len(m)
	}
	if total == 0 {
		return rawURL
	}

	parsed, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}
	query := parsed.Query()
	for _, m := range params {
		for key, value := range m {
			query.Set(key, value)
		}
	}
	parsed.RawQuery = query.Encode()
	return parsed.String()
}

// resolveRedirect resolves a Location header against the current URL.
// Fragments from the original URL are not carried over.
func resolveRedirect(current *url.URL, location string) (*url.URL, error) {
	ref, err := url.Parse(location)
	if err != nil {
		return nil, err
	}
	next := current.ResolveReference(ref)
	next.Fragment = ""
	return next, nil
}
