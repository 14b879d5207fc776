// Package cachekey builds the deterministic cache key used to index the
// distributed response cache: a canonicalized form of the request URL that
// strips client-identifying and non-selecting fields and normalizes the
// remaining version field, so that two requests differing only in those
// fields resolve to the same cached entry.
package cachekey

import (
	"net/url"

	"github.com/vitaliisemenov/codepush-acquisition/internal/version"
)

// droppedFields are removed from the query string before the key is built;
// both the legacy camelCase and new-API snake_case spellings are stripped.
var droppedFields = map[string]bool{
	"clientUniqueId":  true,
	"client_unique_id": true,
	"beta":            true,
	"packageHash":     true,
	"package_hash":    true,
	"label":           true,
}

// Build canonicalizes originalURL into a cache key of the form
// `pathname?stableQueryString`, with a `__cacheSchema=<schema>` field
// appended so a schema-version bump invalidates every existing entry.
func Build(originalURL, schema string) (string, error) {
	u, err := url.Parse(originalURL)
	if err != nil {
		return "", err
	}

	q := u.Query()
	out := url.Values{}
	for key, values := range q {
		if droppedFields[key] {
			continue
		}
		if key == "appVersion" || key == "app_version" {
			for _, v := range values {
				out.Add(key, version.Normalize(v))
			}
			continue
		}
		for _, v := range values {
			out.Add(key, v)
		}
	}
	out.Set("__cacheSchema", schema)

	return u.Path + "?" + out.Encode(), nil
}
