package core

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strings"
)

// CacheKey returns the normalized cache key for a request: method plus URL with
// query parameters sorted. Parameters listed in ListParams have their
// comma-separated values sorted as well. A body and any request headers add
// short digests after the URL, so requests made with different credentials
// never share an entry.
func CacheKey(r *Request) (string, error) {
	target, err := r.URL()
	if err != nil {
		return "", err
	}

	method := r.Method
	if method == "" {
		method = MethodGet
	}

	key := string(method) + " " + normalizeTarget(*target, r.ListParams)
	if payload := r.Body.Bytes(); len(payload) > 0 {
		key += "#" + digest(payload)
	}
	if len(r.Headers) > 0 {
		key += "#h=" + digest([]byte(canonicalHeaders(r.Headers)))
	}
	return key, nil
}

// NormalizeURL normalizes raw the same way CacheKey normalizes a request URL.
func NormalizeURL(raw string, listParams []string) (string, error) {
	parsed, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return "", err
	}
	return normalizeTarget(*parsed, listParams), nil
}

// NormalizeKey rewrites a hand-written "METHOD URL" key into CacheKey form.
// Digest suffixes are kept as given.
func NormalizeKey(key string, listParams []string) (string, error) {
	method, rest, ok := strings.Cut(strings.TrimSpace(key), " ")
	if !ok {
		return "", fmt.Errorf("cache key %q must be \"METHOD URL\"", key)
	}
	rawURL, suffix, _ := strings.Cut(strings.TrimSpace(rest), "#")
	normalized, err := NormalizeURL(rawURL, listParams)
	if err != nil {
		return "", err
	}
	if suffix != "" {
		normalized += "#" + suffix
	}
	return strings.ToUpper(method) + " " + normalized, nil
}

func normalizeTarget(target url.URL, listParams []string) string {
	target.Host = strings.ToLower(target.Host)
	target.Scheme = strings.ToLower(target.Scheme)
	target.Fragment = ""
	target.RawFragment = ""
	target.RawQuery = normalizeQuery(target.Query(), listParams)
	return target.String()
}

func canonicalHeaders(headers map[string]string) string {
	lines := make([]string, 0, len(headers))
	for name, value := range headers {
		lines = append(lines, http.CanonicalHeaderKey(strings.TrimSpace(name))+":"+strings.TrimSpace(value))
	}
	sort.Strings(lines)
	return strings.Join(lines, "\n")
}

func digest(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:8])
}

func normalizeQuery(query url.Values, listParams []string) string {
	if len(query) == 0 {
		return ""
	}

	lists := make(map[string]struct{}, len(listParams))
	for _, name := range listParams {
		lists[strings.TrimSpace(name)] = struct{}{}
	}

	keys := make([]string, 0, len(query))
	for key := range query {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	var b strings.Builder
	for _, key := range keys {
		values := append([]string(nil), query[key]...)
		if _, ok := lists[key]; ok {
			for i, value := range values {
				values[i] = sortList(value)
			}
		}
		sort.Strings(values)
		for _, value := range values {
			if b.Len() > 0 {
				b.WriteByte('&')
			}
			b.WriteString(url.QueryEscape(key))
			b.WriteByte('=')
			b.WriteString(url.QueryEscape(value))
		}
	}
	return b.String()
}

func sortList(value string) string {
	parts := strings.Split(value, ",")
	for i, part := range parts {
		parts[i] = strings.TrimSpace(part)
	}
	sort.Strings(parts)
	return strings.Join(parts, ",")
}
