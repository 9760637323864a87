package core

import (
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustKey(t *testing.T, r *Request) string {
	t.Helper()
	key, err := CacheKey(r)
	require.NoError(t, err)
	return key
}

func TestCacheKeyIgnoresParameterOrder(t *testing.T) {
	cases := []struct {
		name string
		a, b *Request
	}{
		{
			name: "query order across base url and params",
			a:    &Request{BaseURL: "https://API.example.com/v1?b=2&a=1"},
			b:    &Request{BaseURL: "https://api.example.com", Path: "/v1", Query: url.Values{"a": {"1"}, "b": {"2"}}},
		},
		{
			name: "repeated keys",
			a:    &Request{BaseURL: "https://api.example.com", Query: url.Values{"tag": {"x", "y", "x"}}},
			b:    &Request{BaseURL: "https://api.example.com", Query: url.Values{"tag": {"x", "x", "y"}}},
		},
		{
			name: "list parameter inner order",
			a: &Request{
				BaseURL:    "https://api.example.com",
				Query:      url.Values{"fields": {"stars,name,id"}},
				ListParams: []string{"fields"},
			},
			b: &Request{
				BaseURL:    "https://api.example.com",
				Query:      url.Values{"fields": {"id, name ,stars"}},
				ListParams: []string{"fields"},
			},
		},
		{
			name: "fragment dropped",
			a:    &Request{BaseURL: "https://api.example.com/v1#top"},
			b:    &Request{BaseURL: "https://api.example.com/v1"},
		},
		{
			name: "empty method is GET",
			a:    &Request{BaseURL: "https://api.example.com"},
			b:    &Request{BaseURL: "https://api.example.com", Method: MethodGet},
		},
		{
			name: "header name case and order",
			a:    &Request{BaseURL: "https://api.example.com", Headers: map[string]string{"authorization": "Bearer a", "Accept": "application/json"}},
			b:    &Request{BaseURL: "https://api.example.com", Headers: map[string]string{"Accept": "application/json", "Authorization": " Bearer a"}},
		},
		{
			name: "form body field order",
			a:    &Request{BaseURL: "https://api.example.com", Method: MethodPost, Body: Body{Form: map[string]string{"a": "1", "b": "2"}}},
			b:    &Request{BaseURL: "https://api.example.com", Method: MethodPost, Body: Body{Form: map[string]string{"b": "2", "a": "1"}}},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, mustKey(t, tc.a), mustKey(t, tc.b))
		})
	}
}

func TestCacheKeySeparatesDistinctRequests(t *testing.T) {
	base := func() *Request {
		return &Request{BaseURL: "https://api.example.com", Path: "/v1", Query: url.Values{"fields": {"b,a"}}}
	}

	listed := base()
	listed.ListParams = []string{"fields"}
	post := base()
	post.Method = MethodPost
	withBody := base()
	withBody.Body = Body{Raw: []byte(`{"q":1}`)}
	otherBody := base()
	otherBody.Body = Body{Raw: []byte(`{"q":2}`)}
	alice := base()
	alice.Headers = map[string]string{"Authorization": "Bearer alice"}
	bob := base()
	bob.Headers = map[string]string{"Authorization": "Bearer bob"}

	keys := map[string]string{}
	for name, r := range map[string]*Request{
		"plain": base(), "listed": listed, "post": post,
		"body": withBody, "other body": otherBody, "alice": alice, "bob": bob,
	} {
		key := mustKey(t, r)
		for other, seen := range keys {
			require.NotEqual(t, seen, key, "%s collides with %s", name, other)
		}
		keys[name] = key
	}

	assert.Equal(t, "GET https://api.example.com/v1?fields=b%2Ca", keys["plain"])
	assert.Equal(t, "GET https://api.example.com/v1?fields=a%2Cb", keys["listed"])
	assert.True(t, strings.HasPrefix(keys["alice"], keys["plain"]+"#h="))
}

func TestCacheKeyRejectsInvalidURL(t *testing.T) {
	_, err := CacheKey(&Request{Path: "/v1"})
	require.Error(t, err)
}

func TestNormalizeKeyMatchesCacheKey(t *testing.T) {
	r := &Request{BaseURL: "https://api.example.com", Path: "/v1", Query: url.Values{"b": {"2"}, "a": {"1"}}}

	normalized, err := NormalizeKey(" get HTTPS://Api.Example.com/v1?b=2&a=1#0123abcd ", nil)
	require.NoError(t, err)
	assert.Equal(t, "GET https://api.example.com/v1?a=1&b=2#0123abcd", normalized)

	normalized, err = NormalizeKey("GET https://api.example.com/v1?b=2&a=1", nil)
	require.NoError(t, err)
	assert.Equal(t, mustKey(t, r), normalized)

	_, err = NormalizeKey("https://api.example.com/v1", nil)
	require.Error(t, err)
}

func TestNormalizeURL(t *testing.T) {
	normalized, err := NormalizeURL("https://api.example.com/v1?fields=b,a&q=x#frag", []string{"fields"})
	require.NoError(t, err)
	assert.Equal(t, "https://api.example.com/v1?fields=a%2Cb&q=x", normalized)

	_, err = NormalizeURL("://bad", nil)
	require.Error(t, err)
}
