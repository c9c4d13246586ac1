// Package jwks fetches and caches JSON Web Key Sets for
// discovery-signed-token authentication, resolving a token's kid header to
// an RSA public key.
package jwks

import (
	"context"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/toolgateway/gatekeeper/internal/domain/auth"
)

const cacheTTL = time.Hour

type jsonWebKey struct {
	Kty string `json:"kty"`
	Kid string `json:"kid"`
	N   string `json:"n"`
	E   string `json:"e"`
}

type keySet struct {
	Keys []jsonWebKey `json:"keys"`
}

type cacheEntry struct {
	fetchedAt time.Time
	keys      map[string]*rsa.PublicKey
}

// Client fetches and caches JWKS documents keyed by URL, with a one-hour
// in-process cache so every request doesn't round-trip to the discovery
// endpoint.
type Client struct {
	httpClient *http.Client

	mu    sync.Mutex
	cache map[string]*cacheEntry
}

// NewClient builds a Client using the given HTTP client, or
// http.DefaultClient when nil.
func NewClient(httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{httpClient: httpClient, cache: make(map[string]*cacheEntry)}
}

// DiscoveryURL derives a JWKS endpoint from an OpenID Connect issuer, unless
// an explicit URL override is given.
func DiscoveryURL(issuer, explicit string) string {
	if explicit != "" {
		return explicit
	}
	return strings.TrimRight(issuer, "/") + "/.well-known/jwks.json"
}

// Resolver returns an auth.KeyResolver that selects the RSA public key
// matching the token's kid header, fetching the given URL and caching it
// for an hour. It implements auth.DiscoveryResolver.
func (c *Client) Resolver(url string) auth.KeyResolver {
	return func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodRSA); !ok {
			return nil, fmt.Errorf("jwks: unexpected signing method %v", token.Method.Alg())
		}
		kid, _ := token.Header["kid"].(string)
		if kid == "" {
			return nil, fmt.Errorf("jwks: token missing kid header")
		}
		keys, err := c.keysFor(context.Background(), url)
		if err != nil {
			return nil, err
		}
		key, ok := keys[kid]
		if !ok {
			return nil, fmt.Errorf("jwks: no key for kid %q", kid)
		}
		return key, nil
	}
}

func (c *Client) keysFor(ctx context.Context, url string) (map[string]*rsa.PublicKey, error) {
	c.mu.Lock()
	entry, ok := c.cache[url]
	c.mu.Unlock()
	if ok && time.Since(entry.fetchedAt) < cacheTTL {
		return entry.keys, nil
	}

	keys, err := c.fetch(ctx, url)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.cache[url] = &cacheEntry{fetchedAt: time.Now(), keys: keys}
	c.mu.Unlock()
	return keys, nil
}

func (c *Client) fetch(ctx context.Context, url string) (map[string]*rsa.PublicKey, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("jwks: build request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("jwks: fetch %s: %w", url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("jwks: fetch %s: status %d", url, resp.StatusCode)
	}

	var set keySet
	if err := json.NewDecoder(resp.Body).Decode(&set); err != nil {
		return nil, fmt.Errorf("jwks: decode %s: %w", url, err)
	}

	keys := make(map[string]*rsa.PublicKey, len(set.Keys))
	for _, k := range set.Keys {
		if k.Kty != "RSA" || k.Kid == "" {
			continue
		}
		pub, err := rsaPublicKeyFromJWK(k)
		if err != nil {
			continue
		}
		keys[k.Kid] = pub
	}
	return keys, nil
}

func rsaPublicKeyFromJWK(k jsonWebKey) (*rsa.PublicKey, error) {
	nBytes, err := base64.RawURLEncoding.DecodeString(k.N)
	if err != nil {
		return nil, fmt.Errorf("jwks: decode modulus: %w", err)
	}
	eBytes, err := base64.RawURLEncoding.DecodeString(k.E)
	if err != nil {
		return nil, fmt.Errorf("jwks: decode exponent: %w", err)
	}
	e := new(big.Int).SetBytes(eBytes)
	return &rsa.PublicKey{N: new(big.Int).SetBytes(nBytes), E: int(e.Int64())}, nil
}

var _ auth.DiscoveryResolver = (*Client)(nil)
