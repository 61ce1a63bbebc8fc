package middleware

import (
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/fxamacker/cbor/v2"
	"golang.org/x/crypto/chacha20poly1305"
)

var (
	ErrCookieFormat  = errors.New("middleware: malformed cookie")
	ErrCookieInvalid = errors.New("middleware: cookie failed authentication")
	ErrCookieConfig  = errors.New("middleware: invalid cookie sealer configuration")
)

// maxCookieLen bounds the cookie value accepted by Open.
const maxCookieLen = 8192

// KeySize is the key length CookieSealer expects.
const KeySize = chacha20poly1305.KeySize

// CookieSealer seals values into authenticated, encrypted cookies.
//
// A sealed value reads keyID "." base64url(nonce || ciphertext). Values are
// encoded with CBOR and sealed with XChaCha20-Poly1305; the cookie name,
// path and secure flag are bound as additional data. Keys holds every key
// accepted by Open; KeyID selects the key used by Seal.
type CookieSealer struct {
	name   string
	path   string
	secure bool
	keyID  string
	aeads  map[string]cipher.AEAD
}

// CookieOption configures a CookieSealer.
type CookieOption func(*CookieSealer)

// WithCookiePath sets the cookie path. The default is "/".
func WithCookiePath(path string) CookieOption {
	return func(c *CookieSealer) {
		c.path = path
	}
}

// WithInsecureCookie drops the Secure attribute, for plain HTTP during
// development.
func WithInsecureCookie() CookieOption {
	return func(c *CookieSealer) {
		c.secure = false
	}
}

// NewCookieSealer returns a sealer for cookies named name.
func NewCookieSealer(name, keyID string, keys map[string][]byte, opts ...CookieOption) (*CookieSealer, error) {
	if name == "" {
		return nil, fmt.Errorf("%w: empty cookie name", ErrCookieConfig)
	}
	if _, ok := keys[keyID]; !ok {
		return nil, fmt.Errorf("%w: key %q not found", ErrCookieConfig, keyID)
	}
	c := &CookieSealer{
		name:   name,
		path:   "/",
		secure: true,
		keyID:  keyID,
		aeads:  make(map[string]cipher.AEAD, len(keys)),
	}
	for id, key := range keys {
		if strings.Contains(id, ".") {
			return nil, fmt.Errorf("%w: key id %q contains '.'", ErrCookieConfig, id)
		}
		aead, err := chacha20poly1305.NewX(key)
		if err != nil {
			return nil, fmt.Errorf("%w: key %q: %v", ErrCookieConfig, id, err)
		}
		c.aeads[id] = aead
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.path == "" {
		c.path = "/"
	}
	return c, nil
}

// Name returns the cookie name.
func (c *CookieSealer) Name() string { return c.name }

func (c *CookieSealer) aad() []byte {
	secure := "f"
	if c.secure {
		secure = "t"
	}
	return []byte(c.name + ":" + c.path + ":" + secure)
}

// Seal encodes v into a cookie that expires after maxAge.
func (c *CookieSealer) Seal(v any, maxAge time.Duration) (*http.Cookie, error) {
	seconds := int(maxAge / time.Second)
	if seconds <= 0 {
		return nil, fmt.Errorf("%w: non-positive max age", ErrCookieConfig)
	}
	plain, err := cbor.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("middleware: encode cookie: %w", err)
	}

	aead := c.aeads[c.keyID]
	nonce := make([]byte, aead.NonceSize(), aead.NonceSize()+len(plain)+aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return nil, err
	}
	sealed := aead.Seal(nonce, nonce, plain, c.aad())

	return &http.Cookie{
		Name:     c.name,
		Value:    c.keyID + "." + base64.RawURLEncoding.EncodeToString(sealed),
		Path:     c.path,
		MaxAge:   seconds,
		Expires:  time.Now().Add(time.Duration(seconds) * time.Second),
		Secure:   c.secure,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	}, nil
}

// Open authenticates cookie and decodes its value into v.
func (c *CookieSealer) Open(cookie *http.Cookie, v any) error {
	if cookie == nil || cookie.Value == "" || len(cookie.Value) > maxCookieLen {
		return ErrCookieFormat
	}
	keyID, encoded, ok := strings.Cut(cookie.Value, ".")
	if !ok || keyID == "" || encoded == "" {
		return ErrCookieFormat
	}
	aead, ok := c.aeads[keyID]
	if !ok {
		return ErrCookieInvalid
	}
	sealed, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil || len(sealed) < aead.NonceSize()+aead.Overhead() {
		return ErrCookieFormat
	}
	nonce, ciphertext := sealed[:aead.NonceSize()], sealed[aead.NonceSize():]
	plain, err := aead.Open(nil, nonce, ciphertext, c.aad())
	if err != nil {
		return ErrCookieInvalid
	}
	if err := cbor.Unmarshal(plain, v); err != nil {
		return fmt.Errorf("%w: %v", ErrCookieFormat, err)
	}
	return nil
}

// Expire returns a cookie that removes this cookie from the client.
func (c *CookieSealer) Expire() *http.Cookie {
	return &http.Cookie{
		Name:     c.name,
		Path:     c.path,
		MaxAge:   -1,
		Expires:  time.Unix(0, 0),
		Secure:   c.secure,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	}
}
