// Package credential issues and verifies attendee credentials.
//
// A credential has two forms.  The stored identifier is a four-part
// string `version:deterministic:random:signature` that is kept in the
// database and may be typed in by an operator.  The presentable token is
// an encrypted, signed and expiring JSON payload that wraps the stored
// identifier and is rendered as a QR code.
package credential

import (
	"crypto/cipher"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"time"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/pbkdf2"

	"github.com/iliyamo/event-credentials/internal/apperrors"
)

// Defaults applied by Config.withDefaults.  The KDF salt and iteration
// count are fixed unless a deployment overrides them; a shared salt means
// every deployment using the same secret derives the same key.
const (
	DefaultVersion       = "v1"
	DefaultTokenTTL      = 24 * time.Hour
	DefaultKDFSalt       = "event-credential-salt"
	DefaultKDFIterations = 100000

	minSecretLen  = 16
	detHexLen     = 16 // truncated HMAC of email|name|issueTime
	randomIDBytes = 8  // random component of the stored identifier
	idSigHexLen   = 16 // truncated HMAC of version:det:rand
	nonceBytes    = 16 // token nonce
)

// Config holds the shared event secret and the parameters derived from it.
type Config struct {
	Secret        []byte
	Version       string
	TokenTTL      time.Duration
	KDFSalt       string
	KDFIterations int
}

func (c Config) withDefaults() Config {
	if c.Version == "" {
		c.Version = DefaultVersion
	}
	if c.TokenTTL <= 0 {
		c.TokenTTL = DefaultTokenTTL
	}
	if c.KDFSalt == "" {
		c.KDFSalt = DefaultKDFSalt
	}
	if c.KDFIterations <= 0 {
		c.KDFIterations = DefaultKDFIterations
	}
	return c
}

// Option customises an Issuer or Verifier.
type Option func(*options)

type options struct {
	now  func() time.Time
	rand io.Reader
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// WithRandom overrides the source of random bytes.
func WithRandom(r io.Reader) Option {
	return func(o *options) { o.rand = r }
}

func buildOptions(opts []Option) options {
	o := options{now: time.Now, rand: rand.Reader}
	for _, fn := range opts {
		fn(&o)
	}
	return o
}

// keyring holds the material derived from the shared secret.  It is
// read-only after construction and safe for concurrent use.
type keyring struct {
	cfg  Config
	mac  []byte
	aead cipher.AEAD
}

func newKeyring(cfg Config) (*keyring, error) {
	cfg = cfg.withDefaults()
	if len(cfg.Secret) < minSecretLen {
		return nil, apperrors.Newf(apperrors.CodeValidation, "credential secret must be at least %d bytes", minSecretLen)
	}
	key := pbkdf2.Key(cfg.Secret, []byte(cfg.KDFSalt), cfg.KDFIterations, chacha20poly1305.KeySize, sha256.New)
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeValidation, "init token cipher")
	}
	mac := make([]byte, len(cfg.Secret))
	copy(mac, cfg.Secret)
	return &keyring{cfg: cfg, mac: mac, aead: aead}, nil
}

// sum returns the hex HMAC-SHA256 of data, truncated to n hex characters
// when n > 0.
func (k *keyring) sum(data string, n int) string {
	h := hmac.New(sha256.New, k.mac)
	h.Write([]byte(data))
	out := hex.EncodeToString(h.Sum(nil))
	if n > 0 && n < len(out) {
		return out[:n]
	}
	return out
}

// randomHex returns n random bytes from r, hex encoded.
func randomHex(r io.Reader, n int) (string, error) {
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}

// New builds an Issuer and a Verifier that share one derived key.  Key
// derivation is deliberately slow, so long-lived processes should call
// this once at startup.
func New(cfg Config, opts ...Option) (*Issuer, *Verifier, error) {
	k, err := newKeyring(cfg)
	if err != nil {
		return nil, nil, err
	}
	o := buildOptions(opts)
	return &Issuer{keys: k, opts: o}, &Verifier{keys: k, opts: o}, nil
}
