package credential

import (
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"strings"
	"time"

	"github.com/iliyamo/event-credentials/internal/apperrors"
)

// Verifier opens and validates presentable tokens.
type Verifier struct {
	keys *keyring
	opts options
}

// NewVerifier derives the key material from cfg.
func NewVerifier(cfg Config, opts ...Option) (*Verifier, error) {
	k, err := newKeyring(cfg)
	if err != nil {
		return nil, err
	}
	return &Verifier{keys: k, opts: buildOptions(opts)}, nil
}

// Claims is the verified content of a token.
type Claims struct {
	ID        string
	ExpiresAt time.Time
	Nonce     string
}

var (
	errMalformed = apperrors.New(apperrors.CodeCredential, "malformed token")
	errCorrupted = apperrors.New(apperrors.CodeCredential, "corrupted token")
	errSignature = apperrors.New(apperrors.CodeCredential, "invalid signature")
	errExpired   = apperrors.New(apperrors.CodeCredential, "expired")
)

// Verify decrypts token and checks its signature and expiry.  Every
// failure is a credential error; a token that fails authentication never
// resolves to an identifier.
func (v *Verifier) Verify(token string) (Claims, error) {
	raw, err := base64.RawURLEncoding.DecodeString(strings.TrimSpace(token))
	if err != nil {
		return Claims{}, errMalformed
	}
	ns := v.keys.aead.NonceSize()
	if len(raw) < ns+v.keys.aead.Overhead() {
		return Claims{}, errMalformed
	}
	plain, err := v.keys.aead.Open(nil, raw[:ns], raw[ns:], nil)
	if err != nil {
		return Claims{}, errCorrupted
	}

	var p payload
	if err := json.Unmarshal(plain, &p); err != nil || p.ID == "" || p.Sig == "" {
		return Claims{}, errMalformed
	}
	want, err := v.keys.signPayload(p.ID, p.Exp, p.Nonce)
	if err != nil {
		return Claims{}, errMalformed
	}
	if subtle.ConstantTimeCompare([]byte(want), []byte(p.Sig)) != 1 {
		return Claims{}, errSignature
	}
	exp := time.UnixMilli(p.Exp).UTC()
	if !v.opts.now().Before(exp) {
		return Claims{}, errExpired
	}
	return Claims{ID: p.ID, ExpiresAt: exp, Nonce: p.Nonce}, nil
}

// CheckID validates the structure and signature of a stored identifier.
// It does not prove possession; manual entry of an identifier stays an
// operator-trusted path.
func (v *Verifier) CheckID(id string) error {
	parts := strings.Split(id, ":")
	if len(parts) != 4 || parts[0] == "" {
		return apperrors.New(apperrors.CodeCredential, "identifier must have four parts")
	}
	for _, p := range parts[1:] {
		if _, err := hex.DecodeString(p); err != nil || p == "" {
			return apperrors.New(apperrors.CodeCredential, "identifier parts must be hex")
		}
	}
	want := v.keys.sum(strings.Join(parts[:3], ":"), idSigHexLen)
	if subtle.ConstantTimeCompare([]byte(want), []byte(parts[3])) != 1 {
		return errSignature
	}
	return nil
}
