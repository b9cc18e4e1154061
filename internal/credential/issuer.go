package credential

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/iliyamo/event-credentials/internal/apperrors"
)

// Issuer mints stored identifiers and presentable tokens.
type Issuer struct {
	keys *keyring
	opts options
}

// NewIssuer derives the key material from cfg.  Use New when a Verifier
// is needed as well.
func NewIssuer(cfg Config, opts ...Option) (*Issuer, error) {
	k, err := newKeyring(cfg)
	if err != nil {
		return nil, err
	}
	return &Issuer{keys: k, opts: buildOptions(opts)}, nil
}

// Credential is the result of issuing a credential for one attendee.
type Credential struct {
	ID    string // stored identifier, safe to persist
	Token Token  // presentable token, never persisted
}

// Token is an encrypted presentable token and its expiry.
type Token struct {
	Value     string    `json:"value"`
	ExpiresAt time.Time `json:"expires_at"`
}

// signedFields is the canonical serialisation covered by the token
// signature.  Field order is fixed by the struct definition.
type signedFields struct {
	ID    string `json:"id"`
	Exp   int64  `json:"exp"`
	Nonce string `json:"nonce"`
}

// payload is the plaintext of a token before encryption.
type payload struct {
	ID    string `json:"id"`
	Exp   int64  `json:"exp"`
	Nonce string `json:"nonce"`
	Sig   string `json:"sig"`
}

func (k *keyring) signPayload(id string, exp int64, nonce string) (string, error) {
	b, err := json.Marshal(signedFields{ID: id, Exp: exp, Nonce: nonce})
	if err != nil {
		return "", err
	}
	return k.sum(string(b), 0), nil
}

// Issue mints a stored identifier for the attendee and seals a token
// around it.
func (i *Issuer) Issue(email, name string) (Credential, error) {
	id, err := i.MintID(email, name, i.opts.now())
	if err != nil {
		return Credential{}, err
	}
	tok, err := i.SealToken(id)
	if err != nil {
		return Credential{}, err
	}
	return Credential{ID: id, Token: tok}, nil
}

// MintID builds `version:det:rand:sig`.  det is reproducible from the
// identity fields and issue time; rand makes the identifier unguessable
// from those fields alone.
func (i *Issuer) MintID(email, name string, at time.Time) (string, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	name = strings.TrimSpace(name)
	if email == "" || name == "" {
		return "", apperrors.New(apperrors.CodeValidation, "email and name are required to mint a credential")
	}
	det := i.keys.sum(fmt.Sprintf("%s|%s|%d", email, name, at.UnixMilli()), detHexLen)
	rnd, err := randomHex(i.opts.rand, randomIDBytes)
	if err != nil {
		return "", apperrors.Wrap(err, apperrors.CodeCredential, "read random bytes")
	}
	raw := i.keys.cfg.Version + ":" + det + ":" + rnd
	return raw + ":" + i.keys.sum(raw, idSigHexLen), nil
}

// SealToken wraps id in a fresh token valid for the configured TTL.  Each
// call uses a new nonce, so tokens for the same identifier are unlinkable.
func (i *Issuer) SealToken(id string) (Token, error) {
	if id == "" {
		return Token{}, apperrors.New(apperrors.CodeValidation, "credential id is required")
	}
	exp := i.opts.now().Add(i.keys.cfg.TokenTTL)
	nonce, err := randomHex(i.opts.rand, nonceBytes)
	if err != nil {
		return Token{}, apperrors.Wrap(err, apperrors.CodeCredential, "read random bytes")
	}
	expMs := exp.UnixMilli()
	sig, err := i.keys.signPayload(id, expMs, nonce)
	if err != nil {
		return Token{}, apperrors.Wrap(err, apperrors.CodeCredential, "sign token")
	}
	plain, err := json.Marshal(payload{ID: id, Exp: expMs, Nonce: nonce, Sig: sig})
	if err != nil {
		return Token{}, apperrors.Wrap(err, apperrors.CodeCredential, "encode token")
	}

	aeadNonce := make([]byte, i.keys.aead.NonceSize(), i.keys.aead.NonceSize()+len(plain)+i.keys.aead.Overhead())
	if _, err := io.ReadFull(i.opts.rand, aeadNonce); err != nil {
		return Token{}, apperrors.Wrap(err, apperrors.CodeCredential, "read random bytes")
	}
	sealed := i.keys.aead.Seal(aeadNonce, aeadNonce, plain, nil)
	return Token{
		Value:     base64.RawURLEncoding.EncodeToString(sealed),
		ExpiresAt: time.UnixMilli(expMs).UTC(),
	}, nil
}

// TokenTTL returns the configured validity window.
func (i *Issuer) TokenTTL() time.Duration { return i.keys.cfg.TokenTTL }
