package credential

import "strings"

// Presentation is how an attendee's identity reaches the ledger.  It is a
// closed set: Scanned requires full cryptographic verification, Manual
// only an existence lookup.  Call sites switch on the concrete type so a
// manual entry can never be mistaken for a verified scan.
type Presentation interface {
	presentation()
}

// Scanned carries an encrypted token read from a QR code.
type Scanned struct {
	Token string
}

// Manual carries an identifier or email typed in by a staff member.
type Manual struct {
	Identifier string
}

func (Scanned) presentation() {}
func (Manual) presentation()  {}

// IsEmail reports whether the manual entry looks like an email address
// rather than a stored identifier.
func (m Manual) IsEmail() bool { return strings.Contains(m.Identifier, "@") }

// Normalized returns the trimmed identifier, lower-cased for emails.
func (m Manual) Normalized() string {
	s := strings.TrimSpace(m.Identifier)
	if m.IsEmail() {
		return strings.ToLower(s)
	}
	return s
}
