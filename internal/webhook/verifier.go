// Package webhook authenticates payment provider callbacks.
package webhook

import (
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"errors"
	"strings"
)

type Reason string

const (
	ReasonNone             Reason = ""
	ReasonConfigMissing    Reason = "ConfigMissing"
	ReasonHeaderMissing    Reason = "HeaderMissing"
	ReasonMismatch         Reason = "Mismatch"
	ReasonComparisonFailed Reason = "ComparisonFailed"
)

var (
	ErrConfigMissing    = errors.New("webhook secret not configured")
	ErrSignatureMissing = errors.New("webhook signature missing")
	ErrMismatch         = errors.New("webhook signature mismatch")
	ErrComparisonFailed = errors.New("webhook signature could not be compared")
)

type Verification struct {
	Valid  bool
	Reason Reason
}

func (v Verification) Err() error {
	switch v.Reason {
	case ReasonNone:
		return nil
	case ReasonConfigMissing:
		return ErrConfigMissing
	case ReasonHeaderMissing:
		return ErrSignatureMissing
	case ReasonMismatch:
		return ErrMismatch
	default:
		return ErrComparisonFailed
	}
}

type Verifier struct {
	secret []byte
}

func NewVerifier(secret string) *Verifier {
	return &Verifier{secret: []byte(strings.TrimSpace(secret))}
}

func (v *Verifier) Configured() bool {
	return v != nil && len(v.secret) > 0
}

// Verify checks signature against tx. It is fail-closed: a missing secret
// rejects every call before the signature is looked at.
func (v *Verifier) Verify(tx *Transaction, signature string) Verification {
	if !v.Configured() {
		return Verification{Reason: ReasonConfigMissing}
	}
	signature = strings.TrimSpace(signature)
	if signature == "" {
		return Verification{Reason: ReasonHeaderMissing}
	}
	if tx == nil {
		return Verification{Reason: ReasonComparisonFailed}
	}

	supplied, err := hex.DecodeString(signature)
	if err != nil || len(supplied) != sha512.Size {
		return Verification{Reason: ReasonComparisonFailed}
	}

	if !hmac.Equal(supplied, v.digest(tx)) {
		return Verification{Reason: ReasonMismatch}
	}
	return Verification{Valid: true}
}

// Sign returns the hex signature the provider would attach to tx.
func (v *Verifier) Sign(tx *Transaction) string {
	return hex.EncodeToString(v.digest(tx))
}

func (v *Verifier) digest(tx *Transaction) []byte {
	mac := hmac.New(sha512.New, v.secret)
	mac.Write([]byte(tx.signatureBase()))
	return mac.Sum(nil)
}
