// Package messaging sends outbound WhatsApp messages, used by the
// re-engagement scheduler to nudge idle sessions.
package messaging

import (
	"context"
	"fmt"
	"regexp"
	"strings"
)

// Service abstracts the outbound message channel.
type Service interface {
	// ValidateAndCanonicalizeRecipient normalizes a phone number to E.164.
	ValidateAndCanonicalizeRecipient(recipient string) (string, error)
	// SendMessage delivers a text message to the canonical recipient.
	SendMessage(ctx context.Context, to string, body string) error
}

var phonePattern = regexp.MustCompile(`^\+[1-9]\d{6,14}$`)

// CanonicalizePhone strips separators and validates E.164 form. A leading
// "whatsapp:" prefix is accepted and removed.
func CanonicalizePhone(recipient string) (string, error) {
	n := strings.TrimSpace(recipient)
	n = strings.TrimPrefix(n, "whatsapp:")
	n = strings.NewReplacer(" ", "", "-", "", "(", "", ")", "").Replace(n)
	if n != "" && !strings.HasPrefix(n, "+") {
		n = "+" + n
	}
	if !phonePattern.MatchString(n) {
		return "", fmt.Errorf("invalid phone number %q", recipient)
	}
	return n, nil
}
