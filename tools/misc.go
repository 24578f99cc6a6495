package tools

import (
	"net/mail"
	"strings"
)

// ValidEmail reports whether the address parses as a bare rfc5322
// addr-spec. Display names are handled separately, the gateway only
// validates the address itself.
func ValidEmail(address string) bool {
	if address == "" {
		return false
	}
	if strings.ContainsAny(address, "<>\"") {
		return false
	}
	a, err := mail.ParseAddress(address)
	return err == nil && a.Address == address
}
