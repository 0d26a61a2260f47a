// Package identity normalizes protocol addresses and answers whether a set
// of referenced addresses includes the owner account.
//
// Two addressing schemes coexist: phone-addressed tokens
// ("5511999998888:12@s.whatsapp.net") and opaque-identifier tokens
// ("123456789012345:7@lid"). Their canonical forms are not comparable with
// each other; the only bridge is an explicit alias table.
package identity

import (
	"strings"
	"unicode"
)

const (
	PhoneServer  = "s.whatsapp.net"
	OpaqueServer = "lid"
	GroupServer  = "g.us"

	deviceSep = ":"
)

// splitToken returns the user part and server of a raw address.
func splitToken(token string) (user, server string) {
	token = strings.TrimSpace(token)
	user, server, _ = strings.Cut(token, "@")
	return user, server
}

// Server returns the domain part of a raw address, or "" when absent.
func Server(token string) string {
	_, server := splitToken(token)
	return server
}

// IsGroup reports whether token addresses a group conversation.
func IsGroup(token string) bool {
	return Server(token) == GroupServer
}

// IsOpaque reports whether token uses opaque-identifier addressing.
func IsOpaque(token string) bool {
	return Server(token) == OpaqueServer
}

// CanonicalPhone strips the domain and device suffix and keeps digits only.
func CanonicalPhone(token string) string {
	user, _ := splitToken(token)
	user, _, _ = strings.Cut(user, deviceSep)
	return strings.Map(func(r rune) rune {
		if r >= '0' && r <= '9' {
			return r
		}
		return -1
	}, user)
}

// CanonicalOpaque strips the domain and then the device suffix.
func CanonicalOpaque(token string) string {
	user, _ := splitToken(token)
	user, _, _ = strings.Cut(user, deviceSep)
	return strings.TrimFunc(user, unicode.IsSpace)
}
