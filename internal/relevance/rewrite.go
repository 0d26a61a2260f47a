package relevance

import (
	"context"
	"regexp"

	"mentionrelay/internal/identity"
)

// mentionToken matches "@digits" with an optional ":device" suffix, as a
// whole word.
var mentionToken = regexp.MustCompile(`@[0-9]+(?::[0-9]+)?\b`)

// RewriteMentions replaces "@token" occurrences that resolve to the owner
// with "@<display>". Every other byte of text is preserved.
func RewriteMentions(ctx context.Context, text string, r *identity.Resolver) string {
	owner := r.Owner()
	display := owner.DisplayForm()
	if display == "" || !owner.Known() {
		return text
	}

	return mentionToken.ReplaceAllStringFunc(text, func(full string) string {
		token := full[1:]
		if isOwnerToken(ctx, token, r) {
			return "@" + display
		}
		return full
	})
}

// isOwnerToken matches a bare in-text token. Tokens carry no server, so
// they are checked as opaque addresses, which also covers phone digits.
func isOwnerToken(ctx context.Context, token string, r *identity.Resolver) bool {
	return r.MatchesOwner(ctx, token+"@"+identity.OpaqueServer)
}
