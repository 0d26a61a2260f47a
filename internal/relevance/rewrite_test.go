package relevance

import (
	"context"
	"testing"

	"mentionrelay/internal/identity"
)

func TestRewriteMentions(t *testing.T) {
	ctx := context.Background()
	r := newResolver(identity.Owner{Phone: "5511999998888", Opaque: "123456789012345", Display: "Daniel"})

	tests := []struct {
		in   string
		want string
	}{
		{"@5511999998888 confirma?", "@Daniel confirma?"},
		{"oi @123456789012345 e @123456789012345:4", "oi @Daniel e @Daniel"},
		{"@5511000000000 não é você", "@5511000000000 não é você"},
		{"email a@5511999998888x", "email a@5511999998888x"},
		{"sem menção", "sem menção"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := RewriteMentions(ctx, tt.in, r); got != tt.want {
			t.Errorf("RewriteMentions(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestRewriteMentions_DisplayFallsBackToPhone(t *testing.T) {
	r := newResolver(identity.Owner{Phone: "5511999998888", Opaque: "777"})

	got := RewriteMentions(context.Background(), "@777 olha isso", r)
	if got != "@5511999998888 olha isso" {
		t.Errorf("got %q", got)
	}
}

func TestRewriteMentions_UnknownOwner(t *testing.T) {
	r := newResolver(identity.Owner{})
	if got := RewriteMentions(context.Background(), "@5511999998888", r); got != "@5511999998888" {
		t.Errorf("got %q", got)
	}
}
