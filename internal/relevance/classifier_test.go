package relevance

import (
	"context"
	"io"
	"log/slog"
	"regexp"
	"testing"

	"mentionrelay/internal/extract"
	"mentionrelay/internal/identity"
)

func newResolver(owner identity.Owner) *identity.Resolver {
	return identity.NewResolver(identity.ResolverConfig{
		Owner:     owner,
		CrossForm: true,
		Logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
}

func TestClassify_Order(t *testing.T) {
	pattern := regexp.MustCompile("(?i)urgente")

	tests := []struct {
		name   string
		policy Policy
		in     Input
		want   Reason
		fwd    bool
	}{
		{"forward all wins over quoted", Policy{ForwardAll: true, ExcludeQuoted: true}, Input{Quoted: true}, ReasonForwardAll, true},
		{"quoted mention dropped", Policy{ExcludeQuoted: true}, Input{Quoted: true, OwnerReferenced: true}, ReasonQuoted, false},
		{"quoted allowed when exclusion off", Policy{}, Input{Quoted: true, OwnerReferenced: true}, ReasonOwnerMention, true},
		{"owner mention", Policy{Pattern: pattern}, Input{Text: "urgente", OwnerReferenced: true}, ReasonOwnerMention, true},
		{"pattern", Policy{Pattern: pattern}, Input{Text: "isso é URGENTE"}, ReasonPattern, true},
		{"pattern miss", Policy{Pattern: pattern}, Input{Text: "bom dia"}, ReasonNoMatch, false},
		{"nothing configured", Policy{}, Input{Text: "bom dia"}, ReasonNoMatch, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Classify(tt.policy, tt.in)
			if got.Forward != tt.fwd || got.Reason != tt.want {
				t.Errorf("Classify() = %+v, want forward=%v reason=%s", got, tt.fwd, tt.want)
			}
		})
	}
}

func TestCompilePattern(t *testing.T) {
	re, err := CompilePattern("")
	if err != nil || re != nil {
		t.Fatalf("empty pattern: %v %v", re, err)
	}
	re, err = CompilePattern("pedido #\\d+")
	if err != nil {
		t.Fatal(err)
	}
	if !re.MatchString("PEDIDO #42") {
		t.Error("pattern should be case-insensitive")
	}
	if _, err := CompilePattern("("); err == nil {
		t.Error("expected compile error")
	}
}

func TestClassifier_EvaluateRewritesOwnerMention(t *testing.T) {
	r := newResolver(identity.Owner{Phone: "5511999998888", Display: "Daniel"})
	c := NewClassifier(ClassifierConfig{Resolver: r})

	d := c.Evaluate(context.Background(), extract.Content{
		Text:     "@5511999998888 confirma?",
		Mentions: []string{"5511999998888@s.whatsapp.net"},
	})
	if !d.Forward || d.Reason != ReasonOwnerMention {
		t.Fatalf("decision = %+v", d)
	}
	if d.Text != "@Daniel confirma?" {
		t.Errorf("text = %q", d.Text)
	}
}

func TestClassifier_QuotedExclusionBeatsMention(t *testing.T) {
	r := newResolver(identity.Owner{Phone: "5511999998888"})
	c := NewClassifier(ClassifierConfig{Resolver: r, Policy: Policy{ExcludeQuoted: true}})

	d := c.Evaluate(context.Background(), extract.Content{
		Text:     "concordo",
		Mentions: []string{"5511999998888@s.whatsapp.net"},
		Quoted:   true,
	})
	if d.Forward {
		t.Errorf("quoted mention should be dropped: %+v", d)
	}
}

func TestClassifier_TextFallback(t *testing.T) {
	r := newResolver(identity.Owner{Phone: "5511999998888"})
	content := extract.Content{Text: "liga pro +55 (11) 99999-8888"}

	off := NewClassifier(ClassifierConfig{Resolver: r})
	if off.OwnerReferenced(context.Background(), content) {
		t.Error("fallback disabled should not match")
	}

	on := NewClassifier(ClassifierConfig{Resolver: r, Policy: Policy{TextFallback: true}})
	if !on.OwnerReferenced(context.Background(), content) {
		t.Error("fallback enabled should match digits in text")
	}
}

func TestClassifier_PatternDoesNotRewrite(t *testing.T) {
	r := newResolver(identity.Owner{Phone: "5511999998888", Display: "Daniel"})
	c := NewClassifier(ClassifierConfig{
		Resolver: r,
		Policy:   Policy{Pattern: regexp.MustCompile("(?i)orçamento")},
	})

	d := c.Evaluate(context.Background(), extract.Content{Text: "orçamento @5511999998888"})
	if !d.Forward || d.Reason != ReasonPattern {
		t.Fatalf("decision = %+v", d)
	}
	if d.Text != "orçamento @5511999998888" {
		t.Errorf("text rewritten without owner reference: %q", d.Text)
	}
}
