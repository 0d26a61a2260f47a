// Package relevance decides whether a group message should be relayed.
package relevance

import (
	"context"
	"regexp"
	"strings"

	"mentionrelay/internal/extract"
	"mentionrelay/internal/identity"
)

// Reason names the rule that produced a decision.
type Reason string

const (
	ReasonForwardAll   Reason = "forward_all"
	ReasonQuoted       Reason = "quoted_excluded"
	ReasonOwnerMention Reason = "owner_mentioned"
	ReasonPattern      Reason = "pattern_matched"
	ReasonNoMatch      Reason = "no_match"
)

// Policy holds the operator switches that drive classification.
type Policy struct {
	ForwardAll    bool
	Pattern       *regexp.Regexp // nil when no free-text pattern is configured
	ExcludeQuoted bool
	TextFallback  bool // match owner phone digits embedded in plain text
}

// CompilePattern builds the case-insensitive free-text pattern. An empty
// expression yields nil.
func CompilePattern(expr string) (*regexp.Regexp, error) {
	if strings.TrimSpace(expr) == "" {
		return nil, nil
	}
	return regexp.Compile("(?i)" + expr)
}

// Input is everything Classify looks at.
type Input struct {
	Text            string
	Mentions        []string
	Quoted          bool
	OwnerReferenced bool
}

// Decision is the outcome for one message. Text is the payload text, with
// owner mentions rewritten when the owner was referenced.
type Decision struct {
	Forward bool
	Reason  Reason
	Text    string
}

// Classify applies the rules in order: forward-all, quoted exclusion,
// owner reference, free-text pattern, drop.
func Classify(p Policy, in Input) Decision {
	switch {
	case p.ForwardAll:
		return Decision{Forward: true, Reason: ReasonForwardAll, Text: in.Text}
	case p.ExcludeQuoted && in.Quoted:
		return Decision{Reason: ReasonQuoted, Text: in.Text}
	case in.OwnerReferenced:
		return Decision{Forward: true, Reason: ReasonOwnerMention, Text: in.Text}
	case p.Pattern != nil && p.Pattern.MatchString(in.Text):
		return Decision{Forward: true, Reason: ReasonPattern, Text: in.Text}
	default:
		return Decision{Reason: ReasonNoMatch, Text: in.Text}
	}
}

// ClassifierConfig configures a Classifier.
type ClassifierConfig struct {
	Policy   Policy
	Resolver *identity.Resolver
}

// Classifier combines owner detection, classification and mention rewriting.
type Classifier struct {
	policy   Policy
	resolver *identity.Resolver
}

func NewClassifier(cfg ClassifierConfig) *Classifier {
	return &Classifier{policy: cfg.Policy, resolver: cfg.Resolver}
}

// Policy returns the active policy.
func (c *Classifier) Policy() Policy {
	return c.policy
}

// OwnerReferenced reports whether content references the owner through an
// explicit mention, an alias, or (when enabled) the owner phone in the text.
func (c *Classifier) OwnerReferenced(ctx context.Context, content extract.Content) bool {
	if c.resolver.IsOwnerReferenced(ctx, content.Mentions) {
		return true
	}
	if !c.policy.TextFallback {
		return false
	}
	phone := c.resolver.Owner().Phone
	return phone != "" && strings.Contains(digitsOnly(content.Text), phone)
}

// Evaluate classifies content and, when the owner was referenced and the
// message is forwarded, rewrites owner mention tokens to the display form.
func (c *Classifier) Evaluate(ctx context.Context, content extract.Content) Decision {
	owned := c.OwnerReferenced(ctx, content)
	d := Classify(c.policy, Input{
		Text:            content.Text,
		Mentions:        content.Mentions,
		Quoted:          content.Quoted,
		OwnerReferenced: owned,
	})
	if d.Forward && owned {
		d.Text = RewriteMentions(ctx, d.Text, c.resolver)
	}
	return d
}

func digitsOnly(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
