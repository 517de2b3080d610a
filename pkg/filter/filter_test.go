package filter

import (
	"strings"
	"testing"

	"github.com/sunil55999/Zorox/pkg/errs"
	"github.com/sunil55999/Zorox/pkg/model"
)

func TestApplySimpleRelay(t *testing.T) {
	res := Apply(Input{Text: "hello", Policy: model.FilterPolicy{}})
	if res.Dropped {
		t.Fatalf("expected keep, got dropped: %s", res.Reason)
	}
	if res.Text != "hello" {
		t.Fatalf("text = %q, want %q", res.Text, "hello")
	}
}

func TestApplyWordBlockBoundary(t *testing.T) {
	tests := []struct {
		name    string
		text    string
		words   []string
		dropped bool
	}{
		{"exact word blocked", "buy spam now", []string{"spam"}, true},
		{"substring not blocked", "spammer arrives", []string{"spam"}, false},
		{"case insensitive", "BUY SPAM NOW", []string{"spam"}, true},
		{"punctuation-flanked blocked", "wow!spam.now", []string{"spam"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := Apply(Input{
				Text:             tt.text,
				Policy:           model.FilterPolicy{},
				PairBlockedWords: tt.words,
			})
			if res.Dropped != tt.dropped {
				t.Fatalf("dropped = %v, want %v (reason=%s)", res.Dropped, tt.dropped, res.Reason)
			}
			if tt.dropped && res.Reason != errs.DropPairWord {
				t.Fatalf("reason = %s, want %s", res.Reason, errs.DropPairWord)
			}
		})
	}
}

func TestApplyMediaGate(t *testing.T) {
	policy := model.FilterPolicy{AllowedMediaTypes: []model.MediaTag{model.MediaText}}
	res := Apply(Input{Text: "hi", MediaTag: model.MediaPhoto, Policy: policy})
	if !res.Dropped || res.Reason != errs.DropMediaType {
		t.Fatalf("expected media_type drop, got %+v", res)
	}
}

func TestApplyHeaderFooterStrip(t *testing.T) {
	text := "🔥 VIP ENTRY Premium\nBUY EURUSD\nTP 1.1000\n🔚 END"
	policy := model.FilterPolicy{
		HeaderPattern: `^🔥\s*VIP\s*ENTRY\b.*$`,
		FooterPattern: `^🔚\s*END\b.*$`,
	}
	res := Apply(Input{Text: text, Policy: policy})
	if res.Dropped {
		t.Fatalf("unexpected drop: %s", res.Reason)
	}
	want := "BUY EURUSD\nTP 1.1000"
	if res.Text != want {
		t.Fatalf("text = %q, want %q", res.Text, want)
	}
}

func TestApplyHeaderOnlyLeadingLinesEligible(t *testing.T) {
	text := "SIGNAL\nNot a header line\nSIGNAL again"
	policy := model.FilterPolicy{HeaderPattern: `^SIGNAL$`}
	res := Apply(Input{Text: text, Policy: policy})
	want := "Not a header line\nSIGNAL again"
	if res.Text != want {
		t.Fatalf("text = %q, want %q", res.Text, want)
	}
}

func TestApplyMentionStripEmptyPlaceholder(t *testing.T) {
	policy := model.FilterPolicy{RemoveMentions: true, MentionPlaceholder: ""}
	res := Apply(Input{Text: "Hi @alice, welcome", Policy: policy})
	if res.Text != "Hi, welcome" {
		t.Fatalf("text = %q, want %q", res.Text, "Hi, welcome")
	}
}

func TestApplyMentionStripPreservesEmail(t *testing.T) {
	policy := model.FilterPolicy{RemoveMentions: true}
	res := Apply(Input{Text: "contact me at bob.smith@example.com please", Policy: policy})
	if !strings.Contains(res.Text, "bob.smith@example.com") {
		t.Fatalf("email-like occurrence was stripped: %q", res.Text)
	}
}

func TestApplyMentionStripPlaceholder(t *testing.T) {
	policy := model.FilterPolicy{RemoveMentions: true, MentionPlaceholder: "[user]"}
	res := Apply(Input{Text: "Hi @alice, welcome", Policy: policy})
	if res.Text != "Hi [user], welcome" {
		t.Fatalf("text = %q, want %q", res.Text, "Hi [user], welcome")
	}
}

func TestApplyMentionParenthesized(t *testing.T) {
	policy := model.FilterPolicy{RemoveMentions: true}
	res := Apply(Input{Text: "ping the team (@alice) now", Policy: policy})
	if res.Text != "ping the team now" {
		t.Fatalf("text = %q, want %q", res.Text, "ping the team now")
	}
}

func TestApplyLengthGate(t *testing.T) {
	policy := model.FilterPolicy{MinLength: 5, MaxLength: 10}
	if res := Apply(Input{Text: "hi", Policy: policy}); !res.Dropped || res.Reason != errs.DropLength {
		t.Fatalf("expected length drop for too-short text, got %+v", res)
	}
	if res := Apply(Input{Text: "hello there world", Policy: policy}); !res.Dropped || res.Reason != errs.DropLength {
		t.Fatalf("expected length drop for too-long text, got %+v", res)
	}
	if res := Apply(Input{Text: "hello", Policy: policy}); res.Dropped {
		t.Fatalf("expected keep at boundary, got dropped: %s", res.Reason)
	}
}

// TestApplyStructurePreservation is property P4: without header/footer
// removal, newline count is preserved exactly.
func TestApplyStructurePreservation(t *testing.T) {
	texts := []string{
		"line one\nline two\nline three",
		"a\n\nb\n\n\nc",
		"no newlines here",
	}
	for _, text := range texts {
		res := Apply(Input{Text: text, Policy: model.FilterPolicy{}})
		if strings.Count(res.Text, "\n") != strings.Count(text, "\n") {
			t.Fatalf("newline count changed for %q: got %q", text, res.Text)
		}
	}
}

func TestApplyEntityReindexing(t *testing.T) {
	// "Hi @alice, welcome" -> entity over "welcome" (bold) must survive
	// and shift left by the amount of text removed before it.
	text := "Hi @alice, welcome"
	boldStart := strings.Index(text, "welcome")
	boldEnd := boldStart + len("welcome")

	policy := model.FilterPolicy{RemoveMentions: true}
	res := Apply(Input{
		Text:     text,
		Policy:   policy,
		Entities: []model.Entity{{Start: boldStart, End: boldEnd, Kind: "bold"}},
	})

	if len(res.Entities) != 1 {
		t.Fatalf("expected 1 surviving entity, got %d", len(res.Entities))
	}
	got := res.Text[res.Entities[0].Start:res.Entities[0].End]
	if got != "welcome" {
		t.Fatalf("entity range = %q, want %q", got, "welcome")
	}
}

func TestApplyEntityFullyRemovedIsDropped(t *testing.T) {
	text := "Hi @alice welcome"
	mentionStart := strings.Index(text, "@alice")
	mentionEnd := mentionStart + len("@alice")

	policy := model.FilterPolicy{RemoveMentions: true}
	res := Apply(Input{
		Text:     text,
		Policy:   policy,
		Entities: []model.Entity{{Start: mentionStart, End: mentionEnd, Kind: "mention"}},
	})

	if len(res.Entities) != 0 {
		t.Fatalf("expected entity fully inside removed range to be dropped, got %+v", res.Entities)
	}
}

func TestApplyMultipleSpaceCollapseWithinLineOnly(t *testing.T) {
	policy := model.FilterPolicy{RemoveMentions: true}
	text := "Hi   @alice   there\nnext   line"
	res := Apply(Input{Text: text, Policy: policy})
	lines := strings.Split(res.Text, "\n")
	if strings.Contains(lines[0], "  ") {
		t.Fatalf("expected collapsed spaces on first line, got %q", lines[0])
	}
	// second line had no mention removal nearby but still collapses
	// within its own line, never merging across the newline.
	if strings.Count(res.Text, "\n") != 1 {
		t.Fatalf("newline count changed: %q", res.Text)
	}
}

func TestApplyInvalidHeaderPatternDisablesOnlyThatPattern(t *testing.T) {
	policy := model.FilterPolicy{HeaderPattern: "(unterminated", FooterPattern: ""}
	res := Apply(Input{Text: "hello world", Policy: policy})
	if res.Dropped {
		t.Fatalf("an invalid pattern must not drop the pair's messages: %+v", res)
	}
	if res.Text != "hello world" {
		t.Fatalf("text = %q, want unchanged %q", res.Text, "hello world")
	}
}
