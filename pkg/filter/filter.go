// Package filter implements the pure decision function described in spec
// §4.2: given a message and a pair's policy, decide Drop(reason) or
// Keep(rewritten text, re-indexed entities). Step order is fixed and
// load-bearing — see the comment above Apply.
package filter

import (
	"regexp"
	"strings"
	"sync"
	"unicode"
	"unicode/utf8"

	"github.com/sunil55999/Zorox/pkg/errs"
	"github.com/sunil55999/Zorox/pkg/logger"
	"github.com/sunil55999/Zorox/pkg/model"
)

// mentionPattern matches platform-mention tokens: "@" followed by 3-32
// handle characters. Email-like occurrences are excluded by inspecting
// the preceding rune after the fact, since RE2 has no lookbehind.
var mentionPattern = regexp.MustCompile(`@[A-Za-z0-9_]{3,32}`)

var wordBlockCache sync.Map // string (word as given) -> *regexp.Regexp

// compileWordPattern returns (and caches, keyed by the word as given) a
// case-insensitive, word-boundary wrapped regex for a blocked term.
// QuoteMeta output always compiles, so MustCompile is used here; this
// cache is separate from compileUserPattern, which is not cached.
func compileWordPattern(word string) *regexp.Regexp {
	if v, ok := wordBlockCache.Load(word); ok {
		return v.(*regexp.Regexp)
	}
	re := regexp.MustCompile(`(?i)\b` + regexp.QuoteMeta(word) + `\b`)
	wordBlockCache.Store(word, re)
	return re
}

// compileUserPattern compiles an admin-supplied header/footer regex.
// Compile errors are logged and treated as "no pattern" — the individual
// pattern is disabled, not the whole pair (spec §4.2).
func compileUserPattern(component, field, pattern string) *regexp.Regexp {
	if strings.TrimSpace(pattern) == "" {
		return nil
	}
	re, err := regexp.Compile("(?i)" + pattern)
	if err != nil {
		logger.WarnCF(component, "Disabling invalid pattern", map[string]any{
			"field": field,
			"error": err.Error(),
		})
		return nil
	}
	return re
}

// Input bundles everything Apply needs. GlobalBlockedWords and PairBlockedWords
// are looked up by the caller from the Store (spec §4.1 blocked_words_for);
// Policy.BlockedWords is deliberately not read here so callers control
// exactly which set backs "pair" vs "global" in the trace.
type Input struct {
	Text               string
	Entities           []model.Entity
	MediaTag           model.MediaTag
	Policy             model.FilterPolicy
	GlobalBlockedWords []string
	PairBlockedWords   []string
}

// Result is the outcome of Apply: either Dropped (with Reason and the Step
// that produced it) or kept, carrying the rewritten Text and Entities.
type Result struct {
	Dropped  bool
	Reason   errs.FilterDropReason
	Step     string
	Text     string
	Entities []model.Entity
}

// Apply runs the fixed pipeline from spec §4.2:
//  1. global word block
//  2. pair word block
//  3. media-type gate
//  4. header strip
//  5. footer strip
//  6. mention removal (+ space collapse)
//  7. length gate
func Apply(in Input) Result {
	if blocked(in.Text, in.GlobalBlockedWords) {
		return Result{Dropped: true, Reason: errs.DropGlobalWord, Step: "global_word"}
	}
	if blocked(in.Text, in.PairBlockedWords) {
		return Result{Dropped: true, Reason: errs.DropPairWord, Step: "pair_word"}
	}
	if !in.Policy.AllowsMedia(in.MediaTag) {
		return Result{Dropped: true, Reason: errs.DropMediaType, Step: "media_type"}
	}

	buf := newRuneBuffer(in.Text)

	if re := compileUserPattern("filter", "header_pattern", in.Policy.HeaderPattern); re != nil {
		stripHeader(buf, re)
	}
	if re := compileUserPattern("filter", "footer_pattern", in.Policy.FooterPattern); re != nil {
		stripFooter(buf, re)
	}
	if in.Policy.RemoveMentions {
		stripMentions(buf, in.Policy.MentionPlaceholder)
		collapseSpaces(buf)
	}

	text := buf.String()
	length := utf8.RuneCountInString(text)
	if in.Policy.MinLength > 0 && length < in.Policy.MinLength {
		return Result{Dropped: true, Reason: errs.DropLength, Step: "length"}
	}
	if in.Policy.MaxLength > 0 && length > in.Policy.MaxLength {
		return Result{Dropped: true, Reason: errs.DropLength, Step: "length"}
	}

	return Result{
		Text:     text,
		Entities: reindex(in.Entities, buf.origin),
	}
}

func blocked(text string, words []string) bool {
	for _, w := range words {
		w = strings.TrimSpace(w)
		if w == "" {
			continue
		}
		if compileWordPattern(w).MatchString(text) {
			return true
		}
	}
	return false
}

// stripHeader removes a contiguous run of leading lines that match pattern,
// anchored to the start of each line (spec §4.2 step 4). A line fully
// consumed by the match disappears, including its trailing newline, so no
// blank-line artifact survives; a partial match stops the scan.
func stripHeader(buf *runeBuffer, pattern *regexp.Regexp) {
	pos := 0
	for pos <= buf.Len() {
		lineEnd := indexOfNewline(buf.runes, pos)
		line := string(buf.runes[pos:lineEnd])

		loc := pattern.FindStringIndex(line)
		if loc == nil || loc[0] != 0 {
			return
		}

		matchRuneLen := utf8.RuneCountInString(line[:loc[1]])
		matchEnd := pos + matchRuneLen
		buf.Delete(pos, matchEnd)

		if pos < buf.Len() && buf.runes[pos] == '\n' {
			buf.Delete(pos, pos+1)
			continue // re-test position `pos`, now the next original line
		}
		return // either buffer exhausted or a non-empty residue remains
	}
}

// stripFooter is the mirror of stripHeader at the end of the text. The
// invariant `end == buf.Len()` holds at the top of every iteration: `end`
// marks the right edge of the still-unscanned buffer.
func stripFooter(buf *runeBuffer, pattern *regexp.Regexp) {
	end := buf.Len()
	for end >= 0 {
		lineStart := lastNewlineBefore(buf.runes, end) + 1
		line := string(buf.runes[lineStart:end])

		loc := pattern.FindStringIndex(line)
		if loc == nil || loc[0] != 0 {
			return
		}

		matchRuneLen := utf8.RuneCountInString(line[:loc[1]])
		matchEnd := lineStart + matchRuneLen
		buf.Delete(lineStart, matchEnd)

		if matchEnd != end {
			return // residue remains on this line; stop scanning
		}

		if lineStart > 0 && buf.runes[lineStart-1] == '\n' {
			// line is now empty; swallow the newline that used to
			// separate it from the previous line so it vanishes entirely
			buf.Delete(lineStart-1, lineStart)
			lineStart--
		}
		end = lineStart
	}
}

func indexOfNewline(runes []rune, from int) int {
	for i := from; i < len(runes); i++ {
		if runes[i] == '\n' {
			return i
		}
	}
	return len(runes)
}

func lastNewlineBefore(runes []rune, before int) int {
	for i := before - 1; i >= 0; i-- {
		if runes[i] == '\n' {
			return i
		}
	}
	return -1
}

// isEmailLikePrev reports whether r is a letter, digit, or '.', which
// signals the "@" we are looking at is part of an email address and must
// be preserved rather than treated as a mention.
func isEmailLikePrev(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r) || r == '.'
}

func isConnectivePunct(r rune) bool {
	switch r {
	case ',', '.', ';', ':', '!', '?', ')':
		return true
	default:
		return false
	}
}

type mentionRemoval struct {
	start, end int
	repl       string
}

// stripMentions removes (or replaces) mention tokens, expanding the
// removal span to swallow a directly adjacent connective space/paren so
// pure removal doesn't leave "word , word" artifacts (spec §4.2 step 6,
// scenario 4).
func stripMentions(buf *runeBuffer, placeholder string) {
	text := buf.String()
	matches := mentionPattern.FindAllStringIndex(text, -1)
	if len(matches) == 0 {
		return
	}

	runes := []rune(text)
	var removals []mentionRemoval

	for _, m := range matches {
		startRune := utf8.RuneCountInString(text[:m[0]])
		endRune := utf8.RuneCountInString(text[:m[1]])

		if startRune > 0 && isEmailLikePrev(runes[startRune-1]) {
			continue
		}

		start, end := startRune, endRune
		if placeholder == "" {
			var before, after rune
			if start > 0 {
				before = runes[start-1]
			}
			if end < len(runes) {
				after = runes[end]
			}
			switch {
			case before == '(' && after == ')':
				start--
				end++
			case before == ' ' && isConnectivePunct(after):
				start--
			case before == ',' && after == ' ':
				end++
			}
		}
		removals = append(removals, mentionRemoval{start: start, end: end, repl: placeholder})
	}

	for i := len(removals) - 1; i >= 0; i-- {
		r := removals[i]
		buf.Replace(r.start, r.end, r.repl)
	}
}

// collapseSpaces collapses runs of the ASCII space character into one,
// never crossing a newline (spec §4.2 step 6 post-pass).
func collapseSpaces(buf *runeBuffer) {
	newRunes := make([]rune, 0, len(buf.runes))
	newOrigin := make([]int, 0, len(buf.origin))
	prevSpace := false

	for i, r := range buf.runes {
		if r == '\n' {
			prevSpace = false
			newRunes = append(newRunes, r)
			newOrigin = append(newOrigin, buf.origin[i])
			continue
		}
		if r == ' ' {
			if prevSpace {
				continue
			}
			prevSpace = true
			newRunes = append(newRunes, r)
			newOrigin = append(newOrigin, buf.origin[i])
			continue
		}
		prevSpace = false
		newRunes = append(newRunes, r)
		newOrigin = append(newOrigin, buf.origin[i])
	}

	buf.runes = newRunes
	buf.origin = newOrigin
}

// reindex maps entities from original-text rune offsets to the surviving
// buffer's offsets. An entity fully inside a removed range is dropped; one
// that straddles a removal is clipped to the surviving portion.
func reindex(entities []model.Entity, origin []int) []model.Entity {
	if len(entities) == 0 {
		return nil
	}

	out := make([]model.Entity, 0, len(entities))
	for _, e := range entities {
		newStart := mapIndex(origin, e.Start)
		newEnd := mapIndex(origin, e.End)
		if newStart >= newEnd {
			continue
		}
		clipped := e
		clipped.Start = newStart
		clipped.End = newEnd
		out = append(out, clipped)
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
