// Package keyword turns free text into the space-joined keyword stream
// used for full-text indexing and query expansion. Tokenization is
// script-aware: Hangul runs are treated as noun candidates, Latin runs,
// digit runs, and Han runs are always kept.
package keyword

import (
	"strings"
	"unicode"
)

// stoplist holds single-character noun tokens too generic to index.
var stoplist = map[string]struct{}{
	"것": {},
	"수": {},
	"등": {},
	"때": {},
	"곳": {},
}

// suffixes are bound noun suffixes. A standalone suffix token is not a
// keyword of its own; it attaches to the previously emitted keyword
// ("데이터" followed by "들" indexes as "데이터들").
var suffixes = map[string]struct{}{
	"들": {},
	"님": {},
	"적": {},
	"성": {},
	"화": {},
	"용": {},
	"별": {},
	"상": {},
	"급": {},
}

type scriptClass int

const (
	classOther scriptClass = iota
	classHangul
	classLatin
	classDigit
	classHan
)

func classify(r rune) scriptClass {
	switch {
	case unicode.Is(unicode.Hangul, r):
		return classHangul
	case r >= '0' && r <= '9':
		return classDigit
	case unicode.IsLetter(r) && r < 0x1100:
		return classLatin
	case unicode.Is(unicode.Han, r):
		return classHan
	default:
		return classOther
	}
}

// Extract returns the space-joined keywords of text. The function is
// pure and idempotent: Extract(Extract(s)) == Extract(s).
func Extract(text string) string {
	var keywords []string

	emit := func(token string, class scriptClass) {
		switch class {
		case classHangul:
			if _, drop := stoplist[token]; drop {
				return
			}
			if _, isSuffix := suffixes[token]; isSuffix && len(keywords) > 0 {
				keywords[len(keywords)-1] += token
				return
			}
		case classLatin, classDigit, classHan:
			// Symbol-class tokens are kept regardless of length.
		default:
			return
		}
		keywords = append(keywords, token)
	}

	var run strings.Builder
	runClass := classOther
	flush := func() {
		if run.Len() > 0 {
			emit(run.String(), runClass)
			run.Reset()
		}
	}

	for _, r := range text {
		c := classify(r)
		if c == classOther {
			flush()
			runClass = classOther
			continue
		}
		if c != runClass {
			flush()
			runClass = c
		}
		run.WriteRune(r)
	}
	flush()

	return strings.Join(keywords, " ")
}
