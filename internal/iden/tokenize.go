package iden

import "strings"

type charClass int

const (
	classOther charClass = iota
	classLetter
	classDigit
)

func classOf(b byte) charClass {
	switch {
	case b >= 'a' && b <= 'z', b >= 'A' && b <= 'Z':
		return classLetter
	case b >= '0' && b <= '9':
		return classDigit
	default:
		return classOther
	}
}

// Segment splits an identifier into trie segments per spec.md 4.2: if the
// string contains '#', split on it; otherwise walk byte-by-byte, treating
// '/' and any other non-letter/non-digit byte as an unemitted separator,
// cutting a segment whenever the character class changes or a run's
// longest suffix ends in a dictionary word. The dictionary cut takes
// precedence over (fires independently of) the class-change cut: whichever
// condition is met first at a given byte ends the run there.
func Segment(name string, words []string) []string {
	if strings.Contains(name, "#") {
		return strings.Split(name, "#")
	}

	dict := buildDictionary(words)
	return segmentWithDictionary(name, dict)
}

func segmentWithDictionary(name string, dict *dictionary) []string {
	var segments []string

	runActive := false
	runStart := 0
	var runClass charClass
	var cursor *ahoNode

	flush := func(end int) {
		if runActive && end > runStart {
			segments = append(segments, name[runStart:end])
		}
		runActive = false
		cursor = nil
	}

	for i := 0; i < len(name); i++ {
		b := name[i]
		c := classOf(b)

		if c == classOther {
			flush(i)
			continue
		}

		if !runActive {
			runActive = true
			runStart = i
			runClass = c
			cursor = nil
		} else if c != runClass {
			flush(i)
			runActive = true
			runStart = i
			runClass = c
		}

		cursor = dict.step(cursor, b)
		if cursor.terminal {
			segments = append(segments, name[runStart:i+1])
			runActive = false
			cursor = nil
		}
	}
	flush(len(name))

	return segments
}

// Join reconstructs the canonical '#'-delimited display form of a segment
// list, the form namesOf's prefix matching compares against.
func Join(segments []string) string {
	return strings.Join(segments, "#")
}
