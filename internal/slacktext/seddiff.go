// Package slacktext implements the pure text algorithms of the bridge:
// the Slack message tokenizer and the sed-style edit differ.
package slacktext

import "strings"

const wordSeparators = " .,:;\t\n()[]{}"

// wordSplit walks s and yields each run that starts at (and includes) a
// separator character and extends up to the next separator, ported from
// original_source's wordsplit(): a separator closes the current bucket
// and becomes the first character of the next one.
func wordSplit(s string) []string {
	var out []string
	var bucket strings.Builder
	for _, r := range s {
		if strings.ContainsRune(wordSeparators, r) {
			out = append(out, bucket.String())
			bucket.Reset()
		}
		bucket.WriteRune(r)
	}
	if bucket.Len() > 0 {
		out = append(out, bucket.String())
	}
	return out
}

// SedDiff returns a single-line "s/old/new/" string describing the change
// from a to b, or "" if they are equal (spec §4.3).
func SedDiff(a, b string) string {
	if a == b {
		return ""
	}

	l1 := wordSplit(a)
	l2 := wordSplit(b)

	prefix := 0
	for prefix < len(l1) && prefix < len(l2) && l1[prefix] == l2[prefix] {
		prefix++
	}

	postfix := 0
	for postfix < len(l1) && postfix < len(l2) &&
		l1[len(l1)-1-postfix] == l2[len(l2)-1-postfix] {
		postfix++
	}

	if prefix > 0 && postfix > 0 && len(l1) != len(l2) {
		prefix--
		postfix--
	}

	leftEnd := len(l1) - postfix
	rightEnd := len(l2) - postfix
	if leftEnd < prefix {
		leftEnd = prefix
	}
	if rightEnd < prefix {
		rightEnd = prefix
	}

	oldPart := strings.TrimSpace(strings.Join(l1[prefix:leftEnd], ""))
	newPart := strings.TrimSpace(strings.Join(l2[prefix:rightEnd], ""))

	if oldPart == "" {
		oldPart = "$"
	}

	return "s/" + oldPart + "/" + newPart + "/"
}
