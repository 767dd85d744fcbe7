package session

import "strings"

// ExtractNewContent resolves an incoming streamed fragment against the text
// accumulated so far and returns the portion that is genuinely new.
//
// Agents are inconsistent about chunk semantics: some stream true deltas,
// some re-send the last chunk after a hiccup, and some restate the whole
// message so far. The three cases are told apart structurally:
//
//   - fragment no longer than current and current ends with it (or equals
//     it): pure duplicate, nothing new
//   - fragment starts with current: cumulative restatement, only the
//     suffix beyond current is new
//   - anything else: a true delta, new in full
//
// Applying the same fragment twice therefore never duplicates text. The
// rule assumes in-order delivery; it does not reorder.
func ExtractNewContent(current, fragment string) (string, bool) {
	if len(fragment) <= len(current) && strings.HasSuffix(current, fragment) {
		return "", false
	}
	if strings.HasPrefix(fragment, current) {
		return fragment[len(current):], true
	}
	return fragment, true
}
