package models

import "strings"

// NormalizeHeadline folds case and whitespace so headline text typed into a
// spreadsheet matches the stored promise.
func NormalizeHeadline(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}

// ResolveRelatedPromise finds the promise an indicator or timeline entry
// refers to by headline text. Returns nil when the reference is empty or
// nothing matches.
func ResolveRelatedPromise(ref string, promises []*Promise) *Promise {
	want := NormalizeHeadline(ref)
	if want == "" {
		return nil
	}
	for _, p := range promises {
		if NormalizeHeadline(p.Headline) == want {
			return p
		}
	}
	return nil
}
