package payment

import (
	"crypto/sha256"
	"encoding/hex"
	"net/url"
	"sort"
	"strings"
)

// billedExtractionTypes are the automatic-extraction outputs that change the
// price of a request. "serp" is deliberately absent: it is not billed and
// must not affect the fingerprint.
var billedExtractionTypes = []string{
	"article",
	"articleList",
	"articleNavigation",
	"forumThread",
	"jobPosting",
	"jobPostingNavigation",
	"product",
	"productList",
	"productNavigation",
}

// Fingerprint identifies all queries with the same expected billing cost.
// Queries that only differ in aspects that do not affect price (e.g. the
// number of actions or network-capture rules, custom request headers, the
// number of custom attributes) share a fingerprint, so one payment
// authorization can be reused across them.
type Fingerprint string

// ComputeFingerprint derives the cost fingerprint of a query from its
// target domain, its inferred rendering mode, and the set of billed
// features it requests.
func ComputeFingerprint(query map[string]any) Fingerprint {
	features := make([]string, 0, 4)
	browser := isSet(query, "browserHtml") || isSet(query, "screenshot")
	if isSet(query, "screenshot") {
		features = append(features, "screenshot")
	}

	for _, t := range billedExtractionTypes {
		if !isSet(query, t) {
			continue
		}
		features = append(features, t)
		// Extraction defaults to browser rendering unless explicitly
		// overridden per extraction type.
		switch extractFrom(query, t) {
		case "httpResponseBody":
		default:
			browser = true
		}
	}

	if attrs, ok := query["customAttributes"]; ok && attrs != nil {
		features = append(features, "customAttributes:"+customAttributesMethod(query))
	}
	if hasItems(query, "actions") {
		features = append(features, "actions")
	}
	if hasItems(query, "networkCapture") {
		features = append(features, "networkCapture")
	}

	mode := "http"
	if browser {
		mode = "browser"
	}
	sort.Strings(features)

	sum := sha256.Sum256([]byte(domainOf(query) + "|" + mode + "|" + strings.Join(features, ",")))
	return Fingerprint(hex.EncodeToString(sum[:]))
}

func domainOf(query map[string]any) string {
	raw, _ := query["url"].(string)
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	return u.Host
}

// isSet reports whether the key is present with a value that requests the
// feature (anything but false/nil).
func isSet(query map[string]any, key string) bool {
	v, ok := query[key]
	if !ok || v == nil {
		return false
	}
	b, isBool := v.(bool)
	return !isBool || b
}

// hasItems reports whether the key holds a non-empty list. An empty list
// costs the same as no list at all.
func hasItems(query map[string]any, key string) bool {
	items, _ := query[key].([]any)
	return len(items) > 0
}

// extractFrom returns the explicit extraction source for one extraction
// type ("browserHtml" or "httpResponseBody"), or "".
func extractFrom(query map[string]any, extractionType string) string {
	opts, _ := query[extractionType+"Options"].(map[string]any)
	source, _ := opts["extractFrom"].(string)
	return source
}

// customAttributesMethod returns the generation method for custom-attribute
// extraction. The method changes the price, so it is part of the
// fingerprint; the attribute count is not.
func customAttributesMethod(query map[string]any) string {
	opts, _ := query["customAttributesOptions"].(map[string]any)
	if method, _ := opts["method"].(string); method != "" {
		return method
	}
	return "generate"
}
