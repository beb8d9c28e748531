package types

import "strings"

var categoryKeywords = map[string][]string{
	"authentication":  {"login", "log in", "password", "register", "sign up", "signin", "auth", "session", "logout", "credential", "mfa", "2fa", "otp", "token"},
	"payment":         {"payment", "transfer", "billing", "invoice", "checkout", "refund", "cart"},
	"data_management": {"upload", "download", "file", "document", "import", "export", "record", "storage", "attachment"},
	"communication":   {"email", "sms", "notification", "message", "webhook"},
	"reporting":       {"report", "dashboard", "analytics", "metric", "export csv"},
}

// categoryOrder keeps keyword matching deterministic; authentication wins
// over weaker signals like "email" in a password reset flow.
var categoryOrder = []string{"authentication", "payment", "data_management", "communication", "reporting"}

// CategorizeFeature buckets feature text by keyword. Unmatched text is
// "general".
func CategorizeFeature(text string) string {
	lower := strings.ToLower(text)
	for _, cat := range categoryOrder {
		for _, kw := range categoryKeywords[cat] {
			if strings.Contains(lower, kw) {
				return cat
			}
		}
	}
	return "general"
}
