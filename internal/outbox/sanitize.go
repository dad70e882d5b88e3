package outbox

import "strings"

// sanitizeReplacer normalizes typographic characters that break downstream
// hook parsers expecting plain ASCII, matching the dashboard's
// sanitize_content step in the atomic send primitive.
var sanitizeReplacer = strings.NewReplacer(
	"‘", "'", // left single quote
	"’", "'", // right single quote
	"“", `"`, // left double quote
	"”", `"`, // right double quote
	"–", "-", // en dash
	"—", "-", // em dash
)

// SanitizeContent replaces smart quotes and en/em dashes with their ASCII
// equivalents before a message is pasted into a pane.
func SanitizeContent(content string) string {
	return sanitizeReplacer.Replace(content)
}
