// ABOUTME: Pure @mention scanner used to decide who speaks next in a group.
// ABOUTME: Classifies the first @token as the user, another agent, or nothing.

package mention

import (
	"regexp"
	"strings"
)

// Kind is the classification of a mention scan.
type Kind int

const (
	// None means the text carries no @token.
	None Kind = iota
	// TargetsUser means control returns to the human.
	TargetsUser
	// TargetsAgent means control passes to the named agent.
	TargetsAgent
)

// String returns a stable name for logs.
func (k Kind) String() string {
	switch k {
	case TargetsUser:
		return "user"
	case TargetsAgent:
		return "agent"
	default:
		return "none"
	}
}

// userToken is the reserved mention that hands control back to the human.
const userToken = "user"

var mentionPattern = regexp.MustCompile(`@([A-Za-z0-9_-]+)`)

// Result is the outcome of scanning a piece of text.
type Result struct {
	Kind Kind
	// Name is the mentioned token as written. Empty for None.
	Name string
}

// IsAgent reports whether the result hands control to another agent.
func (r Result) IsAgent() bool { return r.Kind == TargetsAgent }

func (r Result) String() string {
	if r.Kind == TargetsAgent {
		return "agent(" + r.Name + ")"
	}
	return r.Kind.String()
}

// Scan returns the classification of the first mention in text.
func Scan(text string) Result {
	m := mentionPattern.FindStringSubmatch(text)
	if m == nil {
		return Result{Kind: None}
	}
	return classify(m[1])
}

// ScanAll returns every mention in text, in order of appearance.
func ScanAll(text string) []Result {
	matches := mentionPattern.FindAllStringSubmatch(text, -1)
	if len(matches) == 0 {
		return nil
	}
	out := make([]Result, 0, len(matches))
	for _, m := range matches {
		out = append(out, classify(m[1]))
	}
	return out
}

func classify(token string) Result {
	if strings.EqualFold(token, userToken) {
		return Result{Kind: TargetsUser, Name: token}
	}
	return Result{Kind: TargetsAgent, Name: token}
}

// Replace substitutes every mention in text with fn's result. token is the
// mention as written, including the leading @.
func Replace(text string, fn func(r Result, token string) string) string {
	return mentionPattern.ReplaceAllStringFunc(text, func(token string) string {
		return fn(classify(token[1:]), token)
	})
}
