package oracle

import (
	"fmt"
	"strings"

	"github.com/tiktoken-go/tokenizer"
)

// RefinementHints are injected into the prompt on escalating attempts,
// matching the fixed set spec.md enumerates.
var RefinementHints = []string{
	"",
	"Make the minimal change necessary to fix the failure.",
	"Do not touch unrelated lines or reformat the file.",
	"Focus exclusively on the offending function and include a comment explaining the fix.",
}

// HintFor returns the refinement hint for the given attempt index,
// clamped to the last hint once attempts exceed the enumerated set.
func HintFor(attemptIndex int) string {
	if attemptIndex < 0 {
		attemptIndex = 0
	}
	if attemptIndex >= len(RefinementHints) {
		attemptIndex = len(RefinementHints) - 1
	}
	return RefinementHints[attemptIndex]
}

// BuildPrompt renders a Request into the text sent to a provider,
// truncating the code context to maxTokens using a real tokenizer so
// the budget matches what the provider actually bills against.
func BuildPrompt(req Request, maxTokens int) string {
	context := truncateToTokens(req.CodeContext, maxTokens)

	var b strings.Builder
	fmt.Fprintf(&b, "A test is failing with the following error:\n\n%s\n\n", req.ErrorMessage)
	fmt.Fprintf(&b, "Relevant code from %s:\n\n%s\n\n", req.FilePath, context)
	if hint := HintFor(req.AttemptIndex); hint != "" {
		fmt.Fprintf(&b, "%s\n\n", hint)
	}
	b.WriteString("Respond with a unified diff that fixes the failure, or an empty response if you cannot. ")
	b.WriteString("On the last line, report your confidence in the fix as \"Confidence: <0.0-1.0>\".")
	return b.String()
}

// truncateToTokens keeps the tail of text within a token budget, since
// the failing line is usually near the end of a traceback-adjacent
// context window.
func truncateToTokens(text string, maxTokens int) string {
	if maxTokens <= 0 {
		return text
	}
	enc, err := tokenizer.Get(tokenizer.Cl100kBase)
	if err != nil {
		return text
	}
	ids, _, err := enc.Encode(text)
	if err != nil || len(ids) <= maxTokens {
		return text
	}
	tail := ids[len(ids)-maxTokens:]
	truncated, err := enc.Decode(tail)
	if err != nil {
		return text
	}
	return truncated
}
