package reviewerpool

import (
	"fmt"
	"os"
	"strings"
)

const (
	placeholderReviewerID = "{reviewer_id}"
	placeholderEndpoint   = "{broker_endpoint}"
)

// LoadPromptTemplate reads the reviewer prompt template once at
// start-up and confirms every placeholder it names can be resolved
// against endpoint; start-up fails otherwise.
func LoadPromptTemplate(path, endpoint string) (string, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read prompt template %s: %w", path, err)
	}
	text := string(raw)

	if !strings.Contains(text, placeholderReviewerID) {
		return "", fmt.Errorf("prompt template %s is missing the %s placeholder", path, placeholderReviewerID)
	}
	if !strings.Contains(text, placeholderEndpoint) {
		return "", fmt.Errorf("prompt template %s is missing the %s placeholder", path, placeholderEndpoint)
	}
	if strings.TrimSpace(endpoint) == "" {
		return "", fmt.Errorf("broker endpoint is empty; cannot resolve prompt template placeholders")
	}
	return text, nil
}

// RenderPrompt substitutes both placeholders for a concrete reviewer.
func RenderPrompt(template, reviewerID, endpoint string) string {
	out := strings.ReplaceAll(template, placeholderReviewerID, reviewerID)
	out = strings.ReplaceAll(out, placeholderEndpoint, endpoint)
	return out
}
