package deploy

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// =============================================================================
// Lifecycle Policy Document
// =============================================================================

// lifecyclePolicy is the JSON document ECR accepts for PutLifecyclePolicy.
type lifecyclePolicy struct {
	Rules []lifecycleRule `json:"rules"`
}

type lifecycleRule struct {
	RulePriority int           `json:"rulePriority"`
	Description  string        `json:"description"`
	Selection    ruleSelection `json:"selection"`
	Action       ruleAction    `json:"action"`
}

type ruleSelection struct {
	TagStatus   string `json:"tagStatus"`
	CountType   string `json:"countType"`
	CountNumber int    `json:"countNumber"`
}

type ruleAction struct {
	Type string `json:"type"`
}

// RetentionPolicy renders the keep-most-recent-N retention document. The
// document replaces any policy already on the repository; rules are never
// merged.
func RetentionPolicy(keep int) (string, error) {
	if keep < 1 {
		return "", fmt.Errorf("retention count must be at least 1, got %d", keep)
	}

	doc := lifecyclePolicy{
		Rules: []lifecycleRule{
			{
				RulePriority: 1,
				Description:  fmt.Sprintf("Keep the %d most recent images", keep),
				Selection: ruleSelection{
					TagStatus:   "any",
					CountType:   "imageCountMoreThan",
					CountNumber: keep,
				},
				Action: ruleAction{Type: "expire"},
			},
		},
	}

	text, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return "", err
	}
	return string(text), nil
}

// DefaultPolicyPath is where the rendered policy document is written before
// submission so the operator can inspect what was applied.
func DefaultPolicyPath() string {
	return filepath.Join(os.TempDir(), "shipper-lifecycle-policy.json")
}

// WritePolicyDocument writes the policy text to path. The file is a run
// artifact only; ECR receives the text directly.
func WritePolicyDocument(path, text string) error {
	return os.WriteFile(path, []byte(text), 0o644)
}
