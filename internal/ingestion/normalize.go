package ingestion

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/InfoSecJay/threat-detection-explorer-sub000/internal/domain/models"
)

// tacticNameIDs maps tactic names, compacted to lowercase with separators
// removed, to tactic IDs. Vendors spell the same tactic "defense-evasion",
// "defense_evasion", "DefenseEvasion" or "Defense Evasion".
var tacticNameIDs = map[string]string{
	"reconnaissance":      "TA0043",
	"resourcedevelopment": "TA0042",
	"initialaccess":       "TA0001",
	"execution":           "TA0002",
	"persistence":         "TA0003",
	"privilegeescalation": "TA0004",
	"defenseevasion":      "TA0005",
	"credentialaccess":    "TA0006",
	"discovery":           "TA0007",
	"lateralmovement":     "TA0008",
	"collection":          "TA0009",
	"commandandcontrol":   "TA0011",
	"exfiltration":        "TA0010",
	"impact":              "TA0040",
}

var tacticNameSeparators = strings.NewReplacer(" ", "", "-", "", "_", "")

// tacticIDFromName resolves a tactic name in any vendor spelling to its ID.
func tacticIDFromName(name string) (string, bool) {
	key := tacticNameSeparators.Replace(strings.ToLower(strings.TrimSpace(name)))
	id, ok := tacticNameIDs[key]
	return id, ok
}

var techniqueTagPattern = regexp.MustCompile(`(?i)^t(\d{4})(\.(\d{3}))?$`)

// extractMITRETags splits rule tags into tactic IDs, technique IDs and the
// remaining plain tags. Recognized shapes are "attack.t1059.001",
// "attack.ta0002" and "attack.execution"; everything else stays a tag.
func extractMITRETags(tags []string) (tactics, techniques, rest []string) {
	seenTactic := make(map[string]bool)
	seenTechnique := make(map[string]bool)

	for _, tag := range tags {
		normalized := strings.ToLower(strings.TrimSpace(tag))
		body, hasAttackPrefix := strings.CutPrefix(normalized, "attack.")
		if !hasAttackPrefix {
			rest = append(rest, tag)
			continue
		}

		switch {
		case techniqueTagPattern.MatchString(body):
			id := strings.ToUpper(body)
			if !seenTechnique[id] {
				seenTechnique[id] = true
				techniques = append(techniques, id)
			}
		case strings.HasPrefix(body, "ta") && len(body) == 6:
			id := strings.ToUpper(body)
			if !seenTactic[id] {
				seenTactic[id] = true
				tactics = append(tactics, id)
			}
		default:
			if id, ok := tacticIDFromName(body); ok {
				if !seenTactic[id] {
					seenTactic[id] = true
					tactics = append(tactics, id)
				}
			} else {
				rest = append(rest, tag)
			}
		}
	}

	return tactics, techniques, rest
}

// normalizeSeverity maps a vendor level string onto the shared scale.
func normalizeSeverity(level string) models.Severity {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "critical":
		return models.SeverityCritical
	case "high":
		return models.SeverityHigh
	case "medium", "moderate":
		return models.SeverityMedium
	case "low", "informational", "info":
		return models.SeverityLow
	default:
		return models.SeverityUnknown
	}
}

// normalizeStatus maps a vendor lifecycle string onto the shared scale.
func normalizeStatus(status string) models.Status {
	switch strings.ToLower(strings.TrimSpace(status)) {
	case "stable", "production", "release":
		return models.StatusStable
	case "experimental", "test", "testing", "beta":
		return models.StatusExperimental
	case "deprecated", "unsupported", "retired":
		return models.StatusDeprecated
	default:
		return models.StatusUnknown
	}
}

var ruleDateLayouts = []string{
	"2006-01-02",
	"2006/01/02",
	time.RFC3339,
	"2006-01-02 15:04:05",
}

// parseRuleDate parses the date formats vendors actually use. Returns nil
// when the value is empty or unparseable.
func parseRuleDate(value string) *time.Time {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil
	}
	for _, layout := range ruleDateLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			t = t.UTC()
			return &t
		}
	}
	return nil
}

// recordID builds a stable aggregate ID. Rules carrying a vendor rule ID keep
// it; everything else gets a deterministic UUID from the file path, so
// re-ingestion reproduces the same IDs.
func recordID(source models.Source, ruleID, sourceFile string) string {
	if ruleID != "" {
		return fmt.Sprintf("%s-%s", source, ruleID)
	}
	return fmt.Sprintf("%s-%s", source, uuid.NewSHA1(uuid.NameSpaceURL, []byte(string(source)+":"+sourceFile)))
}

// ruleURL joins a repository URL, branch and file path into a browsable link.
func ruleURL(repoURL, branch, relPath string) string {
	if repoURL == "" {
		return ""
	}
	if branch == "" {
		branch = "main"
	}
	return fmt.Sprintf("%s/blob/%s/%s", strings.TrimSuffix(repoURL, "/"), branch, relPath)
}

// toStringList accepts the scalar-or-list shapes YAML rules use for fields
// like author and references.
func toStringList(v interface{}) []string {
	switch val := v.(type) {
	case nil:
		return nil
	case string:
		if val == "" {
			return nil
		}
		return []string{val}
	case []interface{}:
		var out []string
		for _, item := range val {
			if s, ok := item.(string); ok && s != "" {
				out = append(out, s)
			}
		}
		return out
	case []string:
		return val
	default:
		return []string{fmt.Sprintf("%v", val)}
	}
}
