package ai

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/MacJediWizard/aegis/internal/models"
)

// categoryKeywords is checked in order; the first category with a matching keyword wins.
var categoryKeywords = []struct {
	category string
	keywords []string
}{
	{"malware", []string{"ransomware", "malware", "trojan", "virus", "rootkit", "worm"}},
	{"data_exfiltration", []string{"exfiltration", "data leak", "large upload", "dlp"}},
	{"account_compromise", []string{"privilege escalation", "credential", "brute force", "impossible travel", "mfa"}},
	{"phishing", []string{"phish", "spoof", "malicious link"}},
	{"denial_of_service", []string{"ddos", "denial of service", "flood"}},
	{"intrusion", []string{"exploit", "intrusion", "unauthorized", "lateral movement", "c2", "command and control"}},
	{"policy_violation", []string{"policy", "violation", "unapproved"}},
}

// HeuristicClient is a deterministic keyword-based Classifier and Advisor.
// It is used when no LLM is configured and as the fallback when the LLM fails.
type HeuristicClient struct{}

// NewHeuristicClient creates a HeuristicClient.
func NewHeuristicClient() *HeuristicClient {
	return &HeuristicClient{}
}

// ClassifyAlert picks a category from keywords in the alert text.
func (h *HeuristicClient) ClassifyAlert(_ context.Context, alert *models.SecurityAlert) (*Classification, error) {
	text := strings.ToLower(alert.Title + " " + alert.Description)

	c := &Classification{
		Category:   "other",
		Severity:   alert.Severity,
		Title:      alert.Title,
		Summary:    alert.Description,
		Confidence: 0.3,
	}
	for _, ck := range categoryKeywords {
		if containsAny(text, ck.keywords) {
			c.Category = ck.category
			c.Confidence = 0.6
			break
		}
	}
	if c.Title == "" {
		c.Title = fmt.Sprintf("%s alert from %s", alert.Severity, alert.Source)
	}
	if c.Summary == "" {
		c.Summary = c.Title
	}
	c.normalize(models.SeverityCritical)
	return c, nil
}

// Recommend returns a fixed set of recommendations per context type.
func (h *HeuristicClient) Recommend(_ context.Context, req AdviceRequest) ([]Advice, error) {
	var doc map[string]any
	if len(req.Context) > 0 {
		_ = json.Unmarshal(req.Context, &doc)
	}

	switch req.ContextType {
	case "incident":
		advice := []Advice{{
			Title:      "Contain the affected assets",
			Summary:    "Isolate impacted hosts and revoke exposed credentials before remediation.",
			Rationale:  "Containment limits further damage while the root cause is established.",
			Actions:    []string{"Isolate affected hosts", "Rotate credentials used on affected hosts", "Preserve logs for forensics"},
			Confidence: 0.7,
		}}
		if sev, _ := doc["severity"].(string); sev == string(models.SeverityCritical) {
			advice = append(advice, Advice{
				Title:      "Notify stakeholders",
				Summary:    "Critical incidents may trigger breach notification obligations.",
				Rationale:  "Regulatory deadlines start at discovery.",
				Actions:    []string{"Inform the incident response lead", "Assess notification requirements"},
				Confidence: 0.6,
			})
		}
		return advice, nil
	case "risk":
		return []Advice{{
			Title:      "Assign a risk owner and treatment plan",
			Summary:    "Every open risk needs an accountable owner and a dated treatment decision.",
			Rationale:  "Unowned risks are not reviewed.",
			Actions:    []string{"Assign an owner", "Choose mitigate, transfer, accept or avoid", "Schedule a review date"},
			Confidence: 0.6,
		}}, nil
	case "compliance", "control":
		return []Advice{{
			Title:      "Collect evidence for the control",
			Summary:    "Attach current evidence and map the control to its framework requirements.",
			Rationale:  "Auditors test controls against recorded evidence.",
			Actions:    []string{"Upload evidence", "Map to framework requirements", "Set an evidence refresh interval"},
			Confidence: 0.55,
		}}, nil
	case "vendor":
		return []Advice{{
			Title:      "Run a vendor security review",
			Summary:    "Request the vendor's latest security attestation and review data access.",
			Rationale:  "Third parties with data access extend the attack surface.",
			Actions:    []string{"Request SOC 2 or ISO 27001 report", "Review data processing agreement"},
			Confidence: 0.55,
		}}, nil
	case "awareness", "campaign":
		return []Advice{{
			Title:      "Schedule targeted awareness training",
			Summary:    "Users who failed the campaign should receive follow-up training.",
			Rationale:  "Repeat exposure lowers click rates.",
			Actions:    []string{"Enroll failed users in training", "Rerun a simulation in 30 days"},
			Confidence: 0.5,
		}}, nil
	}

	return []Advice{{
		Title:      "Review the item with the security team",
		Summary:    fmt.Sprintf("No specific guidance exists for context type %q.", req.ContextType),
		Rationale:  "Manual review is the safe default.",
		Actions:    []string{"Schedule a review"},
		Confidence: 0.3,
	}}, nil
}

func containsAny(s string, keywords []string) bool {
	for _, k := range keywords {
		if strings.Contains(s, k) {
			return true
		}
	}
	return false
}
