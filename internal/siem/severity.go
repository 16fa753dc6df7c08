package siem

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/MacJediWizard/aegis/internal/models"
)

// severityKeywords is evaluated from most to least severe.
var severityKeywords = []struct {
	severity models.Severity
	pattern  *regexp.Regexp
}{
	{models.SeverityCritical, regexp.MustCompile(`\b(ransomware|exfiltration|rootkit|privilege escalation|critical)\b`)},
	{models.SeverityHigh, regexp.MustCompile(`\b(malware|brute[ -]force|unauthorized|exploit|high)\b`)},
	{models.SeverityMedium, regexp.MustCompile(`\b(suspicious|failed login|scan|scanning|policy violation)\b`)},
}

var nativeSeverityWords = map[string]models.Severity{
	"informational": models.SeverityLow,
	"information":   models.SeverityLow,
	"info":          models.SeverityLow,
	"debug":         models.SeverityLow,
	"notice":        models.SeverityLow,
	"warning":       models.SeverityMedium,
	"warn":          models.SeverityMedium,
	"moderate":      models.SeverityMedium,
	"error":         models.SeverityHigh,
	"err":           models.SeverityHigh,
	"severe":        models.SeverityHigh,
	"crit":          models.SeverityCritical,
	"alert":         models.SeverityCritical,
	"emergency":     models.SeverityCritical,
	"fatal":         models.SeverityCritical,
}

// KeywordSeverity classifies text by keyword alone. It returns low when nothing matches.
func KeywordSeverity(text string) models.Severity {
	text = strings.ToLower(text)
	for _, k := range severityKeywords {
		if k.pattern.MatchString(text) {
			return k.severity
		}
	}
	return models.SeverityLow
}

// NativeSeverity maps a vendor's severity value onto the common scale.
func NativeSeverity(vendor, value string) (models.Severity, bool) {
	value = strings.ToLower(strings.TrimSpace(value))
	if value == "" {
		return "", false
	}
	if sev, ok := models.ParseSeverity(value); ok {
		return sev, true
	}
	if sev, ok := nativeSeverityWords[value]; ok {
		return sev, true
	}

	n, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return "", false
	}
	if vendor == VendorSplunk {
		// Splunk severities run 1 to 5.
		switch {
		case n >= 5:
			return models.SeverityCritical, true
		case n >= 4:
			return models.SeverityHigh, true
		case n >= 3:
			return models.SeverityMedium, true
		}
		return models.SeverityLow, true
	}
	// QRadar magnitude and GuardDuty severity both run 0 to 10.
	switch {
	case n >= 9:
		return models.SeverityCritical, true
	case n >= 7:
		return models.SeverityHigh, true
	case n >= 4:
		return models.SeverityMedium, true
	}
	return models.SeverityLow, true
}

// DetectSeverity returns the higher of the mapped native severity and the keyword severity.
func DetectSeverity(e *models.SIEMEvent) models.Severity {
	kw := KeywordSeverity(e.EventType + " " + e.Message)
	if native, ok := NativeSeverity(e.Vendor, e.NativeSeverity); ok {
		return models.MaxSeverity(native, kw)
	}
	return kw
}
