// Package siem normalizes vendor SIEM webhooks, classifies their severity,
// correlates them by source IP, and hands high severity events to SOAR.
package siem

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/MacJediWizard/aegis/internal/apperr"
	"github.com/MacJediWizard/aegis/internal/models"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

// Vendor identifiers.
const (
	VendorSplunk    = "splunk"
	VendorQRadar    = "qradar"
	VendorGuardDuty = "guardduty"
	VendorAzure     = "azure"
	VendorELK       = "elk"
	VendorGeneric   = "generic"
)

// MaxMessageBytes bounds the stored event message.
const MaxMessageBytes = 32 * 1024

var eventValidate *validator.Validate

func init() {
	eventValidate = validator.New()
	_ = eventValidate.RegisterValidation("maxbytes", validateMaxBytes)
}

func validateMaxBytes(fl validator.FieldLevel) bool {
	return len(fl.Field().String()) <= MaxMessageBytes
}

// DetectVendor identifies the payload's source by field presence.
func DetectVendor(payload map[string]any) string {
	switch {
	case has(payload, "result") || has(payload, "search_name"):
		return VendorSplunk
	case has(payload, "offense_id") || has(payload, "offense_type") || has(payload, "magnitude"):
		return VendorQRadar
	case (has(payload, "detail.type") && has(payload, "detail.severity")) || str(payload, "source") == "aws.guardduty":
		return VendorGuardDuty
	case has(payload, "properties.severity") || has(payload, "alertDisplayName"):
		return VendorAzure
	case (has(payload, "@timestamp") && has(payload, "message")) || has(payload, "_source"):
		return VendorELK
	}
	return VendorGeneric
}

// Normalize maps a vendor payload into a SIEMEvent. Severity is not set here; see DetectSeverity.
func Normalize(tenantID uuid.UUID, payload map[string]any) (*models.SIEMEvent, error) {
	if len(payload) == 0 {
		return nil, apperr.BadRequest("empty payload")
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, apperr.BadRequest("payload is not JSON encodable")
	}

	e := &models.SIEMEvent{
		ID:        uuid.New(),
		TenantID:  tenantID,
		Vendor:    DetectVendor(payload),
		Raw:       raw,
		CreatedAt: time.Now().UTC(),
	}

	var occurred any
	switch e.Vendor {
	case VendorSplunk:
		occurred = normalizeSplunk(e, payload)
	case VendorQRadar:
		occurred = normalizeQRadar(e, payload)
	case VendorGuardDuty:
		occurred = normalizeGuardDuty(e, payload)
	case VendorAzure:
		occurred = normalizeAzure(e, payload)
	case VendorELK:
		occurred = normalizeELK(e, payload)
	default:
		occurred = normalizeGeneric(e, payload)
	}

	e.Message = strings.TrimSpace(e.Message)
	if e.Message == "" {
		return nil, apperr.BadRequest("%s event has no message", e.Vendor)
	}
	e.OccurredAt = parseTime(occurred, e.CreatedAt)

	if err := eventValidate.Struct(e); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			return nil, apperr.BadRequest("invalid %s event: field %s failed %s", e.Vendor, strings.ToLower(verrs[0].Field()), verrs[0].Tag())
		}
		return nil, apperr.BadRequest("invalid %s event", e.Vendor)
	}
	return e, nil
}

func normalizeSplunk(e *models.SIEMEvent, p map[string]any) any {
	r := p
	if m, ok := p["result"].(map[string]any); ok {
		r = m
	}
	e.EventType = first(str(p, "search_name"), str(r, "signature"), str(r, "eventtype"))
	e.Message = first(str(r, "_raw"), str(r, "message"), str(r, "signature"), str(p, "search_name"))
	e.SourceIP = first(str(r, "src_ip"), str(r, "src"))
	e.DestinationIP = first(str(r, "dest_ip"), str(r, "dest"))
	e.Hostname = first(str(r, "host"), str(r, "dvc"))
	e.Username = first(str(r, "user"), str(r, "src_user"))
	e.NativeSeverity = first(str(r, "severity"), str(r, "urgency"))
	return firstAny(r["_time"], p["_time"])
}

func normalizeQRadar(e *models.SIEMEvent, p map[string]any) any {
	e.EventType = first(str(p, "offense_type"), str(p, "event_name"))
	e.Message = first(str(p, "description"), str(p, "offense_source"), str(p, "event_name"))
	e.SourceIP = first(str(p, "source_address"), str(p, "source_ip"), ipOrEmpty(str(p, "offense_source")))
	e.DestinationIP = first(str(p, "destination_address"), str(p, "destination_ip"))
	e.Hostname = str(p, "hostname")
	e.Username = first(str(p, "username"), str(p, "user"))
	e.NativeSeverity = first(str(p, "magnitude"), str(p, "severity"))
	return firstAny(p["start_time"], p["event_time"])
}

func normalizeGuardDuty(e *models.SIEMEvent, p map[string]any) any {
	e.EventType = str(p, "detail.type")
	e.Message = first(str(p, "detail.title"), str(p, "detail.description"), str(p, "detail.type"))
	e.SourceIP = first(
		str(p, "detail.service.action.networkConnectionAction.remoteIpDetails.ipAddressV4"),
		str(p, "detail.service.action.awsApiCallAction.remoteIpDetails.ipAddressV4"),
		str(p, "detail.service.action.portProbeAction.portProbeDetails.remoteIpDetails.ipAddressV4"),
	)
	e.DestinationIP = str(p, "detail.resource.instanceDetails.networkInterfaces.privateIpAddress")
	e.Hostname = str(p, "detail.resource.instanceDetails.instanceId")
	e.Username = str(p, "detail.resource.accessKeyDetails.userName")
	e.NativeSeverity = str(p, "detail.severity")
	return firstAny(p["time"], lookup(p, "detail.updatedAt"))
}

func normalizeAzure(e *models.SIEMEvent, p map[string]any) any {
	r := p
	if m, ok := p["properties"].(map[string]any); ok {
		r = m
	}
	e.EventType = first(str(r, "alertType"), str(r, "alertDisplayName"), str(p, "alertDisplayName"))
	e.Message = first(str(r, "description"), str(r, "alertDisplayName"), str(p, "alertDisplayName"))
	e.SourceIP = first(str(r, "sourceIp"), str(r, "extendedProperties.attacker source IP"), str(p, "SourceIP"))
	e.DestinationIP = str(r, "destinationIp")
	e.Hostname = first(str(r, "compromisedEntity"), str(r, "hostName"))
	e.Username = first(str(r, "userName"), str(r, "extendedProperties.user name"))
	e.NativeSeverity = first(str(r, "severity"), str(p, "severity"))
	return firstAny(r["timeGenerated"], r["startTimeUtc"], p["timeGenerated"])
}

func normalizeELK(e *models.SIEMEvent, p map[string]any) any {
	r := p
	if m, ok := p["_source"].(map[string]any); ok {
		r = m
	}
	e.EventType = first(str(r, "event.action"), str(r, "event.category"), str(r, "rule.name"))
	e.Message = first(str(r, "message"), str(r, "rule.description"))
	e.SourceIP = first(str(r, "source.ip"), str(r, "client.ip"))
	e.DestinationIP = first(str(r, "destination.ip"), str(r, "server.ip"))
	e.Hostname = first(str(r, "host.name"), str(r, "host.hostname"))
	e.Username = str(r, "user.name")
	e.NativeSeverity = first(str(r, "event.severity"), str(r, "log.level"))
	return r["@timestamp"]
}

func normalizeGeneric(e *models.SIEMEvent, p map[string]any) any {
	e.EventType = first(str(p, "event_type"), str(p, "type"), str(p, "category"))
	e.Message = first(str(p, "message"), str(p, "msg"), str(p, "description"), str(p, "title"))
	e.SourceIP = first(str(p, "source_ip"), str(p, "src_ip"), str(p, "src"))
	e.DestinationIP = first(str(p, "destination_ip"), str(p, "dest_ip"), str(p, "dst"))
	e.Hostname = first(str(p, "hostname"), str(p, "host"))
	e.Username = first(str(p, "username"), str(p, "user"))
	e.NativeSeverity = first(str(p, "severity"), str(p, "level"), str(p, "priority"))
	return firstAny(p["timestamp"], p["occurred_at"], p["time"])
}

// lookup resolves a dotted path through nested objects. A key containing dots
// that exists literally at the current level takes precedence.
func lookup(m map[string]any, path string) any {
	if v, ok := m[path]; ok {
		return v
	}
	head, rest, found := strings.Cut(path, ".")
	if !found {
		return nil
	}
	next, ok := m[head].(map[string]any)
	if !ok {
		// Arrays of objects (network interfaces, entities) use their first element.
		if arr, isArr := m[head].([]any); isArr && len(arr) > 0 {
			next, ok = arr[0].(map[string]any)
		}
		if !ok {
			return nil
		}
	}
	return lookup(next, rest)
}

func has(m map[string]any, path string) bool {
	return lookup(m, path) != nil
}

// str returns the value at path as a string. Numbers and booleans are formatted.
func str(m map[string]any, path string) string {
	switch v := lookup(m, path).(type) {
	case string:
		return strings.TrimSpace(v)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case json.Number:
		return v.String()
	case bool:
		return strconv.FormatBool(v)
	case nil:
		return ""
	default:
		return fmt.Sprint(v)
	}
}

func first(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

func firstAny(vals ...any) any {
	for _, v := range vals {
		if v != nil && v != "" {
			return v
		}
	}
	return nil
}

// ipOrEmpty keeps s only when it looks like an address; QRadar's offense_source may be a hostname.
func ipOrEmpty(s string) string {
	if eventValidate.Var(s, "ip") == nil {
		return s
	}
	return ""
}

// parseTime accepts RFC 3339 strings and epoch seconds or milliseconds.
// Missing or unparseable values fall back to def.
func parseTime(v any, def time.Time) time.Time {
	switch t := v.(type) {
	case string:
		if t == "" {
			return def
		}
		for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05.000Z0700", "2006-01-02 15:04:05"} {
			if parsed, err := time.Parse(layout, t); err == nil {
				return parsed.UTC()
			}
		}
		if f, err := strconv.ParseFloat(t, 64); err == nil {
			return epoch(f)
		}
	case float64:
		return epoch(t)
	}
	return def
}

func epoch(f float64) time.Time {
	// Values past the year 2286 in seconds are milliseconds.
	if f > 1e10 {
		return time.UnixMilli(int64(f)).UTC()
	}
	sec := int64(f)
	return time.Unix(sec, int64((f-float64(sec))*1e9)).UTC()
}
