package soar

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/MacJediWizard/aegis/internal/events"
	"github.com/MacJediWizard/aegis/internal/models"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Built-in action names.
const (
	ActionLog            = "log"
	ActionNotify         = "notify"
	ActionBlockIP        = "block_ip"
	ActionIsolateHost    = "isolate_host"
	ActionCreateTicket   = "create_ticket"
	ActionEnrichIP       = "enrich_ip"
	ActionCreateIncident = "create_incident"
)

// ErrUnknownAction is returned when a step names an action that is not registered.
var ErrUnknownAction = errors.New("unknown action")

// ActionInput is what an action sees when it runs.
type ActionInput struct {
	TenantID uuid.UUID
	Playbook *models.Playbook
	Step     models.PlaybookStep
	// Event is nil for runs started without a triggering event.
	Event *models.SIEMEvent
}

// Param returns the string parameter key, or "" when absent.
func (in ActionInput) Param(key string) string {
	v, ok := in.Step.Params[key]
	if !ok || v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}

// Action performs one playbook step.
type Action func(ctx context.Context, in ActionInput) (map[string]any, error)

// IncidentSourcePlaybook labels incidents opened by the create_incident action.
const IncidentSourcePlaybook = "playbook"

// IncidentCreator opens incidents for playbooks. incidents.Service
// satisfies it, so playbook incidents are announced like any other.
type IncidentCreator interface {
	Open(ctx context.Context, inc *models.SecurityIncident, source string) error
}

// Registry maps action names to implementations.
type Registry struct {
	actions map[string]Action
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{actions: make(map[string]Action)}
}

// NewDefaultRegistry registers the built-in actions. Only create_incident and
// notify have side effects; the containment actions are simulated.
func NewDefaultRegistry(incidents IncidentCreator, publisher events.Publisher, logger zerolog.Logger) *Registry {
	logger = logger.With().Str("component", "soar_actions").Logger()

	r := NewRegistry()
	r.Register(ActionLog, logAction(logger))
	r.Register(ActionNotify, notifyAction(publisher))
	r.Register(ActionBlockIP, blockIPAction)
	r.Register(ActionIsolateHost, isolateHostAction)
	r.Register(ActionCreateTicket, createTicketAction)
	r.Register(ActionEnrichIP, enrichIPAction)
	r.Register(ActionCreateIncident, createIncidentAction(incidents))
	return r
}

// Register adds or replaces an action.
func (r *Registry) Register(name string, a Action) {
	r.actions[name] = a
}

// Lookup returns the action registered under name.
func (r *Registry) Lookup(name string) (Action, bool) {
	a, ok := r.actions[name]
	return a, ok
}

// Names returns the registered action names in sorted order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.actions))
	for n := range r.actions {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

func logAction(logger zerolog.Logger) Action {
	return func(_ context.Context, in ActionInput) (map[string]any, error) {
		msg := in.Param("message")
		if msg == "" {
			msg = "playbook step executed"
		}
		ev := logger.Info().
			Str("tenant_id", in.TenantID.String()).
			Str("playbook", in.Playbook.Name).
			Str("step", in.Step.Name)
		if in.Event != nil {
			ev = ev.Str("event_id", in.Event.ID.String())
		}
		ev.Msg(msg)
		return map[string]any{"logged": true, "message": msg}, nil
	}
}

func notifyAction(publisher events.Publisher) Action {
	return func(ctx context.Context, in ActionInput) (map[string]any, error) {
		channel := in.Param("channel")
		if channel == "" {
			channel = "default"
		}
		payload := map[string]any{
			"playbook_id": in.Playbook.ID,
			"playbook":    in.Playbook.Name,
			"step":        in.Step.Name,
			"channel":     channel,
			"message":     in.Param("message"),
		}
		if in.Event != nil {
			payload["event_id"] = in.Event.ID
			payload["severity"] = in.Event.Severity
		}
		if err := publisher.Publish(ctx, in.TenantID, events.SOARNotify, payload); err != nil {
			return nil, fmt.Errorf("publish notification: %w", err)
		}
		return map[string]any{"published": true, "channel": channel}, nil
	}
}

func targetIP(in ActionInput) string {
	if ip := in.Param("ip"); ip != "" {
		return ip
	}
	if in.Event != nil {
		return in.Event.SourceIP
	}
	return ""
}

func blockIPAction(_ context.Context, in ActionInput) (map[string]any, error) {
	ip := targetIP(in)
	if ip == "" {
		return nil, errors.New("block_ip: no ip parameter and event has no source ip")
	}
	return map[string]any{"simulated": true, "ip": ip, "blocked": true}, nil
}

func isolateHostAction(_ context.Context, in ActionInput) (map[string]any, error) {
	host := in.Param("host")
	if host == "" && in.Event != nil {
		host = in.Event.Hostname
	}
	if host == "" {
		return nil, errors.New("isolate_host: no host parameter and event has no hostname")
	}
	return map[string]any{"simulated": true, "host": host, "isolated": true}, nil
}

func createTicketAction(_ context.Context, in ActionInput) (map[string]any, error) {
	system := in.Param("system")
	if system == "" {
		system = "ticketing"
	}
	id := strings.ToUpper(uuid.NewString()[:8])
	return map[string]any{"simulated": true, "system": system, "ticket_id": "SIM-" + id}, nil
}

func enrichIPAction(_ context.Context, in ActionInput) (map[string]any, error) {
	ip := targetIP(in)
	if ip == "" {
		return nil, errors.New("enrich_ip: no ip parameter and event has no source ip")
	}
	return map[string]any{"simulated": true, "ip": ip, "reputation": "unknown"}, nil
}

func createIncidentAction(incidents IncidentCreator) Action {
	return func(ctx context.Context, in ActionInput) (map[string]any, error) {
		title := in.Param("title")
		severity := models.SeverityHigh
		description := ""
		if in.Event != nil {
			severity = in.Event.Severity
			description = in.Event.Message
			if title == "" {
				title = in.Event.Message
			}
		}
		if s, ok := models.ParseSeverity(in.Param("severity")); ok {
			severity = s
		}
		if title == "" {
			title = "Incident opened by playbook " + in.Playbook.Name
		}
		inc := models.NewSecurityIncident(in.TenantID, models.Truncate(title, models.MaxTitleLen), severity)
		inc.Description = description
		inc.Category = in.Param("category")
		if err := incidents.Open(ctx, inc, IncidentSourcePlaybook); err != nil {
			return nil, err
		}
		return map[string]any{"incident_id": inc.ID.String()}, nil
	}
}
