package analysis

import "github.com/ashureev/cryptomind-desk/internal/domain"

// Action is what the engine should do with an event.
type Action int

const (
	// ActionCreate starts a new session.
	ActionCreate Action = iota + 1
	// ActionBind applies the event to an existing session.
	ActionBind
	// ActionDrop discards the event.
	ActionDrop
)

func (a Action) String() string {
	switch a {
	case ActionCreate:
		return "create"
	case ActionBind:
		return "bind"
	case ActionDrop:
		return "drop"
	default:
		return "unknown"
	}
}

// Rule names the resolution rule that decided an event's target.
type Rule string

const (
	RuleStarted       Rule = "started"
	RuleSymbolMatch   Rule = "symbol-match"
	RuleActiveSession Rule = "active-session"
	RuleMostRecent    Rule = "most-recent"
	RuleEmptyRegistry Rule = "empty-registry"
)

// Resolution is the outcome of Resolve.
type Resolution struct {
	Action    Action
	SessionID string
	Rule      Rule
}

// Resolve picks the session an event belongs to. It only reads reg.
//
// Started events always create. Data events go, in order of preference, to
// the newest in-flight session whose symbol matches, the active session,
// or the newest session of any status. With no sessions at all the event
// is dropped.
func Resolve(ev Event, reg *Registry, activeID string) Resolution {
	if ev.Kind == EventStarted {
		return Resolution{Action: ActionCreate, Rule: RuleStarted}
	}

	if key := NormalizeSymbol(ev.Symbol); key != "" {
		var match string
		reg.newestFirst(func(s *domain.AnalysisSession) bool {
			if s.Status.InFlight() && NormalizeSymbol(s.Symbol) == key {
				match = s.ID
				return true
			}
			return false
		})
		if match != "" {
			return Resolution{Action: ActionBind, SessionID: match, Rule: RuleSymbolMatch}
		}
	}

	if activeID != "" {
		if _, ok := reg.status(activeID); ok {
			return Resolution{Action: ActionBind, SessionID: activeID, Rule: RuleActiveSession}
		}
	}

	if newest, ok := reg.Newest(); ok {
		return Resolution{Action: ActionBind, SessionID: newest.ID, Rule: RuleMostRecent}
	}

	return Resolution{Action: ActionDrop, Rule: RuleEmptyRegistry}
}
