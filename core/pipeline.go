package core

// Phase is one stage of request processing. Phases run in declaration order;
// a module returning a non-Continue outcome halts the current phase.
type Phase int

const (
	PhaseInit Phase = iota
	PhaseHeaderParse
	PhaseBodyParse
	PhaseRoute
	PhaseAccess
	PhaseData
	PhaseResponse
	PhaseLog
)

func (p Phase) String() string {
	switch p {
	case PhaseInit:
		return "init"
	case PhaseHeaderParse:
		return "header_parse"
	case PhaseBodyParse:
		return "body_parse"
	case PhaseRoute:
		return "route"
	case PhaseAccess:
		return "access"
	case PhaseData:
		return "data"
	case PhaseResponse:
		return "response"
	case PhaseLog:
		return "log"
	default:
		return "unknown"
	}
}

type outcomeKind int

const (
	outcomeContinue outcomeKind = iota
	outcomeRespond
	outcomeFail
)

// Outcome is the result of running one module in one phase.
type Outcome struct {
	kind outcomeKind
	resp *Response
	err  error
}

// Continue proceeds to the next module, then to the next phase.
func Continue() Outcome { return Outcome{kind: outcomeContinue} }

// Respond short-circuits the pipeline with a finished response. The Log
// phase still runs afterwards.
func Respond(resp *Response) Outcome { return Outcome{kind: outcomeRespond, resp: resp} }

// Fail reports a module error; the pipeline converts it to a 500.
func Fail(err error) Outcome { return Outcome{kind: outcomeFail, err: err} }

// IsContinue reports whether the pipeline should keep going.
func (o Outcome) IsContinue() bool { return o.kind == outcomeContinue }

// Response returns the short-circuit response, if any.
func (o Outcome) Response() *Response { return o.resp }

// Err returns the module error, if any.
func (o Outcome) Err() error { return o.err }

// Module is a unit of request processing participating in one or more
// phases. Modules must be safe for concurrent use: one instance serves all
// requests on a listener.
type Module interface {
	Name() string
	Phases() []Phase
	Run(phase Phase, rc *RequestContext, app *App) Outcome
}

// Registry is an ordered list of modules scoped to one level: listener,
// route, or operation.
type Registry struct {
	modules []Module
}

// NewRegistry builds a registry preserving registration order.
func NewRegistry(mods ...Module) *Registry {
	return &Registry{modules: mods}
}

// Add appends a module. Used only while building a state snapshot; a
// registry is immutable once installed.
func (r *Registry) Add(m Module) {
	r.modules = append(r.modules, m)
}

// Modules returns the registered modules in order.
func (r *Registry) Modules() []Module {
	if r == nil {
		return nil
	}
	return r.modules
}

// HasPhase reports whether any module participates in the phase.
func (r *Registry) HasPhase(p Phase) bool {
	if r == nil {
		return false
	}
	for _, m := range r.modules {
		for _, mp := range m.Phases() {
			if mp == p {
				return true
			}
		}
	}
	return false
}

// RunPhase iterates the modules participating in the phase, in registration
// order, stopping at the first non-Continue outcome.
func (r *Registry) RunPhase(p Phase, rc *RequestContext, app *App) Outcome {
	if r == nil {
		return Continue()
	}
	for _, m := range r.modules {
		if !moduleInPhase(m, p) {
			continue
		}
		if out := m.Run(p, rc, app); !out.IsContinue() {
			return out
		}
	}
	return Continue()
}

func moduleInPhase(m Module, p Phase) bool {
	for _, mp := range m.Phases() {
		if mp == p {
			return true
		}
	}
	return false
}
