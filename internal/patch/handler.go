package patch

// Handler is one entry in the Pattern Fixer's closed catalogue: a pure
// function from a failure and its file's current bytes to the rewritten
// file content. Handlers never touch disk themselves; the caller writes through
// the Backup Vault.
type Handler interface {
	// Name identifies the handler for logging and the AttemptOutcome trail.
	Name() string
	// Matches reports whether this handler's trigger condition holds for f.
	Matches(f Failure) bool
	// Fix returns the rewritten file content and true if it applied a
	// change, or the input unchanged and false if it declined.
	Fix(f Failure, source string) (rewritten string, applied bool)
}

// Registration pairs a Handler with its priority in the catalogue.
type Registration struct {
	Handler  Handler
	Priority int
}

// Registry holds the pattern fixer's handlers in deterministic,
// priority order, mirroring the reference module's build-backend
// registry: handlers are tried highest priority first, and the first
// match wins.
type Registry struct {
	handlers []Registration
}

// NewRegistry returns a Registry pre-populated with the closed
// catalogue of five handlers plus the KeyError supplement. All are at
// priority 100 except IndentationError, registered at 90 and so tried
// last; among equal priorities registration order is kept.
func NewRegistry() *Registry {
	r := &Registry{}
	r.Register(missingAttributeHandler{}, 100)
	r.Register(assertionMismatchHandler{}, 100)
	r.Register(importErrorHandler{}, 100)
	r.Register(missingPositionalArgHandler{}, 100)
	r.Register(indentationErrorHandler{}, 90)
	r.Register(missingKeyHandler{}, 100)
	return r
}

// Register adds a handler to the catalogue at the given priority.
// Higher priority handlers are tried first.
func (r *Registry) Register(h Handler, priority int) {
	r.handlers = append(r.handlers, Registration{Handler: h, Priority: priority})
	// insertion sort keeps registration order stable among equal priorities
	for i := len(r.handlers) - 1; i > 0 && r.handlers[i].Priority > r.handlers[i-1].Priority; i-- {
		r.handlers[i], r.handlers[i-1] = r.handlers[i-1], r.handlers[i]
	}
}

// Fix walks the catalogue in priority order and returns the first
// handler's result that matches and applies. Returns applied=false if
// no handler in the catalogue matches this failure.
func (r *Registry) Fix(f Failure, source string) (name, rewritten string, applied bool) {
	for _, reg := range r.handlers {
		if !reg.Handler.Matches(f) {
			continue
		}
		rewritten, applied = reg.Handler.Fix(f, source)
		if applied {
			return reg.Handler.Name(), rewritten, true
		}
	}
	return "", source, false
}

// List returns the registered handlers in priority order.
func (r *Registry) List() []Registration {
	return r.handlers
}
