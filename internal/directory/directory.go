// Package directory provides the LDAP external collaborator boundary
// (spec.md §1 Non-goals: "the LDAP directory" is named only via the
// interface it exposes to the core, never implemented). No concrete LDAP
// client exists anywhere in the pack, so this package offers the async
// dispatch shape controller.Directory requires — a bind function run on its
// own goroutine, with its result delivered back through the supplied
// callback exactly once — leaving the actual protocol client to be plugged
// in by whoever wires a real LDAP library at the cmd/ layer.
package directory

import "github.com/openvocs/vocsd/internal/controller"

// BindFunc performs one synchronous bind attempt against the directory
// backend. Implementations should be safe to call concurrently — Async may
// invoke several bind functions from different goroutines.
type BindFunc func(user, password string) error

// Async adapts a synchronous BindFunc into an async controller.Directory by
// running it on its own goroutine and reporting the outcome through the
// correlator-driven callback contract spec.md §5 requires (no in-function
// await; resumption via a named callback called exactly once).
type Async struct {
	bind BindFunc
}

// New wraps bind as a controller.Directory.
func New(bind BindFunc) *Async {
	return &Async{bind: bind}
}

// Bind satisfies controller.Directory. It returns immediately; done fires
// once the bind goroutine completes.
func (a *Async) Bind(user, password string, done func(controller.BindResult)) {
	go func() {
		if err := a.bind(user, password); err != nil {
			done(controller.BindResult{OK: false, Err: err})
			return
		}
		done(controller.BindResult{OK: true})
	}()
}
