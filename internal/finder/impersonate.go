package finder

// Impersonator switches the calling thread to a reduced identity. Revert
// must restore the thread's original identity.
type Impersonator interface {
	Impersonate() (revert func() error, err error)
	Close() error
}

// guardError marks a failure to enter or leave impersonation, as opposed to
// a failure of the guarded operation.
type guardError struct {
	op  string
	err error
}

func (e *guardError) Error() string {
	return "failed to " + e.op + ": " + e.err.Error()
}

func (e *guardError) Unwrap() error {
	return e.err
}

// withImpersonation runs fn under imp and reverts on every exit path,
// including a panic in fn.
func withImpersonation(imp Impersonator, fn func() error) (err error) {
	revert, err := imp.Impersonate()
	if err != nil {
		return &guardError{op: "impersonate", err: err}
	}
	defer func() {
		if rerr := revert(); rerr != nil && err == nil {
			err = &guardError{op: "revert impersonation", err: rerr}
		}
	}()
	return fn()
}
