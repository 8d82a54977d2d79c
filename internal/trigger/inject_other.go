//go:build !windows

package trigger

// unavailableInjector is the injector on platforms without SendInput.
type unavailableInjector struct{}

// NewPlatformInjector returns an injector that always fails with
// ErrNotAvailable.
func NewPlatformInjector() Injector {
	return unavailableInjector{}
}

func (unavailableInjector) Inject(Key) error {
	return ErrNotAvailable
}
