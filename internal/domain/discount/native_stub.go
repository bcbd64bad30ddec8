//go:build !cgo || !nativediscount

package discount

// nativeBackend stands in when the binary is built without the native
// routine. Every call reports ErrBackendUnavailable.
type nativeBackend struct{}

// Native returns the native backend. In this build it is always unavailable.
func Native() Backend {
	return nativeBackend{}
}

// NativeAvailable reports whether the binary carries the native routine.
func NativeAvailable() bool { return false }

func (nativeBackend) ApplyDiscount(float64, int) (float64, error) {
	return 0, ErrBackendUnavailable
}
