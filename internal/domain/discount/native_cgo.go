//go:build cgo && nativediscount

package discount

/*
static double kart_apply_discount(double price, int percent) {
	if (percent < 0 || percent > 70) return price;
	return price - (price * percent / 100.0);
}
*/
import "C"

// nativeBackend calls the C routine linked into the binary.
type nativeBackend struct{}

// Native returns the compiled-in native backend.
func Native() Backend {
	return nativeBackend{}
}

// NativeAvailable reports whether the binary carries the native routine.
func NativeAvailable() bool { return true }

func (nativeBackend) ApplyDiscount(price float64, percent int) (float64, error) {
	return float64(C.kart_apply_discount(C.double(price), C.int(percent))), nil
}
