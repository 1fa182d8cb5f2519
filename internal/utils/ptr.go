package utils

func Ptr[T any](v T) *T {
	return &v
}

// Deref returns the value v points to, or fallback when v is nil.
func Deref[T any](v *T, fallback T) T {
	if v == nil {
		return fallback
	}
	return *v
}
