package pointer

// Ref returns a pointer to v. Handy for literals in struct fields.
func Ref[T any](v T) *T {
	return &v
}

// Deref unwraps ptr. It panics on nil, like the * operator.
func Deref[T any](ptr *T) T {
	return *ptr
}

// SafeDeref unwraps ptr, yielding the zero value for nil.
func SafeDeref[T any](ptr *T) T {
	if ptr == nil {
		return *new(T)
	}
	return *ptr
}
