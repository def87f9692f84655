package fn

// Map applies f to each element of s.
func Map[T, R any](s []T, f func(T) R) []R {
	res := make([]R, 0, len(s))
	for _, v := range s {
		res = append(res, f(v))
	}

	return res
}

// Filter returns the elements of s for which pred returns true.
func Filter[T any](s []T, pred func(T) bool) []T {
	res := make([]T, 0, len(s))
	for _, v := range s {
		if pred(v) {
			res = append(res, v)
		}
	}

	return res
}

// Reduce folds s into a single value.
func Reduce[T, V any](s []V, f func(T, V) T) T {
	var accum T
	for _, v := range s {
		accum = f(accum, v)
	}

	return accum
}

// Set is a generic set.
type Set[T comparable] map[T]struct{}

// NewSet creates a set from the given items.
func NewSet[T comparable](items ...T) Set[T] {
	s := make(Set[T], len(items))
	for _, item := range items {
		s[item] = struct{}{}
	}

	return s
}

// Add adds an item to the set.
func (s Set[T]) Add(item T) {
	s[item] = struct{}{}
}

// Contains returns true if the item is in the set.
func (s Set[T]) Contains(item T) bool {
	_, ok := s[item]
	return ok
}

// Remove removes an item from the set.
func (s Set[T]) Remove(item T) {
	delete(s, item)
}
