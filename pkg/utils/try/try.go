package try

// Fataler is anything with Fatal, e.g. *testing.T or log.Logger.
type Fataler interface {
	Fatal(...any)
}

type helper interface {
	Helper()
}

// Either wraps a (value, error) pair.
type Either[T any] struct {
	value T
	err   error
}

func To[T any](value T, err error) Either[T] {
	return Either[T]{value: value, err: err}
}

func (e Either[T]) Get() (T, error) {
	return e.value, e.err
}

// OrFatal returns the value, or calls ftl.Fatal with the wrapped error.
func (e Either[T]) OrFatal(ftl Fataler) T {
	if e.err != nil {
		if h, ok := ftl.(helper); ok {
			h.Helper()
		}
		ftl.Fatal(e.err)
	}
	return e.value
}

func (e Either[T]) OrDefault(def T) T {
	if e.err != nil {
		return def
	}
	return e.value
}
