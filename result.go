package microbatch

// ProcessFn function to process a batch of items, in submission order.
// It returns either one result per item ([PerItem]) or one result for the whole batch ([Uniform]).
// A returned error or a panic fails every item of the batch.
type ProcessFn[T any, R any] func(items []T) (Result[R], error)

// Result is the outcome of a [ProcessFn].
// Use [PerItem] or [Uniform] to create one.
type Result[R any] struct {
	values  []R
	uniform bool
}

// PerItem create a [Result] whose values are matched with the batch items by position.
// If there are fewer values than items, the remaining items receive the zero value of R.
// Extra values are ignored.
func PerItem[R any](values []R) Result[R] {
	return Result[R]{values: values}
}

// Uniform create a [Result] that delivers the same value to every item of the batch.
func Uniform[R any](value R) Result[R] {
	return Result[R]{values: []R{value}, uniform: true}
}

// IsUniform whether this result is broadcast to the whole batch.
func (r Result[R]) IsUniform() bool {
	return r.uniform
}

// expand normalize the result to exactly n values.
func (r Result[R]) expand(n int) []R {
	out := make([]R, n)
	if r.uniform {
		v := r.values[0]
		for i := range out {
			out[i] = v
		}
		return out
	}
	copy(out, r.values)
	return out
}

// PerItemFn adapt a function returning one value per item into a [ProcessFn].
func PerItemFn[T any, R any](fn func([]T) ([]R, error)) ProcessFn[T, R] {
	return func(items []T) (Result[R], error) {
		values, err := fn(items)
		if err != nil {
			return Result[R]{}, err
		}
		return PerItem(values), nil
	}
}

// UniformFn adapt a function returning one value for the whole batch into a [ProcessFn].
func UniformFn[T any, R any](fn func([]T) (R, error)) ProcessFn[T, R] {
	return func(items []T) (Result[R], error) {
		value, err := fn(items)
		if err != nil {
			return Result[R]{}, err
		}
		return Uniform(value), nil
	}
}

// ProcessIgnoreResultFn adapt a function without result into a [ProcessFn].
// Every item resolves to the zero value of R on success.
func ProcessIgnoreResultFn[T any, R any](fn func([]T) error) ProcessFn[T, R] {
	return func(items []T) (Result[R], error) {
		return Result[R]{}, fn(items)
	}
}
