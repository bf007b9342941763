package microbatch

// Request pairs a submitted item with the [Future] that will receive its result.
// A Request is created by Submit and completed by exactly one batch.
type Request[T any, R any] struct {
	Item   T
	future *Future[R]
}

// NewRequest create a Request for item, with listeners attached to its future.
// Submit creates its own requests, this is only needed to pre-fill a custom [Queue] before Run.
func NewRequest[T any, R any](item T, options ...SubmitOption[R]) *Request[T, R] {
	return &Request[T, R]{
		Item:   item,
		future: newFuture(options...),
	}
}

// Future return the result handle of this request.
func (r *Request[T, R]) Future() *Future[R] {
	return r.future
}

func (r *Request[T, R]) succeed(v R) {
	r.future.complete(v, nil)
}

func (r *Request[T, R]) fail(err error) {
	var zero R
	r.future.complete(zero, err)
}
