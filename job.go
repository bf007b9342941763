package microbatch

// runBatch invoke the process function once for the drained requests and fan the outcome out.
// Either every request succeeds or every request receives the same error.
func (d *Dispatcher[T, R]) runBatch(requests []*Request[T, R]) {
	items := make([]T, len(requests))
	for i, req := range requests {
		items[i] = req.Item
	}

	result, err := d.invoke(items)
	if err != nil {
		d.failBatch(requests, err)
		return
	}

	values := result.expand(len(requests))
	for i, req := range requests {
		req.succeed(values[i])
	}
	d.succeeded.Add(uint64(len(requests)))
}

// invoke call the process function, converting a panic into a [*PanicError].
// Listeners are not called here, so a panicking listener is never mistaken for a processing failure.
func (d *Dispatcher[T, R]) invoke(items []T) (result Result[R], err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &PanicError{Value: r}
		}
	}()
	return d.process(items)
}

func (d *Dispatcher[T, R]) failBatch(requests []*Request[T, R], err error) {
	for _, handler := range d.errorHandlers {
		handler(len(requests), err)
	}
	for _, req := range requests {
		req.fail(err)
	}
	d.failed.Add(uint64(len(requests)))
}
