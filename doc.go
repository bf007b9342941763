// Package microbatch groups individually submitted items into batches and processes each batch with a single call.
//
// A [Dispatcher] accepts items through Submit, which returns a [Future] of the item result.
// Queued items are drained together when the queue is full, when the interval elapses,
// when [Dispatcher.Flush] is called, or when the dispatcher shuts down.
// Every drained group is passed to the [ProcessFn] in submission order,
// and its outcome is fanned back out to the futures of the group.
//
// [Cluster] partitions items over several dispatchers, and [Loader] deduplicates keys being loaded.
package microbatch
