package audio

// Drain reads from ch until the channel is closed, discarding all values.
// Use this to release a producer blocked on a channel whose data is no
// longer wanted (e.g. a [Capture] abandoned after a failure).
func Drain[T any](ch <-chan T) {
	for range ch {
	}
}
