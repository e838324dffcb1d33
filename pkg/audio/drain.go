package audio

// Drain reads from ch until it is closed, discarding every value. Used to let
// a producer goroutine finish when its output is no longer wanted.
func Drain[T any](ch <-chan T) {
	for range ch {
	}
}
