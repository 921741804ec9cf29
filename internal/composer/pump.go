package composer

type drainState int

const (
	drainNone drainState = iota
	drainRetry
	drainConsumed
)

// pump drives one track until its encoder reaches the end of stream.
type pump interface {
	// step advances every stage of the pump without blocking
	// and returns whether any stage made progress.
	step() (bool, error)
	isFinished() bool
	writtenPresentationTimeUs() int64
	close()
}
