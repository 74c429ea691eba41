// Package syncstat implements the sync tracker: a rolling blocks-per-second
// estimator over accepted blocks, used to decide whether a node is still
// catching up to the network or has completed its initial sync.
package syncstat

// DefaultHistory is the default number of 1-second samples kept.
const DefaultHistory = 60

// DownloadingThreshold is the bps at or above which the node is considered to
// still be downloading rather than idling at the chain tip.
const DownloadingThreshold = 0.1

// Tracker is a rolling window of accepted-blocks-per-second samples.
type Tracker struct {
	history   []uint64
	capacity  int
	new       uint64
	completed bool
}

// New returns a tracker with the given history length (DefaultHistory if 0).
func New(capacity int) *Tracker {
	if capacity <= 0 {
		capacity = DefaultHistory
	}
	return &Tracker{capacity: capacity}
}

// RecordAccepted increments the in-flight count of blocks accepted since
// the last Tick, called once per block save_block performs that the local
// node did not itself originate.
func (t *Tracker) RecordAccepted() {
	t.new++
}

// Tick rotates the current count into the rolling history, called on the
// fixed 1-second schedule (§5).
func (t *Tracker) Tick() {
	t.history = append(t.history, t.new)
	if len(t.history) > t.capacity {
		t.history = t.history[len(t.history)-t.capacity:]
	}
	t.new = 0
}

// BPS is the arithmetic mean of the rolling history, in blocks per second.
func (t *Tracker) BPS() float64 {
	if len(t.history) == 0 {
		return 0
	}
	var sum uint64
	for _, v := range t.history {
		sum += v
	}
	return float64(sum) / float64(len(t.history))
}

// Downloading reports whether the node is still actively receiving blocks
// at a rate of at least DownloadingThreshold.
func (t *Tracker) Downloading() bool {
	return t.BPS() >= DownloadingThreshold
}

// MarkCompleted sets the sticky completed flag, once the node has caught
// up to within one slot of wall-clock time.
func (t *Tracker) MarkCompleted() {
	t.completed = true
}

// Completed reports whether MarkCompleted has ever been called.
func (t *Tracker) Completed() bool {
	return t.completed
}
