package imm

// Observer receives progress callbacks from an Engine. Implementations used
// by concurrent computations must be safe for concurrent use.
type Observer interface {
	SampleGenerated(size int)
	EpochCompleted(epoch, samples int, coverage float64)
	SelectionCompleted(seeds int, coverage float64)
}

type nopObserver struct{}

func (nopObserver) SampleGenerated(int)              {}
func (nopObserver) EpochCompleted(int, int, float64) {}
func (nopObserver) SelectionCompleted(int, float64)  {}
