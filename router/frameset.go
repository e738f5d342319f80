package router

import "go.viam.com/vio/estimator"

// frameSet tracks which camera channels have contributed an image for one
// capture timestamp. It is exclusively owned by the router and only touched
// inside its lock.
type frameSet struct {
	t      float64
	frames []estimator.ImageFrame
	valid  []bool
}

func newFrameSet(cameras int) frameSet {
	return frameSet{
		frames: make([]estimator.ImageFrame, cameras),
		valid:  make([]bool, cameras),
	}
}

// reset discards all contributions and rebinds the set to a new timestamp.
func (fs *frameSet) reset(t float64) {
	fs.t = t
	for i := range fs.valid {
		fs.valid[i] = false
		fs.frames[i] = estimator.ImageFrame{}
	}
}

func (fs *frameSet) set(camID int, frame estimator.ImageFrame) {
	fs.frames[camID] = frame
	fs.valid[camID] = true
}

func (fs *frameSet) anyValid() bool {
	for _, v := range fs.valid {
		if v {
			return true
		}
	}
	return false
}

func (fs *frameSet) allValid() bool {
	for _, v := range fs.valid {
		if !v {
			return false
		}
	}
	return true
}

// collect copies the completed set out for hand-off to the estimator.
func (fs *frameSet) collect() []estimator.ImageFrame {
	out := make([]estimator.ImageFrame, len(fs.frames))
	copy(out, fs.frames)
	return out
}
