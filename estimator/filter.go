package estimator

import (
	"sort"

	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/num/quat"
)

// covariance block layout of the filter error state.
const (
	covPos   = 0
	covVel   = 3
	covAtt   = 6
	covIndex = 9
	covSize  = 10
)

type channelID int

const (
	channelPrediction channelID = iota
	channelImage
	channelPose
	channelVelocity
	channelDepth
)

// measurementRecord is one queued sensor sample. It is consumed exactly once
// by the timeline and discarded after integration.
type measurementRecord struct {
	t       float64
	channel channelID
	payload interface{}
}

// Config holds the tuning of the reference filter. Process noise entries are
// continuous-time variances, applied per second of integration.
type Config struct {
	Gravity                float64
	InitialRefractiveIndex float64

	PositionNoise float64
	VelocityNoise float64
	AttitudeNoise float64
	IndexNoise    float64

	InitialPositionVar float64
	InitialVelocityVar float64
	InitialAttitudeVar float64
	InitialIndexVar    float64

	PoseMeasurementVar     float64
	VelocityMeasurementVar float64
	DepthMeasurementVar    float64
}

// DefaultConfig returns a usable tuning for bench and replay work.
func DefaultConfig() Config {
	return Config{
		Gravity:                9.81,
		InitialRefractiveIndex: 1.0,
		PositionNoise:          1e-4,
		VelocityNoise:          1e-2,
		AttitudeNoise:          1e-4,
		IndexNoise:             1e-6,
		InitialPositionVar:     1e-2,
		InitialVelocityVar:     1e-1,
		InitialAttitudeVar:     1e-2,
		InitialIndexVar:        1e-2,
		PoseMeasurementVar:     1e-3,
		VelocityMeasurementVar: 1e-2,
		DepthMeasurementVar:    1e-2,
	}
}

// frontState is the filter's actively mutated working state. It is never
// exposed outside the filter.
type frontState struct {
	t        float64
	pos      r3.Vector
	vel      r3.Vector
	att      quat.Number
	gyroBias r3.Vector
	accBias  r3.Vector
	n        float64
	features [MaxFeatures]FeatureState
	cov      *mat.SymDense

	lastImu ImuSample
	hasImu  bool
}

// Filter is the reference Estimator: a timestamp-sorted measurement timeline
// feeding a loosely coupled error-state recursion with a diagonal process
// model. Mutation must be serialized by the caller.
type Filter struct {
	cfg         Config
	initialized bool
	front       frontState
	safe        SafeState
	pending     []measurementRecord

	lastImageT   float64
	hasImageTime bool
}

var _ Estimator = (*Filter)(nil)

// NewFilter returns an uninitialized filter; it integrates nothing until one
// of the reset operations seeds it.
func NewFilter(cfg Config) *Filter {
	return &Filter{cfg: cfg}
}

// Initialized reports whether the filter has been seeded.
func (f *Filter) Initialized() bool {
	return f.initialized
}

func (f *Filter) enqueue(rec measurementRecord) {
	idx := sort.Search(len(f.pending), func(i int) bool { return f.pending[i].t > rec.t })
	f.pending = append(f.pending, measurementRecord{})
	copy(f.pending[idx+1:], f.pending[idx:])
	f.pending[idx] = rec
}

// AddPredictionMeasurement queues an IMU sample for integration.
func (f *Filter) AddPredictionMeasurement(m ImuSample, t float64) {
	f.enqueue(measurementRecord{t: t, channel: channelPrediction, payload: m})
}

// AddImageMeasurement queues a joint multi-camera image update.
func (f *Filter) AddImageMeasurement(frames []ImageFrame, t float64) {
	f.enqueue(measurementRecord{t: t, channel: channelImage, payload: frames})
	if !f.hasImageTime || t > f.lastImageT {
		f.lastImageT = t
		f.hasImageTime = true
	}
}

// AddPoseMeasurement queues an external pose update.
func (f *Filter) AddPoseMeasurement(m PoseSample, t float64) {
	f.enqueue(measurementRecord{t: t, channel: channelPose, payload: m})
}

// AddVelocityMeasurement queues an external velocity update.
func (f *Filter) AddVelocityMeasurement(m VelocitySample, t float64) {
	f.enqueue(measurementRecord{t: t, channel: channelVelocity, payload: m})
}

// AddDepthMeasurement queues a depth update.
func (f *Filter) AddDepthMeasurement(m DepthSample, t float64) {
	f.enqueue(measurementRecord{t: t, channel: channelDepth, payload: m})
}

// LastImageTime returns the timestamp of the newest image measurement seen.
func (f *Filter) LastImageTime() (float64, bool) {
	return f.lastImageT, f.hasImageTime
}

// AdvanceSafe integrates all queued measurements up to t and publishes the
// result as the new safe state if anything changed.
func (f *Filter) AdvanceSafe(t float64) bool {
	if !f.initialized {
		return false
	}
	integrated := false
	for len(f.pending) > 0 && f.pending[0].t <= t {
		rec := f.pending[0]
		f.pending = f.pending[1:]
		if rec.t < f.front.t {
			// arrived after the timeline already moved past it
			continue
		}
		f.integrate(rec)
		integrated = true
	}
	if integrated && f.front.t > f.safe.T {
		f.safe = f.snapshot()
		return true
	}
	return false
}

// SafeState returns a copy of the current safe state.
func (f *Filter) SafeState() SafeState {
	s := f.safe
	if f.safe.Covariance != nil {
		s.Covariance = mat.NewSymDense(covSize, nil)
		s.Covariance.CopySym(f.safe.Covariance)
	}
	return s
}

func (f *Filter) snapshot() SafeState {
	cov := mat.NewSymDense(covSize, nil)
	cov.CopySym(f.front.cov)
	return SafeState{
		T:               f.front.t,
		Position:        f.front.pos,
		Orientation:     f.front.att,
		Velocity:        f.front.vel,
		GyroBias:        f.front.gyroBias,
		AccelBias:       f.front.accBias,
		RefractiveIndex: f.front.n,
		Features:        f.front.features,
		Covariance:      cov,
	}
}

func (f *Filter) integrate(rec measurementRecord) {
	switch rec.channel {
	case channelPrediction:
		f.predict(rec.payload.(ImuSample), rec.t)
	case channelImage:
		f.updateImage(rec.payload.([]ImageFrame))
	case channelPose:
		f.updatePose(rec.payload.(PoseSample))
	case channelVelocity:
		f.updateVelocity(rec.payload.(VelocitySample))
	case channelDepth:
		f.updateDepth(rec.payload.(DepthSample))
	}
	if rec.t > f.front.t {
		f.front.t = rec.t
	}
}

// predict dead-reckons the front state from the previously stored IMU sample
// to the new one and inflates the covariance by the process noise.
func (f *Filter) predict(m ImuSample, t float64) {
	defer func() {
		f.front.lastImu = m
		f.front.hasImu = true
	}()
	if !f.front.hasImu {
		return
	}
	dt := t - f.front.t
	if dt <= 0 {
		return
	}

	gyro := f.front.lastImu.Gyro.Sub(f.front.gyroBias)
	acc := f.front.lastImu.Acc.Sub(f.front.accBias)

	f.front.att = quatNormalize(quat.Mul(f.front.att, quatFromScaledAxis(gyro.Mul(dt))))
	gravity := r3.Vector{Z: -f.cfg.Gravity}
	accWorld := quatRotate(f.front.att, acc).Add(gravity)
	f.front.pos = f.front.pos.Add(f.front.vel.Mul(dt))
	f.front.vel = f.front.vel.Add(accWorld.Mul(dt))

	for i := 0; i < 3; i++ {
		f.addVar(covPos+i, f.cfg.PositionNoise*dt+f.front.cov.At(covVel+i, covVel+i)*dt*dt)
		f.addVar(covVel+i, f.cfg.VelocityNoise*dt)
		f.addVar(covAtt+i, f.cfg.AttitudeNoise*dt)
	}
	f.addVar(covIndex, f.cfg.IndexNoise*dt)
}

func (f *Filter) addVar(i int, dv float64) {
	f.front.cov.SetSym(i, i, f.front.cov.At(i, i)+dv)
}

// scalarUpdate performs one Kalman gain step on a diagonal state entry and
// returns the corrected value.
func (f *Filter) scalarUpdate(i int, x, z, r float64) float64 {
	p := f.front.cov.At(i, i)
	k := p / (p + r)
	f.front.cov.SetSym(i, i, (1-k)*p)
	return x + k*(z-x)
}

func (f *Filter) updatePose(m PoseSample) {
	rPos := f.cfg.PoseMeasurementVar
	rAtt := f.cfg.PoseMeasurementVar
	if m.Cov != nil {
		rPos = (m.Cov.At(0, 0) + m.Cov.At(1, 1) + m.Cov.At(2, 2)) / 3
		rAtt = (m.Cov.At(3, 3) + m.Cov.At(4, 4) + m.Cov.At(5, 5)) / 3
	}
	f.front.pos = r3.Vector{
		X: f.scalarUpdate(covPos, f.front.pos.X, m.Pos.X, rPos),
		Y: f.scalarUpdate(covPos+1, f.front.pos.Y, m.Pos.Y, rPos),
		Z: f.scalarUpdate(covPos+2, f.front.pos.Z, m.Pos.Z, rPos),
	}

	pAtt := (f.front.cov.At(covAtt, covAtt) + f.front.cov.At(covAtt+1, covAtt+1) + f.front.cov.At(covAtt+2, covAtt+2)) / 3
	kAtt := pAtt / (pAtt + rAtt)
	f.front.att = quatSlerp(f.front.att, quatNormalize(m.Att), kAtt)
	for i := 0; i < 3; i++ {
		p := f.front.cov.At(covAtt+i, covAtt+i)
		f.front.cov.SetSym(covAtt+i, covAtt+i, (1-kAtt)*p)
	}
}

func (f *Filter) updateVelocity(m VelocitySample) {
	r := f.cfg.VelocityMeasurementVar
	if m.Cov != nil {
		r = (m.Cov.At(0, 0) + m.Cov.At(1, 1) + m.Cov.At(2, 2)) / 3
	}
	f.front.vel = r3.Vector{
		X: f.scalarUpdate(covVel, f.front.vel.X, m.Vel.X, r),
		Y: f.scalarUpdate(covVel+1, f.front.vel.Y, m.Vel.Y, r),
		Z: f.scalarUpdate(covVel+2, f.front.vel.Z, m.Vel.Z, r),
	}
}

func (f *Filter) updateDepth(m DepthSample) {
	r := m.Variance
	if r <= 0 {
		r = f.cfg.DepthMeasurementVar
	}
	f.front.pos.Z = f.scalarUpdate(covPos+2, f.front.pos.Z, m.Depth, r)
}

// updateImage folds tracked feature observations into the slot arena: new
// slots are seeded from the observation, existing slots get a scalar depth
// update. Bearings are tracker-owned and taken as observed.
func (f *Filter) updateImage(frames []ImageFrame) {
	for _, frame := range frames {
		for _, obs := range frame.Observations {
			if obs.Slot < 0 || obs.Slot >= MaxFeatures {
				continue
			}
			slot := &f.front.features[obs.Slot]
			if !slot.Valid {
				*slot = FeatureState{
					Valid:         true,
					Bearing:       obs.Bearing,
					Depth:         obs.Depth,
					DepthVariance: obs.DepthVariance,
				}
				continue
			}
			p := slot.DepthVariance
			r := obs.DepthVariance
			if r <= 0 {
				r = p
			}
			k := p / (p + r)
			slot.Depth += k * (obs.Depth - slot.Depth)
			slot.DepthVariance = (1 - k) * p
			slot.Bearing = obs.Bearing
		}
	}
}

func (f *Filter) reset(t float64) {
	cov := mat.NewSymDense(covSize, nil)
	for i := 0; i < 3; i++ {
		cov.SetSym(covPos+i, covPos+i, f.cfg.InitialPositionVar)
		cov.SetSym(covVel+i, covVel+i, f.cfg.InitialVelocityVar)
		cov.SetSym(covAtt+i, covAtt+i, f.cfg.InitialAttitudeVar)
	}
	cov.SetSym(covIndex, covIndex, f.cfg.InitialIndexVar)

	n := f.cfg.InitialRefractiveIndex
	if n == 0 {
		n = 1.0
	}
	f.front = frontState{t: t, att: quat.Number{Real: 1}, n: n, cov: cov}

	// measurements from before the reset epoch are meaningless now
	kept := f.pending[:0]
	for _, rec := range f.pending {
		if rec.t >= t {
			kept = append(kept, rec)
		}
	}
	f.pending = kept

	f.initialized = true
	f.safe = f.snapshot()
}

// ResetWithAccelerometer seeds orientation by aligning the measured specific
// force with the world vertical.
func (f *Filter) ResetWithAccelerometer(acc r3.Vector, t float64) {
	f.reset(t)
	if acc.Norm() > 0 {
		f.front.att = quatBetween(acc.Normalize(), r3.Vector{Z: 1})
	}
	f.safe = f.snapshot()
}

// ResetWithPose seeds position and orientation from an external pose.
func (f *Filter) ResetWithPose(pos r3.Vector, att quat.Number, t float64) {
	f.reset(t)
	f.front.pos = pos
	f.front.att = quatNormalize(att)
	f.safe = f.snapshot()
}

// ResetWithRefractiveIndex seeds the refractive-index state and relocates to
// the origin.
func (f *Filter) ResetWithRefractiveIndex(n float64, t float64) {
	f.reset(t)
	f.front.n = n
	f.safe = f.snapshot()
}
