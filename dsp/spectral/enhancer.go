// Package spectral implements a streaming overlap-add harmonic enhancer.
//
// The enhancer boosts spectral bins near harmonics of a target formant
// frequency while preserving their phase. Disjoint block processing would
// click at block boundaries; the 75%-overlap double-windowed overlap-add
// used here reconstructs the waveform continuously, at the cost of one
// frame of latency.
package spectral

import (
	"fmt"
	"math"

	algofft "github.com/MeKo-Christian/algo-fft"
	"github.com/cwbudde/algo-dsp/dsp/window"
)

const (
	// DefaultFrameSize is the FFT frame length used when no option
	// overrides it.
	DefaultFrameSize = 1024
	// MinFrameSize is the smallest accepted FFT frame length.
	MinFrameSize = 64

	// MaxBoost bounds the per-harmonic gain factor (1 + boost).
	MaxBoost = 4.0

	defaultBoost = 0.5

	// colaNorm compensates the squared periodic Hann window summed over
	// four overlapping frames (hop = frame/4), which adds up to 3/2.
	colaNorm = 2.0 / 3.0
)

type settings struct {
	frameSize int
}

// Option configures an Enhancer at construction time.
type Option func(*settings)

// WithFrameSize overrides the FFT frame size. The size must be a power of
// two and at least 64; smaller frames trade frequency resolution for lower
// latency.
func WithFrameSize(size int) Option {
	return func(s *settings) {
		s.frameSize = size
	}
}

// Enhancer is a streaming spectral processor with one frame of latency.
// Each hop it slides a Hann-windowed frame through a forward FFT, scales
// the complex bins nearest each harmonic of the target formant by
// (1 + boost), inverts, windows again and overlap-adds into the output.
//
// This processor is mono, real-time safe after construction, and not
// thread-safe.
type Enhancer struct {
	sampleRate float64
	frameSize  int
	hopSize    int

	targetFormant float64
	boost         float64

	plan         *algofft.Plan[complex128]
	windowCoeffs []float64

	spectrum  []complex128
	timeFrame []complex128

	inBuf   []float64 // sliding analysis buffer, length frameSize
	olaBuf  []float64 // overlap-add accumulator, length frameSize
	inStage []float64 // incoming samples for the current hop
	outHop  []float64 // finished samples being emitted this hop

	stagePos int
}

// NewEnhancer creates an enhancer for the given sample rate. The default
// frame size is 1024 with a hop of 256 (75% overlap).
func NewEnhancer(sampleRate float64, opts ...Option) (*Enhancer, error) {
	if sampleRate <= 0 || math.IsNaN(sampleRate) || math.IsInf(sampleRate, 0) {
		return nil, fmt.Errorf("spectral enhancer sample rate must be positive and finite: %f", sampleRate)
	}

	cfg := settings{frameSize: DefaultFrameSize}
	for _, opt := range opts {
		opt(&cfg)
	}

	if cfg.frameSize < MinFrameSize || !isPowerOfTwo(cfg.frameSize) {
		return nil, fmt.Errorf("spectral enhancer frame size must be power-of-two and >= %d: %d",
			MinFrameSize, cfg.frameSize)
	}

	plan, err := algofft.NewPlan64(cfg.frameSize)
	if err != nil {
		return nil, fmt.Errorf("spectral enhancer: failed to create FFT plan: %w", err)
	}

	coeffs := window.Generate(window.TypeHann, cfg.frameSize, window.WithPeriodic())
	if len(coeffs) != cfg.frameSize {
		return nil, fmt.Errorf("spectral enhancer: window generation failed for size %d", cfg.frameSize)
	}

	e := &Enhancer{
		sampleRate:    sampleRate,
		frameSize:     cfg.frameSize,
		hopSize:       cfg.frameSize / 4,
		targetFormant: 500,
		boost:         defaultBoost,
		plan:          plan,
		windowCoeffs:  coeffs,
		spectrum:      make([]complex128, cfg.frameSize),
		timeFrame:     make([]complex128, cfg.frameSize),
		inBuf:         make([]float64, cfg.frameSize),
		olaBuf:        make([]float64, cfg.frameSize),
		inStage:       make([]float64, cfg.frameSize/4),
		outHop:        make([]float64, cfg.frameSize/4),
	}

	return e, nil
}

// SampleRate returns the sample rate in Hz.
func (e *Enhancer) SampleRate() float64 { return e.sampleRate }

// FrameSize returns the FFT frame length in samples.
func (e *Enhancer) FrameSize() int { return e.frameSize }

// HopSize returns the overlap-add hop in samples (frame/4).
func (e *Enhancer) HopSize() int { return e.hopSize }

// Latency returns the processing delay in samples, one full frame.
func (e *Enhancer) Latency() int { return e.frameSize }

// TargetFormant returns the harmonic-series root frequency in Hz.
func (e *Enhancer) TargetFormant() float64 { return e.targetFormant }

// Boost returns the enhancement amount.
func (e *Enhancer) Boost() float64 { return e.boost }

// SetTargetFormant sets the root of the boosted harmonic series. The
// frequency must be positive and below Nyquist.
func (e *Enhancer) SetTargetFormant(freq float64) error {
	if freq <= 0 || freq >= e.sampleRate/2 || math.IsNaN(freq) {
		return fmt.Errorf("spectral enhancer target formant must be in (0, %g) Hz: %f", e.sampleRate/2, freq)
	}

	e.targetFormant = freq

	return nil
}

// SetBoost sets the enhancement amount in [0, 4]. Each targeted bin is
// scaled by (1 + boost).
func (e *Enhancer) SetBoost(amount float64) error {
	if amount < 0 || amount > MaxBoost || math.IsNaN(amount) {
		return fmt.Errorf("spectral enhancer boost must be in [0, %g]: %f", MaxBoost, amount)
	}

	e.boost = amount

	return nil
}

// ProcessSample pushes one input sample and returns the oldest processed
// output sample, delayed by Latency().
func (e *Enhancer) ProcessSample(x float64) float64 {
	y := e.outHop[e.stagePos]
	e.inStage[e.stagePos] = x
	e.stagePos++

	if e.stagePos == e.hopSize {
		e.stagePos = 0
		e.processHop()
	}

	return y
}

// ProcessBlock processes src into dst. The slices must have equal length;
// dst may alias src.
func (e *Enhancer) ProcessBlock(dst, src []float64) error {
	if len(dst) != len(src) {
		return fmt.Errorf("spectral enhancer buffer lengths differ: dst %d, src %d", len(dst), len(src))
	}

	for i, x := range src {
		dst[i] = e.ProcessSample(x)
	}

	return nil
}

// Reset clears all streaming state. The latency is unchanged.
func (e *Enhancer) Reset() {
	clearSlice(e.inBuf)
	clearSlice(e.olaBuf)
	clearSlice(e.inStage)
	clearSlice(e.outHop)
	e.stagePos = 0
}

// processHop slides one hop of input into the analysis buffer, transforms
// the frame, and emits the next hop of overlap-added output.
func (e *Enhancer) processHop() {
	n := e.frameSize
	hop := e.hopSize

	copy(e.inBuf, e.inBuf[hop:])
	copy(e.inBuf[n-hop:], e.inStage)

	for i := 0; i < n; i++ {
		e.spectrum[i] = complex(e.inBuf[i]*e.windowCoeffs[i], 0)
	}

	// Plan construction succeeded for this size, so the transforms cannot
	// fail on matching buffers; a failure leaves the frame silent.
	if err := e.plan.Forward(e.spectrum, e.spectrum); err != nil {
		clearComplex(e.spectrum)
	}

	e.boostHarmonics()

	if err := e.plan.Inverse(e.timeFrame, e.spectrum); err != nil {
		clearComplex(e.timeFrame)
	}

	for i := 0; i < n; i++ {
		e.olaBuf[i] += real(e.timeFrame[i]) * e.windowCoeffs[i]
	}

	for i := 0; i < hop; i++ {
		e.outHop[i] = e.olaBuf[i] * colaNorm
	}

	copy(e.olaBuf, e.olaBuf[hop:])
	clearSlice(e.olaBuf[n-hop:])
}

// boostHarmonics scales the complex bin nearest each harmonic of the
// target formant by (1 + boost), mirroring into the conjugate half so the
// inverse transform stays real.
func (e *Enhancer) boostHarmonics() {
	if e.boost == 0 {
		return
	}

	n := e.frameSize
	binHz := e.sampleRate / float64(n)
	gain := complex(1+e.boost, 0)

	for m := 1; ; m++ {
		freq := float64(m) * e.targetFormant
		if freq >= e.sampleRate/2 {
			break
		}

		k := int(math.Round(freq / binHz))
		if k <= 0 || k >= n/2 {
			continue
		}

		e.spectrum[k] *= gain
		e.spectrum[n-k] *= gain
	}
}

func isPowerOfTwo(n int) bool {
	return n > 0 && n&(n-1) == 0
}

func clearSlice(buf []float64) {
	for i := range buf {
		buf[i] = 0
	}
}

func clearComplex(buf []complex128) {
	for i := range buf {
		buf[i] = 0
	}
}
