package audio

import (
	"math"
	"math/cmplx"
	"sync"

	"gonum.org/v1/gonum/dsp/fourier"
)

// AnalysisWindow is the number of samples fed into each spectrum estimate.
const AnalysisWindow = 2048

// Analyzer is a frequency-analysis tap over a live sample stream. It keeps
// the most recent AnalysisWindow samples and computes a magnitude spectrum
// on demand, so visualization can poll it at its own cadence.
type Analyzer struct {
	mu   sync.Mutex
	fft  *fourier.FFT
	hann []float64
	ring []float32
	pos  int
}

func NewAnalyzer() *Analyzer {
	hann := make([]float64, AnalysisWindow)
	for i := range hann {
		hann[i] = 0.5 * (1 - math.Cos(2*math.Pi*float64(i)/float64(AnalysisWindow-1)))
	}
	return &Analyzer{
		fft:  fourier.NewFFT(AnalysisWindow),
		hann: hann,
		ring: make([]float32, AnalysisWindow),
	}
}

// Push appends samples to the analysis window, discarding the oldest.
func (a *Analyzer) Push(samples []float32) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, s := range samples {
		a.ring[a.pos] = s
		a.pos = (a.pos + 1) % len(a.ring)
	}
}

// Frequencies returns the current magnitude spectrum as AnalysisWindow/2+1
// floating-point bins.
func (a *Analyzer) Frequencies() []float32 {
	a.mu.Lock()
	seq := make([]float64, AnalysisWindow)
	for i := 0; i < AnalysisWindow; i++ {
		seq[i] = float64(a.ring[(a.pos+i)%AnalysisWindow]) * a.hann[i]
	}
	// The FFT plan carries scratch state, so the transform itself also
	// needs the lock.
	coeffs := a.fft.Coefficients(nil, seq)
	a.mu.Unlock()

	out := make([]float32, len(coeffs))
	for i, c := range coeffs {
		out[i] = float32(cmplx.Abs(c) / float64(AnalysisWindow))
	}
	return out
}
