package workpool

import (
	"math"
	"math/cmplx"

	"gonum.org/v1/gonum/dsp/fourier"
)

// Window is the part of a message one WorkRequest filters. Offset and Count are in complex
// samples; Input and Output hold interleaved I/Q values.
type Window struct {
	Input  []int16
	Output []int16
	Offset int
	Count  int
}

// WorkRequest filters one window by fast correlation with a kernel spectrum. A request owns
// its FFT plan and scratch buffers; the kernel spectrum is shared read-only.
type WorkRequest struct {
	fftSize int
	kernel  []complex128
	fft     *fourier.CmplxFFT
	seq     []complex128
	coeff   []complex128
	window  Window
}

// NewWorkRequest returns a request for windows of fftSize complex samples. kernel must hold
// fftSize values, see KernelSpectrum.
func NewWorkRequest(kernel []complex128, fftSize int) *WorkRequest {
	r := &WorkRequest{}
	r.Reconfigure(kernel, fftSize)
	return r
}

// Reconfigure rebuilds the FFT plan and buffers. The current window is forgotten.
func (r *WorkRequest) Reconfigure(kernel []complex128, fftSize int) {
	if r.fft == nil || r.fftSize != fftSize {
		r.fft = fourier.NewCmplxFFT(fftSize)
		r.seq = make([]complex128, fftSize)
		r.coeff = make([]complex128, fftSize)
	}
	r.fftSize = fftSize
	r.kernel = kernel
	r.window = Window{}
}

func (r *WorkRequest) FFTSize() int   { return r.fftSize }
func (r *WorkRequest) Window() Window { return r.window }

// Begin assigns the next window to filter.
func (r *WorkRequest) Begin(w Window) { r.window = w }

// Process filters the window: fftSize complex samples are read from Offset, zero padded past
// the end of Input, and the first Count filtered samples are written at Offset in Output.
// Requests with disjoint windows can run concurrently on the same Output.
func (r *WorkRequest) Process() {
	w := r.window
	n := r.fftSize
	for i := range n {
		pos := 2 * (w.Offset + i)
		if pos+1 < len(w.Input) {
			r.seq[i] = complex(float64(w.Input[pos]), float64(w.Input[pos+1]))
		} else {
			r.seq[i] = 0
		}
	}

	r.coeff = r.fft.Coefficients(r.coeff, r.seq)
	for k := range r.coeff {
		r.coeff[k] *= r.kernel[k]
	}
	r.seq = r.fft.Sequence(r.seq, r.coeff)

	scale := 1 / float64(n)
	count := min(w.Count, n)
	for i := range count {
		pos := 2 * (w.Offset + i)
		if pos+1 >= len(w.Output) {
			break
		}
		v := r.seq[i]
		w.Output[pos] = toSample(real(v) * scale)
		w.Output[pos+1] = toSample(imag(v) * scale)
	}
}

func toSample(v float64) int16 {
	v = math.Round(v)
	switch {
	case v > math.MaxInt16:
		return math.MaxInt16
	case v < math.MinInt16:
		return math.MinInt16
	}
	return int16(v)
}

// KernelSpectrum returns the conjugated spectrum of taps, zero padded to fftSize and
// normalized by the largest tap magnitude. Taps beyond fftSize are ignored.
func KernelSpectrum(taps []complex128, fftSize int) []complex128 {
	padded := make([]complex128, fftSize)
	copy(padded, taps)
	var peak float64
	for _, t := range padded {
		peak = max(peak, cmplx.Abs(t))
	}
	if peak > 0 {
		for i := range padded {
			padded[i] /= complex(peak, 0)
		}
	}
	spectrum := fourier.NewCmplxFFT(fftSize).Coefficients(nil, padded)
	for i, c := range spectrum {
		spectrum[i] = cmplx.Conj(c)
	}
	return spectrum
}
