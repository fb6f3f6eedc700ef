package fftconv

import (
	"sync"

	"gonum.org/v1/gonum/dsp/fourier"
)

// An *fourier.FFT carries its own work buffers, so a plan is checked out by a
// single caller at a time. Plans are pooled per transform length.
var plans struct {
	mu    sync.Mutex
	pools map[int]*sync.Pool
}

func planPool(n int) *sync.Pool {
	plans.mu.Lock()
	defer plans.mu.Unlock()
	if plans.pools == nil {
		plans.pools = make(map[int]*sync.Pool)
	}
	p, ok := plans.pools[n]
	if !ok {
		p = &sync.Pool{New: func() any { return fourier.NewFFT(n) }}
		plans.pools[n] = p
	}
	return p
}

func getPlan(n int) *fourier.FFT {
	return planPool(n).Get().(*fourier.FFT)
}

func putPlan(n int, plan *fourier.FFT) {
	planPool(n).Put(plan)
}
