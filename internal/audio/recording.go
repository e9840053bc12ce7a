// SPDX-License-Identifier: MIT
package audio

import (
	"errors"
	"fmt"
	"math"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"noisegate/internal/config"
	applog "noisegate/internal/log"
	"noisegate/internal/ringbuf"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

const drainInterval = 10 * time.Millisecond

// recorder receives gated buffers from the capture callback through its own
// ring and encodes them to WAV on a separate goroutine, keeping file I/O off
// the audio thread.
type recorder struct {
	ring       *ringbuf.Ring
	file       *os.File
	wavEncoder *wav.Encoder
	sampleBuf  *audio.IntBuffer // Reusable buffer for format conversion
	scratch    []float32
	fullScale  float64
	dropped    atomic.Uint64

	done chan struct{}
	wg   sync.WaitGroup
	err  error // First encode error, owned by the drain goroutine
}

// StartRecording begins writing the gated signal to filename as PCM WAV at
// the configured bit depth.
func (e *Engine) StartRecording(filename string) error {
	if e.recorder.Load() != nil {
		return fmt.Errorf("already recording")
	}

	file, err := os.Create(filename)
	if err != nil {
		return err
	}

	a := e.config.Audio
	bitDepth := e.config.Recording.BitDepth
	if bitDepth == 0 {
		bitDepth = config.DefaultBitDepth
	}

	bufferSamples := a.FramesPerBuffer * a.Channels
	r := &recorder{
		// About a second of audio between the callback and the disk.
		ring:       ringbuf.New(max(int(a.SampleRate)*a.Channels, 4*bufferSamples)),
		file:       file,
		wavEncoder: wav.NewEncoder(file, int(a.SampleRate), bitDepth, a.Channels, 1),
		sampleBuf: &audio.IntBuffer{
			Format: &audio.Format{
				NumChannels: a.Channels,
				SampleRate:  int(a.SampleRate),
			},
			SourceBitDepth: bitDepth,
			Data:           make([]int, bufferSamples),
		},
		scratch:   make([]float32, bufferSamples),
		fullScale: math.Exp2(float64(bitDepth-1)) - 1,
		done:      make(chan struct{}),
	}

	if !e.recorder.CompareAndSwap(nil, r) {
		file.Close()
		os.Remove(filename)
		return fmt.Errorf("already recording")
	}

	r.wg.Add(1)
	go r.run()

	applog.Infof("Recording: writing %d-bit WAV to %s", bitDepth, filename)
	return nil
}

// StopRecording flushes buffered audio and closes the file. It is a no-op
// when not recording.
func (e *Engine) StopRecording() error {
	r := e.recorder.Swap(nil)
	if r == nil {
		return nil
	}

	close(r.done)
	r.wg.Wait()

	if n := r.dropped.Load(); n > 0 {
		applog.Warnf("Recording: %d samples dropped, disk too slow", n)
	}

	var errs []error
	if err := r.wavEncoder.Close(); err != nil {
		errs = append(errs, err)
	}
	if err := r.file.Close(); err != nil {
		errs = append(errs, err)
	}
	if r.err != nil {
		errs = append(errs, fmt.Errorf("write recording: %w", r.err))
	}

	applog.Infof("Recording: stopped")
	return errors.Join(errs...)
}

// IsRecording reports whether a recording is in progress.
func (e *Engine) IsRecording() bool {
	return e.recorder.Load() != nil
}

// push is called from the capture callback. Whole buffers are queued or
// dropped, never split, so frames stay aligned.
func (r *recorder) push(buf []float32) {
	if r.ring.Free() < len(buf) {
		r.dropped.Add(uint64(len(buf)))
		return
	}
	r.ring.Write(buf)
}

func (r *recorder) run() {
	defer r.wg.Done()

	ticker := time.NewTicker(drainInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			r.drain()
		case <-r.done:
			r.drain()
			return
		}
	}
}

// drain encodes everything queued so far.
func (r *recorder) drain() {
	for {
		n := r.ring.Read(r.scratch)
		if n == 0 {
			return
		}

		r.sampleBuf.Data = r.sampleBuf.Data[:n]
		for i, s := range r.scratch[:n] {
			r.sampleBuf.Data[i] = quantize(s, r.fullScale)
		}

		if err := r.wavEncoder.Write(r.sampleBuf); err != nil && r.err == nil {
			r.err = err
			applog.Errorf("Error writing to WAV file: %v", err)
		}
	}
}

// quantize converts a float sample to a signed integer at the given full
// scale, clipping out of range input.
func quantize(s float32, fullScale float64) int {
	v := math.Round(float64(s) * fullScale)
	switch {
	case v > fullScale:
		v = fullScale
	case v < -fullScale-1:
		v = -fullScale - 1
	case v != v:
		v = 0
	}
	return int(v)
}
