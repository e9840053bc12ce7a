// SPDX-License-Identifier: MIT
package gate

import (
	"errors"
	"math"
	"math/rand/v2"
	"strconv"
	"testing"

	"noisegate/pkg/utils"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/floats/scalar"
)

const (
	testSampleRate = 48000
	testFrameSize  = 512
)

func newTestGate(t testing.TB, p Params, channels int) *Engine {
	t.Helper()
	e, err := New(p, testSampleRate, channels)
	if err != nil {
		t.Fatalf("New() unexpected error: %v", err)
	}
	return e
}

// trajectory processes src one frame at a time and records the attenuation
// after every frame.
func trajectory(t testing.TB, e *Engine, src []float32) []float64 {
	t.Helper()
	ch := e.Channels()
	att := make([]float64, 0, len(src)/ch)
	for i := 0; i < len(src); i += ch {
		frame := src[i : i+ch]
		if err := e.Process(frame, frame); err != nil {
			t.Fatalf("Process() unexpected error: %v", err)
		}
		att = append(att, float64(e.Attenuation()))
	}
	return att
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	tests := []struct {
		desc       string
		sampleRate float64
		channels   int
		want       error
	}{
		{"Zero sample rate", 0, 1, ErrSampleRate},
		{"Negative sample rate", -48000, 2, ErrSampleRate},
		{"NaN sample rate", math.NaN(), 2, ErrSampleRate},
		{"Infinite sample rate", math.Inf(1), 2, ErrSampleRate},
		{"Zero channels", 48000, 0, ErrChannels},
		{"Negative channels", 48000, -1, ErrChannels},
		{"Valid mono", 48000, 1, nil},
		{"Valid surround", 96000, 6, nil},
	}

	for _, tt := range tests {
		t.Run(tt.desc, func(t *testing.T) {
			e, err := New(DefaultParams(), tt.sampleRate, tt.channels)
			if tt.want == nil {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				if e.Channels() != tt.channels {
					t.Errorf("Channels() = %d, want %d", e.Channels(), tt.channels)
				}
				return
			}
			if !errors.Is(err, tt.want) {
				t.Errorf("error = %v, want %v", err, tt.want)
			}
			if e != nil {
				t.Errorf("expected nil engine on error, got %+v", e)
			}
		})
	}
}

func TestNewInitialState(t *testing.T) {
	e := newTestGate(t, DefaultParams(), 2)

	if got := e.State(); got != (State{}) {
		t.Errorf("initial state = %+v, want zero state", got)
	}
	if e.SampleRate() != testSampleRate {
		t.Errorf("SampleRate() = %v, want %v", e.SampleRate(), testSampleRate)
	}
	if e.Params() != DefaultParams() {
		t.Errorf("Params() = %+v, want %+v", e.Params(), DefaultParams())
	}
}

func TestDerivedCoefficients(t *testing.T) {
	e := newTestGate(t, DefaultParams(), 1)

	tests := []struct {
		name string
		got  float32
		want float64
	}{
		{"open threshold", e.openThreshold, math.Pow(10, -36.0/20)},
		{"close threshold", e.closeThreshold, math.Pow(10, -54.0/20)},
		{"sample period", e.samplePeriod, 1.0 / 48000},
		{"release rate", e.releaseRate, 1.0 / 7200},
		{"attack rate", e.attackRate, 1.0 / 1200},
		{"decay rate", e.decayRate, 18.0 / 640},
		{"hold time", e.holdTime, 0.15},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if !scalar.EqualWithinRel(float64(tt.got), tt.want, 1e-6) {
				t.Errorf("%s = %g, want %g", tt.name, tt.got, tt.want)
			}
		})
	}
}

func TestDbToLinear(t *testing.T) {
	tests := []struct {
		db   float32
		want float64
	}{
		{0, 1},
		{-20, 0.1},
		{-40, 0.01},
		{6, 1.9952623},
		{float32(math.Inf(-1)), 0},
		{float32(math.Inf(1)), 0},
		{float32(math.NaN()), 0},
	}

	for _, tt := range tests {
		got := dbToLinear(tt.db)
		if !scalar.EqualWithinAbs(float64(got), tt.want, 1e-6) {
			t.Errorf("dbToLinear(%v) = %v, want %v", tt.db, got, tt.want)
		}
	}
}

func TestAttenuationStaysInRange(t *testing.T) {
	rng := rand.New(rand.NewPCG(1, 2))

	params := []Params{
		DefaultParams(),
		{OpenThresholdDB: -20, CloseThresholdDB: -30, ReleaseMs: 5, AttackMs: 1, HoldMs: 2},
		{OpenThresholdDB: -36, CloseThresholdDB: -54, ReleaseMs: 0, AttackMs: 0, HoldMs: 0},
		{OpenThresholdDB: -36, CloseThresholdDB: -54, ReleaseMs: -10, AttackMs: -10, HoldMs: -10},
		{OpenThresholdDB: -54, CloseThresholdDB: -36, ReleaseMs: 10, AttackMs: 10, HoldMs: 10},
	}

	for _, p := range params {
		e := newTestGate(t, p, 2)
		buf := make([]float32, testFrameSize*2)

		for block := 0; block < 200; block++ {
			// Bursts of noise at random levels separated by silence.
			amp := float32(0)
			if rng.IntN(3) > 0 {
				amp = rng.Float32()
			}
			for i := range buf {
				buf[i] = amp * (2*rng.Float32() - 1)
			}
			if err := e.Process(buf, buf); err != nil {
				t.Fatalf("Process() unexpected error: %v", err)
			}

			a := e.Attenuation()
			if a < 0 || a > 1 || !isFinite(a) {
				t.Fatalf("params %+v: attenuation %v out of [0, 1] at block %d", p, a, block)
			}
			if st := e.State(); !isFinite(st.Level) || !isFinite(st.HeldTime) {
				t.Fatalf("params %+v: non-finite state %+v", p, st)
			}
		}
	}
}

func TestConstantSignalOpens(t *testing.T) {
	e := newTestGate(t, DefaultParams(), 2)

	// -20 dBFS, above the -36 dB open threshold, for longer than the attack.
	src := utils.Constant(testSampleRate/2, 2, 0.1)
	out, err := e.ProcessFrame(src)
	if err != nil {
		t.Fatalf("ProcessFrame() unexpected error: %v", err)
	}

	if !e.IsOpen() {
		t.Error("gate should be open for a constant signal above the open threshold")
	}
	if !scalar.EqualWithinAbs(float64(e.Attenuation()), 1, 1e-6) {
		t.Errorf("attenuation = %v, want 1.0", e.Attenuation())
	}
	if last := out[len(out)-1]; last != 0.1 {
		t.Errorf("last output sample = %v, want 0.1 (unity gain)", last)
	}
}

func TestQuietSignalCloses(t *testing.T) {
	e := newTestGate(t, DefaultParams(), 1)

	if _, err := e.ProcessFrame(utils.Constant(testSampleRate/4, 1, 0.5)); err != nil {
		t.Fatalf("ProcessFrame() unexpected error: %v", err)
	}
	if !e.IsOpen() {
		t.Fatal("gate should be open before the quiet section")
	}

	// -60 dBFS sits below the -54 dB close threshold. One second covers level
	// decay, hold and release.
	out, err := e.ProcessFrame(utils.Constant(testSampleRate, 1, 0.001))
	if err != nil {
		t.Fatalf("ProcessFrame() unexpected error: %v", err)
	}

	if e.IsOpen() {
		t.Error("gate should be closed for a signal below the close threshold")
	}
	if e.Attenuation() != 0 {
		t.Errorf("attenuation = %v, want 0", e.Attenuation())
	}
	if last := out[len(out)-1]; last != 0 {
		t.Errorf("last output sample = %v, want 0", last)
	}
}

func TestHoldDefersRelease(t *testing.T) {
	e := newTestGate(t, DefaultParams(), 1)

	trajectory(t, e, utils.Constant(testSampleRate/10, 1, 1))
	if e.Attenuation() != 1 {
		t.Fatalf("attenuation = %v, want 1 before the gap", e.Attenuation())
	}

	// 50 ms of silence: long enough for the gate to close, shorter than the
	// 150 ms hold.
	gap := trajectory(t, e, utils.Constant(testSampleRate/20, 1, 0))
	if e.IsOpen() {
		t.Fatal("gate should have closed during the gap")
	}
	for i, a := range gap {
		if a != 1 {
			t.Fatalf("attenuation changed to %v at gap sample %d, hold should defer release", a, i)
		}
	}

	resumed := trajectory(t, e, utils.Constant(testSampleRate/20, 1, 1))
	if !e.IsOpen() {
		t.Error("gate should reopen when the signal resumes")
	}
	if floats.Min(resumed) != 1 {
		t.Errorf("attenuation dipped to %v after the signal resumed", floats.Min(resumed))
	}
}

func TestHoldTimeMatchesConfiguration(t *testing.T) {
	for _, holdMs := range []float32{10, 50, 150} {
		p := DefaultParams()
		p.HoldMs = holdMs
		e := newTestGate(t, p, 1)

		trajectory(t, e, utils.Constant(testSampleRate/10, 1, 1))

		silence := utils.Constant(testSampleRate, 1, 0)
		closedAt, releaseAt := -1, -1
		for i := range silence {
			frame := silence[i : i+1]
			_ = e.Process(frame, frame)
			if closedAt < 0 && !e.IsOpen() {
				closedAt = i
			}
			if closedAt >= 0 && e.Attenuation() < 1 {
				releaseAt = i
				break
			}
		}

		if closedAt < 0 || releaseAt < 0 {
			t.Fatalf("hold %vms: gate never closed (%d) or released (%d)", holdMs, closedAt, releaseAt)
		}
		want := int(holdMs) * testSampleRate / 1000
		if got := releaseAt - closedAt; got < want-3 || got > want+3 {
			t.Errorf("hold %vms: release began %d samples after close, want %d", holdMs, got, want)
		}
	}
}

func TestReconfigurePreservesState(t *testing.T) {
	e := newTestGate(t, DefaultParams(), 2)

	// Half way through the 25 ms attack.
	trajectory(t, e, utils.Constant(600, 2, 0.5))
	before := e.State()
	if !before.Open || before.Attenuation <= 0 || before.Attenuation >= 1 {
		t.Fatalf("unexpected state before reconfigure: %+v", before)
	}

	p := DefaultParams()
	p.AttackMs = 5
	e.Reconfigure(p)

	if got := e.State(); got != before {
		t.Errorf("Reconfigure changed state: got %+v, want %+v", got, before)
	}

	trajectory(t, e, utils.Constant(1, 2, 0.5))
	want := before.Attenuation + float32(1.0/240)
	if !scalar.EqualWithinAbs(float64(e.Attenuation()), float64(want), 1e-6) {
		t.Errorf("attenuation after one sample = %v, want %v (old value plus new attack rate)", e.Attenuation(), want)
	}
}

func TestReconfigureMatchesNew(t *testing.T) {
	p := Params{OpenThresholdDB: -30, CloseThresholdDB: -60, ReleaseMs: 80, AttackMs: 3, HoldMs: 40}

	e := newTestGate(t, DefaultParams(), 2)
	e.Reconfigure(p)
	fresh := newTestGate(t, p, 2)

	got := []float32{e.openThreshold, e.closeThreshold, e.releaseRate, e.attackRate, e.decayRate, e.holdTime, e.samplePeriod}
	want := []float32{fresh.openThreshold, fresh.closeThreshold, fresh.releaseRate, fresh.attackRate, fresh.decayRate, fresh.holdTime, fresh.samplePeriod}
	for i := range got {
		if got[i] != want[i] {
			t.Errorf("coefficient %d = %v, want %v", i, got[i], want[i])
		}
	}
	if e.SampleRate() != fresh.SampleRate() || e.Channels() != fresh.Channels() {
		t.Error("Reconfigure must keep sample rate and channel count")
	}
}

func TestMultiChannelSymmetry(t *testing.T) {
	mono := utils.Bursts(testSampleRate, testSampleRate, 440, 0.5, 0.1)
	stereo := utils.Interleave(mono, mono)
	quad := utils.Interleave(mono, mono, mono, mono)

	want := trajectory(t, newTestGate(t, DefaultParams(), 1), mono)

	for name, tc := range map[string]struct {
		src      []float32
		channels int
	}{
		"stereo": {stereo, 2},
		"quad":   {quad, 4},
	} {
		got := trajectory(t, newTestGate(t, DefaultParams(), tc.channels), tc.src)
		if !floats.Equal(got, want) {
			t.Errorf("%s attenuation trajectory differs from mono", name)
		}
	}
}

func TestChannelLevelAsymmetry(t *testing.T) {
	tests := []struct {
		desc     string
		left     float32
		right    float32
		wantOpen bool
	}{
		{"Positive peak on channel 1", 0, 0.5, true},
		{"Negative peak on channel 1 is ignored", 0, -0.5, false},
		{"Negative peak on channel 0 is detected", -0.5, 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.desc, func(t *testing.T) {
			e := newTestGate(t, DefaultParams(), 2)
			src := utils.Interleave(
				utils.Constant(1000, 1, tt.left),
				utils.Constant(1000, 1, tt.right),
			)
			if err := e.Process(src, src); err != nil {
				t.Fatalf("Process() unexpected error: %v", err)
			}
			if e.IsOpen() != tt.wantOpen {
				t.Errorf("IsOpen() = %v, want %v", e.IsOpen(), tt.wantOpen)
			}
		})
	}
}

// TestReferenceScenario follows 48 kHz mono, -36/-54 dB, 25 ms attack,
// 150 ms release and 150 ms hold through one second of full scale signal
// followed by one second of silence.
func TestReferenceScenario(t *testing.T) {
	e := newTestGate(t, DefaultParams(), 1)

	loud := trajectory(t, e, utils.Constant(testSampleRate, 1, 1))

	e2 := newTestGate(t, DefaultParams(), 1)
	out := make([]float32, 1)
	_ = e2.Process(out, []float32{1})
	if e2.IsOpen() {
		t.Error("gate should not be open after sample 0")
	}
	_ = e2.Process(out, []float32{1})
	if !e2.IsOpen() {
		t.Error("gate should open on sample 1")
	}

	fullAt := firstIndex(loud, func(a float64) bool { return a == 1 })
	if fullAt < 1199 || fullAt > 1201 {
		t.Errorf("attenuation reached 1.0 at sample %d, want 1200±1", fullAt)
	}
	if floats.Min(loud[fullAt:]) != 1 {
		t.Error("attenuation left 1.0 while the signal was held")
	}

	closedAt := -1
	silence := make([]float64, 0, testSampleRate)
	for i := 0; i < testSampleRate; i++ {
		frame := []float32{0}
		_ = e.Process(frame, frame)
		if closedAt < 0 && !e.IsOpen() {
			closedAt = i
		}
		silence = append(silence, float64(e.Attenuation()))
	}

	if closedAt < 0 || closedAt > 100 {
		t.Fatalf("gate closed at silence sample %d, want within the detector decay", closedAt)
	}
	if floats.Min(silence[:7200]) != 1 {
		t.Error("attenuation must stay 1.0 for the first 7200 silent samples")
	}

	releaseAt := firstIndex(silence, func(a float64) bool { return a < 1 })
	if got := releaseAt - closedAt; got < 7197 || got > 7203 {
		t.Errorf("release began %d samples after close, want 7200", got)
	}

	zeroAt := firstIndex(silence, func(a float64) bool { return a == 0 })
	if got := zeroAt - releaseAt; got < 7196 || got > 7202 {
		t.Errorf("release took %d samples, want 7200", got)
	}
	for i := releaseAt + 1; i <= zeroAt; i++ {
		if silence[i] >= silence[i-1] {
			t.Fatalf("release is not monotonic at sample %d", i)
		}
	}
	if floats.Max(silence[zeroAt:]) != 0 {
		t.Error("attenuation must stay at 0.0 once released")
	}
	if e.IsOpen() {
		t.Error("gate should stay closed during silence")
	}
}

func TestSilenceFromRestIsFixedPoint(t *testing.T) {
	e := newTestGate(t, DefaultParams(), 2)
	buf := make([]float32, testFrameSize*2)

	for block := 0; block < 1000; block++ {
		out, err := e.ProcessFrame(buf)
		if err != nil {
			t.Fatalf("ProcessFrame() unexpected error: %v", err)
		}
		if floats.Max(utils.ToFloat64(out)) != 0 || floats.Min(utils.ToFloat64(out)) != 0 {
			t.Fatalf("silence produced non-zero output at block %d", block)
		}
	}
	if e.IsOpen() || e.Attenuation() != 0 {
		t.Errorf("state moved on silence: %+v", e.State())
	}
}

func TestProcessShapeMismatch(t *testing.T) {
	e := newTestGate(t, DefaultParams(), 2)
	trajectory(t, e, utils.Constant(100, 2, 0.5))
	before := e.State()

	tests := []struct {
		desc string
		dst  []float32
		src  []float32
	}{
		{"Partial frame", make([]float32, 5), make([]float32, 5)},
		{"Short destination", make([]float32, 4), make([]float32, 6)},
		{"Long destination", make([]float32, 8), make([]float32, 6)},
	}

	for _, tt := range tests {
		t.Run(tt.desc, func(t *testing.T) {
			if err := e.Process(tt.dst, tt.src); !errors.Is(err, ErrShape) {
				t.Errorf("Process() error = %v, want %v", err, ErrShape)
			}
			if e.State() != before {
				t.Errorf("state advanced on rejected call: %+v", e.State())
			}
		})
	}

	if _, err := e.ProcessFrame(make([]float32, 3)); !errors.Is(err, ErrShape) {
		t.Errorf("ProcessFrame() error = %v, want %v", err, ErrShape)
	}
}

func TestProcessInPlaceMatchesCopy(t *testing.T) {
	src := utils.Interleave(
		utils.Bursts(testSampleRate/2, testSampleRate, 220, 0.8, 0.05),
		utils.Bursts(testSampleRate/2, testSampleRate, 330, 0.3, 0.05),
	)

	a := newTestGate(t, DefaultParams(), 2)
	out := make([]float32, len(src))
	if err := a.Process(out, src); err != nil {
		t.Fatalf("Process() unexpected error: %v", err)
	}

	b := newTestGate(t, DefaultParams(), 2)
	inPlace := append([]float32(nil), src...)
	if err := b.Process(inPlace, inPlace); err != nil {
		t.Fatalf("Process() unexpected error: %v", err)
	}

	if !floats.Equal(utils.ToFloat64(out), utils.ToFloat64(inPlace)) {
		t.Error("in-place processing differs from copy processing")
	}
	if a.State() != b.State() {
		t.Errorf("state differs: %+v vs %+v", a.State(), b.State())
	}
}

func TestDegenerateRates(t *testing.T) {
	p := Params{OpenThresholdDB: -36, CloseThresholdDB: -54, ReleaseMs: 0, AttackMs: 0, HoldMs: 0}
	e := newTestGate(t, p, 1)

	trajectory(t, e, utils.Constant(2, 1, 1))
	if e.Attenuation() != 1 {
		t.Errorf("zero attack: attenuation = %v, want 1 immediately", e.Attenuation())
	}

	att := trajectory(t, e, utils.Constant(200, 1, 0))
	closedAt := firstIndex(att, func(a float64) bool { return a == 0 })
	if closedAt < 0 {
		t.Fatal("zero release: gate never released")
	}
	if e.IsOpen() {
		t.Error("gate should be closed")
	}

	e.Reconfigure(Params{OpenThresholdDB: -36, CloseThresholdDB: -54,
		ReleaseMs: float32(math.NaN()), AttackMs: -1, HoldMs: float32(math.NaN())})
	if e.attackRate != 1 || e.releaseRate != 1 || e.holdTime != 0 {
		t.Errorf("degenerate coefficients = (%v, %v, %v), want (1, 1, 0)",
			e.attackRate, e.releaseRate, e.holdTime)
	}
}

func TestInfiniteHoldNeverReleases(t *testing.T) {
	tests := []struct {
		name   string
		holdMs float32
	}{
		{"infinite", float32(math.Inf(1))},
		{"very long", 1e6},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := DefaultParams()
			p.HoldMs = tt.holdMs
			e := newTestGate(t, p, 1)

			trajectory(t, e, utils.Constant(testSampleRate, 1, 1))
			att := trajectory(t, e, utils.Constant(testSampleRate, 1, 0))

			if e.IsOpen() {
				t.Error("gate should be closed after a second of silence")
			}
			if floats.Min(att) != 1 {
				t.Errorf("attenuation dropped to %v during hold, want 1", floats.Min(att))
			}
			st := e.State()
			if !isFinite(st.HeldTime) || !isFinite(st.Level) {
				t.Errorf("state is not finite: %+v", st)
			}
		})
	}
}

func TestReserveSizesProcessFrameBuffer(t *testing.T) {
	e := newTestGate(t, DefaultParams(), 2)
	e.Reserve(testFrameSize)
	reserved := e.out[:1]

	src := make([]float32, testFrameSize*2)
	out, err := e.ProcessFrame(src)
	if err != nil {
		t.Fatalf("ProcessFrame() unexpected error: %v", err)
	}
	if &out[0] != &reserved[0] {
		t.Error("ProcessFrame() allocated a new buffer after Reserve")
	}
}

func TestNonFiniteOpenThresholdKeepsGateOpen(t *testing.T) {
	p := DefaultParams()
	p.OpenThresholdDB = float32(math.Inf(-1))
	e := newTestGate(t, p, 1)

	if e.openThreshold != 0 {
		t.Fatalf("open threshold = %v, want 0", e.openThreshold)
	}
	if !isFinite(e.decayRate) {
		t.Fatalf("decay rate = %v, want a finite value", e.decayRate)
	}

	// A noise floor well below any real threshold.
	trajectory(t, e, utils.Constant(testSampleRate/10, 1, 1e-6))
	if !e.IsOpen() || e.Attenuation() != 1 {
		t.Errorf("gate should be fully open, got %+v", e.State())
	}
}

func TestProcessZeroAllocs(t *testing.T) {
	e := newTestGate(t, DefaultParams(), 2)
	src := utils.Interleave(
		utils.Bursts(testFrameSize, testSampleRate, 440, 0.5, 0),
		utils.Bursts(testFrameSize, testSampleRate, 440, 0.5, 0),
	)
	dst := make([]float32, len(src))

	allocs := testing.AllocsPerRun(100, func() {
		_ = e.Process(dst, src)
	})
	if allocs > 0 {
		t.Errorf("Process() allocated: got %.1f allocs, want 0", allocs)
	}

	e.Reserve(testFrameSize)
	allocs = testing.AllocsPerRun(100, func() {
		_, _ = e.ProcessFrame(src)
	})
	if allocs > 0 {
		t.Errorf("ProcessFrame() allocated after Reserve: got %.1f allocs, want 0", allocs)
	}
}

func firstIndex(s []float64, pred func(float64) bool) int {
	for i, v := range s {
		if pred(v) {
			return i
		}
	}
	return -1
}

func BenchmarkProcessHotPath(b *testing.B) {
	for _, channels := range []int{1, 2, 8} {
		b.Run(strconv.Itoa(channels)+"ch", func(b *testing.B) {
			e, _ := New(DefaultParams(), testSampleRate, channels)
			buf := utils.Constant(testFrameSize, channels, 0.25)

			b.ReportAllocs()
			b.ResetTimer()

			for b.Loop() {
				_ = e.Process(buf, buf)
			}
		})
	}
}

func BenchmarkReconfigure(b *testing.B) {
	e, _ := New(DefaultParams(), testSampleRate, 2)
	p := DefaultParams()

	b.ReportAllocs()
	b.ResetTimer()

	for b.Loop() {
		e.Reconfigure(p)
	}
}
