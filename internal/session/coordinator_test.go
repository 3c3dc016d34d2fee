package session

import (
	"bytes"
	"context"
	"errors"
	"math/rand"
	"sync"
	"testing"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/voxloop/voxloop/internal/observe"
	"github.com/voxloop/voxloop/internal/vad"
	"github.com/voxloop/voxloop/pkg/audio"
)

// scriptGate is a VoiceGate whose Ingest verdicts are scripted per chunk. It
// enforces the pause discipline: resuming an unpaused gate is recorded as a
// violation, since that means some exit path resumed twice.
type scriptGate struct {
	mu         sync.Mutex
	paused     bool
	pauses     int
	resumes    int
	ingests    int
	events     []vad.Event
	violations []string
}

func (g *scriptGate) script(events ...vad.Event) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.events = append(g.events, events...)
}

func (g *scriptGate) Ingest(chunk []byte) vad.Event {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.ingests++
	if g.paused {
		return vad.EventNone
	}
	if len(g.events) == 0 {
		return vad.EventNone
	}
	ev := g.events[0]
	g.events = g.events[1:]
	return ev
}

func (g *scriptGate) Pause() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.paused = true
	g.pauses++
}

func (g *scriptGate) Resume() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.paused {
		g.violations = append(g.violations, "resume on unpaused gate")
	}
	g.paused = false
	g.resumes++
}

func (g *scriptGate) ingestCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.ingests
}

func (g *scriptGate) snapshot() (paused bool, pauses, resumes int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.paused, g.pauses, g.resumes
}

func (g *scriptGate) checkViolations(t *testing.T) {
	t.Helper()
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, v := range g.violations {
		t.Errorf("gate discipline violation: %s", v)
	}
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", msg)
}

// speechWAV builds a WAV clip with the given playback duration at 16 kHz mono.
func speechWAV(d time.Duration) audio.Clip {
	frames := int(d.Seconds() * 16000)
	raw := audio.EncodeWAV(make([]byte, frames*2), 16000, 1)
	return audio.Clip{Data: raw}
}

func TestCoordinatorInitialState(t *testing.T) {
	t.Parallel()

	c := New(&scriptGate{}, NewPlaybackTimer(), audio.NewResolver(audio.ResolverConfig{}), nil, Config{})
	defer c.Close()

	if got := c.State(); got != StateListening {
		t.Fatalf("initial state = %v, want listening", got)
	}
	if got := c.StatusLabel(); got != "LISTENING" {
		t.Fatalf("initial status = %q", got)
	}
}

func TestCoordinatorHappyPath(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	gate := &scriptGate{}
	timer := NewPlaybackTimer(WithTimerClock(clock.now))
	replies := make(chan Reply, 1)

	proc := ProcessorFunc(func(ctx context.Context, clip audio.Clip, gen uint64) (*Reply, error) {
		return &Reply{Transcript: "hello", ResponseText: "hi there", Audio: speechWAV(2 * time.Second)}, nil
	})

	c := New(gate, timer, audio.NewResolver(audio.ResolverConfig{}), proc,
		Config{SafetyBuffer: 500 * time.Millisecond},
		WithReplyHandler(func(r Reply) { replies <- r }),
	)
	defer c.Close()

	// A few boundary-free chunks keep the session listening.
	for i := 0; i < 5; i++ {
		if err := c.SubmitChunk(make([]byte, 960)); err != nil {
			t.Fatalf("SubmitChunk: %v", err)
		}
	}
	if got := c.State(); got != StateListening {
		t.Fatalf("state after quiet chunks = %v, want listening", got)
	}

	gate.script(vad.EventSpeechStarted)
	if err := c.SubmitChunk(make([]byte, 960)); err != nil {
		t.Fatalf("SubmitChunk: %v", err)
	}
	if got := c.State(); got != StateRecording {
		t.Fatalf("state after speech start = %v, want recording", got)
	}

	gate.script(vad.EventSpeechEnded)
	if err := c.SubmitChunk(make([]byte, 960)); err != nil {
		t.Fatalf("SubmitChunk: %v", err)
	}

	reply := <-replies
	if reply.Transcript != "hello" || reply.ResponseText != "hi there" {
		t.Fatalf("unexpected reply: %+v", reply)
	}
	if got := c.State(); got != StateSpeaking {
		t.Fatalf("state after reply = %v, want speaking", got)
	}
	// 2 s of audio plus the 0.5 s safety buffer.
	if got := c.RemainingPlayback(); got != 2500*time.Millisecond {
		t.Fatalf("RemainingPlayback = %v, want 2.5s", got)
	}

	// Chunks during playback are dropped before reaching the gate.
	before := gate.ingestCount()
	if err := c.SubmitChunk(make([]byte, 960)); err != nil {
		t.Fatalf("SubmitChunk during playback: %v", err)
	}
	if gate.ingestCount() != before {
		t.Fatalf("chunk during playback reached the gate")
	}

	// The window holds until exactly duration + buffer.
	clock.advance(2499 * time.Millisecond)
	c.Tick()
	if got := c.State(); got != StateSpeaking {
		t.Fatalf("state 1ms before expiry = %v, want speaking", got)
	}
	clock.advance(time.Millisecond)
	c.Tick()
	if got := c.State(); got != StateListening {
		t.Fatalf("state after expiry = %v, want listening", got)
	}

	paused, pauses, resumes := gate.snapshot()
	if paused {
		t.Fatalf("gate still paused after playback ended")
	}
	if pauses != 1 || resumes != 1 {
		t.Fatalf("pauses = %d, resumes = %d, want 1/1", pauses, resumes)
	}
	gate.checkViolations(t)
}

func TestCoordinatorPipelineFailure(t *testing.T) {
	t.Parallel()

	gate := &scriptGate{}
	errs := make(chan error, 1)
	boom := errors.New("synthesis backend down")

	proc := ProcessorFunc(func(ctx context.Context, clip audio.Clip, gen uint64) (*Reply, error) {
		return nil, boom
	})
	c := New(gate, NewPlaybackTimer(), audio.NewResolver(audio.ResolverConfig{}), proc, Config{},
		WithErrorHandler(func(err error) { errs <- err }),
	)
	defer c.Close()

	gate.script(vad.EventSpeechStarted, vad.EventSpeechEnded)
	if err := c.SubmitChunk(make([]byte, 960)); err != nil {
		t.Fatalf("SubmitChunk: %v", err)
	}
	if err := c.SubmitChunk(make([]byte, 960)); err != nil {
		t.Fatalf("SubmitChunk: %v", err)
	}

	if err := <-errs; !errors.Is(err, boom) {
		t.Fatalf("surfaced error = %v, want %v", err, boom)
	}
	waitFor(t, func() bool { return c.State() == StateListening }, "return to listening after failure")

	paused, _, resumes := gate.snapshot()
	if paused || resumes != 1 {
		t.Fatalf("gate paused=%v resumes=%d after failure, want unpaused/1", paused, resumes)
	}
	gate.checkViolations(t)
}

func TestCoordinatorTextOnlyReply(t *testing.T) {
	t.Parallel()

	gate := &scriptGate{}
	replies := make(chan Reply, 1)
	proc := ProcessorFunc(func(ctx context.Context, clip audio.Clip, gen uint64) (*Reply, error) {
		return &Reply{Transcript: "ping", ResponseText: "pong"}, nil
	})
	c := New(gate, NewPlaybackTimer(), audio.NewResolver(audio.ResolverConfig{}), proc, Config{},
		WithReplyHandler(func(r Reply) { replies <- r }),
	)
	defer c.Close()

	gate.script(vad.EventSpeechStarted, vad.EventSpeechEnded)
	_ = c.SubmitChunk(make([]byte, 960))
	_ = c.SubmitChunk(make([]byte, 960))

	<-replies
	// No audio: no playback window, straight back to listening.
	if got := c.State(); got != StateListening {
		t.Fatalf("state after text-only reply = %v, want listening", got)
	}
	if got := c.RemainingPlayback(); got != 0 {
		t.Fatalf("RemainingPlayback = %v, want 0", got)
	}
	gate.checkViolations(t)
}

func TestCoordinatorStopDiscardsLateResult(t *testing.T) {
	t.Parallel()

	gate := &scriptGate{}
	release := make(chan struct{})
	returned := make(chan struct{})
	replies := make(chan Reply, 1)

	proc := ProcessorFunc(func(ctx context.Context, clip audio.Clip, gen uint64) (*Reply, error) {
		<-release
		defer close(returned)
		return &Reply{Transcript: "late", Audio: speechWAV(time.Second)}, nil
	})
	c := New(gate, NewPlaybackTimer(), audio.NewResolver(audio.ResolverConfig{}), proc, Config{},
		WithReplyHandler(func(r Reply) { replies <- r }),
	)
	defer c.Close()

	gate.script(vad.EventSpeechStarted, vad.EventSpeechEnded)
	_ = c.SubmitChunk(make([]byte, 960))
	_ = c.SubmitChunk(make([]byte, 960))
	if got := c.State(); got != StateProcessing {
		t.Fatalf("state = %v, want processing", got)
	}

	// Stop while the invocation is in flight, then let it complete late.
	c.RequestStop()
	if got := c.State(); got != StateIdle {
		t.Fatalf("state after stop = %v, want idle", got)
	}
	close(release)
	<-returned

	// The late result must be discarded: no reply, no state change, no resume.
	time.Sleep(20 * time.Millisecond)
	select {
	case r := <-replies:
		t.Fatalf("late reply delivered after stop: %+v", r)
	default:
	}
	if got := c.State(); got != StateIdle {
		t.Fatalf("state after late result = %v, want idle", got)
	}
	paused, _, resumes := gate.snapshot()
	if !paused || resumes != 0 {
		t.Fatalf("gate paused=%v resumes=%d after stop, want paused/0", paused, resumes)
	}

	// A fresh start works and the stale generation stays dead.
	if err := c.RequestStart(); err != nil {
		t.Fatalf("RequestStart: %v", err)
	}
	if got := c.State(); got != StateListening {
		t.Fatalf("state after restart = %v, want listening", got)
	}
	gate.checkViolations(t)
}

func TestCoordinatorStartStopEdges(t *testing.T) {
	t.Parallel()

	gate := &scriptGate{}
	c := New(gate, NewPlaybackTimer(), audio.NewResolver(audio.ResolverConfig{}), nil, Config{})
	defer c.Close()

	if err := c.RequestStart(); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("RequestStart while listening: err = %v, want ErrInvalidTransition", err)
	}

	// Stop is valid from any state and idempotent via the idle short-circuit.
	c.RequestStop()
	c.RequestStop()
	if got := c.State(); got != StateIdle {
		t.Fatalf("state = %v, want idle", got)
	}
	if _, pauses, _ := gate.snapshot(); pauses != 1 {
		t.Fatalf("pauses = %d, want 1 (second stop short-circuits)", pauses)
	}

	if err := c.RequestStart(); err != nil {
		t.Fatalf("RequestStart from idle: %v", err)
	}
	gate.checkViolations(t)
}

func TestCoordinatorSpeechEndedWhileListening(t *testing.T) {
	t.Parallel()

	gate := &scriptGate{}
	c := New(gate, NewPlaybackTimer(), audio.NewResolver(audio.ResolverConfig{}), nil, Config{})
	defer c.Close()

	gate.script(vad.EventSpeechEnded)
	if err := c.SubmitChunk(make([]byte, 960)); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("err = %v, want ErrInvalidTransition", err)
	}
	gate.checkViolations(t)
}

func TestCoordinatorPrerollSeedsRecording(t *testing.T) {
	t.Parallel()

	gate := &scriptGate{}
	var (
		clipMu sync.Mutex
		got    []byte
	)
	done := make(chan struct{})
	proc := ProcessorFunc(func(ctx context.Context, clip audio.Clip, gen uint64) (*Reply, error) {
		clipMu.Lock()
		got = clip.Data
		clipMu.Unlock()
		close(done)
		return &Reply{}, nil
	})
	c := New(gate, NewPlaybackTimer(), audio.NewResolver(audio.ResolverConfig{}), proc,
		Config{PrerollChunks: 3})
	defer c.Close()

	chunk := func(b byte) []byte { return bytes.Repeat([]byte{b}, 4) }

	// Five quiet chunks: only the last three survive in the pre-roll ring.
	for _, b := range []byte{1, 2, 3, 4, 5} {
		_ = c.SubmitChunk(chunk(b))
	}
	gate.script(vad.EventSpeechStarted, vad.EventSpeechEnded)
	_ = c.SubmitChunk(chunk(6))
	_ = c.SubmitChunk(chunk(7))

	<-done
	// Ring holds [4 5 6] when the boundary fires (the triggering chunk is
	// pushed before classification), then chunk 7 is appended while recording.
	want := bytes.Join([][]byte{chunk(4), chunk(5), chunk(6), chunk(7)}, nil)
	clipMu.Lock()
	defer clipMu.Unlock()
	if !bytes.Equal(got, want) {
		t.Fatalf("pipeline clip = % x, want % x", got, want)
	}
}

// findInstrument returns the named metric from rm, failing the test when it
// was never recorded.
func findInstrument(t *testing.T, rm *metricdata.ResourceMetrics, name string) metricdata.Metrics {
	t.Helper()
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name == name {
				return m
			}
		}
	}
	t.Fatalf("metric %q not recorded", name)
	return metricdata.Metrics{}
}

func TestCoordinatorRecordsWindowAndBoundaries(t *testing.T) {
	t.Parallel()

	reader := sdkmetric.NewManualReader()
	met, err := observe.NewMetrics(sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader)))
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}

	gate := &scriptGate{}
	replies := make(chan Reply, 1)
	proc := ProcessorFunc(func(ctx context.Context, clip audio.Clip, gen uint64) (*Reply, error) {
		return &Reply{ResponseText: "ok", Audio: speechWAV(2 * time.Second)}, nil
	})
	c := New(gate, NewPlaybackTimer(), audio.NewResolver(audio.ResolverConfig{}), proc,
		Config{SafetyBuffer: 500 * time.Millisecond},
		WithMetrics(met),
		WithReplyHandler(func(r Reply) { replies <- r }),
	)
	defer c.Close()

	gate.script(vad.EventSpeechStarted, vad.EventSpeechEnded)
	_ = c.SubmitChunk(make([]byte, 960))
	_ = c.SubmitChunk(make([]byte, 960))
	<-replies

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}

	bm := findInstrument(t, &rm, "voxloop.vad.boundaries")
	sum, ok := bm.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatalf("boundaries data = %T, want Sum[int64]", bm.Data)
	}
	var total int64
	for _, dp := range sum.DataPoints {
		total += dp.Value
	}
	if total != 2 {
		t.Errorf("boundary events = %d, want 2 (started + ended)", total)
	}

	wm := findInstrument(t, &rm, "voxloop.playback.window")
	hist, ok := wm.Data.(metricdata.Histogram[float64])
	if !ok {
		t.Fatalf("window data = %T, want Histogram[float64]", wm.Data)
	}
	if n := len(hist.DataPoints); n != 1 {
		t.Fatalf("window datapoints = %d, want 1", n)
	}
	// 2 s of audio plus the 0.5 s safety buffer.
	if got := hist.DataPoints[0].Sum; got != 2.5 {
		t.Errorf("window length = %v s, want 2.5", got)
	}
}

// TestCoordinatorResumeBalance hammers the coordinator with randomized event
// sequences and checks after each that the gate's pause state matches the
// session state and that no exit path ever resumed twice.
func TestCoordinatorResumeBalance(t *testing.T) {
	t.Parallel()

	rng := rand.New(rand.NewSource(0x7a3f))

	for seq := 0; seq < 1000; seq++ {
		clock := newFakeClock()
		gate := &scriptGate{}
		timer := NewPlaybackTimer(WithTimerClock(clock.now))

		proc := ProcessorFunc(func(ctx context.Context, clip audio.Clip, gen uint64) (*Reply, error) {
			switch gen % 3 {
			case 0:
				return nil, errors.New("transient")
			case 1:
				return &Reply{ResponseText: "text only"}, nil
			default:
				return &Reply{Audio: speechWAV(time.Second)}, nil
			}
		})
		c := New(gate, timer, audio.NewResolver(audio.ResolverConfig{}), proc,
			Config{SafetyBuffer: 100 * time.Millisecond})

		for op := 0; op < 25; op++ {
			switch rng.Intn(6) {
			case 0, 1:
				_ = c.SubmitChunk(make([]byte, 960))
			case 2:
				gate.script(vad.EventSpeechStarted)
				_ = c.SubmitChunk(make([]byte, 960))
			case 3:
				gate.script(vad.EventSpeechEnded)
				_ = c.SubmitChunk(make([]byte, 960))
			case 4:
				clock.advance(time.Duration(rng.Intn(2000)) * time.Millisecond)
				c.Tick()
			case 5:
				c.RequestStop()
				if rng.Intn(2) == 0 {
					_ = c.RequestStart()
				}
			}
		}

		// Quiesce: stop orphans any in-flight invocation, restart must land
		// in listening with the gate open.
		c.RequestStop()
		if got := c.State(); got != StateIdle {
			t.Fatalf("seq %d: state after stop = %v, want idle", seq, got)
		}
		if err := c.RequestStart(); err != nil {
			t.Fatalf("seq %d: RequestStart: %v", seq, err)
		}
		if got := c.State(); got != StateListening {
			t.Fatalf("seq %d: state = %v, want listening", seq, got)
		}
		if paused, _, _ := gate.snapshot(); paused {
			t.Fatalf("seq %d: gate paused while listening", seq)
		}
		gate.checkViolations(t)
		c.Close()
	}
}
