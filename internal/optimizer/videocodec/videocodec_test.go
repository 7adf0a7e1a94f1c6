package videocodec

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/trunov/mediapress/internal/transcoder"
)

// fakeTranscoder models an encoder whose output size tracks the requested
// bitrate, which is exactly the feedback loop the search relies on.
type fakeTranscoder struct {
	files     map[string][]byte
	probe     transcoder.Probe
	probeErr  error
	encodes   []transcoder.EncodeParams
	failFirst int
}

func newFake(p transcoder.Probe) *fakeTranscoder {
	return &fakeTranscoder{files: map[string][]byte{}, probe: p}
}

func (f *fakeTranscoder) Probe(ctx context.Context, name string) (transcoder.Probe, error) {
	if f.probeErr != nil {
		return transcoder.Probe{}, f.probeErr
	}
	return f.probe, nil
}

func (f *fakeTranscoder) Transcode(ctx context.Context, inName, outName string, p transcoder.EncodeParams, onProgress func(float64)) error {
	f.encodes = append(f.encodes, p)
	if f.failFirst > 0 {
		f.failFirst--
		return errors.New("encoder exploded")
	}
	if onProgress != nil {
		onProgress(0.5)
		onProgress(1)
	}
	// size in bytes a real encoder would produce at this bitrate
	size := p.VideoBitrate * 1000 / 8 * int(p.Duration)
	if size < 16 {
		size = 16
	}
	f.files[outName] = make([]byte, size)
	return nil
}

func (f *fakeTranscoder) WriteFile(name string, data []byte) error {
	f.files[name] = data
	return nil
}

func (f *fakeTranscoder) ReadFile(name string) ([]byte, error) {
	data, ok := f.files[name]
	if !ok {
		return nil, errors.New("no such scratch file")
	}
	return data, nil
}

func (f *fakeTranscoder) RemoveFile(name string) error {
	delete(f.files, name)
	return nil
}

func TestOptimizeBoundedMeetsBudget(t *testing.T) {
	fake := newFake(transcoder.Probe{Width: 1920, Height: 1080, Duration: 10, FPS: 30})

	budget := int64(500_000)
	out := Optimize(context.Background(), fake, make([]byte, 1<<20), Config{
		MaxBytes: budget,
	}, nil)

	require.NotNil(t, out)
	assert.LessOrEqual(t, int64(len(out.Data)), budget)
}

func TestOptimizeInitialBitrateFromBudget(t *testing.T) {
	fake := newFake(transcoder.Probe{Width: 1280, Height: 720, Duration: 10, FPS: 30})

	budget := int64(1_000_000)
	cfg := Config{MaxBytes: budget}.withDefaults()
	Optimize(context.Background(), fake, []byte("v"), Config{MaxBytes: budget}, nil)

	require.NotEmpty(t, fake.encodes)
	want := int(float64(budget)*8*cfg.SafetyFactor/1000/10) - cfg.AudioBitrate
	assert.Equal(t, want, fake.encodes[0].VideoBitrate)
}

func TestOptimizeAttemptsCapped(t *testing.T) {
	// Force persistent failure so every attempt is consumed. The final-stretch
	// low-fps extra encode may add up to two more calls.
	fake := newFake(transcoder.Probe{Width: 1920, Height: 1080, Duration: 10, FPS: 30})
	fake.failFirst = 1000

	out := Optimize(context.Background(), fake, []byte("v"), Config{
		MaxBytes: 100_000,
		Attempts: 4,
	}, nil)

	assert.Nil(t, out)
	assert.LessOrEqual(t, len(fake.encodes), 4+2)
	assert.GreaterOrEqual(t, len(fake.encodes), 4)
}

func TestOptimizeFailedAttemptLowersBitrate(t *testing.T) {
	fake := newFake(transcoder.Probe{Width: 1280, Height: 720, Duration: 10, FPS: 30})
	fake.failFirst = 1

	out := Optimize(context.Background(), fake, []byte("v"), Config{
		MaxBytes: 500_000,
	}, nil)

	require.NotNil(t, out, "one failed attempt is not fatal")
	require.GreaterOrEqual(t, len(fake.encodes), 2)
	assert.Less(t, fake.encodes[1].VideoBitrate, fake.encodes[0].VideoBitrate)
}

func TestOptimizeFinalStretchSqueezesAudioAndFrameRate(t *testing.T) {
	// An unreachable budget: every attempt overshoots, so the search walks
	// through all its iterations including the final stretch.
	fake := newFake(transcoder.Probe{Width: 1280, Height: 720, Duration: 10, FPS: 30})

	out := Optimize(context.Background(), fake, []byte("v"), Config{
		MaxBytes: 1,
	}, nil)

	require.NotNil(t, out, "best effort is returned even when nothing fits")
	require.NotEmpty(t, fake.encodes)

	cfg := Config{}.withDefaults()
	sawLowFPS := false
	sawSqueezedAudio := false
	for _, p := range fake.encodes {
		if p.FPS == cfg.LowFPS {
			sawLowFPS = true
		}
		if p.AudioBitrate < cfg.AudioBitrate {
			sawSqueezedAudio = true
		}
		assert.GreaterOrEqual(t, p.VideoBitrate, cfg.MinVideoBitrate)
		assert.GreaterOrEqual(t, p.AudioBitrate, cfg.MinAudioBitrate)
	}
	assert.True(t, sawLowFPS, "the last iterations try the reduced frame rate")
	assert.True(t, sawSqueezedAudio, "the last iterations halve the audio bitrate")
}

func TestOptimizeReportsOutputWidth(t *testing.T) {
	fake := newFake(transcoder.Probe{Width: 1920, Height: 1080, Duration: 10, FPS: 30})

	out := Optimize(context.Background(), fake, make([]byte, 1<<20), Config{
		MaxBytes: 500_000,
	}, nil)

	require.NotNil(t, out)
	assert.Equal(t, even(float64(out.Height)*16.0/9.0), out.Width)
	assert.Zero(t, out.Width%2)
}

func TestOptimizeUnboundedSingleEncode(t *testing.T) {
	fake := newFake(transcoder.Probe{Width: 1920, Height: 1080, Duration: 5, FPS: 30})

	out := Optimize(context.Background(), fake, []byte("v"), Config{}, nil)

	require.NotNil(t, out)
	assert.Len(t, fake.encodes, 1)
	assert.Equal(t, 720, out.Height, "unbounded encode normalizes to the top of the ladder")
}

func TestOptimizeProbeFailureFallsBack(t *testing.T) {
	fake := newFake(transcoder.Probe{})
	fake.probeErr = errors.New("ffprobe missing")

	out := Optimize(context.Background(), fake, []byte("v"), Config{MaxBytes: 500_000}, nil)
	require.NotNil(t, out, "probe failure degrades to configured bounds, not abort")
}

func TestOptimizeScratchFilesCleanedUp(t *testing.T) {
	fake := newFake(transcoder.Probe{Width: 1280, Height: 720, Duration: 10, FPS: 30})

	Optimize(context.Background(), fake, []byte("v"), Config{MaxBytes: 500_000}, nil)
	assert.Empty(t, fake.files, "every scratch file is removed after the search")
}

func TestBuildLadderFiltersUpscale(t *testing.T) {
	ladder := buildLadder(640, 360, 1280, 720)
	assert.Equal(t, []int{360, 240, 144}, ladder)
}

func TestBuildLadderNeverEmpty(t *testing.T) {
	ladder := buildLadder(100, 100, 1280, 100)
	require.NotEmpty(t, ladder)
	for _, h := range ladder {
		assert.Zero(t, h%2, "encoder heights must be even")
	}
}

func TestPickHeightRespectsBPPFloor(t *testing.T) {
	ladder := []int{720, 480, 360, 240}
	aspect := 16.0 / 9.0

	// Plenty of bitrate: top of the ladder.
	assert.Equal(t, 720, pickHeight(ladder, aspect, 4000, 30, 0.06))
	// Starved: forced down to keep bits-per-pixel legible.
	assert.Equal(t, 240, pickHeight(ladder, aspect, 200, 30, 0.06))
	// Nothing qualifies: the bottom entry is the floor.
	assert.Equal(t, 240, pickHeight(ladder, aspect, 1, 30, 0.06))
}

func TestProviderCachesFailure(t *testing.T) {
	calls := 0
	p := NewProvider(func() (transcoder.Transcoder, error) {
		calls++
		return nil, errors.New("no ffmpeg on this host")
	})

	assert.Nil(t, p.Get())
	assert.Nil(t, p.Get())
	assert.Equal(t, 1, calls, "load failure is cached, not retried")
}

func TestProviderReturnsLoaded(t *testing.T) {
	fake := newFake(transcoder.Probe{})
	p := NewProvider(func() (transcoder.Transcoder, error) {
		return fake, nil
	})

	assert.Same(t, fake, p.Get())
}
