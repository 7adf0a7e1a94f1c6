package videocodec

import (
	"context"
	"fmt"
	"time"

	"github.com/trunov/mediapress/internal/transcoder"
)

// Config carries the stage's bounding box, budget and the empirically tuned
// constants of the bitrate search. The defaults reproduce the shipped
// behavior; none of them are known to be optimal.
type Config struct {
	MaxWidth     int
	MaxHeight    int
	CRF          int
	Preset       string
	FPS          float64 // 0 = keep source frame rate
	VideoBitrate int     // explicit target kbps, 0 = derive
	AudioBitrate int     // kbps
	Attempts     int
	MaxBytes     int64 // 0 = no budget, single encode

	SafetyFactor    float64 // container overhead headroom on the budget
	MinVideoBitrate int     // kbps floor for the search
	MinAudioBitrate int     // kbps floor when squeezing audio
	BPPFloor        float64 // legibility floor coupling resolution to bitrate
	OvershootMin    float64 // clamp on the overshoot divisor
	OvershootMax    float64
	LowFPS          float64 // frame rate tried in the last iterations
	DefaultDuration float64 // probe-failure duration floor, seconds
}

func (c Config) withDefaults() Config {
	if c.MaxWidth <= 0 {
		c.MaxWidth = 1280
	}
	if c.MaxHeight <= 0 {
		c.MaxHeight = 720
	}
	if c.CRF <= 0 {
		c.CRF = 28
	}
	if c.Preset == "" {
		c.Preset = "veryfast"
	}
	if c.AudioBitrate <= 0 {
		c.AudioBitrate = 96
	}
	if c.Attempts <= 0 {
		c.Attempts = 5
	}
	if c.Attempts < 2 {
		c.Attempts = 2
	}
	if c.SafetyFactor <= 0 || c.SafetyFactor > 1 {
		c.SafetyFactor = 0.97
	}
	if c.MinVideoBitrate <= 0 {
		c.MinVideoBitrate = 24
	}
	if c.MinAudioBitrate <= 0 {
		c.MinAudioBitrate = 32
	}
	if c.BPPFloor <= 0 {
		c.BPPFloor = 0.06
	}
	if c.OvershootMin <= 0 {
		c.OvershootMin = 1.2
	}
	if c.OvershootMax <= 0 {
		c.OvershootMax = 2.2
	}
	if c.LowFPS <= 0 {
		c.LowFPS = 18
	}
	if c.DefaultDuration <= 0 {
		c.DefaultDuration = 6
	}
	return c
}

// Output is the best transcode found by the search.
type Output struct {
	Data    []byte
	Width   int
	Height  int
	Bitrate int // kbps, 0 when encoded in constant-quality mode
}

var standardHeights = []int{1080, 720, 540, 480, 360, 240, 144}

// Optimize writes data into the transcoder's scratch namespace and searches
// over resolution/bitrate/frame-rate/audio-bitrate for the smallest output
// under the byte budget. A failed encode attempt is not fatal; the search
// moves to the next parameter point. It returns nil only when no attempt
// produced a usable result. The caller decides whether the result actually
// beats the original.
func Optimize(ctx context.Context, t transcoder.Transcoder, data []byte, cfg Config, onProgress func(float64)) *Output {
	cfg = cfg.withDefaults()

	inName := fmt.Sprintf("in-%d.bin", time.Now().UnixNano())
	if err := t.WriteFile(inName, data); err != nil {
		return nil
	}
	defer t.RemoveFile(inName)

	probe, err := t.Probe(ctx, inName)
	if err != nil {
		// fall back to the configured bounds instead of aborting
		probe = transcoder.Probe{Width: cfg.MaxWidth, Height: cfg.MaxHeight}
	}
	duration := probe.Duration
	if duration < cfg.DefaultDuration {
		duration = cfg.DefaultDuration
	}
	fps := cfg.FPS
	if fps <= 0 {
		fps = probe.FPS
	}
	if fps <= 0 {
		fps = 30
	}

	ladder := buildLadder(probe.Width, probe.Height, cfg.MaxWidth, cfg.MaxHeight)
	aspect := aspectOf(probe.Width, probe.Height)

	base := transcoder.EncodeParams{
		CRF:          cfg.CRF,
		Preset:       cfg.Preset,
		AudioBitrate: cfg.AudioBitrate,
		Duration:     duration,
	}

	if cfg.MaxBytes <= 0 {
		p := base
		p.Height = ladder[0]
		p.VideoBitrate = cfg.VideoBitrate
		p.FPS = cfg.FPS
		out := encodeAttempt(ctx, t, inName, p, onProgress)
		if out != nil {
			out.Width = even(float64(out.Height) * aspect)
		}
		return out
	}

	audio := cfg.AudioBitrate
	kbps := int(float64(cfg.MaxBytes)*8*cfg.SafetyFactor/1000/duration) - audio
	if kbps < cfg.MinVideoBitrate {
		kbps = cfg.MinVideoBitrate
	}

	var best *Output
	for i := 0; i < cfg.Attempts; i++ {
		if ctx.Err() != nil {
			break
		}

		finalStretch := i >= cfg.Attempts-2
		if finalStretch && audio > cfg.MinAudioBitrate {
			audio = audio / 2
			if audio < cfg.MinAudioBitrate {
				audio = cfg.MinAudioBitrate
			}
		}

		p := base
		p.Height = pickHeight(ladder, aspect, kbps, fps, cfg.BPPFloor)
		p.VideoBitrate = kbps
		p.AudioBitrate = audio
		p.FPS = cfg.FPS

		out := encodeAttempt(ctx, t, inName, p, onProgress)
		if out != nil {
			if best == nil || len(out.Data) < len(best.Data) {
				best = out
			}
			if int64(len(out.Data)) <= cfg.MaxBytes {
				break
			}
			// shrink by the overshoot ratio, clamped against oscillation
			ratio := float64(len(out.Data)) / float64(cfg.MaxBytes)
			if ratio > cfg.OvershootMax {
				ratio = cfg.OvershootMax
			}
			if ratio < cfg.OvershootMin {
				ratio = cfg.OvershootMin
			}
			kbps = int(float64(kbps) / ratio)
		} else {
			kbps = int(float64(kbps) / cfg.OvershootMin)
		}
		if kbps < cfg.MinVideoBitrate {
			kbps = cfg.MinVideoBitrate
		}

		if finalStretch && fps > cfg.LowFPS {
			low := p
			low.FPS = cfg.LowFPS
			low.VideoBitrate = kbps
			low.Height = pickHeight(ladder, aspect, kbps, cfg.LowFPS, cfg.BPPFloor)
			if out := encodeAttempt(ctx, t, inName, low, onProgress); out != nil {
				if best == nil || len(out.Data) < len(best.Data) {
					best = out
				}
				if int64(len(out.Data)) <= cfg.MaxBytes {
					break
				}
			}
		}
	}

	if best != nil {
		best.Width = even(float64(best.Height) * aspect)
	}
	return best
}

// encodeAttempt runs one transcode with a unique output name, reads the
// result back and always removes the scratch output afterward.
func encodeAttempt(ctx context.Context, t transcoder.Transcoder, inName string, p transcoder.EncodeParams, onProgress func(float64)) *Output {
	outName := fmt.Sprintf("out-%d.mp4", time.Now().UnixNano())
	defer t.RemoveFile(outName)

	if err := t.Transcode(ctx, inName, outName, p, onProgress); err != nil {
		return nil
	}
	data, err := t.ReadFile(outName)
	if err != nil || len(data) == 0 {
		return nil
	}
	return &Output{Data: data, Height: p.Height, Bitrate: p.VideoBitrate}
}

func aspectOf(w, h int) float64 {
	if w <= 0 || h <= 0 {
		return 16.0 / 9.0
	}
	return float64(w) / float64(h)
}

// buildLadder returns the descending candidate output heights, filtered to
// the scaled bounding box without upscaling. At least one candidate always
// remains.
func buildLadder(srcW, srcH, maxW, maxH int) []int {
	aspect := aspectOf(srcW, srcH)
	heightCap := maxH
	if srcH > 0 && srcH < heightCap {
		heightCap = srcH
	}

	var ladder []int
	for _, h := range standardHeights {
		if h > heightCap {
			continue
		}
		if even(float64(h)*aspect) > maxW {
			continue
		}
		ladder = append(ladder, h)
	}
	if len(ladder) == 0 {
		h := heightCap
		if h > standardHeights[len(standardHeights)-1] {
			h = standardHeights[len(standardHeights)-1]
		}
		if h < 2 {
			h = 2
		}
		ladder = []int{h - h%2}
	}
	return ladder
}

// pickHeight couples resolution to bitrate: the tallest ladder entry whose
// bits-per-pixel stays at or above the legibility floor, so low bitrates
// never land on a resolution that would macroblock.
func pickHeight(ladder []int, aspect float64, kbps int, fps, bppFloor float64) int {
	for _, h := range ladder {
		w := even(float64(h) * aspect)
		bpp := float64(kbps) * 1000 / (float64(w*h) * fps)
		if bpp >= bppFloor {
			return h
		}
	}
	return ladder[len(ladder)-1]
}

func even(v float64) int {
	n := int(v + 0.5)
	if n < 2 {
		return 2
	}
	return n - n%2
}
