package imagecodec

import (
	"bytes"
	"context"
	"image"
	"image/jpeg"
	"image/png"
	"strings"

	"github.com/chai2010/webp"
	"github.com/disintegration/imaging"

	// Register additional image formats
	_ "golang.org/x/image/webp"
)

// Format is a candidate output encoding.
type Format int

const (
	WebP Format = iota
	JPEG
	PNG
)

func (f Format) String() string {
	switch f {
	case JPEG:
		return "jpeg"
	case PNG:
		return "png"
	default:
		return "webp"
	}
}

func (f Format) Ext() string {
	switch f {
	case JPEG:
		return ".jpg"
	case PNG:
		return ".png"
	default:
		return ".webp"
	}
}

func (f Format) MIME() string {
	switch f {
	case JPEG:
		return "image/jpeg"
	case PNG:
		return "image/png"
	default:
		return "image/webp"
	}
}

// ParseFormat maps a config string to a Format.
func ParseFormat(s string) (Format, bool) {
	switch strings.ToLower(s) {
	case "webp":
		return WebP, true
	case "jpeg", "jpg":
		return JPEG, true
	case "png":
		return PNG, true
	}
	return WebP, false
}

// Config carries the stage's bounding box, byte budget and every tuning knob
// of the shrink-and-encode search.
type Config struct {
	MaxWidth  int
	MaxHeight int
	Quality   float64 // 0..1 starting point
	MaxBytes  int64   // 0 = no budget, normalize only

	QualityStep  float64 // decrement per re-encode while over budget
	QualityFloor float64 // never encode below this
	MaxAttempts  int     // shrink-and-encode rounds
	ShrinkFactor float64 // scale multiplier between rounds
	Formats      []Format
}

func (c Config) withDefaults() Config {
	if c.MaxWidth <= 0 {
		c.MaxWidth = 1920
	}
	if c.MaxHeight <= 0 {
		c.MaxHeight = 1920
	}
	if c.Quality <= 0 || c.Quality > 1 {
		c.Quality = 0.85
	}
	if c.QualityStep <= 0 {
		c.QualityStep = 0.1
	}
	if c.QualityFloor <= 0 {
		c.QualityFloor = 0.5
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 4
	}
	if c.ShrinkFactor <= 0 || c.ShrinkFactor >= 1 {
		c.ShrinkFactor = 0.85
	}
	if len(c.Formats) == 0 {
		c.Formats = []Format{WebP, JPEG}
	}
	return c
}

// Output is the best encoding found by the search.
type Output struct {
	Data   []byte
	Format Format
	Width  int
	Height int
}

// Optimize decodes data, scales it to fit the bounding box and re-encodes it
// at decreasing quality and scale until it fits the byte budget. It returns
// the globally smallest encoding seen, or nil when the input cannot be
// decoded. Without a budget a single round is performed; the caller decides
// whether the result actually beats the original.
func Optimize(ctx context.Context, data []byte, cfg Config, onProgress func(float64)) *Output {
	cfg = cfg.withDefaults()
	if onProgress == nil {
		onProgress = func(float64) {}
	}

	img, err := decode(data)
	if err != nil {
		return nil
	}

	srcW := img.Bounds().Dx()
	srcH := img.Bounds().Dy()
	if srcW == 0 || srcH == 0 {
		return nil
	}

	attempts := 1
	qualitySteps := 1
	if cfg.MaxBytes > 0 {
		attempts = cfg.MaxAttempts
		qualitySteps = int((cfg.Quality-cfg.QualityFloor)/cfg.QualityStep) + 1
		if qualitySteps < 1 {
			qualitySteps = 1
		}
	}

	// Progress units: decode, then one draw plus the encode sub-steps per round.
	total := 1 + attempts*(1+len(cfg.Formats)*qualitySteps)
	done := 0
	step := func() {
		done++
		r := float64(done) / float64(total)
		if r > 0.99 {
			r = 0.99
		}
		onProgress(r)
	}
	step() // decode

	scale := fitScale(srcW, srcH, cfg.MaxWidth, cfg.MaxHeight)

	var best *Output
	for attempt := 0; attempt < attempts; attempt++ {
		if ctx.Err() != nil {
			break
		}

		w := int(float64(srcW)*scale + 0.5)
		h := int(float64(srcH)*scale + 0.5)
		if w < 1 {
			w = 1
		}
		if h < 1 {
			h = 1
		}

		frame := img
		if w != srcW || h != srcH {
			frame = imaging.Resize(img, w, h, imaging.Lanczos)
		}
		step() // draw

		for _, f := range cfg.Formats {
			q := cfg.Quality
			for {
				encoded, ok := encode(frame, f, q)
				step()
				if ok && (best == nil || len(encoded) < len(best.Data)) {
					best = &Output{Data: encoded, Format: f, Width: w, Height: h}
				}
				if cfg.MaxBytes <= 0 {
					break
				}
				if ok && int64(len(encoded)) <= cfg.MaxBytes {
					break
				}
				if f == PNG {
					// quality has no effect on lossless output
					break
				}
				q -= cfg.QualityStep
				if q < cfg.QualityFloor-1e-9 {
					break
				}
			}
		}

		if cfg.MaxBytes <= 0 {
			break
		}
		if best != nil && int64(len(best.Data)) <= cfg.MaxBytes {
			break
		}
		scale *= cfg.ShrinkFactor
	}

	return best
}

// fitScale computes the factor that fits (w, h) inside the bounding box,
// capped at 1 so the source is never upscaled.
func fitScale(w, h, maxW, maxH int) float64 {
	scale := 1.0
	if w > maxW {
		scale = float64(maxW) / float64(w)
	}
	if h > maxH {
		if s := float64(maxH) / float64(h); s < scale {
			scale = s
		}
	}
	return scale
}

func decode(data []byte) (image.Image, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err == nil {
		return img, nil
	}
	// the generic decoder can miss webp variants the cgo decoder handles
	if img, werr := webp.Decode(bytes.NewReader(data)); werr == nil {
		return img, nil
	}
	return nil, err
}

// encode is a single attempt at one parameter point. A failed encode is not
// an error, just an attempt without a result.
func encode(img image.Image, f Format, quality float64) ([]byte, bool) {
	var buf bytes.Buffer
	var err error
	switch f {
	case JPEG:
		err = jpeg.Encode(&buf, img, &jpeg.Options{Quality: int(quality * 100)})
	case PNG:
		enc := png.Encoder{CompressionLevel: png.BestCompression}
		err = enc.Encode(&buf, img)
	default:
		err = webp.Encode(&buf, img, &webp.Options{Quality: float32(quality * 100)})
	}
	if err != nil {
		return nil, false
	}
	return buf.Bytes(), true
}
