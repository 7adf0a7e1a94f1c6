// Package optimizer is the single entry point of the media optimization
// pipeline. It dispatches a file to the image or video codec stage by media
// kind and normalizes the stage output into a uniform result. It never
// returns an error for unsupported or corrupt input.
package optimizer

import (
	"context"
	"strings"

	"github.com/trunov/mediapress/internal/optimizer/imagecodec"
	"github.com/trunov/mediapress/internal/optimizer/videocodec"
)

// MediaKind is resolved once at the façade boundary; the stages receive the
// concrete variant instead of re-checking MIME prefixes.
type MediaKind int

const (
	KindOther MediaKind = iota
	KindImage
	KindVideo
)

func (k MediaKind) String() string {
	switch k {
	case KindImage:
		return "image"
	case KindVideo:
		return "video"
	default:
		return "other"
	}
}

// KindOf maps a declared media type to its kind.
func KindOf(contentType string) MediaKind {
	switch {
	case strings.HasPrefix(contentType, "image/"):
		return KindImage
	case strings.HasPrefix(contentType, "video/"):
		return KindVideo
	default:
		return KindOther
	}
}

// File is an opaque byte blob with a declared media type and filename.
type File struct {
	Name        string
	ContentType string
	Data        []byte
}

// Request is constructed per file and consumed by exactly one Optimize call.
type Request struct {
	File   File
	Config Config
}

// Config combines the byte budget with per-stage tuning. MaxBytes zero means
// "normalize only, never force-shrink below the original".
type Config struct {
	MaxBytes int64
	Image    imagecodec.Config
	Video    videocodec.Config
}

// Result is the uniform report for one request. Optimized is true only when
// the output is strictly smaller than the input; otherwise File carries the
// original bytes and Reason says why.
type Result struct {
	File          File
	Kind          MediaKind
	Optimized     bool
	OriginalSize  int64
	OptimizedSize int64
	Width         int // output dimensions when the stage reports them
	Height        int
	Reason        string
}

// Optimizer dispatches requests to the codec stages. The video transcoder
// handle is owned by the provider so tests can inject a fake.
type Optimizer struct {
	videos *videocodec.Provider
}

func New(videos *videocodec.Provider) *Optimizer {
	return &Optimizer{videos: videos}
}

// Optimize runs one file through its codec stage. onProgress receives
// non-decreasing ratios in [0,1] and is invoked with exactly 1 once at the
// end, on every path.
func (o *Optimizer) Optimize(ctx context.Context, req Request, onProgress func(float64)) Result {
	if onProgress == nil {
		onProgress = func(float64) {}
	}

	orig := int64(len(req.File.Data))
	res := Result{
		File:          req.File,
		Kind:          KindOf(req.File.ContentType),
		OriginalSize:  orig,
		OptimizedSize: orig,
	}

	defer onProgress(1)
	progress := monotonic(onProgress)

	switch res.Kind {
	case KindImage:
		cfg := req.Config.Image
		cfg.MaxBytes = req.Config.MaxBytes
		out := imagecodec.Optimize(ctx, req.File.Data, cfg, progress)
		if out == nil {
			res.Reason = "Could not decode image"
			return res
		}
		if int64(len(out.Data)) >= orig {
			res.Reason = "No smaller encoding found"
			return res
		}
		res.File = File{
			Name:        replaceExt(req.File.Name, out.Format.Ext()),
			ContentType: out.Format.MIME(),
			Data:        out.Data,
		}
		res.Optimized = true
		res.OptimizedSize = int64(len(out.Data))
		res.Width = out.Width
		res.Height = out.Height

	case KindVideo:
		t := o.videos.Get()
		if t == nil {
			res.Reason = "Video optimization skipped: transcoder unavailable or failed to load"
			return res
		}
		cfg := req.Config.Video
		cfg.MaxBytes = req.Config.MaxBytes
		out := videocodec.Optimize(ctx, t, req.File.Data, cfg, progress)
		if out == nil {
			res.Reason = "Could not transcode video"
			return res
		}
		if int64(len(out.Data)) >= orig {
			res.Reason = "No smaller encoding found"
			return res
		}
		res.File = File{
			Name:        replaceExt(req.File.Name, ".mp4"),
			ContentType: "video/mp4",
			Data:        out.Data,
		}
		res.Optimized = true
		res.OptimizedSize = int64(len(out.Data))
		res.Width = out.Width
		res.Height = out.Height

	default:
		res.Reason = "Unsupported file type"
	}

	return res
}

// monotonic clamps stage progress to [0, 0.99] and never lets it regress, so
// the deferred final call is the only ratio equal to 1.
func monotonic(fn func(float64)) func(float64) {
	last := 0.0
	return func(r float64) {
		if r < last {
			r = last
		}
		if r > 0.99 {
			r = 0.99
		}
		last = r
		fn(r)
	}
}

func replaceExt(name, ext string) string {
	if name == "" {
		return "media" + ext
	}
	if i := strings.LastIndexByte(name, '.'); i > 0 {
		name = name[:i]
	}
	return name + ext
}
