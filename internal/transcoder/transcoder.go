// Package transcoder drives an external transcode tool through a scratch
// file namespace: write a named input, run a command, read back the named
// output. The interface exists so the video search can run against a fake.
package transcoder

import "context"

// Probe is the source metadata reported by the tool.
type Probe struct {
	Width    int
	Height   int
	Duration float64 // seconds
	FPS      float64
}

// EncodeParams is one parameter point of the search.
type EncodeParams struct {
	Height       int // target output height, 0 = keep source
	VideoBitrate int // kbps, 0 = constant-quality mode
	CRF          int // used when VideoBitrate is 0
	Preset       string
	AudioBitrate int     // kbps
	FPS          float64 // 0 = keep source
	Duration     float64 // source duration, used to scale progress
}

type Transcoder interface {
	Probe(ctx context.Context, name string) (Probe, error)
	Transcode(ctx context.Context, inName, outName string, p EncodeParams, onProgress func(float64)) error
	WriteFile(name string, data []byte) error
	ReadFile(name string) ([]byte, error)
	RemoveFile(name string) error
}
