package transcoder

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseFrameRate(t *testing.T) {
	assert.InDelta(t, 29.97, parseFrameRate("30000/1001"), 0.001)
	assert.Equal(t, 25.0, parseFrameRate("25/1"))
	assert.Equal(t, 30.0, parseFrameRate("30"))
	assert.Equal(t, 0.0, parseFrameRate("0/0"))
	assert.Equal(t, 0.0, parseFrameRate("garbage/1"))
	assert.Equal(t, 0.0, parseFrameRate(""))
}

func TestBuildArgsBitrateMode(t *testing.T) {
	args := BuildArgs("in.bin", "out.mp4", EncodeParams{
		Height:       480,
		VideoBitrate: 800,
		AudioBitrate: 64,
		FPS:          24,
		Preset:       "veryfast",
	}, false)
	line := strings.Join(args, " ")

	assert.Contains(t, line, "-i in.bin")
	assert.Contains(t, line, "scale=-2:480:flags=lanczos,setsar=1")
	assert.Contains(t, line, "-r 24")
	assert.Contains(t, line, "-b:v 800k -maxrate 800k -bufsize 1600k")
	assert.NotContains(t, line, "-crf")
	assert.Contains(t, line, "-b:a 64k")
	assert.Contains(t, line, "-pix_fmt yuv420p")
	assert.Contains(t, line, "-movflags +faststart")
	assert.NotContains(t, line, "-progress")
	assert.Equal(t, "out.mp4", args[len(args)-1])
}

func TestBuildArgsCRFMode(t *testing.T) {
	args := BuildArgs("in.bin", "out.mp4", EncodeParams{Height: 720, CRF: 23}, false)
	line := strings.Join(args, " ")

	assert.Contains(t, line, "-crf 23")
	assert.NotContains(t, line, "-b:v")
	assert.NotContains(t, line, "-maxrate")
}

func TestBuildArgsDefaults(t *testing.T) {
	args := BuildArgs("in.bin", "out.mp4", EncodeParams{}, true)
	line := strings.Join(args, " ")

	assert.NotContains(t, line, "-vf", "no scale filter without a target height")
	assert.NotContains(t, line, "-r ")
	assert.Contains(t, line, "-preset veryfast")
	assert.Contains(t, line, "-crf 28")
	assert.Contains(t, line, "-b:a 96k")
	assert.Contains(t, line, "-progress pipe:1 -nostats")
}

func TestScratchFileRoundTrip(t *testing.T) {
	f := &FFmpeg{dir: t.TempDir()}

	assert.NoError(t, f.WriteFile("clip.bin", []byte("payload")))

	data, err := f.ReadFile("clip.bin")
	assert.NoError(t, err)
	assert.Equal(t, []byte("payload"), data)

	assert.NoError(t, f.RemoveFile("clip.bin"))
	_, err = f.ReadFile("clip.bin")
	assert.Error(t, err)
}

func TestScratchNamespaceIsFlat(t *testing.T) {
	f := &FFmpeg{dir: t.TempDir()}

	// Path components are stripped so a crafted name cannot escape the dir.
	assert.NoError(t, f.WriteFile("../../etc/passwd", []byte("x")))
	data, err := f.ReadFile("passwd")
	assert.NoError(t, err)
	assert.Equal(t, []byte("x"), data)
}
