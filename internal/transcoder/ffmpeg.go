package transcoder

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/trunov/mediapress/internal/config"
)

// FFmpeg runs ffmpeg/ffprobe binaries against a scratch directory.
type FFmpeg struct {
	ffmpegPath  string
	ffprobePath string
	dir         string
}

// Load resolves the binaries and prepares the scratch namespace. A missing
// binary is the expected degradation path on hosts without ffmpeg.
func Load(cfg config.FFmpegConfig) (*FFmpeg, error) {
	ffmpegBin := cfg.FFmpegPath
	if ffmpegBin == "" {
		ffmpegBin = "ffmpeg"
	}
	ffprobeBin := cfg.FFprobePath
	if ffprobeBin == "" {
		ffprobeBin = "ffprobe"
	}

	ffmpegPath, err := exec.LookPath(ffmpegBin)
	if err != nil {
		return nil, fmt.Errorf("ffmpeg not found: %w", err)
	}
	ffprobePath, err := exec.LookPath(ffprobeBin)
	if err != nil {
		return nil, fmt.Errorf("ffprobe not found: %w", err)
	}

	dir, err := os.MkdirTemp(cfg.ScratchDir, "mediapress-")
	if err != nil {
		return nil, fmt.Errorf("create scratch dir: %w", err)
	}

	return &FFmpeg{ffmpegPath: ffmpegPath, ffprobePath: ffprobePath, dir: dir}, nil
}

func (f *FFmpeg) path(name string) string {
	// Base keeps callers inside the scratch namespace.
	return filepath.Join(f.dir, filepath.Base(name))
}

func (f *FFmpeg) WriteFile(name string, data []byte) error {
	return os.WriteFile(f.path(name), data, 0o644)
}

func (f *FFmpeg) ReadFile(name string) ([]byte, error) {
	return os.ReadFile(f.path(name))
}

func (f *FFmpeg) RemoveFile(name string) error {
	return os.Remove(f.path(name))
}

type probeStream struct {
	CodecType    string `json:"codec_type"`
	Width        int    `json:"width"`
	Height       int    `json:"height"`
	AvgFrameRate string `json:"avg_frame_rate"`
}

type probeOutput struct {
	Format struct {
		Duration string `json:"duration"`
	} `json:"format"`
	Streams []probeStream `json:"streams"`
}

func (f *FFmpeg) Probe(ctx context.Context, name string) (Probe, error) {
	cmd := exec.CommandContext(ctx, f.ffprobePath,
		"-v", "error",
		"-print_format", "json",
		"-show_format",
		"-show_streams",
		f.path(name),
	)
	raw, err := cmd.Output()
	if err != nil {
		return Probe{}, fmt.Errorf("ffprobe: %w", err)
	}

	var out probeOutput
	if err := json.Unmarshal(raw, &out); err != nil {
		return Probe{}, fmt.Errorf("ffprobe output: %w", err)
	}

	p := Probe{}
	p.Duration, _ = strconv.ParseFloat(out.Format.Duration, 64)
	for _, s := range out.Streams {
		if s.CodecType != "video" {
			continue
		}
		p.Width = s.Width
		p.Height = s.Height
		p.FPS = parseFrameRate(s.AvgFrameRate)
		break
	}
	if p.Width == 0 || p.Height == 0 {
		return Probe{}, fmt.Errorf("no video stream in %s", name)
	}
	return p, nil
}

// parseFrameRate handles ffprobe's "30000/1001" rational form.
func parseFrameRate(s string) float64 {
	num, den, ok := strings.Cut(s, "/")
	if !ok {
		v, _ := strconv.ParseFloat(s, 64)
		return v
	}
	n, err1 := strconv.ParseFloat(num, 64)
	d, err2 := strconv.ParseFloat(den, 64)
	if err1 != nil || err2 != nil || d == 0 {
		return 0
	}
	return n / d
}

// BuildArgs assembles the transcode command line for one parameter point.
func BuildArgs(inPath, outPath string, p EncodeParams, withProgress bool) []string {
	args := []string{"-y", "-hide_banner", "-loglevel", "error", "-i", inPath}

	if p.Height > 0 {
		args = append(args, "-vf", fmt.Sprintf("scale=-2:%d:flags=lanczos,setsar=1", p.Height))
	}
	if p.FPS > 0 {
		args = append(args, "-r", strconv.FormatFloat(p.FPS, 'f', -1, 64))
	}

	preset := p.Preset
	if preset == "" {
		preset = "veryfast"
	}
	args = append(args, "-c:v", "libx264", "-preset", preset)
	if p.VideoBitrate > 0 {
		rate := fmt.Sprintf("%dk", p.VideoBitrate)
		args = append(args, "-b:v", rate, "-maxrate", rate, "-bufsize", fmt.Sprintf("%dk", p.VideoBitrate*2))
	} else {
		crf := p.CRF
		if crf <= 0 {
			crf = 28
		}
		args = append(args, "-crf", strconv.Itoa(crf))
	}
	args = append(args, "-pix_fmt", "yuv420p")

	audio := p.AudioBitrate
	if audio <= 0 {
		audio = 96
	}
	args = append(args, "-c:a", "aac", "-b:a", fmt.Sprintf("%dk", audio), "-ac", "2")

	args = append(args, "-movflags", "+faststart", "-threads", "0")
	if withProgress {
		args = append(args, "-progress", "pipe:1", "-nostats")
	}
	return append(args, outPath)
}

func (f *FFmpeg) Transcode(ctx context.Context, inName, outName string, p EncodeParams, onProgress func(float64)) error {
	withProgress := onProgress != nil && p.Duration > 0
	args := BuildArgs(f.path(inName), f.path(outName), p, withProgress)

	cmd := exec.CommandContext(ctx, f.ffmpegPath, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if !withProgress {
		if err := cmd.Run(); err != nil {
			return fmt.Errorf("ffmpeg: %w: %s", err, strings.TrimSpace(stderr.String()))
		}
		return nil
	}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("ffmpeg stdout: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("ffmpeg start: %w", err)
	}

	scanner := bufio.NewScanner(stdout)
	for scanner.Scan() {
		line := scanner.Text()
		value, ok := strings.CutPrefix(line, "out_time_ms=")
		if !ok {
			continue
		}
		// out_time_ms is microseconds despite the name
		us, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			continue
		}
		ratio := float64(us) / 1e6 / p.Duration
		if ratio < 0 {
			ratio = 0
		}
		if ratio > 1 {
			ratio = 1
		}
		onProgress(ratio)
	}

	if err := cmd.Wait(); err != nil {
		return fmt.Errorf("ffmpeg: %w: %s", err, strings.TrimSpace(stderr.String()))
	}
	return nil
}

// Close removes the scratch directory. The process-wide handle is normally
// never torn down; this exists for tests.
func (f *FFmpeg) Close() error {
	return os.RemoveAll(f.dir)
}
