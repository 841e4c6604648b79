package ffmpeg

import (
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strconv"
	"time"
)

// MediaInfo contains what the replay needs to know about a recording.
type MediaInfo struct {
	URL      string
	Duration float64
}

type probeOutput struct {
	Format struct {
		Duration string `json:"duration"`
	} `json:"format"`
	Streams []struct {
		Duration string `json:"duration"`
	} `json:"streams"`
}

// Probe runs ffprobe against a local path or URL.
func Probe(ctx context.Context, ffprobePath, mediaURL string) (*MediaInfo, error) {
	if ffprobePath == "" {
		return nil, fmt.Errorf("ffprobe path is empty")
	}
	if mediaURL == "" {
		return nil, fmt.Errorf("media url is required")
	}

	args := []string{
		"-v", "quiet",
		"-print_format", "json",
		"-show_format",
		"-show_streams",
		"-i", mediaURL,
	}

	cmd := exec.CommandContext(ctx, ffprobePath, args...)
	output, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("ffprobe failed: %w", err)
	}
	return parseProbe(mediaURL, output)
}

func parseProbe(mediaURL string, output []byte) (*MediaInfo, error) {
	var out probeOutput
	if err := json.Unmarshal(output, &out); err != nil {
		return nil, fmt.Errorf("ffprobe output: %w", err)
	}

	info := &MediaInfo{URL: mediaURL}
	info.Duration = parseSeconds(out.Format.Duration)
	// some containers only carry per-stream durations
	for _, s := range out.Streams {
		if d := parseSeconds(s.Duration); d > info.Duration {
			info.Duration = d
		}
	}
	if info.Duration <= 0 {
		return nil, fmt.Errorf("ffprobe output: no duration for %s", mediaURL)
	}
	return info, nil
}

func parseSeconds(v string) float64 {
	if v == "" || v == "N/A" {
		return 0
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil || f < 0 {
		return 0
	}
	return f
}

// Prober returns a probe function bound to one ffprobe binary, each call
// limited to timeout.
func Prober(ffprobePath string, timeout time.Duration) func(ctx context.Context, mediaURL string) (float64, error) {
	return func(ctx context.Context, mediaURL string) (float64, error) {
		if timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, timeout)
			defer cancel()
		}
		info, err := Probe(ctx, ffprobePath, mediaURL)
		if err != nil {
			return 0, err
		}
		return info.Duration, nil
	}
}
