// SPDX-License-Identifier: MIT

package writer

import "testing"

func TestBitrateKbpsTiers(t *testing.T) {
	cases := []struct {
		name    string
		quality Quality
		pixels  int64
		want    int
	}{
		{"standard sd", QualityStandard, 640 * 480, 3000},
		{"standard 1080p", QualityStandard, 1920 * 1080, 4000},
		{"standard 1440p", QualityStandard, 2560 * 1440, 6000},
		{"standard 4k", QualityStandard, 3840 * 2160, 8000},
		{"high 1080p", QualityHigh, 1920 * 1080, 7000},
		{"high 4k", QualityHigh, 3840 * 2160, 12000},
		{"just under 1080p falls to sd tier", QualityStandard, 1920*1080 - 1, 3000},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if got := BitrateKbps(c.quality, c.pixels); got != c.want {
				t.Errorf("BitrateKbps(%v, %d) = %d, want %d", c.quality, c.pixels, got, c.want)
			}
		})
	}
}

func TestScaledBitrateKbpsAppliesFallbackFactor(t *testing.T) {
	hevc := ScaledBitrateKbps(QualityHigh, 1920*1080, true)
	h264 := ScaledBitrateKbps(QualityHigh, 1920*1080, false)
	if hevc != 7000 {
		t.Errorf("hevc = %d, want 7000", hevc)
	}
	if h264 <= hevc {
		t.Errorf("h264 fallback bitrate %d should exceed hevc bitrate %d", h264, hevc)
	}
}
