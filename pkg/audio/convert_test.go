package audio_test

import (
	"math"
	"testing"
	"time"

	"github.com/MrWong99/shadowalign/pkg/audio"
	"github.com/MrWong99/shadowalign/pkg/audio/audiotest"
)

func approxEqual(a, b, tol float32) bool {
	return float32(math.Abs(float64(a-b))) <= tol
}

func TestDownmix_Stereo(t *testing.T) {
	t.Parallel()
	// Two stereo frames: L=0.2,R=0.4 and L=-0.2,R=-0.4.
	got := audio.Downmix([]float32{0.2, 0.4, -0.2, -0.4}, 2)
	want := []float32{0.3, -0.3}
	if len(got) != len(want) {
		t.Fatalf("length mismatch: got %d, want %d", len(got), len(want))
	}
	for i := range want {
		if !approxEqual(got[i], want[i], 1e-6) {
			t.Errorf("sample %d: got %v, want %v", i, got[i], want[i])
		}
	}
}

func TestDownmix_FourChannels(t *testing.T) {
	t.Parallel()
	got := audio.Downmix([]float32{1, 0, 0, 0, 0.4, 0.4, 0.4, 0.4}, 4)
	want := []float32{0.25, 0.4}
	for i := range want {
		if !approxEqual(got[i], want[i], 1e-6) {
			t.Errorf("sample %d: got %v, want %v", i, got[i], want[i])
		}
	}
}

func TestDownmix_MonoCopies(t *testing.T) {
	t.Parallel()
	in := []float32{0.1, 0.2}
	got := audio.Downmix(in, 1)
	got[0] = 0.9
	if in[0] != 0.1 {
		t.Error("Downmix with one channel must not alias its input")
	}
}

func TestDownmix_DropsPartialFrame(t *testing.T) {
	t.Parallel()
	got := audio.Downmix([]float32{0.2, 0.4, 0.6}, 2)
	if len(got) != 1 {
		t.Fatalf("len = %d, want 1", len(got))
	}
}

func TestInt16ToFloat32(t *testing.T) {
	t.Parallel()
	got := audio.Int16ToFloat32([]int16{0, 16384, -32768})
	want := []float32{0, 0.5, -1}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("sample %d: got %v, want %v", i, got[i], want[i])
		}
	}
}

func TestIntToFloat32(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name     string
		data     []int
		bitDepth int
		want     []float32
		wantErr  bool
	}{
		{name: "8-bit unsigned", data: []int{128, 192, 0}, bitDepth: 8, want: []float32{0, 0.5, -1}},
		{name: "16-bit", data: []int{16384, -32768}, bitDepth: 16, want: []float32{0.5, -1}},
		{name: "24-bit", data: []int{4194304}, bitDepth: 24, want: []float32{0.5}},
		{name: "unsupported", data: []int{1}, bitDepth: 12, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := audio.IntToFloat32(tt.data, tt.bitDepth)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			for i := range tt.want {
				if !approxEqual(got[i], tt.want[i], 1e-6) {
					t.Errorf("sample %d: got %v, want %v", i, got[i], tt.want[i])
				}
			}
		})
	}
}

func TestResample_SameRate(t *testing.T) {
	t.Parallel()
	in := []float32{0.1, 0.2, 0.3}
	out, err := audio.Resample(in, 16000, 16000, audio.DefaultResampleQuality)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(out) != len(in) {
		t.Fatalf("length mismatch: got %d, want %d", len(out), len(in))
	}
}

func TestResample_Downsample(t *testing.T) {
	t.Parallel()
	in := audiotest.Tone(500*time.Millisecond, 48000, 220, 0.5)
	out, err := audio.Resample(in, 48000, 16000, audio.DefaultResampleQuality)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(out) != 8000 {
		t.Fatalf("len = %d, want 8000", len(out))
	}

	// A 220 Hz tone is well below Nyquist; peak amplitude must survive.
	var peak float32
	for _, s := range out[100 : len(out)-100] {
		peak = max(peak, s)
	}
	if peak < 0.45 || peak > 0.55 {
		t.Errorf("peak = %v, want ~0.5", peak)
	}
}

func TestResample_Upsample(t *testing.T) {
	t.Parallel()
	in := audiotest.Tone(250*time.Millisecond, 8000, 220, 0.5)
	out, err := audio.Resample(in, 8000, 16000, audio.DefaultResampleQuality)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(out) != 4000 {
		t.Fatalf("len = %d, want 4000", len(out))
	}
}

func TestResample_InvalidArguments(t *testing.T) {
	t.Parallel()
	if _, err := audio.Resample([]float32{0}, 0, 16000, 4); err == nil {
		t.Error("expected error for zero source rate")
	}
	if _, err := audio.Resample([]float32{0}, 48000, 16000, 0); err == nil {
		t.Error("expected error for quality 0")
	}
	if _, err := audio.Resample([]float32{0}, 48000, 16000, 65); err == nil {
		t.Error("expected error for quality 65")
	}
}

func TestFormatConverter_FastPath(t *testing.T) {
	t.Parallel()
	c := audio.FormatConverter{Target: audio.Format{SampleRate: 16000, Channels: 1}}
	in := audiotest.Mono([]float32{0.1, 0.2})
	out, err := c.Convert(in)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if &out.Samples[0] != &in.Samples[0] {
		t.Error("matching format should return the input unchanged")
	}
}

func TestFormatConverter_StereoToMono16k(t *testing.T) {
	t.Parallel()
	c := audio.FormatConverter{Target: audio.Format{SampleRate: 16000, Channels: 1}}
	stereo := make([]float32, 2*48000)
	for i := 0; i < len(stereo); i += 2 {
		stereo[i], stereo[i+1] = 0.4, 0.2
	}
	out, err := c.Convert(audio.PCMBuffer{Samples: stereo, SampleRate: 48000, Channels: 2})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.Channels != 1 || out.SampleRate != 16000 {
		t.Fatalf("format = %s, want 16000Hz mono", out.Format())
	}
	if out.Len() != 16000 {
		t.Fatalf("Len = %d, want 16000", out.Len())
	}
	if mid := out.Samples[8000]; !approxEqual(mid, 0.3, 1e-3) {
		t.Errorf("mid sample = %v, want 0.3", mid)
	}
}

func TestFormatConverter_RejectsStereoTarget(t *testing.T) {
	t.Parallel()
	c := audio.FormatConverter{Target: audio.Format{SampleRate: 16000, Channels: 2}}
	if _, err := c.Convert(audiotest.Mono([]float32{0})); err == nil {
		t.Fatal("expected error for stereo target")
	}
}

func TestPCMBuffer_SliceAndDuration(t *testing.T) {
	t.Parallel()
	buf := audiotest.Mono(make([]float32, 16000))
	if got := buf.Duration(); got != time.Second {
		t.Errorf("Duration = %v, want 1s", got)
	}
	s := buf.Slice(-10, 800)
	if s.Len() != 800 {
		t.Errorf("Slice(-10, 800).Len = %d, want 800", s.Len())
	}
	s = buf.Slice(15990, 20000)
	if s.Len() != 10 {
		t.Errorf("Slice(15990, 20000).Len = %d, want 10", s.Len())
	}
	if got := buf.SamplesFor(30 * time.Millisecond); got != 480 {
		t.Errorf("SamplesFor(30ms) = %d, want 480", got)
	}
	if got := audio.MillisToFrames(100, 16000); got != 1600 {
		t.Errorf("MillisToFrames(100) = %d, want 1600", got)
	}
}

func TestPCMBuffer_Clone(t *testing.T) {
	t.Parallel()
	buf := audiotest.Mono([]float32{0.5})
	c := buf.Clone()
	c.Samples[0] = 0
	if buf.Samples[0] != 0.5 {
		t.Error("Clone must not share samples")
	}
}

func TestFormat_String(t *testing.T) {
	t.Parallel()
	tests := map[audio.Format]string{
		{SampleRate: 48000, Channels: 2}: "48000Hz stereo",
		{SampleRate: 16000, Channels: 1}: "16000Hz mono",
		{SampleRate: 44100, Channels: 6}: "44100Hz 6ch",
	}
	for f, want := range tests {
		if got := f.String(); got != want {
			t.Errorf("String() = %q, want %q", got, want)
		}
	}
}
