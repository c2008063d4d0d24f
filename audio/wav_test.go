package audio

import (
	"errors"
	"io"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

func writeTestWAV(t *testing.T, path string, rate int, samples []float32) {
	t.Helper()
	sink, err := CreateWAV(path, rate)
	if err != nil {
		t.Fatalf("CreateWAV: %v", err)
	}
	if err := sink.Write(samples); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if sink.Written() != len(samples) {
		t.Errorf("Written = %d, want %d", sink.Written(), len(samples))
	}
	if err := sink.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
}

func TestWAVRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "disc.wav")
	samples := make([]float32, 1000)
	for i := range samples {
		samples[i] = float32(0.8 * math.Sin(float64(i)/10))
	}
	writeTestWAV(t, path, 48000, samples)

	src, err := OpenWAV(path, 48000)
	if err != nil {
		t.Fatalf("OpenWAV: %v", err)
	}
	defer src.Close()

	if src.SampleRate() != 48000 || src.NumChannels() != 1 {
		t.Fatalf("format = %d Hz, %d ch", src.SampleRate(), src.NumChannels())
	}

	var got []float32
	buf := make([]float32, 128)
	for {
		n, err := src.Read(buf)
		got = append(got, buf[:n]...)
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("Read: %v", err)
		}
	}

	if len(got) != len(samples) {
		t.Fatalf("read %d samples, want %d", len(got), len(samples))
	}
	for i := range samples {
		if d := math.Abs(float64(got[i] - samples[i])); d > 1.0/16384 {
			t.Fatalf("sample %d = %v, want %v", i, got[i], samples[i])
		}
	}
}

func TestWAVSinkClips(t *testing.T) {
	path := filepath.Join(t.TempDir(), "clip.wav")
	writeTestWAV(t, path, 8000, []float32{2, -3, 0.5})

	src, err := OpenWAV(path, 0)
	if err != nil {
		t.Fatalf("OpenWAV: %v", err)
	}
	defer src.Close()

	buf := make([]float32, 3)
	if n, err := src.Read(buf); err != nil || n != 3 {
		t.Fatalf("Read = %d, %v", n, err)
	}
	if buf[0] < 0.999 || buf[1] > -0.999 {
		t.Errorf("clipped samples = %v", buf)
	}
}

func TestOpenWAVRejectsSampleRate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "slow.wav")
	writeTestWAV(t, path, 8000, []float32{0.1, 0.2})

	if _, err := OpenWAV(path, 48000); !errors.Is(err, ErrSampleRate) {
		t.Errorf("err = %v, want ErrSampleRate", err)
	}
}

func TestOpenWAVRejectsGarbage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "junk.wav")
	if err := os.WriteFile(path, []byte("definitely not RIFF data"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := OpenWAV(path, 0); !errors.Is(err, ErrInvalidWAV) {
		t.Errorf("err = %v, want ErrInvalidWAV", err)
	}
}

func TestWAVSourceDownmixesStereo(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stereo.wav")
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	enc := wav.NewEncoder(f, 48000, 16, 2, 1)
	buf := &audio.IntBuffer{
		Format:         &audio.Format{NumChannels: 2, SampleRate: 48000},
		SourceBitDepth: 16,
		Data:           []int{16384, 0, -16384, -16384, 0, 8192},
	}
	if err := enc.Write(buf); err != nil {
		t.Fatal(err)
	}
	if err := enc.Close(); err != nil {
		t.Fatal(err)
	}
	f.Close()

	src, err := OpenWAV(path, 48000)
	if err != nil {
		t.Fatalf("OpenWAV: %v", err)
	}
	defer src.Close()

	out := make([]float32, 4)
	n, err := src.Read(out)
	if err != nil || n != 3 {
		t.Fatalf("Read = %d, %v", n, err)
	}
	want := []float32{0.25, -0.5, 0.125}
	for i := range want {
		if d := math.Abs(float64(out[i] - want[i])); d > 1e-3 {
			t.Errorf("out[%d] = %v, want %v", i, out[i], want[i])
		}
	}
}

func TestWAVSinkWritesNaNAsSilence(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nan.wav")
	nan := float32(math.NaN())
	writeTestWAV(t, path, 8000, []float32{nan, 0.5, nan})

	src, err := OpenWAV(path, 8000)
	if err != nil {
		t.Fatalf("OpenWAV: %v", err)
	}
	defer src.Close()

	buf := make([]float32, 3)
	if n, err := src.Read(buf); err != nil || n != 3 {
		t.Fatalf("Read = %d, %v", n, err)
	}
	if buf[0] != 0 || buf[2] != 0 {
		t.Errorf("NaN samples written as %v and %v, want 0", buf[0], buf[2])
	}
	if math.Abs(float64(buf[1]-0.5)) > 1e-3 {
		t.Errorf("buf[1] = %v, want 0.5", buf[1])
	}
}
