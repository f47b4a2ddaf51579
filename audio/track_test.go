package audio

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeWAV(t *testing.T, path string, sampleRate, channels int, data []int) {
	t.Helper()
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()

	enc := wav.NewEncoder(f, sampleRate, 16, channels, 1)
	buf := &goaudio.IntBuffer{
		Format:         &goaudio.Format{NumChannels: channels, SampleRate: sampleRate},
		Data:           data,
		SourceBitDepth: 16,
	}
	require.NoError(t, enc.Write(buf))
	require.NoError(t, enc.Close())
}

func TestLoadMonoWAV(t *testing.T) {
	data := make([]int, 8000)
	data[1] = 16384
	data[2] = -16384
	path := filepath.Join(t.TempDir(), "tone.wav")
	writeWAV(t, path, 8000, 1, data)

	tr, err := LoadTrack(path)
	require.NoError(t, err)
	assert.Equal(t, "tone.wav", tr.Name)
	assert.Equal(t, 8000, tr.SampleRate)
	assert.Equal(t, 8000, tr.Frames())
	assert.InDelta(t, 1.0, tr.Duration(), 1e-9)

	// Mono lands on both channels.
	assert.InDelta(t, 0.5, tr.Samples[2], 1e-6)
	assert.InDelta(t, 0.5, tr.Samples[3], 1e-6)
	assert.InDelta(t, -0.5, tr.Samples[4], 1e-6)
}

func TestLoadStereoWAV(t *testing.T) {
	data := []int{0, 0, 16384, -16384, 8192, -8192, 0, 0}
	path := filepath.Join(t.TempDir(), "st.WAV")
	writeWAV(t, path, 44100, 2, data)

	tr, err := LoadTrack(path)
	require.NoError(t, err)
	require.Equal(t, 4, tr.Frames())
	assert.InDelta(t, 0.5, tr.Samples[2], 1e-6)
	assert.InDelta(t, -0.5, tr.Samples[3], 1e-6)
	assert.InDelta(t, 0.25, tr.Samples[4], 1e-6)
}

func TestLoadTrackErrors(t *testing.T) {
	dir := t.TempDir()

	_, err := LoadTrack(filepath.Join(dir, "missing.wav"))
	assert.ErrorIs(t, err, os.ErrNotExist)

	ogg := filepath.Join(dir, "track.ogg")
	require.NoError(t, os.WriteFile(ogg, []byte("OggS"), 0o644))
	_, err = LoadTrack(ogg)
	assert.ErrorIs(t, err, ErrUnsupportedFormat)

	junk := filepath.Join(dir, "junk.wav")
	require.NoError(t, os.WriteFile(junk, []byte("definitely not riff data"), 0o644))
	_, err = LoadTrack(junk)
	assert.ErrorIs(t, err, ErrUnsupportedFormat)
}

func TestDecodeMP3RejectsGarbage(t *testing.T) {
	_, err := DecodeMP3(bytes.NewReader([]byte("not an mp3 stream")))
	assert.Error(t, err)
}
