package cartesia

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/dennisdiepolder/monti/convo/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTranscribe(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/stt", r.URL.Path)
		assert.Equal(t, "Bearer key-1", r.Header.Get("Authorization"))
		assert.Equal(t, apiVersion, r.Header.Get("Cartesia-Version"))
		assert.Equal(t, "pcm_mulaw", r.URL.Query().Get("encoding"))
		assert.Equal(t, "8000", r.URL.Query().Get("sample_rate"))

		require.NoError(t, r.ParseMultipartForm(1<<20))
		assert.Equal(t, defaultModel, r.FormValue("model"))
		f, _, err := r.FormFile("file")
		require.NoError(t, err)
		data, _ := io.ReadAll(f)
		assert.Equal(t, []byte{1, 2, 3}, data)

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"text":"hola, quiero una cita","language":"es","duration":1.2}`))
	}))
	defer srv.Close()

	tr := New("key-1", srv.URL, srv.Client())
	got, err := tr.Transcribe(context.Background(), types.AudioChunk{
		CallID:     "call-1",
		Audio:      []byte{1, 2, 3},
		Format:     "pcm_mulaw",
		SampleRate: 8000,
	})
	require.NoError(t, err)
	assert.Equal(t, "hola, quiero una cita", got.Transcript)
	assert.Equal(t, "es", got.Language)
}

func TestTranscribeVendorError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "rate limited", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	tr := New("key-1", srv.URL, srv.Client())
	_, err := tr.Transcribe(context.Background(), types.AudioChunk{Audio: []byte{1}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "429")
}

func TestExtensionAndEncoding(t *testing.T) {
	tests := []struct {
		format        string
		wantExtension string
		wantEncoding  string
	}{
		{format: "wav", wantExtension: "wav", wantEncoding: ""},
		{format: "mp3", wantExtension: "mp3", wantEncoding: ""},
		{format: "pcm_s16le", wantExtension: "wav", wantEncoding: "pcm_s16le"},
		{format: "", wantExtension: "wav", wantEncoding: ""},
	}

	for _, tc := range tests {
		if got := extension(tc.format); got != tc.wantExtension {
			t.Errorf("extension(%q) = %q, want %q", tc.format, got, tc.wantExtension)
		}
		if got := encoding(tc.format); got != tc.wantEncoding {
			t.Errorf("encoding(%q) = %q, want %q", tc.format, got, tc.wantEncoding)
		}
	}
}
