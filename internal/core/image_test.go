package core

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTogetherImageClient(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/images/generations", r.URL.Path)
		assert.Equal(t, "Bearer img-key", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		io.WriteString(w, `{"data":[{"b64_json":"iVBORw0K"}]}`)
	}))
	defer srv.Close()

	client := NewTogetherImageClient(srv.URL+"/", "img-key", ImageSettings{}, srv.Client())
	img, err := client.GenerateImage(context.Background(), "a red fox")
	require.NoError(t, err)

	assert.Equal(t, "iVBORw0K", img.B64)
	assert.Equal(t, "data:image/png;base64,iVBORw0K", img.DataURL())
	assert.Equal(t, DefaultImageModel, img.Model)
	assert.Equal(t, 512, img.Width)
	assert.JSONEq(t,
		`{"model":"black-forest-labs/FLUX.1-schnell-Free","width":512,"height":512,"steps":2,"n":1,"response_format":"b64_json"}`,
		img.ConfigRaw)

	assert.Equal(t, "a red fox", got["prompt"])
	assert.EqualValues(t, 2, got["steps"])
	assert.Equal(t, "b64_json", got["response_format"])
}

func TestTogetherImageClientErrors(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		want   string
	}{
		{name: "api error", status: http.StatusBadRequest, body: `{"error":{"message":"prompt flagged"}}`, want: "prompt flagged"},
		{name: "bare status", status: http.StatusBadGateway, body: `<html>`, want: "502"},
		{name: "no data", status: http.StatusOK, body: `{"data":[]}`, want: "no image data"},
		{name: "bad json", status: http.StatusOK, body: `{`, want: "decode"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				io.WriteString(w, tt.body)
			}))
			defer srv.Close()

			client := NewTogetherImageClient(srv.URL, "k", ImageSettings{}, srv.Client())
			_, err := client.GenerateImage(context.Background(), "cat")
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}
