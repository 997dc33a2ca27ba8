package tinify_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/akagifreeez/tinify-dashboard/pkg/tinify"
)

const goodKey = "good-key"

// fakeProvider implements just enough of the shrink API for the client.
func fakeProvider(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()

	mux.HandleFunc("/shrink", func(w http.ResponseWriter, r *http.Request) {
		_, key, ok := r.BasicAuth()
		if !ok || key != goodKey {
			writeErr(w, http.StatusUnauthorized, "Unauthorized", "Credentials are invalid.")
			return
		}
		body, _ := io.ReadAll(r.Body)
		if len(body) == 0 {
			writeErr(w, http.StatusBadRequest, "InputMissing", "Input file is empty.")
			return
		}
		if string(body) == "not-an-image" {
			writeErr(w, http.StatusUnsupportedMediaType, "BadSignature", "Does not appear to be a PNG or JPEG file")
			return
		}
		if string(body) == "explode" {
			writeErr(w, http.StatusServiceUnavailable, "ServiceUnavailable", "Try again later")
			return
		}
		w.Header().Set("Location", "/output/abc")
		w.Header().Set("Compression-Count", "7")
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(tinify.ShrinkResponse{
			Input:  tinify.ImageInfo{Size: int64(len(body)), Type: "image/png"},
			Output: tinify.ImageInfo{Size: 4, Type: "image/png", Ratio: 0.4},
		})
	})

	mux.HandleFunc("/output/abc", func(w http.ResponseWriter, r *http.Request) {
		if _, key, _ := r.BasicAuth(); key != goodKey {
			writeErr(w, http.StatusUnauthorized, "Unauthorized", "Credentials are invalid.")
			return
		}
		w.Write([]byte("tiny"))
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func writeErr(w http.ResponseWriter, status int, code, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": code, "message": msg})
}

func kindOf(t *testing.T, err error) tinify.Kind {
	t.Helper()
	var apiErr *tinify.Error
	require.True(t, errors.As(err, &apiErr), "expected *tinify.Error, got %T", err)
	return apiErr.Kind
}

func TestValidate(t *testing.T) {
	srv := fakeProvider(t)
	c := tinify.NewClient(srv.URL, 5*time.Second)
	ctx := context.Background()

	assert.NoError(t, c.Validate(ctx, goodKey))

	err := c.Validate(ctx, "bad-key")
	require.Error(t, err)
	assert.Equal(t, tinify.KindAccount, kindOf(t, err))
	assert.Contains(t, err.Error(), "Credentials are invalid.")
}

func TestShrink(t *testing.T) {
	srv := fakeProvider(t)
	c := tinify.NewClient(srv.URL, 5*time.Second)

	res, err := c.Shrink(context.Background(), goodKey, []byte("0123456789"))
	require.NoError(t, err)
	assert.Equal(t, []byte("tiny"), res.Data)
	assert.Equal(t, int64(10), res.Input.Size)
	assert.Equal(t, int64(4), res.Output.Size)
	assert.Equal(t, 7, res.CompressionCount)
}

func TestCompress_Classification(t *testing.T) {
	srv := fakeProvider(t)
	c := tinify.NewClient(srv.URL, 5*time.Second)
	ctx := context.Background()

	_, err := c.Compress(ctx, goodKey, []byte("not-an-image"))
	assert.Equal(t, tinify.KindClient, kindOf(t, err))

	_, err = c.Compress(ctx, goodKey, []byte("explode"))
	assert.Equal(t, tinify.KindServer, kindOf(t, err))

	_, err = c.Compress(ctx, "bad-key", []byte("0123"))
	assert.Equal(t, tinify.KindAccount, kindOf(t, err))
}

func TestConnectionError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	c := tinify.NewClient(url, time.Second)
	err := c.Validate(context.Background(), goodKey)
	require.Error(t, err)
	assert.Equal(t, tinify.KindConnection, kindOf(t, err))
}

func TestTooManyRequestsIsAccountError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeErr(w, http.StatusTooManyRequests, "TooManyRequests", "Your monthly limit has been exceeded")
	}))
	defer srv.Close()

	c := tinify.NewClient(srv.URL, time.Second)
	_, err := c.Compress(context.Background(), goodKey, []byte("img"))
	assert.Equal(t, tinify.KindAccount, kindOf(t, err))

	var apiErr *tinify.Error
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, "Your monthly limit has been exceeded", apiErr.Message)
	assert.Equal(t, http.StatusTooManyRequests, apiErr.Status)
}

func TestLocalLimiter_RespectsContext(t *testing.T) {
	l := tinify.NewLocalLimiter(1)
	ctx := context.Background()
	require.NoError(t, l.Wait(ctx))

	ctx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	assert.Error(t, l.Wait(ctx))

	l.SetLimit(0)
	assert.NoError(t, l.Wait(context.Background()))
}

func TestLimiters_ZeroMeansUnlimited(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	// No client: a zero limit must not touch Redis at all.
	r := tinify.NewRedisLimiter(nil, 0, "tinify:test")
	local := tinify.NewLocalLimiter(0)
	for i := 0; i < 100; i++ {
		require.NoError(t, r.Wait(ctx))
		require.NoError(t, local.Wait(ctx))
	}

	r.SetLimit(-5)
	assert.NoError(t, r.Wait(ctx))
}
