package upload

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tomaslejdung/goflash/pkg/protocol"
)

type received struct {
	image       []byte
	filename    string
	displayTime string
	position    string
	username    string
	auth        string
}

func newRelay(t *testing.T, status int, got chan<- received) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		if r.URL.Path != protocol.UploadPath || r.Method != http.MethodPost {
			http.NotFound(w, r)
			return
		}
		if status != http.StatusOK {
			http.Error(w, "broken", status)
			return
		}
		file, header, err := r.FormFile(FieldImage)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		data, _ := io.ReadAll(file)
		got <- received{
			image:       data,
			filename:    header.Filename,
			displayTime: r.FormValue(FieldDisplayTime),
			position:    r.FormValue(FieldPosition),
			username:    r.FormValue(FieldUsername),
			auth:        r.Header.Get("Authorization"),
		}
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"url":"/img/abc.png"}`)
	}))
	t.Cleanup(srv.Close)
	return srv, &hits
}

func TestUploadMultipartFields(t *testing.T) {
	got := make(chan received, 1)
	srv, hits := newRelay(t, http.StatusOK, got)

	c := New(Options{Token: func() string { return "tok" }})
	url, err := c.Upload(context.Background(), srv.URL, Request{
		Image:       []byte("png-bytes"),
		Filename:    "shot.png",
		DisplayTime: 40,
		Position:    "Top-Left",
		Username:    "alice",
	})
	require.NoError(t, err)
	assert.Equal(t, "/img/abc.png", url)
	assert.EqualValues(t, 1, hits.Load())

	r := <-got
	assert.Equal(t, []byte("png-bytes"), r.image)
	assert.Equal(t, "shot.png", r.filename)
	assert.Equal(t, "12", r.displayTime)
	assert.Equal(t, "top-left", r.position)
	assert.Equal(t, "alice", r.username)
	assert.Equal(t, "Bearer tok", r.auth)
}

func TestUploadWithoutSchemeUsesHTTP(t *testing.T) {
	got := make(chan received, 1)
	srv, _ := newRelay(t, http.StatusOK, got)

	c := New(Options{})
	_, err := c.Upload(context.Background(), strings.TrimPrefix(srv.URL, "http://"), Request{
		Image:       []byte("x"),
		DisplayTime: 0,
		Position:    "sideways",
	})
	require.NoError(t, err)

	r := <-got
	assert.Equal(t, "1", r.displayTime)
	assert.Equal(t, "center", r.position)
	assert.Empty(t, r.auth)
}

func TestUploadHTTPSFallsBackOnce(t *testing.T) {
	got := make(chan received, 1)
	srv, hits := newRelay(t, http.StatusOK, got)

	// The test relay speaks plain http, so the https attempt fails
	addr := "https://" + strings.TrimPrefix(srv.URL, "http://")
	c := New(Options{})
	url, err := c.Upload(context.Background(), addr, Request{Image: []byte("x"), DisplayTime: 6})
	require.NoError(t, err)
	assert.Equal(t, "/img/abc.png", url)
	assert.EqualValues(t, 1, hits.Load())
}

func TestUploadCombinedError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	host := strings.TrimPrefix(srv.URL, "http://")
	srv.Close()

	c := New(Options{})
	_, err := c.Upload(context.Background(), "wss://"+host, Request{Image: []byte("x"), DisplayTime: 6})

	var uerr *UploadError
	require.ErrorAs(t, err, &uerr)
	require.Len(t, uerr.Attempts, 2)
	assert.Equal(t, "https://"+host+protocol.UploadPath, uerr.Attempts[0].URL)
	assert.Equal(t, "http://"+host+protocol.UploadPath, uerr.Attempts[1].URL)
	assert.Error(t, uerr.Attempts[0].Err)
	assert.Error(t, uerr.Attempts[1].Err)
}

func TestUploadStatusErrorOverHTTPDoesNotRetry(t *testing.T) {
	srv, hits := newRelay(t, http.StatusInternalServerError, nil)

	c := New(Options{})
	_, err := c.Upload(context.Background(), srv.URL, Request{Image: []byte("x"), DisplayTime: 6})

	var serr *StatusError
	require.ErrorAs(t, err, &serr)
	assert.Equal(t, http.StatusInternalServerError, serr.Code)
	assert.Equal(t, "broken", serr.Body)
	assert.EqualValues(t, 1, hits.Load())
}

func TestUploadRejectsEmptyImage(t *testing.T) {
	c := New(Options{})
	_, err := c.Upload(context.Background(), "localhost:1", Request{})
	assert.True(t, errors.Is(err, ErrEmptyImage))
}

func TestUploadInvalidAddress(t *testing.T) {
	c := New(Options{})
	_, err := c.Upload(context.Background(), "ftp://relay", Request{Image: []byte("x")})
	var uerr *UploadError
	assert.ErrorAs(t, err, &uerr)
}
