package relay

import (
	"bytes"
	"context"
	"image"
	"image/png"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tomaslejdung/goflash/pkg/protocol"
	"github.com/tomaslejdung/goflash/pkg/session"
	"github.com/tomaslejdung/goflash/pkg/upload"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func startRelay(t *testing.T, cfg Config) (*Server, *httptest.Server) {
	t.Helper()
	if cfg.Key == "" {
		cfg.Key = "secret"
	}
	s, err := New(cfg, Options{})
	require.NoError(t, err)
	srv := httptest.NewServer(s.Handler())
	t.Cleanup(func() {
		s.hub.Close()
		srv.Close()
	})
	return s, srv
}

func connect(t *testing.T, addr, key, username string, opts session.Options) (*session.Manager, session.Status, error) {
	t.Helper()
	m := session.NewManager(opts)
	t.Cleanup(m.Disconnect)
	status, err := m.Connect(context.Background(), addr, key, username)
	return m, status, err
}

func pngData(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, 3, 2))))
	return buf.Bytes()
}

func TestUploadIsAnnouncedToReadySessions(t *testing.T) {
	s, srv := startRelay(t, Config{})

	viewer, _, err := connect(t, srv.URL, "secret", "viewer", session.Options{})
	require.NoError(t, err)
	events := make(chan protocol.BroadcastEvent, 4)
	sub := viewer.Subscribe(protocol.EventNewImage, func(env protocol.Envelope) {
		var evt protocol.BroadcastEvent
		if env.Bind(&evt) == nil {
			events <- evt
		}
	})
	defer sub.Unsubscribe()

	control, status, err := connect(t, srv.URL, "secret", "alice", session.Options{})
	require.NoError(t, err)
	require.Equal(t, session.Connected, status.State)
	require.NotEmpty(t, control.Token())

	require.Eventually(t, func() bool { return len(s.Users()) == 2 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"alice", "viewer"}, s.Users())

	up := upload.New(upload.Options{Token: control.Token})
	url, err := up.Upload(context.Background(), srv.URL, upload.Request{
		Image:       pngData(t),
		Filename:    "shot.png",
		DisplayTime: 20,
		Position:    protocol.PositionBottomLeft,
		Username:    "alice",
	})
	require.NoError(t, err)
	assert.Regexp(t, `^/img/[0-9a-f-]{36}\.png$`, url)

	var evt protocol.BroadcastEvent
	select {
	case evt = <-events:
	case <-time.After(2 * time.Second):
		t.Fatal("viewer did not receive the announcement")
	}
	assert.Equal(t, url, evt.URL)
	assert.EqualValues(t, 12, evt.DisplayTime)
	assert.Equal(t, protocol.PositionBottomLeft, evt.Position)
	assert.Equal(t, "alice", evt.Username)

	resp, err := http.Get(srv.URL + url)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "image/png", resp.Header.Get("Content-Type"))
	assert.Equal(t, pngData(t), body)
}

func TestUsersEventOnJoinAndLeave(t *testing.T) {
	_, srv := startRelay(t, Config{})

	first, _, err := connect(t, srv.URL, "secret", "bob", session.Options{})
	require.NoError(t, err)
	lists := make(chan []string, 8)
	first.Subscribe(protocol.EventUsers, func(env protocol.Envelope) {
		var u protocol.UserList
		if env.Bind(&u) == nil {
			lists <- u.Users
		}
	})

	second, _, err := connect(t, srv.URL, "secret", "carol", session.Options{})
	require.NoError(t, err)

	waitFor := func(want []string) {
		t.Helper()
		timeout := time.After(2 * time.Second)
		for {
			select {
			case got := <-lists:
				if assert.ObjectsAreEqual(want, got) {
					return
				}
			case <-timeout:
				t.Fatalf("never saw user list %v", want)
			}
		}
	}
	waitFor([]string{"bob", "carol"})

	second.Disconnect()
	waitFor([]string{"bob"})
}

func TestHandshakeRejections(t *testing.T) {
	_, srv := startRelay(t, Config{})

	tests := []struct {
		name     string
		key      string
		username string
		version  string
		reason   string
	}{
		{"wrong key", "nope", "alice", "", "invalid key"},
		{"missing username", "secret", "", "", "username required"},
		{"major version mismatch", "secret", "alice", "2.0.0", "incompatible version"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, status, err := connect(t, srv.URL, tt.key, tt.username, session.Options{ClientVersion: tt.version})
			var cerr *session.ConnectionError
			require.ErrorAs(t, err, &cerr)
			assert.Equal(t, session.Failed, status.State)
			assert.Contains(t, status.Reason, tt.reason)
		})
	}
}

func TestUploadRequiresToken(t *testing.T) {
	_, srv := startRelay(t, Config{})

	up := upload.New(upload.Options{})
	_, err := up.Upload(context.Background(), srv.URL, upload.Request{Image: pngData(t), DisplayTime: 5})

	var serr *upload.StatusError
	require.ErrorAs(t, err, &serr)
	assert.Equal(t, http.StatusUnauthorized, serr.Code)
}

func TestUploadRejectsNonImage(t *testing.T) {
	_, srv := startRelay(t, Config{})
	control, _, err := connect(t, srv.URL, "secret", "alice", session.Options{})
	require.NoError(t, err)

	up := upload.New(upload.Options{Token: control.Token})
	_, err = up.Upload(context.Background(), srv.URL, upload.Request{Image: []byte("plain text"), DisplayTime: 5})

	var serr *upload.StatusError
	require.ErrorAs(t, err, &serr)
	assert.Equal(t, http.StatusUnsupportedMediaType, serr.Code)
}

func TestAbsoluteImageURLs(t *testing.T) {
	s, err := New(Config{Key: "k", PublicURL: "https://flash.example.com/"}, Options{})
	require.NoError(t, err)
	assert.Equal(t, "https://flash.example.com/img/abc.png", s.imageURL("abc", ".png"))

	s, err = New(Config{Key: "k", PathTemplate: "/img/{ext}-{id}"}, Options{})
	require.NoError(t, err)
	assert.Equal(t, "/img/.gif-abc", s.imageURL("abc", ".gif"))
}

func TestHealth(t *testing.T) {
	_, srv := startRelay(t, Config{})
	resp, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestMemoryStoreExpiry(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	store := NewMemoryStore()
	store.now = func() time.Time { return now }
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, "a.png", StoredImage{ContentType: "image/png", Data: []byte("a")}, time.Minute))
	img, err := store.Get(ctx, "a.png")
	require.NoError(t, err)
	assert.Equal(t, []byte("a"), img.Data)

	now = now.Add(2 * time.Minute)
	_, err = store.Get(ctx, "a.png")
	assert.ErrorIs(t, err, ErrImageNotFound)

	require.NoError(t, store.Put(ctx, "b.png", StoredImage{}, time.Minute))
	require.NoError(t, store.Put(ctx, "c.png", StoredImage{}, time.Minute))
	now = now.Add(2 * time.Minute)
	require.NoError(t, store.Put(ctx, "d.png", StoredImage{}, time.Minute))
	assert.Equal(t, 1, store.Len())
}

func TestNewValidatesConfig(t *testing.T) {
	_, err := New(Config{}, Options{})
	assert.Error(t, err)

	_, err = New(Config{Key: "k", Version: "one"}, Options{})
	assert.Error(t, err)
}

func TestGenerateKey(t *testing.T) {
	assert.Regexp(t, `^[a-z]+-[a-z]+-\d{2}$`, GenerateKey())
	assert.Regexp(t, `^[A-Z]+-[A-Z]+$`, GenerateName())
}
