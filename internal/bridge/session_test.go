package bridge_test

import (
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/pagelift/pagelift/api/schemas"
)

// verifyNoLeaks registers the leak check before any other cleanup so it runs
// after the connection and server have been torn down.
func verifyNoLeaks(t *testing.T) {
	t.Helper()
	t.Cleanup(func() { goleak.VerifyNone(t) })
}

func dialBuildSocket(t *testing.T, httpURL string) *websocket.Conn {
	t.Helper()
	wsURL := "ws" + strings.TrimPrefix(httpURL, "http") + "/ws/v1/build"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(10*time.Second)))
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestBuildSessionRoundTrip(t *testing.T) {
	verifyNoLeaks(t)
	logo := append(append([]byte{}, pngHeader...), 1, 2, 3)
	ts := newTestServer(t, map[string][]byte{"https://cdn.test/logo.png": logo})
	conn := dialBuildSocket(t, ts.URL)

	root := &schemas.IRNode{
		Type:   schemas.NodeTypeFrame,
		Tag:    "div",
		Styles: &schemas.Style{Display: schemas.DisplayFlex, FlexDirection: schemas.DirectionColumn},
		Children: []*schemas.IRNode{
			{Type: schemas.NodeTypeText, Content: "Hello"},
			{Type: schemas.NodeTypeImage, Tag: "img", Src: "https://cdn.test/logo.png"},
		},
	}
	env, err := schemas.NewBuildMessage(root)
	require.NoError(t, err)
	require.NoError(t, conn.WriteJSON(env))

	var reply schemas.Envelope
	require.NoError(t, conn.ReadJSON(&reply))
	assert.Equal(t, schemas.MessageDone, reply.Type)
	assert.Empty(t, reply.Error)
}

func TestBuildSessionRelaysImageFetch(t *testing.T) {
	verifyNoLeaks(t)
	ts := newTestServer(t, nil)
	conn := dialBuildSocket(t, ts.URL)

	src := "https://page.test/private/hero.png"
	root := &schemas.IRNode{
		Type: schemas.NodeTypeFrame,
		Tag:  "section",
		Children: []*schemas.IRNode{
			{Type: schemas.NodeTypeImage, Tag: "img", Src: src},
		},
	}
	env, err := schemas.NewBuildMessage(root)
	require.NoError(t, err)
	require.NoError(t, conn.WriteJSON(env))

	// The server cannot fetch the URL itself and asks us to.
	var fetch schemas.Envelope
	require.NoError(t, conn.ReadJSON(&fetch))
	require.Equal(t, schemas.MessageFetchImage, fetch.Type)
	assert.Equal(t, src, fetch.URL)
	require.NotEmpty(t, fetch.ID)

	reply, err := schemas.NewImageDataMessage(fetch.ID, append(append([]byte{}, pngHeader...), 9))
	require.NoError(t, err)
	require.NoError(t, conn.WriteJSON(reply))

	var done schemas.Envelope
	require.NoError(t, conn.ReadJSON(&done))
	assert.Equal(t, schemas.MessageDone, done.Type)
}

func TestBuildSessionRejectsConcurrentBuilds(t *testing.T) {
	verifyNoLeaks(t)
	ts := newTestServer(t, nil)
	conn := dialBuildSocket(t, ts.URL)

	// The first build parks on a relayed image fetch, holding the session
	// busy for as long as we withhold the reply.
	first, err := schemas.NewBuildMessage(&schemas.IRNode{
		Type: schemas.NodeTypeFrame,
		Children: []*schemas.IRNode{
			{Type: schemas.NodeTypeImage, Src: "https://page.test/blocking.png"},
		},
	})
	require.NoError(t, err)
	require.NoError(t, conn.WriteJSON(first))

	var fetch schemas.Envelope
	require.NoError(t, conn.ReadJSON(&fetch))
	require.Equal(t, schemas.MessageFetchImage, fetch.Type)

	second, err := schemas.NewBuildMessage(&schemas.IRNode{Type: schemas.NodeTypeText, Content: "nope"})
	require.NoError(t, err)
	require.NoError(t, conn.WriteJSON(second))

	var rejected schemas.Envelope
	require.NoError(t, conn.ReadJSON(&rejected))
	require.Equal(t, schemas.MessageError, rejected.Type)
	assert.Contains(t, rejected.Error, "build already in progress")

	// Releasing the first build completes it normally.
	reply, err := schemas.NewImageDataMessage(fetch.ID, append(append([]byte{}, pngHeader...), 7))
	require.NoError(t, err)
	require.NoError(t, conn.WriteJSON(reply))

	var done schemas.Envelope
	require.NoError(t, conn.ReadJSON(&done))
	assert.Equal(t, schemas.MessageDone, done.Type)
}

func TestBuildSessionSurvivesProtocolNoise(t *testing.T) {
	verifyNoLeaks(t)
	ts := newTestServer(t, nil)
	conn := dialBuildSocket(t, ts.URL)

	// Unknown message types are answered with an error envelope.
	require.NoError(t, conn.WriteJSON(schemas.Envelope{Type: "bogus"}))
	var reply schemas.Envelope
	require.NoError(t, conn.ReadJSON(&reply))
	require.Equal(t, schemas.MessageError, reply.Type)
	assert.Contains(t, reply.Error, "unsupported message type")

	// A reply for an id nobody is waiting on is dropped without an answer.
	stale, err := schemas.NewImageDataMessage("no-such-id", []byte{1})
	require.NoError(t, err)
	require.NoError(t, conn.WriteJSON(stale))

	// An undecodable build payload fails that build only.
	require.NoError(t, conn.WriteJSON(schemas.Envelope{Type: schemas.MessageBuild, Data: []byte(`[42]`)}))
	require.NoError(t, conn.ReadJSON(&reply))
	require.Equal(t, schemas.MessageError, reply.Type)
	assert.Contains(t, reply.Error, "decoding build payload")

	// The session keeps serving builds afterwards.
	env, err := schemas.NewBuildMessage(&schemas.IRNode{Type: schemas.NodeTypeText, Content: "still alive"})
	require.NoError(t, err)
	require.NoError(t, conn.WriteJSON(env))
	require.NoError(t, conn.ReadJSON(&reply))
	assert.Equal(t, schemas.MessageDone, reply.Type)
}

func TestBuildSessionDropsUnknownVariants(t *testing.T) {
	verifyNoLeaks(t)
	ts := newTestServer(t, nil)
	conn := dialBuildSocket(t, ts.URL)

	// An unrecognized node tag is not an error; the tree simply builds to
	// nothing.
	require.NoError(t, conn.WriteJSON(schemas.Envelope{
		Type: schemas.MessageBuild,
		Data: []byte(`{"type":"VIDEO","src":"https://page.test/clip.mp4"}`),
	}))

	var reply schemas.Envelope
	require.NoError(t, conn.ReadJSON(&reply))
	assert.Equal(t, schemas.MessageDone, reply.Type)
}
