package websocket

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"gatepass/internal/identity"
	"gatepass/internal/logger"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	gws "github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type ownedEvent struct {
	Owner string `json:"owner"`
}

func (e ownedEvent) VisibleTo(role, userID string) bool {
	return role == "admin" || userID == e.Owner
}

func newFeedServer(t *testing.T, hub *Hub, subjects map[string]identity.Principal) *httptest.Server {
	t.Helper()
	gin.SetMode(gin.TestMode)

	router := gin.New()
	router.GET("/ws", func(c *gin.Context) {
		if p, ok := subjects[c.Query("as")]; ok {
			ctx := identity.WithContext(c.Request.Context(), identity.New(p))
			c.Request = c.Request.WithContext(ctx)
		}
		hub.Serve(c)
	})
	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	return srv
}

func dial(t *testing.T, srv *httptest.Server, as string) *gws.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws?as=" + as
	conn, resp, err := gws.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	_ = resp.Body.Close()
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func readMessage(t *testing.T, conn *gws.Conn) (Message, error) {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(300 * time.Millisecond))
	var msg Message
	_, raw, err := conn.ReadMessage()
	if err != nil {
		return msg, err
	}
	require.NoError(t, json.Unmarshal(raw, &msg))
	return msg, nil
}

func TestHubFiltersByVisibility(t *testing.T) {
	owner := identity.Principal{ID: uuid.New(), Role: "user", Username: "owner"}
	other := identity.Principal{ID: uuid.New(), Role: "user", Username: "other"}
	admin := identity.Principal{ID: uuid.New(), Role: "admin", Username: "admin"}

	hub := NewHub(logger.NewNop(), nil)
	go hub.Run()
	srv := newFeedServer(t, hub, map[string]identity.Principal{"owner": owner, "other": other, "admin": admin})

	ownerConn := dial(t, srv, "owner")
	otherConn := dial(t, srv, "other")
	adminConn := dial(t, srv, "admin")
	require.Eventually(t, func() bool { return hub.ClientCount() == 3 }, time.Second, 10*time.Millisecond)

	hub.Publish("gatepass.created", ownedEvent{Owner: owner.ID.String()})

	for _, conn := range []*gws.Conn{ownerConn, adminConn} {
		msg, err := readMessage(t, conn)
		require.NoError(t, err)
		assert.Equal(t, "gatepass.created", msg.Event)
	}
	_, err := readMessage(t, otherConn)
	assert.Error(t, err, "other users must not see the event")
}

func TestHubUnscopedEventsReachEveryone(t *testing.T) {
	a := identity.Principal{ID: uuid.New(), Role: "security"}
	hub := NewHub(logger.NewNop(), nil)
	go hub.Run()
	srv := newFeedServer(t, hub, map[string]identity.Principal{"a": a})

	conn := dial(t, srv, "a")
	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, time.Second, 10*time.Millisecond)

	hub.Publish("units.changed", map[string]string{"code": "kg"})
	msg, err := readMessage(t, conn)
	require.NoError(t, err)
	assert.Equal(t, "units.changed", msg.Event)
}

func TestServeRequiresIdentity(t *testing.T) {
	hub := NewHub(logger.NewNop(), nil)
	srv := newFeedServer(t, hub, nil)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	_, resp, err := gws.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestCheckOrigin(t *testing.T) {
	hub := NewHub(logger.NewNop(), []string{"http://localhost:5173"})

	req := httptest.NewRequest(http.MethodGet, "/ws", nil)
	assert.True(t, hub.upgrader.CheckOrigin(req), "no origin header")

	req.Header.Set("Origin", "http://localhost:5173")
	assert.True(t, hub.upgrader.CheckOrigin(req))

	req.Header.Set("Origin", "https://evil.example")
	assert.False(t, hub.upgrader.CheckOrigin(req))
}
