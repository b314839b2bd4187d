package ginserver

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	gin "github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"findit/internal/app/apperr"
	chatsvc "findit/internal/app/services/chat"
	listingsvc "findit/internal/app/services/listings"
	usersvc "findit/internal/app/services/users"
	"findit/internal/infra/config"
	"findit/internal/infra/obs"
	"findit/internal/infra/ratelimit"
	"findit/internal/infra/realtime"
	"findit/internal/infra/security"
	"findit/internal/infra/storage/memory"
)

func TestMain(m *testing.M) {
	gin.SetMode(gin.TestMode)
	os.Exit(m.Run())
}

type harness struct {
	router *gin.Engine
	hub    *realtime.Hub
	tokens *security.TokenManager
}

type harnessOptions struct {
	messageLimiter ratelimit.Limiter
	listingLimiter ratelimit.Limiter
	authTimeout    time.Duration
}

func newHarness(t *testing.T, opts harnessOptions) *harness {
	t.Helper()
	tokens, err := security.NewTokenManager("test-secret", time.Hour)
	require.NoError(t, err)

	users := memory.NewUserRepository()
	listings := memory.NewListingRepository()
	outbox := memory.NewOutbox()
	hub := realtime.NewHub(nil)
	t.Cleanup(hub.Close)

	userService := &usersvc.Service{Users: users, Tokens: tokens, AllowedDomain: "campus.edu"}
	listingService := &listingsvc.Service{
		Listings:       listings,
		Comments:       memory.NewCommentRepository(),
		Users:          users,
		Outbox:         outbox,
		RequireProfile: true,
	}
	chatService := &chatsvc.Service{
		Chats:          memory.NewChatRepository(),
		Listings:       listings,
		Users:          users,
		Broadcaster:    hub,
		Outbox:         outbox,
		RequireProfile: true,
	}

	h := Handlers{
		Chat:           ChatHandler{Service: chatService},
		Listing:        ListingHandler{Service: listingService},
		User:           UserHandler{Service: userService},
		Auth:           AuthHandler{Service: userService, Enabled: true},
		Realtime:       RealtimeHandler{Hub: hub, Verifier: tokens, AuthTimeout: opts.authTimeout},
		AuthMiddleware: AuthMiddleware{Verifier: tokens}.Handle,
		MessageLimiter: opts.messageLimiter,
		ListingLimiter: opts.listingLimiter,
	}
	router := NewRouter(config.Config{Env: "test"}, obs.Middleware{}, obs.HealthHandlers{}, h)
	return &harness{router: router, hub: hub, tokens: tokens}
}

func (h *harness) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	switch v := body.(type) {
	case nil:
		reader = bytes.NewReader(nil)
	case string:
		reader = bytes.NewReader([]byte(v))
	default:
		raw, err := json.Marshal(v)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	h.router.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

type loginResponse struct {
	Token string `json:"token"`
	User  struct {
		ID              string `json:"id"`
		Email           string `json:"email"`
		ProfileComplete bool   `json:"profile_complete"`
	} `json:"user"`
}

// login signs a user in and, when phone is set, completes the profile.
func (h *harness) login(t *testing.T, email, phone string) (token, userID string) {
	t.Helper()
	rec := h.do(t, http.MethodPost, "/api/auth/dev-login", "", map[string]string{"email": email})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	resp := decode[loginResponse](t, rec)
	if phone != "" {
		rec = h.do(t, http.MethodPatch, "/api/users/me", resp.Token, map[string]string{"phone": phone})
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	}
	return resp.Token, resp.User.ID
}

func (h *harness) createListing(t *testing.T, token string) string {
	t.Helper()
	rec := h.do(t, http.MethodPost, "/api/listings", token, map[string]any{
		"type":   "sale",
		"title":  "Desk lamp",
		"price":  250,
		"images": []string{"https://img/lamp.png"},
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	return decode[struct {
		ID string `json:"id"`
	}](t, rec).ID
}

type conversationResponse struct {
	ID           string   `json:"id"`
	ListingID    string   `json:"listing_id"`
	Participants []string `json:"participants"`
	LastMessage  string   `json:"last_message"`
	Listing      *struct {
		Title string `json:"title"`
		Image string `json:"image"`
	} `json:"listing"`
	Counterpart *struct {
		ID    string `json:"id"`
		Phone string `json:"phone"`
	} `json:"counterpart"`
}

type messageResponse struct {
	ID             string `json:"id"`
	ConversationID string `json:"conversation_id"`
	SenderID       string `json:"sender_id"`
	Text           string `json:"text"`
	ClientID       string `json:"client_id"`
	Seq            int64  `json:"seq"`
}

func TestProfileEndpoints(t *testing.T) {
	h := newHarness(t, harnessOptions{})

	rec := h.do(t, http.MethodGet, "/api/users/me", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = h.do(t, http.MethodPost, "/api/auth/dev-login", "", map[string]string{"email": "eve@elsewhere.org"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	token, userID := h.login(t, "Alice@Campus.edu", "")
	rec = h.do(t, http.MethodGet, "/api/users/me", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	profile := decode[struct {
		Email           string `json:"email"`
		ProfileComplete bool   `json:"profile_complete"`
	}](t, rec)
	assert.Equal(t, "alice@campus.edu", profile.Email)
	assert.False(t, profile.ProfileComplete)

	rec = h.do(t, http.MethodPatch, "/api/users/me", token, map[string]any{"phone": "+1 555 0100", "grad_year": 2027})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.True(t, decode[struct {
		ProfileComplete bool `json:"profile_complete"`
	}](t, rec).ProfileComplete)

	rec = h.do(t, http.MethodPatch, "/api/users/me", token, map[string]any{"email": "other@campus.edu"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = h.do(t, http.MethodPatch, "/api/users/me", token, map[string]any{"grad_year": 1800})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = h.do(t, http.MethodGet, "/api/users/"+userID, "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotContains(t, rec.Body.String(), "+1 555 0100")
}

func TestChatFlowOverHTTP(t *testing.T) {
	h := newHarness(t, harnessOptions{})
	sellerToken, sellerID := h.login(t, "seller@campus.edu", "+1 555 0001")
	listingID := h.createListing(t, sellerToken)

	buyerToken, buyerID := h.login(t, "buyer@campus.edu", "")
	rec := h.do(t, http.MethodPost, "/api/chats", buyerToken, map[string]string{"listing_id": listingID})
	require.Equal(t, http.StatusForbidden, rec.Code)
	assert.Contains(t, rec.Body.String(), "profile incomplete")

	rec = h.do(t, http.MethodPatch, "/api/users/me", buyerToken, map[string]string{"phone": "+1 555 0002"})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = h.do(t, http.MethodPost, "/api/chats", buyerToken, map[string]string{"listing_id": listingID})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	conv := decode[conversationResponse](t, rec)
	assert.ElementsMatch(t, []string{sellerID, buyerID}, conv.Participants)

	rec = h.do(t, http.MethodPost, "/api/chats", buyerToken, map[string]string{"listing_id": listingID})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, conv.ID, decode[conversationResponse](t, rec).ID)

	rec = h.do(t, http.MethodPost, "/api/chats", sellerToken, map[string]string{"listing_id": listingID})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = h.do(t, http.MethodPost, "/api/chats", buyerToken, map[string]string{"listing_id": "missing"})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	path := "/api/chats/" + conv.ID + "/messages"
	rec = h.do(t, http.MethodPost, path, buyerToken, map[string]string{"text": "  still available?  ", "client_id": "c-1"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	first := decode[messageResponse](t, rec)
	assert.Equal(t, "still available?", first.Text)
	assert.Equal(t, buyerID, first.SenderID)

	rec = h.do(t, http.MethodPost, path, buyerToken, map[string]string{"text": "still available?", "client_id": "c-1"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, first.ID, decode[messageResponse](t, rec).ID)

	rec = h.do(t, http.MethodPost, path, buyerToken, map[string]string{"text": "   ", "client_id": "c-2"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = h.do(t, http.MethodPost, path, buyerToken, map[string]string{"text": strings.Repeat("x", 4001), "client_id": "c-3"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	outsiderToken, _ := h.login(t, "outsider@campus.edu", "+1 555 0003")
	rec = h.do(t, http.MethodGet, path, outsiderToken, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	rec = h.do(t, http.MethodGet, "/api/chats/unknown/messages", outsiderToken, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	rec = h.do(t, http.MethodPost, path, outsiderToken, map[string]string{"text": "hi", "client_id": "o-1"})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = h.do(t, http.MethodGet, path, sellerToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	history := decode[struct {
		Items []messageResponse `json:"items"`
	}](t, rec)
	require.Len(t, history.Items, 1)
	assert.Equal(t, first.ID, history.Items[0].ID)

	rec = h.do(t, http.MethodGet, "/api/chats", sellerToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	inbox := decode[struct {
		Items []conversationResponse `json:"items"`
	}](t, rec)
	require.Len(t, inbox.Items, 1)
	item := inbox.Items[0]
	assert.Equal(t, "still available?", item.LastMessage)
	require.NotNil(t, item.Listing)
	assert.Equal(t, "Desk lamp", item.Listing.Title)
	assert.Equal(t, "https://img/lamp.png", item.Listing.Image)
	require.NotNil(t, item.Counterpart)
	assert.Equal(t, buyerID, item.Counterpart.ID)
	assert.Equal(t, "+1 555 0002", item.Counterpart.Phone)
}

func TestSendMessageRateLimited(t *testing.T) {
	h := newHarness(t, harnessOptions{messageLimiter: ratelimit.NewMemory(ratelimit.Rule{Limit: 1, Window: time.Hour})})
	sellerToken, _ := h.login(t, "seller@campus.edu", "+1 555 0001")
	listingID := h.createListing(t, sellerToken)
	buyerToken, _ := h.login(t, "buyer@campus.edu", "+1 555 0002")

	rec := h.do(t, http.MethodPost, "/api/chats", buyerToken, map[string]string{"listing_id": listingID})
	require.Equal(t, http.StatusCreated, rec.Code)
	path := "/api/chats/" + decode[conversationResponse](t, rec).ID + "/messages"

	rec = h.do(t, http.MethodPost, path, buyerToken, map[string]string{"text": "one", "client_id": "a"})
	require.Equal(t, http.StatusCreated, rec.Code)
	rec = h.do(t, http.MethodPost, path, buyerToken, map[string]string{"text": "two", "client_id": "b"})
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)

	// the window is per caller
	rec = h.do(t, http.MethodPost, path, sellerToken, map[string]string{"text": "reply", "client_id": "s"})
	assert.Equal(t, http.StatusCreated, rec.Code)
}

func TestCreateListingRateLimited(t *testing.T) {
	h := newHarness(t, harnessOptions{listingLimiter: ratelimit.NewMemory(ratelimit.Rule{Limit: 1, Window: 2 * time.Second})})
	sellerToken, _ := h.login(t, "seller@campus.edu", "+1 555 0001")
	otherToken, _ := h.login(t, "other@campus.edu", "+1 555 0002")

	h.createListing(t, sellerToken)
	rec := h.do(t, http.MethodPost, "/api/listings", sellerToken, map[string]any{
		"type":  "sale",
		"title": "Second lamp",
		"price": 100,
	})
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Contains(t, rec.Body.String(), "rate limited")

	// other callers keep their own window
	h.createListing(t, otherToken)

	rec = h.do(t, http.MethodGet, "/api/listings", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 2, len(decode[struct {
		Items []json.RawMessage `json:"items"`
	}](t, rec).Items))
}

func TestListingEndpoints(t *testing.T) {
	h := newHarness(t, harnessOptions{})
	ownerToken, ownerID := h.login(t, "owner@campus.edu", "+1 555 0001")
	otherToken, _ := h.login(t, "other@campus.edu", "+1 555 0002")
	listingID := h.createListing(t, ownerToken)

	rec := h.do(t, http.MethodGet, "/api/listings?q=LAMP&max_price=300", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	found := decode[struct {
		Items []struct {
			ID string `json:"id"`
		} `json:"items"`
	}](t, rec)
	require.Len(t, found.Items, 1)
	assert.Equal(t, listingID, found.Items[0].ID)

	rec = h.do(t, http.MethodGet, "/api/listings?min_price=abc", "", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = h.do(t, http.MethodGet, "/api/listings/"+listingID, "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), ownerID)

	rec = h.do(t, http.MethodPatch, "/api/listings/"+listingID+"/status", otherToken, map[string]string{"status": "sold"})
	assert.Equal(t, http.StatusForbidden, rec.Code)
	rec = h.do(t, http.MethodPatch, "/api/listings/"+listingID+"/status", ownerToken, map[string]string{"status": "claimed"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = h.do(t, http.MethodPatch, "/api/listings/"+listingID+"/status", ownerToken, map[string]string{"status": "sold"})
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = h.do(t, http.MethodPost, "/api/listings/"+listingID+"/comments", otherToken, map[string]string{"text": "nice"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	rec = h.do(t, http.MethodGet, "/api/listings/"+listingID+"/comments", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "nice")

	rec = h.do(t, http.MethodDelete, "/api/listings/"+listingID, otherToken, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	rec = h.do(t, http.MethodDelete, "/api/listings/"+listingID, ownerToken, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	rec = h.do(t, http.MethodGet, "/api/listings/"+listingID, "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestDevLoginDisabled(t *testing.T) {
	router := NewRouter(config.Config{Env: "test"}, obs.Middleware{}, obs.HealthHandlers{}, Handlers{
		Auth: AuthHandler{Enabled: false},
	})
	req := httptest.NewRequest(http.MethodPost, "/api/auth/dev-login", strings.NewReader(`{"email":"a@b.c"}`))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestStatusFor(t *testing.T) {
	cases := map[error]int{
		apperr.ErrUnauthorized:                        http.StatusUnauthorized,
		apperr.Denied("not a chat participant"):       http.StatusForbidden,
		apperr.Invalid("text is required"):            http.StatusBadRequest,
		apperr.NotFound("listing not found"):          http.StatusNotFound,
		apperr.ErrConflict:                            http.StatusConflict,
		apperr.ErrRateLimited:                         http.StatusTooManyRequests,
		apperr.Storage("append", errors.New("boom")): http.StatusInternalServerError,
		errors.New("unclassified"):                    http.StatusInternalServerError,
	}
	for err, want := range cases {
		assert.Equal(t, want, statusFor(err), err.Error())
	}
}

func TestStorageErrorsHideCause(t *testing.T) {
	rec := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(rec)
	respondError(c, nil, apperr.Storage("append message", errors.New("mongo: connection refused")), "send")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, rec.Body.String(), "mongo")
}

func TestExtractBearerToken(t *testing.T) {
	assert.Equal(t, "abc", extractBearerToken("Bearer abc"))
	assert.Equal(t, "abc", extractBearerToken("bearer   abc "))
	assert.Empty(t, extractBearerToken("Basic abc"))
	assert.Empty(t, extractBearerToken(""))
}

func dialWS(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = ws.Close() })
	return ws
}

func readFrame(t *testing.T, ws *websocket.Conn) map[string]any {
	t.Helper()
	require.NoError(t, ws.SetReadDeadline(time.Now().Add(3*time.Second)))
	_, data, err := ws.ReadMessage()
	require.NoError(t, err)
	var frame map[string]any
	require.NoError(t, json.Unmarshal(data, &frame))
	return frame
}

func TestWebsocketDeliversNewMessages(t *testing.T) {
	h := newHarness(t, harnessOptions{})
	srv := httptest.NewServer(h.router)
	defer srv.Close()

	sellerToken, sellerID := h.login(t, "seller@campus.edu", "+1 555 0001")
	listingID := h.createListing(t, sellerToken)
	buyerToken, _ := h.login(t, "buyer@campus.edu", "+1 555 0002")

	ws := dialWS(t, srv)
	require.NoError(t, ws.WriteJSON(map[string]string{"type": "auth", "token": sellerToken}))
	ack := readFrame(t, ws)
	assert.Equal(t, "auth:ok", ack["type"])
	assert.Equal(t, sellerID, ack["user_id"])
	assert.Equal(t, 1, h.hub.Connections(sellerID))

	require.NoError(t, ws.WriteJSON(map[string]string{"type": "ping"}))
	assert.Equal(t, "pong", readFrame(t, ws)["type"])

	rec := h.do(t, http.MethodPost, "/api/chats", buyerToken, map[string]string{"listing_id": listingID})
	require.Equal(t, http.StatusCreated, rec.Code)
	convID := decode[conversationResponse](t, rec).ID
	rec = h.do(t, http.MethodPost, "/api/chats/"+convID+"/messages", buyerToken, map[string]string{"text": "hello", "client_id": "k1"})
	require.Equal(t, http.StatusCreated, rec.Code)

	frame := readFrame(t, ws)
	assert.Equal(t, chatsvc.EventMessageNew, frame["type"])
	assert.Equal(t, convID, frame["conversation_id"])
	msg, ok := frame["message"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "hello", msg["text"])

	// a replay is not pushed again
	rec = h.do(t, http.MethodPost, "/api/chats/"+convID+"/messages", buyerToken, map[string]string{"text": "hello", "client_id": "k1"})
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, ws.WriteJSON(map[string]string{"type": "ping"}))
	assert.Equal(t, "pong", readFrame(t, ws)["type"])
}

func expectPolicyClose(t *testing.T, ws *websocket.Conn) {
	t.Helper()
	require.NoError(t, ws.SetReadDeadline(time.Now().Add(3*time.Second)))
	_, _, err := ws.ReadMessage()
	require.Error(t, err)
	assert.True(t, websocket.IsCloseError(err, websocket.ClosePolicyViolation), err.Error())
}

func TestWebsocketRejectsUnauthenticatedFirstFrame(t *testing.T) {
	h := newHarness(t, harnessOptions{})
	srv := httptest.NewServer(h.router)
	defer srv.Close()

	t.Run("wrong frame type", func(t *testing.T) {
		ws := dialWS(t, srv)
		require.NoError(t, ws.WriteJSON(map[string]string{"type": "subscribe"}))
		expectPolicyClose(t, ws)
	})
	t.Run("bad token", func(t *testing.T) {
		ws := dialWS(t, srv)
		require.NoError(t, ws.WriteJSON(map[string]string{"type": "auth", "token": "nope"}))
		expectPolicyClose(t, ws)
	})
}

func TestWebsocketAuthTimeout(t *testing.T) {
	h := newHarness(t, harnessOptions{authTimeout: 50 * time.Millisecond})
	srv := httptest.NewServer(h.router)
	defer srv.Close()

	ws := dialWS(t, srv)
	expectPolicyClose(t, ws)
}

func TestWebsocketClosedOnHubShutdown(t *testing.T) {
	h := newHarness(t, harnessOptions{})
	srv := httptest.NewServer(h.router)
	defer srv.Close()
	token, err := h.tokens.Issue(security.Identity{UserID: "u-1", Email: "u1@campus.edu"})
	require.NoError(t, err)

	ws := dialWS(t, srv)
	require.NoError(t, ws.WriteJSON(map[string]string{"type": "auth", "token": token}))
	require.Equal(t, "auth:ok", readFrame(t, ws)["type"])

	h.hub.Close()
	require.NoError(t, ws.SetReadDeadline(time.Now().Add(3*time.Second)))
	_, _, err = ws.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseGoingAway), err)
}
