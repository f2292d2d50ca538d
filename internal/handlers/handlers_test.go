package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"

	"github.com/thereayou/signal-relay/internal/models"
	"github.com/thereayou/signal-relay/internal/services"
	"github.com/thereayou/signal-relay/internal/store"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func recorded(fn func(c *gin.Context)) (int, map[string]any) {
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodGet, "/api/rooms", nil)
	fn(c)

	var body map[string]any
	_ = json.Unmarshal(w.Body.Bytes(), &body)
	return w.Code, body
}

func TestAbortBindError(t *testing.T) {
	var verr validator.ValidationErrors
	tooLong := validator.New().Struct(struct {
		To string `validate:"max=4"`
	}{To: "12345"})
	cases := []struct {
		name string
		err  error
		code int
		msg  string
	}{
		{"too large", fmt.Errorf("read: %w", &http.MaxBytesError{Limit: 10}), 413, msgTooLarge},
		{"validation", verr, 400, "missing"},
		{"empty body", io.EOF, 400, "missing"},
		{"peer id too long", tooLong, 400, msgPeerIDTooLong},
		{"syntax", errors.New("invalid character"), 400, msgInvalidJSON},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			code, body := recorded(func(c *gin.Context) { abortBindError(c, tc.err, "missing") })
			if code != tc.code || body["error"] != tc.msg {
				t.Fatalf("got %d %v, want %d %q", code, body, tc.code, tc.msg)
			}
		})
	}
}

func TestAbortServiceError(t *testing.T) {
	cases := []struct {
		err  error
		code int
	}{
		{services.ErrRoomNotFound, 404},
		{services.ErrRoomFull, 409},
		{fmt.Errorf("%w: type", services.ErrInvalidArgument), 400},
		{services.ErrNotSupported, 501},
		{errors.Join(services.ErrStore, store.ErrConflict), 500},
	}
	for _, tc := range cases {
		code, body := recorded(func(c *gin.Context) { abortServiceError(c, tc.err) })
		if code != tc.code {
			t.Fatalf("%v: code=%d, want %d", tc.err, code, tc.code)
		}
		if code == 500 && body["error"] != msgInternal {
			t.Fatalf("500 leaked details: %v", body)
		}
	}
}

func TestFormatPollResponse(t *testing.T) {
	pair := formatPollResponse(&services.PollResult{
		Messages: []models.Entry{},
		Room:     &models.Room{ID: "ABC123", Mode: models.ModePair, Joined: true},
	})
	b, _ := json.Marshal(pair)
	if want := `{"joined":true,"messages":[],"state":"joined"}`; string(b) != want {
		t.Fatalf("pair=%s, want %s", b, want)
	}

	multi := formatPollResponse(&services.PollResult{
		Messages: []models.Entry{},
		Room:     models.NewRoom("ABC123", models.ModeMulti, 0),
	})
	b, _ = json.Marshal(multi)
	if want := `{"client_ids":[],"messages":[],"player_count":1,"state":"created"}`; string(b) != want {
		t.Fatalf("multi=%s, want %s", b, want)
	}
}

func TestCreateScope(t *testing.T) {
	cases := map[string]string{
		"/api/rooms?action=create": "create",
		"/api/rooms?action=poll":   "",
		"/api/signal":              "",
	}
	for target, want := range cases {
		c, _ := gin.CreateTestContext(httptest.NewRecorder())
		c.Request = httptest.NewRequest(http.MethodPost, target, nil)
		if got := CreateScope(c); got != want {
			t.Fatalf("%s: scope=%q, want %q", target, got, want)
		}
	}
}
