package handler

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/choraleia/plugbot/pkg/db"
	"github.com/choraleia/plugbot/pkg/event"
	"github.com/choraleia/plugbot/pkg/sandbox"
	"github.com/choraleia/plugbot/pkg/service"
	"github.com/choraleia/plugbot/pkg/tools"
	"github.com/choraleia/plugbot/pkg/utils"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

var testSecret = []byte("test-secret")

const addCode = `tool(({num1, num2}) => num1 + num2, {
	name: "add",
	description: "Adds two numbers",
	schema: z.object({num1: z.number(), num2: z.number()}),
})`

func newTestRouter(t *testing.T) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	gdb, err := db.OpenInMemory()
	if err != nil {
		t.Fatalf("OpenInMemory: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := gdb.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})

	emitter := event.NewEmitter()
	compiler := sandbox.NewCompiler(sandbox.Options{CompileTimeout: time.Second})
	plugins := service.NewPluginService(gdb, compiler, emitter)
	chatbots := service.NewChatbotService(gdb, emitter)
	loader := tools.NewPluginToolLoader(compiler, emitter, 2)
	chat := service.NewChatService(gdb, nil, loader, nil, emitter, service.ChatOptions{})

	logger := utils.GetLogger()
	r := gin.New()
	api := r.Group("/api", AuthMiddleware(testSecret))
	NewPluginHandler(plugins, logger).RegisterRoutes(api)
	NewChatbotHandler(chatbots, chat, logger).RegisterRoutes(api)
	NewConversationHandler(chat, logger).RegisterRoutes(api)
	return r
}

func tokenFor(t *testing.T, userID string) string {
	t.Helper()
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"userId": userID}).SignedString(testSecret)
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return s
}

func do(t *testing.T, r *gin.Engine, userID, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if userID != "" {
		req.Header.Set("Authorization", "Bearer "+tokenFor(t, userID))
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(w.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %s: %v", w.Body.String(), err)
	}
	return v
}

func TestAuthMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/whoami", AuthMiddleware(testSecret), func(c *gin.Context) {
		c.String(http.StatusOK, currentUser(c))
	})

	noClaim, _ := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"sub": "x"}).SignedString(testSecret)
	otherKey, _ := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"userId": "x"}).SignedString([]byte("other"))

	tests := []struct {
		name   string
		header string
		query  string
		status int
		body   string
	}{
		{name: "missing header", status: http.StatusUnauthorized},
		{name: "garbage token", header: "Bearer nope", status: http.StatusUnauthorized},
		{name: "wrong key", header: "Bearer " + otherKey, status: http.StatusUnauthorized},
		{name: "missing userId", header: "Bearer " + noClaim, status: http.StatusUnauthorized},
		{name: "valid", header: "Bearer " + tokenFor(t, "alice"), status: http.StatusOK, body: "alice"},
		{name: "query token", query: "?token=" + tokenFor(t, "bob"), status: http.StatusOK, body: "bob"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/whoami"+tt.query, nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)
			if w.Code != tt.status {
				t.Fatalf("status = %d, want %d", w.Code, tt.status)
			}
			if tt.body != "" && w.Body.String() != tt.body {
				t.Fatalf("identity = %q, want %q", w.Body.String(), tt.body)
			}
		})
	}
}

func TestAuthMiddleware_LocalMode(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/whoami", AuthMiddleware(nil), func(c *gin.Context) {
		c.String(http.StatusOK, currentUser(c))
	})
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/whoami", nil))
	if w.Code != http.StatusOK || w.Body.String() != LocalUserID {
		t.Fatalf("unexpected response %d %q", w.Code, w.Body.String())
	}
}

func TestPluginRoutes(t *testing.T) {
	r := newTestRouter(t)

	w := do(t, r, "dev", http.MethodPost, "/api/plugins", map[string]string{"code": addCode})
	if w.Code != http.StatusCreated {
		t.Fatalf("create: %d %s", w.Code, w.Body.String())
	}
	plugin := decode[db.Plugin](t, w)
	if plugin.Name != "add" || plugin.Version != 1 {
		t.Fatalf("unexpected plugin %+v", plugin)
	}

	w = do(t, r, "dev", http.MethodPost, "/api/plugins", map[string]string{"code": "tool("})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("bad code: %d", w.Code)
	}
	body := decode[struct {
		CompileError sandbox.CompileError `json:"compile_error"`
	}](t, w)
	if body.CompileError.Code != sandbox.CodeSyntax {
		t.Fatalf("unexpected compile error %+v", body.CompileError)
	}

	path := "/api/plugins/" + plugin.ID
	if w := do(t, r, "mallory", http.MethodPut, path, map[string]string{"name": "stolen"}); w.Code != http.StatusForbidden {
		t.Fatalf("foreign update: %d", w.Code)
	}
	if w := do(t, r, "dev", http.MethodPut, path, map[string]string{"name": "sum"}); w.Code != http.StatusOK {
		t.Fatalf("update: %d %s", w.Code, w.Body.String())
	}
	if w := do(t, r, "dev", http.MethodPut, path, map[string]string{}); w.Code != http.StatusBadRequest {
		t.Fatalf("empty update: %d", w.Code)
	}

	w = do(t, r, "dev", http.MethodGet, path+"/versions", nil)
	versions := decode[struct {
		Versions []struct {
			VersionNumber int  `json:"version_number"`
			IsCurrent     bool `json:"is_current"`
		} `json:"versions"`
	}](t, w)
	if len(versions.Versions) != 2 || versions.Versions[0].VersionNumber != 2 || !versions.Versions[0].IsCurrent {
		t.Fatalf("unexpected versions %+v", versions)
	}

	if w := do(t, r, "dev", http.MethodGet, path+"/versions/7", nil); w.Code != http.StatusNotFound {
		t.Fatalf("missing version: %d", w.Code)
	}
	if w := do(t, r, "dev", http.MethodGet, path+"/versions/zero", nil); w.Code != http.StatusBadRequest {
		t.Fatalf("bad version param: %d", w.Code)
	}
	w = do(t, r, "dev", http.MethodPost, path+"/versions/1/restore", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("restore: %d %s", w.Code, w.Body.String())
	}
	if restored := decode[db.Plugin](t, w); restored.Version != 3 || restored.Name != "add" {
		t.Fatalf("unexpected restore %+v", restored)
	}

	if w := do(t, r, "dev", http.MethodGet, "/api/plugins/missing", nil); w.Code != http.StatusNotFound {
		t.Fatalf("missing plugin: %d", w.Code)
	}

	w = do(t, r, "dev", http.MethodPost, "/api/plugins/validate", map[string]string{"code": addCode})
	if summary := decode[sandbox.ToolSummary](t, w); w.Code != http.StatusOK || summary.Name != "add" {
		t.Fatalf("validate: %d %+v", w.Code, summary)
	}
}

func TestChatbotAndConversationRoutes(t *testing.T) {
	r := newTestRouter(t)

	plugin := decode[db.Plugin](t, do(t, r, "dev", http.MethodPost, "/api/plugins", map[string]string{"code": addCode}))

	w := do(t, r, "alice", http.MethodGet, "/api/chatbots/default", nil)
	bot := decode[db.Chatbot](t, w)
	if w.Code != http.StatusOK || bot.Name != db.DefaultChatbotName {
		t.Fatalf("default chatbot: %d %+v", w.Code, bot)
	}

	attach := map[string]any{"plugin_id": plugin.ID}
	botPath := "/api/chatbots/" + bot.ID
	if w := do(t, r, "alice", http.MethodPost, botPath+"/plugins", attach); w.Code != http.StatusCreated {
		t.Fatalf("attach: %d %s", w.Code, w.Body.String())
	}
	if w := do(t, r, "alice", http.MethodPost, botPath+"/plugins", attach); w.Code != http.StatusConflict {
		t.Fatalf("duplicate attach: %d", w.Code)
	}
	if w := do(t, r, "bob", http.MethodGet, botPath, nil); w.Code != http.StatusNotFound {
		t.Fatalf("foreign chatbot: %d", w.Code)
	}
	if w := do(t, r, "alice", http.MethodPut, botPath+"/plugins/"+plugin.ID, map[string]bool{"enabled": false}); w.Code != http.StatusOK {
		t.Fatalf("toggle: %d", w.Code)
	}

	w = do(t, r, "alice", http.MethodPost, "/api/conversations", map[string]string{"chatbot_id": bot.ID})
	if w.Code != http.StatusCreated {
		t.Fatalf("create conversation: %d %s", w.Code, w.Body.String())
	}
	conv := decode[db.Conversation](t, w)
	convPath := "/api/conversations/" + conv.ID

	if w := do(t, r, "bob", http.MethodGet, convPath, nil); w.Code != http.StatusNotFound {
		t.Fatalf("foreign conversation: %d", w.Code)
	}
	if w := do(t, r, "alice", http.MethodPost, convPath+"/turns", map[string]string{}); w.Code != http.StatusBadRequest {
		t.Fatalf("missing input: %d", w.Code)
	}
	// No chat model is configured in this router.
	if w := do(t, r, "alice", http.MethodPost, convPath+"/turns", map[string]string{"input": "hi"}); w.Code != http.StatusServiceUnavailable {
		t.Fatalf("turn without model: %d %s", w.Code, w.Body.String())
	}

	if w := do(t, r, "alice", http.MethodDelete, botPath+"/plugins/"+plugin.ID, nil); w.Code != http.StatusNoContent {
		t.Fatalf("detach: %d", w.Code)
	}
	if w := do(t, r, "alice", http.MethodDelete, botPath+"/plugins/"+plugin.ID, nil); w.Code != http.StatusNotFound {
		t.Fatalf("second detach: %d", w.Code)
	}
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{err: service.ErrPluginNotFound, want: http.StatusNotFound},
		{err: fmt.Errorf("wrapped: %w", service.ErrConversationNotFound), want: http.StatusNotFound},
		{err: service.ErrForbidden, want: http.StatusForbidden},
		{err: service.ErrVersionConflict, want: http.StatusConflict},
		{err: service.ErrAlreadyAttached, want: http.StatusConflict},
		{err: &sandbox.CompileError{Code: sandbox.CodeSyntax}, want: http.StatusBadRequest},
		{err: fmt.Errorf("%w: x", service.ErrInvalidInput), want: http.StatusBadRequest},
		{err: service.ErrModelUnavailable, want: http.StatusServiceUnavailable},
		{err: &service.AgentError{ConversationID: "c", Err: errors.New("tool failed")}, want: http.StatusInternalServerError},
		{err: errors.New("boom"), want: http.StatusInternalServerError},
	}
	for _, tt := range tests {
		if got := statusFor(tt.err); got != tt.want {
			t.Fatalf("statusFor(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}
