package response

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func TestNewPagination(t *testing.T) {
	tests := []struct {
		page, perPage int
		total         int64
		wantPages     int
	}{
		{1, 10, 0, 0},
		{1, 10, 10, 1},
		{2, 10, 11, 2},
		{1, 3, 7, 3},
	}
	for _, tt := range tests {
		p := NewPagination(tt.page, tt.perPage, tt.total)
		if p.TotalPages != tt.wantPages || p.TotalItems != tt.total || p.Page != tt.page {
			t.Fatalf("NewPagination(%d, %d, %d) = %+v, want %d pages", tt.page, tt.perPage, tt.total, p, tt.wantPages)
		}
	}
}

func TestRequestIDMiddleware(t *testing.T) {
	tests := []struct {
		name   string
		header string
		keep   bool
	}{
		{"absent", "", false},
		{"gateway id", "req-7f3a_01", true},
		{"spaces", "a b", false},
		{"control chars", "abc\ninjected", false},
		{"too long", strings.Repeat("x", maxRequestIDLen+1), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := gin.New()
			r.Use(RequestIDMiddleware())
			r.GET("/", func(c *gin.Context) { Success(c, http.StatusOK, gin.H{"ok": true}) })

			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.header != "" {
				req.Header.Set(HeaderRequestID, tt.header)
			}
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)

			got := w.Header().Get(HeaderRequestID)
			if tt.keep && got != tt.header {
				t.Fatalf("request id %q replaced by %q", tt.header, got)
			}
			if !tt.keep && (got == "" || got == tt.header) {
				t.Fatalf("expected a fresh id, got %q", got)
			}

			var body Response
			if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if body.Metadata.RequestID != got {
				t.Fatalf("envelope id %q, header %q", body.Metadata.RequestID, got)
			}
		})
	}
}

func TestFailEnvelopes(t *testing.T) {
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodGet, "/", nil)

	FailWithKind(c, http.StatusConflict, ErrSectionAlreadySubmitted, "StateConflict")

	var body Response
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if w.Code != http.StatusConflict || body.Data != nil {
		t.Fatalf("unexpected reply %d %+v", w.Code, body)
	}
	if body.Error.Kind != "StateConflict" || body.Error.Message != GetMessage(ErrSectionAlreadySubmitted) {
		t.Fatalf("unexpected error body %+v", body.Error)
	}
	if body.Metadata.RequestID == "" || body.Metadata.RequestID != RequestID(c) {
		t.Fatalf("request id not stable within a request: %q", body.Metadata.RequestID)
	}
}
