package validation

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
)

func TestIsValidEntityID(t *testing.T) {
	tests := []struct {
		id    string
		valid bool
	}{
		{"acme", true},
		{"acme-corp", true},
		{"ent_01HZX3", true},
		{"NYSE:IBM", true},
		{"eu.supplier.42", true},
		{strings.Repeat("a", 128), true},

		{"", false},
		{"-leading-dash", false},
		{"has space", false},
		{"slash/inside", false},
		{"semi;colon", false},
		{strings.Repeat("a", 129), false},
	}

	for _, tc := range tests {
		if got := IsValidEntityID(tc.id); got != tc.valid {
			t.Errorf("IsValidEntityID(%q) = %v, want %v", tc.id, got, tc.valid)
		}
	}
}

func TestSanitizeString(t *testing.T) {
	tests := []struct {
		input    string
		maxLen   int
		expected string
	}{
		{"hello", 10, "hello"},
		{"  hello  ", 10, "hello"},
		{"hello world", 5, "hello"},
		{"hello\x00world", 20, "helloworld"},
	}

	for _, tc := range tests {
		if got := SanitizeString(tc.input, tc.maxLen); got != tc.expected {
			t.Errorf("SanitizeString(%q, %d) = %q, want %q", tc.input, tc.maxLen, got, tc.expected)
		}
	}
}

func TestValidate(t *testing.T) {
	errs := Validate(
		Required("entityId", "acme"),
		ValidEntityID("entityId", "acme"),
		ValidEntityIDs("entityIds", []string{"acme", "globex"}),
		MaxItems("entityIds", 2, 500),
	)
	if len(errs) != 0 {
		t.Errorf("expected no errors, got %v", errs)
	}

	errs = Validate(
		Required("entityId", " "),
		ValidEntityID("entityId", "bad id"),
		ValidEntityIDs("entityIds", []string{"acme", "bad/id"}),
		MaxItems("entityIds", 501, 500),
	)
	if len(errs) != 4 {
		t.Fatalf("expected 4 errors, got %d", len(errs))
	}
	if errs[2].Field != "entityIds[1]" {
		t.Errorf("field = %q, want entityIds[1]", errs[2].Field)
	}
	if errs.Error() != "entityId: is required" {
		t.Errorf("Error() = %q", errs.Error())
	}
}

func TestEntityParamMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(EntityParamMiddleware())
	r.GET("/entities/:id", func(c *gin.Context) { c.String(http.StatusOK, c.Param("id")) })
	r.GET("/scenarios", func(c *gin.Context) { c.String(http.StatusOK, "ok") })

	tests := []struct {
		path string
		code int
	}{
		{"/entities/acme", http.StatusOK},
		{"/entities/bad%20id", http.StatusBadRequest},
		{"/entities/" + strings.Repeat("x", 200), http.StatusBadRequest},
		{"/scenarios", http.StatusOK},
	}
	for _, tc := range tests {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest("GET", tc.path, nil))
		if w.Code != tc.code {
			t.Errorf("GET %s = %d, want %d", tc.path, w.Code, tc.code)
		}
	}
}

func TestRequestSizeMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(RequestSizeMiddleware(16))
	r.POST("/echo", func(c *gin.Context) {
		var body map[string]any
		if err := c.ShouldBindJSON(&body); err != nil {
			c.Status(http.StatusRequestEntityTooLarge)
			return
		}
		c.Status(http.StatusOK)
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest("POST", "/echo", strings.NewReader(`{"a":1}`)))
	if w.Code != http.StatusOK {
		t.Errorf("small body = %d, want 200", w.Code)
	}

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest("POST", "/echo", strings.NewReader(`{"a":"`+strings.Repeat("x", 64)+`"}`)))
	if w.Code != http.StatusRequestEntityTooLarge {
		t.Errorf("large body = %d, want 413", w.Code)
	}
}
