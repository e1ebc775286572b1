package server

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
)

func newCORSRouter(origins []string) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(corsMiddleware(origins))
	router.Any("/items", func(c *gin.Context) {
		c.Status(http.StatusOK)
	})
	return router
}

func preflight(router http.Handler, origin, method string) *httptest.ResponseRecorder {
	request := httptest.NewRequest(http.MethodOptions, "/items", http.NoBody)
	request.Header.Set("Origin", origin)
	request.Header.Set("Access-Control-Request-Method", method)
	request.Header.Set("Access-Control-Request-Headers", "Content-Type, X-TAuth-Tenant")
	recorder := httptest.NewRecorder()
	router.ServeHTTP(recorder, request)
	return recorder
}

func TestCORSPreflight(t *testing.T) {
	cases := []struct {
		name            string
		origins         []string
		requestOrigin   string
		wantStatus      int
		wantAllowOrigin string
		wantCredentials bool
	}{
		{
			name:            "configured origin is credentialed",
			origins:         []string{"https://app.example.com"},
			requestOrigin:   "https://app.example.com",
			wantStatus:      http.StatusNoContent,
			wantAllowOrigin: "https://app.example.com",
			wantCredentials: true,
		},
		{
			name:          "unknown origin is refused",
			origins:       []string{"https://app.example.com"},
			requestOrigin: "https://evil.example.com",
			wantStatus:    http.StatusForbidden,
		},
		{
			name:            "no configured origins allows any without credentials",
			requestOrigin:   "http://localhost:5173",
			wantStatus:      http.StatusNoContent,
			wantAllowOrigin: "*",
		},
	}

	for _, testCase := range cases {
		t.Run(testCase.name, func(t *testing.T) {
			recorder := preflight(newCORSRouter(testCase.origins), testCase.requestOrigin, http.MethodPatch)
			if recorder.Code != testCase.wantStatus {
				t.Fatalf("status: got %d, want %d", recorder.Code, testCase.wantStatus)
			}
			if testCase.wantStatus != http.StatusNoContent {
				return
			}
			header := recorder.Header()
			if got := header.Get("Access-Control-Allow-Origin"); got != testCase.wantAllowOrigin {
				t.Fatalf("allow origin: got %q, want %q", got, testCase.wantAllowOrigin)
			}
			if got := header.Get("Access-Control-Allow-Credentials") == "true"; got != testCase.wantCredentials {
				t.Fatalf("credentials: got %v, want %v", got, testCase.wantCredentials)
			}
			if !strings.Contains(strings.ToLower(header.Get("Access-Control-Allow-Headers")), "x-tauth-tenant") {
				t.Fatalf("tenant header not allowed: %q", header.Get("Access-Control-Allow-Headers"))
			}
			if !strings.Contains(header.Get("Access-Control-Allow-Methods"), http.MethodPatch) {
				t.Fatalf("PATCH not allowed: %q", header.Get("Access-Control-Allow-Methods"))
			}
		})
	}
}
