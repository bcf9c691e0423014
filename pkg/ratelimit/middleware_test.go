package ratelimit

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
)

func TestGetRateLimitType(t *testing.T) {
	tests := []struct {
		path string
		want RateLimitType
	}{
		{"/health", RateLimitTypeHealth},
		{"/ping", RateLimitTypeHealth},
		{"/api/v1/events/:id/reservations", RateLimitTypeReservation},
		{"/api/v1/reservations/:id/cancel", RateLimitTypeReservation},
		{"/api/v1/users/reservations", RateLimitTypeReservation},
		{"/api/v1/events/:id/availability", RateLimitTypePublic},
		{"/api/v1/admin/stats", RateLimitTypeAdmin},
		{"/api/v1/users/profile", RateLimitTypeUser},
		{"/swagger/*any", RateLimitTypeDefault},
		{"", RateLimitTypeDefault},
	}

	for _, tt := range tests {
		if got := getRateLimitType(tt.path); got != tt.want {
			t.Errorf("getRateLimitType(%q) = %s, want %s", tt.path, got, tt.want)
		}
	}
}

func TestGetClientIP(t *testing.T) {
	gin.SetMode(gin.TestMode)
	tests := []struct {
		name    string
		headers map[string]string
		remote  string
		want    string
	}{
		{"forwarded", map[string]string{"X-Forwarded-For": "203.0.113.7, 10.0.0.1"}, "10.0.0.2:5555", "203.0.113.7"},
		{"bad forwarded falls through", map[string]string{"X-Forwarded-For": "garbage", "X-Real-IP": "198.51.100.4"}, "10.0.0.2:5555", "198.51.100.4"},
		{"remote addr", nil, "192.0.2.10:41000", "192.0.2.10"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			c, _ := gin.CreateTestContext(w)
			c.Request = httptest.NewRequest(http.MethodGet, "/", nil)
			c.Request.RemoteAddr = tt.remote
			for k, v := range tt.headers {
				c.Request.Header.Set(k, v)
			}
			if got := getClientIP(c); got != tt.want {
				t.Errorf("getClientIP() = %q, want %q", got, tt.want)
			}
		})
	}
}

func testConfig() *Config {
	return &Config{
		Enabled:             true,
		WindowDuration:      time.Minute,
		DefaultRequests:     5,
		ReservationRequests: 2,
		WhitelistedIPs:      []string{"127.0.0.9"},
	}
}

func TestDisabledOrWhitelistedIsAllowed(t *testing.T) {
	cfg := testConfig()
	cfg.Enabled = false
	limiter := NewRateLimiter(nil, cfg)

	res, err := limiter.IsAllowed(context.Background(), "203.0.113.1", RateLimitTypeReservation)
	if err != nil || !res.Allowed || res.Limit != 2 {
		t.Errorf("disabled limiter: %+v, %v", res, err)
	}

	limiter = NewRateLimiter(nil, testConfig())
	res, err = limiter.IsAllowed(context.Background(), "127.0.0.9", RateLimitTypeReservation)
	if err != nil || !res.Allowed {
		t.Errorf("whitelisted ip: %+v, %v", res, err)
	}
}

func TestMiddlewareEnforcesLimitWithRedis(t *testing.T) {
	addr := os.Getenv("TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("TEST_REDIS_ADDR not set; skipping Redis integration test")
	}
	client := redis.NewClient(&redis.Options{Addr: addr, DB: 15})
	defer client.Close()
	if err := client.Ping(context.Background()).Err(); err != nil {
		t.Skipf("redis unreachable: %v", err)
	}
	client.FlushDB(context.Background())

	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(Middleware(NewRateLimiter(client, testConfig())))
	r.POST("/api/v1/events/:id/reservations", func(c *gin.Context) { c.Status(http.StatusCreated) })

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/events/abc/reservations", nil)
		req.RemoteAddr = "203.0.113.50:1234"
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		codes = append(codes, w.Code)
	}

	if codes[0] != http.StatusCreated || codes[1] != http.StatusCreated || codes[2] != http.StatusTooManyRequests {
		t.Errorf("status codes = %v, want [201 201 429]", codes)
	}
}
