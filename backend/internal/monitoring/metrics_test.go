package monitoring

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func setupTestGin() *gin.Engine {
	gin.SetMode(gin.TestMode)
	return gin.New()
}

func TestMetricsMiddleware(t *testing.T) {
	router := setupTestGin()
	router.Use(MetricsMiddleware())
	router.GET("/test", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"message": "success"})
	})

	before := testutil.ToFloat64(RequestCount.WithLabelValues("GET", "/test", "200"))

	for i := 0; i < 3; i++ {
		req, _ := http.NewRequest("GET", "/test", nil)
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
	}

	after := testutil.ToFloat64(RequestCount.WithLabelValues("GET", "/test", "200"))
	if after-before != 3 {
		t.Errorf("Expected 3 counted requests, got %v", after-before)
	}

	if active := testutil.ToFloat64(ActiveRequests); active != 0 {
		t.Errorf("Expected no active requests after completion, got %v", active)
	}
}

func TestMetricsMiddleware_ErrorStatus(t *testing.T) {
	router := setupTestGin()
	router.Use(MetricsMiddleware())
	router.GET("/error", func(c *gin.Context) {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "test error"})
	})

	before := testutil.ToFloat64(RequestCount.WithLabelValues("GET", "/error", "500"))

	req, _ := http.NewRequest("GET", "/error", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	after := testutil.ToFloat64(RequestCount.WithLabelValues("GET", "/error", "500"))
	if after-before != 1 {
		t.Errorf("Expected one 500 to be counted, got %v", after-before)
	}
}

func TestMetricsMiddleware_Unmatched(t *testing.T) {
	router := setupTestGin()
	router.Use(MetricsMiddleware())

	before := testutil.ToFloat64(RequestCount.WithLabelValues("GET", "unmatched", "404"))

	req, _ := http.NewRequest("GET", "/nope", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	after := testutil.ToFloat64(RequestCount.WithLabelValues("GET", "unmatched", "404"))
	if after-before != 1 {
		t.Errorf("Expected unmatched route to be counted, got %v", after-before)
	}
}

func TestMetricsHandler(t *testing.T) {
	Conflicts.Inc()

	router := setupTestGin()
	router.GET("/metrics", MetricsHandler())

	req, _ := http.NewRequest("GET", "/metrics", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200 from metrics endpoint, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "board_version_conflicts_total") {
		t.Error("Expected conflict counter in metrics output")
	}
}
