package service

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// newTestDephealth создаёт сервис с изолированным Prometheus registry.
func newTestDephealth(t *testing.T, url string) *DephealthService {
	t.Helper()
	ds, err := NewDephealthService(DephealthConfig{
		ServiceID:     "filevault-test",
		Group:         "filevault",
		DepName:       "idp-jwks",
		URL:           url,
		CheckInterval: time.Second,
		Registerer:    prometheus.NewRegistry(),
	}, testLogger())
	if err != nil {
		t.Fatalf("Ошибка создания DephealthService: %v", err)
	}
	return ds
}

// waitHealth ждёт появления записи idp-jwks в Health() и возвращает её значение.
func waitHealth(t *testing.T, ds *DephealthService) (bool, map[string]bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for {
		health := ds.Health()
		for key, val := range health {
			if strings.HasPrefix(key, "idp-jwks") {
				return val, health
			}
		}
		if time.Now().After(deadline) {
			return false, health
		}
		time.Sleep(100 * time.Millisecond)
	}
}

func TestDephealthService_Healthy(t *testing.T) {
	mockServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"keys":[]}`))
	}))
	defer mockServer.Close()

	ds := newTestDephealth(t, mockServer.URL)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Start не должен блокировать
	if err := ds.Start(ctx); err != nil {
		t.Fatalf("Ошибка запуска: %v", err)
	}
	defer ds.Stop()

	// Ждём первую успешную проверку
	deadline := time.Now().Add(5 * time.Second)
	for {
		ok, health := waitHealth(t, ds)
		if ok {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("idp-jwks не стал healthy, health=%v", health)
		}
		time.Sleep(100 * time.Millisecond)
	}
}

func TestDephealthService_UnhealthyDependency(t *testing.T) {
	// Сервер, который возвращает 500
	mockServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer mockServer.Close()

	ds := newTestDephealth(t, mockServer.URL)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := ds.Start(ctx); err != nil {
		t.Fatalf("Ошибка запуска: %v", err)
	}
	defer ds.Stop()

	// Даём время на первую проверку
	time.Sleep(2 * time.Second)

	if ok, health := waitHealth(t, ds); ok {
		t.Errorf("idp-jwks healthy при ответе 500, health=%v", health)
	}
}
