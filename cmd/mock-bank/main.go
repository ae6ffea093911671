// mock-bank simulates the settlement partner in local development: it
// accepts a transfer notification and, after a short delay, posts the
// settlement webhook back to the API.
package main

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/gestpay/gestpay-backend/internal/logging"
)

type transferNotice struct {
	Reference string `json:"reference"`
	// fail lets tests exercise the failed-settlement path.
	Fail bool `json:"fail"`
}

func main() {
	logging.Init("mock-bank", "info", os.Getenv("APP_ENV"))

	apiURL := os.Getenv("API_URL")
	if apiURL == "" {
		apiURL = "http://localhost:8080"
	}
	secret := os.Getenv("SETTLEMENT_WEBHOOK_SECRET")

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(map[string]string{"status": "ok"}); err != nil {
			slog.Error("failed to write health response", "error", err)
		}
	})

	mux.HandleFunc("POST /transfers", func(w http.ResponseWriter, r *http.Request) {
		var notice transferNotice
		if err := json.NewDecoder(r.Body).Decode(&notice); err != nil || notice.Reference == "" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}

		go settle(apiURL, secret, notice)
		w.WriteHeader(http.StatusAccepted)
	})

	slog.Info("mock bank started", "addr", ":8081")
	if err := http.ListenAndServe(":8081", mux); err != nil {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}
}

func settle(apiURL, secret string, notice transferNotice) {
	time.Sleep(2 * time.Second)

	status := "successful"
	if notice.Fail {
		status = "failed"
	}
	body, _ := json.Marshal(map[string]string{
		"reference": notice.Reference,
		"status":    status,
	})

	req, err := http.NewRequest(http.MethodPost, apiURL+"/api/v1/webhooks/settlement", bytes.NewReader(body))
	if err != nil {
		slog.Error("failed to build settlement request", "error", err)
		return
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Webhook-Secret", secret)

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		slog.Error("settlement webhook failed", "error", err, "reference", notice.Reference)
		return
	}
	resp.Body.Close()
	slog.Info("settlement posted", "reference", notice.Reference, "status", status, "code", resp.StatusCode)
}
