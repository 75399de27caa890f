//go:build e2e
// +build e2e

// Package e2e drives a running server. Start it with the DEMO exam seeded
// (go run ./cmd/seed-clips) and ADMIN_PASSWORD_HASH set for E2E_ADMIN_PASSWORD.
package e2e

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stemsi/clipexam-backend/internal/model"
)

const (
	defaultBaseURL = "http://localhost:8080/api/v1"
	examCode       = "DEMO"
)

var (
	baseURL    string
	adminUser  string
	adminPass  string
	operatorID string
)

func TestMain(m *testing.M) {
	_ = godotenv.Load("../../.env")

	baseURL = getenv("BASE_URL", defaultBaseURL)
	adminUser = getenv("E2E_ADMIN_USERNAME", "admin")
	adminPass = os.Getenv("E2E_ADMIN_PASSWORD")
	// A fresh operator per run keeps the single-attempt rule out of the way.
	operatorID = "e2e-" + uuid.NewString()[:8]

	os.Exit(m.Run())
}

func TestE2EFlow(t *testing.T) {
	var operatorToken, adminToken string

	t.Run("VerifyOperator", func(t *testing.T) {
		var body struct {
			Data struct {
				Token string `json:"token"`
			} `json:"data"`
		}
		status := call(t, http.MethodPost, "/auth/operator/verify", "", model.VerifyOperatorRequest{OperatorID: operatorID}, &body)
		require.Equal(t, http.StatusOK, status)
		require.NotEmpty(t, body.Data.Token)
		operatorToken = body.Data.Token
	})

	t.Run("ExamPaper", func(t *testing.T) {
		var body struct {
			Data model.ExamPaper `json:"data"`
		}
		status := call(t, http.MethodGet, "/operator/exams/"+examCode, operatorToken, nil, &body)
		require.Equal(t, http.StatusOK, status)
		require.Len(t, body.Data.Clips, 2)
		assert.Equal(t, "C1", body.Data.Clips[0].ClipID)
	})

	t.Run("RecordResults", func(t *testing.T) {
		one, zero := 1, 0
		rt := 0.3
		status := call(t, http.MethodPost, "/operator/exams/"+examCode+"/results", operatorToken,
			model.RecordClipResultRequest{ClipID: "C1", Outcome: &one, ReactionTime: &rt}, nil)
		require.Equal(t, http.StatusOK, status)

		status = call(t, http.MethodPost, "/operator/exams/"+examCode+"/results", operatorToken,
			model.RecordClipResultRequest{ClipID: "C2", Outcome: &zero}, nil)
		require.Equal(t, http.StatusOK, status)
	})

	t.Run("Finalize", func(t *testing.T) {
		score := 1
		status := call(t, http.MethodPost, "/operator/exams/"+examCode+"/finalize", operatorToken,
			model.FinalizeAttemptRequest{Status: model.AttemptStatusSubmitted, TotalScore: &score}, nil)
		require.Equal(t, http.StatusOK, status)

		// A repeated finalize is accepted against the closed attempt.
		status = call(t, http.MethodPost, "/operator/exams/"+examCode+"/finalize", operatorToken,
			model.FinalizeAttemptRequest{Status: model.AttemptStatusSubmitted, TotalScore: &score}, nil)
		assert.Equal(t, http.StatusOK, status)
	})

	t.Run("AdminResults", func(t *testing.T) {
		if adminPass == "" {
			t.Skip("E2E_ADMIN_PASSWORD not set")
		}
		var login struct {
			Data struct {
				Token string `json:"token"`
			} `json:"data"`
		}
		status := call(t, http.MethodPost, "/auth/admin/login", "", model.AdminLoginRequest{Username: adminUser, Password: adminPass}, &login)
		require.Equal(t, http.StatusOK, status)
		adminToken = login.Data.Token

		var body struct {
			Data model.ResultsAnalysis `json:"data"`
		}
		status = call(t, http.MethodGet, "/admin/results?exam_code="+examCode, adminToken, nil, &body)
		require.Equal(t, http.StatusOK, status)

		var mine *model.ExamAttempt
		for i := range body.Data.Attempts {
			if body.Data.Attempts[i].UserID == operatorID {
				mine = &body.Data.Attempts[i]
			}
		}
		require.NotNil(t, mine, "attempt of %s missing", operatorID)
		assert.Equal(t, model.AttemptStatusSubmitted, mine.Status)
		require.NotNil(t, mine.TotalScore)
		assert.Equal(t, 1, *mine.TotalScore)
	})

	t.Run("ResetAttempt", func(t *testing.T) {
		if adminToken == "" {
			t.Skip("admin login skipped")
		}
		status := call(t, http.MethodDelete, fmt.Sprintf("/admin/exams/%s/attempts/%s", examCode, operatorID), adminToken, nil, nil)
		assert.Equal(t, http.StatusOK, status)
	})
}

// Helpers

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func call(t *testing.T, method, path, token string, body, out interface{}) int {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequest(method, baseURL+path, reader)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	client := &http.Client{Timeout: 20 * time.Second}
	resp, err := client.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	if out != nil && len(raw) > 0 {
		require.NoError(t, json.Unmarshal(raw, out), string(raw))
	}
	return resp.StatusCode
}
