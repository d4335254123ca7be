//go:build e2e
// +build e2e

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
)

const defaultHTTPBase = "http://localhost:8080"

type httpClient struct {
	baseURL string
	client  *http.Client
}

func newHTTPClient() *httpClient {
	base := os.Getenv("AUTH_HTTP_URL")
	if base == "" {
		base = defaultHTTPBase
	}
	return &httpClient{
		baseURL: base,
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

func (c *httpClient) do(t *testing.T, method, path string, body any, accessToken string) (*http.Response, []byte) {
	t.Helper()

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("json marshal failed: %v", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, c.baseURL+path, reader)
	if err != nil {
		t.Fatalf("new request failed: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if accessToken != "" {
		req.Header.Set("Authorization", "Bearer "+accessToken)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		t.Fatalf("http request failed: %v", err)
	}
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read response failed: %v", err)
	}
	return resp, bodyBytes
}

func (c *httpClient) postJSON(t *testing.T, path string, body any) (*http.Response, []byte) {
	t.Helper()
	return c.do(t, http.MethodPost, path, body, "")
}

type envelope struct {
	Success bool            `json:"success"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

type authData struct {
	Token        string `json:"token"`
	RefreshToken string `json:"refreshToken"`
	ExpiresIn    int64  `json:"expiresIn"`
	User         struct {
		ID    uint64 `json:"id"`
		Email string `json:"email"`
	} `json:"user"`
}

func decodeAuthData(t *testing.T, body []byte) authData {
	t.Helper()

	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		t.Fatalf("envelope unmarshal failed: %v body: %s", err, string(body))
	}
	var data authData
	if err := json.Unmarshal(env.Data, &data); err != nil {
		t.Fatalf("auth data unmarshal failed: %v body: %s", err, string(body))
	}
	return data
}

func waitForHTTP(baseURL string, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	client := &http.Client{Timeout: 2 * time.Second}
	for time.Now().Before(deadline) {
		resp, err := client.Get(baseURL + "/api/health")
		if err == nil {
			resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				return nil
			}
		}
		time.Sleep(500 * time.Millisecond)
	}
	return fmt.Errorf("http service not ready at %s", baseURL)
}

func TestAuthFlow(t *testing.T) {
	client := newHTTPClient()

	if err := waitForHTTP(client.baseURL, 30*time.Second); err != nil {
		t.Fatal(err)
	}

	state := struct {
		email         string
		password      string
		accessToken   string
		refreshToken  string
		rotatedPair   authData
		secondSession authData
	}{
		email:    fmt.Sprintf("e2e+%d@example.com", time.Now().UnixNano()),
		password: "StrongPass1!",
	}

	abort := false
	fail := func(t *testing.T, format string, args ...any) {
		abort = true
		t.Fatalf(format, args...)
	}

	step := func(name string, fn func(t *testing.T)) {
		t.Run(name, func(t *testing.T) {
			if abort {
				t.Skip("previous step failed")
			}
			fn(t)
		})
	}

	step("LoginBeforeRegister", func(t *testing.T) {
		resp, _ := client.postJSON(t, "/api/auth/login", map[string]string{
			"email":    state.email,
			"password": state.password,
		})
		if resp.StatusCode != http.StatusUnauthorized {
			fail(t, "expected login before register to fail, got %d", resp.StatusCode)
		}
	})

	step("Register", func(t *testing.T) {
		resp, body := client.postJSON(t, "/api/auth/register", map[string]string{
			"name":     "E2E User",
			"email":    state.email,
			"password": state.password,
		})
		if resp.StatusCode != http.StatusCreated {
			fail(t, "register status: %d body: %s", resp.StatusCode, string(body))
		}

		data := decodeAuthData(t, body)
		if data.Token == "" || data.RefreshToken == "" {
			fail(t, "expected token pair from register, got %s", string(body))
		}
		state.accessToken = data.Token
		state.refreshToken = data.RefreshToken
	})

	step("RegisterWeakPassword", func(t *testing.T) {
		resp, _ := client.postJSON(t, "/api/auth/register", map[string]string{
			"name":     "E2E User",
			"email":    "weak-" + state.email,
			"password": "short",
		})
		if resp.StatusCode != http.StatusBadRequest {
			fail(t, "expected weak password register to fail, got %d", resp.StatusCode)
		}
	})

	step("RegisterDuplicate", func(t *testing.T) {
		resp, _ := client.postJSON(t, "/api/auth/register", map[string]string{
			"name":     "Someone Else",
			"email":    state.email,
			"password": state.password,
		})
		if resp.StatusCode != http.StatusConflict {
			fail(t, "expected duplicate register conflict, got %d", resp.StatusCode)
		}
	})

	step("LoginWrongPassword", func(t *testing.T) {
		resp, _ := client.postJSON(t, "/api/auth/login", map[string]string{
			"email":    state.email,
			"password": "WrongPass1!",
		})
		if resp.StatusCode != http.StatusUnauthorized {
			fail(t, "expected wrong password login to fail, got %d", resp.StatusCode)
		}
	})

	step("Profile", func(t *testing.T) {
		resp, body := client.do(t, http.MethodGet, "/api/auth/profile", nil, state.accessToken)
		if resp.StatusCode != http.StatusOK {
			fail(t, "profile status: %d body: %s", resp.StatusCode, string(body))
		}
		if !bytes.Contains(body, []byte(state.email)) {
			fail(t, "expected profile to contain email, got %s", string(body))
		}
	})

	step("ProfileWithoutToken", func(t *testing.T) {
		resp, _ := client.do(t, http.MethodGet, "/api/auth/profile", nil, "")
		if resp.StatusCode != http.StatusUnauthorized {
			fail(t, "expected unauthenticated profile to fail, got %d", resp.StatusCode)
		}
	})

	step("AdminPurgeForbiddenForRegularUser", func(t *testing.T) {
		resp, _ := client.do(t, http.MethodPost, "/api/auth/admin/sessions/purge", nil, state.accessToken)
		if resp.StatusCode != http.StatusForbidden {
			fail(t, "expected admin purge to be forbidden, got %d", resp.StatusCode)
		}
	})

	step("Refresh", func(t *testing.T) {
		resp, body := client.postJSON(t, "/api/auth/refresh", map[string]string{
			"refreshToken": state.refreshToken,
		})
		if resp.StatusCode != http.StatusOK {
			fail(t, "refresh status: %d body: %s", resp.StatusCode, string(body))
		}

		state.rotatedPair = decodeAuthData(t, body)
		if state.rotatedPair.RefreshToken == "" || state.rotatedPair.RefreshToken == state.refreshToken {
			fail(t, "expected rotated refresh token, got %s", string(body))
		}
	})

	step("ReplayOldRefreshToken", func(t *testing.T) {
		resp, _ := client.postJSON(t, "/api/auth/refresh", map[string]string{
			"refreshToken": state.refreshToken,
		})
		if resp.StatusCode != http.StatusUnauthorized {
			fail(t, "expected replayed refresh token to fail, got %d", resp.StatusCode)
		}
	})

	step("RotatedTokenRevokedAfterReplay", func(t *testing.T) {
		// The replay revoked every session of the user, including the pair
		// the rotation just issued.
		resp, _ := client.postJSON(t, "/api/auth/refresh", map[string]string{
			"refreshToken": state.rotatedPair.RefreshToken,
		})
		if resp.StatusCode != http.StatusUnauthorized {
			fail(t, "expected rotated token to be revoked after replay, got %d", resp.StatusCode)
		}
	})

	step("LoginAgain", func(t *testing.T) {
		resp, body := client.postJSON(t, "/api/auth/login", map[string]string{
			"email":    state.email,
			"password": state.password,
		})
		if resp.StatusCode != http.StatusOK {
			fail(t, "login status: %d body: %s", resp.StatusCode, string(body))
		}
		state.secondSession = decodeAuthData(t, body)
	})

	step("UpdateProfile", func(t *testing.T) {
		resp, body := client.do(t, http.MethodPut, "/api/auth/profile", map[string]string{
			"name": "Renamed E2E User",
		}, state.secondSession.Token)
		if resp.StatusCode != http.StatusOK {
			fail(t, "update profile status: %d body: %s", resp.StatusCode, string(body))
		}
		if !bytes.Contains(body, []byte("Renamed E2E User")) {
			fail(t, "expected updated name in response, got %s", string(body))
		}
	})

	step("ChangePassword", func(t *testing.T) {
		resp, body := client.do(t, http.MethodPut, "/api/auth/password", map[string]string{
			"oldPassword": state.password,
			"newPassword": "NewStrongPass1!",
		}, state.secondSession.Token)
		if resp.StatusCode != http.StatusOK {
			fail(t, "change password status: %d body: %s", resp.StatusCode, string(body))
		}
		state.password = "NewStrongPass1!"
	})

	step("RefreshRevokedByPasswordChange", func(t *testing.T) {
		resp, _ := client.postJSON(t, "/api/auth/refresh", map[string]string{
			"refreshToken": state.secondSession.RefreshToken,
		})
		if resp.StatusCode != http.StatusUnauthorized {
			fail(t, "expected refresh after password change to fail, got %d", resp.StatusCode)
		}
	})

	step("LoginWithNewPassword", func(t *testing.T) {
		resp, body := client.postJSON(t, "/api/auth/login", map[string]string{
			"email":    state.email,
			"password": state.password,
		})
		if resp.StatusCode != http.StatusOK {
			fail(t, "login with new password status: %d body: %s", resp.StatusCode, string(body))
		}
		state.secondSession = decodeAuthData(t, body)
	})

	step("ForgotPassword", func(t *testing.T) {
		respKnown, bodyKnown := client.postJSON(t, "/api/auth/reset-password", map[string]string{
			"email": state.email,
		})
		respUnknown, bodyUnknown := client.postJSON(t, "/api/auth/reset-password", map[string]string{
			"email": fmt.Sprintf("nobody+%d@example.com", time.Now().UnixNano()),
		})
		if respKnown.StatusCode != http.StatusOK || respUnknown.StatusCode != http.StatusOK {
			fail(t, "forgot password statuses: %d / %d", respKnown.StatusCode, respUnknown.StatusCode)
		}
		if string(bodyKnown) != string(bodyUnknown) {
			fail(t, "forgot password responses must be identical: %s vs %s", bodyKnown, bodyUnknown)
		}
	})

	step("ResetPasswordInvalidToken", func(t *testing.T) {
		resp, _ := client.postJSON(t, "/api/auth/reset-password/not-a-real-token", map[string]string{
			"password": "AnotherStrong1!",
		})
		if resp.StatusCode != http.StatusBadRequest {
			fail(t, "expected invalid reset token to fail, got %d", resp.StatusCode)
		}
	})

	step("Logout", func(t *testing.T) {
		resp, body := client.do(t, http.MethodPost, "/api/auth/logout", map[string]string{
			"refreshToken": state.secondSession.RefreshToken,
		}, state.secondSession.Token)
		if resp.StatusCode != http.StatusOK {
			fail(t, "logout status: %d body: %s", resp.StatusCode, string(body))
		}
	})

	step("RefreshAfterLogout", func(t *testing.T) {
		resp, _ := client.postJSON(t, "/api/auth/refresh", map[string]string{
			"refreshToken": state.secondSession.RefreshToken,
		})
		if resp.StatusCode != http.StatusUnauthorized {
			fail(t, "expected refresh after logout to fail, got %d", resp.StatusCode)
		}
	})

	step("AccessTokenStillValidAfterLogout", func(t *testing.T) {
		// Stateless access tokens outlive revocation until they expire.
		resp, _ := client.do(t, http.MethodGet, "/api/auth/profile", nil, state.secondSession.Token)
		if resp.StatusCode != http.StatusOK {
			fail(t, "expected access token to remain valid until expiry, got %d", resp.StatusCode)
		}
	})

	step("LogoutIdempotent", func(t *testing.T) {
		resp, _ := client.do(t, http.MethodPost, "/api/auth/logout", map[string]string{
			"refreshToken": state.secondSession.RefreshToken,
		}, state.secondSession.Token)
		if resp.StatusCode != http.StatusOK {
			fail(t, "expected repeated logout to succeed, got %d", resp.StatusCode)
		}
	})
}
