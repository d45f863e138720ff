package server_test

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/hongminglow/tours-be/internal/auth"
	"github.com/hongminglow/tours-be/internal/auth/authtest"
	"github.com/hongminglow/tours-be/internal/config"
	"github.com/hongminglow/tours-be/internal/server"
	"github.com/hongminglow/tours-be/internal/storage/memory"
)

type response struct {
	Status  string `json:"status"`
	Code    string `json:"code"`
	Message string `json:"message"`
	Token   string `json:"token"`
	Data    struct {
		User struct {
			ID    string `json:"id"`
			Email string `json:"email"`
			Role  string `json:"role"`
		} `json:"user"`
	} `json:"data"`
}

var _ = Describe("Server", func() {
	var (
		ts     *httptest.Server
		mailer *authtest.Mailer
	)

	cfg := config.Config{
		Port:        "0",
		StoreDriver: config.StoreMemory,
		JWTSecret:   "e2e-secret",
		JWTIssuer:   "tours-e2e",
		JWTTTL:      time.Hour,
		BcryptCost:  4,
		CORSOrigins: []string{"*"},
		AppBaseURL:  "https://tours.example.com",
		MailDriver:  config.MailLog,
	}

	call := func(method, path, token string, payload any) (int, response) {
		var body io.Reader
		if payload != nil {
			raw, err := json.Marshal(payload)
			Expect(err).NotTo(HaveOccurred())
			body = bytes.NewReader(raw)
		}
		req, err := http.NewRequest(method, ts.URL+path, body)
		Expect(err).NotTo(HaveOccurred())
		req.Header.Set("Content-Type", "application/json")
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
		resp, err := ts.Client().Do(req)
		Expect(err).NotTo(HaveOccurred())
		defer resp.Body.Close()

		var out response
		Expect(json.NewDecoder(resp.Body).Decode(&out)).To(Succeed())
		return resp.StatusCode, out
	}

	signup := func(email string) response {
		status, out := call(http.MethodPost, "/api/v1/users/signup", "", map[string]string{
			"name": "Jonas", "email": email, "password": "pass1234", "passwordConfirm": "pass1234",
		})
		Expect(status).To(Equal(http.StatusCreated))
		return out
	}

	BeforeEach(func() {
		mailer = &authtest.Mailer{}
		srv, err := server.New(cfg, server.Deps{
			Store:    memory.NewUserStore(),
			Mailer:   mailer,
			Logger:   slog.New(slog.DiscardHandler),
			Registry: prometheus.NewRegistry(),
			Version:  "test",
		})
		Expect(err).NotTo(HaveOccurred())
		ts = httptest.NewServer(srv.Handler())
		DeferCleanup(ts.Close)
	})

	It("refuses to start without a store", func() {
		_, err := server.New(cfg, server.Deps{Mailer: mailer})
		Expect(err).To(MatchError("user store is required"))
	})

	It("signs up, logs in and reaches a protected route", func() {
		signed := signup("jonas@example.com")
		Expect(signed.Status).To(Equal("success"))
		Expect(signed.Token).NotTo(BeEmpty())
		Expect(signed.Data.User.Role).To(Equal("user"))

		status, login := call(http.MethodPost, "/api/v1/users/login", "", map[string]string{
			"email": "jonas@example.com", "password": "pass1234",
		})
		Expect(status).To(Equal(http.StatusOK))

		status, me := call(http.MethodGet, "/api/v1/users/me", login.Token, nil)
		Expect(status).To(Equal(http.StatusOK))
		Expect(me.Data.User.ID).To(Equal(signed.Data.User.ID))
	})

	It("answers a wrong password with 401", func() {
		signup("jonas@example.com")
		status, out := call(http.MethodPost, "/api/v1/users/login", "", map[string]string{
			"email": "jonas@example.com", "password": "wrong-pass",
		})
		Expect(status).To(Equal(http.StatusUnauthorized))
		Expect(out.Status).To(Equal("fail"))
		Expect(out.Code).To(Equal(auth.CodeInvalidCredentials))
	})

	It("keeps ordinary users away from the user lookup", func() {
		target := signup("target@example.com")
		caller := signup("caller@example.com")

		status, out := call(http.MethodGet, "/api/v1/users/"+target.Data.User.ID, caller.Token, nil)
		Expect(status).To(Equal(http.StatusForbidden))
		Expect(out.Message).To(Equal("You do not have permission to perform this action"))
	})

	It("runs the reset flow once per mailed token", func() {
		signup("jonas@example.com")
		status, _ := call(http.MethodPost, "/api/v1/users/forgotPassword", "", map[string]string{"email": "jonas@example.com"})
		Expect(status).To(Equal(http.StatusOK))

		msg, ok := mailer.Last()
		Expect(ok).To(BeTrue())
		Expect(msg.Subject).To(ContainSubstring("10 minutes"))
		prefix := cfg.AppBaseURL + auth.ResetPath
		Expect(msg.Body).To(ContainSubstring(prefix))
		start := strings.Index(msg.Body, prefix) + len(prefix)
		raw := msg.Body[start : start+2*auth.ResetTokenBytes]

		body := map[string]string{"password": "newpass123", "passwordConfirm": "newpass123"}
		status, reset := call(http.MethodPatch, "/api/v1/users/resetPassword/"+raw, "", body)
		Expect(status).To(Equal(http.StatusOK))
		Expect(reset.Token).NotTo(BeEmpty())

		status, again := call(http.MethodPatch, "/api/v1/users/resetPassword/"+raw, "", body)
		Expect(status).To(Equal(http.StatusBadRequest))
		Expect(again.Code).To(Equal(auth.CodeInvalidOrExpiredToken))
	})

	It("reports a failed delivery and leaves no usable token", func() {
		signup("jonas@example.com")
		mailer.FailWith(errors.New("relay unavailable"))

		status, out := call(http.MethodPost, "/api/v1/users/forgotPassword", "", map[string]string{"email": "jonas@example.com"})
		Expect(status).To(Equal(http.StatusInternalServerError))
		Expect(out.Status).To(Equal("error"))
		Expect(out.Code).To(Equal(auth.CodeDeliveryFailed))

		attempted := mailer.Attempted()
		Expect(attempted).To(HaveLen(1))
		prefix := cfg.AppBaseURL + auth.ResetPath
		start := strings.Index(attempted[0].Body, prefix) + len(prefix)
		raw := attempted[0].Body[start : start+2*auth.ResetTokenBytes]

		status, _ = call(http.MethodPatch, "/api/v1/users/resetPassword/"+raw, "", map[string]string{
			"password": "newpass123", "passwordConfirm": "newpass123",
		})
		Expect(status).To(Equal(http.StatusBadRequest))
	})

	It("exposes health and metrics", func() {
		signup("jonas@example.com")

		status, health := call(http.MethodGet, "/health", "", nil)
		Expect(status).To(Equal(http.StatusOK))
		Expect(health.Status).To(Equal("success"))

		resp, err := ts.Client().Get(ts.URL + "/metrics")
		Expect(err).NotTo(HaveOccurred())
		defer resp.Body.Close()
		text, err := io.ReadAll(resp.Body)
		Expect(err).NotTo(HaveOccurred())
		Expect(string(text)).To(ContainSubstring(`tours_auth_flows_total{flow="signup",outcome="success"} 1`))
		Expect(string(text)).To(ContainSubstring("tours_http_requests_total"))
	})

	It("answers CORS preflight requests", func() {
		req, err := http.NewRequest(http.MethodOptions, ts.URL+"/api/v1/users/login", nil)
		Expect(err).NotTo(HaveOccurred())
		req.Header.Set("Origin", "https://app.example.com")
		req.Header.Set("Access-Control-Request-Method", http.MethodPost)
		resp, err := ts.Client().Do(req)
		Expect(err).NotTo(HaveOccurred())
		defer resp.Body.Close()
		Expect(resp.StatusCode).To(Equal(http.StatusNoContent))
		Expect(resp.Header.Get("Access-Control-Allow-Origin")).To(Equal("*"))
	})
})
