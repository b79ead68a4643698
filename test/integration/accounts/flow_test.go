// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

//go:build integration

package accounts_test

import (
	"bufio"
	"context"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/alicebob/miniredis/v2"
	. "github.com/onsi/ginkgo/v2" //nolint:revive // ginkgo convention
	. "github.com/onsi/gomega"    //nolint:revive // gomega convention
	"github.com/redis/go-redis/v9"

	"github.com/holomush/accountd/internal/auth"
	"github.com/holomush/accountd/internal/auth/redisstore"
	"github.com/holomush/accountd/internal/web"
)

type credentials struct {
	Name     string `json:"name,omitempty"`
	Email    string `json:"email"`
	Password string `json:"password,omitempty"`
}

type resetForm struct {
	Password             string `json:"password"`
	PasswordConfirmation string `json:"passwordConfirmation"`
}

var ann = credentials{Name: "Ann", Email: "ann@example.com", Password: "correct horse"}

func register(s *stack, c credentials) auth.Profile {
	code, reply := s.call(http.MethodPost, "/api/v1/auth/register", "", c)
	Expect(code).To(Equal(http.StatusCreated))
	Expect(reply.Message).To(Equal(web.MsgRegistered))
	return decode[auth.Profile](reply.Data)
}

func login(s *stack, email, password string) string {
	code, reply := s.call(http.MethodPost, "/api/v1/auth/login", "", credentials{Email: email, Password: password})
	Expect(code).To(Equal(http.StatusCreated))
	return decode[auth.Session](reply.Data).Token
}

func notificationTitles(s *stack, token string) []string {
	code, reply := s.call(http.MethodGet, "/api/v1/notifications", token, nil)
	Expect(code).To(Equal(http.StatusOK))
	list := decode[[]auth.Notification](reply.Data)
	titles := make([]string, 0, len(list))
	for _, n := range list {
		titles = append(titles, n.Title)
	}
	return titles
}

var _ = Describe("Account lifecycle", func() {
	var s *stack

	BeforeEach(func() {
		resetTables()
		s = newStack(nil)
	})

	It("registers, logs in and authenticates", func() {
		profile := register(s, ann)
		Expect(profile.Name).To(Equal("Ann"))
		Expect(profile.Email).To(Equal(ann.Email))

		token := login(s, ann.Email, ann.Password)
		Expect(token).NotTo(BeEmpty())

		code, reply := s.call(http.MethodGet, "/api/v1/auth/authenticate", token, nil)
		Expect(code).To(Equal(http.StatusOK))
		Expect(decode[auth.Profile](reply.Data)).To(Equal(profile))

		Expect(notificationTitles(s, token)).To(ConsistOf(auth.TitleWelcome, auth.TitleLogin))
	})

	It("rejects a duplicate email", func() {
		register(s, ann)
		code, reply := s.call(http.MethodPost, "/api/v1/auth/register", "", ann)
		Expect(code).To(Equal(http.StatusUnauthorized))
		Expect(reply.Message).To(Equal("Email already used!"))
	})

	It("lets exactly one of many concurrent registrations win", func() {
		const racers = 8
		codes := make(chan int, racers)
		var wg sync.WaitGroup
		for range racers {
			wg.Add(1)
			go func() {
				defer GinkgoRecover()
				defer wg.Done()
				code, _ := s.call(http.MethodPost, "/api/v1/auth/register", "", ann)
				codes <- code
			}()
		}
		wg.Wait()
		close(codes)

		created := 0
		for code := range codes {
			if code == http.StatusCreated {
				created++
				continue
			}
			Expect(code).To(Equal(http.StatusUnauthorized))
		}
		Expect(created).To(Equal(1))

		var count int
		Expect(env.pool.QueryRow(env.ctx, `SELECT count(*) FROM users WHERE email = $1`, ann.Email).Scan(&count)).To(Succeed())
		Expect(count).To(Equal(1))
	})

	It("treats email as case-sensitive", func() {
		register(s, ann)
		upper := ann
		upper.Email = "ANN@example.com"
		register(s, upper)
	})

	It("answers wrong password and unknown email alike", func() {
		register(s, ann)
		wrongCode, wrong := s.call(http.MethodPost, "/api/v1/auth/login", "", credentials{Email: ann.Email, Password: "nope"})
		unknownCode, unknown := s.call(http.MethodPost, "/api/v1/auth/login", "", credentials{Email: "bob@example.com", Password: "nope"})
		Expect(wrongCode).To(Equal(unknownCode))
		Expect(wrong.Message).To(Equal(unknown.Message))
	})

	It("lists users with a search filter", func() {
		register(s, ann)
		register(s, credentials{Name: "Bob", Email: "bob@example.com", Password: "pw"})

		code, reply := s.call(http.MethodGet, "/api/v1/users?search=bob", "", nil)
		Expect(code).To(Equal(http.StatusOK))
		users := decode[[]auth.Profile](reply.Data)
		Expect(users).To(HaveLen(1))
		Expect(users[0].Name).To(Equal("Bob"))

		_, reply = s.call(http.MethodGet, "/api/v1/users", "", nil)
		Expect(decode[[]auth.Profile](reply.Data)).To(HaveLen(2))
	})

	It("resets a password through the emailed link exactly once", func() {
		register(s, ann)

		code, reply := s.call(http.MethodPost, "/api/v1/forget-pass", "", credentials{Email: ann.Email})
		Expect(code).To(Equal(http.StatusOK))
		Expect(reply.Message).To(Equal(web.MsgForgotSent))
		Expect(s.outbox.last().to).To(Equal(ann.Email))
		Expect(s.outbox.last().html).To(ContainSubstring(s.server.URL + "/api/v1/reset-pass?token="))
		token := s.outbox.resetToken()

		form := resetForm{Password: "new secret", PasswordConfirmation: "new secret"}
		code, reply = s.call(http.MethodPost, "/api/v1/reset-pass?token="+token, "", form)
		Expect(code).To(Equal(http.StatusOK))
		Expect(reply.Message).To(Equal(web.MsgPasswordUpdated))

		code, _ = s.call(http.MethodPost, "/api/v1/reset-pass?token="+token, "", form)
		Expect(code).To(Equal(http.StatusForbidden), "a reset token works once")

		code, _ = s.call(http.MethodPost, "/api/v1/auth/login", "", credentials{Email: ann.Email, Password: ann.Password})
		Expect(code).To(Equal(http.StatusBadRequest), "old password no longer works")
		session := login(s, ann.Email, "new secret")
		Expect(notificationTitles(s, session)).To(ContainElement(auth.TitlePasswordChanged))
	})

	It("refuses a session token as a reset token and the reverse", func() {
		register(s, ann)
		session := login(s, ann.Email, ann.Password)

		form := resetForm{Password: "x", PasswordConfirmation: "x"}
		code, _ := s.call(http.MethodPost, "/api/v1/reset-pass?token="+session, "", form)
		Expect(code).To(Equal(http.StatusForbidden))

		_, _ = s.call(http.MethodPost, "/api/v1/forget-pass", "", credentials{Email: ann.Email})
		code, _ = s.call(http.MethodGet, "/api/v1/auth/authenticate", s.outbox.resetToken(), nil)
		Expect(code).To(Equal(http.StatusUnauthorized))
	})

	It("reports an unknown email on forgot password", func() {
		code, _ := s.call(http.MethodPost, "/api/v1/forget-pass", "", credentials{Email: "nobody@example.com"})
		Expect(code).To(Equal(http.StatusNotFound))
	})

	It("streams notifications to the signed-in user", func() {
		register(s, ann)
		token := login(s, ann.Email, ann.Password)

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.server.URL+"/api/v1/notifications/stream", nil)
		Expect(err).NotTo(HaveOccurred())
		req.Header.Set("Authorization", "Bearer "+token)
		resp, err := s.server.Client().Do(req)
		Expect(err).NotTo(HaveOccurred())
		defer func() { _ = resp.Body.Close() }()

		body := bufio.NewReader(resp.Body)
		line, err := body.ReadString('\n')
		Expect(err).NotTo(HaveOccurred())
		Expect(line).To(Equal(": connected\n"))
		_, _ = body.ReadString('\n')

		login(s, ann.Email, ann.Password)

		var frame []string
		for {
			line, err := body.ReadString('\n')
			Expect(err).NotTo(HaveOccurred())
			line = strings.TrimRight(line, "\n")
			if line == "" {
				break
			}
			frame = append(frame, line)
		}
		Expect(frame).To(ContainElement("event: notification"))
		Expect(strings.Join(frame, "\n")).To(ContainSubstring(auth.TitleLogin))
	})
})

var _ = Describe("Redis reset ledger", func() {
	It("enforces single use across API instances", func() {
		resetTables()
		mr := miniredis.RunT(GinkgoT())
		client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
		DeferCleanup(client.Close)

		first := newStack(redisstore.NewResetLedger(client))
		second := newStack(redisstore.NewResetLedger(client))

		register(first, ann)
		_, _ = first.call(http.MethodPost, "/api/v1/forget-pass", "", credentials{Email: ann.Email})
		token := first.outbox.resetToken()

		form := resetForm{Password: "new secret", PasswordConfirmation: "new secret"}
		code, _ := first.call(http.MethodPost, "/api/v1/reset-pass?token="+token, "", form)
		Expect(code).To(Equal(http.StatusOK))

		code, _ = second.call(http.MethodPost, "/api/v1/reset-pass?token="+token, "", form)
		Expect(code).To(Equal(http.StatusForbidden))
	})
})
