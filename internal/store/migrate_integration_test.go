//go:build integration

// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package store_test

import (
	"context"
	"time"

	. "github.com/onsi/ginkgo/v2" //nolint:revive // ginkgo convention
	. "github.com/onsi/gomega"    //nolint:revive // gomega convention
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/holomush/accountd/internal/store"
)

func startPostgres(ctx context.Context) (string, func()) {
	container, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("accountd_test"),
		postgres.WithUsername("accountd"),
		postgres.WithPassword("accountd"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	Expect(err).NotTo(HaveOccurred())

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	Expect(err).NotTo(HaveOccurred())

	return connStr, func() { _ = container.Terminate(ctx) }
}

var _ = Describe("Migrator", func() {
	var (
		ctx      context.Context
		connStr  string
		cleanup  func()
		migrator *store.Migrator
	)

	BeforeEach(func() {
		ctx = context.Background()
		connStr, cleanup = startPostgres(ctx)

		var err error
		migrator, err = store.NewMigrator(connStr)
		Expect(err).NotTo(HaveOccurred())
	})

	AfterEach(func() {
		_ = migrator.Close()
		cleanup()
	})

	It("runs the full up, step and down cycle", func() {
		version, dirty, err := migrator.Version()
		Expect(err).NotTo(HaveOccurred())
		Expect(version).To(BeZero())
		Expect(dirty).To(BeFalse())

		Expect(migrator.Up()).To(Succeed())
		latest, _, err := migrator.Version()
		Expect(err).NotTo(HaveOccurred())
		Expect(latest).To(Equal(uint(3)))

		Expect(migrator.Steps(-1)).To(Succeed())
		version, _, err = migrator.Version()
		Expect(err).NotTo(HaveOccurred())
		Expect(version).To(Equal(latest - 1))

		Expect(migrator.Steps(1)).To(Succeed())
		Expect(migrator.Up()).To(Succeed(), "second Up is a no-op")

		Expect(migrator.Down()).To(Succeed())
		version, _, err = migrator.Version()
		Expect(err).NotTo(HaveOccurred())
		Expect(version).To(BeZero())
	})

	It("enforces the schema constraints the repositories rely on", func() {
		Expect(migrator.Up()).To(Succeed())

		pool, err := store.OpenPool(ctx, connStr, store.PoolConfig{MaxConns: 2})
		Expect(err).NotTo(HaveOccurred())
		defer pool.Close()

		Expect(store.PingCheck(pool)(ctx)).To(Succeed())

		insertUser := `INSERT INTO users (id, name, email, password_hash) VALUES ($1, $2, $3, $4)`
		_, err = pool.Exec(ctx, insertUser, "01J0000000000000000000000A", "Ann", "ann@example.com", "x")
		Expect(err).NotTo(HaveOccurred())

		By("rejecting a second account with the same email")
		_, err = pool.Exec(ctx, insertUser, "01J0000000000000000000000B", "Ann 2", "ann@example.com", "y")
		Expect(err).To(HaveOccurred())

		By("rejecting notifications for unknown users")
		_, err = pool.Exec(ctx,
			`INSERT INTO notifications (id, user_id, title) VALUES ($1, $2, $3)`,
			"01J0000000000000000000000C", "01J00000000000000000000000", "Welcome!")
		Expect(err).To(HaveOccurred())

		By("keeping reset token ids unique")
		insertToken := `INSERT INTO consumed_reset_tokens (jti, expires_at) VALUES ($1, NOW() + interval '1 hour')`
		_, err = pool.Exec(ctx, insertToken, "jti-1")
		Expect(err).NotTo(HaveOccurred())
		_, err = pool.Exec(ctx, insertToken, "jti-1")
		Expect(err).To(HaveOccurred())
	})
})
