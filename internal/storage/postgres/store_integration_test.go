//go:build integration

package postgres_test

import (
	"context"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/hongminglow/tours-be/internal/models"
	"github.com/hongminglow/tours-be/internal/storage"
	"github.com/hongminglow/tours-be/internal/storage/postgres"
)

var _ = Describe("Store", Ordered, func() {
	var (
		container *tcpostgres.PostgresContainer
		store     *postgres.Store
		ctx       context.Context
	)

	BeforeAll(func() {
		ctx = context.Background()
		var err error
		container, err = tcpostgres.Run(ctx,
			"postgres:16-alpine",
			tcpostgres.WithDatabase("tours_test"),
			tcpostgres.WithUsername("tours"),
			tcpostgres.WithPassword("tours"),
			testcontainers.WithWaitStrategy(
				wait.ForLog("database system is ready to accept connections").
					WithOccurrence(2).
					WithStartupTimeout(30*time.Second),
			),
		)
		Expect(err).NotTo(HaveOccurred())

		connStr, err := container.ConnectionString(ctx, "sslmode=disable")
		Expect(err).NotTo(HaveOccurred())

		store, err = postgres.NewUserStore(ctx, connStr)
		Expect(err).NotTo(HaveOccurred())

		migrator, err := postgres.NewMigrator(connStr)
		Expect(err).NotTo(HaveOccurred())
		Expect(migrator.Up()).To(Succeed())
		version, dirty, err := migrator.Version()
		Expect(err).NotTo(HaveOccurred())
		Expect(version).To(BeEquivalentTo(1))
		Expect(dirty).To(BeFalse())
		Expect(migrator.Close()).To(Succeed())
	})

	AfterAll(func() {
		if store != nil {
			store.Close()
		}
		if container != nil {
			_ = container.Terminate(ctx)
		}
	})

	newUser := func(email string) *models.User {
		return &models.User{Name: "Jonas", Email: email, Role: models.RoleUser, Active: true, PasswordHash: "$2a$10$hash"}
	}

	It("creates and finds users by normalized email", func() {
		created, err := store.Create(ctx, newUser("Create@Example.com"))
		Expect(err).NotTo(HaveOccurred())
		Expect(created.ID).NotTo(BeEmpty())
		Expect(created.Version).To(BeEquivalentTo(1))

		found, err := store.FindByEmail(ctx, "create@example.com")
		Expect(err).NotTo(HaveOccurred())
		Expect(found.ID).To(Equal(created.ID))
	})

	It("rejects duplicate emails", func() {
		_, err := store.Create(ctx, newUser("dupe@example.com"))
		Expect(err).NotTo(HaveOccurred())
		_, err = store.Create(ctx, newUser("DUPE@example.com"))
		Expect(err).To(MatchError(storage.ErrAlreadyExists))
	})

	It("detects stale versions", func() {
		created, err := store.Create(ctx, newUser("version@example.com"))
		Expect(err).NotTo(HaveOccurred())

		first := created.Clone()
		first.Name = "First"
		_, err = store.SaveFull(ctx, first)
		Expect(err).NotTo(HaveOccurred())

		second := created.Clone()
		second.Name = "Second"
		_, err = store.SaveFull(ctx, second)
		Expect(err).To(MatchError(storage.ErrConflict))
	})

	It("finds reset tokens only inside their window", func() {
		created, err := store.Create(ctx, newUser("reset@example.com"))
		Expect(err).NotTo(HaveOccurred())

		now := time.Now().UTC().Truncate(time.Microsecond)
		expires := now.Add(10 * time.Minute)
		digest := "abc123"
		created.PasswordResetTokenHash = &digest
		created.PasswordResetExpires = &expires
		_, err = store.SavePartial(ctx, created)
		Expect(err).NotTo(HaveOccurred())

		found, err := store.FindByResetToken(ctx, digest, now)
		Expect(err).NotTo(HaveOccurred())
		Expect(found.ID).To(Equal(created.ID))

		_, err = store.FindByResetToken(ctx, digest, expires.Add(time.Second))
		Expect(err).To(MatchError(storage.ErrNotFound))
	})

	It("hides deactivated users", func() {
		created, err := store.Create(ctx, newUser("inactive@example.com"))
		Expect(err).NotTo(HaveOccurred())
		Expect(store.Deactivate(ctx, created.ID)).To(Succeed())

		_, err = store.FindByID(ctx, created.ID)
		Expect(err).To(MatchError(storage.ErrNotFound))
	})
})
