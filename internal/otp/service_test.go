package otp_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/pquerna/otp/totp"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/frahmantamala/land-payment/internal"
	otpmodel "github.com/frahmantamala/land-payment/internal/core/datamodel/otp"
	"github.com/frahmantamala/land-payment/internal/core/datamodel/user"
	"github.com/frahmantamala/land-payment/internal/notification"
	"github.com/frahmantamala/land-payment/internal/otp"
	"github.com/frahmantamala/land-payment/internal/otp/postgres"
)

func TestOTP(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "OTP Suite")
}

type inbox struct {
	messages []notification.Message
	err      error
}

func (i *inbox) Send(ctx context.Context, msg notification.Message) error {
	if i.err != nil {
		return i.err
	}
	i.messages = append(i.messages, msg)
	return nil
}

// snapshotReads serves one stale read of the latest code, as a request that
// loaded it just before a concurrent request recorded more wrong guesses.
type snapshotReads struct {
	otp.RepositoryAPI
	stale *otpmodel.Code
}

func (r *snapshotReads) Latest(ctx context.Context, userID int64) (*otpmodel.Code, error) {
	if r.stale != nil {
		c := r.stale
		r.stale = nil
		return c, nil
	}
	return r.RepositoryAPI.Latest(ctx, userID)
}

func (i *inbox) lastCode() string {
	Expect(i.messages).NotTo(BeEmpty())
	return i.messages[len(i.messages)-1].Data["code"].(string)
}

var _ = Describe("Service", func() {
	var (
		db      *gorm.DB
		ctx     context.Context
		mail    *inbox
		service *otp.Service
		clock   time.Time
		buyer   *user.User
	)

	BeforeEach(func() {
		var err error
		db, err = gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
			NowFunc: func() time.Time { return time.Now().UTC() },
		})
		Expect(err).NotTo(HaveOccurred())
		sqlDB, _ := db.DB()
		sqlDB.SetMaxOpenConns(1)
		Expect(db.AutoMigrate(&otpmodel.Code{})).To(Succeed())

		ctx = context.Background()
		mail = &inbox{}
		clock = time.Date(2026, 5, 4, 9, 0, 0, 0, time.UTC)
		buyer = &user.User{ID: 11, Email: "kemi@example.com", Phone: "+2348000000000", Name: "Kemi"}
		logger := slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
		service = otp.NewService(postgres.NewCodeRepository(db), mail, otp.Config{
			Length:      6,
			TTL:         10 * time.Minute,
			MaxAttempts: 3,
			HashCost:    bcrypt.MinCost,
		}, logger).WithClock(func() time.Time { return clock })
	})

	Describe("Issue", func() {
		It("emails a six digit code and stores only its hash", func() {
			// When
			challenge, err := service.Issue(ctx, buyer, otpmodel.ChannelEmail)

			// Then
			Expect(err).NotTo(HaveOccurred())
			Expect(challenge.Channel).To(Equal(otpmodel.ChannelEmail))
			Expect(challenge.ExpiresAt).To(Equal(clock.Add(10 * time.Minute)))

			Expect(mail.messages).To(HaveLen(1))
			msg := mail.messages[0]
			Expect(msg.To).To(Equal("kemi@example.com"))
			Expect(msg.Template).To(Equal(notification.TemplateVerificationCode))
			Expect(mail.lastCode()).To(MatchRegexp(`^\d{6}$`))

			var stored otpmodel.Code
			Expect(db.First(&stored).Error).NotTo(HaveOccurred())
			Expect(stored.CodeHash).NotTo(BeEmpty())
			Expect(stored.CodeHash).NotTo(Equal(mail.lastCode()))
		})

		It("texts the code on the sms channel", func() {
			_, err := service.Issue(ctx, buyer, otpmodel.ChannelSMS)

			Expect(err).NotTo(HaveOccurred())
			Expect(mail.messages[0].Channel).To(Equal(notification.ChannelSMS))
			Expect(mail.messages[0].To).To(Equal("+2348000000000"))
		})

		It("leaves at most one live code per user", func() {
			// Given
			_, err := service.Issue(ctx, buyer, otpmodel.ChannelEmail)
			Expect(err).NotTo(HaveOccurred())
			first := mail.lastCode()

			// When
			clock = clock.Add(time.Minute)
			_, err = service.Issue(ctx, buyer, otpmodel.ChannelEmail)
			Expect(err).NotTo(HaveOccurred())

			// Then
			var live int64
			Expect(db.Model(&otpmodel.Code{}).
				Where("user_id = ? AND is_used = ? AND expires_at > ?", buyer.ID, false, clock).
				Count(&live).Error).NotTo(HaveOccurred())
			Expect(live).To(Equal(int64(1)))

			if first != mail.lastCode() {
				Expect(service.Verify(ctx, buyer, first)).To(MatchError(internal.ErrOTPMismatch))
			}
		})

		It("refuses the app channel before enrollment", func() {
			_, err := service.Issue(ctx, buyer, otpmodel.ChannelApp)

			Expect(errors.Is(err, internal.ErrOTPNotEnrolled)).To(BeTrue())
		})

		It("refuses an unknown channel", func() {
			_, err := service.Issue(ctx, buyer, "pigeon")

			Expect(errors.Is(err, internal.ErrOTPMethod)).To(BeTrue())
		})

		It("refuses sms when no phone is on file", func() {
			buyer.Phone = ""

			_, err := service.Issue(ctx, buyer, otpmodel.ChannelSMS)

			Expect(errors.Is(err, internal.ErrOTPNoDestination)).To(BeTrue())
		})

		It("reports a delivery failure as unavailable", func() {
			mail.err = errors.New("smtp down")

			_, err := service.Issue(ctx, buyer, otpmodel.ChannelEmail)

			appErr, ok := internal.IsAppError(err)
			Expect(ok).To(BeTrue())
			Expect(appErr.Type).To(Equal(internal.ErrorTypeUnavailable))
		})
	})

	Describe("Verify", func() {
		BeforeEach(func() {
			_, err := service.Issue(ctx, buyer, otpmodel.ChannelEmail)
			Expect(err).NotTo(HaveOccurred())
		})

		It("accepts the issued code exactly once", func() {
			code := mail.lastCode()

			Expect(service.Verify(ctx, buyer, code)).To(Succeed())
			Expect(service.Verify(ctx, buyer, code)).To(MatchError(internal.ErrOTPAlreadyUsed))
		})

		It("reports expiry eleven minutes after issue", func() {
			clock = clock.Add(11 * time.Minute)

			Expect(service.Verify(ctx, buyer, mail.lastCode())).To(MatchError(internal.ErrOTPExpired))
		})

		It("locks the code after the configured number of wrong guesses", func() {
			code := mail.lastCode()
			wrong := "000000"
			if code == wrong {
				wrong = "111111"
			}

			Expect(service.Verify(ctx, buyer, wrong)).To(MatchError(internal.ErrOTPMismatch))
			Expect(service.Verify(ctx, buyer, wrong)).To(MatchError(internal.ErrOTPMismatch))
			Expect(service.Verify(ctx, buyer, wrong)).To(MatchError(internal.ErrOTPAttemptsExceeded))

			// even the right code is refused now
			Expect(service.Verify(ctx, buyer, code)).To(MatchError(internal.ErrOTPAttemptsExceeded))
		})

		It("refuses the right code once a concurrent guess used up the attempts", func() {
			// Given
			repo := postgres.NewCodeRepository(db)
			before, err := repo.Latest(ctx, buyer.ID)
			Expect(err).NotTo(HaveOccurred())
			for i := 0; i < 3; i++ {
				_ = service.Verify(ctx, buyer, "x")
			}
			logger := slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
			racing := otp.NewService(&snapshotReads{RepositoryAPI: repo, stale: before}, mail, otp.Config{
				MaxAttempts: 3,
				HashCost:    bcrypt.MinCost,
			}, logger).WithClock(func() time.Time { return clock })

			// When
			err = racing.Verify(ctx, buyer, mail.lastCode())

			// Then
			Expect(err).To(MatchError(internal.ErrOTPAttemptsExceeded))
			var stored otpmodel.Code
			Expect(db.First(&stored, before.ID).Error).NotTo(HaveOccurred())
			Expect(stored.IsUsed).To(BeFalse())
		})

		It("reports expiry ahead of exhaustion", func() {
			for i := 0; i < 3; i++ {
				_ = service.Verify(ctx, buyer, "x")
			}
			clock = clock.Add(time.Hour)

			Expect(service.Verify(ctx, buyer, mail.lastCode())).To(MatchError(internal.ErrOTPExpired))
		})

		It("reports a missing code", func() {
			stranger := &user.User{ID: 99, Email: "x@example.com"}

			Expect(service.Verify(ctx, stranger, "123456")).To(MatchError(internal.ErrOTPNotFound))
		})
	})

	Describe("authenticator app", func() {
		It("enrolls and verifies a time based code", func() {
			// Given
			enrollment, err := service.Enroll(buyer)
			Expect(err).NotTo(HaveOccurred())
			Expect(enrollment.ProvisioningURI).To(HavePrefix("otpauth://totp/"))
			buyer.TOTPSecret = enrollment.Secret

			challenge, err := service.Issue(ctx, buyer, otpmodel.ChannelApp)
			Expect(err).NotTo(HaveOccurred())
			Expect(challenge.Channel).To(Equal(otpmodel.ChannelApp))
			Expect(mail.messages).To(BeEmpty())

			// When
			code, err := totp.GenerateCode(enrollment.Secret, clock)
			Expect(err).NotTo(HaveOccurred())

			// Then
			Expect(service.Verify(ctx, buyer, code)).To(Succeed())
		})
	})
})
