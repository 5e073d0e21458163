package redis_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	goredis "github.com/redis/go-redis/v9"

	limiter "github.com/frahmantamala/land-payment/internal/payment/redis"
)

func TestLimiter(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Webhook Limiter Suite")
}

var _ = Describe("WindowLimiter", func() {
	var (
		mr     *miniredis.Miniredis
		client *goredis.Client
		ctx    context.Context
	)

	BeforeEach(func() {
		var err error
		mr, err = miniredis.Run()
		Expect(err).NotTo(HaveOccurred())
		client = goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
		ctx = context.Background()
	})

	AfterEach(func() {
		client.Close()
		mr.Close()
	})

	It("allows hits up to the limit and refuses the rest", func() {
		// Given
		l := limiter.NewWindowLimiter(client, 3, time.Minute)

		// When
		var results []bool
		for i := 0; i < 5; i++ {
			ok, err := l.Allow(ctx, "land_attempt_1_aa")
			Expect(err).NotTo(HaveOccurred())
			results = append(results, ok)
		}

		// Then
		Expect(results).To(Equal([]bool{true, true, true, false, false}))
	})

	It("counts each reference separately", func() {
		l := limiter.NewWindowLimiter(client, 1, time.Minute)

		first, err := l.Allow(ctx, "land_attempt_1_aa")
		Expect(err).NotTo(HaveOccurred())
		other, err := l.Allow(ctx, "land_attempt_1_bb")
		Expect(err).NotTo(HaveOccurred())

		Expect(first).To(BeTrue())
		Expect(other).To(BeTrue())
	})

	It("opens a new window once the old one expires", func() {
		// Given
		l := limiter.NewWindowLimiter(client, 1, time.Minute)
		_, err := l.Allow(ctx, "land_attempt_1_aa")
		Expect(err).NotTo(HaveOccurred())
		blocked, err := l.Allow(ctx, "land_attempt_1_aa")
		Expect(err).NotTo(HaveOccurred())
		Expect(blocked).To(BeFalse())

		// When
		mr.FastForward(61 * time.Second)

		// Then
		ok, err := l.Allow(ctx, "land_attempt_1_aa")
		Expect(err).NotTo(HaveOccurred())
		Expect(ok).To(BeTrue())
	})

	It("sets the window TTL on the first hit", func() {
		l := limiter.NewWindowLimiter(client, 5, 30*time.Second)

		_, err := l.Allow(ctx, "land_attempt_1_aa")
		Expect(err).NotTo(HaveOccurred())

		Expect(mr.TTL("landpay:webhook:land_attempt_1_aa")).To(Equal(30 * time.Second))
	})

	It("reports an error when redis is down", func() {
		down, err := miniredis.Run()
		Expect(err).NotTo(HaveOccurred())
		addr := down.Addr()
		down.Close()
		offline := goredis.NewClient(&goredis.Options{Addr: addr, MaxRetries: -1})
		defer offline.Close()
		l := limiter.NewWindowLimiter(offline, 5, time.Minute)

		_, err = l.Allow(ctx, "land_attempt_1_aa")

		Expect(err).To(MatchError(ContainSubstring("webhook limiter")))
	})
})
