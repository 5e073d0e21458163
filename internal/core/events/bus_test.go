package events_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/frahmantamala/land-payment/internal/core/events"
)

func TestEvents(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Event Bus Suite")
}

var _ = Describe("EventBus", func() {
	var (
		bus   *events.EventBus
		event *events.PaymentSettledEvent
	)

	BeforeEach(func() {
		bus = events.NewEventBus(slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError})))
		event = events.NewPaymentSettledEvent(1, "LAND-PAY-20260301115900-ABCDEF", 5, "land_attempt_1_aa", "completed", "250000", "NGN", "")
	})

	It("runs every handler in the background and waits for them", func() {
		// Given
		var calls int32
		for i := 0; i < 3; i++ {
			bus.Subscribe(events.EventTypePaymentSettled, func(ctx context.Context, e events.Event) error {
				atomic.AddInt32(&calls, 1)
				return nil
			})
		}

		// When
		Expect(bus.Publish(context.Background(), event)).To(Succeed())
		bus.Wait()

		// Then
		Expect(atomic.LoadInt32(&calls)).To(Equal(int32(3)))
	})

	It("keeps handlers running after the publisher's context is cancelled", func() {
		var handlerErr error
		bus.Subscribe(events.EventTypePaymentSettled, func(ctx context.Context, e events.Event) error {
			handlerErr = ctx.Err()
			return nil
		})
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		Expect(bus.Publish(ctx, event)).To(Succeed())
		bus.Wait()

		Expect(handlerErr).NotTo(HaveOccurred())
	})

	It("runs the remaining handlers synchronously when one fails", func() {
		// Given
		var order []string
		bus.Subscribe(events.EventTypePaymentSettled, func(ctx context.Context, e events.Event) error {
			order = append(order, "first")
			return errors.New("queue down")
		})
		bus.Subscribe(events.EventTypePaymentSettled, func(ctx context.Context, e events.Event) error {
			order = append(order, "second")
			return nil
		})

		// When
		err := bus.PublishSync(context.Background(), event)

		// Then
		Expect(err).To(MatchError(ContainSubstring("queue down")))
		Expect(order).To(Equal([]string{"first", "second"}))
	})

	It("ignores events nobody listens to", func() {
		Expect(bus.PublishSync(context.Background(), event)).To(Succeed())
		Expect(bus.Publish(context.Background(), event)).To(Succeed())
	})
})
