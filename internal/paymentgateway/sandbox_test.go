package paymentgateway_test

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/shopspring/decimal"

	paymentgatewaytypes "github.com/frahmantamala/land-payment/internal/core/datamodel/paymentgateway"
	"github.com/frahmantamala/land-payment/internal/paymentgateway"
)

var _ = Describe("Sandbox", func() {
	var (
		sandbox  *paymentgateway.Sandbox
		provider *httptest.Server
		receiver *httptest.Server
		client   *paymentgateway.Client

		mu        sync.Mutex
		delivered [][]byte
		sigs      []string
	)

	BeforeEach(func() {
		delivered = nil
		sigs = nil
		receiver = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			body, _ := io.ReadAll(r.Body)
			mu.Lock()
			delivered = append(delivered, body)
			sigs = append(sigs, r.Header.Get(paymentgateway.SignatureHeader))
			mu.Unlock()
			w.WriteHeader(http.StatusOK)
		}))

		sandbox = paymentgateway.NewSandbox(paymentgateway.SandboxConfig{
			SecretKey:   "sk_test",
			WebhookHash: "whsec",
			WebhookURL:  receiver.URL,
			MinDelay:    time.Millisecond,
			MaxDelay:    5 * time.Millisecond,
			MaxWorkers:  2,
			Decide: func(txRef string) bool {
				return !strings.HasSuffix(txRef, "_fail")
			},
		}, quietLogger())
		sandbox.Start()
		provider = httptest.NewServer(sandbox.Routes())
		client = paymentgateway.NewClient(testConfig(provider.URL), quietLogger())
	})

	AfterEach(func() {
		sandbox.Shutdown()
		provider.Close()
		receiver.Close()
	})

	It("settles charges and delivers signed webhooks", func() {
		// Given
		req := validCharge()

		// When
		result, err := client.Initiate(context.Background(), req)

		// Then
		Expect(err).NotTo(HaveOccurred())
		Expect(result.PaymentLink).To(ContainSubstring(req.TxRef))

		Eventually(func() int {
			mu.Lock()
			defer mu.Unlock()
			return len(delivered)
		}, 2*time.Second, 10*time.Millisecond).Should(Equal(1))

		mu.Lock()
		body, sig := delivered[0], sigs[0]
		mu.Unlock()
		Expect(client.ValidateSignature(body, sig)).To(BeTrue())

		event, err := client.ParseWebhook(body)
		Expect(err).NotTo(HaveOccurred())
		Expect(event.Event).To(Equal(paymentgatewaytypes.EventChargeCompleted))

		v, err := client.VerifyByReference(context.Background(), req.TxRef)
		Expect(err).NotTo(HaveOccurred())
		Expect(v.Status).To(Equal(paymentgatewaytypes.ProviderStatusSuccessful))
		Expect(v.Amount.Equal(decimal.NewFromInt(5_000_000))).To(BeTrue())

		byID, err := client.Verify(context.Background(), v.TransactionID)
		Expect(err).NotTo(HaveOccurred())
		Expect(byID.TxRef).To(Equal(req.TxRef))
	})

	It("reports declined charges as failed", func() {
		// Given
		req := validCharge()
		req.TxRef = "land_attempt_2_fail"

		// When
		_, err := client.Initiate(context.Background(), req)

		// Then
		Expect(err).NotTo(HaveOccurred())
		Eventually(func() paymentgatewaytypes.ProviderStatus {
			v, err := client.VerifyByReference(context.Background(), req.TxRef)
			if err != nil {
				return ""
			}
			return v.Status
		}, 2*time.Second, 10*time.Millisecond).Should(Equal(paymentgatewaytypes.ProviderStatusFailed))
	})

	It("rejects duplicate tx references", func() {
		// Given
		req := validCharge()
		_, err := client.Initiate(context.Background(), req)
		Expect(err).NotTo(HaveOccurred())

		// When
		_, err = client.Initiate(context.Background(), req)

		// Then
		Expect(err).To(HaveOccurred())
	})
})
