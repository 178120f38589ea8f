package apiclient_test

import (
	"net/http"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	apiclient "github.com/JohnPlummer/jp-go-apiclient"
)

var _ = Describe("Classify", func() {
	var header http.Header

	BeforeEach(func() {
		header = http.Header{}
	})

	Describe("200 responses", func() {
		It("returns Success with parsed JSON when parsing is requested", func() {
			body := []byte(`{"echo":"ok"}`)
			outcome := apiclient.Classify(200, header, body, int64(len(body)), int64(len(body)), true)

			success, ok := outcome.(apiclient.Success)
			Expect(ok).To(BeTrue())
			Expect(string(success.JSON)).To(MatchJSON(`{"echo":"ok"}`))
			Expect(success.Body).To(Equal(body))
		})

		It("returns Success with raw bytes when parsing is not requested", func() {
			body := []byte("plain text, not json")
			outcome := apiclient.Classify(200, header, body, int64(len(body)), int64(len(body)), false)

			success, ok := outcome.(apiclient.Success)
			Expect(ok).To(BeTrue())
			Expect(success.Body).To(Equal(body))
			Expect(success.JSON).To(BeNil())
		})

		It("captures the request ID from the response header", func() {
			header.Set("X-Request-ID", "req-1234")
			body := []byte(`{}`)
			outcome := apiclient.Classify(200, header, body, int64(len(body)), int64(len(body)), true)

			success, ok := outcome.(apiclient.Success)
			Expect(ok).To(BeTrue())
			Expect(success.RequestID).To(Equal("req-1234"))
		})

		It("classifies a content length mismatch as a transport failure", func() {
			body := []byte(`{"truncat`)
			outcome := apiclient.Classify(200, header, body, 100, int64(len(body)), true)

			failure, ok := outcome.(apiclient.TransportFailure)
			Expect(ok).To(BeTrue())
			Expect(failure.Reason).To(ContainSubstring("content length mismatch"))
		})

		It("classifies an unparseable streamed body as a transport failure", func() {
			body := []byte(`{"truncat`)
			outcome := apiclient.Classify(200, header, body, -1, int64(len(body)), true)

			failure, ok := outcome.(apiclient.TransportFailure)
			Expect(ok).To(BeTrue())
			Expect(failure.Reason).To(ContainSubstring("unparseable streamed response"))
		})

		It("classifies a complete but unparseable body as malformed", func() {
			body := []byte(`{"broken`)
			outcome := apiclient.Classify(200, header, body, int64(len(body)), int64(len(body)), true)

			malformed, ok := outcome.(apiclient.MalformedPayload)
			Expect(ok).To(BeTrue())
			Expect(malformed.Cause).To(HaveOccurred())
		})

		It("does not check parseability when parsing is not requested", func() {
			body := []byte(`{"broken`)
			outcome := apiclient.Classify(200, header, body, int64(len(body)), int64(len(body)), false)

			Expect(outcome).To(BeAssignableToTypeOf(apiclient.Success{}))
		})
	})

	Describe("4xx responses", func() {
		It("extracts the structured error envelope", func() {
			body := []byte(`{"error":{"type":"InvalidInput","message":"bad field"}}`)
			outcome := apiclient.Classify(400, header, body, int64(len(body)), int64(len(body)), true)

			failure, ok := outcome.(apiclient.ClientFailure)
			Expect(ok).To(BeTrue())
			Expect(failure.Status).To(Equal(400))
			Expect(failure.ErrType).To(Equal("InvalidInput"))
			Expect(failure.Message).To(Equal("bad field"))
		})

		It("falls back to the raw body when no envelope is present", func() {
			body := []byte("permission denied\n")
			outcome := apiclient.Classify(403, header, body, int64(len(body)), int64(len(body)), true)

			failure, ok := outcome.(apiclient.ClientFailure)
			Expect(ok).To(BeTrue())
			Expect(failure.ErrType).To(BeEmpty())
			Expect(failure.Message).To(Equal("permission denied"))
		})

		It("classifies every 4xx status the same way", func() {
			for _, status := range []int{400, 401, 404, 409, 422, 429, 499} {
				outcome := apiclient.Classify(status, header, nil, 0, 0, true)
				Expect(outcome).To(BeAssignableToTypeOf(apiclient.ClientFailure{}), "status %d", status)
			}
		})
	})

	Describe("503 responses", func() {
		It("reads the Retry-After header", func() {
			header.Set("Retry-After", "2")
			outcome := apiclient.Classify(503, header, nil, 0, 0, true)

			throttled, ok := outcome.(apiclient.Throttled)
			Expect(ok).To(BeTrue())
			Expect(throttled.RetryAfter).To(Equal(2 * time.Second))
		})

		It("defaults to 60 seconds when the header is missing", func() {
			outcome := apiclient.Classify(503, header, nil, 0, 0, true)

			throttled, ok := outcome.(apiclient.Throttled)
			Expect(ok).To(BeTrue())
			Expect(throttled.RetryAfter).To(Equal(apiclient.DefaultRetryAfter))
		})

		It("defaults to 60 seconds when the header is unparseable", func() {
			for _, value := range []string{"soon", "1.5", "-3", "Tue, 29 Aug 2028 09:00:00 GMT"} {
				header.Set("Retry-After", value)
				outcome := apiclient.Classify(503, header, nil, 0, 0, true)

				throttled, ok := outcome.(apiclient.Throttled)
				Expect(ok).To(BeTrue(), "Retry-After %q", value)
				Expect(throttled.RetryAfter).To(Equal(apiclient.DefaultRetryAfter), "Retry-After %q", value)
			}
		})
	})

	Describe("5xx responses", func() {
		It("classifies non-503 server errors as ServerFailure", func() {
			for _, status := range []int{500, 501, 502, 504, 599} {
				outcome := apiclient.Classify(status, header, nil, 0, 0, true)

				failure, ok := outcome.(apiclient.ServerFailure)
				Expect(ok).To(BeTrue(), "status %d", status)
				Expect(failure.Status).To(Equal(status))
			}
		})
	})

	Describe("statuses outside the platform contract", func() {
		It("treats them as terminal client failures", func() {
			for _, status := range []int{201, 204, 301, 302} {
				outcome := apiclient.Classify(status, header, nil, 0, 0, true)

				failure, ok := outcome.(apiclient.ClientFailure)
				Expect(ok).To(BeTrue(), "status %d", status)
				Expect(failure.Message).To(ContainSubstring("unexpected response status"))
			}
		})
	})

	Describe("purity", func() {
		It("yields identical outcomes for identical inputs", func() {
			header.Set("Retry-After", "5")
			header.Set("X-Request-ID", "req-42")
			body := []byte(`{"error":{"type":"Throttle","message":"slow down"}}`)

			first := apiclient.Classify(429, header, body, int64(len(body)), int64(len(body)), true)
			second := apiclient.Classify(429, header, body, int64(len(body)), int64(len(body)), true)
			Expect(first).To(Equal(second))

			third := apiclient.Classify(503, header, nil, 0, 0, false)
			fourth := apiclient.Classify(503, header, nil, 0, 0, false)
			Expect(third).To(Equal(fourth))
		})
	})
})
