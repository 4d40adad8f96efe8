package llm_test

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/arqady01/chatllm/common/llm"
)

func sprintf(format string, args ...any) string {
	return fmt.Sprintf(format, args...)
}

var _ = Describe("Resolver", func() {
	var (
		ctx      context.Context
		server   *httptest.Server
		handler  http.HandlerFunc
		resolver *llm.Resolver
	)

	BeforeEach(func() {
		ctx = context.Background()
		server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			handler(w, r)
		}))
		DeferCleanup(server.Close)
		resolver = llm.NewResolver(time.Second)
	})

	Context("in normal mode", func() {
		It("returns the first candidate serving a model list", func() {
			var probed []string
			handler = func(w http.ResponseWriter, r *http.Request) {
				probed = append(probed, r.URL.Path)
				if r.URL.Path == "/api/v1/models" {
					writeJSON(w, http.StatusOK, `{"object":"list","data":[{"id":"m"}]}`)
					return
				}
				http.NotFound(w, r)
			}

			res, err := resolver.Resolve(ctx, server.URL+"/", "sk-test")
			Expect(err).NotTo(HaveOccurred())
			Expect(res.Valid).To(BeTrue())
			Expect(res.Forced).To(BeFalse())
			Expect(res.BaseURL).To(Equal(server.URL + "/api/v1"))
			Expect(res.Detected).To(Equal([]string{server.URL + "/api/v1"}))
			Expect(res.ErrorDetails).To(BeEmpty())
			Expect(probed).To(Equal([]string{
				"/v1/models", "/models", "/api/v1/models", "/openai/v1/models", "/v1/openai/models",
			}))
		})

		It("collects every valid candidate", func() {
			handler = func(w http.ResponseWriter, r *http.Request) {
				switch r.URL.Path {
				case "/v1/models", "/models":
					writeJSON(w, http.StatusOK, `{"data":[]}`)
				default:
					http.NotFound(w, r)
				}
			}

			res, err := resolver.Resolve(ctx, server.URL, "sk-test")
			Expect(err).NotTo(HaveOccurred())
			Expect(res.Detected).To(Equal([]string{server.URL + "/v1", server.URL}))
			Expect(res.BaseURL).To(Equal(server.URL + "/v1"))
		})

		It("rejects responses without a data array", func() {
			handler = func(w http.ResponseWriter, r *http.Request) {
				writeJSON(w, http.StatusOK, `{"models":[]}`)
			}

			res, err := resolver.Resolve(ctx, server.URL, "sk-test")
			Expect(err).NotTo(HaveOccurred())
			Expect(res.Valid).To(BeFalse())
			Expect(res.BaseURL).To(Equal(server.URL))
			Expect(res.ErrorDetails).To(ContainSubstring("invalid response format"))
		})

		It("reports the last HTTP error when nothing matches", func() {
			handler = func(w http.ResponseWriter, r *http.Request) {
				writeJSON(w, http.StatusUnauthorized, `{"error":{"message":"bad key","type":"invalid_request_error"}}`)
			}

			res, err := resolver.Resolve(ctx, server.URL, "sk-test")
			Expect(err).NotTo(HaveOccurred())
			Expect(res.Valid).To(BeFalse())
			Expect(res.Detected).To(BeEmpty())
			Expect(res.ErrorDetails).To(ContainSubstring("HTTP 401"))
		})

		It("treats a slow candidate as failed", func() {
			handler = func(w http.ResponseWriter, r *http.Request) {
				select {
				case <-r.Context().Done():
				case <-time.After(2 * time.Second):
				}
			}
			resolver = llm.NewResolver(50 * time.Millisecond)

			res, err := resolver.Resolve(ctx, server.URL, "sk-test")
			Expect(err).NotTo(HaveOccurred())
			Expect(res.Valid).To(BeFalse())
			Expect(res.ErrorDetails).NotTo(BeEmpty())
		})
	})

	Context("in forced mode", func() {
		It("posts to the endpoint verbatim and accepts auth failures", func() {
			var method, path string
			handler = func(w http.ResponseWriter, r *http.Request) {
				method, path = r.Method, r.URL.Path
				writeJSON(w, http.StatusUnauthorized, `{"error":{"message":"bad key"}}`)
			}

			res, err := resolver.Resolve(ctx, server.URL+"/custom/chat#", "sk-test")
			Expect(err).NotTo(HaveOccurred())
			Expect(method).To(Equal(http.MethodPost))
			Expect(path).To(Equal("/custom/chat"))
			Expect(res.Forced).To(BeTrue())
			Expect(res.Valid).To(BeTrue())
			Expect(res.BaseURL).To(Equal(server.URL + "/custom/chat"))
			Expect(res.ConfigValue()).To(Equal(server.URL + "/custom/chat#"))
		})

		DescribeTable("rejects endpoints that do not exist",
			func(status int) {
				handler = func(w http.ResponseWriter, r *http.Request) {
					writeJSON(w, status, `{"error":{"message":"nope"}}`)
				}

				res, err := resolver.Resolve(ctx, server.URL+"/missing#", "sk-test")
				Expect(err).NotTo(HaveOccurred())
				Expect(res.Valid).To(BeFalse())
				Expect(res.Detected).To(BeEmpty())
				Expect(res.ErrorDetails).To(ContainSubstring(fmt.Sprintf("HTTP %d", status)))
			},
			Entry("404", http.StatusNotFound),
			Entry("405", http.StatusMethodNotAllowed),
			Entry("501", http.StatusNotImplemented),
		)
	})

	Context("with bad input", func() {
		It("requires an API key", func() {
			_, err := resolver.Resolve(ctx, "https://api.example.com", " ")
			Expect(err).To(MatchError(ContainSubstring("API key is required")))
		})

		It("requires a URL with a scheme", func() {
			_, err := resolver.Resolve(ctx, "api.example.com", "sk-test")
			Expect(err).To(MatchError(llm.ErrInvalidURL))
		})

		It("validates forced URLs too", func() {
			_, err := resolver.Resolve(ctx, "not a url#", "sk-test")
			Expect(err).To(MatchError(llm.ErrInvalidURL))
		})
	})
})
