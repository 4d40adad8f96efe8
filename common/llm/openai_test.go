package llm_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/arqady01/chatllm/common/llm"
)

const completionBody = `{
	"id": "chatcmpl-1",
	"object": "chat.completion",
	"created": 1,
	"model": "gpt-3.5-turbo",
	"choices": [{"index": 0, "message": {"role": "assistant", "content": %q}, "finish_reason": "stop"}],
	"usage": {"prompt_tokens": 3, "completion_tokens": 2, "total_tokens": 5}
}`

func writeJSON(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = io.WriteString(w, body)
}

var _ = Describe("Completer", func() {
	var (
		ctx      context.Context
		server   *httptest.Server
		handler  http.HandlerFunc
		requests atomic.Int32
		creds    llm.Credentials
	)

	BeforeEach(func() {
		ctx = context.Background()
		requests.Store(0)
		handler = nil
		server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			requests.Add(1)
			handler(w, r)
		}))
		DeferCleanup(server.Close)
		creds = llm.Credentials{APIKey: "sk-test", BaseURL: server.URL + "/v1"}
	})

	newCompleter := func() llm.Completer {
		return llm.NewCompleter(func() llm.Credentials { return creds }, llm.ClientConfig{Timeout: 2 * time.Second})
	}

	Describe("Complete", func() {
		It("posts the messages with model, temperature and max tokens", func() {
			var body map[string]any
			var path, auth string
			handler = func(w http.ResponseWriter, r *http.Request) {
				path = r.URL.Path
				auth = r.Header.Get("Authorization")
				_ = json.NewDecoder(r.Body).Decode(&body)
				writeJSON(w, http.StatusOK, sprintf(completionBody, "hello back"))
			}

			out, err := newCompleter().Complete(ctx, []llm.Message{
				llm.TextMessage("user", "hi"),
				llm.TextMessage("assistant", "hello"),
				llm.PartsMessage("user", llm.TextPart("look"), llm.ImageURLPart("data:image/jpeg;base64,AAAA")),
			}, llm.CompleteOptions{Model: "gpt-4o-mini", Temperature: 0.3})

			Expect(err).NotTo(HaveOccurred())
			Expect(out).To(Equal("hello back"))
			Expect(path).To(Equal("/v1/chat/completions"))
			Expect(auth).To(Equal("Bearer sk-test"))
			Expect(body["model"]).To(Equal("gpt-4o-mini"))
			Expect(body["temperature"]).To(BeNumerically("~", 0.3))
			Expect(body["max_tokens"]).To(BeNumerically("==", 1000))

			msgs := body["messages"].([]any)
			Expect(msgs).To(HaveLen(3))
			last := msgs[2].(map[string]any)
			parts := last["content"].([]any)
			Expect(parts).To(HaveLen(2))
			Expect(parts[0].(map[string]any)["type"]).To(Equal("text"))
			Expect(parts[1].(map[string]any)["image_url"].(map[string]any)["url"]).To(Equal("data:image/jpeg;base64,AAAA"))
		})

		It("reads credentials on every call", func() {
			handler = func(w http.ResponseWriter, r *http.Request) {
				writeJSON(w, http.StatusOK, sprintf(completionBody, r.Header.Get("Authorization")))
			}
			c := newCompleter()

			out, err := c.Complete(ctx, []llm.Message{llm.TextMessage("user", "hi")}, llm.CompleteOptions{Model: "m"})
			Expect(err).NotTo(HaveOccurred())
			Expect(out).To(Equal("Bearer sk-test"))

			creds.APIKey = "sk-rotated"
			out, err = c.Complete(ctx, []llm.Message{llm.TextMessage("user", "hi")}, llm.CompleteOptions{Model: "m"})
			Expect(err).NotTo(HaveOccurred())
			Expect(out).To(Equal("Bearer sk-rotated"))
		})

		It("sends forced endpoints verbatim", func() {
			var path string
			handler = func(w http.ResponseWriter, r *http.Request) {
				path = r.URL.Path
				writeJSON(w, http.StatusOK, sprintf(completionBody, "ok"))
			}
			creds.BaseURL = server.URL + "/proxy/custom-chat#"

			_, err := newCompleter().Complete(ctx, []llm.Message{llm.TextMessage("user", "hi")}, llm.CompleteOptions{Model: "m"})
			Expect(err).NotTo(HaveOccurred())
			Expect(path).To(Equal("/proxy/custom-chat"))
		})

		It("treats whitespace content as an empty response", func() {
			handler = func(w http.ResponseWriter, r *http.Request) {
				writeJSON(w, http.StatusOK, sprintf(completionBody, "  \n "))
			}

			_, err := newCompleter().Complete(ctx, []llm.Message{llm.TextMessage("user", "hi")}, llm.CompleteOptions{Model: "m"})
			Expect(err).To(MatchError(llm.ErrEmptyResponse))
		})

		It("treats a response without choices as empty", func() {
			handler = func(w http.ResponseWriter, r *http.Request) {
				writeJSON(w, http.StatusOK, `{"id":"x","object":"chat.completion","created":1,"model":"m","choices":[]}`)
			}

			_, err := newCompleter().Complete(ctx, []llm.Message{llm.TextMessage("user", "hi")}, llm.CompleteOptions{Model: "m"})
			Expect(err).To(MatchError(llm.ErrEmptyResponse))
		})

		It("reports server errors as transport failures without retrying", func() {
			handler = func(w http.ResponseWriter, r *http.Request) {
				writeJSON(w, http.StatusInternalServerError, `{"error":{"message":"boom","type":"server_error"}}`)
			}

			_, err := newCompleter().Complete(ctx, []llm.Message{llm.TextMessage("user", "hi")}, llm.CompleteOptions{Model: "m"})
			Expect(err).To(MatchError(llm.ErrTransport))
			Expect(requests.Load()).To(Equal(int32(1)))
		})

		It("times out as a transport failure", func() {
			handler = func(w http.ResponseWriter, r *http.Request) {
				select {
				case <-r.Context().Done():
				case <-time.After(2 * time.Second):
				}
			}
			c := llm.NewCompleter(func() llm.Credentials { return creds }, llm.ClientConfig{Timeout: 50 * time.Millisecond})

			_, err := c.Complete(ctx, []llm.Message{llm.TextMessage("user", "hi")}, llm.CompleteOptions{Model: "m"})
			Expect(err).To(MatchError(llm.ErrTransport))
		})

		It("refuses to run without credentials", func() {
			creds = llm.Credentials{}

			_, err := newCompleter().Complete(ctx, []llm.Message{llm.TextMessage("user", "hi")}, llm.CompleteOptions{Model: "m"})
			Expect(err).To(MatchError(llm.ErrMissingCredentials))
			Expect(requests.Load()).To(BeZero())
		})
	})

	Describe("ListModels", func() {
		It("drops non-chat models and sorts by id", func() {
			var path string
			handler = func(w http.ResponseWriter, r *http.Request) {
				path = r.URL.Path
				writeJSON(w, http.StatusOK, `{"object":"list","data":[
					{"id":"gpt-4o","object":"model","owned_by":"openai"},
					{"id":"text-embedding-3-small","object":"model"},
					{"id":"whisper-1","object":"model"},
					{"id":"claude-3","object":"model"},
					{"id":"DALL-E-3","object":"model"},
					{"id":"omni-moderation-latest","object":"model"}
				]}`)
			}

			models, err := newCompleter().ListModels(ctx)
			Expect(err).NotTo(HaveOccurred())
			ids := make([]string, len(models))
			for i, m := range models {
				ids[i] = m.ID
			}
			Expect(path).To(Equal("/v1/models"))
			Expect(ids).To(Equal([]string{"claude-3", "gpt-4o"}))
			Expect(models[1].OwnedBy).To(Equal("openai"))
		})

		It("rejects a body without a data array", func() {
			handler = func(w http.ResponseWriter, r *http.Request) {
				writeJSON(w, http.StatusOK, `{"object":"list"}`)
			}

			_, err := newCompleter().ListModels(ctx)
			Expect(err).To(MatchError(ContainSubstring("invalid response format")))
		})
	})

	Describe("TestConnection", func() {
		It("sends a greeting", func() {
			var content string
			handler = func(w http.ResponseWriter, r *http.Request) {
				var body struct {
					Messages []struct {
						Content string `json:"content"`
					} `json:"messages"`
				}
				_ = json.NewDecoder(r.Body).Decode(&body)
				if len(body.Messages) > 0 {
					content = body.Messages[0].Content
				}
				writeJSON(w, http.StatusOK, sprintf(completionBody, "hi"))
			}

			Expect(newCompleter().TestConnection(ctx, "m")).To(Succeed())
			Expect(content).To(Equal("Hello"))
		})
	})
})
