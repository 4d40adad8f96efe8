package service_test

import (
	"context"
	"fmt"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/arqady01/chatllm/common/id"
	"github.com/arqady01/chatllm/common/llm"
	"github.com/arqady01/chatllm/internal/model"
	"github.com/arqady01/chatllm/internal/service"
)

var epoch = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

// clock returns a Now func that advances one second per call.
func clock() func() time.Time {
	var mu sync.Mutex
	t := epoch
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		t = t.Add(time.Second)
		return t
	}
}

func configured() *model.ChatConfig {
	return &model.ChatConfig{
		APIKey:  "sk-test",
		BaseURL: "https://api.example.com/v1",
		Model:   "gpt-4o-mini",
	}
}

var _ = Describe("ChatService", func() {
	var (
		ctx       context.Context
		store     *mockChatStore
		completer *mockCompleter
		svc       service.ChatService
		conv      *model.Conversation
	)

	newService := func() service.ChatService {
		s := service.NewChatService(store, completer, &mockResolver{}, service.ChatOptions{
			MaxTokens: 500,
			Now:       clock(),
		})
		s.Load(ctx)
		return s
	}

	BeforeEach(func() {
		ctx = context.Background()
		Expect(id.Init(1)).To(Succeed())

		store = &mockChatStore{config: configured()}
		completer = &mockCompleter{}
		svc = newService()

		var err error
		conv, err = svc.CreateConversation(ctx, "General", "")
		Expect(err).NotTo(HaveOccurred())
	})

	Describe("SendTurn", func() {
		It("sends the turn and records the reply", func() {
			completer.completeFn = func(_ context.Context, _ []llm.Message, _ llm.CompleteOptions) (string, error) {
				return "Hi there", nil
			}

			reply, err := svc.SendTurn(ctx, conv.ID, service.Turn{Text: "Hello"})

			Expect(err).NotTo(HaveOccurred())
			Expect(reply.Role).To(Equal(model.RoleAssistant))
			Expect(reply.Content).To(Equal("Hi there"))
			Expect(texts(completer.lastCall().messages)).To(Equal([]string{"Hello"}))

			msgs := svc.Messages(conv.ID)
			Expect(msgs).To(HaveLen(2))
			Expect(msgs[0].Content).To(Equal("Hello"))
			Expect(msgs[1].ID).To(Equal(reply.ID))
			Expect(store.savedMessages()).To(Equal(msgs))
			Expect(svc.IsLoading(conv.ID)).To(BeFalse())
			Expect(svc.LastError()).NotTo(HaveOccurred())
		})

		It("includes the whole prior conversation when unlimited", func() {
			for _, text := range []string{"one", "two"} {
				_, err := svc.SendTurn(ctx, conv.ID, service.Turn{Text: text})
				Expect(err).NotTo(HaveOccurred())
			}

			_, err := svc.SendTurn(ctx, conv.ID, service.Turn{Text: "three"})
			Expect(err).NotTo(HaveOccurred())
			Expect(texts(completer.lastCall().messages)).To(Equal([]string{"one", "ok", "two", "ok", "three"}))
		})

		It("forwards model, temperature and max tokens", func() {
			_, err := svc.UpdateConversationSettings(ctx, conv.ID, service.ConversationSettings{
				Temperature: ptr(0.2),
			})
			Expect(err).NotTo(HaveOccurred())

			_, err = svc.SendTurn(ctx, conv.ID, service.Turn{Text: "Hello"})
			Expect(err).NotTo(HaveOccurred())

			opts := completer.lastCall().opts
			Expect(opts.Model).To(Equal("gpt-4o-mini"))
			Expect(opts.Temperature).To(Equal(0.2))
			Expect(opts.MaxTokens).To(Equal(500))
		})

		It("uses the default temperature when none is set", func() {
			_, err := svc.SendTurn(ctx, conv.ID, service.Turn{Text: "Hello"})
			Expect(err).NotTo(HaveOccurred())
			Expect(completer.lastCall().opts.Temperature).To(Equal(model.DefaultTemperature))
		})

		It("sends images as data URL parts after the text", func() {
			_, err := svc.SendTurn(ctx, conv.ID, service.Turn{
				Text:     "What is this?",
				Image:    &model.ImagePayload{Data: "aGVsbG8=", MimeType: "image/png"},
				ImageRef: "cat.png",
			})
			Expect(err).NotTo(HaveOccurred())

			sent := completer.lastCall().messages
			Expect(sent).To(HaveLen(1))
			Expect(sent[0].Parts).To(Equal([]llm.ContentPart{
				llm.TextPart("What is this?"),
				llm.ImageURLPart("data:image/png;base64,aGVsbG8="),
			}))
			Expect(svc.Messages(conv.ID)[0].ImageRef).To(Equal("cat.png"))
		})

		It("accepts an image-only turn", func() {
			_, err := svc.SendTurn(ctx, conv.ID, service.Turn{
				Image: &model.ImagePayload{Data: "aGVsbG8="},
			})
			Expect(err).NotTo(HaveOccurred())
			Expect(completer.lastCall().messages[0].Parts).To(Equal([]llm.ContentPart{
				llm.ImageURLPart("data:image/jpeg;base64,aGVsbG8="),
			}))
		})

		Context("when the turn is empty", func() {
			It("rejects it without touching state", func() {
				_, err := svc.SendTurn(ctx, conv.ID, service.Turn{Text: "   \n"})

				Expect(err).To(MatchError(service.ErrValidation))
				Expect(svc.Messages(conv.ID)).To(BeEmpty())
				Expect(completer.callCount()).To(BeZero())
			})

			It("treats an image with no data as absent", func() {
				_, err := svc.SendTurn(ctx, conv.ID, service.Turn{Image: &model.ImagePayload{}})
				Expect(err).To(MatchError(service.ErrValidation))
			})

			It("treats a whitespace-only image payload as absent", func() {
				_, err := svc.SendTurn(ctx, conv.ID, service.Turn{Image: &model.ImagePayload{Data: " \n\t"}})

				Expect(err).To(MatchError(service.ErrValidation))
				Expect(svc.Messages(conv.ID)).To(BeEmpty())
				Expect(completer.callCount()).To(BeZero())
			})
		})

		It("rejects unknown conversations", func() {
			_, err := svc.SendTurn(ctx, 42, service.Turn{Text: "Hello"})
			Expect(err).To(MatchError(service.ErrConversationNotFound))
		})

		Context("when credentials are missing", func() {
			BeforeEach(func() {
				Expect(svc.UpdateConfig(ctx, model.ChatConfig{BaseURL: "https://api.example.com/v1"})).To(Succeed())
			})

			It("fails before any request and records the error", func() {
				_, err := svc.SendTurn(ctx, conv.ID, service.Turn{Text: "Hello"})

				Expect(err).To(MatchError(service.ErrConfiguration))
				Expect(err).To(MatchError(model.ErrMissingAPIKey))
				Expect(completer.callCount()).To(BeZero())
				Expect(svc.Messages(conv.ID)).To(BeEmpty())
				Expect(svc.LastError()).To(MatchError(service.ErrConfiguration))
			})
		})

		Context("when the request fails", func() {
			BeforeEach(func() {
				completer.completeFn = func(_ context.Context, _ []llm.Message, _ llm.CompleteOptions) (string, error) {
					return "", fmt.Errorf("%w: HTTP 500: upstream down", llm.ErrTransport)
				}
			})

			It("keeps the user message and records the error", func() {
				_, err := svc.SendTurn(ctx, conv.ID, service.Turn{Text: "Hello"})

				Expect(err).To(MatchError(service.ErrTransport))
				msgs := svc.Messages(conv.ID)
				Expect(msgs).To(HaveLen(1))
				Expect(msgs[0].Role).To(Equal(model.RoleUser))
				Expect(store.savedMessages()).To(HaveLen(1))
				Expect(svc.LastError()).To(MatchError(service.ErrTransport))
				Expect(svc.IsLoading(conv.ID)).To(BeFalse())
			})

			It("clears the error on the next successful turn", func() {
				_, err := svc.SendTurn(ctx, conv.ID, service.Turn{Text: "Hello"})
				Expect(err).To(HaveOccurred())

				completer.completeFn = nil
				_, err = svc.SendTurn(ctx, conv.ID, service.Turn{Text: "Again"})

				Expect(err).NotTo(HaveOccurred())
				Expect(svc.LastError()).NotTo(HaveOccurred())
				Expect(texts(completer.lastCall().messages)).To(Equal([]string{"Hello", "Again"}))
			})
		})

		DescribeTable("fails on a blank reply without adding it",
			func(reply string) {
				completer.completeFn = func(_ context.Context, _ []llm.Message, _ llm.CompleteOptions) (string, error) {
					return reply, nil
				}

				_, err := svc.SendTurn(ctx, conv.ID, service.Turn{Text: "Hello"})

				Expect(err).To(MatchError(service.ErrEmptyResponse))
				msgs := svc.Messages(conv.ID)
				Expect(msgs).To(HaveLen(1))
				Expect(msgs[0].Role).To(Equal(model.RoleUser))
				Expect(store.savedMessages()).To(Equal(msgs))
				Expect(svc.LastError()).To(MatchError(service.ErrEmptyResponse))
				Expect(svc.IsLoading(conv.ID)).To(BeFalse())
			},
			Entry("empty", ""),
			Entry("whitespace", "   \n\t"),
		)

		It("passes through empty responses from the client", func() {
			completer.completeFn = func(_ context.Context, _ []llm.Message, _ llm.CompleteOptions) (string, error) {
				return "", llm.ErrEmptyResponse
			}

			_, err := svc.SendTurn(ctx, conv.ID, service.Turn{Text: "Hello"})
			Expect(err).To(MatchError(service.ErrEmptyResponse))
		})

		It("rejects a second send while one is in flight", func() {
			started := make(chan struct{})
			release := make(chan struct{})
			var once sync.Once
			completer.completeFn = func(_ context.Context, msgs []llm.Message, _ llm.CompleteOptions) (string, error) {
				if msgs[len(msgs)-1].PlainText() == "elsewhere" {
					return "fine", nil
				}
				once.Do(func() { close(started) })
				<-release
				return "late", nil
			}

			other, err := svc.CreateConversation(ctx, "Other", "")
			Expect(err).NotTo(HaveOccurred())

			done := make(chan error, 1)
			go func() {
				defer GinkgoRecover()
				_, err := svc.SendTurn(ctx, conv.ID, service.Turn{Text: "first"})
				done <- err
			}()

			Eventually(started).Should(BeClosed())
			Expect(svc.IsLoading(conv.ID)).To(BeTrue())

			_, err = svc.SendTurn(ctx, conv.ID, service.Turn{Text: "second"})
			Expect(err).To(MatchError(service.ErrBusy))

			_, err = svc.SendTurn(ctx, other.ID, service.Turn{Text: "elsewhere"})
			Expect(err).NotTo(HaveOccurred())

			close(release)
			Eventually(done).Should(Receive(BeNil()))
			Expect(svc.IsLoading(conv.ID)).To(BeFalse())
			Expect(svc.Messages(conv.ID)).To(HaveLen(2))
		})

		It("drops the reply when the conversation is deleted mid-flight", func() {
			completer.completeFn = func(_ context.Context, _ []llm.Message, _ llm.CompleteOptions) (string, error) {
				Expect(svc.DeleteConversation(ctx, conv.ID)).To(Succeed())
				return "too late", nil
			}

			_, err := svc.SendTurn(ctx, conv.ID, service.Turn{Text: "Hello"})

			Expect(err).To(MatchError(service.ErrConversationNotFound))
			Expect(svc.Messages(conv.ID)).To(BeEmpty())
			Expect(store.savedMessages()).To(BeEmpty())
			Expect(svc.IsLoading(conv.ID)).To(BeFalse())
		})

		It("drops the reply when the conversation is cleared mid-flight", func() {
			completer.completeFn = func(_ context.Context, _ []llm.Message, _ llm.CompleteOptions) (string, error) {
				Expect(svc.ClearMessages(ctx, conv.ID)).To(Succeed())
				return "orphan", nil
			}

			_, err := svc.SendTurn(ctx, conv.ID, service.Turn{Text: "Hello"})

			Expect(err).To(MatchError(service.ErrConversationCleared))
			Expect(svc.Messages(conv.ID)).To(BeEmpty())
			Expect(store.savedMessages()).To(BeEmpty())
			Expect(svc.IsLoading(conv.ID)).To(BeFalse())
		})

		It("reads the configuration on every send", func() {
			_, err := svc.SendTurn(ctx, conv.ID, service.Turn{Text: "Hello"})
			Expect(err).NotTo(HaveOccurred())

			Expect(svc.UpdateConfig(ctx, model.ChatConfig{
				APIKey:  "sk-rotated",
				BaseURL: "https://other.example.com/v1",
				Model:   "gpt-4o",
			})).To(Succeed())

			_, err = svc.SendTurn(ctx, conv.ID, service.Turn{Text: "Again"})
			Expect(err).NotTo(HaveOccurred())
			Expect(completer.lastCall().opts.Model).To(Equal("gpt-4o"))
			Expect(svc.Credentials()).To(Equal(llm.Credentials{
				APIKey:  "sk-rotated",
				BaseURL: "https://other.example.com/v1",
			}))
		})
	})

	Describe("ResetContext", func() {
		It("starts the next turn from a clean context", func() {
			for _, text := range []string{"one", "two", "three"} {
				_, err := svc.SendTurn(ctx, conv.ID, service.Turn{Text: text})
				Expect(err).NotTo(HaveOccurred())
			}

			sep, err := svc.ResetContext(ctx, conv.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(sep.IsContextSeparator()).To(BeTrue())

			_, err = svc.SendTurn(ctx, conv.ID, service.Turn{Text: "fresh"})
			Expect(err).NotTo(HaveOccurred())
			Expect(texts(completer.lastCall().messages)).To(Equal([]string{"fresh"}))
			Expect(svc.Messages(conv.ID)).To(HaveLen(9))
		})

		It("rejects unknown conversations", func() {
			_, err := svc.ResetContext(ctx, 42)
			Expect(err).To(MatchError(service.ErrConversationNotFound))
		})
	})

	Describe("context limits", func() {
		BeforeEach(func() {
			for _, text := range []string{"one", "two"} {
				_, err := svc.SendTurn(ctx, conv.ID, service.Turn{Text: text})
				Expect(err).NotTo(HaveOccurred())
			}
		})

		It("keeps only the last N prior messages", func() {
			_, err := svc.UpdateConversationSettings(ctx, conv.ID, service.ConversationSettings{
				ContextLimit: ptr(2),
			})
			Expect(err).NotTo(HaveOccurred())

			_, err = svc.SendTurn(ctx, conv.ID, service.Turn{Text: "three"})
			Expect(err).NotTo(HaveOccurred())
			Expect(texts(completer.lastCall().messages)).To(Equal([]string{"two", "ok", "three"}))
		})

		It("sends only the turn with a limit of zero", func() {
			_, err := svc.UpdateConversationSettings(ctx, conv.ID, service.ConversationSettings{
				ContextLimit: ptr(0),
			})
			Expect(err).NotTo(HaveOccurred())

			_, err = svc.SendTurn(ctx, conv.ID, service.Turn{Text: "three"})
			Expect(err).NotTo(HaveOccurred())
			Expect(texts(completer.lastCall().messages)).To(Equal([]string{"three"}))
		})

		It("reports context statistics", func() {
			_, err := svc.UpdateConversationSettings(ctx, conv.ID, service.ConversationSettings{
				ContextLimit: ptr(3),
			})
			Expect(err).NotTo(HaveOccurred())

			stats, err := svc.ContextInfo(conv.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(stats.ContextLength).To(Equal(3))
			Expect(stats.TotalMessages).To(Equal(4))
			Expect(stats.ContextRatio).To(BeNumerically("~", 0.75))
		})
	})

	Describe("Load", func() {
		It("moves messages without a conversation into a default one", func() {
			store = &mockChatStore{
				config: configured(),
				messages: []model.Message{
					model.NewUserMessage(1, 0, "old question", nil, "", epoch),
					model.NewAssistantMessage(2, 0, "old answer", epoch.Add(time.Second)),
				},
			}
			svc = newService()

			convs := svc.Conversations()
			Expect(convs).To(HaveLen(1))
			Expect(convs[0].Name).To(Equal("Default"))

			msgs := svc.Messages(convs[0].ID)
			Expect(msgs).To(HaveLen(2))
			Expect(store.savedConversations()).To(HaveLen(1))
			Expect(store.savedMessages()[0].ConversationID).To(Equal(convs[0].ID))
		})

		It("seeds the configuration when none is stored", func() {
			store = &mockChatStore{}
			s := service.NewChatService(store, completer, &mockResolver{}, service.ChatOptions{
				SeedConfig: model.ChatConfig{APIKey: "sk-env"},
			})
			s.Load(ctx)

			Expect(s.Config()).To(Equal(model.ChatConfig{
				APIKey:  "sk-env",
				BaseURL: model.DefaultBaseURL,
				Model:   model.DefaultModel,
			}))
		})

		It("prefers the stored configuration", func() {
			Expect(svc.Config()).To(Equal(*configured()))
		})
	})
})

func ptr[T any](v T) *T {
	return &v
}
