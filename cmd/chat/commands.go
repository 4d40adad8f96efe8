package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/arqady01/chatllm/common/id"
	"github.com/arqady01/chatllm/common/slug"
	"github.com/arqady01/chatllm/internal/attachment"
	"github.com/arqady01/chatllm/internal/model"
	"github.com/arqady01/chatllm/internal/service"
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "chat",
		Short:         "Chat with OpenAI-compatible models from the terminal",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          withApp(runRepl),
	}

	root.AddCommand(
		&cobra.Command{Use: "repl [conversation]", Short: "Start an interactive session", Args: cobra.MaximumNArgs(1), RunE: withApp(runRepl)},
		newCreateCmd(),
		&cobra.Command{Use: "list", Short: "List conversations", Args: cobra.NoArgs, RunE: withApp(runList)},
		&cobra.Command{Use: "show <conversation>", Short: "Print a conversation", Args: cobra.ExactArgs(1), RunE: withApp(runShow)},
		newSendCmd(),
		&cobra.Command{Use: "reset <conversation>", Short: "Start a fresh context in a conversation", Args: cobra.ExactArgs(1), RunE: withApp(runReset)},
		&cobra.Command{Use: "clear <conversation>", Short: "Delete every message of a conversation", Args: cobra.ExactArgs(1), RunE: withApp(runClear)},
		&cobra.Command{Use: "delete <conversation>", Short: "Delete a conversation", Args: cobra.ExactArgs(1), RunE: withApp(runDelete)},
		newSettingsCmd(),
		&cobra.Command{Use: "models", Short: "List chat models offered by the API", Args: cobra.NoArgs, RunE: withApp(runModels)},
		newDetectCmd(),
		newConfigCmd(),
		newExportCmd(),
		&cobra.Command{Use: "import <file>", Short: "Replace all conversations with an export file", Args: cobra.ExactArgs(1), RunE: withApp(runImport)},
		&cobra.Command{Use: "schema", Short: "Print the JSON schema of export files", Args: cobra.NoArgs, RunE: runSchema},
		newWipeCmd(),
	)
	return root
}

type runFunc func(ctx context.Context, a *app, cmd *cobra.Command, args []string) error

func withApp(run runFunc) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := newApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()
		return run(ctx, a, cmd, args)
	}
}

// findConversation accepts an ID or an exact, case-insensitive name.
func findConversation(chat service.ChatService, ref string) (*model.Conversation, error) {
	if v, err := id.Parse(ref); err == nil {
		if conv, err := chat.Conversation(v); err == nil {
			return conv, nil
		}
	}

	var found []model.Conversation
	for _, c := range chat.Conversations() {
		if strings.EqualFold(c.Name, ref) {
			found = append(found, c)
		}
	}
	switch len(found) {
	case 0:
		return nil, fmt.Errorf("%w: %s", service.ErrConversationNotFound, ref)
	case 1:
		return &found[0], nil
	default:
		return nil, fmt.Errorf("%d conversations are named %q, use an id", len(found), ref)
	}
}

func newCreateCmd() *cobra.Command {
	var (
		description string
		settings    settingsFlags
	)
	cmd := &cobra.Command{
		Use:   "new <name>",
		Short: "Create a conversation",
		Args:  cobra.ExactArgs(1),
		RunE: withApp(func(ctx context.Context, a *app, cmd *cobra.Command, args []string) error {
			conv, err := a.chat.CreateConversation(ctx, args[0], description)
			if err != nil {
				return err
			}
			if update := settings.toSettings(cmd); update != nil {
				if conv, err = a.chat.UpdateConversationSettings(ctx, conv.ID, *update); err != nil {
					return err
				}
			}
			fmt.Fprintln(cmd.OutOrStdout(), okStyle.Render("created "+conv.Name+" ("+id.String(conv.ID)+")"))
			return nil
		}),
	}
	cmd.Flags().StringVarP(&description, "description", "d", "", "conversation description")
	settings.register(cmd, false)
	return cmd
}

func runList(_ context.Context, a *app, cmd *cobra.Command, _ []string) error {
	renderSummaries(cmd.OutOrStdout(), a.chat.Summaries(), a.chat.ActiveConversation())
	return nil
}

func runShow(_ context.Context, a *app, cmd *cobra.Command, args []string) error {
	conv, err := findConversation(a.chat, args[0])
	if err != nil {
		return err
	}
	renderTranscript(cmd.OutOrStdout(), *conv, a.chat.Messages(conv.ID))
	stats, err := a.chat.ContextInfo(conv.ID)
	if err != nil {
		return err
	}
	renderStats(cmd.OutOrStdout(), stats)
	return nil
}

func newSendCmd() *cobra.Command {
	var imagePath string
	cmd := &cobra.Command{
		Use:   "send <conversation> <text...>",
		Short: "Send one message and print the reply",
		Args:  cobra.MinimumNArgs(1),
		RunE: withApp(func(ctx context.Context, a *app, cmd *cobra.Command, args []string) error {
			conv, err := findConversation(a.chat, args[0])
			if err != nil {
				return err
			}
			turn := service.Turn{Text: strings.Join(args[1:], " ")}
			if imagePath != "" {
				att, err := attachment.Load(imagePath)
				if err != nil {
					return err
				}
				turn.Image, turn.ImageRef = &att.Payload, att.Ref
			}

			reply, err := a.chat.SendTurn(ctx, conv.ID, turn)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), reply.Content)
			return nil
		}),
	}
	cmd.Flags().StringVarP(&imagePath, "image", "i", "", "attach an image, or a document page as file.pdf#N")
	return cmd
}

func runReset(ctx context.Context, a *app, cmd *cobra.Command, args []string) error {
	conv, err := findConversation(a.chat, args[0])
	if err != nil {
		return err
	}
	if _, err := a.chat.ResetContext(ctx, conv.ID); err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), separatorStyle.Render("context cleared for "+conv.Name))
	return nil
}

func runClear(ctx context.Context, a *app, cmd *cobra.Command, args []string) error {
	conv, err := findConversation(a.chat, args[0])
	if err != nil {
		return err
	}
	if err := a.chat.ClearMessages(ctx, conv.ID); err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), okStyle.Render("cleared "+conv.Name))
	return nil
}

func runDelete(ctx context.Context, a *app, cmd *cobra.Command, args []string) error {
	conv, err := findConversation(a.chat, args[0])
	if err != nil {
		return err
	}
	if err := a.chat.DeleteConversation(ctx, conv.ID); err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), okStyle.Render("deleted "+conv.Name))
	return nil
}

type settingsFlags struct {
	name        string
	description string
	limit       int
	unlimited   bool
	temperature float64
	withText    bool
}

func (f *settingsFlags) register(cmd *cobra.Command, withText bool) {
	f.withText = withText
	if withText {
		cmd.Flags().StringVar(&f.name, "name", "", "rename the conversation")
		cmd.Flags().StringVar(&f.description, "description", "", "change the description")
	}
	cmd.Flags().IntVar(&f.limit, "limit", 0, "number of prior messages sent with each turn (0 sends none)")
	cmd.Flags().BoolVar(&f.unlimited, "unlimited", false, "send the whole conversation with each turn")
	cmd.Flags().Float64Var(&f.temperature, "temperature", 0, "sampling temperature between 0 and 1")
}

// toSettings returns nil when no setting flag was given.
func (f *settingsFlags) toSettings(cmd *cobra.Command) *service.ConversationSettings {
	var s service.ConversationSettings
	changed := false
	if f.withText && cmd.Flags().Changed("name") {
		s.Name, changed = &f.name, true
	}
	if f.withText && cmd.Flags().Changed("description") {
		s.Description, changed = &f.description, true
	}
	if cmd.Flags().Changed("limit") {
		s.ContextLimit, changed = &f.limit, true
	}
	if f.unlimited {
		s.UnlimitedContext, changed = true, true
	}
	if cmd.Flags().Changed("temperature") {
		s.Temperature, changed = &f.temperature, true
	}
	if !changed {
		return nil
	}
	return &s
}

func newSettingsCmd() *cobra.Command {
	var flags settingsFlags
	cmd := &cobra.Command{
		Use:   "settings <conversation>",
		Short: "Show or change conversation settings",
		Args:  cobra.ExactArgs(1),
		RunE: withApp(func(ctx context.Context, a *app, cmd *cobra.Command, args []string) error {
			conv, err := findConversation(a.chat, args[0])
			if err != nil {
				return err
			}
			if update := flags.toSettings(cmd); update != nil {
				if conv, err = a.chat.UpdateConversationSettings(ctx, conv.ID, *update); err != nil {
					return err
				}
			}
			renderSettings(cmd.OutOrStdout(), *conv)
			return nil
		}),
	}
	flags.register(cmd, true)
	return cmd
}

func runModels(ctx context.Context, a *app, cmd *cobra.Command, _ []string) error {
	models, err := a.chat.ListModels(ctx)
	if err != nil {
		return err
	}
	current := a.chat.Config().Model
	for _, m := range models {
		if m.ID == current {
			fmt.Fprintln(cmd.OutOrStdout(), okStyle.Render("* "+m.ID))
			continue
		}
		fmt.Fprintln(cmd.OutOrStdout(), "  "+m.ID)
	}
	return nil
}

func newDetectCmd() *cobra.Command {
	var (
		apiKey string
		save   bool
	)
	cmd := &cobra.Command{
		Use:   "detect <base-url>",
		Short: "Find the API root behind a URL (append # to use it verbatim)",
		Args:  cobra.ExactArgs(1),
		RunE: withApp(func(ctx context.Context, a *app, cmd *cobra.Command, args []string) error {
			res, err := a.chat.DetectBaseURL(ctx, args[0], apiKey)
			if err != nil {
				return err
			}
			renderResolution(cmd.OutOrStdout(), res)
			if !save || !res.Valid {
				return nil
			}

			cfg := a.chat.Config()
			cfg.BaseURL = res.ConfigValue()
			if apiKey != "" {
				cfg.APIKey = apiKey
			}
			return a.chat.UpdateConfig(ctx, cfg)
		}),
	}
	cmd.Flags().StringVar(&apiKey, "api-key", "", "key to probe with (defaults to the configured key)")
	cmd.Flags().BoolVar(&save, "save", false, "store the detected base URL")
	return cmd
}

func newConfigCmd() *cobra.Command {
	var apiKey, baseURL, modelName string

	cmd := &cobra.Command{
		Use:   "config",
		Short: "Show or change the API configuration",
		Args:  cobra.NoArgs,
		RunE: withApp(func(ctx context.Context, a *app, cmd *cobra.Command, _ []string) error {
			cfg := a.chat.Config()
			changed := false
			if cmd.Flags().Changed("api-key") {
				cfg.APIKey, changed = apiKey, true
			}
			if cmd.Flags().Changed("base-url") {
				cfg.BaseURL, changed = baseURL, true
			}
			if cmd.Flags().Changed("model") {
				cfg.Model, changed = modelName, true
			}
			if changed {
				if err := a.chat.UpdateConfig(ctx, cfg); err != nil {
					return err
				}
			}
			renderConfig(cmd.OutOrStdout(), a.chat.Config())
			return nil
		}),
	}
	cmd.Flags().StringVar(&apiKey, "api-key", "", "API key")
	cmd.Flags().StringVar(&baseURL, "base-url", "", "API base URL (append # to use it verbatim)")
	cmd.Flags().StringVar(&modelName, "model", "", "model name")

	cmd.AddCommand(&cobra.Command{
		Use:   "test",
		Short: "Send a minimal request with the current configuration",
		Args:  cobra.NoArgs,
		RunE: withApp(func(ctx context.Context, a *app, cmd *cobra.Command, _ []string) error {
			if err := a.chat.TestConnection(ctx); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), okStyle.Render("connection ok"))
			return nil
		}),
	})
	return cmd
}

func newExportCmd() *cobra.Command {
	var (
		output         string
		conversation   string
		includeSecrets bool
	)
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write conversations as JSON",
		Args:  cobra.NoArgs,
		RunE: withApp(func(_ context.Context, a *app, cmd *cobra.Command, _ []string) error {
			doc := a.chat.Export(includeSecrets)
			if conversation != "" {
				conv, err := findConversation(a.chat, conversation)
				if err != nil {
					return err
				}
				if doc, err = a.chat.ExportConversation(conv.ID, includeSecrets); err != nil {
					return err
				}
				if output == "" {
					output = slug.FileName("chatllm", conv.Name, ".json")
				}
			}

			data, err := json.MarshalIndent(doc, "", "  ")
			if err != nil {
				return fmt.Errorf("encoding export: %w", err)
			}
			if output == "" || output == "-" {
				_, err = cmd.OutOrStdout().Write(append(data, '\n'))
				return err
			}
			if err := os.WriteFile(output, data, 0o600); err != nil {
				return fmt.Errorf("writing export: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), okStyle.Render("wrote "+output))
			return nil
		}),
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "file to write (stdout by default, \"-\" forces stdout)")
	cmd.Flags().StringVarP(&conversation, "conversation", "c", "", "export only this conversation, to a file named after it")
	cmd.Flags().BoolVar(&includeSecrets, "include-secrets", false, "include the API key")
	return cmd
}

func runImport(ctx context.Context, a *app, cmd *cobra.Command, args []string) error {
	data, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("reading import: %w", err)
	}
	var doc service.ExportDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("%w: %w", service.ErrValidation, err)
	}
	if err := a.chat.Import(ctx, doc); err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), okStyle.Render(fmt.Sprintf("imported %d conversations", len(a.chat.Conversations()))))
	return nil
}

func runSchema(cmd *cobra.Command, _ []string) error {
	data, err := json.MarshalIndent(service.ExportSchema(), "", "  ")
	if err != nil {
		return fmt.Errorf("encoding schema: %w", err)
	}
	_, err = cmd.OutOrStdout().Write(append(data, '\n'))
	return err
}

func newWipeCmd() *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "wipe",
		Short: "Delete all conversations, messages and configuration",
		Args:  cobra.NoArgs,
		RunE: withApp(func(ctx context.Context, a *app, cmd *cobra.Command, _ []string) error {
			if !yes {
				return errors.New("refusing to wipe without --yes")
			}
			a.chat.ClearAllData(ctx)
			fmt.Fprintln(cmd.OutOrStdout(), okStyle.Render("all chat data deleted"))
			return nil
		}),
	}
	cmd.Flags().BoolVar(&yes, "yes", false, "confirm")
	return cmd
}
