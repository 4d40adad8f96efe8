package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/arqady01/chatllm/internal/attachment"
	"github.com/arqady01/chatllm/internal/model"
	"github.com/arqady01/chatllm/internal/service"
)

const replHelp = `/new <name>        create a conversation and switch to it
/list              list conversations
/switch <conv>     switch by id or name
/history           print the current conversation
/reset             start a fresh context
/clear             delete the messages of this conversation
/delete            delete this conversation
/limit <n|off>     prior messages sent with each turn
/temp <0..1>       sampling temperature
/attach <file>     attach an image (or file.pdf#N) to the next message
/detach            drop the pending attachment
/stats             show what the next turn will send
/models            list available models
/model <name>      switch model
/quit              leave`

type repl struct {
	chat    service.ChatService
	out     io.Writer
	conv    *model.Conversation
	pending *attachment.Attachment
}

func runRepl(ctx context.Context, a *app, cmd *cobra.Command, args []string) error {
	r := &repl{chat: a.chat, out: cmd.OutOrStdout()}
	if err := r.pick(ctx, args); err != nil {
		return err
	}

	fmt.Fprintf(r.out, "%s  %s\n", titleStyle.Render(r.conv.Name), mutedStyle.Render("/help for commands"))
	if cfg := a.chat.Config(); cfg.Validate() != nil {
		fmt.Fprintln(r.out, errorStyle.Render("no API key configured, use /quit then `chat config --api-key ...`"))
	}

	scanner := bufio.NewScanner(cmd.InOrStdin())
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for {
		fmt.Fprint(r.out, userStyle.Render(r.conv.Name+"> "))
		if !scanner.Scan() {
			break
		}
		if ctx.Err() != nil {
			break
		}

		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, "/") {
			quit, err := r.command(ctx, line)
			if err != nil {
				fmt.Fprintln(r.out, errorStyle.Render(err.Error()))
			}
			if quit {
				break
			}
			continue
		}

		r.send(ctx, line)
	}

	fmt.Fprintln(r.out, mutedStyle.Render("bye"))
	return scanner.Err()
}

// pick selects the named conversation, else the most recent one, creating
// one when there are none.
func (r *repl) pick(ctx context.Context, args []string) error {
	var err error
	switch {
	case len(args) > 0:
		r.conv, err = findConversation(r.chat, args[0])
	case len(r.chat.Summaries()) > 0:
		latest := r.chat.Summaries()[0].Conversation
		r.conv = &latest
	default:
		r.conv, err = r.chat.CreateConversation(ctx, "New chat", "")
	}
	if err != nil {
		return err
	}
	return r.chat.SetActiveConversation(r.conv.ID)
}

func (r *repl) send(ctx context.Context, text string) {
	turn := service.Turn{Text: text}
	if r.pending != nil {
		turn.Image, turn.ImageRef = &r.pending.Payload, r.pending.Ref
	}

	fmt.Fprintln(r.out, mutedStyle.Render("thinking..."))
	reply, err := r.chat.SendTurn(ctx, r.conv.ID, turn)
	if err != nil {
		fmt.Fprintln(r.out, errorStyle.Render(describeSendError(err)))
		return
	}
	r.pending = nil
	renderMessage(r.out, *reply)
}

func describeSendError(err error) string {
	switch {
	case errors.Is(err, service.ErrConfiguration):
		return err.Error() + " (see `chat config`)"
	case errors.Is(err, service.ErrTransport):
		return err.Error() + " (your message was kept, send again to retry)"
	default:
		return err.Error()
	}
}

func (r *repl) command(ctx context.Context, line string) (quit bool, err error) {
	name, arg, _ := strings.Cut(line, " ")
	arg = strings.TrimSpace(arg)

	switch name {
	case "/quit", "/exit", "/q":
		return true, nil

	case "/help":
		fmt.Fprintln(r.out, replHelp)

	case "/new":
		conv, err := r.chat.CreateConversation(ctx, arg, "")
		if err != nil {
			return false, err
		}
		return false, r.switchTo(conv)

	case "/list":
		renderSummaries(r.out, r.chat.Summaries(), r.conv)

	case "/switch":
		conv, err := findConversation(r.chat, arg)
		if err != nil {
			return false, err
		}
		return false, r.switchTo(conv)

	case "/history":
		renderTranscript(r.out, *r.conv, r.chat.Messages(r.conv.ID))

	case "/reset":
		sep, err := r.chat.ResetContext(ctx, r.conv.ID)
		if err != nil {
			return false, err
		}
		renderMessage(r.out, *sep)

	case "/clear":
		return false, r.chat.ClearMessages(ctx, r.conv.ID)

	case "/delete":
		if err := r.chat.DeleteConversation(ctx, r.conv.ID); err != nil {
			return false, err
		}
		fmt.Fprintln(r.out, okStyle.Render("deleted "+r.conv.Name))
		return false, r.pick(ctx, nil)

	case "/limit":
		settings := service.ConversationSettings{UnlimitedContext: arg == "off"}
		if !settings.UnlimitedContext {
			n, err := strconv.Atoi(arg)
			if err != nil {
				return false, fmt.Errorf("usage: /limit <n|off>")
			}
			settings.ContextLimit = &n
		}
		return false, r.update(ctx, settings)

	case "/temp":
		t, err := strconv.ParseFloat(arg, 64)
		if err != nil {
			return false, fmt.Errorf("usage: /temp <0..1>")
		}
		return false, r.update(ctx, service.ConversationSettings{Temperature: &t})

	case "/attach":
		att, err := attachment.Load(arg)
		if err != nil {
			return false, err
		}
		r.pending = att
		fmt.Fprintln(r.out, mutedStyle.Render("attached "+att.Ref))

	case "/detach":
		r.pending = nil

	case "/stats":
		stats, err := r.chat.ContextInfo(r.conv.ID)
		if err != nil {
			return false, err
		}
		renderStats(r.out, stats)

	case "/models":
		models, err := r.chat.ListModels(ctx)
		if err != nil {
			return false, err
		}
		for _, m := range models {
			fmt.Fprintln(r.out, "  "+m.ID)
		}

	case "/model":
		cfg := r.chat.Config()
		cfg.Model = arg
		if err := r.chat.UpdateConfig(ctx, cfg); err != nil {
			return false, err
		}
		fmt.Fprintln(r.out, mutedStyle.Render("model: "+r.chat.Config().Model))

	default:
		return false, fmt.Errorf("unknown command %s, try /help", name)
	}
	return false, nil
}

func (r *repl) switchTo(conv *model.Conversation) error {
	if err := r.chat.SetActiveConversation(conv.ID); err != nil {
		return err
	}
	r.conv = conv
	r.pending = nil
	return nil
}

func (r *repl) update(ctx context.Context, settings service.ConversationSettings) error {
	conv, err := r.chat.UpdateConversationSettings(ctx, r.conv.ID, settings)
	if err != nil {
		return err
	}
	r.conv = conv
	renderSettings(r.out, *conv)
	return nil
}
