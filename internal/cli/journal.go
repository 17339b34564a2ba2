package cli

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/seeyara/whispr/internal/apiclient"
	"github.com/seeyara/whispr/internal/cuddle"
	"github.com/seeyara/whispr/internal/session"
	"github.com/seeyara/whispr/internal/store"
)

func init() {
	cmd := &cobra.Command{
		Use:   "journal",
		Short: "Open today's journal conversation",
		Long:  "Start or resume today's conversation. Type your day; /finish wraps up, /retry re-sends a failed turn, /older pulls earlier messages, /quit leaves without finishing.",
		Run:   runJournal,
	}
	RootCmd.AddCommand(cmd)
}

type journalApp struct {
	client  *apiclient.Client
	cache   *session.Cache
	queue   *session.Queue
	session *session.Session
	persona cuddle.Cuddle
	userID  string
	today   string
}

func runJournal(cmd *cobra.Command, _ []string) {
	id := cuddle.ID(cuddleID)
	if !cuddle.IsValid(id) {
		exitErr("journal", fmt.Errorf("unknown cuddle %q", cuddleID))
	}
	persona, _ := cuddle.ByID(id)

	app := &journalApp{
		client:  newClient(),
		persona: persona,
		userID:  mustUser(),
		today:   store.DateKey(time.Now()),
	}

	cache, err := session.NewCache(cachePath())
	if err != nil {
		exitErr("open cache", err)
	}
	app.cache = cache

	if done, err := cache.Submitted(app.today); err == nil && done {
		fmt.Println("Today's entry is already finished. See you tomorrow!")
		return
	}

	logger := newLogger()
	app.queue = session.NewQueue(app.client, cache, logger)
	app.session = session.New(app.client, app.client, app.queue, logger, session.Config{
		UserID:   app.userID,
		CuddleID: id,
		Mode:     store.ModeGuided,
	})

	// The local mirror wins over the server: it may hold turns that never
	// made it across before the last exit.
	if conv, err := cache.GetOngoing(); err == nil && conv != nil && len(conv.Messages) > 0 {
		app.session.Resume(*conv)
	} else if _, err := app.session.Open(cmd.Context()); err != nil {
		exitErr("open conversation", err)
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-quit
		fmt.Println()
		app.session.Teardown()
		os.Exit(0)
	}()

	app.printTranscript()
	app.repl(cmd.Context())
}

func (a *journalApp) repl(ctx context.Context) {
	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 0, 64*1024), 64*1024)

	for {
		if a.session.AwaitingChoice() {
			fmt.Print("(continue / finish) > ")
			if !scanner.Scan() {
				a.session.Teardown()
				return
			}
			switch strings.ToLower(strings.TrimSpace(scanner.Text())) {
			case "finish", "f":
				a.finish(ctx, false)
				return
			default:
				a.session.Continue()
			}
			continue
		}

		fmt.Print("> ")
		if !scanner.Scan() {
			// EOF: leave quietly but never drop unsaved turns.
			a.session.Teardown()
			return
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		switch line {
		case "/finish":
			a.finish(ctx, false)
			return
		case "/quit":
			a.session.Teardown()
			fmt.Println("Saved. Come back anytime.")
			return
		case "/retry":
			a.retryLastFailed(ctx)
			continue
		case "/older":
			if err := a.session.LoadOlder(ctx); err != nil {
				fmt.Println("Couldn't load earlier messages. Try again in a moment.")
				continue
			}
			a.printTranscript()
			continue
		}

		before := len(a.session.Messages())
		res := a.session.SendMessage(ctx, line, session.SendOptions{})
		a.printNewAssistant(before + 1) // skip the echo of the typed line
		if msg := a.session.Error(); msg != "" {
			fmt.Printf("! %s (/retry to try again)\n", msg)
		}
		if res.ShouldEnd {
			a.finish(ctx, true)
			return
		}
	}
}

func (a *journalApp) finish(ctx context.Context, forced bool) {
	resp, err := a.client.CompleteJournal(ctx, apiclient.CompleteJournalRequest{
		UserID:   a.userID,
		CuddleID: a.persona.ID,
		Messages: a.session.Messages(),
		Mode:     store.ModeGuided,
		Forced:   forced,
	})
	if err != nil {
		fmt.Println("Couldn't finish the entry. Your conversation is saved; run `soul journal` and /finish to try again.")
		a.session.Teardown()
		return
	}

	if !forced {
		// A forced end already spoke its farewell in the last reply.
		fmt.Printf("%s: %s\n", a.persona.Name, resp.FarewellMessage)
	}

	a.queue.Clear()
	if err := a.cache.MarkSubmitted(a.today); err == nil {
		fmt.Println("Entry saved. See you tomorrow!")
	} else {
		fmt.Println("Entry saved.")
	}
}

func (a *journalApp) retryLastFailed(ctx context.Context) {
	msgs := a.session.Messages()
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Status == store.StatusFailed {
			before := len(msgs) - 1 // the failed message is removed first
			res := a.session.RetryMessage(ctx, msgs[i].ID)
			a.printNewAssistant(before + 1)
			if !res.Success {
				fmt.Printf("! %s\n", a.session.Error())
			}
			return
		}
	}
	fmt.Println("Nothing to retry.")
}

func (a *journalApp) printTranscript() {
	for _, m := range a.session.Messages() {
		a.printMessage(m)
	}
}

// printNewAssistant prints assistant messages appended at or after index
// from, so a send shows its reply bubbles without re-echoing the user's line.
func (a *journalApp) printNewAssistant(from int) {
	msgs := a.session.Messages()
	for i := from; i < len(msgs); i++ {
		if msgs[i].Role == store.RoleAssistant {
			a.printMessage(msgs[i])
		}
	}
}

func (a *journalApp) printMessage(m store.Message) {
	name := "you"
	if m.Role == store.RoleAssistant {
		name = a.persona.Name
	}
	suffix := ""
	if m.Status == store.StatusFailed {
		suffix = " (not sent)"
	}
	fmt.Printf("%s: %s%s\n", name, m.Content, suffix)
}
