package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"gopherai-analyst/internal/app"
	"gopherai-analyst/internal/bootstrap"
)

var (
	askUser         string
	askConversation string
)

var askCmd = &cobra.Command{
	Use:   "ask <question>",
	Short: "Answer one question and stream it to stdout",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runAsk,
}

func init() {
	askCmd.Flags().StringVar(&askUser, "user", "", "user identity used for access tiers")
	askCmd.Flags().StringVar(&askConversation, "conversation", "", "conversation id (random when empty)")
}

func runAsk(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	a, err := bootstrap.New(ctx)
	if err != nil {
		return fmt.Errorf("bootstrap failed: %w", err)
	}
	defer a.Close()

	conversationID := askConversation
	if conversationID == "" {
		conversationID = uuid.NewString()
	}
	out := cmd.OutOrStdout()
	_, err = a.Answers.Answer(ctx, app.AnswerInput{
		ConversationID: conversationID,
		UserID:         askUser,
		Question:       strings.Join(args, " "),
	}, func(chunk string) error {
		_, writeErr := fmt.Fprint(out, chunk)
		return writeErr
	})
	fmt.Fprintln(out)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.ErrOrStderr(), "conversation: %s\n", conversationID)
	return nil
}
