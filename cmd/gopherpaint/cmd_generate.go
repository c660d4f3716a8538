package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/user/gopherpaint/internal/gateway"
	"github.com/user/gopherpaint/internal/generate"
	"github.com/user/gopherpaint/internal/types"
	"github.com/user/gopherpaint/pkg/media"
)

var (
	genConversation string
	genMode         string
	genRefs         []string
	genUseLast      bool
)

func init() {
	rootCmd.AddCommand(generateCmd)
	generateCmd.Flags().StringVarP(&genConversation, "conversation", "c", "", "conversation id or prefix (default: new conversation)")
	generateCmd.Flags().StringVarP(&genMode, "mode", "m", string(media.ModeImage),
		"generation mode: image, text_to_video, image_to_video, multi_reference_to_video")
	generateCmd.Flags().StringArrayVarP(&genRefs, "ref", "r", nil, "reference image path (repeatable)")
	generateCmd.Flags().BoolVar(&genUseLast, "use-last", false, "use the conversation's last image as the base")
}

var generateCmd = &cobra.Command{
	Use:   "generate <prompt...>",
	Short: "Generate an image or video into a conversation",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runGenerate,
}

func runGenerate(cmd *cobra.Command, args []string) error {
	cfg := loadConfig()
	mode, err := media.ParseMode(genMode)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := openStore(cfg)
	if err != nil {
		return err
	}

	var convID types.ConversationID
	if genConversation == "" {
		if convID, err = store.Create(ctx, ""); err != nil {
			return err
		}
		fmt.Fprintln(os.Stderr, "conversation", convID)
	} else if convID, err = resolveConversation(ctx, store, genConversation); err != nil {
		return err
	}

	gen, err := newGenerator(ctx, cfg, generate.WithProgress(func(s media.OperationState, polls int) {
		fmt.Fprintf(os.Stderr, "video %s (poll %d)\n", s, polls)
	}))
	if err != nil {
		return err
	}

	gw := gateway.New(store, gen, gatewayOptions(cfg))
	gw.Start(ctx)
	defer gw.Stop()

	job := gateway.NewJob(convID, strings.Join(args, " "), mode)
	job.References = genRefs
	job.UseLastImage = genUseLast

	results, err := gw.Submit(ctx, job)
	if err != nil {
		return err
	}
	r := <-results
	if r.Err != nil {
		return r.Err
	}
	fmt.Fprintln(os.Stdout, r.Path)
	fmt.Fprintf(os.Stderr, "cost $%.2f, took %s\n", r.Cost, r.Duration.Round(100*time.Millisecond))
	return nil
}
