package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/databricks-solutions/databricks-genai-app-template-sub000/internal/config"
	"github.com/databricks-solutions/databricks-genai-app-template-sub000/internal/storage"
)

type chatsFlags struct {
	user  string
	agent string
	title string
	chat  string
}

func parseChatsFlags(args []string) (chatsFlags, error) {
	var f chatsFlags
	for i := 0; i < len(args); i++ {
		var dst *string
		switch args[i] {
		case "-u", "--user":
			dst = &f.user
		case "-a", "--agent":
			dst = &f.agent
		case "-t", "--title":
			dst = &f.title
		case "-c", "--chat":
			dst = &f.chat
		default:
			return f, fmt.Errorf("unknown option: %s", args[i])
		}
		if i+1 >= len(args) {
			return f, fmt.Errorf("%s requires a value", args[i])
		}
		*dst = args[i+1]
		i++
	}
	return f, nil
}

// runChatsCommand manages chats in the configured store.
func runChatsCommand(args []string) error {
	if len(args) == 0 {
		printChatsHelp()
		return errors.New("chats requires a subcommand")
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if err := requirePersistentStore(cfg.Storage.Backend, args[0]); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	store, err := storage.New(ctx, cfg.Storage)
	if err != nil {
		return fmt.Errorf("opening %s store: %w", cfg.Storage.Backend, err)
	}
	defer func() { _ = store.Close() }()

	return runChats(ctx, store, cfg.LocalUserID, args, os.Stdout)
}

// requirePersistentStore rejects chats subcommands against a memory store:
// this process cannot see the server's chats, and what it creates is lost
// on exit.
func requirePersistentStore(backend, sub string) error {
	if backend != config.StorageMemory && backend != "" {
		return nil
	}
	switch sub {
	case "create", "show", "list":
		return fmt.Errorf("chats %s needs STORAGE_BACKEND=sqlite or redis; with the memory backend use POST /api/chats on the running server", sub)
	}
	return nil
}

// runChats executes one chats subcommand against store. defaultUser is used
// when --user is omitted.
func runChats(ctx context.Context, store storage.Store, defaultUser string, args []string, out io.Writer) error {
	sub := args[0]
	flags, err := parseChatsFlags(args[1:])
	if err != nil {
		return err
	}
	if flags.user == "" {
		flags.user = defaultUser
	}
	if flags.user == "" {
		return errors.New("--user is required")
	}

	switch sub {
	case "create":
		if flags.agent == "" {
			return errors.New("--agent is required")
		}
		chat, err := store.Create(ctx, flags.user, flags.title, flags.agent)
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(out, chat.ID)
		return err

	case "show":
		if flags.chat == "" {
			return errors.New("--chat is required")
		}
		chat, err := store.Get(ctx, flags.user, flags.chat)
		if err != nil {
			return err
		}
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		enc.SetEscapeHTML(false)
		return enc.Encode(chat)

	case "list":
		chats, err := store.List(ctx, flags.user)
		if err != nil {
			return err
		}
		tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "ID\tAGENT\tMESSAGES\tUPDATED\tTITLE")
		for _, c := range chats {
			fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%s\n",
				c.ID, c.AgentID, len(c.Messages), c.UpdatedAt.Format(time.RFC3339), c.Title)
		}
		return tw.Flush()

	default:
		printChatsHelp()
		return fmt.Errorf("unknown chats subcommand: %s", sub)
	}
}

func printChatsHelp() {
	fmt.Println("Usage: agent-chat-gateway chats SUBCOMMAND [OPTIONS]")
	fmt.Println()
	fmt.Println("Subcommands:")
	fmt.Println("  create -a AGENT [-u USER] [-t TITLE]   Create a chat, prints its id")
	fmt.Println("  show   -c CHAT  [-u USER]              Print a chat with its messages")
	fmt.Println("  list   [-u USER]                       List chats, most recent first")
	fmt.Println()
	fmt.Println("USER defaults to LOCAL_USER_ID.")
}
