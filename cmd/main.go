package main

import (
	"fmt"
	"os"
)

// Version is set at build time with -ldflags "-X main.Version=...".
var Version = "dev"

func main() {
	args := os.Args[1:]
	cmd := "serve"
	if len(args) > 0 && args[0] != "" && args[0][0] != '-' {
		cmd, args = args[0], args[1:]
	}

	var err error
	switch cmd {
	case "serve":
		err = runServeCommand(args)
	case "chats":
		err = runChatsCommand(args)
	case "version":
		fmt.Println(Version)
	case "help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Error: unknown command: %s\n\n", cmd)
		printUsage()
		os.Exit(2)
	}
	if err != nil {
		printError(err.Error())
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println("Agent chat gateway")
	fmt.Println()
	fmt.Println("Usage: agent-chat-gateway [COMMAND] [OPTIONS]")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  serve                Run the HTTP gateway (default)")
	fmt.Println("  chats create         Create a chat for a user")
	fmt.Println("  chats show           Print a stored chat as JSON")
	fmt.Println("  chats list           List a user's chats")
	fmt.Println("  version              Print the version")
	fmt.Println()
	fmt.Println("Serve options:")
	fmt.Println("  -p, --port PORT      Listen port (overrides PORT)")
	fmt.Println("  -a, --agents FILE    Agents registry (overrides AGENTS_CONFIG)")
	fmt.Println("  -d, --debug          Enable debug logging")
	fmt.Println()
	fmt.Println("Configuration is read from the environment, after .env.local or .env.")
}

// printError writes a formatted error line to stderr.
func printError(msg string) {
	fmt.Fprintf(os.Stderr, "\033[0;31m[ERROR]\033[0m %s\n", msg)
}
