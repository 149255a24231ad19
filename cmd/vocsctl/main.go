// Command vocsctl is a local administration CLI for vocsd's credential
// store and persisted event/recording history, grounded on the teacher's
// cli.go subcommand dispatcher.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/openvocs/vocsd/internal/auth"
	"github.com/openvocs/vocsd/internal/store"
)

const defaultDBPath = "vocsd.db"

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	dbPath := os.Getenv("VOCSD_DB")
	if dbPath == "" {
		dbPath = defaultDBPath
	}

	if !runCLI(os.Args[1], os.Args[2:], dbPath) {
		usage()
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "Usage: vocsctl <users|recordings|events> ...")
	fmt.Fprintln(os.Stderr, "  vocsctl users list")
	fmt.Fprintln(os.Stderr, "  vocsctl users add <name> <password> [role...]")
	fmt.Fprintln(os.Stderr, "  vocsctl users remove <name>")
	fmt.Fprintln(os.Stderr, "  vocsctl recordings list [loop]")
	fmt.Fprintln(os.Stderr, "  vocsctl events list [loop]")
}

// runCLI dispatches subcmd, returning false if it was not recognized.
func runCLI(subcmd string, args []string, dbPath string) bool {
	switch subcmd {
	case "users":
		return cliUsers(args, dbPath)
	case "recordings":
		return cliRecordings(args, dbPath)
	case "events":
		return cliEvents(args, dbPath)
	default:
		return false
	}
}

func cliUsers(args []string, dbPath string) bool {
	authStore, err := auth.Open(dbPath + ".auth.json")
	if err != nil {
		fmt.Fprintf(os.Stderr, "error opening auth store: %v\n", err)
		os.Exit(1)
	}

	if len(args) == 0 || args[0] == "list" {
		for _, name := range authStore.Users() {
			fmt.Printf("  %s: %v\n", name, authStore.RolesForUser(name))
		}
		return true
	}

	if args[0] == "add" && len(args) >= 3 {
		name, password := args[1], args[2]
		roles := args[3:]
		hash, err := auth.HashPassword(password)
		if err != nil {
			fmt.Fprintf(os.Stderr, "error hashing password: %v\n", err)
			os.Exit(1)
		}
		if err := authStore.SetUser(name, hash, roles); err != nil {
			fmt.Fprintf(os.Stderr, "error saving user: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Added user %q with roles %v\n", name, roles)
		return true
	}

	if args[0] == "remove" && len(args) == 2 {
		removed, err := authStore.RemoveUser(args[1])
		if err != nil {
			fmt.Fprintf(os.Stderr, "error removing user: %v\n", err)
			os.Exit(1)
		}
		if !removed {
			fmt.Printf("No such user %q\n", args[1])
			return true
		}
		fmt.Printf("Removed user %q\n", args[1])
		return true
	}

	fmt.Fprintln(os.Stderr, "Usage: vocsctl users [list|add <name> <password> [role...]|remove <name>]")
	os.Exit(1)
	return true
}

func cliRecordings(args []string, dbPath string) bool {
	st, err := store.Open(dbPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error opening database: %v\n", err)
		os.Exit(1)
	}
	defer st.Close()

	if len(args) == 0 || args[0] == "list" {
		q := store.RecordingQuery{MaxResults: 100}
		if len(args) > 1 {
			q.Loop = args[1]
		}
		recs, err := st.QueryRecordings(context.Background(), q)
		if err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			os.Exit(1)
		}
		out, _ := json.MarshalIndent(recs, "", "  ")
		fmt.Println(string(out))
		return true
	}

	fmt.Fprintln(os.Stderr, "Usage: vocsctl recordings [list [loop]]")
	os.Exit(1)
	return true
}

func cliEvents(args []string, dbPath string) bool {
	st, err := store.Open(dbPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error opening database: %v\n", err)
		os.Exit(1)
	}
	defer st.Close()

	if len(args) == 0 || args[0] == "list" {
		q := store.EventQuery{MaxResults: 100}
		if len(args) > 1 {
			q.Loop = args[1]
		}
		events, err := st.QueryEvents(context.Background(), q)
		if err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			os.Exit(1)
		}
		out, _ := json.MarshalIndent(events, "", "  ")
		fmt.Println(string(out))
		return true
	}

	fmt.Fprintln(os.Stderr, "Usage: vocsctl events [list [loop]]")
	os.Exit(1)
	return true
}
