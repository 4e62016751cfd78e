package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/dustin/go-humanize"

	"nexus/server/internal/handlers"
	"nexus/server/internal/permission"
	"nexus/server/internal/protocol"
	"nexus/server/internal/session"
	"nexus/server/store"
)

// RunCLI handles subcommand execution. Returns true if a subcommand was handled.
func RunCLI(args []string, dbPath string) bool {
	if len(args) == 0 {
		return false
	}

	subcmd := args[0]
	switch subcmd {
	case "version":
		fmt.Printf("nexus server %s\n", Version)
		return true
	case "status":
		return cliStatus(dbPath)
	case "users":
		return cliUsers(args[1:], dbPath)
	case "bans":
		return cliBans(args[1:], dbPath)
	case "trusts":
		return cliTrusts(args[1:], dbPath)
	case "settings":
		return cliSettings(args[1:], dbPath)
	case "backup":
		return cliBackup(args[1:], dbPath)
	default:
		return false
	}
}

func openStoreOrExit(dbPath string) *store.Store {
	st, err := store.New(dbPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error opening database: %v\n", err)
		os.Exit(1)
	}
	return st
}

func cliStatus(dbPath string) bool {
	st := openStoreOrExit(dbPath)
	defer st.Close()

	name, _, _ := st.GetSetting("server_name")
	accounts, err := st.ListAccounts()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	info, statErr := os.Stat(dbPath)
	size := "unknown"
	if statErr == nil {
		size = humanize.Bytes(uint64(info.Size()))
	}

	fmt.Printf("Server: %s\n", name)
	fmt.Printf("Database: %s (%s)\n", dbPath, size)
	fmt.Printf("Accounts: %d\n", len(accounts))
	fmt.Printf("Version: %s\n", Version)
	return true
}

func cliUsers(args []string, dbPath string) bool {
	st := openStoreOrExit(dbPath)
	defer st.Close()

	if len(args) == 0 || args[0] == "list" {
		accounts, err := st.ListAccounts()
		if err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			os.Exit(1)
		}
		if len(accounts) == 0 {
			fmt.Println("No accounts found.")
			return true
		}
		for _, acc := range accounts {
			status := "enabled"
			if !acc.Enabled {
				status = "disabled"
			}
			role := "user"
			if acc.IsAdmin {
				role = "admin"
			} else if acc.IsShared {
				role = "shared"
			}
			fmt.Printf("  %-20s %-8s %s\n", acc.Username, role, status)
		}
		return true
	}

	if args[0] == "create" && len(args) > 2 {
		username, password := args[1], args[2]
		isAdmin, isShared := false, false
		for _, flagArg := range args[3:] {
			switch flagArg {
			case "--admin":
				isAdmin = true
			case "--shared":
				isShared = true
			}
		}
		perms := make([]string, 0, len(permission.All))
		if isAdmin {
			for _, p := range permission.All {
				perms = append(perms, string(p))
			}
		}
		if err := st.CreateAccount(username, password, isAdmin, isShared, perms, session.Now()); err != nil {
			fmt.Fprintf(os.Stderr, "error creating account: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Created account %q\n", username)
		return true
	}

	if args[0] == "enable" && len(args) > 1 {
		return setAccountEnabled(st, args[1], true)
	}
	if args[0] == "disable" && len(args) > 1 {
		return setAccountEnabled(st, args[1], false)
	}

	if args[0] == "delete" && len(args) > 1 {
		if err := st.DeleteAccount(args[1]); err != nil {
			fmt.Fprintf(os.Stderr, "error deleting account: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Deleted account %q\n", args[1])
		return true
	}

	fmt.Fprintf(os.Stderr, "Usage: server users [list|create <user> <pass> [--admin] [--shared]|enable <user>|disable <user>|delete <user>]\n")
	os.Exit(1)
	return true
}

func setAccountEnabled(st *store.Store, username string, enabled bool) bool {
	if err := st.SetAccountEnabled(username, enabled); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	verb := "enabled"
	if !enabled {
		verb = "disabled"
	}
	fmt.Printf("Account %q %s\n", username, verb)
	return true
}

func cliBans(args []string, dbPath string) bool {
	st := openStoreOrExit(dbPath)
	defer st.Close()

	if len(args) == 0 || args[0] == "list" {
		bans, err := st.ListBans()
		if err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			os.Exit(1)
		}
		if len(bans) == 0 {
			fmt.Println("No bans found.")
			return true
		}
		for _, b := range bans {
			fmt.Printf("  [%s] %s - %s (by %s)\n", b.TargetKind, b.Target, b.Reason, b.CreatedBy)
		}
		return true
	}

	if args[0] == "add" && len(args) > 2 {
		kind := protocol.TargetKind(args[2])
		if err := st.AddBan(handlers.BanRecord{Target: args[1], TargetKind: kind, Reason: "cli", CreatedBy: "cli"}); err != nil {
			fmt.Fprintf(os.Stderr, "error adding ban: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Banned %s %q\n", kind, args[1])
		return true
	}

	if args[0] == "remove" && len(args) > 2 {
		kind := protocol.TargetKind(args[2])
		if _, err := st.DeleteBan(args[1], kind); err != nil {
			fmt.Fprintf(os.Stderr, "error removing ban: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Removed ban on %s %q\n", kind, args[1])
		return true
	}

	fmt.Fprintf(os.Stderr, "Usage: server bans [list|add <target> <address|nickname|username>|remove <target> <kind>]\n")
	os.Exit(1)
	return true
}

func cliTrusts(args []string, dbPath string) bool {
	st := openStoreOrExit(dbPath)
	defer st.Close()

	if len(args) == 0 || args[0] == "list" {
		trusts, err := st.ListTrusts()
		if err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			os.Exit(1)
		}
		if len(trusts) == 0 {
			fmt.Println("No trusts found.")
			return true
		}
		for _, t := range trusts {
			fmt.Printf("  [%s] %s - %s (by %s)\n", t.TargetKind, t.Target, t.Reason, t.CreatedBy)
		}
		return true
	}

	if args[0] == "add" && len(args) > 2 {
		kind := protocol.TargetKind(args[2])
		if err := st.AddTrust(handlers.TrustRecord{Target: args[1], TargetKind: kind, Reason: "cli", CreatedBy: "cli"}); err != nil {
			fmt.Fprintf(os.Stderr, "error adding trust: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Trusted %s %q\n", kind, args[1])
		return true
	}

	if args[0] == "remove" && len(args) > 2 {
		kind := protocol.TargetKind(args[2])
		if _, err := st.DeleteTrust(args[1], kind); err != nil {
			fmt.Fprintf(os.Stderr, "error removing trust: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Removed trust on %s %q\n", kind, args[1])
		return true
	}

	fmt.Fprintf(os.Stderr, "Usage: server trusts [list|add <target> <kind>|remove <target> <kind>]\n")
	os.Exit(1)
	return true
}

func cliSettings(args []string, dbPath string) bool {
	st := openStoreOrExit(dbPath)
	defer st.Close()

	if len(args) == 0 || args[0] == "list" {
		settings, err := st.GetAllSettings()
		if err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			os.Exit(1)
		}
		out, _ := json.MarshalIndent(settings, "", "  ")
		fmt.Println(string(out))
		return true
	}

	if args[0] == "set" && len(args) > 2 {
		key, value := args[1], args[2]
		if err := st.SetSetting(key, value); err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Set %s = %s\n", key, value)
		return true
	}

	fmt.Fprintf(os.Stderr, "Usage: server settings [list|set <key> <value>]\n")
	os.Exit(1)
	return true
}

func cliBackup(args []string, dbPath string) bool {
	st := openStoreOrExit(dbPath)
	defer st.Close()

	outPath := "nexus-backup.db"
	if len(args) > 0 {
		outPath = args[0]
	}

	if err := st.Backup(outPath); err != nil {
		fmt.Fprintf(os.Stderr, "backup failed: %v\n", err)
		os.Exit(1)
	}

	size := "unknown"
	if info, err := os.Stat(outPath); err == nil {
		size = humanize.Bytes(uint64(info.Size()))
	}
	fmt.Printf("Database backed up to %s (%s)\n", outPath, size)
	return true
}
