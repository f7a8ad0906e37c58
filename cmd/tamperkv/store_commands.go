package main

import (
	"errors"
	"fmt"
	"io"

	"tamperkv/internal/integrity"
	"tamperkv/internal/ssh"
)

func registerStoreCommands(reg ssh.CommandRegistrar, eng *integrity.Engine) {
	if eng == nil {
		return
	}

	reg.Register("/get", ssh.Command{
		Usage:   "/get <key>",
		Help:    "read a value (restored from backup if tampered)",
		Handler: handleGet(eng),
	})

	reg.Register("/set", ssh.Command{
		Usage:   "/set <key> <value>",
		Help:    "store a value, prints its digest",
		Handler: handleSet(eng),
	})

	reg.Register("/list", ssh.Command{
		Help:    "print every entry as JSON",
		Handler: handleList(eng),
	})

	reg.Register("/verify", ssh.Command{
		Usage:   "/verify <json>",
		Help:    "check a /list snapshot against the global digest",
		Handler: handleVerify(eng),
	})

	reg.Register("/digest", ssh.Command{
		Help:    "show store id and global digest",
		Handler: handleDigest(eng),
	})

	reg.Register("/reload", ssh.Command{
		Help:    "reload the database from the primary store",
		Handler: handleReload(eng),
	})
}

func handleGet(eng *integrity.Engine) ssh.CommandHandler {
	return func(ctx ssh.CommandContext) bool {
		if len(ctx.Args) != 1 {
			_, _ = fmt.Fprintln(ctx.Terminal, "Usage: /get <key>")
			return false
		}
		res, err := eng.Get(ctx.Args[0])
		if err != nil {
			printErr(ctx.Terminal, err)
			return false
		}
		printJSON(ctx.Terminal, res)
		return false
	}
}

func handleSet(eng *integrity.Engine) ssh.CommandHandler {
	return func(ctx ssh.CommandContext) bool {
		if len(ctx.Args) < 2 {
			_, _ = fmt.Fprintln(ctx.Terminal, "Usage: /set <key> <value>")
			return false
		}
		digest, err := eng.Set(ctx.Args[0], ctx.Rest(1))
		if err != nil {
			printErr(ctx.Terminal, err)
			return false
		}
		printJSON(ctx.Terminal, setResponse{Message: saveMessage, DataID: digest})
		return false
	}
}

func handleList(eng *integrity.Engine) ssh.CommandHandler {
	return func(ctx ssh.CommandContext) bool {
		printJSON(ctx.Terminal, eng.List())
		return false
	}
}

func handleVerify(eng *integrity.Engine) ssh.CommandHandler {
	return func(ctx ssh.CommandContext) bool {
		raw := ctx.Rest(0)
		if raw == "" {
			_, _ = fmt.Fprintln(ctx.Terminal, "Usage: /verify <json>")
			return false
		}
		candidate, err := parseSnapshot([]byte(raw))
		if err != nil {
			printErr(ctx.Terminal, err)
			return false
		}
		ok, err := eng.Verify(candidate)
		if err != nil {
			printErr(ctx.Terminal, err)
			return false
		}
		printJSON(ctx.Terminal, verifyResponse{Verified: ok, GlobalHash: eng.GlobalHash()})
		return false
	}
}

func handleDigest(eng *integrity.Engine) ssh.CommandHandler {
	return func(ctx ssh.CommandContext) bool {
		printJSON(ctx.Terminal, digestResponse{
			StoreID:    eng.StoreID(),
			Algorithm:  eng.Hasher().Name(),
			GlobalHash: eng.GlobalHash(),
		})
		return false
	}
}

func handleReload(eng *integrity.Engine) ssh.CommandHandler {
	return func(ctx ssh.CommandContext) bool {
		if err := eng.Reload(); err != nil {
			printErr(ctx.Terminal, err)
			return false
		}
		_, _ = fmt.Fprintf(ctx.Terminal, "Reloaded (%d entries)\r\n", len(eng.List()))
		return false
	}
}

func printJSON(w io.Writer, v any) {
	if err := writeJSON(w, v); err != nil {
		printErr(w, err)
	}
}

func printErr(w io.Writer, err error) {
	switch {
	case errors.Is(err, integrity.ErrPersistenceFailure):
		_, _ = fmt.Fprintf(w, "Persistence failure: %v\r\n", err)
	default:
		_, _ = fmt.Fprintf(w, "Error: %v\r\n", err)
	}
}
