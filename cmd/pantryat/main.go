package main

import (
	"context"
	"os"

	"pantryat/cmd/pantryat/cmd"
	"pantryat/internal/shutdown"
	"pantryat/internal/utils"
)

func main() {
	mgr := shutdown.NewManager(context.Background(), utils.GetLogger().Zerolog())
	stop := mgr.HandleSignals()

	code := cmd.ExecuteContext(mgr.Context(), os.Args[1:], os.Stdout, os.Stderr, &cmd.Config{Stdin: os.Stdin})

	stop()
	mgr.Shutdown()
	os.Exit(code)
}
