// Command sessiongate runs the single-session WebSocket gateway.
//
// Configuration is read from SESSIONGATE_* environment variables, optionally
// layered over the YAML file named by SESSIONGATE_CONFIG.
package main

import (
	"context"
	"log/slog"
	"os"

	"sessiongate/internal/app"
)

func main() {
	ctx := context.Background()

	application, err := app.NewApplication(ctx)
	if err != nil {
		slog.Error("Failed to initialize application", slog.String("error", err.Error()))
		os.Exit(1)
	}

	if err := application.Run(ctx); err != nil {
		slog.Error("Application error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}
