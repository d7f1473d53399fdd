// Command analyze runs analysis passes and network queries from the command
// line, over a JSON corpus file or the database.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/OFFIS-RIT/regnet/internal/util"
	"github.com/OFFIS-RIT/regnet/pkg/logger"
	"github.com/OFFIS-RIT/regnet/pkg/logger/console"
)

func main() {
	util.LoadEnv()
	logger.Init(console.NewConsoleLogger(console.ConsoleLoggerParams{
		Debug: util.GetEnvBool("DEBUG", false),
	}))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCommand().ExecuteContext(ctx); err != nil {
		stop()
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
