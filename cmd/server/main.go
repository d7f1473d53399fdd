package main

import (
	"github.com/OFFIS-RIT/regnet/internal/server"
	"github.com/OFFIS-RIT/regnet/internal/util"
	"github.com/OFFIS-RIT/regnet/pkg/logger"
	"github.com/OFFIS-RIT/regnet/pkg/logger/console"

	_ "github.com/lib/pq"
)

func main() {
	util.LoadEnv()

	debug := util.GetEnvBool("DEBUG", false)

	consoleLogger := console.NewConsoleLogger(console.ConsoleLoggerParams{
		Debug: debug,
	})
	logger.Init(consoleLogger)

	server.Init()
}
