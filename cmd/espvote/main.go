package main

import (
	"errors"
	"fmt"
	"os"

	"espvote/config"
	"espvote/server"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
)

func main() {
	// .env не обязателен
	_ = godotenv.Load()

	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(2)
	}

	var app server.App
	app.Initialize(cfg)
	if err := app.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "server: %v\n", err)
		os.Exit(1)
	}
}
