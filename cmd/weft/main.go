// Command weft runs a workflow graph or prints its version hash.
//
//	weft run -graph summarize.yaml -input url=https://example.com -mode dev
//	weft hash -graph summarize.yaml
//
// A .env file in the working directory is loaded before the config, so
// WEFT_OPENAI_API_KEY and friends can live there.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	_ "github.com/joho/godotenv/autoload"
)

func main() {
	inv, err := ParseInvocation(os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(exitCode(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code, err := Execute(ctx, inv, os.Stdout)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
	}
	os.Exit(code)
}
