package receiver

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/sheerbytes/relaydrop/internal/app"
	"github.com/sheerbytes/relaydrop/internal/cli/cliutil"
	"github.com/sheerbytes/relaydrop/internal/config"
	"github.com/sheerbytes/relaydrop/internal/logging"
	"github.com/sheerbytes/relaydrop/internal/termio"
)

// Run implements "relaydrop receive <link>". It does not return on failure.
func Run(args []string) {
	if len(args) == 0 {
		printReceiverUsage()
		os.Exit(cliutil.ExitUsage)
	}
	if cliutil.HasHelpFlag(args) {
		printReceiverUsage()
		return
	}

	cfg, err := config.ParseClientConfig("receive", cliutil.FlagsFirst(args))
	if err != nil {
		fmt.Fprintln(termio.Stderr(), err)
		printReceiverUsage()
		os.Exit(cliutil.ExitUsage)
	}
	if len(cfg.Args) != 1 {
		fmt.Fprintln(termio.Stderr(), "receive takes exactly one link or sender id")
		printReceiverUsage()
		os.Exit(cliutil.ExitUsage)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger := logging.New("relaydrop-receive", cfg.LogLevel, cfg.LogFormat)
	_, err = app.RunReceiver(ctx, logger, app.ReceiveConfig{
		ServerURL:  cfg.ServerURL,
		Link:       cfg.Args[0],
		OutDir:     cfg.OutDir,
		Out:        termio.Stdout(),
		NoProgress: !termio.IsTerminal(os.Stdout),
	})
	termio.Flush()
	if err != nil {
		logger.Error("receive failed", "error", err)
		termio.Flush()
		interrupted := ctx.Err() != nil
		stop()
		os.Exit(cliutil.ExitCode(err, interrupted))
	}
}

func printReceiverUsage() {
	w := termio.Stderr()
	fmt.Fprintln(w, "usage: relaydrop receive <link|sender-id> [--out DIR] [--server-url URL]")
	fmt.Fprintln(w, "  --out DIR          output directory (default ., env RELAYDROP_OUT_DIR)")
	fmt.Fprintln(w, "  --server-url URL   relay server URL (default http://localhost:8080, env RELAYDROP_SERVER_URL)")
	fmt.Fprintln(w, "  --log-level LEVEL  debug, info, warn or error (default info)")
	fmt.Fprintln(w, "  --log-format FMT   text or json (default text)")
	termio.Flush()
}
