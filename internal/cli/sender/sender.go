package sender

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

// Run implements "relaydrop send <path>". It does not return on failure.
func Run(args []string) {
	if len(args) == 0 {
		printSenderUsage()
		os.Exit(cliutil.ExitUsage)
	}
	if cliutil.HasHelpFlag(args) {
		printSenderUsage()
		return
	}

	cfg, err := config.ParseClientConfig("send", cliutil.FlagsFirst(args))
	if err != nil {
		fmt.Fprintln(termio.Stderr(), err)
		printSenderUsage()
		os.Exit(cliutil.ExitUsage)
	}
	if len(cfg.Args) != 1 {
		fmt.Fprintln(termio.Stderr(), "send takes exactly one file")
		printSenderUsage()
		os.Exit(cliutil.ExitUsage)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger := logging.New("relaydrop-send", cfg.LogLevel, cfg.LogFormat)
	err = app.RunSender(ctx, logger, app.SendConfig{
		ServerURL:  cfg.ServerURL,
		ShareURL:   cfg.ShareURL,
		Path:       cfg.Args[0],
		Out:        termio.Stdout(),
		NoProgress: !termio.IsTerminal(os.Stdout),
	})
	termio.Flush()
	if err != nil {
		logger.Error("send failed", "error", err)
		termio.Flush()
		interrupted := ctx.Err() != nil
		stop()
		os.Exit(cliutil.ExitCode(err, interrupted))
	}
}

func printSenderUsage() {
	w := termio.Stderr()
	fmt.Fprintln(w, "usage: relaydrop send <path> [--server-url URL] [--share-url URL]")
	fmt.Fprintln(w, "  --server-url URL   relay server URL (default http://localhost:8080, env RELAYDROP_SERVER_URL)")
	fmt.Fprintln(w, "  --share-url URL    base of the printed share link (env RELAYDROP_SHARE_URL)")
	fmt.Fprintln(w, "  --log-level LEVEL  debug, info, warn or error (default info)")
	fmt.Fprintln(w, "  --log-format FMT   text or json (default text)")
	termio.Flush()
}
