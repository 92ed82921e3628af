package guest

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/teranos/weave/errors"
	"github.com/teranos/weave/logger"
	"github.com/teranos/weave/sandbox/rpc"
)

// Main serves the host on stdin and stdout until the host hangs up or the
// process is signalled. It returns the process exit code.
func Main() int {
	if err := logger.Initialize(true); err != nil {
		return 1
	}
	defer logger.Cleanup()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rt := New(logger.Named("sandbox"), os.Stderr)
	err := rt.Serve(ctx, rpc.NewStream(os.Stdin, os.Stdout))
	if err != nil && !errors.Is(err, context.Canceled) {
		logger.Errorw("Sandbox stopped", logger.FieldError, err)
		return 1
	}
	return 0
}
