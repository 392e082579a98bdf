package shutdown

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"codeberg.org/mutker/daqlog/internal/logger"
)

// WatchSignals stops c on SIGINT or SIGTERM (or sigs, when given) until ctx
// is done. It blocks.
func WatchSignals(ctx context.Context, c *Coordinator, sigs ...os.Signal) {
	if len(sigs) == 0 {
		sigs = []os.Signal{syscall.SIGINT, syscall.SIGTERM}
	}

	ch := make(chan os.Signal, 1)
	signal.Notify(ch, sigs...)
	defer signal.Stop(ch)

	WatchSignalChannel(ctx, c, ch)
}

// WatchSignalChannel is WatchSignals reading from an existing channel.
func WatchSignalChannel(ctx context.Context, c *Coordinator, ch <-chan os.Signal) {
	for {
		select {
		case <-ctx.Done():
			return
		case sig := <-ch:
			if c.RequestStop(ReasonSignal) {
				logger.Info().Str("signal", sig.String()).Msg("Received termination signal")
				continue
			}
			logger.Info().Str("signal", sig.String()).Msg("Already stopping")
		}
	}
}

// WatchInput stops c once the operator enters a line on r. End of input
// without a line leaves the run alone, which is what happens when stdin is
// not a terminal. The read cannot be interrupted, so callers run this in a
// goroutine they never wait for.
func WatchInput(c *Coordinator, r io.Reader, prompt io.Writer) {
	if prompt != nil {
		fmt.Fprintln(prompt, "Press Enter to stop acquisition")
	}

	line, err := bufio.NewReader(r).ReadString('\n')
	if err != nil && line == "" {
		logger.Debug().Err(err).Msg("Operator input closed")
		return
	}

	if c.RequestStop(ReasonOperator) {
		logger.Info().Str("input", strings.TrimSpace(line)).Msg("Operator requested stop")
	}
}
