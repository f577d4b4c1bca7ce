// Command save-laz captures one frame from a Livox Mid-360 and writes it as a
// LAZ point cloud together with its IMU samples and a status document.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := newRootCmd(defaultDeps()).ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintf(os.Stderr, "save-laz: %v\n", err)
		os.Exit(1)
	}
}
