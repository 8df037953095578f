package run

import (
	"context"
	"os"
	"os/signal"

	"github.com/coreos/go-systemd/daemon"
	"github.com/juju/errors"
	"github.com/temoto/cabinet/cmd/cabinet/subcmd"
	"github.com/temoto/cabinet/internal/state"
	"golang.org/x/sys/unix"
)

var Mod = subcmd.Mod{Name: "run", Main: Main}

func Main(ctx context.Context, config *state.Config) error {
	g := state.GetGlobal(ctx)
	g.MustInit(ctx, config)
	g.Log.Debugf("config=%+v", g.Config)

	if err := g.Start(); err != nil {
		return errors.Annotate(err, "start")
	}
	subcmd.SdNotify(g.Log, daemon.SdNotifyReady)

	sigch := make(chan os.Signal, 1)
	signal.Notify(sigch, unix.SIGINT, unix.SIGTERM)
	select {
	case sig := <-sigch:
		g.Log.Infof("signal=%v", sig)
	case <-g.Service.Done():
		g.Log.Errorf("control loop exited")
	}
	signal.Stop(sigch)

	subcmd.SdNotify(g.Log, daemon.SdNotifyStopping)
	g.Stop()
	g.Wait()
	return nil
}
