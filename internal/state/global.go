package state

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/juju/errors"
	"github.com/temoto/alive/v2"
	"github.com/temoto/cabinet/hardware/input"
	"github.com/temoto/cabinet/internal/cabinet"
	"github.com/temoto/cabinet/internal/clock"
	"github.com/temoto/cabinet/internal/command"
	"github.com/temoto/cabinet/internal/dispatch"
	"github.com/temoto/cabinet/internal/types"
	"github.com/temoto/cabinet/log2"
)

type Global struct {
	Alive        *alive.Alive
	BuildVersion string
	Config       *Config
	Hardware     hardware // hardware.go
	Input        *input.Dispatch
	Log          *log2.Log
	Service      *cabinet.Service
	Server       *command.Server
	HTTP         *dispatch.HTTP
	Mqtt         *dispatch.Mqtt
	// nil means http.DefaultTransport
	HTTPTransport http.RoundTripper

	stopOnce sync.Once
}

const ContextKey = "run/state-global"

const serverStopTimeout = 5 * time.Second

func NewContext(log *log2.Log) (context.Context, *Global) {
	if log == nil {
		panic("code error NewContext() log=nil")
	}

	g := &Global{
		Alive: alive.NewAlive(),
		Log:   log,
	}
	// released at the end of Stop, so Wait covers whole shutdown
	g.Alive.Add(1)
	ctx := context.Background()
	ctx = context.WithValue(ctx, log2.ContextKey, log)
	ctx = context.WithValue(ctx, ContextKey, g)
	return ctx, g
}

func GetGlobal(ctx context.Context) *Global {
	v := ctx.Value(ContextKey)
	if v == nil {
		panic(fmt.Sprintf("context['%s'] is nil", ContextKey))
	}
	if g, ok := v.(*Global); ok {
		return g
	}
	panic(fmt.Sprintf("context['%s'] expected type *Global actual=%#v", ContextKey, v))
}

// If `Init` fails, consider `Global` is in broken state.
func (g *Global) Init(ctx context.Context, cfg *Config) error {
	g.Config = cfg
	if cfg.LogDebug {
		g.Log.SetLevel(log2.LDebug)
	}

	if err := g.initHardware(); err != nil {
		return errors.Annotate(err, "hardware init")
	}

	resolver, err := cfg.Resolver()
	if err != nil {
		return errors.Annotate(err, "config: coin")
	}
	buttons, err := cfg.Buttons()
	if err != nil {
		return err
	}

	emitter := dispatch.Multi{dispatch.Log{Log: g.Log.WithPrefix("event")}}
	if cfg.Dispatch.HTTP.Enable {
		g.HTTP = dispatch.NewHTTP(g.Log.WithPrefix("dispatch"), cfg.HTTPConfig(), g.HTTPTransport)
		emitter = append(emitter, g.HTTP)
	}
	if cfg.Dispatch.Mqtt.Enable {
		g.Mqtt = dispatch.NewMqtt(g.Log.WithPrefix("mqtt"), cfg.MqttConfig(), g.command)
		emitter = append(emitter, g.Mqtt)
	}

	g.Service = cabinet.New(g.Log.WithPrefix("cabinet"), clock.Real(), g.Hardware.Motor, emitter, cabinet.Config{
		Debounce: cfg.Debounce(),
		Resolver: resolver,
		BatchGap: cfg.BatchGap(),
		Hopper:   cfg.HopperConfig(),
		Buttons:  buttons,
	})
	g.Input = input.NewDispatch(g.Log.WithPrefix("input"), g.Alive.StopChan())
	g.Input.SubscribeFunc("cabinet", g.Service.Input, g.Service.Done())
	g.Server = command.NewServer(g.Log.WithPrefix("command"), g.Service)
	g.Log.Debugf("config: resolver=%s batch_gap=%v", resolver.String(), cfg.BatchGap())
	return nil
}

func (g *Global) MustInit(ctx context.Context, cfg *Config) {
	err := g.Init(ctx, cfg)
	if err != nil {
		g.Log.Fatal(errors.ErrorStack(err))
	}
}

// Start runs control loop, dispatchers, input sources and command server.
// Mqtt connect failure is reported but not fatal, paho keeps reconnecting.
func (g *Global) Start() error {
	go g.Service.Run()
	if g.HTTP != nil {
		g.HTTP.Start()
	}
	if g.Mqtt != nil {
		if err := g.Mqtt.Connect(); err != nil {
			g.Error(err, "mqtt broker=%s", g.Config.Dispatch.Mqtt.Broker)
		}
	}
	// readers counted before Stop may Wait for them
	g.Input.Read(g.Hardware.Sources)
	go g.Input.Run(nil)
	if err := g.Server.Start(g.Config.Command.Listen); err != nil {
		g.Stop()
		return errors.Annotatef(err, "config: command.listen=%s", g.Config.Command.Listen)
	}
	g.Log.Infof("started version=%s command=%s", g.BuildVersion, g.Server.Addr())
	return nil
}

// Stop order: close inputs, control loop shutdown (motor off, flush), wait
// input readers, server, dispatchers, pins.
// Safe to call more than once.
func (g *Global) Stop() {
	g.stopOnce.Do(g.stop)
}

func (g *Global) stop() {
	g.Log.Infof("stopping")
	g.Alive.Stop()
	if g.Service == nil {
		g.Alive.Done()
		return
	}
	if err := g.closeSources(); err != nil {
		g.Error(err)
	}
	// actuator off first, a source reader may take a while to notice close
	g.Service.Stop()
	g.Input.Wait()

	ctx, cancel := context.WithTimeout(context.Background(), serverStopTimeout)
	defer cancel()
	if err := g.Server.Stop(ctx); err != nil {
		g.Error(err, "command server stop")
	}
	if g.HTTP != nil {
		g.HTTP.Stop()
	}
	if g.Mqtt != nil {
		g.Mqtt.Close()
	}
	if err := g.closePins(); err != nil {
		g.Error(err, "close pins")
	}
	g.Alive.Done()
	g.Log.Infof("stopped")
}

// Wait blocks until Stop finished.
func (g *Global) Wait() { g.Alive.Wait() }

func (g *Global) Error(err error, args ...interface{}) {
	if err != nil {
		if len(args) != 0 {
			msg := args[0].(string)
			args = args[1:]
			err = errors.Annotatef(err, msg, args...)
		}
		g.Log.Error(errors.ErrorStack(err))
	}
}

func (g *Global) command(cmd types.Command) error {
	if g.Service == nil {
		return cabinet.ErrStopped
	}
	return g.Service.Command(cmd)
}
