package system

import (
	"context"
	"time"

	"github.com/KevinKickass/factoryctrl/internal/actuator"
	"github.com/KevinKickass/factoryctrl/internal/api/rest"
	"github.com/KevinKickass/factoryctrl/internal/api/websocket"
	"github.com/KevinKickass/factoryctrl/internal/config"
	"github.com/KevinKickass/factoryctrl/internal/controlloop"
	"github.com/KevinKickass/factoryctrl/internal/modbus"
	"github.com/KevinKickass/factoryctrl/internal/msgbus"
	"go.uber.org/zap"
)

const statusShutdownTimeout = 5 * time.Second

// LifecycleManager wires the config into the driver, the control loop and the
// optional status API, and owns their shutdown order.
type LifecycleManager struct {
	config     *config.Config
	driver     *actuator.Driver
	loop       *controlloop.Loop
	restServer *rest.Server
	wsHub      *websocket.Hub
	logger     *zap.Logger
}

func NewLifecycleManager(cfg *config.Config, logger *zap.Logger) *LifecycleManager {
	io := cfg.IOModule
	client := modbus.NewClient(io.Address(), io.ConnectTimeout, io.RetryOnEmpty)
	driver := actuator.NewDriver(client, io, logger.Named("actuator"))

	lm := &LifecycleManager{
		config: cfg,
		driver: driver,
		logger: logger,
	}

	lm.loop = controlloop.New(driver, lm.subscribe, cfg.Env.SubTopics, logger.Named("loop"))

	if cfg.StatusPort > 0 {
		lm.wsHub = websocket.NewHub(logger.Named("ws"))
		lm.loop.SetEventSink(lm.wsHub)
		lm.restServer = rest.NewServer(cfg.StatusPort, lm.loop, lm.wsHub, logger.Named("rest"))
	}

	return lm
}

// Run blocks until the control loop terminates. A nil error means shutdown by ctx.
func (lm *LifecycleManager) Run(ctx context.Context) error {
	if lm.restServer != nil {
		hubCtx, stopHub := context.WithCancel(context.Background())
		defer stopHub()
		go lm.wsHub.Run(hubCtx)

		if err := lm.restServer.Start(); err != nil {
			lm.logger.Error("Failed to start status API", zap.Error(err))
			return err
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), statusShutdownTimeout)
			defer cancel()

			if err := lm.restServer.Shutdown(shutdownCtx); err != nil {
				lm.logger.Warn("Status API shutdown failed", zap.Error(err))
			}
		}()
	}

	lm.logger.Info("Starting control loop",
		zap.String("io_module", lm.config.IOModule.Address()),
		zap.Uint16("red_bit_register", lm.config.IOModule.RedBitRegister),
		zap.Uint16("green_bit_register", lm.config.IOModule.GreenBitRegister),
		zap.Strings("topics", lm.config.Env.SubTopics),
		zap.Bool("dev_mode", lm.config.Env.DevMode))

	if err := lm.loop.Run(ctx); err != nil {
		lm.logger.Error("Control loop terminated", zap.Error(err))
		return err
	}

	lm.logger.Info("Control loop stopped")
	return nil
}

// Status returns the control loop snapshot.
func (lm *LifecycleManager) Status() controlloop.Status {
	return lm.loop.Status()
}

func (lm *LifecycleManager) subscribe(ctx context.Context, sub string) (msgbus.Subscriber, error) {
	route, err := msgbus.ParseRoute(sub, lm.config.Env.TopicConfigs, lm.config.Env.DevMode)
	if err != nil {
		return nil, err
	}

	return msgbus.Dial(ctx, route, lm.logger.Named("msgbus"))
}
