package main

import (
	"context"
	"errors"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/caarlos0/env/v11"
	"github.com/redis/rueidis"
	"golang.org/x/sync/errgroup"

	"github.com/dustbyte/dustlink"
	"github.com/dustbyte/dustlink/pkg/directory"
	"github.com/dustbyte/dustlink/pkg/dlog"
)

type config struct {
	RedisAddr      string        `env:"REDIS_ADDR"`
	UseMiniredis   bool          `env:"USE_MINIREDIS"`
	Mode           string        `env:"LOBBY_MODE" envDefault:"host"`
	PlayerName     string        `env:"PLAYER_NAME" envDefault:"player"`
	SlotCount      int           `env:"SLOT_COUNT" envDefault:"4"`
	MatchType      string        `env:"MATCH_TYPE" envDefault:"Error404"`
	ConnectAddress string        `env:"CONNECT_ADDRESS"`
	AdvertiseTTL   time.Duration `env:"ADVERTISE_TTL" envDefault:"30s"`
}

func main() {
	var conf config
	if err := env.Parse(&conf); err != nil {
		log.Fatalf("failed to parse config: %+v", err)
	}

	backend, err := newBackend(&conf)
	if err != nil {
		log.Fatalf("failed to create backend: %+v", err)
	}

	participant := dustlink.NewLocalParticipant(conf.PlayerName)
	orch, err := dustlink.NewOrchestrator(backend, participant)
	if err != nil {
		log.Fatalf("failed to create orchestrator: %+v", err)
	}
	orch.Setup(conf.SlotCount, conf.MatchType, &logListener{})
	defer orch.Teardown()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGTERM, os.Interrupt)
	defer cancel()

	eg, ctx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		return backend.Start(ctx)
	})
	eg.Go(func() error {
		switch conf.Mode {
		case "host":
			dlog.Infof("hosting a %q session with %d slots", conf.MatchType, conf.SlotCount)
			if err := orch.RequestHost(); err != nil {
				return err
			}
		case "join":
			dlog.Infof("searching for a %q session", conf.MatchType)
			if err := orch.RequestJoin(); err != nil {
				return err
			}
		default:
			return errors.New("LOBBY_MODE must be host or join")
		}
		<-ctx.Done()
		return ctx.Err()
	})
	if err := eg.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatalf("lobby exited with error: %+v", err)
	}
}

func newBackend(conf *config) (*dustlink.DirectoryBackend, error) {
	opts := []dustlink.DirectoryBackendOption{
		dustlink.WithAdvertiseTTL(conf.AdvertiseTTL),
	}
	if conf.ConnectAddress != "" {
		opts = append(opts, dustlink.WithConnectAddress(conf.ConnectAddress))
	}

	redisAddr := conf.RedisAddr
	if conf.UseMiniredis {
		mr := miniredis.NewMiniRedis()
		if err := mr.Start(); err != nil {
			return nil, err
		}
		redisAddr = mr.Addr()
	}
	if redisAddr == "" {
		dlog.Infof("no redis configured, using the offline in-memory directory")
		return dustlink.NewLocalBackend(opts...), nil
	}

	dlog.Debugf("connecting session directory via redis at %s", redisAddr)
	client, err := rueidis.NewClient(rueidis.ClientOption{
		InitAddress:  []string{redisAddr},
		DisableCache: true,
	})
	if err != nil {
		return nil, err
	}
	dir := directory.NewRedisDirectory(client)
	return dustlink.NewDirectoryBackend("redis", dir, opts...), nil
}

// logListener reacts to completion notifications the way a menu would,
// minus the widgets.
type logListener struct{}

func (l *logListener) OnCreateComplete(wasSuccessful bool) {
	if !wasSuccessful {
		dlog.Warnf("session creation failed")
		return
	}
	dlog.Infof("session created and advertised")
}

func (l *logListener) OnFindComplete(c dustlink.FindCompletion) {
	if !c.WasSuccessful {
		dlog.Warnf("session search returned no usable results")
		return
	}
	dlog.Infof("found %d session(s)", len(c.Results))
}

func (l *logListener) OnJoinComplete(c dustlink.JoinCompletion) {
	if c.Result != dustlink.JoinSuccess {
		dlog.Warnf("join failed: %s", c.Result)
		return
	}
	dlog.Infof("joined session, connect address: %s", c.ConnectAddress)
}

func (l *logListener) OnDestroyComplete(wasSuccessful bool) {
	dlog.Infof("session destroyed: %v", wasSuccessful)
}

func (l *logListener) OnStartComplete(wasSuccessful bool) {
	dlog.Infof("session started: %v", wasSuccessful)
}
