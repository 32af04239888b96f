// aoectl runs the AOE orchestration engine: it loads AOE models, builds
// the fleet, starts the dispatcher, and serves the monitoring API until
// an OS signal asks for shutdown.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/shufengdong/sparrowzz-sub000/internal/aoe"
	"github.com/shufengdong/sparrowzz-sub000/internal/aoestore"
	"github.com/shufengdong/sparrowzz-sub000/internal/api"
	"github.com/shufengdong/sparrowzz-sub000/internal/config"
	"github.com/shufengdong/sparrowzz-sub000/internal/dispatcher"
	"github.com/shufengdong/sparrowzz-sub000/internal/domain"
	"github.com/shufengdong/sparrowzz-sub000/internal/tracing"
)

const shutdownDeadline = 10 * time.Second

func main() {
	cfg := config.Load()

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	store := openStore(cfg)
	if cfg.ModelPath != "" {
		if err := aoestore.LoadIntoStore(store, cfg.ModelPath); err != nil {
			log.Fatal().Err(err).Str("path", cfg.ModelPath).Msg("model file load failed")
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	tp, err := tracing.NewProvider(ctx, tracing.Config{
		Enabled:     cfg.OTelEnabled,
		ServiceName: cfg.OTelServiceName,
		Endpoint:    cfg.OTelEndpoint,
		Insecure:    cfg.OTelInsecure,
		SampleRate:  cfg.OTelSampleRate,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("tracing init failed")
	}
	if tp != nil {
		log.Info().Str("endpoint", cfg.OTelEndpoint).Msg("tracing enabled")
		defer func() {
			shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
			defer done()
			if err := tp.Shutdown(shutdownCtx); err != nil {
				log.Warn().Err(err).Msg("tracing shutdown failed")
			}
		}()
	}

	models, err := store.ListModels(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("model listing failed")
	}
	insts := buildInstances(models, cfg)
	if len(insts) == 0 {
		log.Warn().Msg("no loadable aoe models; engine idles until reconfigured")
	}

	d := dispatcher.New(cfg.ResultBuf)
	if err := d.Schedule(insts); err != nil {
		log.Fatal().Err(err).Msg("scheduling failed")
	}

	// External I/O adapters own the control side in a full deployment;
	// here the process boundary logs each batch so nothing blocks.
	for _, inst := range insts {
		go drainControl(ctx, inst)
	}

	hub := api.NewHub(slog.Default())
	go hub.Run(ctx)
	go pumpResults(d, hub)

	if cfg.HTTPAddr != "" {
		srv := api.NewServer(d, hub, cfg.JWTSecret)
		go func() {
			if err := srv.Run(cfg.HTTPAddr); err != nil {
				log.Error().Err(err).Msg("api server exited")
			}
		}()
		log.Info().Str("addr", cfg.HTTPAddr).Msg("monitoring api listening")
	}

	log.Info().Int("aoes", len(insts)).Msg("engine started")

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	log.Info().Msg("shutting down")
	cancel()
	if err := d.Shutdown(shutdownDeadline); err != nil {
		log.Warn().Err(err).Msg("dispatcher shutdown incomplete")
		os.Exit(1)
	}
}

func openStore(cfg *config.Config) aoestore.Store {
	if cfg.DatabaseDSN == "" {
		return aoestore.NewMemoryStore()
	}
	store := aoestore.NewBunStore(cfg.DatabaseDSN)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := store.InitSchema(ctx); err != nil {
		log.Fatal().Err(err).Msg("schema init failed")
	}
	log.Info().Msg("model store connected")
	return store
}

// buildInstances constructs and validates one Instance per model. A model
// that fails validation is skipped, not fatal: parse and graph errors
// abort that AOE's loading only (spec.md §7).
func buildInstances(models []*domain.AoeModel, cfg *config.Config) []*aoe.Instance {
	insts := make([]*aoe.Instance, 0, len(models))
	for _, model := range models {
		inst := aoe.New(model, domain.NewBuffer(), cfg.MeasBufNum, cfg.ControlBuf)
		if err := inst.FinishAndCheck(nil); err != nil {
			log.Warn().Err(err).Uint64("aoe_id", model.ID).Str("name", model.Name).Msg("aoe rejected at load")
			continue
		}
		insts = append(insts, inst)
	}
	return insts
}

func pumpResults(d *dispatcher.Dispatcher, hub *api.Hub) {
	for res := range d.ResultReceiver() {
		hub.Publish(res)
		log.Info().
			Uint64("aoe_id", res.AoeID).
			Int("events", len(res.EventResults)).
			Int("actions", len(res.ActionResults)).
			Dur("elapsed", res.EndTime.Sub(res.StartTime)).
			Msg("aoe activation result")
	}
}

func drainControl(ctx context.Context, inst *aoe.Instance) {
	for {
		select {
		case <-ctx.Done():
			return
		case batch := <-inst.ControlReceiver():
			log.Info().
				Uint64("aoe_id", inst.Model().ID).
				Int("yk", len(batch.Ints)).
				Int("yt", len(batch.Floats)).
				Msg("control batch emitted")
		}
	}
}
