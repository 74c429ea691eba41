// Command driftchaind is the node entrypoint: it opens the store, rebuilds
// the blockchain facade, starts the HTTP submit surface, and drives the
// single-threaded cooperative event loop (spec.md §5) over the 1s/10s/60s/
// 600s periodic ticks.
package main

import (
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/sirupsen/logrus"
	cli "gopkg.in/urfave/cli.v1"

	"driftchain/chain"
	"driftchain/config"
	"driftchain/peerbook"
	"driftchain/ratelimit"
	"driftchain/rpcapi"
	"driftchain/store"
	"driftchain/xcrypto"
)

var log = logrus.WithField("subsystem", "driftchaind")

func main() {
	app := cli.NewApp()
	app.Name = "driftchaind"
	app.Usage = "driftchain validator node"
	app.Flags = config.Flags()
	app.Action = run

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(ctx *cli.Context) error {
	cfg, err := config.Load(ctx)
	if err != nil {
		return err
	}

	db, err := store.Open(cfg.StorePath)
	if err != nil {
		return err
	}
	defer db.Close()

	bc := chain.New(db, cfg.TrustForkAfterBlocks)
	if err := bc.Load(); err != nil {
		return err
	}

	book, err := peerbook.New(db)
	if err != nil {
		return err
	}

	key, err := loadOrCreateValidatorKey(cfg.ValidatorKeyPath)
	if err != nil {
		return err
	}

	limiter := ratelimit.New(cfg.RateLimit.ToLimits())
	handler := &rpcapi.Handler{Chain: bc, Limiter: limiter}

	server := &http.Server{Addr: cfg.ListenAddr, Handler: handler.Router()}
	go func() {
		log.WithField("addr", cfg.ListenAddr).Info("submit surface listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Error("submit surface stopped")
		}
	}()

	eventLoop(bc, book, limiter, key, cfg)
	return nil
}

func loadOrCreateValidatorKey(path string) (*xcrypto.PrivateKey, error) {
	if raw, err := os.ReadFile(path); err == nil {
		return xcrypto.KeyFromBytes(raw)
	}
	key, err := xcrypto.GenerateKey()
	if err != nil {
		return nil, err
	}
	if err := os.WriteFile(path, key.Bytes(), 0o600); err != nil {
		return nil, err
	}
	return key, nil
}

// eventLoop is the single cooperative task spec.md §5 describes: every
// tick handler runs to completion before the next select fires, so no
// facade field is ever touched concurrently.
func eventLoop(bc *chain.Blockchain, book *peerbook.Book, limiter *ratelimit.Limiter, key *xcrypto.PrivateKey, cfg config.Config) {
	oneSecond := time.NewTicker(1 * time.Second)
	tenSeconds := time.NewTicker(10 * time.Second)
	sixtySeconds := time.NewTicker(60 * time.Second)
	sixHundredSeconds := time.NewTicker(600 * time.Second)
	defer oneSecond.Stop()
	defer tenSeconds.Stop()
	defer sixtySeconds.Stop()
	defer sixHundredSeconds.Stop()

	heartbeat := color.New(color.FgGreen)

	for {
		select {
		case <-oneSecond.C:
			now := uint32(time.Now().Unix())
			bc.SaveBlocks(now)
			bc.Sync.Tick()
			if lb := bc.Unstable.LatestBlock; !bc.Sync.Completed() && lb != nil && lb.Timestamp+cfg.BlockTime >= now {
				bc.Sync.MarkCompleted()
			}

		case <-tenSeconds.C:
			heartbeat.Printf("height=%d bps=%.2f downloading=%v peers=%d\n", bc.Height(), bc.Sync.BPS(), bc.Sync.Downloading(), len(book.Known()))

		case <-sixtySeconds.C:
			now := uint32(time.Now().Unix())
			limiter.Clear()
			bc.PendingRetainNonAncient(now)

			slot := now - (now % cfg.BlockTime)
			if addr, ok := bc.Unstable.NextStaker(slot); !ok || addr == key.Address() {
				b, err := bc.ForgeBlock(key, slot)
				if err != nil {
					log.WithError(err).Debug("forge skipped")
				} else {
					log.WithField("hash", b.Hash()).Info("forged block")
				}
			}

		case <-sixHundredSeconds.C:
			log.WithField("height", bc.Height()).Info("status checkpoint")
		}
	}
}
