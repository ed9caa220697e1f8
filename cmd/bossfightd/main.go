package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/decred/slog"

	"github.com/soltomm/boss-fight-pump-fun/bossgame"
	"github.com/soltomm/boss-fight-pump-fun/chat"
	"github.com/soltomm/boss-fight-pump-fun/ledger"
	"github.com/soltomm/boss-fight-pump-fun/server"
)

func main() {
	if err := realMain(); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
}

func realMain() error {
	cfg, err := LoadConfig()
	if err != nil {
		return err
	}

	backend := slog.NewBackend(os.Stdout)
	newLog := func(subsys string) slog.Logger {
		l := backend.Logger(subsys)
		l.SetLevel(cfg.DebugLevel)
		return l
	}
	log := newLog("MAIN")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ledgerClient, err := ledger.NewClient(ledger.Config{
		RPCURL:           cfg.RPCURL,
		ProgramID:        cfg.ProgramID,
		AuthorityKeyPath: cfg.AuthorityKeyPath,
		Treasury:         cfg.Treasury,
		Log:              newLog("LDGR"),
	})
	if err != nil {
		return err
	}

	interp := bossgame.NewInterpreter(cfg.TriggerKeywords, cfg.HealKeywords)

	gameLog := newLog("GAME")
	orch := bossgame.NewOrchestrator(bossgame.Config{
		Ledger:      ledgerClient,
		Interpreter: interp,
		Exporter: &bossgame.Exporter{
			Dir:  cfg.ExportDir,
			Coin: cfg.CoinAddress,
			Log:  gameLog,
		},
		Log:             gameLog,
		Coin:            cfg.CoinAddress,
		InitialHP:       cfg.InitialHP,
		BettingDuration: cfg.BettingDuration,
		FightDuration:   cfg.FightDuration,
		FeePercentage:   cfg.FeePercentage,
		AdminSecret:     cfg.AdminSecret,
		AdminWallet:     cfg.AdminWallet,
	})

	srv := server.NewServer(server.ServerConfig{
		Log:          newLog("SRVR"),
		Orchestrator: orch,
		Ledger:       ledgerClient,
		Addr:         ":" + cfg.Port,
		StaticDir:    cfg.StaticDir,
	})
	orch.SetBroadcaster(srv.Hub())

	ingestor := chat.NewIngestor(newLog("CHAT"), cfg.ChatWSURL, cfg.CoinAddress)
	ingestor.Start(ctx)
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case ev := <-ingestor.Events():
				orch.HandleChat(ev.Username, ev.Message, ev.TS)
			case st := <-ingestor.Status():
				orch.SetChatConnected(st.Connected)
				if st.Terminal {
					log.Errorf("chat connection permanently lost; overlay shows disconnected")
				}
			}
		}
	}()

	go orch.Run(ctx)

	errC := make(chan error, 1)
	go func() { errC <- srv.Run() }()

	sigC := make(chan os.Signal, 1)
	signal.Notify(sigC, os.Interrupt, syscall.SIGTERM)
	select {
	case sig := <-sigC:
		log.Infof("received %s, shutting down", sig)
		// A second signal should kill the process the default way.
		signal.Stop(sigC)
	case err := <-errC:
		return err
	}

	cancel()
	ingestor.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	log.Info("bye")
	return nil
}
