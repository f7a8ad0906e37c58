package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"tamperkv/internal/hostkey"
	"tamperkv/internal/logging"
	"tamperkv/internal/ssh"
)

var servelog = logging.For("serve")

func (a *app) newServeCmd() *cobra.Command {
	var listen string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the SSH command shell",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if listen != "" {
				a.cfg.SSH.Listen = listen
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return a.serve(ctx)
		},
	}
	cmd.Flags().StringVar(&listen, "ssh-listen", "", "SSH listen address (overrides config)")
	return cmd
}

// serve runs the SSH shell until ctx is cancelled.
func (a *app) serve(ctx context.Context) error {
	cfg := a.cfg

	hk, err := hostkey.Load(cfg.Store.DataDir)
	if err != nil {
		return fmt.Errorf("host key: %w", err)
	}
	servelog.Info("host key loaded", "fingerprint", hk.Fingerprint)

	eng, err := openEngine(cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := eng.Close(); err != nil {
			servelog.Error("closing stores", "err", err)
		}
	}()
	servelog.Info("store opened",
		"store_id", eng.StoreID(),
		"algorithm", eng.Hasher().Name(),
		"primary", cfg.PrimaryPath(),
		"backup", cfg.BackupPath(),
		"backup_backend", cfg.Store.BackupBackend)

	srv, err := ssh.NewServer(cfg.SSH.Listen, hk.Signer, cfg.AuthorizedKeysPath(), cfg.SSH.CommandsPerSec)
	if err != nil {
		return fmt.Errorf("ssh: %w", err)
	}
	registerStoreCommands(srv.Commands(), eng)
	if err := srv.Listen(); err != nil {
		return fmt.Errorf("ssh: %w", err)
	}
	servelog.Info("SSH shell listening", "addr", srv.Addr())

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return srv.Serve(gctx)
	})
	g.Go(func() error {
		<-gctx.Done()
		servelog.Info("shutting down")
		srv.Stop()
		return nil
	})
	return g.Wait()
}
