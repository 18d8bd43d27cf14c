package main

import (
	"cell-tester/internal/api"
	"cell-tester/internal/instrument"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

type serveFlags struct {
	addr       string
	profileDir string
}

func newServeCmd(a *app) *cobra.Command {
	var f serveFlags
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve results and remote test runs over HTTP",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if f.addr != "" {
				a.cfg.API.Addr = f.addr
			}
			if !a.flags.verbose {
				gin.SetMode(gin.ReleaseMode)
			}
			stop, abort, release := interruptContexts(cmd.Context(), cmd.ErrOrStderr())
			defer release()

			st, err := a.openStore()
			if err != nil {
				return err
			}
			defer st.Close()

			port, err := a.openPort(abort)
			if err != nil {
				return err
			}
			return instrument.Use(port, func(p instrument.Port) error {
				if id, err := p.ConnectionCheck(abort); err == nil {
					a.log.Info("instrument ready", zap.Stringer("identity", id))
				} else {
					a.log.Warn("instrument identity probe failed", zap.Error(err))
				}
				seq, err := a.newSequencer(p)
				if err != nil {
					return err
				}
				router := api.NewRouter(api.Deps{
					Port:           p,
					Runner:         seq,
					Store:          st,
					Driver:         a.cfg.Instrument.Driver,
					Address:        a.cfg.Instrument.Address,
					ProfileDir:     f.profileDir,
					AllowedOrigins: a.cfg.API.AllowedOrigins,
					Logger:         a.log,
					Abort:          abort,
				})
				return api.Serve(stop, a.cfg.API.Addr, router, a.log)
			})
		},
	}
	cmd.Flags().StringVar(&f.addr, "addr", "", "Listen address (overrides api.addr)")
	cmd.Flags().StringVar(&f.profileDir, "profile-dir", "", "Directory of cell profiles listed at /api/v1/profiles")
	return cmd
}
