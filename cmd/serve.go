package cmd

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/dnitsch/awsome-broker/internal/cmdutils"
	"github.com/dnitsch/awsome-broker/internal/endpoint"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var (
	listenAddr string
	authToken  string
	serveCmd   = &cobra.Command{
		Use:   "serve",
		Short: "Serve the brokered credential on a loopback endpoint",
		Long: `Gets a baseline credential and keeps serving the latest published credential.
POST /reset and POST /assume publish a new one, GET /credentials returns it in
credential_process format.`,
		Args: cobra.NoArgs,
		RunE: serve,
	}
)

func init() {
	serveCmd.PersistentFlags().StringVarP(&listenAddr, "addr", "", "127.0.0.1:9911", "Address to listen on, keep it on loopback")
	serveCmd.PersistentFlags().StringVarP(&authToken, "token", "t", "", "Require this bearer token on every request")
	RootCmd.AddCommand(serveCmd)
}

func serve(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	sess, err := newSession(ctx)
	if err != nil {
		return err
	}
	store, err := cmdutils.NewProfileStore(conf, cfgFile)
	if err != nil {
		return err
	}
	if _, err := sess.broker.Reset(ctx); err != nil {
		return err
	}

	srv := &http.Server{
		Addr:              listenAddr,
		Handler:           endpoint.New(sess.broker, store, conf.BaseConfig.Region, endpoint.WithAuthToken(authToken), endpoint.WithLogger(logger)),
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info().Str("addr", listenAddr).Msg("serving credentials")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		for cred := range sess.broker.Subscribe(gctx) {
			if cred == nil {
				continue
			}
			logger.Info().Str("principal", cred.PrincipalARN).Str("region", cred.Region).Time("expires", cred.Expires).Msg("credential published")
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
