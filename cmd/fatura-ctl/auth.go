package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/oauth2"

	gsheet "fatura/internal/sheets/google"
)

var authCmd = &cobra.Command{
	Use:   "auth",
	Short: "Authorize statement export to Google Sheets",
	Long: `auth runs the OAuth consent flow for the client in GOOGLE_OAUTH_CLIENT_FILE
or GOOGLE_OAUTH_CLIENT_JSON and writes the token to GOOGLE_OAUTH_TOKEN_FILE
(token.json by default). The client must allow the redirect
http://localhost:<port>/callback.`,
	RunE: runAuth,
}

func init() {
	rootCmd.AddCommand(authCmd)
	authCmd.Flags().String("port", "8085", "Local port receiving the OAuth redirect")
	authCmd.Flags().Duration("timeout", 5*time.Minute, "How long to wait for consent")
}

func runAuth(cmd *cobra.Command, args []string) error {
	port, _ := cmd.Flags().GetString("port")
	timeout, _ := cmd.Flags().GetDuration("timeout")

	oc, err := gsheet.OAuthConfig(gsheet.Config{
		OAuthClientFile: cfg.GoogleOAuthClientFile,
		OAuthClientJSON: cfg.GoogleOAuthClientJSON,
	})
	if err != nil {
		return err
	}
	oc.RedirectURL = "http://localhost:" + port + "/callback"

	codeCh := make(chan string, 1)
	errCh := make(chan error, 1)
	mux := http.NewServeMux()
	srv := &http.Server{Addr: ":" + port, Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	mux.HandleFunc("/callback", func(w http.ResponseWriter, r *http.Request) {
		if e := r.URL.Query().Get("error"); e != "" {
			http.Error(w, "OAuth error: "+e, http.StatusBadRequest)
			errCh <- fmt.Errorf("authorization denied: %s", e)
			return
		}
		fmt.Fprintln(w, "You may close this window and return to the terminal.")
		codeCh <- r.URL.Query().Get("code")
	})
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()
	defer srv.Close()

	fmt.Fprintf(cmd.OutOrStdout(), "Open this URL to authorize:\n%s\n", oc.AuthCodeURL("state-token", oauth2.AccessTypeOffline))

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt)
	defer signal.Stop(interrupt)

	var code string
	select {
	case code = <-codeCh:
	case err := <-errCh:
		return err
	case <-time.After(timeout):
		return errors.New("authorization timed out")
	case <-interrupt:
		return errors.New("interrupted")
	}

	tok, err := oc.Exchange(cmd.Context(), code)
	if err != nil {
		return fmt.Errorf("token exchange: %w", err)
	}
	out := cfg.GoogleOAuthTokenFile
	if out == "" {
		out = "token.json"
	}
	f, err := os.OpenFile(out, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0600)
	if err != nil {
		return fmt.Errorf("open token file: %w", err)
	}
	defer f.Close()
	if err := json.NewEncoder(f).Encode(tok); err != nil {
		return fmt.Errorf("write token: %w", err)
	}
	logger.Info("Saved OAuth token", "path", out)
	fmt.Fprintf(cmd.OutOrStdout(), "Saved token to %s\n", out)
	return nil
}
