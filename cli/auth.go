// ABOUTME: Google account commands: login, status and logout
// ABOUTME: Login serves the OAuth redirect locally and also accepts a pasted redirect URL
package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/harperreed/calsync/db"
	"github.com/harperreed/calsync/models"
	calsync "github.com/harperreed/calsync/sync"
	"github.com/harperreed/calsync/web"
)

const loginTimeout = 5 * time.Minute

func newAuthCmd(o *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "auth",
		Short: "Link or unlink your Google account",
	}
	cmd.AddCommand(newAuthLoginCmd(o), newAuthStatusCmd(o), newAuthLogoutCmd(o))
	return cmd
}

type authResult struct {
	status models.CredentialStatus
	err    error
}

func newAuthLoginCmd(o *rootOptions) *cobra.Command {
	var noBrowser bool
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Sign in with Google and store the credential",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !o.cfg.GoogleConfigured() {
				return calsync.ErrClientNotConfigured
			}
			addr, err := redirectAddr(o.cfg.Google.RedirectURL)
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), loginTimeout)
			defer cancel()

			a, err := o.newApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			results := make(chan authResult, 1)
			report := func(status models.CredentialStatus, err error) {
				select {
				case results <- authResult{status: status, err: err}:
				default:
				}
			}

			ln, err := net.Listen("tcp", addr)
			if err != nil {
				return fmt.Errorf("failed to listen for the OAuth redirect on %s: %w", addr, err)
			}
			srv, err := web.NewServer(a.svc, web.Options{Logger: o.logger, OnAuthorized: report})
			if err != nil {
				_ = ln.Close()
				return err
			}
			serveCtx, stopServer := context.WithCancel(ctx)
			defer stopServer()
			go func() { _ = srv.Serve(serveCtx, ln) }()

			auth, err := a.svc.BeginAuthorization("")
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintln(out, "Opening browser for Google sign-in...")
			fmt.Fprintf(out, "\nIf the browser doesn't open, visit this URL:\n%s\n\n", auth.URL)
			if !noBrowser {
				_ = openBrowser(auth.URL)
			}

			if f, ok := cmd.InOrStdin().(*os.File); ok && term.IsTerminal(int(f.Fd())) {
				fmt.Fprintln(out, "Signing in on another machine? Paste the URL it redirected to here.")
				go readPastedRedirect(ctx, f, a, report)
			}

			select {
			case res := <-results:
				if res.err != nil {
					return fmt.Errorf("sign-in failed: %w", res.err)
				}
				fmt.Fprintf(out, "\n✓ Connected as %s\n", res.status.UserEmail)
				fmt.Fprintf(out, "✓ Credential saved to %s\n\n", o.cfg.TokenPath)
				fmt.Fprintln(out, "Run 'calsync sync' to pull your calendar.")
				return nil
			case <-ctx.Done():
				return fmt.Errorf("sign-in timed out: %w", ctx.Err())
			}
		},
	}
	cmd.Flags().BoolVar(&noBrowser, "no-browser", false, "print the sign-in URL without opening a browser")
	return cmd
}

// readPastedRedirect finishes the flow from a redirect URL copied out of a
// browser that could not reach this machine.
func readPastedRedirect(ctx context.Context, r io.Reader, a *app, report func(models.CredentialStatus, error)) {
	line, err := bufio.NewReader(r).ReadString('\n')
	if err != nil {
		return
	}
	code, state, err := parseRedirect(strings.TrimSpace(line))
	if err != nil {
		report(models.CredentialStatus{}, err)
		return
	}
	report(a.svc.ExchangePastedCode(ctx, code, state))
}

// parseRedirect extracts code and state from a pasted redirect URL. A bare
// code is accepted too.
func parseRedirect(s string) (code, state string, err error) {
	if s == "" {
		return "", "", errors.New("nothing pasted")
	}
	if !strings.Contains(s, "://") && !strings.Contains(s, "?") {
		return s, "", nil
	}
	u, err := url.Parse(s)
	if err != nil {
		return "", "", fmt.Errorf("invalid redirect URL: %w", err)
	}
	q := u.Query()
	if e := q.Get("error"); e != "" {
		return "", "", fmt.Errorf("google returned %s", e)
	}
	if q.Get("code") == "" {
		return "", "", errors.New("redirect URL has no code")
	}
	return q.Get("code"), q.Get("state"), nil
}

// redirectAddr is the host:port the OAuth redirect URL points at.
func redirectAddr(redirectURL string) (string, error) {
	u, err := url.Parse(redirectURL)
	if err != nil || u.Host == "" {
		return "", fmt.Errorf("invalid google.redirect_url %q", redirectURL)
	}
	if u.Port() == "" {
		return net.JoinHostPort(u.Hostname(), "80"), nil
	}
	return u.Host, nil
}

func newAuthStatusCmd(o *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the linked account",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := o.newApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			printCredentialStatus(cmd.OutOrStdout(), a.svc.GetCredentialStatus())
			if last, err := db.GetSyncState(cmd.Context(), a.db, a.cfg.CalendarID); err == nil && last != nil && last.LastSyncTime != nil {
				fmt.Fprintf(cmd.OutOrStdout(), "  Last sync:  %s (%s)\n", last.LastSyncTime.Local().Format(time.RFC1123), last.Status)
				if last.ErrorMessage != "" {
					fmt.Fprintf(cmd.OutOrStdout(), "  Last error: %s\n", last.ErrorMessage)
				}
			}
			return nil
		},
	}
}

func printCredentialStatus(out io.Writer, status models.CredentialStatus) {
	switch {
	case !status.ClientConfigured:
		fmt.Fprintln(out, "✗ Google OAuth client not configured (set GOOGLE_CLIENT_ID and GOOGLE_CLIENT_SECRET)")
	case !status.Connected:
		fmt.Fprintln(out, "✗ Not connected. Run 'calsync auth login'.")
	default:
		fmt.Fprintf(out, "✓ Connected as %s\n", status.UserEmail)
		if status.ExpiresAt != nil {
			fmt.Fprintf(out, "  Token expires: %s\n", status.ExpiresAt.Local().Format(time.RFC1123))
		}
		if !status.HasRefreshToken {
			fmt.Fprintln(out, "  No refresh token; you will need to sign in again when it expires.")
		}
	}
}

func newAuthLogoutCmd(o *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Revoke and forget the stored credential; local events are kept",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := o.newApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.svc.Logout(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "✓ Disconnected from Google Calendar")
			return nil
		},
	}
}
