package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/oauth2"
	"golang.org/x/sync/errgroup"

	"github.com/sakif/streakwatch/internal/activity"
	"github.com/sakif/streakwatch/internal/apperror"
	"github.com/sakif/streakwatch/internal/auth"
	"github.com/sakif/streakwatch/internal/command"
	"github.com/sakif/streakwatch/internal/mirror"
	"github.com/sakif/streakwatch/internal/model"
	"github.com/sakif/streakwatch/internal/syncer"
)

// withApp wires the daemon for one command and tears it down afterwards.
func withApp(fn func(ctx context.Context, cmd *cobra.Command, a *app, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd)
		if err != nil {
			return err
		}
		defer a.Close()

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		return fn(ctx, cmd, a, args)
	}
}

// dispatch runs one command and prints its result.
func dispatch(ctx context.Context, cmd *cobra.Command, a *app, c command.Command) error {
	result, err := a.dispatch.Dispatch(ctx, c)
	if err != nil {
		return err
	}
	return printResult(cmd.OutOrStdout(), result)
}

func printResult(w io.Writer, result any) error {
	switch r := result.(type) {
	case nil:
		fmt.Fprintln(w, "ok")
	case syncer.Report:
		printReport(w, r)
	case []*model.TrackedEntity:
		printEntities(w, r)
	case *model.TrackedEntity:
		printEntities(w, []*model.TrackedEntity{r})
	case mirror.ReplayReport:
		fmt.Fprintf(w, "replayed: %d succeeded, %d still failing\n", r.Succeeded, r.Failed)
	default:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(r)
	}
	return nil
}

func printReport(w io.Writer, r syncer.Report) {
	fmt.Fprintf(w, "synced %d in %s, mirrored %d\n",
		r.Synced, r.FinishedAt.Sub(r.StartedAt).Round(time.Millisecond), r.Mirrored)
	for _, f := range r.Failures {
		fmt.Fprintf(w, "  failed %s: %s\n", f.EntityID, f.Error)
	}
	for _, ev := range r.Events {
		fmt.Fprintf(w, "  [%s] %s\n", ev.Priority, ev.Message)
	}
}

func printEntities(w io.Writer, entities []*model.TrackedEntity) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "HANDLE\tSTREAK\tMUTUAL\tSOLVED\tUPDATED")
	for _, e := range entities {
		handle := e.ID
		if e.IsSelf {
			handle += " (you)"
		}
		fmt.Fprintf(tw, "%s\t%d\t%d\t%d\t%s\n",
			handle, e.Streak, e.MutualStreak, e.Stats.Total, e.LastUpdatedAt.Format(time.DateTime))
	}
	tw.Flush()
}

// ===== DAEMON =====

var runCmd = &cobra.Command{
	Use:     "run",
	GroupID: "daemon",
	Short:   "Run the sync daemon and control API",
	Long: `Run the daemon in the foreground.

Cycles run on the adaptive schedule: every active interval inside the
active window and every quiet interval outside it. The control API is
served only when control.jwt_secret is set. Stop with Ctrl+C.`,
	Args: cobra.NoArgs,
	RunE: withApp(func(ctx context.Context, _ *cobra.Command, a *app, _ []string) error {
		tokens, err := a.tokens()
		if err != nil {
			return err
		}

		g, ctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			err := a.scheduler.Run(ctx, func(ctx context.Context) {
				if _, err := a.syncer.SyncAll(ctx); err != nil {
					a.logger.Warn("sync cycle failed", slog.String("error", err.Error()))
				}
			})
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		})

		if tokens == nil {
			a.logger.Warn("control.jwt_secret not set, control API disabled")
		} else {
			srv := a.server(tokens)
			g.Go(func() error { return srv.Start(ctx) })
		}

		a.logger.Info("streakwatch running",
			slog.String("data_dir", a.cfg.DataDir),
			slog.Bool("mirror", a.cfg.GitHub.Mirror),
		)
		return g.Wait()
	}),
}

var syncCmd = &cobra.Command{
	Use:     "sync",
	GroupID: "daemon",
	Short:   "Run one sync cycle now",
	Args:    cobra.NoArgs,
	RunE: withApp(func(ctx context.Context, cmd *cobra.Command, a *app, _ []string) error {
		return dispatch(ctx, cmd, a, command.SyncNow{})
	}),
}

var tokenTTL time.Duration

var tokenCmd = &cobra.Command{
	Use:     "token",
	GroupID: "daemon",
	Short:   "Issue a bearer token for the control API",
	Args:    cobra.NoArgs,
	RunE: withApp(func(_ context.Context, cmd *cobra.Command, a *app, _ []string) error {
		tokens, err := a.tokens()
		if err != nil {
			return err
		}
		if tokens == nil {
			return apperror.ValidationFailed("control.jwt_secret", "set control.jwt_secret before issuing tokens")
		}
		token, err := tokens.GenerateWithDuration("cli", tokenTTL)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), token)
		return nil
	}),
}

// ===== TRACKED USERS =====

var listCmd = &cobra.Command{
	Use:     "list",
	GroupID: "users",
	Short:   "Show tracked users",
	Args:    cobra.NoArgs,
	RunE: withApp(func(ctx context.Context, cmd *cobra.Command, a *app, _ []string) error {
		return dispatch(ctx, cmd, a, command.ListEntities{})
	}),
}

var addCmd = &cobra.Command{
	Use:     "add <handle>",
	GroupID: "users",
	Short:   "Track a friend",
	Args:    cobra.ExactArgs(1),
	RunE: withApp(func(ctx context.Context, cmd *cobra.Command, a *app, args []string) error {
		return dispatch(ctx, cmd, a, command.AddEntity{ID: args[0]})
	}),
}

var removeCmd = &cobra.Command{
	Use:     "remove <handle>",
	GroupID: "users",
	Short:   "Stop tracking a user",
	Args:    cobra.ExactArgs(1),
	RunE: withApp(func(ctx context.Context, cmd *cobra.Command, a *app, args []string) error {
		return dispatch(ctx, cmd, a, command.RemoveEntity{ID: args[0]})
	}),
}

var selfCmd = &cobra.Command{
	Use:     "self <handle>",
	GroupID: "users",
	Short:   "Set your own LeetCode handle",
	Args:    cobra.ExactArgs(1),
	RunE: withApp(func(ctx context.Context, cmd *cobra.Command, a *app, args []string) error {
		return dispatch(ctx, cmd, a, command.SetSelf{ID: args[0]})
	}),
}

var muteCmd = &cobra.Command{
	Use:     "mute <YYYY-MM-DD>",
	GroupID: "users",
	Short:   "Silence notifications through a UTC day",
	Args:    cobra.ExactArgs(1),
	RunE: withApp(func(ctx context.Context, cmd *cobra.Command, a *app, args []string) error {
		until, err := activity.ParseDay(args[0])
		if err != nil {
			return apperror.ValidationFailed("until", err.Error())
		}
		return dispatch(ctx, cmd, a, command.Mute{Until: until})
	}),
}

var unmuteCmd = &cobra.Command{
	Use:     "unmute",
	GroupID: "users",
	Short:   "Resume notifications",
	Args:    cobra.NoArgs,
	RunE: withApp(func(ctx context.Context, cmd *cobra.Command, a *app, _ []string) error {
		return dispatch(ctx, cmd, a, command.Unmute{})
	}),
}

// ===== GITHUB MIRROR =====

var loginCmd = &cobra.Command{
	Use:     "login",
	GroupID: "github",
	Short:   "Authorize GitHub with the device flow",
	Long: `Authorize streakwatch to write to your solutions repository.

This prints a short code and a URL. Open the URL, enter the code, and
approve the request. The token is stored encrypted in the local store and
the mirror repository is created if it does not exist yet.`,
	Args: cobra.NoArgs,
	RunE: withApp(func(ctx context.Context, cmd *cobra.Command, a *app, _ []string) error {
		if a.cfg.GitHub.ClientID == "" {
			return apperror.ValidationFailed("github.client_id", "set github.client_id to the OAuth app's client ID")
		}
		out := cmd.OutOrStdout()

		result, err := a.login().Login(ctx, func(code *oauth2.DeviceAuthResponse) {
			fmt.Fprintf(out, "Open %s and enter code %s\n", code.VerificationURI, code.UserCode)
		})
		if result != nil && result.User != nil {
			fmt.Fprintf(out, "Signed in as %s\n", result.User.Login)
		}
		if err != nil {
			return err
		}
		if result.Repository == "" {
			fmt.Fprintln(out, "Set github.owner and github.mirror to start mirroring")
			return nil
		}
		fmt.Fprintf(out, "Mirroring to %s\n", result.Repository)
		return nil
	}),
}

var logoutCmd = &cobra.Command{
	Use:     "logout",
	GroupID: "github",
	Short:   "Forget the stored GitHub token",
	Args:    cobra.NoArgs,
	RunE: withApp(func(ctx context.Context, cmd *cobra.Command, a *app, _ []string) error {
		return a.login().Logout(ctx)
	}),
}

var whoamiCmd = &cobra.Command{
	Use:     "whoami",
	GroupID: "github",
	Short:   "Show the GitHub account the mirror writes as",
	Args:    cobra.NoArgs,
	RunE: withApp(func(ctx context.Context, cmd *cobra.Command, a *app, _ []string) error {
		user, err := a.login().Status(ctx)
		if errors.Is(err, apperror.ErrNotFound) {
			fmt.Fprintln(cmd.OutOrStdout(), "not signed in")
			return nil
		}
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), user.Login)
		return nil
	}),
}

var mirrorCmd = &cobra.Command{
	Use:     "mirror",
	GroupID: "github",
	Short:   "Manage the solution mirror",
}

var mirrorRetryCmd = &cobra.Command{
	Use:   "retry",
	Short: "Replay mirror writes that failed earlier",
	Args:  cobra.NoArgs,
	RunE: withApp(func(ctx context.Context, cmd *cobra.Command, a *app, _ []string) error {
		return dispatch(ctx, cmd, a, command.RetryFailedMirror{})
	}),
}

func init() {
	tokenCmd.Flags().DurationVar(&tokenTTL, "ttl", auth.DefaultTokenTTL, "token lifetime")
	mirrorCmd.AddCommand(mirrorRetryCmd)
}
