package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/desertthunder/playlog/internal/models"
	"github.com/desertthunder/playlog/internal/server"
	"github.com/desertthunder/playlog/internal/services"
	"github.com/desertthunder/playlog/internal/shared"
	"github.com/urfave/cli/v3"
)

// Login performs the OAuth2 authorization flow for Spotify.
//
// Starts a local HTTP server, opens the browser for user authorization,
// exchanges the code for tokens, and registers (or updates) the account.
func (r *Runner) Login(ctx context.Context, cmd *cli.Command) error {
	if r.service == nil {
		return fmt.Errorf("%w: Spotify client_id and client_secret must be set in config.toml", shared.ErrMissingCredentials)
	}

	tokens, err := r.doOAuth(ctx)
	if err != nil {
		return err
	}

	profile, err := r.service.Profile(ctx, tokens.AccessToken)
	if err != nil {
		return fmt.Errorf("failed to fetch profile: %w", err)
	}

	s, err := r.openStore()
	if err != nil {
		return err
	}
	defer s.Close()

	user, err := s.users.GetBySpotifyID(profile.ID)
	switch {
	case err == nil:
		if err := user.SetTokens(tokens.AccessToken, tokens.RefreshToken, tokens.Expiry); err != nil {
			return fmt.Errorf("invalid token set: %w", err)
		}
		if err := s.users.UpdateTokens(user); err != nil {
			return fmt.Errorf("failed to save tokens: %w", err)
		}
	case errors.Is(err, shared.ErrUserNotFound):
		user = models.NewUser(0, profile.ID, profile.DisplayName)
		if err := user.SetTokens(tokens.AccessToken, tokens.RefreshToken, tokens.Expiry); err != nil {
			return fmt.Errorf("invalid token set: %w", err)
		}
		if err := s.users.Create(user); err != nil {
			return fmt.Errorf("failed to register user: %w", err)
		}
	default:
		return fmt.Errorf("failed to look up user: %w", err)
	}

	if cmd.Bool("track") {
		if err := s.users.UpdateBackgroundTracking(user.ID(), true); err != nil {
			return fmt.Errorf("failed to enable tracking: %w", err)
		}
	}

	r.writePlainln("✓ Authorization successful")
	r.writePlain("Account: %s (%s)\n", profile.DisplayName, profile.ID)
	r.writePlain("User ID: %s\n", user.ID())
	if cmd.Bool("track") {
		r.writePlain("Background tracking: enabled\n")
	}

	// The account is registered either way; a failed first fetch only
	// delays history until the next poll.
	if err := r.firstPoll(ctx, s, user.ID()); err != nil {
		r.logger.Warn("initial history fetch failed", "user_id", user.ID(), "error", err)
		r.writePlain("⚠ Initial history fetch failed: %v\n", err)
		r.writePlain("Run 'playlog poll user --user %s' to retry.\n", user.ID())
	} else {
		r.writePlain("✓ Recent listening history imported\n")
	}

	return nil
}

// firstPoll seeds a freshly authorized account from the recent-played feed
// and flips the initial-import flag through the poller.
func (r *Runner) firstPoll(ctx context.Context, s *store, userID string) error {
	pollCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	progress, wait := r.progressSink()
	result, err := r.poller(s).Poll(pollCtx, userID, progress)
	wait()
	if err != nil {
		return err
	}

	r.logger.Info("initial history fetched", "user_id", userID, "new_plays", result.NewPlays)
	return nil
}

// doOAuth runs the local-callback authorization code flow and returns the
// exchanged token set.
func (r *Runner) doOAuth(ctx context.Context) (*services.TokenSet, error) {
	state, err := shared.GenerateState()
	if err != nil {
		return nil, err
	}

	authURL := r.service.AuthURL(state)
	oauthHandler := server.NewOAuthHandler(r.service, state)
	router := server.NewBasicRouter()
	router.Handler(oauthHandler)

	serverAddr := fmt.Sprintf("%s:%d", r.config.Server.Host, r.config.Server.Port)
	httpServer := &http.Server{
		Addr:    serverAddr,
		Handler: router,
	}

	serverErrors := make(chan error, 1)
	go func() {
		r.logger.Infof("starting OAuth callback server at %v", serverAddr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErrors <- err
		}
	}()

	time.Sleep(100 * time.Millisecond)

	r.writePlain("→ Opening browser for Spotify authorization...\n")
	if err := shared.OpenBrowser(authURL); err != nil {
		r.logger.Warnf("failed to open browser automatically %v", err)
		r.writePlainln("⚠ Could not open browser automatically.")
		r.writePlain("Please open this URL in your browser:\n%s\n\n", authURL)
	}

	r.writePlain("→ Waiting for authorization (2 minute timeout)...\n")

	timeout := time.NewTimer(2 * time.Minute)
	defer timeout.Stop()

	var result server.OAuthResult

	select {
	case result = <-oauthHandler.Result():
		// Got result from callback
	case err := <-serverErrors:
		return nil, fmt.Errorf("server error: %w", err)
	case <-timeout.C:
		return nil, fmt.Errorf("%w: authorization timed out after 2 minutes", shared.ErrTimeout)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		r.logger.Warn("error shutting down server", "error", err)
	}

	if result.Error() != nil {
		return nil, fmt.Errorf("authorization failed: %w", result.Error())
	}

	if result.Tokens == nil {
		return nil, fmt.Errorf("authorization completed without tokens")
	}

	return result.Tokens, nil
}
