package browser

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"
	"github.com/chromedp/chromedp/kb"
	"go.uber.org/zap"

	"deckwatch/internal/auth"
	"deckwatch/internal/config"
	"deckwatch/internal/deck"
)

// Login page selectors. Deck page selectors live in the deck package.
const (
	loginURL          = "https://x.com/login"
	usernameInput     = `input[autocomplete="username"]`
	verificationInput = `input[name="text"]`
	passwordInput     = `input[name="password"]`
	loggedInView      = deck.LoggedInView
	deckColumns       = deck.ColumnContent
)

const (
	defaultEvalTimeout = 15 * time.Second
	navigateTimeout    = 60 * time.Second
	loginTimeout       = 2 * time.Minute
)

// ErrClosed is returned when a session is used after Close.
var ErrClosed = errors.New("browser session is closed")

// Session is the live authenticated browser handle driving the deck page.
// Exactly one session is live at a time; the guardian replaces it wholesale
// on restart and the old handle is never reused after Close.
type Session struct {
	headless bool
	creds    *config.Credentials
	cookies  *auth.CookieStore
	log      *zap.Logger

	allocCancel   context.CancelFunc
	browserCtx    context.Context
	browserCancel context.CancelFunc
}

// NewSession creates an unstarted session.
func NewSession(cfg config.BrowserConfig, creds *config.Credentials, cookies *auth.CookieStore, log *zap.Logger) *Session {
	return &Session{
		headless: cfg.Headless,
		creds:    creds,
		cookies:  cookies,
		log:      log,
	}
}

// Start launches the browser, restores or establishes authentication, and
// navigates to the configured deck URL. A failure here is fatal to the
// caller: the ingestion loop must not start without a live session.
func (s *Session) Start(ctx context.Context) error {
	allocCtx, allocCancel := chromedp.NewExecAllocator(ctx, Options(s.headless)...)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx)

	s.allocCancel = allocCancel
	s.browserCtx = browserCtx
	s.browserCancel = browserCancel

	if s.cookies.IsValid() {
		cookies, err := s.cookies.SessionCookies()
		if err == nil {
			if err := auth.Inject(browserCtx, cookies); err != nil {
				s.log.Warn("cookie injection failed", zap.Error(err))
			} else {
				s.log.Info("restored session cookies", zap.Int("count", len(cookies)))
			}
		}
	}

	if err := s.openDeck(ctx); err == nil {
		return nil
	}

	s.log.Info("stored session not usable, logging in")
	if err := s.login(ctx); err != nil {
		s.close()
		return fmt.Errorf("login failed: %w", err)
	}

	if err := s.openDeck(ctx); err != nil {
		s.close()
		return fmt.Errorf("failed to open deck after login: %w", err)
	}
	return nil
}

// openDeck navigates to the deck URL and waits for columns to render.
func (s *Session) openDeck(ctx context.Context) error {
	return s.run(ctx, navigateTimeout,
		chromedp.Navigate(s.creds.DeckURL),
		chromedp.WaitVisible(deckColumns, chromedp.ByQuery),
	)
}

// login walks the X login form: username, optional verification challenge,
// password, then waits for the logged-in view and captures cookies.
func (s *Session) login(ctx context.Context) error {
	err := s.run(ctx, loginTimeout,
		chromedp.Navigate(loginURL),
		chromedp.WaitVisible(usernameInput, chromedp.ByQuery),
		chromedp.SendKeys(usernameInput, s.creds.TwitterUsername+kb.Enter, chromedp.ByQuery),
	)
	if err != nil {
		return fmt.Errorf("username step failed: %w", err)
	}

	// The "unusual activity" challenge appears only sometimes; a short wait
	// that times out means the flow went straight to the password step.
	if err := s.run(ctx, 10*time.Second,
		chromedp.WaitVisible(verificationInput, chromedp.ByQuery),
	); err == nil {
		answer := s.creds.TwitterTwoFactor
		if answer == "" {
			answer = s.creds.TwitterUsername
		}
		if err := s.run(ctx, 15*time.Second,
			chromedp.SendKeys(verificationInput, answer+kb.Enter, chromedp.ByQuery),
		); err != nil {
			return fmt.Errorf("verification step failed: %w", err)
		}
	}

	err = s.run(ctx, loginTimeout,
		chromedp.WaitVisible(passwordInput, chromedp.ByQuery),
		chromedp.SendKeys(passwordInput, s.creds.TwitterPassword+kb.Enter, chromedp.ByQuery),
		chromedp.WaitVisible(loggedInView, chromedp.ByQuery),
	)
	if err != nil {
		return fmt.Errorf("password step failed: %w", err)
	}

	cookies, err := auth.Extract(s.browserCtx)
	if err != nil {
		return fmt.Errorf("failed to extract cookies: %w", err)
	}
	if err := s.cookies.Save(cookies); err != nil {
		s.log.Warn("failed to persist cookies", zap.Error(err))
	}

	s.log.Info("logged in", zap.Int("cookies", len(cookies)))
	return nil
}

// Evaluate executes a script in the page context and unmarshals its result.
func (s *Session) Evaluate(ctx context.Context, script string, out any) error {
	return s.run(ctx, defaultEvalTimeout, chromedp.Evaluate(script, out))
}

// EvaluateAsync executes a promise-returning script and waits for it to
// settle before unmarshalling.
func (s *Session) EvaluateAsync(ctx context.Context, script string, out any) error {
	return s.run(ctx, defaultEvalTimeout,
		chromedp.Evaluate(script, out, func(p *runtime.EvaluateParams) *runtime.EvaluateParams {
			return p.WithAwaitPromise(true)
		}),
	)
}

// WaitVisible blocks until the selector is visible or the timeout elapses.
func (s *Session) WaitVisible(ctx context.Context, selector string, timeout time.Duration) error {
	return s.run(ctx, timeout, chromedp.WaitVisible(selector, chromedp.ByQuery))
}

// Navigate loads the given URL.
func (s *Session) Navigate(ctx context.Context, url string) error {
	return s.run(ctx, navigateTimeout, chromedp.Navigate(url))
}

// Close tears down the browser. The session must not be used afterwards.
func (s *Session) Close() {
	s.close()
	s.log.Info("browser session closed")
}

func (s *Session) close() {
	if s.browserCancel != nil {
		s.browserCancel()
		s.browserCancel = nil
	}
	if s.allocCancel != nil {
		s.allocCancel()
		s.allocCancel = nil
	}
	s.browserCtx = nil
}

// Reinitialize discards the current browser wholesale and runs the full
// bootstrap again: fresh contexts, cookie restore, deck navigation.
func (s *Session) Reinitialize(ctx context.Context) error {
	s.close()
	return s.Start(ctx)
}

// run executes chromedp actions against the live browser with a hard
// timeout, honoring caller cancellation. Every session interaction goes
// through here so no page wait can block the process indefinitely.
func (s *Session) run(ctx context.Context, timeout time.Duration, actions ...chromedp.Action) error {
	browserCtx := s.browserCtx
	if browserCtx == nil {
		return ErrClosed
	}

	rctx, cancel := context.WithTimeout(browserCtx, timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- chromedp.Run(rctx, actions...) }()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		cancel()
		<-done
		return ctx.Err()
	}
}
