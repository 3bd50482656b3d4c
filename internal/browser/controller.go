// Package browser drives the browser page hosting the Strudel REPL component:
// launch, navigate with retry, a two-phase readiness wait, code delivery
// through an ordered capability-probe list, and guarded teardown.
package browser

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"strudelbridge/internal/config"
	"strudelbridge/internal/logging"

	"github.com/google/uuid"
)

// codeProbe is one in-page integration point the delivery script may find.
// Probes run in order; the first applicable one wins. Adding an integration
// point is a list edit, not new control flow. The %s placeholder receives the
// JSON-encoded code string.
type codeProbe struct {
	name string
	js   string
}

var codeProbes = []codeProbe{
	{
		// The custom element's constructed editor object.
		name: "component-editor",
		js: `() => {
			const el = document.querySelector('strudel-editor');
			if (!el || !el.editor || typeof el.editor.setCode !== 'function') return false;
			el.editor.setCode(%s);
			if (typeof el.editor.evaluate === 'function') el.editor.evaluate();
			return true;
		}`,
	},
	{
		// Some component builds expose setCode on the element itself.
		name: "component-element",
		js: `() => {
			const el = document.querySelector('strudel-editor');
			if (!el || typeof el.setCode !== 'function') return false;
			el.setCode(%s);
			if (typeof el.evaluate === 'function') el.evaluate();
			return true;
		}`,
	},
	{
		// Legacy global from older REPL embeds.
		name: "global-mirror",
		js: `() => {
			if (!window.strudelMirror || typeof window.strudelMirror.setCode !== 'function') return false;
			window.strudelMirror.setCode(%s);
			if (typeof window.strudelMirror.evaluate === 'function') window.strudelMirror.evaluate();
			return true;
		}`,
	},
}

// stopScript tries the component stop method, then the global hush. Finding
// neither still reports true: nothing playing is not an error.
const stopScript = `() => {
	const el = document.querySelector('strudel-editor');
	if (el && el.editor && typeof el.editor.stop === 'function') {
		el.editor.stop();
		return true;
	}
	if (typeof window.hush === 'function') {
		window.hush();
		return true;
	}
	return true;
}`

// readyScript is phase two of the readiness wait: the element can attach
// before its internal editor finishes constructing, so presence alone is not
// enough.
const readyScript = `() => {
	const el = document.querySelector('strudel-editor');
	return !!(el && el.editor && typeof el.editor.setCode === 'function');
}`

const componentSelector = "strudel-editor"

// Controller owns the single remote session. Exactly one session exists per
// controller; Initialize tears down any previous state before starting over.
type Controller struct {
	mu   sync.Mutex
	cfg  config.BrowserConfig
	auto Automation

	page        Page
	sessionID   string
	initialized bool
	ready       bool
	navAttempts int
}

// Status is a read-only snapshot of the controller state.
type Status struct {
	SessionID   string `json:"sessionId,omitempty"`
	TargetURL   string `json:"targetUrl"`
	Initialized bool   `json:"initialized"`
	Ready       bool   `json:"ready"`
}

// NewController creates an uninitialized controller over the given backend.
func NewController(cfg config.BrowserConfig, auto Automation) *Controller {
	return &Controller{cfg: cfg, auto: auto}
}

// Ready reports whether code can be delivered.
func (c *Controller) Ready() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.initialized && c.ready
}

// Initialized reports whether a session was ever brought up (and not torn down).
func (c *Controller) Initialized() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.initialized
}

// Status returns a snapshot for the HTTP surface.
func (c *Controller) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Status{
		SessionID:   c.sessionID,
		TargetURL:   c.cfg.TargetURL,
		Initialized: c.initialized,
		Ready:       c.ready,
	}
}

// NavAttempts returns how many navigation attempts the last Initialize made.
func (c *Controller) NavAttempts() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.navAttempts
}

// Initialize brings the session to Ready: launch, navigate with retry, then
// the two-phase readiness wait. Either both flags end up set or the whole
// session is cleaned up and false is returned; no partial handles survive.
func (c *Controller) Initialize(ctx context.Context) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.initialized && c.ready {
		return true
	}
	c.cleanupLocked()
	c.navAttempts = 0

	page, err := c.auto.Launch(ctx)
	if err != nil {
		logging.Get(logging.CategoryBrowser).Error("launch: %v", err)
		c.cleanupLocked()
		return false
	}
	c.page = page

	if err := c.navigateLocked(ctx); err != nil {
		logging.Get(logging.CategoryBrowser).Error("navigate %s: %v", c.cfg.TargetURL, err)
		c.cleanupLocked()
		return false
	}

	if err := c.waitReadyLocked(ctx); err != nil {
		logging.Get(logging.CategoryBrowser).Error("readiness wait: %v", err)
		c.cleanupLocked()
		return false
	}

	c.sessionID = uuid.NewString()
	c.initialized = true
	c.ready = true
	logging.Browser("session %s ready at %s (%d navigation attempt(s))",
		c.sessionID, c.cfg.TargetURL, c.navAttempts)
	return true
}

// navigateLocked retries navigation with linear back-off. Launch races with
// the bridge's own HTTP server startup, so the first attempt often loses.
func (c *Controller) navigateLocked(ctx context.Context) error {
	retries := c.cfg.NavRetries
	if retries <= 0 {
		retries = 4
	}
	var err error
	for attempt := 1; attempt <= retries; attempt++ {
		c.navAttempts++
		err = c.page.Navigate(ctx, c.cfg.TargetURL, c.cfg.NavTimeout())
		if err == nil {
			return nil
		}
		logging.BrowserDebug("navigation attempt %d/%d failed: %v", attempt, retries, err)
		if attempt < retries {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Duration(attempt) * c.cfg.NavBackoff()):
			}
		}
	}
	return fmt.Errorf("after %d attempts: %w", retries, err)
}

// waitReadyLocked first waits for the custom element to attach, then polls the
// page until the element's editor API is callable, all within one budget.
func (c *Controller) waitReadyLocked(ctx context.Context) error {
	deadline := time.Now().Add(c.cfg.ReadyTimeout())

	if err := c.page.WaitElement(ctx, componentSelector, c.cfg.ReadyTimeout()); err != nil {
		return fmt.Errorf("wait for <%s>: %w", componentSelector, err)
	}

	for {
		ok, err := c.page.Eval(ctx, readyScript)
		if err == nil && ok {
			return nil
		}
		if err != nil {
			logging.BrowserDebug("readiness probe: %v", err)
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("editor API not callable within %s", c.cfg.ReadyTimeout())
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(c.cfg.ReadyPoll()):
		}
	}
}

// SendCode delivers code to the REPL through the first applicable probe.
// False means no integration point accepted it; retrying is the caller's
// decision.
func (c *Controller) SendCode(ctx context.Context, code string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.initialized || !c.ready {
		return false
	}

	encoded, err := json.Marshal(code)
	if err != nil {
		logging.Get(logging.CategoryBrowser).Error("encode code: %v", err)
		return false
	}

	for _, probe := range codeProbes {
		ok, err := c.page.Eval(ctx, fmt.Sprintf(probe.js, string(encoded)))
		if err != nil {
			logging.BrowserDebug("probe %s: %v", probe.name, err)
			continue
		}
		if ok {
			logging.Browser("delivered %d byte(s) via %s", len(code), probe.name)
			return true
		}
	}
	logging.Get(logging.CategoryBrowser).Warn("no integration point accepted the code")
	return false
}

// StopPlayback silences the REPL. Idempotent: an uninitialized session, or a
// page with nothing to stop, both report success.
func (c *Controller) StopPlayback(ctx context.Context) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.initialized || !c.ready {
		return true
	}
	ok, err := c.page.Eval(ctx, stopScript)
	if err != nil {
		logging.Get(logging.CategoryBrowser).Warn("stop: %v", err)
		return false
	}
	return ok
}

// Cleanup releases the page and browser, each step guarded independently so a
// failure in one never skips the next, and unconditionally resets the flags.
func (c *Controller) Cleanup() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cleanupLocked()
}

func (c *Controller) cleanupLocked() {
	if c.page != nil {
		if err := c.page.Close(); err != nil {
			logging.BrowserDebug("close page: %v", err)
		}
		c.page = nil
	}
	if c.auto != nil {
		if err := c.auto.Close(); err != nil {
			logging.BrowserDebug("close browser: %v", err)
		}
	}
	c.sessionID = ""
	c.initialized = false
	c.ready = false
}
