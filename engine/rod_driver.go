package engine

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
	"github.com/ysmood/gson"
)

// rodDriver implements Driver over a rod page. Every blocking call is
// bounded by timeout so a stuck page cannot hold the engine.
type rodDriver struct {
	page    *rod.Page
	timeout time.Duration
}

func newRodDriver(page *rod.Page, timeout time.Duration) *rodDriver {
	return &rodDriver{page: page, timeout: timeout}
}

func (d *rodDriver) bound(ctx context.Context) (context.Context, context.CancelFunc) {
	if d.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d.timeout)
}

func (d *rodDriver) Navigate(ctx context.Context, url string) error {
	ctx, cancel := d.bound(ctx)
	defer cancel()

	p := d.page.Context(ctx)
	if err := p.Navigate(url); err != nil {
		return categorizeError(err, "navigation failed")
	}
	if err := p.WaitLoad(); err != nil {
		slog.Debug("load event not observed, proceeding", "url", url, "error", err)
	}
	if err := p.WaitDOMStable(300*time.Millisecond, 0.1); err != nil {
		slog.Debug("WaitDOMStable did not converge, proceeding with current DOM", "error", err)
	}
	return nil
}

func (d *rodDriver) URL() string {
	info, err := d.page.Info()
	if err != nil {
		return ""
	}
	return info.URL
}

func (d *rodDriver) Title() string {
	info, err := d.page.Info()
	if err != nil {
		return ""
	}
	return info.Title
}

func (d *rodDriver) Has(selector string) bool {
	has, _, err := d.page.Has(selector)
	return err == nil && has
}

func (d *rodDriver) Text(selector string) (string, bool) {
	has, el, err := d.page.Has(selector)
	if err != nil || !has {
		return "", false
	}
	t, err := el.Text()
	if err != nil {
		return "", false
	}
	t = strings.Join(strings.Fields(t), " ")
	return t, t != ""
}

func (d *rodDriver) element(ctx context.Context, selector string) (*rod.Element, error) {
	has, el, err := d.page.Context(ctx).Has(selector)
	if err != nil {
		return nil, categorizeError(err, "element lookup failed")
	}
	if !has {
		return nil, fmt.Errorf("element %q not found", selector)
	}
	return el, nil
}

func (d *rodDriver) Click(ctx context.Context, selector string) error {
	ctx, cancel := d.bound(ctx)
	defer cancel()

	el, err := d.element(ctx, selector)
	if err != nil {
		return err
	}
	if err := el.Click(proto.InputMouseButtonLeft, 1); err != nil {
		return categorizeError(err, "click failed")
	}
	return nil
}

func (d *rodDriver) ClickAndWait(ctx context.Context, selector string, timeout time.Duration) error {
	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	el, err := d.element(waitCtx, selector)
	if err != nil {
		return err
	}
	wait := d.page.Context(waitCtx).WaitNavigation(proto.PageLifecycleEventNameDOMContentLoaded)

	if err := el.Click(proto.InputMouseButtonLeft, 1); err != nil {
		return categorizeError(err, "click failed")
	}
	wait()

	if waitCtx.Err() != nil && ctx.Err() == nil {
		return categorizeError(context.DeadlineExceeded, "navigation after click timed out")
	}
	return ctx.Err()
}

func (d *rodDriver) Input(ctx context.Context, selector, text string) error {
	ctx, cancel := d.bound(ctx)
	defer cancel()

	el, err := d.element(ctx, selector)
	if err != nil {
		return err
	}
	if err := el.SelectAllText(); err != nil {
		slog.Debug("select all text failed", "selector", selector, "error", err)
	}
	if err := el.Input(text); err != nil {
		return categorizeError(err, "typing failed")
	}
	return nil
}

func (d *rodDriver) WaitAny(ctx context.Context, timeout time.Duration, selectors ...string) (string, error) {
	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	matched := ""
	race := d.page.Context(waitCtx).Race()
	for _, sel := range selectors {
		race = race.Element(sel).Handle(func(*rod.Element) error {
			matched = sel
			return nil
		})
	}
	if _, err := race.Do(); err != nil {
		return "", categorizeError(err, "waiting for content failed")
	}
	return matched, nil
}

func (d *rodDriver) SetCookies(cookies []*http.Cookie) error {
	params := make([]*proto.NetworkCookieParam, 0, len(cookies))
	for _, c := range cookies {
		path := c.Path
		if path == "" {
			path = "/"
		}
		params = append(params, &proto.NetworkCookieParam{
			Name:   c.Name,
			Value:  c.Value,
			Domain: c.Domain,
			Path:   path,
		})
	}
	return d.page.SetCookies(params)
}

func (d *rodDriver) HTML() (string, error) {
	html, err := d.page.HTML()
	if err != nil {
		return "", categorizeError(err, "failed to extract page HTML")
	}
	return html, nil
}

// toHeadersMap converts a plain string map to the proto.NetworkHeaders type
// (map[string]gson.JSON) required by NetworkSetExtraHTTPHeaders.
func toHeadersMap(headers map[string]string) proto.NetworkHeaders {
	m := make(proto.NetworkHeaders, len(headers))
	for k, v := range headers {
		m[k] = gson.New(v)
	}
	return m
}
