// Package approval confirms out-of-band consent links: first through the
// headless approval services, then by submitting the page's HTML form.
package approval

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
	"unicode"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html/charset"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"github.com/consultaflow/dispatcher/internal/domain/model"
	"github.com/consultaflow/dispatcher/internal/domain/workflow"
)

const (
	defaultServiceTimeout = 120 * time.Second
	defaultPageTimeout    = 60 * time.Second
	maxPageBytes          = 2 << 20
	detailLimit           = 700
)

// ErrNotConfirmed is returned when neither a service nor the form confirmed the link.
var ErrNotConfirmed = errors.New("approval not confirmed")

var (
	positiveSignals = []string{
		"termo aceito", "autorizacao confirmada", "enviado com sucesso", "assinatura concluida",
		"obrigado", "sucesso", "cadastro enviado", "autorizado",
	}
	negativeSignals = []string{"erro", "expirado", "invalido", "nao autorizado"}
	consentHints    = []string{"aceit", "termo", "consent", "autoriz", "lgpd"}
)

// Options configures a Chain.
type Options struct {
	// ServiceURLs are tried in order; duplicates are dropped.
	ServiceURLs []string
	// ServiceTimeout bounds one service call, which drives a real browser.
	ServiceTimeout time.Duration
	// PageTimeout bounds each request of the form fallback.
	PageTimeout time.Duration
	// DisableForm skips the HTML form fallback.
	DisableForm bool
	HTTPClient  *http.Client
	Logger      *slog.Logger
}

// Chain implements workflow.Approver.
type Chain struct {
	services       []string
	serviceTimeout time.Duration
	pageTimeout    time.Duration
	form           bool
	hc             *http.Client
	logger         *slog.Logger
}

// NewChain builds an approval chain.
func NewChain(opts Options) *Chain {
	hc := opts.HTTPClient
	if hc == nil {
		hc = &http.Client{}
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	c := &Chain{
		serviceTimeout: opts.ServiceTimeout,
		pageTimeout:    opts.PageTimeout,
		form:           !opts.DisableForm,
		hc:             hc,
		logger:         logger.With("component", "approval"),
	}
	if c.serviceTimeout <= 0 {
		c.serviceTimeout = defaultServiceTimeout
	}
	if c.pageTimeout <= 0 {
		c.pageTimeout = defaultPageTimeout
	}
	seen := make(map[string]struct{}, len(opts.ServiceURLs))
	for _, u := range opts.ServiceURLs {
		u = strings.TrimSpace(u)
		if u == "" {
			continue
		}
		if _, dup := seen[u]; dup {
			continue
		}
		seen[u] = struct{}{}
		c.services = append(c.services, u)
	}
	return c
}

// Approve confirms link for subject. It returns false with ErrNotConfirmed
// and the collected details when every step failed.
func (c *Chain) Approve(ctx context.Context, link string, subject model.Subject) (bool, error) {
	var errs []error
	for _, svc := range c.services {
		err := c.viaService(ctx, svc, link, subject)
		if err == nil {
			c.logger.DebugContext(ctx, "link approved", "service", svc)
			return true, nil
		}
		if ctx.Err() != nil {
			return false, ctx.Err()
		}
		c.logger.WarnContext(ctx, "approval service failed", "service", svc, "error", err)
		errs = append(errs, fmt.Errorf("[%s] %w", svc, err))
	}

	if c.form {
		ok, err := c.viaForm(ctx, link, subject)
		if ok {
			c.logger.DebugContext(ctx, "link approved by form")
			return true, nil
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("form: %w", err))
		}
	}
	if len(errs) == 0 {
		return false, ErrNotConfirmed
	}
	return false, fmt.Errorf("%w: %w", ErrNotConfirmed, errors.Join(errs...))
}

type serviceRequest struct {
	URL              string `json:"url"`
	ShortURL         string `json:"shortUrl"`
	Name             string `json:"nome"`
	NationalID       string `json:"cpf"`
	Phone            string `json:"telefone"`
	BirthDate        string `json:"dataNascimento"`
	AcceptTerms      bool   `json:"acceptTerms"`
	AllowGeolocation bool   `json:"allowGeolocation"`
	Submit           bool   `json:"submit"`
	TimeoutSeconds   int    `json:"timeoutSeconds"`
}

type serviceResponse struct {
	OK      *bool `json:"ok"`
	Success *bool `json:"success"`
}

func (r serviceResponse) confirmed() bool {
	if r.OK != nil {
		return *r.OK
	}
	return r.Success != nil && *r.Success
}

func (c *Chain) viaService(ctx context.Context, svc, link string, s model.Subject) error {
	ctx, cancel := context.WithTimeout(ctx, c.serviceTimeout)
	defer cancel()

	body, err := json.Marshal(serviceRequest{
		URL:              link,
		ShortURL:         link,
		Name:             s.Name,
		NationalID:       s.NationalID,
		Phone:            s.Phone,
		BirthDate:        s.BirthDate,
		AcceptTerms:      true,
		AllowGeolocation: true,
		Submit:           true,
		// The service needs headroom to answer before our own deadline.
		TimeoutSeconds: int((c.serviceTimeout - c.serviceTimeout/4).Seconds()),
	})
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, svc, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.hc.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxPageBytes))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("HTTP_%d %s", resp.StatusCode, workflow.Truncate(strings.TrimSpace(string(raw)), detailLimit))
	}
	var out serviceResponse
	if err := json.Unmarshal(raw, &out); err != nil || !out.confirmed() {
		return fmt.Errorf("not confirmed: %s", workflow.Truncate(strings.TrimSpace(string(raw)), detailLimit))
	}
	return nil
}

// viaForm opens the link, fills the first form with consent and subject
// fields and submits it. A page that already shows a positive signal counts
// as confirmed.
func (c *Chain) viaForm(ctx context.Context, link string, s model.Subject) (bool, error) {
	base, err := url.Parse(link)
	if err != nil || base.Scheme == "" || base.Host == "" {
		return false, fmt.Errorf("invalid link %q", link)
	}
	page, err := c.fetch(ctx, http.MethodGet, base.String(), nil)
	if err != nil {
		return false, err
	}
	if hasSignal(page.Text(), positiveSignals) {
		return true, nil
	}
	f, ok := parseForm(page, base, s)
	if !ok {
		return false, errors.New("page has no form")
	}

	var result *goquery.Document
	if f.method == http.MethodGet {
		target := *f.action
		target.RawQuery = f.fields.Encode()
		result, err = c.fetch(ctx, http.MethodGet, target.String(), nil)
	} else {
		result, err = c.fetch(ctx, http.MethodPost, f.action.String(), f.fields)
	}
	if err != nil {
		return false, err
	}
	text := result.Text()
	if hasSignal(text, negativeSignals) {
		return false, errors.New("form rejected")
	}
	return hasSignal(text, positiveSignals), nil
}

func (c *Chain) fetch(ctx context.Context, method, target string, values url.Values) (*goquery.Document, error) {
	ctx, cancel := context.WithTimeout(ctx, c.pageTimeout)
	defer cancel()

	var body io.Reader
	if values != nil {
		body = strings.NewReader(values.Encode())
	}
	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "text/html,application/xhtml+xml")
	if values != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	resp, err := c.hc.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("%s HTTP_%d", method, resp.StatusCode)
	}
	rd, err := charset.NewReader(io.LimitReader(resp.Body, maxPageBytes), resp.Header.Get("Content-Type"))
	if err != nil {
		return nil, fmt.Errorf("decode page: %w", err)
	}
	doc, err := goquery.NewDocumentFromReader(rd)
	if err != nil {
		return nil, fmt.Errorf("parse page: %w", err)
	}
	return doc, nil
}

type form struct {
	action *url.URL
	method string
	fields url.Values
}

func parseForm(doc *goquery.Document, base *url.URL, s model.Subject) (form, bool) {
	sel := doc.Find("form").First()
	if sel.Length() == 0 {
		return form{}, false
	}
	f := form{action: base, method: http.MethodPost, fields: url.Values{}}
	if action := strings.TrimSpace(sel.AttrOr("action", "")); action != "" {
		if ref, err := url.Parse(action); err == nil {
			f.action = base.ResolveReference(ref)
		}
	}
	if m := strings.ToUpper(strings.TrimSpace(sel.AttrOr("method", ""))); m == http.MethodGet {
		f.method = http.MethodGet
	}

	consent := false
	sel.Find("input").Each(func(_ int, in *goquery.Selection) {
		name := strings.TrimSpace(in.AttrOr("name", ""))
		if name == "" {
			return
		}
		typ := strings.ToLower(strings.TrimSpace(in.AttrOr("type", "")))
		value := in.AttrOr("value", "")
		key := strings.ToLower(name)
		if typ == "checkbox" || typ == "radio" {
			_, checked := in.Attr("checked")
			isConsent := containsAny(key, consentHints)
			if !checked && !isConsent {
				return
			}
			consent = consent || isConsent
			if value == "" {
				value = "on"
			}
			f.fields.Set(name, value)
			return
		}
		if v, ok := subjectValue(key, s); ok && typ != "hidden" {
			value = v
		}
		f.fields.Set(name, value)
	})
	sel.Find("textarea").Each(func(_ int, ta *goquery.Selection) {
		if name := strings.TrimSpace(ta.AttrOr("name", "")); name != "" && !f.fields.Has(name) {
			f.fields.Set(name, strings.TrimSpace(ta.Text()))
		}
	})
	sel.Find("select").Each(func(_ int, sl *goquery.Selection) {
		name := strings.TrimSpace(sl.AttrOr("name", ""))
		if name == "" {
			return
		}
		opt := sl.Find("option[selected]").First()
		if opt.Length() == 0 {
			opt = sl.Find("option").First()
		}
		f.fields.Set(name, opt.AttrOr("value", strings.TrimSpace(opt.Text())))
	})
	if !consent {
		f.fields.Set("aceite", "true")
		f.fields.Set("aceito", "true")
		f.fields.Set("confirmar", "1")
	}
	return f, true
}

// subjectValue fills person fields by name hint.
func subjectValue(key string, s model.Subject) (string, bool) {
	switch {
	case strings.Contains(key, "nome"):
		return s.Name, true
	case strings.Contains(key, "cpf"):
		return s.NationalID, true
	case containsAny(key, []string{"fone", "cel", "tel"}):
		return s.Phone, true
	case containsAny(key, []string{"nasc", "birth", "data"}):
		return s.BirthDate, true
	}
	return "", false
}

func hasSignal(text string, signals []string) bool {
	return containsAny(fold(text), signals)
}

// fold lower-cases text, drops accents and collapses whitespace.
func fold(text string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, text)
	if err != nil {
		out = text
	}
	return strings.ToLower(strings.Join(strings.Fields(out), " "))
}

func containsAny(s string, needles []string) bool {
	for _, n := range needles {
		if strings.Contains(s, n) {
			return true
		}
	}
	return false
}
