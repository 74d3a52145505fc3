package providers

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"github.com/consultaflow/dispatcher/config"
	"github.com/consultaflow/dispatcher/internal/domain/fieldpath"
	"github.com/consultaflow/dispatcher/internal/domain/model"
	"github.com/consultaflow/dispatcher/internal/domain/workflow"
)

const v8ConsultPath = "/private-consignment/consult"

var (
	v8ConsultID   = fieldpath.MustCompile("id", "data.id", "consultId")
	v8Data        = fieldpath.MustCompile("data", "items", "results")
	v8Status      = fieldpath.MustCompile("status", "consultStatus")
	v8Description = fieldpath.MustCompile("description", "statusDescription", "message")
	v8Margin      = fieldpath.MustCompile("availableMarginValue", "availableMargin", "margin.available")
	v8Link        = fieldpath.MustCompile("consentLink", "consentUrl", "link", "url", "redirectUrl", "redirectURL")
)

// V8Auth logs in with the OAuth2 password grant.
type V8Auth struct {
	oauth *oauth2.Config
	hc    *http.Client
}

// NewV8Auth builds the V8 authenticator. hc carries the audience parameter
// onto token requests.
func NewV8Auth(cfg *config.ProviderConfig, hc *http.Client) *V8Auth {
	if hc == nil {
		hc = &http.Client{Timeout: 30 * time.Second}
	}
	var scopes []string
	if s := strings.TrimSpace(cfg.Scope); s != "" {
		scopes = strings.Fields(s)
	}
	client := *hc
	if cfg.Audience != "" {
		base := hc.Transport
		if base == nil {
			base = http.DefaultTransport
		}
		client.Transport = &formParamTransport{
			base:     base,
			tokenURL: cfg.AuthURL,
			params:   url.Values{"audience": []string{cfg.Audience}},
		}
	}
	return &V8Auth{
		oauth: &oauth2.Config{
			ClientID: cfg.ClientID,
			Endpoint: oauth2.Endpoint{TokenURL: cfg.AuthURL, AuthStyle: oauth2.AuthStyleInParams},
			Scopes:   scopes,
		},
		hc: &client,
	}
}

// Login exchanges login/secret for an access token. A pre-issued token is used as is.
func (a *V8Auth) Login(ctx context.Context, cred model.Credential) (string, error) {
	if tok := strings.TrimSpace(cred.Token); tok != "" {
		return tok, nil
	}
	if cred.Empty() {
		return "", fmt.Errorf("v8 login: %w: missing login or secret", workflow.ErrInvalidCredential)
	}
	ctx = context.WithValue(ctx, oauth2.HTTPClient, a.hc)
	tok, err := a.oauth.PasswordCredentialsToken(ctx, cred.Login, cred.Secret)
	if err != nil {
		var re *oauth2.RetrieveError
		if errors.As(err, &re) && re.Response != nil {
			msg := firstNonBlank(re.ErrorDescription, re.ErrorCode, string(re.Body))
			return "", credentialRejected(re.Response.StatusCode,
				fmt.Errorf("v8 auth HTTP_%d: %s", re.Response.StatusCode, workflow.Truncate(msg, 200)))
		}
		return "", fmt.Errorf("v8 auth: %w", err)
	}
	if strings.TrimSpace(tok.AccessToken) == "" {
		return "", errMissingToken
	}
	return tok.AccessToken, nil
}

// formParamTransport adds fixed form parameters to token requests.
type formParamTransport struct {
	base     http.RoundTripper
	tokenURL string
	params   url.Values
}

func (t *formParamTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.Method != http.MethodPost || req.URL.String() != t.tokenURL || req.GetBody == nil {
		return t.base.RoundTrip(req)
	}
	body, err := req.GetBody()
	if err != nil {
		return nil, err
	}
	raw, err := io.ReadAll(body)
	_ = body.Close()
	if err != nil {
		return nil, err
	}
	form, err := url.ParseQuery(string(raw))
	if err != nil {
		return t.base.RoundTrip(req)
	}
	for k, vs := range t.params {
		if form.Get(k) == "" {
			form[k] = vs
		}
	}
	encoded := form.Encode()
	clone := req.Clone(req.Context())
	clone.Body = io.NopCloser(strings.NewReader(encoded))
	clone.ContentLength = int64(len(encoded))
	clone.GetBody = func() (io.ReadCloser, error) { return io.NopCloser(strings.NewReader(encoded)), nil }
	return t.base.RoundTrip(clone)
}

// V8 submits, authorizes and polls private-consignment consults.
type V8 struct {
	api      apiClient
	provider string
	now      func() time.Time
}

// NewV8 builds the V8 workflow adapter.
func NewV8(cfg *config.ProviderConfig, hc *http.Client) *V8 {
	return &V8{
		api:      newAPIClient(cfg.BaseURL, hc),
		provider: firstNonBlank(cfg.ProductCode, "QI"),
		now:      time.Now,
	}
}

// Submit creates the consult and authorizes it. A 400 answer means the
// consult already exists for the borrower; polling then finds it by document.
func (v *V8) Submit(ctx context.Context, token string, s model.Subject) (workflow.Submission, error) {
	resp, err := v.api.do(ctx, http.MethodPost, v8ConsultPath, bearer(token), map[string]any{
		"borrowerDocumentNumber": s.NationalID,
		"gender":                 s.Gender,
		"birthDate":              s.BirthDate,
		"signerName":             s.Name,
		"signerEmail":            s.Email,
		"signerPhone":            signerPhone(s.Phone),
		"provider":               v.provider,
	})
	if err != nil {
		return workflow.Submission{}, err
	}
	switch {
	case resp.Status == http.StatusBadRequest:
		return workflow.Submission{Duplicate: true}, nil
	case !resp.ok():
		return workflow.Submission{}, resp.statusError("API1")
	}

	sub := workflow.Submission{Ref: v8ConsultID.String(resp.object())}
	if sub.Ref == "" {
		return sub, nil
	}
	auth, err := v.api.do(ctx, http.MethodPost, v8ConsultPath+"/"+url.PathEscape(sub.Ref)+"/authorize", bearer(token), map[string]any{})
	if err != nil {
		return sub, err
	}
	if !auth.ok() {
		return sub, auth.statusError("API2")
	}
	sub.Accepted = auth.Status == http.StatusOK
	return sub, nil
}

// Poll lists today's consults for the borrower.
func (v *V8) Poll(ctx context.Context, token string, s model.Subject, _ string) ([]model.RawEntry, error) {
	now := v.now().UTC()
	start := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	q := url.Values{
		"startDate": []string{start.Format("2006-01-02T15:04:05Z")},
		"endDate":   []string{start.Add(24*time.Hour - time.Second).Format("2006-01-02T15:04:05Z")},
		"limit":     []string{"50"},
		"page":      []string{"1"},
		"search":    []string{s.NationalID},
		"provider":  []string{v.provider},
	}
	resp, err := v.api.do(ctx, http.MethodGet, v8ConsultPath+"?"+q.Encode(), bearer(token), nil)
	if err != nil {
		return nil, err
	}
	if !resp.ok() {
		return nil, resp.statusError("API3")
	}
	var items []map[string]any
	if list, ok := resp.Payload.([]any); ok {
		items = rows(list)
	} else {
		items = v8Data.List(resp.object())
	}
	out := make([]model.RawEntry, 0, len(items))
	for _, item := range items {
		out = append(out, model.RawEntry(item))
	}
	return out, nil
}

// Normalize reads status, description and released margin. The consent link,
// when present, is appended to the description.
func (v *V8) Normalize(raw model.RawEntry) (model.ResultEntry, bool) {
	data := map[string]any(raw)
	e := model.ResultEntry{
		Status:      strings.ToUpper(v8Status.String(data)),
		Description: appendLink(v8Description.String(data), v8EntryLink(data)),
	}
	if f, ok := v8Margin.Float(data); ok {
		e.Value = &f
	}
	if e.Status == "" && e.Description == "" && e.Value == nil {
		return e, false
	}
	return e, true
}

func v8EntryLink(data map[string]any) string {
	if u := v8Link.String(data); isHTTPURL(u) {
		return u
	}
	return fieldpath.FindURL(data)
}

func appendLink(desc, link string) string {
	desc = strings.TrimSpace(desc)
	switch {
	case link == "":
		return desc
	case desc == "":
		return "Link: " + link
	case strings.Contains(desc, link):
		return desc
	}
	return desc + " | Link: " + link
}

// signerPhone splits national digits into the V8 phone object.
func signerPhone(phone string) map[string]string {
	d := workflow.NormalizePhone(phone)
	out := map[string]string{"countryCode": "55", "areaCode": "", "phoneNumber": d}
	if len(d) >= 10 {
		out["areaCode"] = d[:2]
		out["phoneNumber"] = d[2:]
	}
	return out
}

func isHTTPURL(s string) bool {
	s = strings.ToLower(strings.TrimSpace(s))
	return strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://")
}

func firstNonBlank(values ...string) string {
	for _, v := range values {
		if s := strings.TrimSpace(v); s != "" {
			return s
		}
	}
	return ""
}
