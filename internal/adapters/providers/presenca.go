package providers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/consultaflow/dispatcher/config"
	"github.com/consultaflow/dispatcher/internal/domain/fieldpath"
	"github.com/consultaflow/dispatcher/internal/domain/model"
	"github.com/consultaflow/dispatcher/internal/domain/workflow"
)

const (
	presencaLoginPath      = "/login"
	presencaTermPath       = "/consultas/termo-inss"
	presencaLinksPath      = "/v3/operacoes/consignado-privado/consultar-vinculos"
	presencaMarginPath     = "/v3/operacoes/consignado-privado/consultar-margem"
	presencaSimulationPath = "/v5/operacoes/simulacao/disponiveis"

	presencaTermAttempts = 3
	presencaDoneStatus   = "CONCLUIDO"
	presencaPlaceholder  = "emailmock@mock.com.br"
)

var (
	presencaToken       = fieldpath.MustCompile("token", "accessToken", "access_token")
	presencaAuthID      = fieldpath.MustCompile("autorizacaoId", "authorizationId")
	presencaShortURL    = fieldpath.MustCompile("shortUrl", "url")
	presencaRegistry    = fieldpath.MustCompile("matricula", "registroEmpregaticio", "registro_empregaticio")
	presencaEmployer    = fieldpath.MustCompile("numeroInscricaoEmpregador", "cnpj", "cnpjEmpregador")
	presencaEligible    = fieldpath.MustCompile("elegivel")
	presencaMargin      = fieldpath.MustCompile("valorMargemDisponivel")
	presencaEntryValue  = fieldpath.MustCompile("valorLiberado", "valorMargemDisponivel")
	presencaEntryStatus = fieldpath.MustCompile("status")
	presencaEntryMsg    = fieldpath.MustCompile("mensagem", "message")
	presencaTableName   = fieldpath.MustCompile("nomeTipo", "nome")
	presencaTerm        = fieldpath.MustCompile("prazo")

	errNoShortURL    = errors.New("termo-inss returned no shortUrl")
	errNoEmployments = errors.New("consultar-vinculos returned no employment")
)

// marginFields are copied from the margin answer onto every result row.
var marginFields = []string{
	"valorMargemDisponivel", "valorMargemBase", "valorTotalDevido",
	"dataAdmissao", "dataNascimento", "nomeMae", "sexo",
}

// tableFields are copied from each available simulation table.
var tableFields = []string{"prazo", "taxaJuros", "valorLiberado", "valorParcela", "taxaSeguro", "valorSeguro"}

// PresencaAuth logs in with login and password.
type PresencaAuth struct {
	api apiClient
}

// NewPresencaAuth builds the Presenca authenticator.
func NewPresencaAuth(cfg *config.ProviderConfig, hc *http.Client) *PresencaAuth {
	return &PresencaAuth{api: newAPIClient(cfg.BaseURL, hc)}
}

// Login returns the session token.
func (a *PresencaAuth) Login(ctx context.Context, cred model.Credential) (string, error) {
	if cred.Empty() {
		return "", fmt.Errorf("presenca login: %w: missing login or secret", workflow.ErrInvalidCredential)
	}
	resp, err := a.api.do(ctx, http.MethodPost, presencaLoginPath, nil, map[string]string{
		"login": cred.Login,
		"senha": cred.Secret,
	})
	if err != nil {
		return "", err
	}
	if !resp.ok() {
		return "", credentialRejected(resp.Status, resp.statusError("login"))
	}
	token := presencaToken.String(resp.object())
	if token == "" {
		return "", errMissingToken
	}
	return token, nil
}

// Presenca runs the term, employment, margin and simulation chain.
type Presenca struct {
	api       apiClient
	productID int
	stepDelay time.Duration
	sleeper   workflow.Sleeper
}

// NewPresenca builds the Presenca workflow adapter. sleeper spaces the
// calls of one chain; nil uses the wall clock.
func NewPresenca(cfg *config.ProviderConfig, hc *http.Client, sleeper workflow.Sleeper) *Presenca {
	if sleeper == nil {
		sleeper = workflow.RealSleeper{}
	}
	product, err := strconv.Atoi(strings.TrimSpace(cfg.ProductCode))
	if err != nil || product <= 0 {
		product = 28
	}
	return &Presenca{
		api:       newAPIClient(cfg.BaseURL, hc),
		productID: product,
		stepDelay: cfg.StepDelay,
		sleeper:   sleeper,
	}
}

// Submit creates the INSS consent term. Transient statuses are retried.
// The term's short URL must be confirmed before polling.
func (p *Presenca) Submit(ctx context.Context, token string, s model.Subject) (workflow.Submission, error) {
	body := map[string]any{
		"cpf":       s.NationalID,
		"nome":      s.Name,
		"telefone":  s.Phone,
		"produtoId": p.productID,
	}
	var (
		resp response
		err  error
	)
	for attempt := 1; attempt <= presencaTermAttempts; attempt++ {
		resp, err = p.api.do(ctx, http.MethodPost, presencaTermPath, bearer(token), body)
		if err != nil {
			return workflow.Submission{}, err
		}
		if resp.ok() {
			break
		}
		statusErr := resp.statusError("termo-inss")
		if !statusErr.Retryable() || attempt == presencaTermAttempts {
			return workflow.Submission{}, statusErr
		}
		if err := p.pause(ctx); err != nil {
			return workflow.Submission{}, err
		}
	}

	obj := resp.object()
	shortURL := presencaShortURL.String(obj)
	if shortURL == "" {
		return workflow.Submission{}, errNoShortURL
	}
	return workflow.Submission{
		Ref:         presencaAuthID.String(obj),
		Accepted:    true,
		ApprovalURL: shortURL,
	}, nil
}

// Poll runs the post-consent chain and returns one row per available
// simulation table, or a single row when none is offered.
func (p *Presenca) Poll(ctx context.Context, token string, s model.Subject, ref string) ([]model.RawEntry, error) {
	link, err := p.employment(ctx, token, s.NationalID)
	if err != nil {
		return nil, err
	}
	if err := p.pause(ctx); err != nil {
		return nil, err
	}
	margin, err := p.margin(ctx, token, s.NationalID, link)
	if err != nil {
		return nil, err
	}
	if err := p.pause(ctx); err != nil {
		return nil, err
	}
	tables, err := p.simulations(ctx, token, s, link, margin)
	if err != nil {
		return nil, err
	}

	base := model.RawEntry{
		"status":                    presencaDoneStatus,
		"mensagem":                  "Fluxo completo OK",
		"autorizacaoId":             ref,
		"matricula":                 link["matricula"],
		"numeroInscricaoEmpregador": link["numeroInscricaoEmpregador"],
		"elegivel":                  link["elegivel"],
	}
	for _, k := range marginFields {
		if v, ok := margin[k]; ok {
			base[k] = v
		}
	}
	if len(tables) == 0 {
		base["mensagem"] = "Fluxo completo OK (sem tabelas disponiveis)"
		return []model.RawEntry{base}, nil
	}
	out := make([]model.RawEntry, 0, len(tables))
	for _, t := range tables {
		row := make(model.RawEntry, len(base)+len(tableFields)+1)
		for k, v := range base {
			row[k] = v
		}
		row["nomeTipo"] = t["nome"]
		for _, k := range tableFields {
			row[k] = t[k]
		}
		out = append(out, row)
	}
	return out, nil
}

// Normalize maps a flow row. Rows of the same table and term share a MatchKey.
func (p *Presenca) Normalize(raw model.RawEntry) (model.ResultEntry, bool) {
	data := map[string]any(raw)
	status := strings.ToUpper(presencaEntryStatus.String(data))
	if status == "" {
		return model.ResultEntry{}, false
	}
	table, term := presencaTableName.String(data), presencaTerm.String(data)
	desc := presencaEntryMsg.String(data)
	switch {
	case table != "" && term != "":
		desc = fmt.Sprintf("%s %sx | %s", table, term, desc)
	case table != "":
		desc = table + " | " + desc
	}
	e := model.ResultEntry{
		Status:      status,
		Description: desc,
		Fields:      make(map[string]any, len(raw)),
		MatchKey:    strings.ToUpper(table) + "|" + term,
	}
	for k, v := range raw {
		if !fieldpath.Empty(v) {
			e.Fields[k] = v
		}
	}
	if f, ok := presencaEntryValue.Float(data); ok {
		e.Value = &f
	}
	return e, true
}

// employment picks the first eligible employment link, else the first one.
func (p *Presenca) employment(ctx context.Context, token, nationalID string) (map[string]any, error) {
	resp, err := p.api.do(ctx, http.MethodPost, presencaLinksPath, bearer(token), map[string]string{"cpf": nationalID})
	if err != nil {
		return nil, err
	}
	if !resp.ok() {
		return nil, resp.statusError("consultar-vinculos")
	}
	var links []map[string]any
	for _, row := range rows(resp.Payload, "id", "data", "rows", "vinculos") {
		registry, employer := presencaRegistry.String(row), presencaEmployer.String(row)
		if registry == "" || employer == "" {
			continue
		}
		links = append(links, map[string]any{
			"matricula":                 registry,
			"numeroInscricaoEmpregador": employer,
			"elegivel":                  row["elegivel"],
		})
	}
	if len(links) == 0 {
		return nil, errNoEmployments
	}
	for _, l := range links {
		if strings.EqualFold(presencaEligible.String(l), "true") {
			return l, nil
		}
	}
	return links[0], nil
}

func (p *Presenca) margin(ctx context.Context, token, nationalID string, link map[string]any) (map[string]any, error) {
	resp, err := p.api.do(ctx, http.MethodPost, presencaMarginPath, bearer(token), map[string]any{
		"cpf":       nationalID,
		"matricula": link["matricula"],
		"cnpj":      link["numeroInscricaoEmpregador"],
	})
	if err != nil {
		return nil, err
	}
	if !resp.ok() {
		return nil, resp.statusError("consultar-margem")
	}
	m := resp.object()
	if m == nil {
		m = map[string]any{}
	}
	return m, nil
}

func (p *Presenca) simulations(
	ctx context.Context, token string, s model.Subject, link, margin map[string]any,
) ([]map[string]any, error) {
	installment, _ := presencaMargin.Float(margin)
	if installment < 0 {
		installment = 0
	}
	ddd, number := splitPhone(s.Phone)
	email := s.Email
	if email == "" {
		email = presencaPlaceholder
	}
	birth := workflow.NormalizeBirthDate(fieldpath.ToString(margin["dataNascimento"]))
	var birthValue any
	if birth != "" {
		birthValue = birth
	}
	body := map[string]any{
		"tomador": map[string]any{
			"cpf":            s.NationalID,
			"nome":           s.Name,
			"telefone":       map[string]string{"ddd": ddd, "numero": number},
			"dataNascimento": birthValue,
			"email":          email,
			"sexo":           margin["sexo"],
			"nomeMae":        margin["nomeMae"],
			"vinculoEmpregaticio": map[string]any{
				"cnpjEmpregador":       link["numeroInscricaoEmpregador"],
				"registroEmpregaticio": link["matricula"],
			},
			"dadosBancarios": map[string]any{
				"codigoBanco": nil, "agencia": nil, "conta": nil, "digitoConta": nil, "formaCredito": nil,
			},
			"endereco": map[string]string{
				"cep": "", "rua": "", "numero": "", "complemento": "", "cidade": "", "estado": "", "bairro": "",
			},
		},
		"proposta": map[string]any{
			"valorSolicitado":    0,
			"quantidadeParcelas": 0,
			"produtoId":          p.productID,
			"valorParcela":       installment,
		},
		"documentos": []any{},
	}
	resp, err := p.api.do(ctx, http.MethodPost, presencaSimulationPath, bearer(token), body)
	if err != nil {
		return nil, err
	}
	if !resp.ok() {
		return nil, resp.statusError("disponiveis")
	}
	if resp.Payload == nil {
		return nil, nil
	}
	return rows(resp.Payload, "data", "rows"), nil
}

func (p *Presenca) pause(ctx context.Context) error {
	if p.stepDelay <= 0 {
		return ctx.Err()
	}
	return p.sleeper.Sleep(ctx, p.stepDelay)
}

// splitPhone returns area code and number of a national phone.
func splitPhone(phone string) (string, string) {
	d := workflow.NormalizePhone(phone)
	if len(d) < 10 {
		return "", d
	}
	return d[:2], d[2:]
}
