package providers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"strings"

	"github.com/consultaflow/dispatcher/config"
	"github.com/consultaflow/dispatcher/internal/domain/fieldpath"
	"github.com/consultaflow/dispatcher/internal/domain/model"
	"github.com/consultaflow/dispatcher/internal/domain/workflow"
)

const (
	handmaisSimulationPath = "/uy3/simulacao_clt"
	handmaisDoneStatus     = "CONSULTADO"
	handmaisMessageLimit   = 500
	handmaisFieldLimit     = 255
)

var (
	handmaisCode      = fieldpath.MustCompile("http_code")
	handmaisApproval  = fieldpath.MustCompile("mensagem", "url", "link")
	handmaisFailure   = fieldpath.MustCompile("descricao", "mensagem", "message", "error")
	handmaisTable     = fieldpath.MustCompile("nome_tabela", "nomeTabela")
	handmaisMargin    = fieldpath.MustCompile("valor_margem", "valorMargem")
	handmaisTableID   = fieldpath.MustCompile("id_tabela", "id")
	handmaisTableTok  = fieldpath.MustCompile("token_tabela", "tokenTabela")
	handmaisRowStatus = fieldpath.MustCompile("status")

	handmaisProductSplit = regexp.MustCompile(`(?i)Produto\s+[a-z0-9\-]+\s*->`)
	handmaisProductTail  = regexp.MustCompile(`(?i)Produto\s+[a-z0-9\-]+\s*->.*`)
	handmaisPreambles    = []*regexp.Regexp{
		regexp.MustCompile(`(?i)^Aten[^:]*:\s*`),
		regexp.MustCompile(`(?i)^Segue abaixo[^:]*:\s*`),
		regexp.MustCompile(`(?i)^as restri[^:]*:\s*`),
	}

	errApprovalPending = errors.New("simulation still requires approval")
)

const handmaisFiscalRegime = "A empresa possui regime fiscal (ISENTA DO IRPJ) não atendido por este produto de crédito."

// HandmaisAuth uses the account's pre-issued API token.
type HandmaisAuth struct{}

// Login returns the stored token.
func (HandmaisAuth) Login(_ context.Context, cred model.Credential) (string, error) {
	if tok := strings.TrimSpace(cred.Token); tok != "" {
		return tok, nil
	}
	return "", fmt.Errorf("handmais: %w: account has no API token", workflow.ErrInvalidCredential)
}

// Handmais runs the CLT simulation, which may ask for borrower approval first.
type Handmais struct {
	api apiClient
}

// NewHandmais builds the Handmais workflow adapter.
func NewHandmais(cfg *config.ProviderConfig, hc *http.Client) *Handmais {
	return &Handmais{api: newAPIClient(cfg.BaseURL, hc)}
}

// Submit simulates once. An approval answer carries the consent URL; a
// successful one carries the simulation tables.
func (h *Handmais) Submit(ctx context.Context, token string, s model.Subject) (workflow.Submission, error) {
	resp, err := h.simulate(ctx, token, s.NationalID)
	if err != nil {
		return workflow.Submission{}, err
	}
	if handmaisNeedsApproval(resp) {
		u := handmaisApprovalURL(resp.object())
		if u == "" {
			return workflow.Submission{}, errors.New("approval required but no valid URL was returned")
		}
		return workflow.Submission{Accepted: true, ApprovalURL: u}, nil
	}
	entries, err := handmaisEntries(resp)
	if err != nil {
		return workflow.Submission{}, err
	}
	return workflow.Submission{Accepted: true, Entries: entries}, nil
}

// Poll simulates again after approval.
func (h *Handmais) Poll(ctx context.Context, token string, s model.Subject, _ string) ([]model.RawEntry, error) {
	resp, err := h.simulate(ctx, token, s.NationalID)
	if err != nil {
		return nil, err
	}
	if handmaisNeedsApproval(resp) {
		return nil, errApprovalPending
	}
	return handmaisEntries(resp)
}

// Normalize maps one simulation table.
func (h *Handmais) Normalize(raw model.RawEntry) (model.ResultEntry, bool) {
	data := map[string]any(raw)
	table := clip(handmaisTable.String(data), handmaisFieldLimit)
	margin := clip(handmaisMargin.String(data), handmaisFieldLimit)
	id := clip(handmaisTableID.String(data), handmaisFieldLimit)
	tok := clip(handmaisTableTok.String(data), handmaisFieldLimit)
	if table == "" && margin == "" && id == "" && tok == "" {
		return model.ResultEntry{}, false
	}
	status := strings.ToUpper(handmaisRowStatus.String(data))
	if status == "" {
		status = handmaisDoneStatus
	}
	e := model.ResultEntry{
		Status:      status,
		Description: table,
		Fields: map[string]any{
			"nome_tabela":  table,
			"valor_margem": margin,
			"id_tabela":    id,
			"token_tabela": tok,
		},
		MatchKey: id,
	}
	if f, ok := fieldpath.ParseDecimal(margin); ok {
		e.Value = &f
	}
	return e, true
}

func (h *Handmais) simulate(ctx context.Context, token, nationalID string) (response, error) {
	header := http.Header{"Authorization": []string{token}}
	return h.api.do(ctx, http.MethodPost, handmaisSimulationPath, header, map[string]string{"cpf": nationalID})
}

func handmaisNeedsApproval(resp response) bool {
	if resp.Status == http.StatusAccepted {
		return true
	}
	obj, ok := resp.Payload.(map[string]any)
	if !ok {
		return false
	}
	if code, ok := handmaisCode.Float(obj); ok && int(code) == http.StatusAccepted {
		return true
	}
	return isHTTPURL(fieldpath.ToString(obj["mensagem"]))
}

func handmaisApprovalURL(obj map[string]any) string {
	for _, expr := range handmaisApproval.Exprs() {
		if u := fieldpath.ToString(obj[expr]); isHTTPURL(u) {
			return strings.TrimSpace(u)
		}
	}
	return ""
}

// handmaisEntries returns the simulation rows, or the provider's failure
// message as an error when there are none.
func handmaisEntries(resp response) ([]model.RawEntry, error) {
	var list []map[string]any
	switch t := resp.Payload.(type) {
	case []any:
		list = rows(t)
	case map[string]any:
		for _, k := range []string{"data", "rows", "result", "simulacoes"} {
			if l, ok := t[k].([]any); ok {
				list = rows(l)
				break
			}
		}
		if list == nil && (t["nome_tabela"] != nil || t["token_tabela"] != nil || t["id"] != nil) {
			list = []map[string]any{t}
		}
	}
	out := make([]model.RawEntry, 0, len(list))
	for _, row := range list {
		out = append(out, model.RawEntry(row))
	}
	if len(out) > 0 && resp.ok() {
		return out, nil
	}
	return nil, errors.New(handmaisFailureMessage(resp))
}

func handmaisFailureMessage(resp response) string {
	if obj, ok := resp.Payload.(map[string]any); ok {
		if msg := handmaisFailure.String(obj); msg != "" {
			return normalizeHandmaisMessage(msg)
		}
	}
	if raw := strings.TrimSpace(string(resp.Raw)); raw != "" {
		return normalizeHandmaisMessage(fmt.Sprintf("Falha HandMais (HTTP_%d): %s", resp.Status, workflow.Truncate(raw, handmaisMessageLimit)))
	}
	return fmt.Sprintf("Falha HandMais sem retorno valido (HTTP_%d).", resp.Status)
}

// normalizeHandmaisMessage collapses the per-product restriction lists the
// simulation returns into one distinct, comma separated list.
func normalizeHandmaisMessage(msg string) string {
	text := strings.Join(strings.Fields(msg), " ")
	if text == "" {
		return ""
	}
	lower := strings.ToLower(text)
	if strings.Contains(lower, "empresa possui regime fiscal") && strings.Contains(lower, "isenta do irpj") &&
		(strings.Contains(lower, "produto de credito") || strings.Contains(lower, "produto de crédito")) {
		return handmaisFiscalRegime
	}
	if items := handmaisRestrictions(text); len(items) > 0 {
		return workflow.Truncate(strings.Join(items, ", ")+".", handmaisMessageLimit)
	}
	return workflow.Truncate(text, handmaisMessageLimit)
}

func handmaisRestrictions(text string) []string {
	var out []string
	seen := map[string]struct{}{}
	for _, part := range handmaisProductSplit.Split(text, -1) {
		part = stripPreambles(strings.TrimSpace(part))
		if part == "" {
			continue
		}
		for _, item := range splitRestrictions(part) {
			item = handmaisProductTail.ReplaceAllString(item, "")
			item = strings.Trim(stripPreambles(strings.TrimSpace(item)), " .,\t\n\r")
			if item == "" {
				continue
			}
			key := strings.ToLower(strings.Join(strings.Fields(item), " "))
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}
			out = append(out, item)
		}
	}
	return out
}

func stripPreambles(s string) string {
	for _, re := range handmaisPreambles {
		s = re.ReplaceAllString(s, "")
	}
	return strings.TrimSpace(s)
}

// splitRestrictions splits on ';', '|' and commas, keeping decimal commas
// such as "0,00" intact.
func splitRestrictions(s string) []string {
	var (
		out   []string
		start int
	)
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case ';', '|':
		case ',':
			if decimalComma(s[i+1:]) {
				continue
			}
		default:
			continue
		}
		out = append(out, strings.TrimSpace(s[start:i]))
		start = i + 1
	}
	return append(out, strings.TrimSpace(s[start:]))
}

// decimalComma reports whether rest starts with two digits and a word boundary.
func decimalComma(rest string) bool {
	rest = strings.TrimLeft(rest, " ")
	if len(rest) < 2 || !isDigit(rest[0]) || !isDigit(rest[1]) {
		return false
	}
	return len(rest) == 2 || !isWordByte(rest[2])
}

func isDigit(b byte) bool { return b >= '0' && b <= '9' }

func isWordByte(b byte) bool {
	return isDigit(b) || b == '_' || (b >= 'a' && b <= 'z') || (b >= 'A' && b <= 'Z')
}

func clip(s string, n int) string { return workflow.Truncate(strings.TrimSpace(s), n) }
