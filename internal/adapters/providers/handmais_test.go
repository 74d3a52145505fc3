package providers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/consultaflow/dispatcher/config"
	"github.com/consultaflow/dispatcher/internal/domain/model"
	"github.com/consultaflow/dispatcher/internal/domain/workflow"
)

func TestHandmaisAuth(t *testing.T) {
	tok, err := HandmaisAuth{}.Login(context.Background(), model.Credential{Token: " abc "})
	require.NoError(t, err)
	assert.Equal(t, "abc", tok)

	_, err = HandmaisAuth{}.Login(context.Background(), model.Credential{Login: "x", Secret: "y"})
	require.ErrorIs(t, err, workflow.ErrInvalidCredential)
}

func TestHandmais_SubmitRequiresApproval(t *testing.T) {
	approved := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "api-token", r.Header.Get("Authorization"))
		if !approved {
			writeJSON(t, w, http.StatusOK, map[string]any{"http_code": 202, "mensagem": "https://approve.example/a"})
			return
		}
		writeJSON(t, w, http.StatusOK, []any{
			map[string]any{"nome_tabela": "CLT 24", "valor_margem": "812,40", "id_tabela": "7", "token_tabela": "t7"},
			map[string]any{"nomeTabela": "CLT 36", "valorMargem": "900", "id": "8"},
		})
	}))
	defer srv.Close()

	h := NewHandmais(&config.ProviderConfig{BaseURL: srv.URL}, srv.Client())
	subject := model.Subject{NationalID: "12345678909"}

	sub, err := h.Submit(context.Background(), "api-token", subject)
	require.NoError(t, err)
	assert.Equal(t, "https://approve.example/a", sub.ApprovalURL)
	assert.Empty(t, sub.Entries)

	_, err = h.Poll(context.Background(), "api-token", subject, "")
	require.ErrorIs(t, err, errApprovalPending)

	approved = true
	raws, err := h.Poll(context.Background(), "api-token", subject, "")
	require.NoError(t, err)
	entries := workflow.DistinctEntries(raws, h.Normalize)
	require.Len(t, entries, 2)
	assert.Equal(t, "CONSULTADO", entries[0].Status)
	assert.Equal(t, "CLT 24", entries[0].Description)
	assert.InDelta(t, 812.40, *entries[0].Value, 0.001)
	assert.Equal(t, "t7", entries[0].Fields["token_tabela"])
	assert.Equal(t, "8", entries[1].MatchKey)
}

func TestHandmais_SubmitReturnsEntriesDirectly(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(t, w, http.StatusOK, map[string]any{"simulacoes": []any{map[string]any{"nome_tabela": "A", "valor_margem": "10"}}})
	}))
	defer srv.Close()

	h := NewHandmais(&config.ProviderConfig{BaseURL: srv.URL}, srv.Client())
	sub, err := h.Submit(context.Background(), "tok", model.Subject{NationalID: "12345678909"})
	require.NoError(t, err)
	assert.Empty(t, sub.ApprovalURL)
	assert.Len(t, sub.Entries, 1)
}

func TestHandmais_SubmitFailureMessage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(t, w, http.StatusUnprocessableEntity, map[string]any{
			"descricao": "Produto clt-a -> Atenção: Idade mínima 21 anos; Renda inferior a 1.500,00 | Produto clt-b -> Atenção: Idade mínima 21 anos",
		})
	}))
	defer srv.Close()

	h := NewHandmais(&config.ProviderConfig{BaseURL: srv.URL}, srv.Client())
	_, err := h.Submit(context.Background(), "tok", model.Subject{NationalID: "12345678909"})
	require.Error(t, err)
	assert.Equal(t, "Idade mínima 21 anos, Renda inferior a 1.500,00.", err.Error())
}

func TestNormalizeHandmaisMessage(t *testing.T) {
	fiscal := "Produto x -> A empresa possui regime fiscal (ISENTA DO IRPJ) não atendido por este produto de credito."
	assert.Equal(t, handmaisFiscalRegime, normalizeHandmaisMessage(fiscal))
	assert.Equal(t, "CPF bloqueado.", normalizeHandmaisMessage("  CPF   bloqueado "))
	assert.Empty(t, normalizeHandmaisMessage("   "))
}

func TestSplitRestrictions(t *testing.T) {
	got := splitRestrictions("valor 0,00 abaixo, prazo curto; sem margem | idade")
	assert.Equal(t, []string{"valor 0,00 abaixo", "prazo curto", "sem margem", "idade"}, got)
}

func TestSubjectRules(t *testing.T) {
	yes := true
	rules := SubjectRules(model.ProviderHandmais, &config.ProviderConfig{RandomPhone: &yes, RequireBirthDate: &yes})
	assert.True(t, rules.RequireBirthDate)
	assert.True(t, rules.RequirePhone)
	assert.False(t, rules.PhoneValid("11900000000"))
	assert.True(t, ValidMobileInRange(rules.PhoneFallback()))

	rules = SubjectRules(model.ProviderV8, &config.ProviderConfig{DefaultPhone: "11980733602"})
	assert.Nil(t, rules.PhoneValid)
	assert.Equal(t, "11980733602", rules.PhoneFallback())
}

func TestNew(t *testing.T) {
	for _, p := range model.AllProviders() {
		set, err := New(p, &config.ProviderConfig{BaseURL: "http://localhost"}, Options{})
		require.NoError(t, err, p)
		assert.NotNil(t, set.Auth)
		assert.NotNil(t, set.Workflow)
	}
	_, err := New(model.ProviderV8, nil, Options{})
	require.Error(t, err)
}
