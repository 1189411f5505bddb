package pattern

import (
	"regexp"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSynthesize(t *testing.T) {
	tests := []struct {
		name         string
		text         string
		value        string
		want         string
		contextWords int
		wantOK       bool
	}{
		{
			name:         "registration number anchored on preceding words",
			text:         "MATRÍCULA número 12345 situada na rua",
			value:        "12345",
			contextWords: 3,
			want:         `(?i)MATRÍCULA[\s\p{Z}\v\x85]+número[\s\p{Z}\v\x85]*[:.\-]?[\s\p{Z}\v\x85]*(\d+)`,
			wantOK:       true,
		},
		{
			name:         "context limited to last words",
			text:         "alpha beta gamma delta: XY-77 end",
			value:        "XY-77",
			contextWords: 2,
			want:         `(?i)gamma[\s\p{Z}\v\x85]+delta:[\s\p{Z}\v\x85]*[:.\-]?[\s\p{Z}\v\x85]*(.+)`,
			wantOK:       true,
		},
		{
			name:         "decimal value uses numeric capture",
			text:         "Area total: 1.234,56 m2",
			value:        "1.234,56",
			contextWords: 3,
			want:         `(?i)Area[\s\p{Z}\v\x85]+total:[\s\p{Z}\v\x85]*[:.\-]?[\s\p{Z}\v\x85]*([\d.,]+)`,
			wantOK:       true,
		},
		{
			name:         "metacharacters in anchor are escaped",
			text:         "Valor (R$) 100 reais",
			value:        "100",
			contextWords: 3,
			want:         `(?i)Valor[\s\p{Z}\v\x85]+\(R\$\)[\s\p{Z}\v\x85]*[:.\-]?[\s\p{Z}\v\x85]*(\d+)`,
			wantOK:       true,
		},
		{
			name:         "non-positive context falls back to default",
			text:         "um dois tres quatro LOTE 15",
			value:        "15",
			contextWords: 0,
			want:         `(?i)tres[\s\p{Z}\v\x85]+quatro[\s\p{Z}\v\x85]+LOTE[\s\p{Z}\v\x85]*[:.\-]?[\s\p{Z}\v\x85]*(\d+)`,
			wantOK:       true,
		},
		{
			name:         "value is trimmed before searching",
			text:         "QUADRA: 42 fim",
			value:        "  42  ",
			contextWords: 3,
			want:         `(?i)QUADRA:[\s\p{Z}\v\x85]*[:.\-]?[\s\p{Z}\v\x85]*(\d+)`,
			wantOK:       true,
		},
		{
			name:         "single character value is too weak",
			text:         "LOTE 7",
			value:        "7",
			contextWords: 3,
		},
		{
			name:         "whitespace padded single character is too weak",
			text:         "LOTE 7",
			value:        " 7 ",
			contextWords: 3,
		},
		{
			name:         "value not present",
			text:         "BAIRRO: CENTRO",
			value:        "ALEIXO",
			contextWords: 3,
		},
		{
			name:         "search is case sensitive",
			text:         "BAIRRO: centro",
			value:        "CENTRO",
			contextWords: 3,
		},
		{
			name:         "value at the start has no anchor",
			text:         "12345 situada na rua",
			value:        "12345",
			contextWords: 3,
		},
		{
			name:         "only whitespace before the value",
			text:         "   \n  12345",
			value:        "12345",
			contextWords: 3,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := Synthesize(tt.text, tt.value, tt.contextWords)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestSynthesize_WindowLimitsAnchor(t *testing.T) {
	text := strings.Repeat("x", 60) + " LOTE 15"

	got, ok := Synthesize(text, "15", 10)
	require.True(t, ok)

	// 50 characters before the value: 44 x's, a space, "LOTE" and a space.
	want := "(?i)" + strings.Repeat("x", 44) + `[\s\p{Z}\v\x85]+LOTE[\s\p{Z}\v\x85]*[:.\-]?[\s\p{Z}\v\x85]*(\d+)`
	assert.Equal(t, want, got)
}

func TestSynthesize_WindowCountsCharactersNotBytes(t *testing.T) {
	text := strings.Repeat("ç", 60) + " SETOR 08"

	got, ok := Synthesize(text, "08", 5)
	require.True(t, ok)
	assert.Equal(t, "(?i)"+strings.Repeat("ç", 44)+`[\s\p{Z}\v\x85]+SETOR[\s\p{Z}\v\x85]*[:.\-]?[\s\p{Z}\v\x85]*(\d+)`, got)
}

func TestSynthesize_RecoversValueFromSameText(t *testing.T) {
	cases := []struct {
		text  string
		value string
	}{
		{"MATRÍCULA número 12345 situada na rua", "12345"},
		{"Livro 2 - Registro Geral\nBAIRRO: CENTRO\nCIDADE: MANAUS", "CENTRO"},
		{"Imóvel situado na RUA DAS FLORES\nconforme planta", "RUA DAS FLORES"},
		{"Area total: 1.234,56", "1.234,56"},
		{"Valor (R$) 100", "100"},
		{"LOTE n. 15-A\nQUADRA 7", "15-A"},
		{"Setor - 08", "08"},
		{"MATRÍCULA número\u00a012345 situada", "12345"},
		{"MATRÍCULA\u00a0número\v12345 situada", "12345"},
		{"Localização do\u0085imóvel BAIRRO:\u2003ALEIXO\nCIDADE: MANAUS", "ALEIXO"},
	}

	for _, tc := range cases {
		t.Run(tc.value, func(t *testing.T) {
			rule, ok := Synthesize(tc.text, tc.value, DefaultContextWords)
			require.True(t, ok)

			re, err := regexp.Compile(rule)
			require.NoError(t, err)

			groups := re.FindStringSubmatch(tc.text)
			require.Len(t, groups, 2)
			assert.Equal(t, tc.value, strings.TrimSpace(groups[1]))
		})
	}
}

func TestSynthesize_AppliesToSimilarDocument(t *testing.T) {
	rule, ok := Synthesize("MATRÍCULA número 12345 situada na rua", "12345", 3)
	require.True(t, ok)

	re := regexp.MustCompile(rule)
	groups := re.FindStringSubmatch("Ref: MATRÍCULA NÚMERO 98765 do cartório")
	require.Len(t, groups, 2)
	assert.Equal(t, "98765", groups[1])
}

func TestSynthesize_Deterministic(t *testing.T) {
	text := "BAIRRO: CENTRO\nCIDADE: MANAUS"
	first, ok := Synthesize(text, "CENTRO", 3)
	require.True(t, ok)

	for range 5 {
		again, ok := Synthesize(text, "CENTRO", 3)
		require.True(t, ok)
		assert.Equal(t, first, again)
	}
}
