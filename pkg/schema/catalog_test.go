package schema

import (
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewCatalog_Builtins(t *testing.T) {
	c, err := NewCatalog()
	require.NoError(t, err)
	assert.Equal(t, []string{
		"about", "contact", "cta", "faq", "features", "footer",
		"gallery", "hero", "pricing", "seo", "team", "testimonials",
	}, c.Kinds())
	assert.True(t, c.Known("Hero"))
	assert.False(t, c.Known("carousel"))
}

func TestValidate(t *testing.T) {
	c, err := NewCatalog()
	require.NoError(t, err)

	tests := []struct {
		name    string
		kind    string
		payload string
		valid   bool
	}{
		{"hero ok", "hero", `{"headline":"Fresh bread daily","cta":{"label":"Visit","href":"#contact"}}`, true},
		{"hero missing headline", "hero", `{"subheadline":"x"}`, false},
		{"hero empty headline", "hero", `{"headline":""}`, false},
		{"features ok", "features", `{"items":[{"title":"Fast","description":"Very"}]}`, true},
		{"features empty list", "features", `{"items":[]}`, false},
		{"pricing ok", "pricing", `{"plans":[{"name":"Basic","price":"$9","features":["a"]}]}`, true},
		{"pricing wrong type", "pricing", `{"plans":"cheap"}`, false},
		{"seo title too long", "seo", `{"title":"` + strings.Repeat("a", 71) + `","description":"d"}`, false},
		{"seo ok", "seo", `{"title":"Acme Dental","description":"Family dentistry","keywords":["dentist"]}`, true},
		{"footer ok", "footer", `{"copyright":"© 2025 Acme","links":[{"label":"Privacy","href":"/privacy"}]}`, true},
		{"not json", "about", `{"title":`, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := c.Validate(tt.kind, []byte(tt.payload))
			if tt.valid {
				assert.NoError(t, err)
				return
			}
			var verr *ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Equal(t, tt.kind, verr.Kind)
			assert.NotEmpty(t, verr.Issues)
		})
	}
}

func TestValidate_UnknownKind(t *testing.T) {
	c, err := NewCatalog()
	require.NoError(t, err)
	err = c.Validate("carousel", []byte(`{}`))
	assert.True(t, errors.Is(err, ErrUnknownKind))
}

func TestRegister(t *testing.T) {
	c, err := NewCatalog()
	require.NoError(t, err)

	require.NoError(t, c.Register("Banner", []byte(`{"type":"object","required":["text"]}`)))
	assert.True(t, c.Known("banner"))
	assert.NoError(t, c.Validate("banner", []byte(`{"text":"sale"}`)))
	assert.Error(t, c.Validate("banner", []byte(`{}`)))

	assert.Error(t, c.Register("", []byte(`{}`)))
}

func TestCatalog_ConcurrentValidate(t *testing.T) {
	c, err := NewCatalog()
	require.NoError(t, err)
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, c.Validate("hero", []byte(`{"headline":"hi"}`)))
		}()
	}
	wg.Wait()
}

func TestDescribe(t *testing.T) {
	c, err := NewCatalog()
	require.NoError(t, err)
	s, ok := c.Describe("hero")
	require.True(t, ok)
	assert.Contains(t, s, `"required":["headline"]`)
	assert.NotContains(t, s, "\n")

	_, ok = c.Describe("carousel")
	assert.False(t, ok)
}
