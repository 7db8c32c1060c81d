package main

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zen-systems/sitegen/pkg/config"
	"github.com/zen-systems/sitegen/pkg/pipeline"
	"github.com/zen-systems/sitegen/pkg/schema"
)

func TestMockAdaptersCoverEveryProvider(t *testing.T) {
	rc := config.DefaultRoutingConfig()
	adapters, err := mockAdapters(rc)
	require.NoError(t, err)
	for model, profile := range rc.Models {
		assert.Contains(t, adapters, profile.Provider, model)
	}
}

func TestMockRunProducesValidItems(t *testing.T) {
	rc := config.DefaultRoutingConfig()
	adapters, err := mockAdapters(rc)
	require.NoError(t, err)
	p, err := pipeline.New(rc, adapters)
	require.NoError(t, err)

	out, err := p.Run(context.Background(), pipeline.Request{
		Prompt:  "Website for a dental clinic",
		Context: pipeline.GenerationContext{BusinessName: "Bright Smiles"},
	})
	require.NoError(t, err)
	assert.True(t, out.Success)
	assert.Empty(t, out.Errors)
	assert.Equal(t, rc.Pipeline.DefaultItems, out.Selection.Items)
	assert.False(t, out.Selection.Defaulted)

	catalog, err := schema.NewCatalog()
	require.NoError(t, err)
	for _, it := range out.Items {
		assert.Equal(t, pipeline.ProvenanceGenerated, it.Provenance, it.ID)
		assert.NoError(t, catalog.Validate(it.ID, it.Payload), it.ID)
	}
	hero, ok := out.Item("hero")
	require.True(t, ok)
	assert.Contains(t, string(hero.Payload), "Bright Smiles")
}
