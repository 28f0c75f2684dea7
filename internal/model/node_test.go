package model_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noesis-ai/noesis/internal/model"
)

func TestValidateNodeName(t *testing.T) {
	require.NoError(t, model.ValidateNodeName("alice"))
	require.NoError(t, model.ValidateNodeName(strings.Repeat("a", model.MaxNodeNameLen)))

	err := model.ValidateNodeName("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "name is required")

	err = model.ValidateNodeName(strings.Repeat("a", model.MaxNodeNameLen+1))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exceeds maximum length")
}

func TestValidateNodeLabel(t *testing.T) {
	require.NoError(t, model.ValidateNodeLabel(""))
	require.NoError(t, model.ValidateNodeLabel(strings.Repeat("a", model.MaxNodeLabelLen)))

	err := model.ValidateNodeLabel(strings.Repeat("a", model.MaxNodeLabelLen+1))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exceeds maximum length")
}
