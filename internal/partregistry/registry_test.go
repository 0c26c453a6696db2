// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

package partregistry

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateAddRemoveNode(t *testing.T) {
	r := New(nil)
	p, err := r.Create("batch", 4)
	require.NoError(t, err)

	require.NoError(t, r.AddNode("batch", 0))
	require.NoError(t, r.AddNode("batch", 2))
	assert.Equal(t, 2, p.TotalNodes())

	require.NoError(t, r.RemoveNode("batch", 0))
	assert.Equal(t, 1, p.TotalNodes())
}

func TestGrowAllPreservesMembership(t *testing.T) {
	r := New(nil)
	p, _ := r.Create("batch", 2)
	require.NoError(t, r.AddNode("batch", 1))

	r.GrowAll(10)
	assert.Equal(t, 10, p.Members.Width())
	assert.True(t, p.Members.IsSet(1))
}

func TestDuplicateCreateErrors(t *testing.T) {
	r := New(nil)
	_, err := r.Create("batch", 4)
	require.NoError(t, err)
	_, err = r.Create("batch", 4)
	assert.Error(t, err)
}

func TestSetDefaultRequiresExistingPartition(t *testing.T) {
	r := New(nil)
	assert.Error(t, r.SetDefault("batch"))

	_, err := r.Create("batch", 4)
	require.NoError(t, err)
	require.NoError(t, r.SetDefault("batch"))

	p, ok := r.Default()
	require.True(t, ok)
	assert.Equal(t, "batch", p.Name)
}
