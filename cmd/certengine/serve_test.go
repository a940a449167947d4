package main

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestServe_StopsWithContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	root := newRootCmd()
	root.SetArgs([]string{"serve", "--addr", "127.0.0.1:0"})
	assert.NoError(t, root.ExecuteContext(ctx))
}

func TestServe_TokenEnvMustBeSet(t *testing.T) {
	t.Setenv("CERTENGINE_TEST_TOKEN", "")
	root := newRootCmd()
	root.SetArgs([]string{"serve", "--addr", "127.0.0.1:0", "--token-env", "CERTENGINE_TEST_TOKEN"})
	assert.ErrorContains(t, root.Execute(), "CERTENGINE_TEST_TOKEN is empty")
}
