package help

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLookupKnownOperation(t *testing.T) {
	op, wf, similar := Lookup("aws s3 cp s3://a/x s3://b/x")
	require.NotNil(t, op)
	assert.Nil(t, wf)
	assert.Empty(t, similar)
	assert.Equal(t, "s3", op.Service)
	assert.Equal(t, "cp", op.Action)
}

func TestLookupBouncerWorkflow(t *testing.T) {
	op, wf, _ := Lookup("bouncer batch-deploy")
	assert.Nil(t, op)
	require.NotNil(t, wf)
	assert.Equal(t, "batch-deploy", wf.Name)
	assert.NotEmpty(t, wf.Steps)
}

func TestLookupUnknownOperationReturnsSimilar(t *testing.T) {
	op, wf, similar := Lookup("aws s3 nonexistent-action")
	assert.Nil(t, op)
	assert.Nil(t, wf)
	assert.NotEmpty(t, similar)
	for _, s := range similar {
		assert.True(t, strings.HasPrefix(s, "s3 "))
	}
}

func TestFormatTextRendersOperation(t *testing.T) {
	op, _, _ := Lookup("aws iam create-user --user-name evil")
	text := FormatText(op, nil, nil, "aws iam create-user")
	assert.Contains(t, text, "--user-name (required)")
}

func TestFormatTextRendersNotFoundWithSimilar(t *testing.T) {
	_, _, similar := Lookup("aws ec2 bogus-action")
	text := FormatText(nil, nil, similar, "aws ec2 bogus-action")
	assert.Contains(t, text, "no documentation found")
}

func TestServiceOperationsListsOnlyThatService(t *testing.T) {
	ops := ServiceOperations("ec2")
	for _, o := range ops {
		assert.True(t, strings.HasPrefix(o, "ec2 "))
	}
	assert.NotEmpty(t, ops)
}
