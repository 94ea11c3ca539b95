package compliance

import (
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCheckNoViolation(t *testing.T) {
	c := New(nil)
	ok, v := c.Check("aws ec2 describe-instances")
	assert.True(t, ok)
	assert.Nil(t, v)
}

func TestCheckPrincipalWildcard(t *testing.T) {
	c := New(nil)
	ok, v := c.Check(`aws iam put-role-policy --policy-document {"Statement":[{"Principal":"*"}]}`)
	assert.False(t, ok)
	require.NotNil(t, v)
	assert.Equal(t, "IAM-001", v.RuleID)
}

func TestCheckFirstMatchWins(t *testing.T) {
	rules := []Rule{
		{ID: "A", Pattern: regexp.MustCompile(`foo`)},
		{ID: "B", Pattern: regexp.MustCompile(`foo`)},
	}
	c := New(rules)
	_, v := c.Check("foo bar")
	assert.Equal(t, "A", v.RuleID)
}
