package risk

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestScoreSafeReadIsLowRisk(t *testing.T) {
	s := New(nil, nil)
	r := s.Score("aws ec2 describe-instances", "routine check of instance health", "agent-1", "111111111111", "111111111111")
	assert.LessOrEqual(t, r.Score, 45)
}

func TestScoreDestructiveIsHighRisk(t *testing.T) {
	s := New(nil, nil)
	r := s.Score("aws ec2 terminate-instances --instance-ids i-0123456789abcdef0", "", "agent-1", "111111111111", "111111111111")
	assert.GreaterOrEqual(t, r.Score, 46)
	assert.LessOrEqual(t, len(r.Factors), 5)
}

func TestScoreCrossAccountAddsFactor(t *testing.T) {
	s := New(nil, nil)
	r := s.Score("aws ec2 describe-instances", "routine check of instance health", "agent-1", "222222222222", "111111111111")
	found := false
	for _, f := range r.Factors {
		if f.Name == "cross_account" {
			found = true
		}
	}
	assert.True(t, found)
}

func TestScoreSafeRecoversFromPanic(t *testing.T) {
	s := New(nil, panickingAnalyzer{})
	r := s.ScoreSafe("aws ec2 terminate-instances --instance-ids i-0123456789abcdef0", "", "agent-1", "", "")
	assert.Equal(t, CategoryManual, r.Category)
	assert.Equal(t, 70, r.Score)
}

type panickingAnalyzer struct{}

func (panickingAnalyzer) Adjust(source, cmd, verbKind string, baseScore float64) (float64, string) {
	panic("boom")
}

func TestCategoryBands(t *testing.T) {
	assert.Equal(t, CategoryAutoApprove, categoryFor(0))
	assert.Equal(t, CategoryAutoApprove, categoryFor(25))
	assert.Equal(t, CategoryLog, categoryFor(26))
	assert.Equal(t, CategoryConfirm, categoryFor(46))
	assert.Equal(t, CategoryManual, categoryFor(66))
	assert.Equal(t, CategoryBlock, categoryFor(86))
	assert.Equal(t, CategoryBlock, categoryFor(100))
}
