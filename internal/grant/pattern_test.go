package grant

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsPattern(t *testing.T) {
	assert.False(t, IsPattern("aws s3 ls"))
	assert.True(t, IsPattern("aws s3 ls s3://*"))
	assert.True(t, IsPattern("aws ec2 describe-instances --instance-ids {uuid}"))
}

func TestMatchesExact(t *testing.T) {
	assert.True(t, Matches("aws s3 ls", "aws s3 ls"))
	assert.False(t, Matches("aws s3 ls", "aws s3 ls s3://bucket"))
}

func TestMatchesWildcardBucket(t *testing.T) {
	assert.True(t, Matches("aws s3 ls s3://{bucket}/*", "aws s3 ls s3://my-bucket/some/key"))
}

func TestMatchesDoubleStarCrossesSpaces(t *testing.T) {
	assert.True(t, Matches("aws s3 cp s3://bucket/** s3://other/**", "aws s3 cp s3://bucket/a/b/c s3://other/x/y/z"))
	assert.True(t, Matches("aws s3 cp ** s3://other/x", "aws s3 cp --recursive s3://bucket/a s3://other/x"))
}

func TestMatchesUUIDPlaceholder(t *testing.T) {
	pattern := "aws ec2 describe-instances --instance-ids i-{uuid}"
	cmd := "aws ec2 describe-instances --instance-ids i-12345678-1234-1234-1234-123456789012"
	assert.True(t, Matches(pattern, cmd))
}

func TestMatchesDatePlaceholder(t *testing.T) {
	assert.True(t, Matches("aws logs get-log-events --start-date {date}", "aws logs get-log-events --start-date 2026-08-01"))
	assert.False(t, Matches("aws logs get-log-events --start-date {date}", "aws logs get-log-events --start-date not-a-date"))
}

func TestMatchAnyPrefersExact(t *testing.T) {
	granted := []string{"aws s3 ls s3://*", "aws s3 ls s3://exact-bucket"}
	matched, ok := MatchAny(granted, "aws s3 ls s3://exact-bucket")
	assert.True(t, ok)
	assert.Equal(t, "aws s3 ls s3://exact-bucket", matched)
}

func TestMatchAnyFallsBackToPattern(t *testing.T) {
	granted := []string{"aws s3 ls s3://*"}
	matched, ok := MatchAny(granted, "aws s3 ls s3://some-other-bucket")
	assert.True(t, ok)
	assert.Equal(t, "aws s3 ls s3://*", matched)
}

func TestMatchAnyNoMatch(t *testing.T) {
	_, ok := MatchAny([]string{"aws s3 ls s3://specific"}, "aws ec2 terminate-instances --instance-ids i-1")
	assert.False(t, ok)
}
