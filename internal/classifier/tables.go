package classifier

// Default classifier tables. Real deployments override these via
// ClassifierConfig's file paths; these defaults exist so a fresh checkout
// behaves sanely with no external configuration and so tests have a known
// baseline to assert against. Table *contents* are data, not design — see
// §1's non-goals.
var (
	// ── Safe read-only prefixes ──
	defaultSafePrefixes = []string{
		"aws ec2 describe-",
		"aws s3 ls",
		"aws s3api list-",
		"aws s3api get-bucket-",
		"aws iam list-",
		"aws iam get-",
		"aws lambda list-",
		"aws lambda get-function",
		"aws cloudformation describe-",
		"aws cloudformation list-",
		"aws logs describe-",
		"aws logs get-log-events",
		"aws sts get-caller-identity",
		"aws rds describe-",
		"aws dynamodb describe-",
		"aws dynamodb list-",
		"aws dynamodb get-item",
		"aws dynamodb query",
		"aws dynamodb scan",
		"aws cloudwatch describe-",
		"aws cloudwatch get-metric-",
		"aws sqs get-queue-",
		"aws sns list-",
		"aws ecs describe-",
		"aws ecs list-",
		"aws eks describe-",
		"aws eks list-",
	}

	// ── Hard-blocked substrings ──
	// Commands that create, delete, or escalate identity and must never
	// reach the agent without a human veto path upstream of chat approval.
	defaultBlockedPatterns = []string{
		"aws iam create-user",
		"aws iam create-access-key",
		"aws iam attach-user-policy",
		"aws iam put-user-policy",
		"aws iam create-login-profile",
		"aws iam delete-account-password-policy",
		"aws organizations leave-organization",
		"aws organizations close-account",
		"aws account close-account",
	}

	// ── Dangerous (stricter-approval-UX) substrings ──
	// Orthogonal to blocked: these still reach chat approval, but the
	// prompt never offers "Approve + Trust". This list is separate from the
	// trust-exclusion table: with the defaults, "aws s3 rb", "aws s3 rm" and
	// "aws ec2 authorize-security-group-" are dangerous but not
	// trust-excluded.
	defaultDangerousPatterns = []string{
		"aws iam delete-",
		"aws iam update-assume-role-policy",
		"aws ec2 terminate-instances",
		"aws ec2 delete-vpc",
		"aws rds delete-db-instance",
		"aws rds delete-db-cluster",
		"aws dynamodb delete-table",
		"aws s3 rb",
		"aws s3 rm s3://",
		"aws kms schedule-key-deletion",
		"aws kms disable-key",
		"aws cloudformation delete-stack",
		"aws ec2 revoke-security-group-",
		"aws ec2 authorize-security-group-",
	}

	defaultTrustExclusions = TrustExclusions{
		Services: []string{"iam", "organizations", "kms", "account"},
		Verbs:    []string{"delete-", "terminate-", "revoke-", "disable-", "schedule-key-deletion"},
		Flags:    []string{"--with-decryption", "--force"},
	}
)
